// Command keytool is an offline helper for operators and local testing:
// it derives public keys, mints login assertions and hashes client secrets.
package main

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"hivegate.org/internal/auth"
	"hivegate.org/internal/hive"
)

const envWIF = "HIVEGATE_KEYTOOL_WIF"

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
	}
	var err error
	switch os.Args[1] {
	case "genkey":
		err = runGenKey(os.Args[2:])
	case "pubkey":
		err = runPubKey(os.Args[2:])
	case "login":
		err = runLogin(os.Args[2:])
	case "hash-secret":
		err = runHashSecret(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: keytool <command> [flags]

commands:
  genkey        generate a private key, print WIF and public key
  pubkey        print the public key of a WIF (stdin or $`+envWIF+`)
  login         sign a login assertion for --user and --app
  hash-secret   bcrypt a client secret read from stdin for apps[].secret_hash`)
	os.Exit(2)
}

func runGenKey(args []string) error {
	fs := pflag.NewFlagSet("genkey", pflag.ExitOnError)
	testnet := fs.Bool("testnet", false, "use the testnet address prefix")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := hive.GeneratePrivateKey()
	if err != nil {
		return err
	}
	fmt.Println("wif:       ", key.WIF())
	fmt.Println("public key:", key.PublicKey().Encode(prefix(*testnet)))
	return nil
}

func runPubKey(args []string) error {
	fs := pflag.NewFlagSet("pubkey", pflag.ExitOnError)
	testnet := fs.Bool("testnet", false, "use the testnet address prefix")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := readKey(os.Stdin)
	if err != nil {
		return err
	}
	fmt.Println(key.PublicKey().Encode(prefix(*testnet)))
	return nil
}

func runLogin(args []string) error {
	fs := pflag.NewFlagSet("login", pflag.ExitOnError)
	user := fs.String("user", "", "account signing the login")
	app := fs.String("app", "", "app the login is for (client_id)")
	at := fs.Int64("timestamp", 0, "unix timestamp to sign (default now)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*user) == "" || strings.TrimSpace(*app) == "" {
		return fmt.Errorf("--user and --app are required")
	}
	key, err := readKey(os.Stdin)
	if err != nil {
		return err
	}
	ts := *at
	if ts == 0 {
		ts = time.Now().Unix()
	}
	a := auth.Assertion{
		SignedMessage: auth.AssertionMessage{Type: "login", App: *app},
		Authors:       []string{*user},
		Timestamp:     ts,
	}
	if err := a.Sign(hive.SignerFromKey(key)); err != nil {
		return err
	}
	raw, err := a.Encode()
	if err != nil {
		return err
	}
	fmt.Println(raw)
	return nil
}

func runHashSecret(args []string) error {
	fs := pflag.NewFlagSet("hash-secret", pflag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	secret, err := firstLine(os.Stdin)
	if err != nil {
		return err
	}
	hash, err := auth.HashSecret(secret)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

// readKey takes the WIF from the environment, else the first stdin line.
// Keys are never read from flags.
func readKey(stdin io.Reader) (*hive.PrivateKey, error) {
	wif := strings.TrimSpace(os.Getenv(envWIF))
	if wif == "" {
		var err error
		if wif, err = firstLine(stdin); err != nil {
			return nil, err
		}
	}
	return hive.ParseWIF(wif)
}

func firstLine(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("no input on stdin")
	}
	line := strings.TrimSpace(sc.Text())
	if line == "" {
		return "", fmt.Errorf("empty input")
	}
	return line, nil
}

func prefix(testnet bool) string {
	if testnet {
		return hive.TestnetAddressPrefix
	}
	return hive.AddressPrefix
}
