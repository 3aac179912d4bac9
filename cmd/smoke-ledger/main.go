// Command smoke-ledger checks that configured ledger nodes answer the calls
// the gateway depends on, and that a transaction can be prepared and signed
// against the live head block. Nothing is broadcast.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"hivegate.org/internal/auth"
	"hivegate.org/internal/gate"
	"hivegate.org/internal/hive"
	"hivegate.org/internal/ledger"
	"hivegate.org/internal/ledger/remote"
	"hivegate.org/internal/ops"
	"hivegate.org/internal/relay"
)

const maxHeadAge = 2 * time.Minute

func main() {
	log.SetFlags(0)
	var (
		nodes   = pflag.StringSlice("nodes", splitEnv("HIVEGATE_LEDGER_NODES"), "ledger node URLs, tried in order")
		account = pflag.String("account", "hiveio", "account to look up and vote as in the dry run")
		testnet = pflag.Bool("testnet", false, "sign for the testnet chain id")
		timeout = pflag.Duration("timeout", 10*time.Second, "overall deadline")
	)
	pflag.Parse()
	if len(*nodes) == 0 {
		*nodes = []string{"https://api.hive.blog"}
	}

	client, err := remote.New(*nodes, remote.WithCallTimeout(*timeout))
	if err != nil {
		log.Fatalf("nodes: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	props, err := client.GetDynamicGlobalProperties(ctx)
	if err != nil {
		log.Fatalf("get_dynamic_global_properties: %v", err)
	}
	if age := time.Since(props.Time.Time); age > maxHeadAge {
		log.Fatalf("head block %d is %s old", props.HeadBlockNumber, age.Round(time.Second))
	}
	fmt.Printf("node %s: head block %d at %s\n", client.CurrentAddress(), props.HeadBlockNumber, props.Time.Format(time.RFC3339))

	acc, err := ledger.GetAccount(ctx, client, *account)
	if err != nil {
		log.Fatalf("get_accounts: %v", err)
	}
	fmt.Printf("@%s posting keys: %s\n", acc.Name, strings.Join(acc.Posting.Keys(), ", "))

	chain := hive.Mainnet()
	if *testnet {
		chain = hive.Testnet()
	}
	key, err := hive.GeneratePrivateKey()
	if err != nil {
		log.Fatalf("generate key: %v", err)
	}
	rl, err := relay.New(client, hive.SignerFromKey(key), chain)
	if err != nil {
		log.Fatalf("relay: %v", err)
	}
	vote, err := ops.New(ops.Vote, map[string]any{"voter": acc.Name, "author": acc.Name, "permlink": "smoke", "weight": 0})
	if err != nil {
		log.Fatalf("build vote: %v", err)
	}
	approved, err := gate.New(ops.Registry()).Authorize(auth.Identity{User: acc.Name, App: "smoke-ledger"}, ops.Batch{vote})
	if err != nil {
		log.Fatalf("authorize: %v", err)
	}
	tx, err := rl.Prepare(ctx, approved)
	if err != nil {
		log.Fatalf("prepare: %v", err)
	}
	id, err := tx.ID(chain)
	if err != nil {
		log.Fatalf("transaction id: %v", err)
	}
	out, _ := json.MarshalIndent(tx, "", "  ")
	fmt.Printf("dry-run transaction %s (not broadcast):\n%s\n", id, out)
	fmt.Println("ledger smoke test passed")
}

func splitEnv(name string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(name), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
