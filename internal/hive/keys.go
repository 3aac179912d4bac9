// Package hive implements the ledger's key encodings, compact signatures
// and the binary transaction format used to compute signing digests.
package hive

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // the ledger's key checksum is ripemd160
)

const (
	// AddressPrefix is the mainnet public key prefix.
	AddressPrefix = "STM"
	// TestnetAddressPrefix is the public key prefix on test networks.
	TestnetAddressPrefix = "TST"

	wifVersion = 0x80
)

var (
	// ErrInvalidWIF indicates a malformed or mis-checksummed private key.
	ErrInvalidWIF = errors.New("hive: invalid WIF private key")
	// ErrInvalidPublicKey indicates a malformed or mis-checksummed public key.
	ErrInvalidPublicKey = errors.New("hive: invalid public key")
)

// PrivateKey is a secp256k1 signing key. Its formatting methods never
// reveal key material.
type PrivateKey struct {
	key *btcec.PrivateKey
}

// ParseWIF decodes a wallet-import-format private key.
func ParseWIF(wif string) (*PrivateKey, error) {
	raw, err := base58.Decode(strings.TrimSpace(wif))
	if err != nil || len(raw) != 37 {
		return nil, ErrInvalidWIF
	}
	if raw[0] != wifVersion {
		return nil, ErrInvalidWIF
	}
	sum := doubleSHA256(raw[:33])
	if !bytes.Equal(sum[:4], raw[33:]) {
		return nil, ErrInvalidWIF
	}
	priv, _ := btcec.PrivKeyFromBytes(raw[1:33])
	return &PrivateKey{key: priv}, nil
}

// NewPrivateKey derives a key from raw 32-byte scalar material.
func NewPrivateKey(raw []byte) (*PrivateKey, error) {
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: want 32 bytes, got %d", ErrInvalidWIF, len(raw))
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return &PrivateKey{key: priv}, nil
}

// GeneratePrivateKey returns a fresh random key.
func GeneratePrivateKey() (*PrivateKey, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: priv}, nil
}

// WIF encodes the key in wallet-import format.
func (k *PrivateKey) WIF() string {
	payload := append([]byte{wifVersion}, k.key.Serialize()...)
	sum := doubleSHA256(payload)
	return base58.Encode(append(payload, sum[:4]...))
}

// PublicKey returns the matching public key.
func (k *PrivateKey) PublicKey() PublicKey {
	return PublicKey{key: k.key.PubKey()}
}

func (k *PrivateKey) String() string   { return "hive.PrivateKey(redacted)" }
func (k *PrivateKey) GoString() string { return k.String() }

// MarshalJSON never emits key material.
func (k *PrivateKey) MarshalJSON() ([]byte, error) { return []byte(`"redacted"`), nil }

// PublicKey is a secp256k1 public key.
type PublicKey struct {
	key *btcec.PublicKey
}

// ParsePublicKey decodes a ledger public key string with either the
// mainnet or testnet prefix.
func ParsePublicKey(s string) (PublicKey, error) {
	s = strings.TrimSpace(s)
	var body string
	switch {
	case strings.HasPrefix(s, AddressPrefix):
		body = s[len(AddressPrefix):]
	case strings.HasPrefix(s, TestnetAddressPrefix):
		body = s[len(TestnetAddressPrefix):]
	default:
		return PublicKey{}, ErrInvalidPublicKey
	}
	raw, err := base58.Decode(body)
	if err != nil || len(raw) != 37 {
		return PublicKey{}, ErrInvalidPublicKey
	}
	if !bytes.Equal(keyChecksum(raw[:33]), raw[33:]) {
		return PublicKey{}, ErrInvalidPublicKey
	}
	pub, err := btcec.ParsePubKey(raw[:33])
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return PublicKey{key: pub}, nil
}

// Bytes returns the 33-byte compressed encoding.
func (p PublicKey) Bytes() []byte {
	if p.key == nil {
		return nil
	}
	return p.key.SerializeCompressed()
}

// IsZero reports whether p holds no key.
func (p PublicKey) IsZero() bool { return p.key == nil }

// Equal compares two keys by value.
func (p PublicKey) Equal(other PublicKey) bool {
	if p.key == nil || other.key == nil {
		return p.key == other.key
	}
	return p.key.IsEqual(other.key)
}

// Encode renders the key with the given address prefix.
func (p PublicKey) Encode(prefix string) string {
	raw := p.Bytes()
	if raw == nil {
		return ""
	}
	return prefix + base58.Encode(append(raw, keyChecksum(raw)...))
}

func (p PublicKey) String() string { return p.Encode(AddressPrefix) }

func keyChecksum(compressed []byte) []byte {
	h := ripemd160.New()
	h.Write(compressed)
	return h.Sum(nil)[:4]
}

func doubleSHA256(b []byte) [32]byte {
	first := sha256.Sum256(b)
	return sha256.Sum256(first[:])
}
