package hive

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"hivegate.org/internal/ops"
)

// TimeLayout is the ledger's timestamp format: UTC without a zone suffix.
const TimeLayout = "2006-01-02T15:04:05"

const (
	// MainnetChainID identifies the production network.
	MainnetChainID = "beeab0de00000000000000000000000000000000000000000000000000000000"
	// TestnetChainID identifies the public test network.
	TestnetChainID = "18dcf0a285365fc58b71f18b3d3fec954aa0c141c44e4e5cb4cf777b9eab274e"
)

// Chain selects the network a transaction is signed for.
type Chain struct {
	ID            [32]byte
	AddressPrefix string
	Testnet       bool
}

// Mainnet returns the production chain parameters.
func Mainnet() Chain {
	c, _ := NewChain(MainnetChainID)
	return c
}

// Testnet returns the public test network parameters.
func Testnet() Chain {
	c, _ := NewChain(TestnetChainID)
	return c
}

// NewChain builds chain parameters from a hex chain id. Any id other
// than mainnet's is treated as a test network.
func NewChain(idHex string) (Chain, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(idHex))
	if err != nil || len(raw) != 32 {
		return Chain{}, fmt.Errorf("hive: chain id must be 32 hex bytes")
	}
	var c Chain
	copy(c.ID[:], raw)
	c.Testnet = strings.TrimSpace(idHex) != MainnetChainID
	c.AddressPrefix = AddressPrefix
	if c.Testnet {
		c.AddressPrefix = TestnetAddressPrefix
	}
	return c, nil
}

// Time is a second-precision UTC timestamp in the ledger's layout.
type Time struct {
	time.Time
}

// NewTime truncates t to whole seconds in UTC.
func NewTime(t time.Time) Time { return Time{t.UTC().Truncate(time.Second)} }

func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(TimeLayout))
}

func (t *Time) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.ParseInLocation(TimeLayout, strings.TrimSuffix(s, "Z"), time.UTC)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// Transaction is an unsigned or signed ledger transaction.
type Transaction struct {
	RefBlockNum    uint16            `json:"ref_block_num"`
	RefBlockPrefix uint32            `json:"ref_block_prefix"`
	Expiration     Time              `json:"expiration"`
	Operations     ops.Batch         `json:"operations"`
	Extensions     []json.RawMessage `json:"extensions"`
	Signatures     []string          `json:"signatures"`
}

// MarshalJSON writes empty arrays rather than null, which nodes reject.
func (tx Transaction) MarshalJSON() ([]byte, error) {
	type plain Transaction
	out := plain(tx)
	if out.Operations == nil {
		out.Operations = ops.Batch{}
	}
	if out.Extensions == nil {
		out.Extensions = []json.RawMessage{}
	}
	if out.Signatures == nil {
		out.Signatures = []string{}
	}
	return json.Marshal(out)
}

// ErrInvalidBlockID indicates a head block id that is not 20 hex bytes.
var ErrInvalidBlockID = errors.New("hive: invalid block id")

// SetReference points the transaction at a recent block, which bounds the
// fork it can be included in.
func (tx *Transaction) SetReference(headBlockNumber uint32, headBlockID string) error {
	id, err := hex.DecodeString(headBlockID)
	if err != nil || len(id) != 20 {
		return fmt.Errorf("%w: %q", ErrInvalidBlockID, headBlockID)
	}
	tx.RefBlockNum = uint16(headBlockNumber & 0xFFFF)
	tx.RefBlockPrefix = binary.LittleEndian.Uint32(id[4:8])
	return nil
}

// Serialize encodes the signed part of the transaction.
func (tx *Transaction) Serialize(chain Chain) ([]byte, error) {
	if len(tx.Extensions) > 0 {
		return nil, errors.New("hive: transaction extensions are not supported")
	}
	var e encoder
	e.uint16(tx.RefBlockNum)
	e.uint32(tx.RefBlockPrefix)
	e.uint32(uint32(tx.Expiration.Unix()))
	e.varint(uint64(len(tx.Operations)))
	for _, op := range tx.Operations {
		if err := e.operation(op, chain); err != nil {
			return nil, err
		}
	}
	e.varint(0)
	return e.bytes(), nil
}

// Digest returns sha256(chain id || serialized transaction), the value
// every signature covers.
func (tx *Transaction) Digest(chain Chain) ([32]byte, error) {
	body, err := tx.Serialize(chain)
	if err != nil {
		return [32]byte{}, err
	}
	h := sha256.New()
	h.Write(chain.ID[:])
	h.Write(body)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// ID returns the transaction id: the first 20 bytes of sha256 over the
// serialized body, hex encoded.
func (tx *Transaction) ID(chain Chain) (string, error) {
	body, err := tx.Serialize(chain)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:20]), nil
}
