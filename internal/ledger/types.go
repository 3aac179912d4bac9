// Package ledger holds the node-facing types the gateway reads and submits.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"hivegate.org/internal/hive"
)

var (
	ErrNotFound    = errors.New("ledger: not found")
	ErrUnavailable = errors.New("ledger: no node reachable")
)

// RPCError is a failure reported by the node itself, such as a rejected
// transaction. It is surfaced to callers verbatim.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("ledger rpc error %d: %s", e.Code, e.Message)
}

// DynamicGlobalProperties is the subset of chain state needed to build a
// transaction.
type DynamicGlobalProperties struct {
	HeadBlockNumber          uint32    `json:"head_block_number"`
	HeadBlockID              string    `json:"head_block_id"`
	Time                     hive.Time `json:"time"`
	LastIrreversibleBlockNum uint32    `json:"last_irreversible_block_num"`
}

// KeyWeight is one [key, weight] entry of an authority.
type KeyWeight struct {
	Key    string
	Weight uint16
}

func (k *KeyWeight) UnmarshalJSON(b []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil || len(pair) != 2 {
		return fmt.Errorf("ledger: key weight must be [key, weight]")
	}
	if err := json.Unmarshal(pair[0], &k.Key); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &k.Weight)
}

func (k KeyWeight) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{k.Key, k.Weight})
}

// Authority is a weighted set of keys (and accounts) that can sign for an
// account at one permission level.
type Authority struct {
	WeightThreshold uint32            `json:"weight_threshold"`
	AccountAuths    []json.RawMessage `json:"account_auths"`
	KeyAuths        []KeyWeight       `json:"key_auths"`
}

// Keys lists the public keys of the authority.
func (a Authority) Keys() []string {
	out := make([]string, 0, len(a.KeyAuths))
	for _, k := range a.KeyAuths {
		out = append(out, k.Key)
	}
	return out
}

// Account is an account record as the node returns it. Raw keeps the full
// record so it can be echoed back without loss.
type Account struct {
	ID                  int64     `json:"id"`
	Name                string    `json:"name"`
	Owner               Authority `json:"owner"`
	Active              Authority `json:"active"`
	Posting             Authority `json:"posting"`
	MemoKey             string    `json:"memo_key"`
	JSONMetadata        string    `json:"json_metadata"`
	PostingJSONMetadata string    `json:"posting_json_metadata"`

	Raw json.RawMessage `json:"-"`
}

func (a *Account) UnmarshalJSON(b []byte) error {
	type plain Account
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*a = Account(p)
	a.Raw = append(json.RawMessage(nil), b...)
	return nil
}

func (a Account) MarshalJSON() ([]byte, error) {
	if len(a.Raw) > 0 {
		return a.Raw, nil
	}
	type plain Account
	return json.Marshal(plain(a))
}

// Receipt is the node's answer to a synchronous broadcast.
type Receipt struct {
	ID       string `json:"id"`
	BlockNum uint32 `json:"block_num"`
	TrxNum   uint32 `json:"trx_num"`
	Expired  bool   `json:"expired"`
}

// Node is the read and submit surface of a ledger node.
type Node interface {
	GetDynamicGlobalProperties(ctx context.Context) (DynamicGlobalProperties, error)
	GetAccounts(ctx context.Context, names []string) ([]Account, error)
	BroadcastTransaction(ctx context.Context, tx hive.Transaction) (Receipt, error)
}

// GetAccount fetches a single account, returning ErrNotFound when the node
// has no record of it.
func GetAccount(ctx context.Context, node Node, name string) (Account, error) {
	accounts, err := node.GetAccounts(ctx, []string{name})
	if err != nil {
		return Account{}, err
	}
	for _, a := range accounts {
		if a.Name == name {
			return a, nil
		}
	}
	return Account{}, fmt.Errorf("%w: account %s", ErrNotFound, name)
}

// PostingKeys resolves the keys holding posting authority over accounts.
type PostingKeys struct {
	Node Node
}

func (p PostingKeys) PostingKeys(ctx context.Context, account string) ([]string, error) {
	acc, err := GetAccount(ctx, p.Node, account)
	if err != nil {
		return nil, err
	}
	return acc.Posting.Keys(), nil
}
