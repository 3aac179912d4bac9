package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"hivegate.org/internal/hive"
)

// InMemory is a Node that keeps accounts and accepted transactions in
// process. It backs local development and tests; it applies no chain rules
// beyond checking that a transaction carries a signature and has not expired.
type InMemory struct {
	mu       sync.RWMutex
	now      func() time.Time
	head     uint32
	accounts map[string]Account
	txs      []hive.Transaction
	fail     error
}

// NewInMemory creates a node whose head block starts at 1.
func NewInMemory() *InMemory {
	return &InMemory{
		now:      func() time.Time { return time.Now().UTC() },
		head:     1,
		accounts: make(map[string]Account),
	}
}

// SetClock overrides the node's notion of time.
func (s *InMemory) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// FailWith makes every subsequent broadcast return err. Nil clears it.
func (s *InMemory) FailWith(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

// PutAccount registers an account. Posting keys listed become the posting
// authority with weight 1 each.
func (s *InMemory) PutAccount(name string, postingKeys ...string) Account {
	acc := Account{
		Name:    name,
		Posting: Authority{WeightThreshold: 1},
	}
	for _, k := range postingKeys {
		acc.Posting.KeyAuths = append(acc.Posting.KeyAuths, KeyWeight{Key: k, Weight: 1})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acc.ID = int64(len(s.accounts) + 1)
	s.accounts[name] = acc
	return acc
}

func (s *InMemory) GetDynamicGlobalProperties(ctx context.Context) (DynamicGlobalProperties, error) {
	if err := ctx.Err(); err != nil {
		return DynamicGlobalProperties{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return DynamicGlobalProperties{
		HeadBlockNumber:          s.head,
		HeadBlockID:              blockID(s.head),
		Time:                     hive.NewTime(s.now()),
		LastIrreversibleBlockNum: s.head,
	}, nil
}

func (s *InMemory) GetAccounts(ctx context.Context, names []string) ([]Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Account, 0, len(names))
	for _, n := range names {
		if acc, ok := s.accounts[n]; ok {
			out = append(out, acc)
		}
	}
	return out, nil
}

func (s *InMemory) BroadcastTransaction(ctx context.Context, tx hive.Transaction) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return Receipt{}, s.fail
	}
	if len(tx.Signatures) == 0 {
		return Receipt{}, &RPCError{Code: -32000, Message: "missing required posting authority"}
	}
	if !tx.Expiration.After(s.now()) {
		return Receipt{}, &RPCError{Code: -32000, Message: "transaction expiration is in the past"}
	}
	raw, err := json.Marshal(tx)
	if err != nil {
		return Receipt{}, fmt.Errorf("ledger: encode transaction: %w", err)
	}
	sum := sha256.Sum256(raw)
	s.head++
	s.txs = append(s.txs, tx)
	return Receipt{
		ID:       hex.EncodeToString(sum[:20]),
		BlockNum: s.head,
		TrxNum:   0,
	}, nil
}

// Transactions returns the transactions accepted so far, oldest first.
func (s *InMemory) Transactions() []hive.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]hive.Transaction(nil), s.txs...)
}

// blockID fabricates a 20-byte block id whose first four bytes encode num
// big-endian, as real block ids do.
func blockID(num uint32) string {
	var id [20]byte
	id[0], id[1], id[2], id[3] = byte(num>>24), byte(num>>16), byte(num>>8), byte(num)
	sum := sha256.Sum256(id[:4])
	copy(id[4:], sum[:16])
	return hex.EncodeToString(id[:])
}
