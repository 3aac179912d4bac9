// Package relay turns approved batches into signed transactions and
// submits them to a ledger node.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hivegate.org/internal/gate"
	"hivegate.org/internal/hive"
	"hivegate.org/internal/ledger"
)

// DefaultExpiration is how far past the head block time a transaction
// stays valid.
const DefaultExpiration = 60 * time.Second

var (
	// ErrNotApproved is returned for batches that did not come from a
	// successful gate decision.
	ErrNotApproved = errors.New("relay: batch was not approved")
	// ErrPrepare wraps failures building or signing the transaction.
	ErrPrepare = errors.New("relay: prepare transaction")
)

// Relay holds the broadcaster signing capability. It never exposes the
// key; only the public half is reachable through Signer().PublicKey().
type Relay struct {
	node       ledger.Node
	signer     hive.Signer
	chain      hive.Chain
	expiration time.Duration
}

// Option configures a Relay.
type Option func(*Relay)

// WithExpiration sets the transaction lifetime. Non-positive values keep
// the default.
func WithExpiration(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.expiration = d
		}
	}
}

// New creates a relay submitting to node, signing for chain.
func New(node ledger.Node, signer hive.Signer, chain hive.Chain, opts ...Option) (*Relay, error) {
	if node == nil {
		return nil, errors.New("relay: node is required")
	}
	if signer == nil {
		return nil, errors.New("relay: signer is required")
	}
	r := &Relay{node: node, signer: signer, chain: chain, expiration: DefaultExpiration}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// PublicKey is the broadcaster's public key.
func (r *Relay) PublicKey() hive.PublicKey { return r.signer.PublicKey() }

// Chain is the chain transactions are signed for.
func (r *Relay) Chain() hive.Chain { return r.chain }

// Prepare builds and signs a transaction for the approved batch without
// submitting it.
func (r *Relay) Prepare(ctx context.Context, approved gate.Approved) (hive.Transaction, error) {
	if !approved.Valid() {
		return hive.Transaction{}, ErrNotApproved
	}
	props, err := r.node.GetDynamicGlobalProperties(ctx)
	if err != nil {
		return hive.Transaction{}, err
	}
	tx := hive.Transaction{
		Expiration: hive.NewTime(props.Time.Add(r.expiration)),
		Operations: approved.Batch(),
	}
	if err := tx.SetReference(props.HeadBlockNumber, props.HeadBlockID); err != nil {
		return hive.Transaction{}, fmt.Errorf("%w: %v", ErrPrepare, err)
	}
	if err := hive.SignTransaction(&tx, r.chain, r.signer); err != nil {
		return hive.Transaction{}, fmt.Errorf("%w: %w", ErrPrepare, err)
	}
	return tx, nil
}

// Broadcast signs and submits the approved batch exactly once. Submission
// failures are returned as the node reported them and never retried, since
// a timed-out submission may still have been included.
func (r *Relay) Broadcast(ctx context.Context, approved gate.Approved) (ledger.Receipt, error) {
	tx, err := r.Prepare(ctx, approved)
	if err != nil {
		return ledger.Receipt{}, err
	}
	return r.node.BroadcastTransaction(ctx, tx)
}
