// Package remote talks to ledger nodes over JSON-RPC 2.0.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"hivegate.org/internal/audit"
	"hivegate.org/internal/hive"
	"hivegate.org/internal/ledger"
)

const (
	defaultTimeout = 10 * time.Second
	maxResponse    = 8 << 20
)

var ErrNoNodes = errors.New("remote: at least one node address is required")

// Client is a ledger.Node backed by an ordered list of node URLs. A node
// that fails at the transport level is skipped in favour of the next one,
// which then stays current for later calls.
type Client struct {
	nodes   []string
	http    *http.Client
	timeout time.Duration

	mu      sync.Mutex
	current int
	nextID  atomic.Uint64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithCallTimeout bounds every node call, failover attempts included.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New creates a client for the given node URLs, tried in order.
func New(nodes []string, opts ...Option) (*Client, error) {
	var clean []string
	for _, n := range nodes {
		if n = strings.TrimSpace(n); n != "" {
			clean = append(clean, n)
		}
	}
	if len(clean) == 0 {
		return nil, ErrNoNodes
	}
	c := &Client{
		nodes:   clean,
		http:    &http.Client{},
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CurrentAddress is the node the next call goes to first.
func (c *Client) CurrentAddress() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodes[c.current]
}

func (c *Client) GetDynamicGlobalProperties(ctx context.Context) (ledger.DynamicGlobalProperties, error) {
	var out ledger.DynamicGlobalProperties
	err := c.call(ctx, "condenser_api.get_dynamic_global_properties", []any{}, &out)
	return out, err
}

func (c *Client) GetAccounts(ctx context.Context, names []string) ([]ledger.Account, error) {
	var out []ledger.Account
	if err := c.call(ctx, "condenser_api.get_accounts", []any{names}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) BroadcastTransaction(ctx context.Context, tx hive.Transaction) (ledger.Receipt, error) {
	var out ledger.Receipt
	err := c.call(ctx, "condenser_api.broadcast_transaction_synchronous", []any{tx}, &out)
	return out, err
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type response struct {
	ID     uint64           `json:"id"`
	Result json.RawMessage  `json:"result"`
	Error  *ledger.RPCError `json:"error"`
}

// transportError marks failures that justify trying the next node.
type transportError struct {
	node string
	err  error
}

func (e *transportError) Error() string { return fmt.Sprintf("%s: %v", e.node, e.err) }
func (e *transportError) Unwrap() error { return e.err }

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	ctx, cancel := WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(request{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("remote: encode %s: %w", method, err)
	}

	c.mu.Lock()
	start := c.current
	c.mu.Unlock()

	var lastErr error
	for i := 0; i < len(c.nodes); i++ {
		idx := (start + i) % len(c.nodes)
		result, err := c.post(ctx, c.nodes[idx], body)
		var te *transportError
		if errors.As(err, &te) {
			lastErr = err
			if ctx.Err() != nil {
				return fmt.Errorf("remote: %s: %w", method, ctx.Err())
			}
			c.advance(idx)
			continue
		}
		if err != nil {
			return err
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(result, out); err != nil {
			return fmt.Errorf("remote: decode %s result: %w", method, err)
		}
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ledger.ErrUnavailable, method, lastErr)
}

// advance moves the current node past failed, unless another call already did.
func (c *Client) advance(failed int) {
	c.mu.Lock()
	if c.current == failed {
		c.current = (failed + 1) % len(c.nodes)
	}
	c.mu.Unlock()
}

func (c *Client) post(ctx context.Context, node string, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, node, bytes.NewReader(body))
	if err != nil {
		return nil, &transportError{node: node, err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if rid := audit.RequestIDFromContext(ctx); rid != "" {
		req.Header.Set("X-Request-ID", rid)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &transportError{node: node, err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return nil, &transportError{node: node, err: err}
	}
	var rpc response
	if err := json.Unmarshal(raw, &rpc); err != nil {
		return nil, &transportError{node: node, err: fmt.Errorf("status %d: undecodable response", resp.StatusCode)}
	}
	if rpc.Error != nil {
		return nil, rpc.Error
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &transportError{node: node, err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return rpc.Result, nil
}

// WithTimeout returns a context bounded by d, falling back to a default
// when d is not positive.
func WithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = defaultTimeout
	}
	return context.WithTimeout(parent, d)
}
