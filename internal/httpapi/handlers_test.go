package httpapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"hivegate.org/internal/apps"
	"hivegate.org/internal/auth"
	"hivegate.org/internal/gate"
	"hivegate.org/internal/hive"
	"hivegate.org/internal/ledger"
	"hivegate.org/internal/obs"
	"hivegate.org/internal/ops"
	"hivegate.org/internal/relay"
)

const testSecret = "test-secret-test-secret-test-secret"

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T

	node     *ledger.InMemory
	auth     *auth.Service
	userKey  *hive.PrivateKey
	relayKey hive.PublicKey
}

func testKey(t *testing.T, seed string) *hive.PrivateKey {
	t.Helper()
	sum := sha256.Sum256([]byte(seed))
	key, err := hive.NewPrivateKey(sum[:])
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()
	return newTestAPIWithNode(t, nil)
}

// newTestAPIWithNode serves the API over an in-memory ledger, optionally
// fronted by override for reads and submissions.
func newTestAPIWithNode(t *testing.T, override ledger.Node) *apiClient {
	t.Helper()
	ctx := context.Background()

	mem := ledger.NewInMemory()
	userKey := testKey(t, "alice-posting")
	mem.PutAccount("alice", userKey.PublicKey().String())
	var node ledger.Node = mem
	if override != nil {
		node = override
	}

	reg := apps.NewRegistry(apps.NewMemory())
	if _, err := reg.Register(ctx, "peakd", ops.Scope{ops.Vote, ops.Comment}, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Register(ctx, "vault", ops.Scope{ops.Vote}, "s3cret"); err != nil {
		t.Fatal(err)
	}

	svc, err := auth.NewService(testSecret,
		auth.WithScopeSource(reg),
		auth.WithSecretChecker(reg),
		auth.WithKeyResolver(ledger.PostingKeys{Node: mem}),
	)
	if err != nil {
		t.Fatal(err)
	}
	signer := hive.SignerFromKey(testKey(t, "broadcaster"))
	rl, err := relay.New(node, signer, hive.Testnet())
	if err != nil {
		t.Fatal(err)
	}

	api, err := New(Deps{
		Auth:    svc,
		Gate:    gate.New(ops.Registry()),
		Relay:   rl,
		Node:    node,
		Version: "test",
	}, WithRateLimit(1000, 1000))
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL:  srv.URL,
		client:   srv.Client(),
		t:        t,
		node:     mem,
		auth:     svc,
		userKey:  userKey,
		relayKey: signer.PublicKey(),
	}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	switch b := body.(type) {
	case nil:
	case string:
		payload = []byte(b)
	default:
		var err error
		payload, err = json.Marshal(b)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) issue(app, user string, kind auth.Kind) string {
	c.t.Helper()
	issued, err := c.auth.Issue(context.Background(), app, user, kind)
	if err != nil {
		c.t.Fatalf("issue %s: %v", kind, err)
	}
	return issued.Token
}

func (c *apiClient) login(user, app string) string {
	c.t.Helper()
	a := auth.Assertion{
		SignedMessage: auth.AssertionMessage{Type: "login", App: app},
		Authors:       []string{user},
		Timestamp:     time.Now().Unix(),
	}
	if err := a.Sign(hive.SignerFromKey(c.userKey)); err != nil {
		c.t.Fatal(err)
	}
	raw, err := a.Encode()
	if err != nil {
		c.t.Fatal(err)
	}
	return raw
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decodeBody(t *testing.T, resp *http.Response, want int) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		t.Fatalf("status = %d, want %d: %s", resp.StatusCode, want, raw)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode body %q: %v", raw, err)
	}
	return out
}

func expectError(t *testing.T, resp *http.Response, status int, kind string) map[string]any {
	t.Helper()
	body := decodeBody(t, resp, status)
	if body["error"] != kind {
		t.Fatalf("error = %v, want %s (%v)", body["error"], kind, body["error_description"])
	}
	return body
}

const voteOp = `["vote",{"voter":"alice","author":"bob","permlink":"hello","weight":10000}]`

func broadcastBody(ops ...string) string {
	return `{"operations":[` + strings.Join(ops, ",") + `]}`
}

func TestBroadcastApproved(t *testing.T) {
	c := newTestAPI(t)
	token := c.issue("peakd", "alice", auth.KindAccess)

	body := decodeBody(t, c.post("/api/broadcast", broadcastBody(voteOp), bearerHeader(token)), http.StatusOK)
	result, ok := body["result"].(map[string]any)
	if !ok || result["block_num"] != float64(2) || len(result["id"].(string)) != 40 {
		t.Fatalf("unexpected result: %v", body)
	}

	txs := c.node.Transactions()
	if len(txs) != 1 || len(txs[0].Signatures) != 1 {
		t.Fatalf("expected one signed transaction, got %+v", txs)
	}
	if got := txs[0].Operations.Types(); len(got) != 1 || got[0] != ops.Vote {
		t.Fatalf("operations = %v", got)
	}
}

func TestBroadcastTokenFromQuery(t *testing.T) {
	c := newTestAPI(t)
	token := c.issue("peakd", "alice", auth.KindAccess)
	decodeBody(t, c.post("/api/broadcast?access_token="+url.QueryEscape(token), broadcastBody(voteOp), nil), http.StatusOK)
}

func TestBroadcastOutOfScope(t *testing.T) {
	c := newTestAPI(t)
	token := c.issue("peakd", "alice", auth.KindAccess)

	transfer := `["transfer",{"from":"alice","to":"bob","amount":"1.000 HIVE","memo":""}]`
	body := expectError(t, c.post("/api/broadcast", broadcastBody(voteOp, transfer), bearerHeader(token)), http.StatusUnauthorized, "invalid_scope")
	if body["error_description"] != "The access_token scope does not allow the following operation(s): transfer" {
		t.Fatalf("description = %v", body["error_description"])
	}
	if n := len(c.node.Transactions()); n != 0 {
		t.Fatalf("rejected batch reached the node: %d", n)
	}
}

func TestBroadcastAuthorMismatch(t *testing.T) {
	c := newTestAPI(t)
	token := c.issue("peakd", "alice", auth.KindAccess)

	carol := `["vote",{"voter":"carol","author":"bob","permlink":"hello","weight":100}]`
	body := expectError(t, c.post("/api/broadcast", broadcastBody(voteOp, carol), bearerHeader(token)), http.StatusUnauthorized, "unauthorized_client")
	if body["error_description"] != "This access_token allow you to broadcast transaction only for the account @alice" {
		t.Fatalf("description = %v", body["error_description"])
	}
	if n := len(c.node.Transactions()); n != 0 {
		t.Fatalf("rejected batch reached the node: %d", n)
	}
}

func TestBroadcastKeyAuthorityChange(t *testing.T) {
	c := newTestAPI(t)
	token := c.issue("unregistered", "alice", auth.KindAccess)

	update := `["account_update2",{"account":"alice","posting":{"weight_threshold":1,"account_auths":[],"key_auths":[]},"json_metadata":"","posting_json_metadata":"","extensions":[]}]`
	expectError(t, c.post("/api/broadcast", broadcastBody(update), bearerHeader(token)), http.StatusUnauthorized, "unauthorized_client")
}

func TestBroadcastMalformed(t *testing.T) {
	c := newTestAPI(t)
	token := c.issue("peakd", "alice", auth.KindAccess)

	cases := map[string]string{
		"not json":      `{"operations":`,
		"short op":      `{"operations":[["vote"]]}`,
		"no operations": `{}`,
		"missing voter": broadcastBody(`["vote",{"author":"bob","permlink":"p","weight":1}]`),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			expectError(t, c.post("/api/broadcast", body, bearerHeader(token)), http.StatusBadRequest, "invalid_request")
		})
	}
}

func TestBroadcastUnencodablePayload(t *testing.T) {
	c := newTestAPI(t)
	token := c.issue("peakd", "alice", auth.KindAccess)

	heavy := `["vote",{"voter":"alice","author":"bob","permlink":"hello","weight":40000}]`
	expectError(t, c.post("/api/broadcast", broadcastBody(heavy), bearerHeader(token)), http.StatusBadRequest, "invalid_request")
	if n := len(c.node.Transactions()); n != 0 {
		t.Fatalf("unencodable batch reached the node: %d", n)
	}
}

func TestBroadcastDefaultScopeForUnknownApp(t *testing.T) {
	c := newTestAPI(t)
	token := c.issue("unregistered", "alice", auth.KindAccess)
	decodeBody(t, c.post("/api/broadcast", broadcastBody(voteOp), bearerHeader(token)), http.StatusOK)
}

func TestBroadcastCredentialChecks(t *testing.T) {
	c := newTestAPI(t)

	expectError(t, c.post("/api/broadcast", broadcastBody(voteOp), nil), http.StatusUnauthorized, "invalid_token")

	code := c.issue("peakd", "alice", auth.KindCode)
	expectError(t, c.post("/api/broadcast", broadcastBody(voteOp), bearerHeader(code)), http.StatusUnauthorized, "invalid_grant")

	expectError(t, c.post("/api/broadcast", broadcastBody(voteOp), bearerHeader("not-a-token")), http.StatusUnauthorized, "invalid_token")

	resp := c.get("/api/broadcast", nil, bearerHeader(c.issue("peakd", "alice", auth.KindAccess)))
	expectError(t, resp, http.StatusMethodNotAllowed, "invalid_request")
}

type failingNode struct {
	ledger.Node
	err error
}

func (f failingNode) BroadcastTransaction(context.Context, hive.Transaction) (ledger.Receipt, error) {
	return ledger.Receipt{}, f.err
}

func (f failingNode) GetAccounts(ctx context.Context, names []string) ([]ledger.Account, error) {
	if errors.Is(f.err, ledger.ErrUnavailable) {
		return nil, f.err
	}
	return f.Node.GetAccounts(ctx, names)
}

func TestBroadcastNodeRejection(t *testing.T) {
	rpcErr := &ledger.RPCError{Code: -32000, Message: "missing required posting authority"}
	c := newTestAPIWithNode(t, failingNode{Node: ledger.NewInMemory(), err: rpcErr})
	token := c.issue("peakd", "alice", auth.KindAccess)

	body := expectError(t, c.post("/api/broadcast", broadcastBody(voteOp), bearerHeader(token)), http.StatusInternalServerError, "server_error")
	if body["error_description"] != rpcErr.Message {
		t.Fatalf("description = %v", body["error_description"])
	}
	response, ok := body["response"].(map[string]any)
	if !ok || response["message"] != rpcErr.Message || response["code"] != float64(-32000) {
		t.Fatalf("response = %v", body["response"])
	}
}

func TestTokenExchange(t *testing.T) {
	c := newTestAPI(t)
	code := c.issue("peakd", "alice", auth.KindCode)

	body := decodeBody(t, c.post("/api/oauth2/token", map[string]string{"code": code}, nil), http.StatusOK)
	if body["username"] != "alice" || body["access_token"] == "" || body["refresh_token"] == "" {
		t.Fatalf("unexpected token response: %v", body)
	}
	if _, ok := body["expires_in"].(float64); !ok {
		t.Fatalf("expires_in missing: %v", body)
	}

	// Codes are single use.
	expectError(t, c.post("/api/oauth2/token", map[string]string{"code": code}, nil), http.StatusUnauthorized, "invalid_token")

	access := body["access_token"].(string)
	id, err := c.auth.Verify(access, auth.KindAccess)
	if err != nil || id.Scope.String() != "vote,comment" {
		t.Fatalf("exchanged access token: %+v, %v", id, err)
	}

	refresh := body["refresh_token"].(string)
	again := decodeBody(t, c.get("/api/oauth2/token", nil, map[string]string{"Authorization": refresh}), http.StatusOK)
	if again["refresh_token"] == refresh {
		t.Fatal("refresh should rotate")
	}

	expectError(t, c.post("/api/oauth2/token", nil, bearerHeader(access)), http.StatusUnauthorized, "invalid_grant")
	expectError(t, c.post("/api/oauth2/token", nil, nil), http.StatusUnauthorized, "invalid_grant")
}

func TestTokenExchangeClientSecret(t *testing.T) {
	c := newTestAPI(t)

	code := c.issue("vault", "alice", auth.KindCode)
	expectError(t, c.post("/api/oauth2/token", map[string]string{"code": code, "client_secret": "wrong"}, nil), http.StatusUnauthorized, "unauthorized_client")
	expectError(t, c.post("/api/oauth2/token", map[string]string{"code": code}, nil), http.StatusUnauthorized, "unauthorized_client")

	form := url.Values{"code": {code}, "client_secret": {"s3cret"}}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	decodeBody(t, resp, http.StatusOK)
}

func TestRevoke(t *testing.T) {
	c := newTestAPI(t)
	token := c.issue("peakd", "alice", auth.KindAccess)

	body := decodeBody(t, c.post("/api/oauth2/token/revoke", nil, bearerHeader(token)), http.StatusOK)
	if body["success"] != true {
		t.Fatalf("unexpected revoke response: %v", body)
	}
	expectError(t, c.post("/api/broadcast", broadcastBody(voteOp), bearerHeader(token)), http.StatusUnauthorized, "invalid_token")
	if n := len(c.node.Transactions()); n != 0 {
		t.Fatalf("revoked token broadcast: %d", n)
	}
}

func TestAuthorize(t *testing.T) {
	c := newTestAPI(t)
	login := c.login("alice", "peakd")

	body := decodeBody(t, c.get("/api/oauth2/authorize", url.Values{"client_id": {"peakd"}}, bearerHeader(login)), http.StatusOK)
	code, _ := body["code"].(string)
	if code == "" {
		t.Fatalf("expected code: %v", body)
	}
	decodeBody(t, c.post("/api/oauth2/token", map[string]string{"code": code}, nil), http.StatusOK)

	body = decodeBody(t, c.get("/api/oauth2/authorize", url.Values{"client_id": {"peakd"}, "response_type": {"token"}}, bearerHeader(login)), http.StatusOK)
	if body["username"] != "alice" || body["access_token"] == "" || body["refresh_token"] != nil {
		t.Fatalf("unexpected implicit response: %v", body)
	}

	expectError(t, c.get("/api/oauth2/authorize", url.Values{"client_id": {"other"}}, bearerHeader(login)), http.StatusUnauthorized, "unauthorized_client")
	expectError(t, c.get("/api/oauth2/authorize", nil, bearerHeader(login)), http.StatusBadRequest, "invalid_request")
	expectError(t, c.get("/api/oauth2/authorize", url.Values{"client_id": {"peakd"}, "response_type": {"id_token"}}, bearerHeader(login)), http.StatusBadRequest, "unsupported_response_type")

	access := c.issue("peakd", "alice", auth.KindAccess)
	expectError(t, c.get("/api/oauth2/authorize", url.Values{"client_id": {"peakd"}}, bearerHeader(access)), http.StatusUnauthorized, "invalid_grant")

	forged := testKey(t, "mallory")
	c.userKey = forged
	expectError(t, c.get("/api/oauth2/authorize", url.Values{"client_id": {"peakd"}}, bearerHeader(c.login("alice", "peakd"))), http.StatusUnauthorized, "invalid_token")
}

func TestMe(t *testing.T) {
	c := newTestAPI(t)

	body := decodeBody(t, c.get("/api/me", nil, bearerHeader(c.issue("peakd", "alice", auth.KindAccess))), http.StatusOK)
	if body["user"] != "alice" || body["_id"] != "alice" || body["name"] != "alice" {
		t.Fatalf("unexpected identity: %v", body)
	}
	account, ok := body["account"].(map[string]any)
	if !ok || account["name"] != "alice" {
		t.Fatalf("unexpected account: %v", body["account"])
	}
	scope, _ := body["scope"].([]any)
	if len(scope) != 2 || scope[0] != "vote" || scope[1] != "comment" {
		t.Fatalf("scope = %v", body["scope"])
	}

	body = decodeBody(t, c.get("/api/me", nil, bearerHeader(c.login("alice", "peakd"))), http.StatusOK)
	if got := len(body["scope"].([]any)); got != len(ops.Registry()) {
		t.Fatalf("login identity should see the default scope, got %d types", got)
	}
}

func TestMeNodeDown(t *testing.T) {
	c := newTestAPIWithNode(t, failingNode{Node: ledger.NewInMemory(), err: ledger.ErrUnavailable})
	resp := c.get("/api/me", nil, bearerHeader(c.issue("peakd", "alice", auth.KindAccess)))
	body := expectError(t, resp, http.StatusNotImplemented, "server_error")
	if body["error_description"] != "Request to hived API failed" {
		t.Fatalf("description = %v", body["error_description"])
	}
}

func TestUserMetadata(t *testing.T) {
	cases := []struct {
		name    string
		posting string
		legacy  string
		want    string
	}{
		{"versioned posting profile", `{"profile":{"name":"A","version":2}}`, `{"profile":{"name":"old"}}`, "A"},
		{"unversioned posting falls back", `{"profile":{"name":"A"}}`, `{"profile":{"name":"old"}}`, "old"},
		{"broken posting falls back", `{`, `{"profile":{"name":"old"}}`, "old"},
		{"legacy only", ``, `{"profile":{"name":"old"}}`, "old"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			meta := userMetadata(&ledger.Account{PostingJSONMetadata: tc.posting, JSONMetadata: tc.legacy})
			profile, _ := meta["profile"].(map[string]any)
			if profile["name"] != tc.want {
				t.Fatalf("metadata = %v", meta)
			}
		})
	}
	if meta := userMetadata(&ledger.Account{JSONMetadata: "nope"}); meta == nil || len(meta) != 0 {
		t.Fatalf("unparsable metadata should be empty, got %v", meta)
	}
	if userMetadata(nil) != nil {
		t.Fatal("no account means no metadata")
	}
}

func TestHealthAndReady(t *testing.T) {
	c := newTestAPI(t)

	body := decodeBody(t, c.get("/healthz", nil, nil), http.StatusOK)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected healthz: %v", body)
	}

	obs.SetReady(false)
	decodeBody(t, c.get("/readyz", nil, nil), http.StatusServiceUnavailable)
	obs.SetReady(true)
	t.Cleanup(func() { obs.SetReady(false) })
	decodeBody(t, c.get("/readyz", nil, nil), http.StatusOK)

	resp := c.get("/nowhere", nil, nil)
	expectError(t, resp, http.StatusNotFound, "not_found")
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatal("expected request id header")
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Deps{}); !errors.Is(err, errMissingDeps) {
		t.Fatalf("expected errMissingDeps, got %v", err)
	}
}
