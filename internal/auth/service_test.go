package auth

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"hivegate.org/internal/ops"
)

const testSecret = "test-signing-secret"

type fakeApps struct {
	scopes  map[string]ops.Scope
	secrets map[string]string
	err     error
}

func (f fakeApps) GrantedScope(_ context.Context, app string) (ops.Scope, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.scopes[app], nil
}

func (f fakeApps) CheckSecret(_ context.Context, app, secret string) error {
	want, ok := f.secrets[app]
	if !ok {
		return nil
	}
	if want != secret {
		return ErrInvalidClient
	}
	return nil
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	apps := fakeApps{
		scopes: map[string]ops.Scope{
			"peakd":  {ops.Vote, ops.Comment},
			"widget": {ops.CustomJSON, ops.Transfer},
		},
		secrets: map[string]string{"peakd": "s3cret"},
	}
	base := []ServiceOption{
		WithClock(c.Now),
		WithScopeSource(apps),
		WithSecretChecker(apps),
	}
	svc, err := NewService(testSecret, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, c
}

func TestNewServiceRequiresSecret(t *testing.T) {
	if _, err := NewService("  "); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
	if _, err := NewService(testSecret, WithTTL(KindLogin, time.Hour)); !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("expected ErrInvalidKind, got %v", err)
	}
}

func TestIssueAndVerify(t *testing.T) {
	svc, c := newTestService(t)
	issued, err := svc.Issue(context.Background(), "peakd", "alice", KindAccess)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if issued.Token == "" || issued.Identity.TokenID == "" {
		t.Fatalf("expected token and id: %+v", issued)
	}
	if got := issued.ExpiresIn(c.Now()); got != int64(defaultAccessTTL/time.Second) {
		t.Fatalf("expires_in = %d", got)
	}

	id, err := svc.Verify(issued.Token, KindAccess)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	want := Identity{
		User:      "alice",
		App:       "peakd",
		Scope:     ops.Scope{ops.Vote, ops.Comment},
		Kind:      KindAccess,
		TokenID:   issued.Identity.TokenID,
		IssuedAt:  c.Now(),
		ExpiresAt: c.Now().Add(defaultAccessTTL),
	}
	if !reflect.DeepEqual(id, want) {
		t.Fatalf("identity mismatch:\n got %+v\nwant %+v", id, want)
	}
	if !reflect.DeepEqual(id, issued.Identity) {
		t.Fatalf("verify result differs from issued identity:\n%+v\n%+v", id, issued.Identity)
	}

	again, err := svc.Verify(issued.Token, KindAccess)
	if err != nil || !reflect.DeepEqual(again, id) {
		t.Fatalf("second verify differs: %+v, %v", again, err)
	}
}

func TestIssueRestrictsScopeToRegistry(t *testing.T) {
	svc, _ := newTestService(t)
	issued, err := svc.Issue(context.Background(), "widget", "alice", KindAccess)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !reflect.DeepEqual(issued.Identity.Scope, ops.Scope{ops.CustomJSON}) {
		t.Fatalf("scope = %v", issued.Identity.Scope)
	}

	unknown, err := svc.Issue(context.Background(), "newapp", "alice", KindAccess)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(unknown.Identity.Scope) != 0 {
		t.Fatalf("unknown app should get empty scope, got %v", unknown.Identity.Scope)
	}
	id, err := svc.Verify(unknown.Token)
	if err != nil || len(id.Scope) != 0 {
		t.Fatalf("verify: %+v, %v", id, err)
	}
}

func TestIssueValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Issue(ctx, "", "alice", KindAccess); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.Issue(ctx, "peakd", "alice", KindLogin); !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("expected ErrInvalidKind, got %v", err)
	}

	failing, err := NewService(testSecret, WithScopeSource(fakeApps{err: errors.New("db down")}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := failing.Issue(ctx, "peakd", "alice", KindAccess); err == nil || !strings.Contains(err.Error(), "db down") {
		t.Fatalf("expected scope source error, got %v", err)
	}
}

func TestVerifyExpired(t *testing.T) {
	svc, c := newTestService(t, WithAccessTTL(time.Minute))
	issued, err := svc.Issue(context.Background(), "peakd", "alice", KindAccess)
	if err != nil {
		t.Fatal(err)
	}
	c.Advance(time.Minute)
	for i := 0; i < 3; i++ {
		if _, err := svc.Verify(issued.Token, KindAccess); !errors.Is(err, ErrTokenExpired) {
			t.Fatalf("attempt %d: expected ErrTokenExpired, got %v", i, err)
		}
	}
}

func TestVerifyKindMismatch(t *testing.T) {
	svc, _ := newTestService(t)
	refresh, err := svc.Issue(context.Background(), "peakd", "alice", KindRefresh)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Verify(refresh.Token, KindAccess); !errors.Is(err, ErrTokenKindMismatch) {
		t.Fatalf("expected ErrTokenKindMismatch, got %v", err)
	}
	if _, err := svc.Verify(refresh.Token, KindCode, KindRefresh); err != nil {
		t.Fatalf("refresh should be accepted: %v", err)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	svc, c := newTestService(t)
	issued, err := svc.Issue(context.Background(), "peakd", "alice", KindAccess)
	if err != nil {
		t.Fatal(err)
	}

	other, err := NewService("another-secret", WithClock(c.Now))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Verify(issued.Token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("foreign secret: expected ErrTokenInvalid, got %v", err)
	}

	parts := strings.Split(issued.Token, ".")
	forged := parts[0] + "." + parts[1] + "x." + parts[2]
	if _, err := svc.Verify(forged); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("tampered payload: expected ErrTokenInvalid, got %v", err)
	}
	for _, raw := range []string{"", "garbage", "a.b.c"} {
		if _, err := svc.Verify(raw); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("%q: expected ErrTokenInvalid, got %v", raw, err)
		}
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, claims{
		App: "peakd", Kind: KindAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: defaultIssuer, Subject: "alice", ID: "x",
			IssuedAt:  jwt.NewNumericDate(c.Now()),
			ExpiresAt: jwt.NewNumericDate(c.Now().Add(time.Hour)),
		},
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Verify(unsigned); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("alg none: expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerifyRejectsFutureIssuedAt(t *testing.T) {
	svc, c := newTestService(t)
	future := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		App: "peakd", Kind: KindAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: defaultIssuer, Subject: "alice", ID: "x",
			IssuedAt:  jwt.NewNumericDate(c.Now().Add(time.Minute)),
			ExpiresAt: jwt.NewNumericDate(c.Now().Add(time.Hour)),
		},
	})
	raw, err := future.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Verify(raw); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestExchangeCode(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	code, err := svc.Issue(ctx, "peakd", "alice", KindCode)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Exchange(ctx, code.Token, "wrong"); !errors.Is(err, ErrInvalidClient) {
		t.Fatalf("expected ErrInvalidClient, got %v", err)
	}

	pair, err := svc.Exchange(ctx, code.Token, "s3cret")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	access, err := svc.Verify(pair.Access.Token, KindAccess)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	if access.User != "alice" || access.App != "peakd" || !reflect.DeepEqual(access.Scope, code.Identity.Scope) {
		t.Fatalf("unexpected access identity: %+v", access)
	}
	if _, err := svc.Verify(pair.Refresh.Token, KindRefresh); err != nil {
		t.Fatalf("verify refresh: %v", err)
	}

	if _, err := svc.Exchange(ctx, code.Token, "s3cret"); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("code reuse: expected ErrTokenRevoked, got %v", err)
	}
	if _, err := svc.Exchange(ctx, pair.Access.Token, ""); !errors.Is(err, ErrTokenKindMismatch) {
		t.Fatalf("access token exchange: expected ErrTokenKindMismatch, got %v", err)
	}
}

func TestExchangeRefreshRotates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	refresh, err := svc.Issue(ctx, "widget", "bob", KindRefresh)
	if err != nil {
		t.Fatal(err)
	}
	pair, err := svc.Exchange(ctx, refresh.Token, "")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if _, err := svc.Verify(refresh.Token); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("old refresh should be revoked, got %v", err)
	}
	if _, err := svc.Exchange(ctx, pair.Refresh.Token, ""); err != nil {
		t.Fatalf("new refresh should exchange: %v", err)
	}
}

func TestRevoke(t *testing.T) {
	svc, c := newTestService(t, WithAccessTTL(time.Hour))
	issued, err := svc.Issue(context.Background(), "peakd", "alice", KindAccess)
	if err != nil {
		t.Fatal(err)
	}
	id, err := svc.Verify(issued.Token, KindAccess)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Revoke(id); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	_, err = svc.Verify(issued.Token, KindAccess)
	if !errors.Is(err, ErrTokenRevoked) || !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected revoked token to be invalid, got %v", err)
	}
	if err := svc.Revoke(Identity{User: "alice", Kind: KindLogin}); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("login identity revoke: expected ErrTokenInvalid, got %v", err)
	}

	if n := svc.Cleanup(); n != 0 {
		t.Fatalf("cleanup before expiry removed %d", n)
	}
	c.Advance(time.Hour)
	if n := svc.Cleanup(); n != 1 {
		t.Fatalf("cleanup after expiry removed %d", n)
	}
	if _, err := svc.Verify(issued.Token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired after cleanup, got %v", err)
	}
}

func TestRunCleanupStopsWithContext(t *testing.T) {
	svc, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.RunCleanup(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunCleanup did not stop")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := IdentityFromContext(ctx); ok {
		t.Fatal("unexpected identity in empty context")
	}
	id := Identity{User: "alice", App: "peakd", Kind: KindAccess}
	ctx = ContextWithIdentity(ctx, id)
	got, ok := IdentityFromContext(ctx)
	if !ok || !reflect.DeepEqual(got, id) {
		t.Fatalf("identity = %+v, ok=%v", got, ok)
	}
	ctx = ContextWithToken(ctx, "tok")
	if tok, ok := TokenFromContext(ctx); !ok || tok != "tok" {
		t.Fatalf("token = %q", tok)
	}
}

func TestSecretHashing(t *testing.T) {
	hash, err := HashSecret("s3cret")
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	if err := VerifySecret(hash, "s3cret"); err != nil {
		t.Fatalf("VerifySecret: %v", err)
	}
	if err := VerifySecret(hash, "nope"); !errors.Is(err, ErrInvalidClient) {
		t.Fatalf("expected ErrInvalidClient, got %v", err)
	}
	if _, err := HashSecret(""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
