package auth

import (
	"context"
	"time"

	"hivegate.org/internal/ops"
)

// Kind distinguishes what a credential may be used for.
type Kind string

const (
	// KindCode is a short-lived authorization code, exchangeable once.
	KindCode Kind = "code"
	// KindAccess authorizes broadcasts and account reads.
	KindAccess Kind = "access"
	// KindRefresh is exchangeable for a fresh access/refresh pair.
	KindRefresh Kind = "refresh"
	// KindLogin is an identity proven by a ledger-signed assertion. It is
	// never minted by the service.
	KindLogin Kind = "login"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindCode, KindAccess, KindRefresh, KindLogin:
		return true
	}
	return false
}

func (k Kind) issuable() bool {
	return k == KindCode || k == KindAccess || k == KindRefresh
}

// Identity is the verified view of a credential for the duration of one request.
type Identity struct {
	User      string
	App       string
	Scope     ops.Scope
	Kind      Kind
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issued pairs a signed token with the identity it encodes.
type Issued struct {
	Token    string
	Identity Identity
}

// ExpiresIn returns the token lifetime in whole seconds relative to now.
func (i Issued) ExpiresIn(now time.Time) int64 {
	d := i.Identity.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// Pair is the result of exchanging a code or refresh token.
type Pair struct {
	Access  Issued
	Refresh Issued
}

// ScopeSource provides the scope an app was granted at registration.
// Unknown apps return an empty scope and no error.
type ScopeSource interface {
	GrantedScope(ctx context.Context, app string) (ops.Scope, error)
}

// SecretChecker validates an app's client secret. Apps without a
// registered secret accept any value; mismatches return ErrInvalidClient.
type SecretChecker interface {
	CheckSecret(ctx context.Context, app, secret string) error
}

// KeyResolver returns the public keys holding posting authority over an
// account, as ledger-encoded strings.
type KeyResolver interface {
	PostingKeys(ctx context.Context, account string) ([]string, error)
}
