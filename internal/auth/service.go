package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hivegate.org/internal/ids"
	"hivegate.org/internal/ops"
)

const (
	defaultCodeTTL      = 10 * time.Minute
	defaultAccessTTL    = 7 * 24 * time.Hour
	defaultRefreshTTL   = 30 * 24 * time.Hour
	defaultAssertionTTL = time.Hour
)

// Service issues and verifies gateway credentials. Verification is a pure
// function of the token and the signing secret; the only state is the
// revocation blacklist.
type Service struct {
	secret       []byte
	issuer       string
	ttl          map[Kind]time.Duration
	assertionTTL time.Duration
	now          func() time.Time

	scopes  ScopeSource
	secrets SecretChecker
	keys    KeyResolver
	revoked *Blacklist
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
		return nil
	}
}

// WithTTL configures the lifetime of tokens of the given kind.
func WithTTL(kind Kind, ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if !kind.issuable() {
			return fmt.Errorf("%w: %s", ErrInvalidKind, kind)
		}
		if ttl > 0 {
			s.ttl[kind] = ttl
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption { return WithTTL(KindAccess, ttl) }

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption { return WithTTL(KindRefresh, ttl) }

// WithCodeTTL configures authorization code lifetime.
func WithCodeTTL(ttl time.Duration) ServiceOption { return WithTTL(KindCode, ttl) }

// WithAssertionTTL configures how long a signed login assertion stays valid.
func WithAssertionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.assertionTTL = ttl
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithScopeSource sets where granted app scopes are read from.
func WithScopeSource(src ScopeSource) ServiceOption {
	return func(s *Service) error {
		s.scopes = src
		return nil
	}
}

// WithSecretChecker enables client secret checks on exchange.
func WithSecretChecker(c SecretChecker) ServiceOption {
	return func(s *Service) error {
		s.secrets = c
		return nil
	}
}

// WithKeyResolver enables login assertions checked against ledger keys.
func WithKeyResolver(r KeyResolver) ServiceOption {
	return func(s *Service) error {
		s.keys = r
		return nil
	}
}

// WithBlacklist shares a revocation set between services.
func WithBlacklist(b *Blacklist) ServiceOption {
	return func(s *Service) error {
		if b != nil {
			s.revoked = b
		}
		return nil
	}
}

// NewService constructs a Service signing with the given HS256 secret.
func NewService(secret string, opts ...ServiceOption) (*Service, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	svc := &Service{
		secret: []byte(secret),
		issuer: defaultIssuer,
		ttl: map[Kind]time.Duration{
			KindCode:    defaultCodeTTL,
			KindAccess:  defaultAccessTTL,
			KindRefresh: defaultRefreshTTL,
		},
		assertionTTL: defaultAssertionTTL,
		now:          time.Now,
		revoked:      NewBlacklist(),
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// TTL returns the configured lifetime for kind.
func (s *Service) TTL(kind Kind) time.Duration {
	if kind == KindLogin {
		return s.assertionTTL
	}
	return s.ttl[kind]
}

// Now returns the service clock.
func (s *Service) Now() time.Time { return s.now() }

// Issue mints a token for user on behalf of app. The scope is the app's
// registered grant restricted to the scope registry; an unknown app or an
// empty grant yields an empty scope.
func (s *Service) Issue(ctx context.Context, app, user string, kind Kind) (Issued, error) {
	app, user = strings.TrimSpace(app), strings.TrimSpace(user)
	if app == "" || user == "" {
		return Issued{}, ErrInvalidInput
	}
	if !kind.issuable() {
		return Issued{}, fmt.Errorf("%w: %s", ErrInvalidKind, kind)
	}
	var scope ops.Scope
	if s.scopes != nil {
		granted, err := s.scopes.GrantedScope(ctx, app)
		if err != nil {
			return Issued{}, fmt.Errorf("auth: load scope for %s: %w", app, err)
		}
		scope = granted.Intersect(ops.Registry())
	}
	return s.issue(app, user, kind, scope)
}

func (s *Service) issue(app, user string, kind Kind, scope ops.Scope) (Issued, error) {
	now := s.now().UTC().Truncate(time.Second)
	id := Identity{
		User:      user,
		App:       app,
		Scope:     scope.Intersect(ops.Registry()),
		Kind:      kind,
		TokenID:   ids.New(),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl[kind]),
	}
	token, err := s.sign(id)
	if err != nil {
		return Issued{}, err
	}
	return Issued{Token: token, Identity: id}, nil
}

// Verify checks signature, issuer, expiry, kind and revocation. With no
// kinds given any issued kind is accepted.
func (s *Service) Verify(raw string, want ...Kind) (Identity, error) {
	id, err := s.parse(raw)
	if err != nil {
		return Identity{}, err
	}
	if !kindAllowed(id.Kind, want) {
		return Identity{}, fmt.Errorf("%w: got %s", ErrTokenKindMismatch, id.Kind)
	}
	if s.revoked.IsRevoked(id.TokenID) {
		return Identity{}, ErrTokenRevoked
	}
	return id, nil
}

// Authenticate resolves any credential the gateway understands: signed
// tokens, and ledger-signed login assertions where KindLogin is wanted.
func (s *Service) Authenticate(ctx context.Context, raw string, want ...Kind) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if looksLikeJWT(raw) || !kindAllowed(KindLogin, want) {
		return s.Verify(raw, want...)
	}
	return s.VerifyAssertion(ctx, raw)
}

// Exchange trades a code or refresh token for a fresh access/refresh pair.
// The presented token is consumed; the new pair carries its scope.
func (s *Service) Exchange(ctx context.Context, raw, clientSecret string) (Pair, error) {
	id, err := s.Verify(raw, KindCode, KindRefresh)
	if err != nil {
		return Pair{}, err
	}
	if s.secrets != nil {
		if err := s.secrets.CheckSecret(ctx, id.App, clientSecret); err != nil {
			return Pair{}, err
		}
	}
	if !s.revoked.RevokeOnce(id.TokenID, id.ExpiresAt) {
		return Pair{}, ErrTokenRevoked
	}
	access, err := s.issue(id.App, id.User, KindAccess, id.Scope)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := s.issue(id.App, id.User, KindRefresh, id.Scope)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Access: access, Refresh: refresh}, nil
}

// Revoke makes the identity's token fail verification from now until its
// natural expiry. Login assertions carry no token ID and cannot be revoked.
func (s *Service) Revoke(id Identity) error {
	if id.TokenID == "" {
		return ErrTokenInvalid
	}
	s.revoked.Revoke(id.TokenID, id.ExpiresAt)
	return nil
}

// Cleanup drops expired blacklist entries.
func (s *Service) Cleanup() int {
	return s.revoked.Cleanup(s.now())
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (s *Service) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}

func kindAllowed(k Kind, want []Kind) bool {
	if len(want) == 0 {
		return k.issuable()
	}
	for _, w := range want {
		if w == k {
			return true
		}
	}
	return false
}
