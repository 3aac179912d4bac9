package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"hivegate.org/internal/ops"
)

const (
	defaultIssuer = "hivegate"
	maxClockSkew  = 5 * time.Second
)

// claims is the JWT body. Registered claims carry sub (user), jti, iat,
// exp and iss; the rest is gateway specific.
type claims struct {
	App   string   `json:"app"`
	Kind  Kind     `json:"kind"`
	Scope []string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

func (s *Service) sign(id Identity) (string, error) {
	c := claims{
		App:   id.App,
		Kind:  id.Kind,
		Scope: id.Scope.Strings(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   id.User,
			ID:        id.TokenID,
			IssuedAt:  jwt.NewNumericDate(id.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(id.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s *Service) parse(raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, ErrTokenInvalid
	}
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, ErrTokenInvalid
	}
	if err := s.validateClaims(&c); err != nil {
		return Identity{}, ErrTokenInvalid
	}
	return Identity{
		User:      c.Subject,
		App:       c.App,
		Scope:     ops.FilterScope(c.Scope),
		Kind:      c.Kind,
		TokenID:   c.ID,
		IssuedAt:  c.IssuedAt.Time.UTC(),
		ExpiresAt: c.ExpiresAt.Time.UTC(),
	}, nil
}

func (s *Service) validateClaims(c *claims) error {
	if strings.TrimSpace(c.Subject) == "" {
		return errors.New("subject missing")
	}
	if strings.TrimSpace(c.App) == "" {
		return errors.New("app missing")
	}
	if c.ID == "" {
		return errors.New("token id missing")
	}
	if !c.Kind.issuable() {
		return fmt.Errorf("unexpected kind %q", c.Kind)
	}
	if c.IssuedAt == nil {
		return errors.New("issued-at missing")
	}
	if c.IssuedAt.Time.After(s.now().Add(maxClockSkew)) {
		return errors.New("token issued in the future")
	}
	if c.ExpiresAt.Time.Before(c.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

// looksLikeJWT separates compact JWS tokens from base64url login assertions,
// which never contain a dot.
func looksLikeJWT(raw string) bool {
	return strings.Count(raw, ".") == 2
}
