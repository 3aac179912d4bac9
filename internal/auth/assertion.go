package auth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"hivegate.org/internal/hive"
)

// Assertion is a login message signed by the user's own posting key. It
// travels as base64url JSON in place of a bearer token.
type Assertion struct {
	SignedMessage AssertionMessage `json:"signed_message"`
	Authors       []string         `json:"authors"`
	Timestamp     int64            `json:"timestamp"`
	Signatures    []string         `json:"signatures,omitempty"`
}

// AssertionMessage names the app the user is logging in to.
type AssertionMessage struct {
	Type string `json:"type"`
	App  string `json:"app"`
}

const assertionLogin = "login"

// Digest is sha256 over the canonical JSON of the unsigned fields.
func (a Assertion) Digest() ([32]byte, error) {
	unsigned := struct {
		SignedMessage AssertionMessage `json:"signed_message"`
		Authors       []string         `json:"authors"`
		Timestamp     int64            `json:"timestamp"`
	}{a.SignedMessage, a.Authors, a.Timestamp}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(unsigned); err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// Sign appends a signature made by signer.
func (a *Assertion) Sign(signer hive.Signer) error {
	digest, err := a.Digest()
	if err != nil {
		return err
	}
	sig, err := signer.SignCompact(digest)
	if err != nil {
		return err
	}
	a.Signatures = append(a.Signatures, hex.EncodeToString(sig))
	return nil
}

// Encode renders the assertion in its transport form.
func (a Assertion) Encode() (string, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeAssertion parses the transport form, accepting padded or
// unpadded base64url.
func DecodeAssertion(raw string) (Assertion, error) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "=")
	body, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return Assertion{}, ErrTokenInvalid
	}
	var a Assertion
	if err := json.Unmarshal(body, &a); err != nil {
		return Assertion{}, ErrTokenInvalid
	}
	return a, nil
}

// VerifyAssertion checks a login assertion against the user's posting
// keys on the ledger and returns a login identity valid until the
// assertion's lifetime runs out.
func (s *Service) VerifyAssertion(ctx context.Context, raw string) (Identity, error) {
	if s.keys == nil {
		return Identity{}, ErrTokenInvalid
	}
	a, err := DecodeAssertion(raw)
	if err != nil {
		return Identity{}, err
	}
	if a.SignedMessage.Type != assertionLogin || strings.TrimSpace(a.SignedMessage.App) == "" {
		return Identity{}, ErrTokenInvalid
	}
	if len(a.Authors) != 1 || strings.TrimSpace(a.Authors[0]) == "" || len(a.Signatures) == 0 {
		return Identity{}, ErrTokenInvalid
	}
	issued := time.Unix(a.Timestamp, 0).UTC()
	expires := issued.Add(s.assertionTTL)
	now := s.now()
	if issued.After(now.Add(maxClockSkew)) {
		return Identity{}, ErrTokenInvalid
	}
	if !now.Before(expires) {
		return Identity{}, ErrTokenExpired
	}

	digest, err := a.Digest()
	if err != nil {
		return Identity{}, ErrTokenInvalid
	}
	user := a.Authors[0]
	keys, err := s.keys.PostingKeys(ctx, user)
	if err != nil {
		return Identity{}, fmt.Errorf("auth: load posting keys for %s: %w", user, err)
	}
	if !signedByAny(a.Signatures, digest, keys) {
		return Identity{}, ErrTokenInvalid
	}
	return Identity{
		User:      user,
		App:       a.SignedMessage.App,
		Kind:      KindLogin,
		IssuedAt:  issued,
		ExpiresAt: expires,
	}, nil
}

func signedByAny(signatures []string, digest [32]byte, keys []string) bool {
	var authorized []hive.PublicKey
	for _, k := range keys {
		pub, err := hive.ParsePublicKey(k)
		if err == nil {
			authorized = append(authorized, pub)
		}
	}
	for _, sigHex := range signatures {
		sig, err := hex.DecodeString(sigHex)
		if err != nil {
			continue
		}
		pub, err := hive.RecoverCompact(sig, digest)
		if err != nil {
			continue
		}
		for _, k := range authorized {
			if k.Equal(pub) {
				return true
			}
		}
	}
	return false
}
