package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrTokenInvalid indicates a token failed signature or format checks.
	ErrTokenInvalid = errors.New("auth: invalid token")
	// ErrTokenExpired indicates a well-formed token past its expiry.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenKindMismatch indicates a valid token of the wrong kind for the endpoint.
	ErrTokenKindMismatch = errors.New("auth: token kind mismatch")
	// ErrTokenRevoked indicates a token revoked before its natural expiry.
	// It matches ErrTokenInvalid under errors.Is.
	ErrTokenRevoked = fmt.Errorf("%w: revoked", ErrTokenInvalid)
	// ErrInvalidClient indicates a client secret that does not match the app's.
	ErrInvalidClient = errors.New("auth: invalid client credentials")
	// ErrInvalidKind indicates a request to issue a kind the service cannot mint.
	ErrInvalidKind = errors.New("auth: unsupported token kind")
	// ErrInvalidInput indicates missing app or user names.
	ErrInvalidInput = errors.New("auth: invalid input")
	// ErrMissingSecret indicates the service was built without a signing secret.
	ErrMissingSecret = errors.New("auth: signing secret is not configured")
)
