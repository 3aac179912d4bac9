// Package apps is the registry of client applications: the scope each was
// granted and an optional client secret.
package apps

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hivegate.org/internal/auth"
	"hivegate.org/internal/ops"
)

var (
	ErrNotFound   = errors.New("apps: not found")
	ErrInvalidApp = errors.New("apps: invalid app")
)

// App is a registered client application.
type App struct {
	Name       string
	Scope      ops.Scope
	SecretHash string
	CreatedAt  time.Time
}

// Validate checks the name and that every scope entry is grantable.
func (a App) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidApp)
	}
	for _, t := range a.Scope {
		if !ops.Grantable(t) {
			return fmt.Errorf("%w: %s cannot be granted", ErrInvalidApp, t)
		}
	}
	return nil
}

// Store persists apps.
type Store interface {
	Get(ctx context.Context, name string) (App, error)
	Put(ctx context.Context, app App) error
	List(ctx context.Context) ([]App, error)
}

// Registry answers the token service's questions about apps from a Store.
type Registry struct {
	store Store
}

var (
	_ auth.ScopeSource   = (*Registry)(nil)
	_ auth.SecretChecker = (*Registry)(nil)
)

// NewRegistry wraps store.
func NewRegistry(store Store) *Registry { return &Registry{store: store} }

// Store returns the underlying store.
func (r *Registry) Store() Store { return r.store }

// GrantedScope returns the app's scope, or an empty scope for unknown apps.
func (r *Registry) GrantedScope(ctx context.Context, name string) (ops.Scope, error) {
	app, err := r.store.Get(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return app.Scope, nil
}

// CheckSecret verifies secret against the app's stored hash. Apps without a
// stored hash, and unknown apps, accept any secret.
func (r *Registry) CheckSecret(ctx context.Context, name, secret string) error {
	app, err := r.store.Get(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if app.SecretHash == "" {
		return nil
	}
	return auth.VerifySecret(app.SecretHash, secret)
}

// Register hashes secret (when non-empty) and stores the app.
func (r *Registry) Register(ctx context.Context, name string, scope ops.Scope, secret string) (App, error) {
	app := App{Name: strings.TrimSpace(name), Scope: scope, CreatedAt: time.Now().UTC()}
	if err := app.Validate(); err != nil {
		return App{}, err
	}
	if secret != "" {
		hash, err := auth.HashSecret(secret)
		if err != nil {
			return App{}, err
		}
		app.SecretHash = hash
	}
	if err := r.store.Put(ctx, app); err != nil {
		return App{}, err
	}
	return app, nil
}
