package apps

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process Store.
type Memory struct {
	mu   sync.RWMutex
	apps map[string]App
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{apps: make(map[string]App)}
}

func (m *Memory) Get(_ context.Context, name string) (App, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	app, ok := m.apps[name]
	if !ok {
		return App{}, ErrNotFound
	}
	return clone(app), nil
}

func (m *Memory) Put(_ context.Context, app App) error {
	if err := app.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apps[app.Name] = clone(app)
	return nil
}

// List returns every app ordered by name.
func (m *Memory) List(_ context.Context) ([]App, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]App, 0, len(m.apps))
	for _, app := range m.apps {
		out = append(out, clone(app))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func clone(a App) App {
	a.Scope = append(a.Scope[:0:0], a.Scope...)
	return a
}
