package auth

import (
	"sync"
	"time"
)

// Blacklist is a thread-safe in-memory set of revoked token IDs. Each entry
// is kept until the token's natural expiry; after that the signature check
// rejects the token anyway and Cleanup drops the entry.
type Blacklist struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

// NewBlacklist creates an empty blacklist.
func NewBlacklist() *Blacklist {
	return &Blacklist{entries: make(map[string]time.Time)}
}

// Revoke adds a token ID until tokenExpiresAt.
func (b *Blacklist) Revoke(tokenID string, tokenExpiresAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[tokenID] = tokenExpiresAt
}

// RevokeOnce adds a token ID and reports whether it was not already present.
// Exchanges use it so that a code is consumed exactly once.
func (b *Blacklist) RevokeOnce(tokenID string, tokenExpiresAt time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.entries[tokenID]; exists {
		return false
	}
	b.entries[tokenID] = tokenExpiresAt
	return true
}

// IsRevoked checks whether a token ID has been revoked.
func (b *Blacklist) IsRevoked(tokenID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.entries[tokenID]
	return exists
}

// Cleanup removes entries whose token expiry has passed and returns how
// many were dropped.
func (b *Blacklist) Cleanup(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for tokenID, expiresAt := range b.entries {
		if !now.Before(expiresAt) {
			delete(b.entries, tokenID)
			removed++
		}
	}
	return removed
}

// Len returns the current number of entries.
func (b *Blacklist) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
