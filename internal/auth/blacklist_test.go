package auth

import (
	"sync"
	"testing"
	"time"
)

func TestBlacklistRevokeAndCheck(t *testing.T) {
	b := NewBlacklist()
	if b.IsRevoked("tok-1") {
		t.Fatal("empty blacklist should not report revoked")
	}
	b.Revoke("tok-1", time.Now().Add(time.Hour))
	if !b.IsRevoked("tok-1") {
		t.Fatal("revoked token should be reported")
	}
	if b.IsRevoked("tok-2") {
		t.Fatal("unrelated token should not be revoked")
	}
	if b.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", b.Len())
	}
}

func TestBlacklistRevokeOnce(t *testing.T) {
	b := NewBlacklist()
	exp := time.Now().Add(time.Hour)
	if !b.RevokeOnce("code", exp) {
		t.Fatal("first RevokeOnce should succeed")
	}
	if b.RevokeOnce("code", exp) {
		t.Fatal("second RevokeOnce should fail")
	}
}

func TestBlacklistRevokeOnceConcurrent(t *testing.T) {
	b := NewBlacklist()
	exp := time.Now().Add(time.Hour)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.RevokeOnce("code", exp) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("RevokeOnce succeeded %d times, want 1", wins)
	}
}

func TestBlacklistCleanup(t *testing.T) {
	b := NewBlacklist()
	now := time.Now()
	b.Revoke("expired", now.Add(-time.Minute))
	b.Revoke("at-boundary", now)
	b.Revoke("live", now.Add(time.Minute))

	if removed := b.Cleanup(now); removed != 2 {
		t.Fatalf("Cleanup removed %d, want 2", removed)
	}
	if b.IsRevoked("expired") || b.IsRevoked("at-boundary") {
		t.Fatal("expired entries should be gone")
	}
	if !b.IsRevoked("live") {
		t.Fatal("live entry should remain")
	}
}
