package authkit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryCodeStore is an in-process CodeStore intended for single-instance runs and tests.
type MemoryCodeStore struct {
	mutex   sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCodeStore constructs an in-memory CodeStore with the provided TTL.
func NewMemoryCodeStore(ttl time.Duration) *MemoryCodeStore {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	return &MemoryCodeStore{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     func() time.Time { return currentClock().Now() },
	}
}

// Claim records the code or reports a replay.
func (store *MemoryCodeStore) Claim(ctx context.Context, code string) error {
	if strings.TrimSpace(code) == "" {
		return fmt.Errorf("code_store.claim.memory: %w", ErrCodeEmpty)
	}
	key := hashCode(code)
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.purgeExpiredLocked()
	if _, exists := store.entries[key]; exists {
		return fmt.Errorf("code_store.claim.memory: %w", ErrCodeReplayed)
	}
	store.entries[key] = store.now().Add(store.ttl)
	return nil
}

// Release forgets the code. Releasing an unknown code is a no-op.
func (store *MemoryCodeStore) Release(ctx context.Context, code string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	delete(store.entries, hashCode(code))
	return nil
}

// Len reports the number of live claims.
func (store *MemoryCodeStore) Len() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.purgeExpiredLocked()
	return len(store.entries)
}

func (store *MemoryCodeStore) purgeExpiredLocked() {
	if len(store.entries) == 0 {
		return
	}
	now := store.now()
	for key, expiry := range store.entries {
		if now.After(expiry) {
			delete(store.entries, key)
		}
	}
}
