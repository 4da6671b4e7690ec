package authkit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCodeStoresShareSentinelErrors(t *testing.T) {
	testCases := []struct {
		name  string
		store func(t *testing.T) CodeStore
	}{
		{
			name: "memory",
			store: func(t *testing.T) CodeStore {
				t.Helper()
				return NewMemoryCodeStore(time.Minute)
			},
		},
		{
			name: "sqlite",
			store: func(t *testing.T) CodeStore {
				t.Helper()
				return newSQLiteCodeStore(t, time.Minute)
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			store := testCase.store(t)
			ctx := context.Background()

			if err := store.Claim(ctx, " "); !errors.Is(err, ErrCodeEmpty) {
				t.Fatalf("expected ErrCodeEmpty, got %v", err)
			}
			if err := store.Claim(ctx, "auth-code"); err != nil {
				t.Fatalf("claim failed: %v", err)
			}
			if err := store.Claim(ctx, "auth-code"); !errors.Is(err, ErrCodeReplayed) {
				t.Fatalf("expected ErrCodeReplayed, got %v", err)
			}
			if err := store.Claim(ctx, "other-code"); err != nil {
				t.Fatalf("distinct code should be accepted: %v", err)
			}
			if err := store.Release(ctx, "auth-code"); err != nil {
				t.Fatalf("release failed: %v", err)
			}
			if err := store.Claim(ctx, "auth-code"); err != nil {
				t.Fatalf("released code should be claimable: %v", err)
			}
			if err := store.Release(ctx, "never-seen"); err != nil {
				t.Fatalf("releasing unknown code should be a no-op: %v", err)
			}
		})
	}
}

func TestMemoryCodeStoreExpiresClaims(t *testing.T) {
	t.Parallel()

	current := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	store := NewMemoryCodeStore(time.Minute)
	store.now = func() time.Time { return current }

	if err := store.Claim(context.Background(), "code"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected one live claim")
	}
	current = current.Add(time.Minute)
	if err := store.Claim(context.Background(), "code"); !errors.Is(err, ErrCodeReplayed) {
		t.Fatalf("expected claim to be live at the boundary, got %v", err)
	}
	current = current.Add(time.Second)
	if store.Len() != 0 {
		t.Fatalf("expected expired claim purged")
	}
	if err := store.Claim(context.Background(), "code"); err != nil {
		t.Fatalf("expected code reusable after expiry, got %v", err)
	}
}

func TestHashCodeDoesNotExposeCode(t *testing.T) {
	t.Parallel()

	hashed := hashCode("4/0AX4XfWh-secret")
	if hashed == "" || hashed == "4/0AX4XfWh-secret" {
		t.Fatalf("expected opaque hash, got %q", hashed)
	}
	if hashCode("4/0AX4XfWh-secret") != hashed {
		t.Fatalf("expected deterministic hash")
	}
}
