package valkey

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

// newTestStore connects to a local Valkey instance, skipping the test
// when none is reachable. Set VALKEY_TEST_ADDRESS to point elsewhere.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("VALKEY_TEST_ADDRESS")
	if addr == "" {
		addr = "localhost:6379"
	}

	store, err := New(Config{
		Address:   addr,
		DB:        15,
		KeyPrefix: fmt.Sprintf("ssotest:%d:", time.Now().UnixNano()),
	})
	if err != nil {
		t.Skipf("valkey unavailable at %s: %v", addr, err)
	}
	t.Cleanup(store.Close)

	return store
}

func TestNewRequiresAddress(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() expected error for missing address")
	}
}

func TestSetIfAbsent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.SetIfAbsent(ctx, "authorization_token:abc", "abc", time.Minute)
	if err != nil {
		t.Fatalf("SetIfAbsent() error = %v", err)
	}
	if !created {
		t.Error("first claim = false, want true")
	}

	created, err = store.SetIfAbsent(ctx, "authorization_token:abc", "abc", time.Minute)
	if err != nil {
		t.Fatalf("SetIfAbsent() error = %v", err)
	}
	if created {
		t.Error("second claim = true, want false")
	}

	// Distinct keys are independent.
	created, err = store.SetIfAbsent(ctx, "authorization_token:def", "def", time.Minute)
	if err != nil {
		t.Fatalf("SetIfAbsent() error = %v", err)
	}
	if !created {
		t.Error("claim of distinct key = false, want true")
	}
}

func TestSetIfAbsentExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.SetIfAbsent(ctx, "activation_email:a@example.com", "a@example.com", time.Second)
	if err != nil {
		t.Fatalf("SetIfAbsent() error = %v", err)
	}
	if !created {
		t.Fatal("first claim = false, want true")
	}

	time.Sleep(1500 * time.Millisecond)

	created, err = store.SetIfAbsent(ctx, "activation_email:a@example.com", "a@example.com", time.Second)
	if err != nil {
		t.Fatalf("SetIfAbsent() error = %v", err)
	}
	if !created {
		t.Error("claim after expiry = false, want true")
	}
}

func TestSetIfAbsentValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.SetIfAbsent(ctx, "", "v", time.Minute); err == nil {
		t.Error("SetIfAbsent(empty key) expected error")
	}
	if _, err := store.SetIfAbsent(ctx, "k", "v", 0); err == nil {
		t.Error("SetIfAbsent(zero ttl) expected error")
	}
}
