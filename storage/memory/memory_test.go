package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/agusdev/sso/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store := New()
	t.Cleanup(store.Stop)
	return store
}

func TestSetIfAbsent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.SetIfAbsent(ctx, "k", "v", time.Minute)
	if err != nil {
		t.Fatalf("SetIfAbsent() error = %v", err)
	}
	if !created {
		t.Error("first claim = false, want true")
	}

	created, err = store.SetIfAbsent(ctx, "k", "v", time.Minute)
	if err != nil {
		t.Fatalf("SetIfAbsent() error = %v", err)
	}
	if created {
		t.Error("second claim = true, want false")
	}
}

func TestSetIfAbsentExpiredClaimIsAbsent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.SetIfAbsent(ctx, "k", "v", 50*time.Millisecond); err != nil {
		t.Fatalf("SetIfAbsent() error = %v", err)
	}

	time.Sleep(80 * time.Millisecond)

	// Reclaimable before the janitor runs.
	created, err := store.SetIfAbsent(ctx, "k", "v", time.Minute)
	if err != nil {
		t.Fatalf("SetIfAbsent() error = %v", err)
	}
	if !created {
		t.Error("claim after expiry = false, want true")
	}
}

func TestSetIfAbsentConcurrent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const callers = 50

	var wg sync.WaitGroup
	results := make(chan bool, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := store.SetIfAbsent(ctx, "contested", "v", time.Minute)
			if err != nil {
				t.Errorf("SetIfAbsent() error = %v", err)
				return
			}
			results <- created
		}()
	}

	wg.Wait()
	close(results)

	winners := 0
	for created := range results {
		if created {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}

func TestUserStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user, err := store.CreateUser(ctx, &storage.NewUser{
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "hash",
	})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if user.ID == uuid.Nil {
		t.Error("CreateUser() assigned no id")
	}
	if user.Activated() {
		t.Error("new user is activated")
	}

	if _, err := store.CreateUser(ctx, &storage.NewUser{Username: "alice", Email: "x@example.com", PasswordHash: "h"}); !errors.Is(err, storage.ErrUsernameTaken) {
		t.Errorf("duplicate username error = %v, want ErrUsernameTaken", err)
	}
	if _, err := store.CreateUser(ctx, &storage.NewUser{Username: "bob", Email: "ALICE@example.com", PasswordHash: "h"}); !errors.Is(err, storage.ErrEmailTaken) {
		t.Errorf("duplicate email error = %v, want ErrEmailTaken", err)
	}

	byName, err := store.UserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("UserByUsername() error = %v", err)
	}
	if byName.ID != user.ID {
		t.Errorf("UserByUsername() id = %s, want %s", byName.ID, user.ID)
	}

	byEmail, err := store.UserByEmail(ctx, "Alice@Example.com")
	if err != nil {
		t.Fatalf("UserByEmail() error = %v", err)
	}
	if byEmail.ID != user.ID {
		t.Errorf("UserByEmail() id = %s, want %s", byEmail.ID, user.ID)
	}

	if _, err := store.UserByID(ctx, uuid.New()); !errors.Is(err, storage.ErrUserNotFound) {
		t.Errorf("UserByID(unknown) error = %v, want ErrUserNotFound", err)
	}

	if err := store.ActivateUser(ctx, user.ID); err != nil {
		t.Fatalf("ActivateUser() error = %v", err)
	}
	activated, err := store.UserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("UserByID() error = %v", err)
	}
	if !activated.Activated() {
		t.Error("user not activated")
	}

	first := *activated.ActivatedAt
	if err := store.ActivateUser(ctx, user.ID); err != nil {
		t.Fatalf("second ActivateUser() error = %v", err)
	}
	again, _ := store.UserByID(ctx, user.ID)
	if !again.ActivatedAt.Equal(first) {
		t.Error("second activation changed the timestamp")
	}
}

func TestUserCopySemantics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user, err := store.CreateUser(ctx, &storage.NewUser{Username: "alice", Email: "a@example.com", PasswordHash: "h"})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	// Mutating a returned user does not affect the stored one.
	user.Username = "mallory"

	got, err := store.UserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("UserByID() error = %v", err)
	}
	if got.Username != "alice" {
		t.Errorf("stored username = %q, want alice", got.Username)
	}
}

func TestClientStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	client := &storage.Client{
		ClientID:    "c1",
		SecretHash:  "hash",
		RedirectURI: "https://app/cb",
	}
	if err := store.SaveClient(ctx, client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	got, err := store.ClientByID(ctx, "c1")
	if err != nil {
		t.Fatalf("ClientByID() error = %v", err)
	}
	if got.RedirectURI != client.RedirectURI {
		t.Errorf("RedirectURI = %q, want %q", got.RedirectURI, client.RedirectURI)
	}

	if _, err := store.ClientByID(ctx, "nobody"); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("ClientByID(unknown) error = %v, want ErrClientNotFound", err)
	}
}
