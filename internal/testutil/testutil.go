// Package testutil provides shared fixtures for service tests.
package testutil

import (
	"context"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/agusdev/sso/storage"
	"github.com/agusdev/sso/storage/memory"
)

// SigningSecret is the token signing secret used across tests.
var SigningSecret = []byte("test-signing-secret-0123456789ab")

// ClientSecret is the plaintext secret of clients seeded with SeedClient.
const ClientSecret = "client-s3cret"

// NewStore creates an in-memory store stopped on test cleanup.
func NewStore(t *testing.T) *memory.Store {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)
	return store
}

// SeedClient provisions a client whose secret is ClientSecret.
func SeedClient(t *testing.T, store *memory.Store, clientID, redirectURI string) *storage.Client {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(ClientSecret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash client secret: %v", err)
	}

	client := &storage.Client{
		ClientID:    clientID,
		SecretHash:  string(hash),
		RedirectURI: redirectURI,
	}
	if err := store.SaveClient(context.Background(), client); err != nil {
		t.Fatalf("failed to seed client: %v", err)
	}
	return client
}

// SeedUser provisions a user account, optionally activated.
func SeedUser(t *testing.T, store *memory.Store, username, email, password string, activated bool) *storage.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	user, err := store.CreateUser(context.Background(), &storage.NewUser{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
	})
	if err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}

	if activated {
		if err := store.ActivateUser(context.Background(), user.ID); err != nil {
			t.Fatalf("failed to activate user: %v", err)
		}
		user, err = store.UserByID(context.Background(), user.ID)
		if err != nil {
			t.Fatalf("failed to reload user: %v", err)
		}
	}

	return user
}
