// Package storage defines the persistence boundaries of the SSO service:
// the relational stores for users and OAuth clients, and the atomic
// key-claim primitive backing single-use authorization codes and rate
// limiting. Backends include in-memory, Valkey, and Postgres.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors returned by store implementations. Callers match them
// with errors.Is; everything else is treated as an internal failure.
var (
	ErrUserNotFound   = errors.New("user not found")
	ErrClientNotFound = errors.New("client not found")
	ErrUsernameTaken  = errors.New("username already taken")
	ErrEmailTaken     = errors.New("email already taken")
)

// KeyClaimer is the atomic "claim a key for a duration" primitive.
// Single-use code consumption and rate limiting are both built on it,
// so its atomicity is load-bearing: concurrent claims of the same key
// must resolve to exactly one winner across all service instances.
type KeyClaimer interface {
	// SetIfAbsent creates key with value and ttl if and only if the key
	// does not already exist. Returns true when this call created the
	// key, false when it already existed. The check and the set MUST be
	// a single atomic operation; a lookup followed by a set is a race.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// UserStore persists user accounts.
// All methods accept context.Context for cancellation and timeouts.
type UserStore interface {
	// CreateUser inserts a new, not-yet-activated user.
	// Returns ErrUsernameTaken or ErrEmailTaken on unique violations.
	CreateUser(ctx context.Context, user *NewUser) (*User, error)

	// UserByID retrieves a user by id. Returns ErrUserNotFound if absent.
	UserByID(ctx context.Context, id uuid.UUID) (*User, error)

	// UserByUsername retrieves a user by username. Returns ErrUserNotFound if absent.
	UserByUsername(ctx context.Context, username string) (*User, error)

	// UserByEmail retrieves a user by email. Returns ErrUserNotFound if absent.
	UserByEmail(ctx context.Context, email string) (*User, error)

	// ActivateUser sets the activation timestamp for a user that has none.
	// Activating an already-activated user is a no-op.
	ActivateUser(ctx context.Context, id uuid.UUID) error
}

// ClientStore provides read access to registered OAuth clients.
// Client registration itself is out of scope; rows are provisioned
// directly in the backing store.
type ClientStore interface {
	// ClientByID retrieves a client by its public client_id.
	// Returns ErrClientNotFound if absent.
	ClientByID(ctx context.Context, clientID string) (*Client, error)
}

// User is a registered account.
type User struct {
	ID           uuid.UUID
	Username     string
	Email        string
	PasswordHash string
	ActivatedAt  *time.Time
	CreatedAt    time.Time
}

// Activated reports whether the account has completed email activation.
func (u *User) Activated() bool {
	return u.ActivatedAt != nil
}

// NewUser is the insert payload for CreateUser. The password arrives
// already hashed; stores never see plaintext credentials.
type NewUser struct {
	Username     string
	Email        string
	PasswordHash string
}

// Client is a registered OAuth client. SecretHash is a bcrypt hash;
// plaintext secrets are never stored.
type Client struct {
	ClientID    string
	SecretHash  string
	RedirectURI string
}
