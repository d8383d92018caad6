// Package memory provides an in-memory implementation of the storage
// interfaces. It is used by tests and single-node development setups;
// production deployments use the valkey and postgres backends.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agusdev/sso/storage"
)

// DefaultCleanupInterval is how often expired key claims are purged.
const DefaultCleanupInterval = time.Minute

// claim is a key claimed for a bounded duration.
type claim struct {
	value     string
	expiresAt time.Time
}

// Store is an in-memory implementation of KeyClaimer, UserStore, and
// ClientStore. A background janitor purges expired key claims; call
// Stop when the store is no longer needed.
type Store struct {
	mu      sync.RWMutex
	claims  map[string]claim
	users   map[uuid.UUID]*storage.User
	clients map[string]*storage.Client

	logger      *slog.Logger
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// Compile-time interface checks.
var (
	_ storage.KeyClaimer  = (*Store)(nil)
	_ storage.UserStore   = (*Store)(nil)
	_ storage.ClientStore = (*Store)(nil)
)

// New creates an in-memory store with the default cleanup interval.
func New() *Store {
	return NewWithConfig(DefaultCleanupInterval, nil)
}

// NewWithConfig creates an in-memory store with a custom cleanup
// interval and logger.
func NewWithConfig(cleanupInterval time.Duration, logger *slog.Logger) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		claims:      make(map[string]claim),
		users:       make(map[uuid.UUID]*storage.User),
		clients:     make(map[string]*storage.Client),
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}

	go s.cleanupLoop(cleanupInterval)

	return s
}

// Stop terminates the background janitor.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

func (s *Store) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.removeExpiredClaims()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *Store) removeExpiredClaims() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, c := range s.claims {
		if now.After(c.expiresAt) {
			delete(s.claims, key)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("Purged expired key claims", "removed", removed, "remaining", len(s.claims))
	}
}

// SetIfAbsent implements storage.KeyClaimer. Expired claims count as
// absent even before the janitor removes them.
func (s *Store) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("key is required")
	}
	if ttl <= 0 {
		return false, fmt.Errorf("ttl must be positive")
	}

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.claims[key]; ok && now.Before(existing.expiresAt) {
		return false, nil
	}

	s.claims[key] = claim{value: value, expiresAt: now.Add(ttl)}
	return true, nil
}

// CreateUser implements storage.UserStore.
func (s *Store) CreateUser(_ context.Context, user *storage.NewUser) (*storage.User, error) {
	if user == nil || user.Username == "" || user.Email == "" {
		return nil, fmt.Errorf("invalid user")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == user.Username {
			return nil, fmt.Errorf("%w: %s", storage.ErrUsernameTaken, user.Username)
		}
		if strings.EqualFold(existing.Email, user.Email) {
			return nil, fmt.Errorf("%w: %s", storage.ErrEmailTaken, user.Email)
		}
	}

	created := &storage.User{
		ID:           uuid.New(),
		Username:     user.Username,
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		CreatedAt:    time.Now(),
	}
	s.users[created.ID] = created

	return copyUser(created), nil
}

// UserByID implements storage.UserStore.
func (s *Store) UserByID(_ context.Context, id uuid.UUID) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrUserNotFound, id)
	}
	return copyUser(user), nil
}

// UserByUsername implements storage.UserStore.
func (s *Store) UserByUsername(_ context.Context, username string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.Username == username {
			return copyUser(user), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", storage.ErrUserNotFound, username)
}

// UserByEmail implements storage.UserStore.
func (s *Store) UserByEmail(_ context.Context, email string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if strings.EqualFold(user.Email, email) {
			return copyUser(user), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", storage.ErrUserNotFound, email)
}

// ActivateUser implements storage.UserStore.
func (s *Store) ActivateUser(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrUserNotFound, id)
	}
	if user.ActivatedAt == nil {
		now := time.Now()
		user.ActivatedAt = &now
	}
	return nil
}

// SaveClient provisions a client. Registration is not part of the
// service surface; tests and development setups seed clients here.
func (s *Store) SaveClient(_ context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *client
	s.clients[client.ClientID] = &c
	return nil
}

// ClientByID implements storage.ClientStore.
func (s *Store) ClientByID(_ context.Context, clientID string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
	}
	c := *client
	return &c, nil
}

func copyUser(u *storage.User) *storage.User {
	c := *u
	if u.ActivatedAt != nil {
		t := *u.ActivatedAt
		c.ActivatedAt = &t
	}
	return &c
}
