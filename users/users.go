// Package users implements account registration, credential validation,
// and activation on top of the relational user store.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/agusdev/sso/storage"
)

// Field constraints enforced at registration.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 32
	MinPasswordLength = 8
	MaxPasswordLength = 32
)

// Validation and credential errors. Login failures are distinct
// internally; the HTTP layer decides how much to reveal.
var (
	ErrInvalidUsername = errors.New("username must be 3 to 32 characters")
	ErrInvalidEmail    = errors.New("invalid email address")
	ErrInvalidPassword = errors.New("password must be 8 to 32 characters")
	ErrWrongPassword   = errors.New("wrong password")
	ErrNotActivated    = errors.New("account not activated")
)

// dummyPasswordHash is compared when the user does not exist so that a
// login attempt always costs one bcrypt comparison regardless of
// whether the username is taken.
const dummyPasswordHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Service manages user accounts.
type Service struct {
	store  storage.UserStore
	logger *slog.Logger
}

// NewService creates a user service.
func NewService(store storage.UserStore, logger *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}, nil
}

// Register validates the fields, hashes the password, and inserts a
// not-yet-activated account. Duplicate usernames and emails surface as
// the storage sentinels.
func (s *Service) Register(ctx context.Context, username, email, password string) (*storage.User, error) {
	if len(username) < MinUsernameLength || len(username) > MaxUsernameLength {
		return nil, ErrInvalidUsername
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength || len(password) > MaxPasswordLength {
		return nil, ErrInvalidPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, &storage.NewUser{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("User registered", "user_id", user.ID)
	return user, nil
}

// ValidateCredentials authenticates a password login. Unknown user,
// wrong password, and not-activated are distinct outcomes; a bcrypt
// comparison is always performed so the unknown-user path does not
// return measurably faster.
func (s *Service) ValidateCredentials(ctx context.Context, username, password string) (*storage.User, error) {
	user, lookupErr := s.store.UserByUsername(ctx, username)

	hashToCompare := dummyPasswordHash
	if lookupErr == nil {
		hashToCompare = user.PasswordHash
	}

	compareErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(password))

	if lookupErr != nil {
		return nil, lookupErr
	}
	if compareErr != nil {
		return nil, fmt.Errorf("%w: %s", ErrWrongPassword, username)
	}
	if !user.Activated() {
		return nil, fmt.Errorf("%w: %s", ErrNotActivated, username)
	}

	return user, nil
}

// Activate marks the account as activated. Activating twice is a no-op.
func (s *Service) Activate(ctx context.Context, id uuid.UUID) error {
	if err := s.store.ActivateUser(ctx, id); err != nil {
		return err
	}
	s.logger.Info("User activated", "user_id", id)
	return nil
}

// ByID retrieves a user by id.
func (s *Service) ByID(ctx context.Context, id uuid.UUID) (*storage.User, error) {
	return s.store.UserByID(ctx, id)
}

// ByEmail retrieves a user by email.
func (s *Service) ByEmail(ctx context.Context, email string) (*storage.User, error) {
	return s.store.UserByEmail(ctx, email)
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return nil
}
