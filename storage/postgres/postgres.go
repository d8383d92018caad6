// Package postgres provides pgx-backed implementations of UserStore and
// ClientStore.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agusdev/sso/storage"
)

const (
	// uniqueViolation is the Postgres error code for unique constraint violations
	uniqueViolation = "23505"

	// Constraint names on the users table, matched to translate unique
	// violations into the storage sentinels.
	constraintUsername = "unique_username"
	constraintEmail    = "unique_email"

	connectVerifyTimeout = 5 * time.Second
)

// Store is a Postgres-backed implementation of UserStore and ClientStore.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.UserStore   = (*Store)(nil)
	_ storage.ClientStore = (*Store)(nil)
)

// New connects to Postgres and verifies the connection.
func New(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("postgres url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectVerifyTimeout)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	logger.Info("Connected to Postgres storage")

	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
	s.logger.Info("Postgres storage connection closed")
}

// CreateUser implements storage.UserStore.
func (s *Store) CreateUser(ctx context.Context, user *storage.NewUser) (*storage.User, error) {
	if user == nil || user.Username == "" || user.Email == "" {
		return nil, fmt.Errorf("invalid user")
	}

	const q = `
		INSERT INTO users (id, username, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, username, email, password_hash, activated_at, created_at`

	row := s.pool.QueryRow(ctx, q, uuid.New(), user.Username, user.Email, user.PasswordHash, time.Now())

	created, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			switch pgErr.ConstraintName {
			case constraintUsername:
				return nil, fmt.Errorf("%w: %s", storage.ErrUsernameTaken, user.Username)
			case constraintEmail:
				return nil, fmt.Errorf("%w: %s", storage.ErrEmailTaken, user.Email)
			}
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Debug("Created user", "user_id", created.ID)
	return created, nil
}

// UserByID implements storage.UserStore.
func (s *Store) UserByID(ctx context.Context, id uuid.UUID) (*storage.User, error) {
	const q = `
		SELECT id, username, email, password_hash, activated_at, created_at
		FROM users WHERE id = $1`

	user, err := scanUser(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", storage.ErrUserNotFound, id)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// UserByUsername implements storage.UserStore.
func (s *Store) UserByUsername(ctx context.Context, username string) (*storage.User, error) {
	const q = `
		SELECT id, username, email, password_hash, activated_at, created_at
		FROM users WHERE username = $1`

	user, err := scanUser(s.pool.QueryRow(ctx, q, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", storage.ErrUserNotFound, username)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// UserByEmail implements storage.UserStore.
func (s *Store) UserByEmail(ctx context.Context, email string) (*storage.User, error) {
	const q = `
		SELECT id, username, email, password_hash, activated_at, created_at
		FROM users WHERE lower(email) = lower($1)`

	user, err := scanUser(s.pool.QueryRow(ctx, q, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", storage.ErrUserNotFound, email)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ActivateUser implements storage.UserStore. The WHERE guard keeps the
// first activation timestamp; redeeming a second activation code is a
// no-op rather than an error.
func (s *Store) ActivateUser(ctx context.Context, id uuid.UUID) error {
	const q = `
		UPDATE users SET activated_at = $2
		WHERE id = $1 AND activated_at IS NULL`

	tag, err := s.pool.Exec(ctx, q, id, time.Now())
	if err != nil {
		return fmt.Errorf("failed to activate user: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Already activated or missing; distinguish the two.
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check user existence: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", storage.ErrUserNotFound, id)
		}
	}

	return nil
}

// ClientByID implements storage.ClientStore.
func (s *Store) ClientByID(ctx context.Context, clientID string) (*storage.Client, error) {
	const q = `
		SELECT client_id, secret_hash, redirect_uri
		FROM clients WHERE client_id = $1`

	var client storage.Client
	err := s.pool.QueryRow(ctx, q, clientID).Scan(&client.ClientID, &client.SecretHash, &client.RedirectURI)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return &client, nil
}

func scanUser(row pgx.Row) (*storage.User, error) {
	var user storage.User
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.ActivatedAt, &user.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &user, nil
}
