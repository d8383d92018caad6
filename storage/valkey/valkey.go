// Package valkey provides a Valkey-backed implementation of the atomic
// key-claim primitive. Single-use authorization-code markers and rate
// limit windows both live here; the SET NX EX command gives the
// cross-instance atomicity the storage.KeyClaimer contract requires.
package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/agusdev/sso/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "sso:"

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxKeyLength is the maximum allowed length for claim keys.
	// Claim keys embed caller-supplied material (emails, signed codes);
	// this bounds memory use per key.
	MaxKeyLength = 1024
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "sso:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of storage.KeyClaimer.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
}

// Compile-time interface check
var _ storage.KeyClaimer = (*Store)(nil)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// claimKey returns the key for a claim: {prefix}claim:{key}
func (s *Store) claimKey(key string) string {
	return fmt.Sprintf("%sclaim:%s", s.prefix, key)
}

// SetIfAbsent implements storage.KeyClaimer using SET NX EX. The server
// evaluates existence check, write, and expiry as one command, so
// concurrent claims of the same key resolve to exactly one winner even
// across service instances.
func (s *Store) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("key is required")
	}
	if len(key) > MaxKeyLength {
		return false, fmt.Errorf("key exceeds maximum length of %d bytes", MaxKeyLength)
	}
	if ttl <= 0 {
		return false, fmt.Errorf("ttl must be positive")
	}

	k := s.claimKey(key)

	err := s.client.Do(ctx,
		s.client.B().Set().Key(k).Value(value).Nx().Ex(ttl).Build(),
	).Error()
	if err != nil {
		if isNilError(err) {
			// Nil reply means the NX condition failed: the key exists.
			return false, nil
		}
		return false, fmt.Errorf("failed to claim key: %w", err)
	}

	return true, nil
}

// isNilError checks if an error is a Valkey nil reply
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}
