// Package sso is a single-sign-on token issuance service: an OAuth2
// authorization-code grant over stateless signed tokens, with user
// accounts, activation email, and KV-backed single-use and rate-limit
// enforcement.
package sso

import (
	"fmt"
	"log/slog"

	"github.com/agusdev/sso/email"
	"github.com/agusdev/sso/instrumentation"
	"github.com/agusdev/sso/security"
	"github.com/agusdev/sso/storage"
	"github.com/agusdev/sso/tokens"
	"github.com/agusdev/sso/users"
)

// ServerConfig carries the dependencies of the HTTP surface. Stores,
// services, and the signing secret are constructed by the caller and
// injected here; the server owns no connection lifecycles.
type ServerConfig struct {
	Tokens      *tokens.Service
	Flows       *Flows
	Users       *users.Service
	Clients     storage.ClientStore
	RateLimiter *security.RateLimiter

	// Mailer delivers activation mail. Optional; when nil, activation
	// emails are skipped and logged.
	Mailer email.Sender

	// IPLimiter throttles requests per source IP. Optional.
	IPLimiter *security.IPRateLimiter

	// Auditor records security events. Optional; defaults to disabled.
	Auditor *security.Auditor

	// Instrumentation provides metrics and tracing. Optional; defaults
	// to no-op providers.
	Instrumentation *instrumentation.Instrumentation

	// StaticDir holds the HTML pages served on GET for login, register,
	// and activate. Optional; GET on those endpoints 404s when empty.
	StaticDir string

	Logger *slog.Logger
}

// Server exposes the HTTP endpoints of the service.
type Server struct {
	tokens      *tokens.Service
	flows       *Flows
	users       *users.Service
	clients     storage.ClientStore
	rateLimiter *security.RateLimiter
	mailer      email.Sender
	ipLimiter   *security.IPRateLimiter
	auditor     *security.Auditor
	inst        *instrumentation.Instrumentation
	staticDir   string
	logger      *slog.Logger
}

// NewServer validates the configuration and builds a server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token service is required")
	}
	if cfg.Flows == nil {
		return nil, fmt.Errorf("flow service is required")
	}
	if cfg.Users == nil {
		return nil, fmt.Errorf("user service is required")
	}
	if cfg.Clients == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if cfg.RateLimiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}

	auditor := cfg.Auditor
	if auditor == nil {
		auditor = security.NewAuditor(nil, false)
	}

	inst := cfg.Instrumentation
	if inst == nil {
		var err error
		inst, err = instrumentation.New(instrumentation.Config{Enabled: false})
		if err != nil {
			return nil, fmt.Errorf("failed to create no-op instrumentation: %w", err)
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		tokens:      cfg.Tokens,
		flows:       cfg.Flows,
		users:       cfg.Users,
		clients:     cfg.Clients,
		rateLimiter: cfg.RateLimiter,
		mailer:      cfg.Mailer,
		ipLimiter:   cfg.IPLimiter,
		auditor:     auditor,
		inst:        inst,
		staticDir:   cfg.StaticDir,
		logger:      logger,
	}, nil
}
