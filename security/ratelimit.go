// Package security provides the rate limiting and audit logging used by
// the SSO service.
package security

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agusdev/sso/storage"
)

// RateLimitWindows used by the service.
const (
	// ActivationEmailWindow is the minimum interval between activation
	// emails per address.
	ActivationEmailWindow = time.Minute

	activationEmailKeyPrefix = "activation_email:"
)

// RateLimiter is a first-caller-wins gate over the shared KV store. A
// key can be claimed once per window; because the claim lives in the
// KV store, the limit holds across all service instances.
type RateLimiter struct {
	claimer storage.KeyClaimer
	logger  *slog.Logger
}

// NewRateLimiter creates a KV-backed rate limiter.
func NewRateLimiter(claimer storage.KeyClaimer, logger *slog.Logger) (*RateLimiter, error) {
	if claimer == nil {
		return nil, fmt.Errorf("key claimer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{claimer: claimer, logger: logger}, nil
}

// CheckRateLimit reports whether the caller is within its allowed rate
// for key. The first call in a window claims the key and returns true;
// every later call before the window elapses returns false. The claim
// expires on its own, so a denied caller becomes allowed again once the
// window passes.
func (rl *RateLimiter) CheckRateLimit(ctx context.Context, key string, window time.Duration) (bool, error) {
	allowed, err := rl.claimer.SetIfAbsent(ctx, key, key, window)
	if err != nil {
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}

	if !allowed {
		rl.logger.Debug("Rate limit window still open", "key", key)
	}

	return allowed, nil
}

// CheckActivationEmail applies the per-address activation-email limit.
func (rl *RateLimiter) CheckActivationEmail(ctx context.Context, email string) (bool, error) {
	return rl.CheckRateLimit(ctx, activationEmailKeyPrefix+email, ActivationEmailWindow)
}
