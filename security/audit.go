package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection. User
// identifiers are hashed before logging; submitted secrets never reach
// the log at all.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenIssued logs when a token is issued
func (a *Auditor) LogTokenIssued(userID, clientID, ipAddress, kind string) {
	a.LogEvent(Event{
		Type:      "token_issued",
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"kind": kind,
		},
	})
}

// LogClientAuthFailure logs a failed client authentication at the token
// endpoint. The submitted secret is never included.
func (a *Auditor) LogClientAuthFailure(clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      "client_auth_failure",
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogUserAuthFailure logs a failed password login
func (a *Auditor) LogUserAuthFailure(userID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      "user_auth_failure",
		UserID:    userID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogCodeReplay logs a redemption attempt for an already-consumed
// authorization code
func (a *Auditor) LogCodeReplay(clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      "authorization_code_replay",
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, userID string) {
	a.LogEvent(Event{
		Type:      "rate_limit_exceeded",
		UserID:    userID,
		IPAddress: ipAddress,
	})
}

// LogUserRegistered logs a new account registration
func (a *Auditor) LogUserRegistered(userID, ipAddress string) {
	a.LogEvent(Event{
		Type:      "user_registered",
		UserID:    userID,
		IPAddress: ipAddress,
	})
}

// LogUserActivated logs a successful account activation
func (a *Auditor) LogUserActivated(userID, ipAddress string) {
	a.LogEvent(Event{
		Type:      "user_activated",
		UserID:    userID,
		IPAddress: ipAddress,
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
