package sso

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/agusdev/sso/tokens"
)

// Grant errors form a closed set; the HTTP layer maps every member to a
// wire error in MapGrantError and treats anything else as internal.
var (
	ErrUnsupportedGrantType       = errors.New("unsupported grant type")
	ErrClientAuthenticationFailed = errors.New("client authentication failed")
	ErrTokenTypeMismatch          = errors.New("token type mismatch")
	ErrTokenAudienceMismatch      = errors.New("token audience mismatch")
	ErrRedirectURIMismatch        = errors.New("redirect uri mismatch")
	ErrAuthorizationCodeUsed      = errors.New("authorization code already used")
)

// OAuth error codes as constants
const (
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrorCodeServerError          = "server_error"
)

// OAuthError represents an OAuth 2.0 error response
type OAuthError struct {
	Code        string // OAuth error code (e.g., "invalid_grant")
	Description string // Human-readable error description, may be empty
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *OAuthError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError creates a new OAuth error
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

func errInvalidGrant(desc string) *OAuthError {
	return NewOAuthError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
}

// MapGrantError translates a grant-flow error into its wire
// representation. Every member of the closed grant-error set and both
// codec errors have an explicit mapping; anything else is an internal
// failure surfaced as an opaque server_error.
func MapGrantError(err error) *OAuthError {
	switch {
	case errors.Is(err, ErrUnsupportedGrantType):
		return NewOAuthError(ErrorCodeUnsupportedGrantType, "", http.StatusBadRequest)
	case errors.Is(err, ErrClientAuthenticationFailed):
		return NewOAuthError(ErrorCodeInvalidClient, "", http.StatusUnauthorized)
	case errors.Is(err, ErrTokenTypeMismatch):
		return errInvalidGrant("token type mismatch")
	case errors.Is(err, ErrTokenAudienceMismatch):
		return errInvalidGrant("token audience mismatch")
	case errors.Is(err, ErrRedirectURIMismatch):
		return errInvalidGrant("redirect uri mismatch")
	case errors.Is(err, ErrAuthorizationCodeUsed):
		return errInvalidGrant("authorization code already used")
	case errors.Is(err, tokens.ErrExpiredToken):
		return errInvalidGrant("expired token")
	case errors.Is(err, tokens.ErrInvalidToken):
		return errInvalidGrant("invalid token")
	default:
		return NewOAuthError(ErrorCodeServerError, "", http.StatusInternalServerError)
	}
}
