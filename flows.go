package sso

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/agusdev/sso/security"
	"github.com/agusdev/sso/storage"
	"github.com/agusdev/sso/tokens"
)

// dummySecretHash is compared when the client does not exist so that
// authentication always costs one bcrypt comparison. Unknown client and
// wrong secret are indistinguishable by timing and by error value.
const dummySecretHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Flows implements the authorization-code grant state machine. The
// states live in the tokens themselves and in the KV single-use
// markers; Flows holds no mutable state of its own, so concurrent
// redemptions coordinate only through the KV store.
type Flows struct {
	tokens  *tokens.Service
	clients storage.ClientStore
	auditor *security.Auditor
	logger  *slog.Logger
}

// NewFlows creates the grant flow service.
func NewFlows(tokenService *tokens.Service, clients storage.ClientStore, auditor *security.Auditor, logger *slog.Logger) (*Flows, error) {
	if tokenService == nil {
		return nil, fmt.Errorf("token service is required")
	}
	if clients == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if auditor == nil {
		auditor = security.NewAuditor(nil, false)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Flows{
		tokens:  tokenService,
		clients: clients,
		auditor: auditor,
		logger:  logger,
	}, nil
}

// IssueAuthorizationCode mints an authorization code after a successful
// login. The login handler validates credentials before calling this.
func (f *Flows) IssueAuthorizationCode(clientID string, userID uuid.UUID) (string, error) {
	return f.tokens.CreateAuthorizationCode(clientID, userID)
}

// AccessToken redeems an authorization code for an access token. The
// validations run in a fixed order and short-circuit on first failure:
// client authentication comes before any token inspection so code
// validity cannot be used to probe client secrets, and the code is
// consumed last so an invalid request never burns a legitimate code.
func (f *Flows) AccessToken(ctx context.Context, params *AccessTokenParams) (*AccessTokenResponse, error) {
	client, err := f.authenticateClient(ctx, params.ClientID, params.ClientSecret)
	if err != nil {
		f.auditor.LogClientAuthFailure(params.ClientID, "")
		return nil, err
	}

	claims, err := f.tokens.Verify(params.Code)
	if err != nil {
		return nil, err
	}

	if params.GrantType != GrantTypeAuthorizationCode {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGrantType, params.GrantType)
	}
	if claims.Kind != tokens.KindAuthorizationCode {
		return nil, fmt.Errorf("%w: %q", ErrTokenTypeMismatch, claims.Kind)
	}
	if claims.Audience != params.ClientID {
		return nil, ErrTokenAudienceMismatch
	}
	if params.RedirectURI != client.RedirectURI {
		return nil, ErrRedirectURIMismatch
	}

	consumed, err := f.tokens.MarkAuthorizationCodeAsUsed(ctx, params.Code)
	if err != nil {
		return nil, err
	}
	if !consumed {
		f.auditor.LogCodeReplay(params.ClientID, "")
		return nil, ErrAuthorizationCodeUsed
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		// The subject was signed by us, so this is corruption, not input.
		return nil, fmt.Errorf("malformed subject in authorization code: %w", err)
	}

	accessToken, err := f.tokens.CreateAccessToken(params.ClientID, userID)
	if err != nil {
		return nil, err
	}

	f.logger.Debug("Authorization code exchanged", "client_id", params.ClientID)

	return &AccessTokenResponse{
		AccessToken: accessToken,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int64(tokens.AccessTokenTTL.Seconds()),
	}, nil
}

// authenticateClient looks up the client and verifies its secret. Both
// failure modes collapse into ErrClientAuthenticationFailed, and a
// bcrypt comparison is always performed.
func (f *Flows) authenticateClient(ctx context.Context, clientID, clientSecret string) (*storage.Client, error) {
	client, lookupErr := f.clients.ClientByID(ctx, clientID)

	hashToCompare := dummySecretHash
	if lookupErr == nil && client.SecretHash != "" {
		hashToCompare = client.SecretHash
	}

	compareErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(clientSecret))

	if lookupErr != nil || compareErr != nil {
		return nil, ErrClientAuthenticationFailed
	}

	return client, nil
}
