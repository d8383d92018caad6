package tokens

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agusdev/sso/storage"
)

// Token lifetimes.
const (
	AuthorizationCodeTTL = 5 * time.Minute
	AccessTokenTTL       = 60 * time.Minute
	ActivationCodeTTL    = 15 * time.Minute

	// UsedCodeMarkerTTL is how long the single-use marker outlives a
	// redeemed authorization code. It matches AuthorizationCodeTTL: once
	// the marker expires the code itself has expired too, so replay past
	// the marker is impossible.
	UsedCodeMarkerTTL = 5 * time.Minute
)

// usedCodeKeyPrefix namespaces single-use markers in the KV store.
const usedCodeKeyPrefix = "authorization_token:"

// ActivationAudience is the fixed audience of activation codes, which
// are consumed by this service rather than by an OAuth client.
const ActivationAudience = Issuer

// Service issues and verifies the three token kinds and enforces
// single-use consumption of authorization codes through the KV store.
type Service struct {
	codec   *Codec
	claimer storage.KeyClaimer
	logger  *slog.Logger
}

// NewService creates a token service. The claimer must be backed by a
// store shared by all service instances; single-use enforcement is only
// as strong as its SetIfAbsent atomicity.
func NewService(secret []byte, claimer storage.KeyClaimer, logger *slog.Logger) (*Service, error) {
	codec, err := NewCodec(secret)
	if err != nil {
		return nil, err
	}
	if claimer == nil {
		return nil, fmt.Errorf("key claimer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{codec: codec, claimer: claimer, logger: logger}, nil
}

func (s *Service) issue(kind Kind, audience string, userID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()

	token, err := s.codec.Sign(&Claims{
		Kind:      kind,
		Audience:  audience,
		ExpiresAt: now.Add(ttl).Unix(),
		IssuedAt:  now.Unix(),
		Issuer:    Issuer,
		Subject:   userID.String(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to issue %s: %w", kind, err)
	}

	return token, nil
}

// CreateAuthorizationCode mints a 5-minute authorization code bound to
// the client that will redeem it.
func (s *Service) CreateAuthorizationCode(clientID string, userID uuid.UUID) (string, error) {
	return s.issue(KindAuthorizationCode, clientID, userID, AuthorizationCodeTTL)
}

// CreateAccessToken mints a 60-minute access token bound to the client
// it was issued through.
func (s *Service) CreateAccessToken(clientID string, userID uuid.UUID) (string, error) {
	return s.issue(KindAccessToken, clientID, userID, AccessTokenTTL)
}

// CreateActivationCode mints a 15-minute account-activation code.
func (s *Service) CreateActivationCode(userID uuid.UUID) (string, error) {
	return s.issue(KindActivationCode, ActivationAudience, userID, ActivationCodeTTL)
}

// Verify validates a token without a kind check and returns its
// claims. The grant flow uses it because it needs the claims before it
// can decide which error to surface; everything else goes through the
// kind-checked helpers.
func (s *Service) Verify(token string) (*Claims, error) {
	return s.codec.Verify(token)
}

func (s *Service) verifyKind(token string, kind Kind) (*Claims, error) {
	claims, err := s.codec.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.Kind != kind {
		return nil, fmt.Errorf("%w: token kind %q where %q required", ErrInvalidToken, claims.Kind, kind)
	}
	return claims, nil
}

// VerifyAccessToken validates a token and requires it to be an access
// token. A valid token of any other kind is ErrInvalidToken.
func (s *Service) VerifyAccessToken(token string) (*Claims, error) {
	return s.verifyKind(token, KindAccessToken)
}

// VerifyActivationCode validates a token and requires it to be an
// activation code.
func (s *Service) VerifyActivationCode(token string) (*Claims, error) {
	return s.verifyKind(token, KindActivationCode)
}

// MarkAuthorizationCodeAsUsed atomically records that a code has been
// redeemed. Returns true when this call consumed the code and false
// when the marker already existed (a replay). Under concurrent
// redemption of the same code exactly one caller observes true.
func (s *Service) MarkAuthorizationCodeAsUsed(ctx context.Context, code string) (bool, error) {
	created, err := s.claimer.SetIfAbsent(ctx, usedCodeKeyPrefix+code, code, UsedCodeMarkerTTL)
	if err != nil {
		return false, fmt.Errorf("failed to mark authorization code as used: %w", err)
	}

	if !created {
		s.logger.Warn("Authorization code replay attempt detected")
	}

	return created, nil
}
