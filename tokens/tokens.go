// Package tokens implements the signed-claims codec and the token
// service of the SSO subsystem. Tokens are stateless HS256-signed JWTs
// carrying a kind discriminator, audience, subject, and expiry; the
// only server-side state is the single-use marker written when an
// authorization code is redeemed.
package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer identifies tokens minted by this service. Verification
// rejects any other issuer.
const Issuer = "agus.dev sso"

// Kind discriminates which operation may consume a token. It is signed
// into the claims, so a token cannot be replayed against an operation
// expecting a different kind.
type Kind string

const (
	KindAuthorizationCode Kind = "authorization_code"
	KindAccessToken       Kind = "access_token"
	KindActivationCode    Kind = "activation_code"

	// KindRefreshToken is reserved. No operation issues or accepts it.
	KindRefreshToken Kind = "refresh_token"
)

// Codec errors. ErrExpiredToken is kept distinct from ErrInvalidToken
// because callers surface a different hint to clients; every other
// verification failure collapses into ErrInvalidToken.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// Claims is the signed payload of every token. The field names are the
// wire format; Audience stays a plain string because every token in
// this system has exactly one audience.
type Claims struct {
	Kind      Kind   `json:"jwt_type"`
	Audience  string `json:"aud"`
	ExpiresAt int64  `json:"exp"`
	IssuedAt  int64  `json:"iat"`
	Issuer    string `json:"iss"`
	Subject   string `json:"sub"`
}

// jwt.Claims implementation. Audience validation is not enabled at the
// codec layer (audience semantics differ per token kind), but the
// parser still needs these accessors for issuer and time validation.

func (c *Claims) GetExpirationTime() (*jwt.NumericDate, error) {
	if c.ExpiresAt == 0 {
		return nil, nil
	}
	return jwt.NewNumericDate(time.Unix(c.ExpiresAt, 0)), nil
}

func (c *Claims) GetIssuedAt() (*jwt.NumericDate, error) {
	if c.IssuedAt == 0 {
		return nil, nil
	}
	return jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)), nil
}

func (c *Claims) GetNotBefore() (*jwt.NumericDate, error) {
	return nil, nil
}

func (c *Claims) GetIssuer() (string, error) {
	return c.Issuer, nil
}

func (c *Claims) GetSubject() (string, error) {
	return c.Subject, nil
}

func (c *Claims) GetAudience() (jwt.ClaimStrings, error) {
	if c.Audience == "" {
		return nil, nil
	}
	return jwt.ClaimStrings{c.Audience}, nil
}

// Codec signs and verifies claims with a symmetric secret.
// Verification enforces signature, HS256 algorithm, issuer, presence of
// expiry, and expiry itself with zero clock-skew leeway. Audience is
// deferred to callers.
type Codec struct {
	secret []byte
	parser *jwt.Parser
}

// NewCodec creates a codec for the given signing secret.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("signing secret is required")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		// Zero leeway: a token one second past exp is already expired.
		jwt.WithLeeway(0),
	)

	return &Codec{secret: secret, parser: parser}, nil
}

// Sign serializes and signs claims. Fails only on serialization or
// signing failure, which callers treat as internal.
func (c *Codec) Sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

// Verify validates the signature, issuer, and expiry of a token and
// returns its claims. Signature and structural failures win over
// expiry so a corrupted token is never reported as merely expired.
func (c *Codec) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}

	_, err := c.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid),
			errors.Is(err, jwt.ErrTokenMalformed),
			errors.Is(err, jwt.ErrTokenInvalidIssuer),
			errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%w: %v", ErrExpiredToken, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	}

	return claims, nil
}
