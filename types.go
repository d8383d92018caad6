package sso

// GrantTypeAuthorizationCode is the only grant type the token endpoint
// accepts.
const GrantTypeAuthorizationCode = "authorization_code"

// TokenTypeBearer is the token_type of every issued access token.
const TokenTypeBearer = "Bearer"

// AccessTokenParams are the form parameters of POST /oauth2/token.
type AccessTokenParams struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
}

// AccessTokenResponse is the success body of the token endpoint.
// RefreshToken and Scope are always null; the fields exist so the body
// matches the OAuth response shape clients expect.
type AccessTokenResponse struct {
	AccessToken  string  `json:"access_token"`
	TokenType    string  `json:"token_type"`
	ExpiresIn    int64   `json:"expires_in"`
	RefreshToken *string `json:"refresh_token"`
	Scope        *string `json:"scope"`
}

// OAuthErrorResponse is the wire form of a failed token request.
type OAuthErrorResponse struct {
	Error            string  `json:"error"`
	ErrorDescription *string `json:"error_description"`
}

// ProfileResponse is the body of GET /profile.
type ProfileResponse struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// RegisterResponse is the body returned on successful registration.
type RegisterResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}
