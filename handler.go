package sso

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agusdev/sso/storage"
	"github.com/agusdev/sso/tokens"
	"github.com/agusdev/sso/users"
)

// activationEmailTimeout bounds the background SMTP delivery started
// after registration.
const activationEmailTimeout = 30 * time.Second

// Handler returns the HTTP surface of the service.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /oauth2/token", s.instrumented("/oauth2/token", s.handleToken))
	mux.HandleFunc("GET /oauth2/login", s.instrumented("/oauth2/login", s.handleLoginPage))
	mux.HandleFunc("POST /oauth2/login", s.instrumented("/oauth2/login", s.handleLogin))
	mux.HandleFunc("GET /register", s.instrumented("/register", s.handleRegisterPage))
	mux.HandleFunc("POST /register", s.instrumented("/register", s.handleRegister))
	mux.HandleFunc("GET /activate", s.instrumented("/activate", s.handleActivateGet))
	mux.HandleFunc("POST /activate", s.instrumented("/activate", s.handleActivatePost))
	mux.HandleFunc("POST /send-activation", s.instrumented("/send-activation", s.handleSendActivation))
	mux.HandleFunc("GET /profile", s.instrumented("/profile", s.handleProfile))

	return mux
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrumented applies per-IP throttling and request metrics.
func (s *Server) instrumented(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.ipLimiter != nil && !s.ipLimiter.Allow(clientIP(r)) {
			s.inst.Metrics().RecordRateLimitExceeded(r.Context(), "ip")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)

		s.inst.Metrics().RecordHTTPRequest(r.Context(), r.Method, endpoint, rec.status,
			float64(time.Since(start).Milliseconds()))
	}
}

// handleToken implements POST /oauth2/token.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.inst.Tracer("http").Start(r.Context(), "oauth2.token")
	defer span.End()

	if err := r.ParseForm(); err != nil {
		s.writeOAuthError(w, NewOAuthError(ErrorCodeInvalidGrant, "malformed request", http.StatusBadRequest))
		return
	}

	params := &AccessTokenParams{
		GrantType:    r.PostFormValue("grant_type"),
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		ClientID:     r.PostFormValue("client_id"),
		ClientSecret: r.PostFormValue("client_secret"),
	}

	resp, err := s.flows.AccessToken(ctx, params)
	if err != nil {
		oauthErr := MapGrantError(err)
		s.inst.Metrics().RecordGrantFailure(ctx, oauthErr.Code)

		switch {
		case errors.Is(err, ErrAuthorizationCodeUsed):
			s.inst.Metrics().RecordCodeReuseDetected(ctx)
			s.logger.Debug("Grant rejected", "reason", err)
		case errors.Is(err, ErrClientAuthenticationFailed):
			s.logger.Warn("Client authentication failed", "client_id", params.ClientID)
		case oauthErr.Status >= http.StatusInternalServerError:
			s.logger.Error("Token endpoint internal error", "error", err)
		default:
			s.logger.Debug("Grant rejected", "reason", err)
		}

		s.writeOAuthError(w, oauthErr)
		return
	}

	s.inst.Metrics().RecordCodeExchange(ctx, params.ClientID)
	s.inst.Metrics().RecordTokenIssued(ctx, string(tokens.KindAccessToken), params.ClientID)
	s.auditor.LogTokenIssued("", params.ClientID, clientIP(r), string(tokens.KindAccessToken))

	s.writeJSON(w, http.StatusOK, resp)
}

// handleLoginPage serves the login form.
func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.serveStatic(w, r, "login.html")
}

// handleLogin implements the password login step of the grant: it
// validates the client and redirect, authenticates the user, and hands
// the authorization code back through the redirect.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}

	clientID := r.PostFormValue("client_id")
	redirectURI := r.PostFormValue("redirect_uri")
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	client, err := s.clients.ClientByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			http.Error(w, "unknown client", http.StatusBadRequest)
			return
		}
		s.logger.Error("Client lookup failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if redirectURI != client.RedirectURI {
		http.Error(w, "redirect_uri mismatch", http.StatusBadRequest)
		return
	}

	user, err := s.users.ValidateCredentials(ctx, username, password)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrUserNotFound), errors.Is(err, users.ErrWrongPassword):
			s.auditor.LogUserAuthFailure("", clientIP(r), "invalid_credentials")
			s.redirectLoginError(w, r, clientID, redirectURI, "invalid_credentials")
		case errors.Is(err, users.ErrNotActivated):
			s.auditor.LogUserAuthFailure("", clientIP(r), "not_activated")
			s.redirectLoginError(w, r, clientID, redirectURI, "not_activated")
		default:
			s.logger.Error("Credential validation failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	code, err := s.flows.IssueAuthorizationCode(clientID, user.ID)
	if err != nil {
		s.logger.Error("Failed to issue authorization code", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.inst.Metrics().RecordTokenIssued(ctx, string(tokens.KindAuthorizationCode), clientID)
	s.auditor.LogTokenIssued(user.ID.String(), clientID, clientIP(r), string(tokens.KindAuthorizationCode))

	target, err := url.Parse(redirectURI)
	if err != nil {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}
	q := target.Query()
	q.Set("code", code)
	target.RawQuery = q.Encode()

	http.Redirect(w, r, target.String(), http.StatusSeeOther)
}

// redirectLoginError sends the browser back to the login form with an
// error hint, preserving the client context so the retry still lands on
// the same grant.
func (s *Server) redirectLoginError(w http.ResponseWriter, r *http.Request, clientID, redirectURI, reason string) {
	q := url.Values{}
	q.Set("error", reason)
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURI)
	http.Redirect(w, r, "/oauth2/login?"+q.Encode(), http.StatusSeeOther)
}

// handleRegisterPage serves the registration form.
func (s *Server) handleRegisterPage(w http.ResponseWriter, r *http.Request) {
	s.serveStatic(w, r, "register.html")
}

// handleRegister implements POST /register.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}

	user, err := s.users.Register(ctx,
		r.PostFormValue("username"),
		r.PostFormValue("email"),
		r.PostFormValue("password"),
	)
	if err != nil {
		switch {
		case errors.Is(err, users.ErrInvalidUsername),
			errors.Is(err, users.ErrInvalidEmail),
			errors.Is(err, users.ErrInvalidPassword):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, storage.ErrUsernameTaken):
			http.Error(w, "username already taken", http.StatusConflict)
		case errors.Is(err, storage.ErrEmailTaken):
			http.Error(w, "email already taken", http.StatusConflict)
		default:
			s.logger.Error("Registration failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	s.inst.Metrics().RecordUserRegistered(ctx)
	s.auditor.LogUserRegistered(user.ID.String(), clientIP(r))

	// Delivery is best-effort; the account exists either way and the
	// activation email can be re-requested.
	s.sendActivationEmail(user)

	s.writeJSON(w, http.StatusCreated, &RegisterResponse{
		ID:       user.ID.String(),
		Username: user.Username,
		Email:    user.Email,
	})
}

// handleSendActivation implements POST /send-activation with the
// per-address rate limit.
func (s *Server) handleSendActivation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}

	address := r.PostFormValue("email")
	if address == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}

	allowed, err := s.rateLimiter.CheckActivationEmail(ctx, address)
	if err != nil {
		s.logger.Error("Rate limit check failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !allowed {
		s.inst.Metrics().RecordRateLimitExceeded(ctx, "activation_email")
		s.auditor.LogRateLimitExceeded(clientIP(r), "")
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	user, err := s.users.ByEmail(ctx, address)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			// Same response as success so addresses cannot be probed.
			w.WriteHeader(http.StatusNoContent)
			return
		}
		s.logger.Error("User lookup failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if !user.Activated() {
		s.sendActivationEmail(user)
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleActivateGet serves the activation page, or redeems directly
// when the request carries the code from an emailed link.
func (s *Server) handleActivateGet(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("activation_code")
	if code == "" {
		s.serveStatic(w, r, "activate.html")
		return
	}
	s.activate(w, r, code)
}

// handleActivatePost redeems an activation code submitted as a form.
func (s *Server) handleActivatePost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	s.activate(w, r, r.PostFormValue("activation_code"))
}

func (s *Server) activate(w http.ResponseWriter, r *http.Request, code string) {
	ctx := r.Context()

	claims, err := s.tokens.VerifyActivationCode(code)
	if err != nil {
		if errors.Is(err, tokens.ErrExpiredToken) {
			http.Error(w, "activation code expired", http.StatusBadRequest)
		} else {
			http.Error(w, "invalid activation code", http.StatusBadRequest)
		}
		return
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		http.Error(w, "invalid activation code", http.StatusBadRequest)
		return
	}

	if err := s.users.Activate(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			http.Error(w, "invalid activation code", http.StatusBadRequest)
			return
		}
		s.logger.Error("Activation failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.inst.Metrics().RecordUserActivated(ctx)
	s.auditor.LogUserActivated(userID.String(), clientIP(r))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("account activated\n"))
}

// handleProfile implements GET /profile behind a Bearer access token.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}

	claims, err := s.tokens.VerifyAccessToken(token)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		http.Error(w, "invalid access token", http.StatusUnauthorized)
		return
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		http.Error(w, "invalid access token", http.StatusUnauthorized)
		return
	}

	user, err := s.users.ByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			http.Error(w, "invalid access token", http.StatusUnauthorized)
			return
		}
		s.logger.Error("Profile lookup failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, &ProfileResponse{
		Username: user.Username,
		Email:    user.Email,
	})
}

// sendActivationEmail mints an activation code and delivers it in the
// background.
func (s *Server) sendActivationEmail(user *storage.User) {
	if s.mailer == nil {
		s.logger.Info("Mailer not configured, skipping activation email", "user_id", user.ID)
		return
	}

	code, err := s.tokens.CreateActivationCode(user.ID)
	if err != nil {
		s.logger.Error("Failed to create activation code", "error", err)
		return
	}

	to := user.Email
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), activationEmailTimeout)
		defer cancel()

		if err := s.mailer.SendActivationEmail(ctx, to, code); err != nil {
			s.logger.Error("Failed to send activation email", "error", err)
		}
	}()
}

func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request, name string) {
	if s.staticDir == "" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, filepath.Join(s.staticDir, name))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writeOAuthError(w http.ResponseWriter, oauthErr *OAuthError) {
	resp := &OAuthErrorResponse{Error: oauthErr.Code}
	if oauthErr.Description != "" {
		resp.ErrorDescription = &oauthErr.Description
	}
	s.writeJSON(w, oauthErr.Status, resp)
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	authz := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(authz, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

// clientIP returns the originating address, preferring the first
// X-Forwarded-For entry set by the reverse proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
