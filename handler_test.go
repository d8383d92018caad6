package sso

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agusdev/sso/internal/testutil"
	"github.com/agusdev/sso/security"
	"github.com/agusdev/sso/storage/memory"
	"github.com/agusdev/sso/tokens"
	"github.com/agusdev/sso/users"
)

type sentMail struct {
	To   string
	Code string
}

// fakeMailer records deliveries on a channel so tests can wait for the
// background send.
type fakeMailer struct {
	mu   sync.Mutex
	sent chan sentMail
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{sent: make(chan sentMail, 16)}
}

func (m *fakeMailer) SendActivationEmail(_ context.Context, to, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent <- sentMail{To: to, Code: code}
	return nil
}

func (m *fakeMailer) waitForMail(t *testing.T) sentMail {
	t.Helper()

	select {
	case mail := <-m.sent:
		return mail
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for activation email")
		return sentMail{}
	}
}

type testServer struct {
	handler http.Handler
	store   *memory.Store
	tokens  *tokens.Service
	users   *users.Service
	mailer  *fakeMailer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := testutil.NewStore(t)
	testutil.SeedClient(t, store, testClientID, testRedirectURI)

	tokenService, err := tokens.NewService(testutil.SigningSecret, store, nil)
	if err != nil {
		t.Fatalf("tokens.NewService() error = %v", err)
	}

	userService, err := users.NewService(store, nil)
	if err != nil {
		t.Fatalf("users.NewService() error = %v", err)
	}

	flows, err := NewFlows(tokenService, store, nil, nil)
	if err != nil {
		t.Fatalf("NewFlows() error = %v", err)
	}

	rateLimiter, err := security.NewRateLimiter(store, nil)
	if err != nil {
		t.Fatalf("security.NewRateLimiter() error = %v", err)
	}

	mailer := newFakeMailer()

	server, err := NewServer(ServerConfig{
		Tokens:      tokenService,
		Flows:       flows,
		Users:       userService,
		Clients:     store,
		RateLimiter: rateLimiter,
		Mailer:      mailer,
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	return &testServer{
		handler: server.Handler(),
		store:   store,
		tokens:  tokenService,
		users:   userService,
		mailer:  mailer,
	}
}

func (ts *testServer) postForm(t *testing.T, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func tokenForm(code string) url.Values {
	return url.Values{
		"grant_type":    {GrantTypeAuthorizationCode},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"client_id":     {testClientID},
		"client_secret": {testutil.ClientSecret},
	}
}

func TestTokenEndpoint(t *testing.T) {
	ts := newTestServer(t)

	user := testutil.SeedUser(t, ts.store, "alice", "alice@example.com", "password1", true)
	code, err := ts.tokens.CreateAuthorizationCode(testClientID, user.ID)
	if err != nil {
		t.Fatalf("CreateAuthorizationCode() error = %v", err)
	}

	rec := ts.postForm(t, "/oauth2/token", tokenForm(code))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp AccessTokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if resp.TokenType != TokenTypeBearer {
		t.Errorf("token_type = %q, want %q", resp.TokenType, TokenTypeBearer)
	}
	if resp.ExpiresIn != int64(tokens.AccessTokenTTL.Seconds()) {
		t.Errorf("expires_in = %d, want %d", resp.ExpiresIn, int64(tokens.AccessTokenTTL.Seconds()))
	}
	if _, err := ts.tokens.VerifyAccessToken(resp.AccessToken); err != nil {
		t.Errorf("issued access token does not verify: %v", err)
	}

	// Replay.
	rec = ts.postForm(t, "/oauth2/token", tokenForm(code))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("replay status = %d, want 400", rec.Code)
	}
	var oauthErr OAuthErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &oauthErr); err != nil {
		t.Fatalf("invalid error body: %v", err)
	}
	if oauthErr.Error != ErrorCodeInvalidGrant {
		t.Errorf("error = %q, want %q", oauthErr.Error, ErrorCodeInvalidGrant)
	}
	if oauthErr.ErrorDescription == nil || *oauthErr.ErrorDescription != "authorization code already used" {
		t.Errorf("error_description = %v, want authorization code already used", oauthErr.ErrorDescription)
	}
}

func TestTokenEndpointInvalidClient(t *testing.T) {
	ts := newTestServer(t)

	user := testutil.SeedUser(t, ts.store, "alice", "alice@example.com", "password1", true)
	code, err := ts.tokens.CreateAuthorizationCode(testClientID, user.ID)
	if err != nil {
		t.Fatalf("CreateAuthorizationCode() error = %v", err)
	}

	form := tokenForm(code)
	form.Set("client_secret", "wrong")

	rec := ts.postForm(t, "/oauth2/token", form)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	var oauthErr OAuthErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &oauthErr); err != nil {
		t.Fatalf("invalid error body: %v", err)
	}
	if oauthErr.Error != ErrorCodeInvalidClient {
		t.Errorf("error = %q, want %q", oauthErr.Error, ErrorCodeInvalidClient)
	}
	if oauthErr.ErrorDescription != nil {
		t.Errorf("error_description = %q, want null", *oauthErr.ErrorDescription)
	}

	// The failed attempt did not consume the code.
	rec = ts.postForm(t, "/oauth2/token", tokenForm(code))
	if rec.Code != http.StatusOK {
		t.Errorf("status after corrected credentials = %d, want 200", rec.Code)
	}
}

func TestLoginFlow(t *testing.T) {
	ts := newTestServer(t)
	testutil.SeedUser(t, ts.store, "alice", "alice@example.com", "password1", true)

	rec := ts.postForm(t, "/oauth2/login", url.Values{
		"client_id":    {testClientID},
		"redirect_uri": {testRedirectURI},
		"username":     {"alice"},
		"password":     {"password1"},
	})
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303; body = %s", rec.Code, rec.Body)
	}

	location, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("invalid Location header: %v", err)
	}
	if got := location.Scheme + "://" + location.Host + location.Path; got != testRedirectURI {
		t.Errorf("redirect target = %q, want %q", got, testRedirectURI)
	}

	code := location.Query().Get("code")
	if code == "" {
		t.Fatal("redirect carries no code")
	}

	// The handed-out code redeems end to end.
	tokenRec := ts.postForm(t, "/oauth2/token", tokenForm(code))
	if tokenRec.Code != http.StatusOK {
		t.Errorf("token exchange status = %d, want 200; body = %s", tokenRec.Code, tokenRec.Body)
	}
}

func TestLoginRejections(t *testing.T) {
	ts := newTestServer(t)
	testutil.SeedUser(t, ts.store, "alice", "alice@example.com", "password1", true)
	testutil.SeedUser(t, ts.store, "bob", "bob@example.com", "password1", false)

	t.Run("wrong password redirects back", func(t *testing.T) {
		rec := ts.postForm(t, "/oauth2/login", url.Values{
			"client_id":    {testClientID},
			"redirect_uri": {testRedirectURI},
			"username":     {"alice"},
			"password":     {"wrong"},
		})
		if rec.Code != http.StatusSeeOther {
			t.Fatalf("status = %d, want 303", rec.Code)
		}
		location, err := url.Parse(rec.Header().Get("Location"))
		if err != nil {
			t.Fatalf("invalid Location header: %v", err)
		}
		if location.Path != "/oauth2/login" {
			t.Errorf("redirect path = %q, want /oauth2/login", location.Path)
		}
		if location.Query().Get("error") != "invalid_credentials" {
			t.Errorf("error = %q, want invalid_credentials", location.Query().Get("error"))
		}
	})

	t.Run("inactive account", func(t *testing.T) {
		rec := ts.postForm(t, "/oauth2/login", url.Values{
			"client_id":    {testClientID},
			"redirect_uri": {testRedirectURI},
			"username":     {"bob"},
			"password":     {"password1"},
		})
		if rec.Code != http.StatusSeeOther {
			t.Fatalf("status = %d, want 303", rec.Code)
		}
		location, _ := url.Parse(rec.Header().Get("Location"))
		if location.Query().Get("error") != "not_activated" {
			t.Errorf("error = %q, want not_activated", location.Query().Get("error"))
		}
	})

	t.Run("unknown client", func(t *testing.T) {
		rec := ts.postForm(t, "/oauth2/login", url.Values{
			"client_id":    {"nobody"},
			"redirect_uri": {testRedirectURI},
			"username":     {"alice"},
			"password":     {"password1"},
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("redirect mismatch", func(t *testing.T) {
		rec := ts.postForm(t, "/oauth2/login", url.Values{
			"client_id":    {testClientID},
			"redirect_uri": {"https://evil/cb"},
			"username":     {"alice"},
			"password":     {"password1"},
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestRegisterEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.postForm(t, "/register", url.Values{
		"username": {"alice"},
		"email":    {"alice@example.com"},
		"password": {"password1"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body = %s", rec.Code, rec.Body)
	}

	var resp RegisterResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if resp.Username != "alice" || resp.Email != "alice@example.com" {
		t.Errorf("response = %+v", resp)
	}

	// Registration triggers a best-effort activation email.
	mail := ts.mailer.waitForMail(t)
	if mail.To != "alice@example.com" {
		t.Errorf("mail.To = %q, want alice@example.com", mail.To)
	}
	if _, err := ts.tokens.VerifyActivationCode(mail.Code); err != nil {
		t.Errorf("emailed code is not a valid activation code: %v", err)
	}

	t.Run("duplicate username", func(t *testing.T) {
		rec := ts.postForm(t, "/register", url.Values{
			"username": {"alice"},
			"email":    {"other@example.com"},
			"password": {"password1"},
		})
		if rec.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409", rec.Code)
		}
	})

	t.Run("invalid fields", func(t *testing.T) {
		rec := ts.postForm(t, "/register", url.Values{
			"username": {"xy"},
			"email":    {"x@example.com"},
			"password": {"password1"},
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestSendActivationRateLimit(t *testing.T) {
	ts := newTestServer(t)
	testutil.SeedUser(t, ts.store, "alice", "alice@example.com", "password1", false)

	form := url.Values{"email": {"alice@example.com"}}

	rec := ts.postForm(t, "/send-activation", form)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204; body = %s", rec.Code, rec.Body)
	}
	ts.mailer.waitForMail(t)

	// Within the window the same address is rejected.
	rec = ts.postForm(t, "/send-activation", form)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status within window = %d, want 429", rec.Code)
	}

	// Unknown addresses are indistinguishable from known ones.
	rec = ts.postForm(t, "/send-activation", url.Values{"email": {"nobody@example.com"}})
	if rec.Code != http.StatusNoContent {
		t.Errorf("status for unknown address = %d, want 204", rec.Code)
	}
}

func TestActivateEndpoint(t *testing.T) {
	ts := newTestServer(t)
	user := testutil.SeedUser(t, ts.store, "alice", "alice@example.com", "password1", false)

	code, err := ts.tokens.CreateActivationCode(user.ID)
	if err != nil {
		t.Fatalf("CreateActivationCode() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/activate?activation_code="+url.QueryEscape(code), nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", rec.Code, rec.Body)
	}

	got, err := ts.users.ByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("ByID() error = %v", err)
	}
	if !got.Activated() {
		t.Error("user not activated after redeeming code")
	}

	t.Run("garbage code", func(t *testing.T) {
		rec := ts.postForm(t, "/activate", url.Values{"activation_code": {"garbage"}})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("wrong kind", func(t *testing.T) {
		access, err := ts.tokens.CreateAccessToken(testClientID, user.ID)
		if err != nil {
			t.Fatalf("CreateAccessToken() error = %v", err)
		}
		rec := ts.postForm(t, "/activate", url.Values{"activation_code": {access}})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestProfileEndpoint(t *testing.T) {
	ts := newTestServer(t)
	user := testutil.SeedUser(t, ts.store, "alice", "alice@example.com", "password1", true)

	token, err := ts.tokens.CreateAccessToken(testClientID, user.ID)
	if err != nil {
		t.Fatalf("CreateAccessToken() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/profile", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", rec.Code, rec.Body)
	}

	var resp ProfileResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if resp.Username != "alice" || resp.Email != "alice@example.com" {
		t.Errorf("response = %+v", resp)
	}

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/profile", nil)
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
		if rec.Header().Get("WWW-Authenticate") == "" {
			t.Error("missing WWW-Authenticate header")
		}
	})

	t.Run("authorization code is not an access token", func(t *testing.T) {
		code, err := ts.tokens.CreateAuthorizationCode(testClientID, user.ID)
		if err != nil {
			t.Fatalf("CreateAuthorizationCode() error = %v", err)
		}
		req := httptest.NewRequest(http.MethodGet, "/profile", nil)
		req.Header.Set("Authorization", "Bearer "+code)
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})
}
