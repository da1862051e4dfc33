package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/tabconsole/internal/adapter/websocket"
	"github.com/pscheid92/tabconsole/internal/app"
	"github.com/pscheid92/tabconsole/internal/domain"
	"github.com/pscheid92/tabconsole/internal/platform/config"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockIdentity struct {
	impersonateFn func(ctx context.Context, admin domain.Credential, targetUserID string) (domain.Credential, error)
	suspendUserFn func(ctx context.Context, cred domain.Credential, userID string) (*domain.User, error)
}

var testAccounts = map[string]domain.Credential{
	"admin@example.com": "admin-cred",
	"john@example.com":  "john-cred",
}

var testViewers = map[domain.Credential]domain.Viewer{
	"admin-cred": {ID: "1", Name: "Admin", Role: domain.RoleAdmin},
	"john-cred":  {ID: "2", Name: "John", Role: domain.RoleBasic},
	"jane-cred":  {ID: "42", Name: "Jane", Role: domain.RoleBasic},
}

func (m *mockIdentity) SignIn(_ context.Context, email, _ string) (domain.Credential, error) {
	cred, ok := testAccounts[email]
	if !ok {
		return "", &domain.AuthenticationError{Message: "Invalid email or password"}
	}
	return cred, nil
}

func (m *mockIdentity) Impersonate(ctx context.Context, admin domain.Credential, targetUserID string) (domain.Credential, error) {
	if m.impersonateFn != nil {
		return m.impersonateFn(ctx, admin, targetUserID)
	}
	return "jane-cred", nil
}

func (m *mockIdentity) Unimpersonate(context.Context, domain.Credential) (domain.Credential, error) {
	return "admin-cred", nil
}

func (m *mockIdentity) FetchViewer(_ context.Context, cred domain.Credential) (*domain.Viewer, error) {
	v, ok := testViewers[cred]
	if !ok {
		return nil, &domain.AuthenticationError{}
	}
	return &v, nil
}

func (m *mockIdentity) ListUsers(context.Context, domain.Credential) ([]domain.User, error) {
	return []domain.User{{ID: "42", Name: "Jane", Email: "jane@example.com", Role: domain.RoleBasic}}, nil
}

func (m *mockIdentity) SuspendUser(ctx context.Context, cred domain.Credential, userID string) (*domain.User, error) {
	if m.suspendUserFn != nil {
		return m.suspendUserFn(ctx, cred, userID)
	}
	now := time.Now()
	return &domain.User{ID: userID, SuspendedAt: &now}, nil
}

func (m *mockIdentity) ActivateUser(_ context.Context, _ domain.Credential, userID string) (*domain.User, error) {
	return &domain.User{ID: userID}, nil
}

// --- Test helpers ---

func newTestConfig() *config.Config {
	return &config.Config{
		AppEnv:          "development",
		Port:            "0",
		AppURL:          "http://localhost:8080",
		TabSecret:       "0123456789abcdef0123456789abcdef",
		TabCookieMaxAge: time.Hour,
		SignInRateLimit: 100,
		SignInBurst:     100,
	}
}

func newTestServer(t *testing.T, identity *mockIdentity, checks ...HealthCheck) *Server {
	t.Helper()
	clock := clockwork.NewFakeClock()
	registry := app.NewRegistry(app.RegistryConfig{
		Identity: identity,
		Viewers:  identity,
		CacheTTL: time.Minute,
		Clock:    clock,
	})
	t.Cleanup(registry.Stop)

	cfg := newTestConfig()
	streamer := websocket.NewStreamer(websocket.NewCheckOrigin(cfg.AppURL, true), clock, nil)
	return NewServer(cfg, app.NewService(registry, identity, nil, nil), streamer, Options{HealthChecks: checks})
}

type envelope struct {
	Data     json.RawMessage `json:"data"`
	Navigate *app.Navigation `json:"navigate"`
	Error    string          `json:"error"`
	Type     string          `json:"type"`
	Redirect string          `json:"redirect"`
	Errors   []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"errors"`
}

// browser is one browser: a cookie jar and one open tab.
type browser struct {
	t       *testing.T
	srv     *Server
	cookies []*http.Cookie
	tabID   string
}

func newBrowser(t *testing.T, srv *Server) *browser {
	t.Helper()
	b := &browser{t: t, srv: srv}

	rec := b.do(http.MethodPost, "/api/tabs", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	b.cookies = rec.Result().Cookies()

	var opened openTabResponse
	b.decode(rec, &opened)
	b.tabID = opened.TabID
	return b
}

func (b *browser) do(method, path string, body any) *httptest.ResponseRecorder {
	b.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(b.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if b.tabID != "" {
		req.Header.Set(tabHeader, b.tabID)
	}
	for _, c := range b.cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	b.srv.echo.ServeHTTP(rec, req)
	return rec
}

func (b *browser) envelope(rec *httptest.ResponseRecorder) envelope {
	b.t.Helper()
	var env envelope
	require.NoError(b.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func (b *browser) decode(rec *httptest.ResponseRecorder, dst any) {
	b.t.Helper()
	require.NoError(b.t, json.Unmarshal(b.envelope(rec).Data, dst))
}

func (b *browser) signIn(email string) {
	b.t.Helper()
	rec := b.do(http.MethodPost, "/api/session", signInRequest{Email: email, Password: "1"})
	require.Equal(b.t, http.StatusOK, rec.Code, rec.Body.String())
}
