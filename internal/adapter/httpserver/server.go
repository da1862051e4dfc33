// Package httpserver is the console's backend-for-frontend: a JSON API per browser tab plus the
// tab event stream, health and metrics endpoints.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/tabconsole/internal/adapter/metrics"
	"github.com/pscheid92/tabconsole/internal/adapter/websocket"
	"github.com/pscheid92/tabconsole/internal/app"
	"github.com/pscheid92/tabconsole/internal/domain"
	"github.com/pscheid92/tabconsole/internal/overlay"
	"github.com/pscheid92/tabconsole/internal/platform/config"
)

type appService interface {
	Tabs() *app.Registry
	SignIn(ctx context.Context, tab *app.Tab, email, password string) (*domain.Viewer, string, error)
	Logout(ctx context.Context, tab *app.Tab) error
	ListUsers(ctx context.Context, tab *app.Tab) ([]domain.User, error)
	RequestSuspend(ctx context.Context, tab *app.Tab, userID string) (overlay.Dialog, error)
	ConfirmDialog(ctx context.Context, tab *app.Tab, dialogID string) (*domain.User, error)
	CancelDialog(ctx context.Context, tab *app.Tab, dialogID string) error
	ActivateUser(ctx context.Context, tab *app.Tab, userID string) (*domain.User, error)
	Impersonate(ctx context.Context, tab *app.Tab, targetUserID string) error
	Unimpersonate(ctx context.Context, tab *app.Tab) error
}

// tabStreamer serves the event stream of one tab.
type tabStreamer interface {
	Serve(w http.ResponseWriter, r *http.Request, source websocket.EventSource) error
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	app      appService
	streamer tabStreamer

	cookies        *sessions.CookieStore
	httpMetrics    *metrics.HTTPMetrics
	metricsHandler http.Handler
	healthChecks   []HealthCheck
	startTime      time.Time
}

// Options are the optional parts of a Server.
type Options struct {
	HTTPMetrics    *metrics.HTTPMetrics
	MetricsHandler http.Handler
	HealthChecks   []HealthCheck
}

func NewServer(cfg *config.Config, app appService, streamer tabStreamer, opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:           e,
		config:         cfg,
		app:            app,
		streamer:       streamer,
		cookies:        setupCookieStore(cfg),
		httpMetrics:    opts.HTTPMetrics,
		metricsHandler: opts.MetricsHandler,
		healthChecks:   opts.HealthChecks,
		startTime:      time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// Cookie and header names
const (
	cookieName    = "tabconsole"
	cookieKeyTabs = "tabs"
	tabHeader     = "X-Tab-ID"
	tabQueryParam = "tab"
	contextKeyTab = "tab"
	maxOwnedTabs  = 32
)

func setupCookieStore(cfg *config.Config) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(cfg.TabSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.TabCookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteStrictMode,
	}
	return store
}
