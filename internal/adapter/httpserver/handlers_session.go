package httpserver

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/tabconsole/internal/app"
	"github.com/pscheid92/tabconsole/internal/domain"
	apperrors "github.com/pscheid92/tabconsole/internal/platform/errors"
)

func (s *Server) registerSessionRoutes(api *echo.Group, signInLimiter echo.MiddlewareFunc) {
	api.GET("/session", s.handleGetSession)
	api.POST("/session", s.handleSignIn, signInLimiter)
	api.DELETE("/session", s.handleLogout)
	api.GET("/viewer", s.handleViewer)
	api.GET("/landing", s.handleLanding)
	api.POST("/impersonate", s.handleImpersonate, signInLimiter)
	api.DELETE("/impersonate", s.handleUnimpersonate)
}

type sessionView struct {
	State        string         `json:"state"`
	Viewer       *domain.Viewer `json:"viewer,omitempty"`
	Impersonated bool           `json:"impersonated"`
	Landing      string         `json:"landing,omitempty"`
}

func (s *Server) sessionView(c echo.Context, tab *app.Tab) (sessionView, error) {
	impersonated, err := tab.Session.IsImpersonatedSession(c.Request().Context())
	if err != nil {
		return sessionView{}, apperrors.InternalError("failed to read impersonation flag", err)
	}
	return sessionView{
		State:        tab.Session.State().String(),
		Viewer:       tab.Session.Viewer(),
		Impersonated: impersonated,
	}, nil
}

// handleGetSession resolves the viewer if a credential is present. Failures surface as the state.
func (s *Server) handleGetSession(c echo.Context) error {
	tab := tabFrom(c)

	_, err := tab.Session.Load(c.Request().Context())
	if err != nil && !isSessionOutcome(err) {
		return err
	}

	view, err := s.sessionView(c, tab)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, view)
}

// isSessionOutcome reports errors that are already reflected in the session state.
func isSessionOutcome(err error) bool {
	if errors.Is(err, domain.ErrNotAuthenticated) || errors.Is(err, domain.ErrAuthenticationRejected) {
		return true
	}
	_, ok := errors.AsType[*domain.TransportError](err)
	return ok
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignIn(c echo.Context) error {
	var req signInRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	tab := tabFrom(c)
	_, landing, err := s.app.SignIn(c.Request().Context(), tab, req.Email, req.Password)
	if err != nil {
		return err
	}

	view, err := s.sessionView(c, tab)
	if err != nil {
		return err
	}
	view.Landing = landing
	return respond(c, http.StatusOK, view)
}

func (s *Server) handleLogout(c echo.Context) error {
	tab := tabFrom(c)
	if err := s.app.Logout(c.Request().Context(), tab); err != nil {
		return apperrors.InternalError("failed to log out", err)
	}

	view, err := s.sessionView(c, tab)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, view)
}

// handleViewer guards protected pages: without a session the tab is sent to sign-in once.
func (s *Server) handleViewer(c echo.Context) error {
	viewer, err := tabFrom(c).Session.RequireAuthenticated(c.Request().Context())
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, viewer)
}

type landingResponse struct {
	Route string `json:"route"`
}

func (s *Server) handleLanding(c echo.Context) error {
	route, err := tabFrom(c).Session.LandingRoute(c.Request().Context())
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, landingResponse{Route: route})
}

type impersonateRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) handleImpersonate(c echo.Context) error {
	var req impersonateRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	if err := s.app.Impersonate(c.Request().Context(), tabFrom(c), req.UserID); err != nil {
		return err
	}
	return respond(c, http.StatusOK, nil)
}

func (s *Server) handleUnimpersonate(c echo.Context) error {
	if err := s.app.Unimpersonate(c.Request().Context(), tabFrom(c)); err != nil {
		return err
	}
	return respond(c, http.StatusOK, nil)
}
