package devidentity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pscheid92/tabconsole/internal/domain"
)

const contextKeyClaims = "claims"

type Server struct {
	echo      *echo.Echo
	directory *Directory
	issuer    *Issuer
}

func NewServer(directory *Directory, issuer *Issuer) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, directory: directory, issuer: issuer}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(port string) error {
	slog.Info("Starting dev identity service", "port", port)
	if err := s.echo.Start(":" + port); err != nil {
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

func (s *Server) registerRoutes() {
	s.echo.Use(middleware.Recover())

	s.echo.POST("/session", s.handleSignIn)
	s.echo.POST("/impersonate", s.handleImpersonate, s.requireCredential)
	s.echo.DELETE("/unimpersonate", s.handleUnimpersonate, s.requireCredential)
	s.echo.GET("/viewer", s.handleViewer, s.requireCredential)
	s.echo.GET("/users", s.handleListUsers, s.requireCredential, s.requireAdmin)
	s.echo.POST("/users/:id/suspend", s.handleSuspend, s.requireCredential, s.requireAdmin)
	s.echo.POST("/users/:id/activate", s.handleActivate, s.requireCredential, s.requireAdmin)
}

type failure struct {
	Message string `json:"message"`
}

type failures struct {
	Errors []failure `json:"errors"`
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, failures{Errors: []failure{{Message: message}}})
}

// requireCredential accepts a valid bearer credential of an existing, active user.
func (s *Server) requireCredential(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, ok := strings.CutPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			return c.String(http.StatusUnauthorized, "Missing credential")
		}

		claims, err := s.issuer.Parse(token)
		if err != nil {
			return c.String(http.StatusUnauthorized, "Invalid credential")
		}

		user, ok := s.directory.Get(claims.Subject)
		if !ok {
			return c.String(http.StatusUnauthorized, "Unknown user")
		}
		if user.IsSuspended() {
			return c.String(http.StatusUnauthorized, errAccountSuspended.Error())
		}

		c.Set(contextKeyClaims, claims)
		return next(c)
	}
}

func (s *Server) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, _ := s.directory.Get(claimsFrom(c).Subject)
		if user.Role != domain.RoleAdmin {
			return c.String(http.StatusForbidden, "Admin role required")
		}
		return next(c)
	}
}

func claimsFrom(c echo.Context) *Claims {
	claims, _ := c.Get(contextKeyClaims).(*Claims)
	return claims
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignIn(c echo.Context) error {
	var req signInRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	user, err := s.directory.Authenticate(req.Email, req.Password)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	return s.issue(c, user.ID, "")
}

type impersonateRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) handleImpersonate(c echo.Context) error {
	claims := claimsFrom(c)
	if claims.Impersonator != "" {
		return badRequest(c, "Already impersonating")
	}

	admin, _ := s.directory.Get(claims.Subject)
	if admin.Role != domain.RoleAdmin {
		return c.String(http.StatusForbidden, "Admin role required")
	}

	var req impersonateRequest
	if err := c.Bind(&req); err != nil || req.UserID == "" {
		return badRequest(c, "User is required")
	}

	target, ok := s.directory.Get(req.UserID)
	switch {
	case !ok:
		return badRequest(c, "User not found")
	case target.ID == admin.ID:
		return badRequest(c, "Cannot impersonate yourself")
	case target.IsSuspended():
		return badRequest(c, "Cannot impersonate suspended user")
	}

	slog.Info("Impersonation started", "admin_id", admin.ID, "user_id", target.ID)
	return s.issue(c, target.ID, admin.ID)
}

func (s *Server) handleUnimpersonate(c echo.Context) error {
	claims := claimsFrom(c)
	if claims.Impersonator == "" {
		return c.String(http.StatusUnauthorized, "Not impersonating")
	}

	admin, ok := s.directory.Get(claims.Impersonator)
	if !ok || admin.Role != domain.RoleAdmin || admin.IsSuspended() {
		return c.String(http.StatusUnauthorized, "Original session is no longer valid")
	}

	slog.Info("Impersonation ended", "admin_id", admin.ID, "user_id", claims.Subject)
	return s.issue(c, admin.ID, "")
}

func (s *Server) handleViewer(c echo.Context) error {
	user, _ := s.directory.Get(claimsFrom(c).Subject)
	return c.JSON(http.StatusOK, domain.Viewer{ID: user.ID, Name: user.Name, Role: user.Role})
}

func (s *Server) handleListUsers(c echo.Context) error {
	return c.JSON(http.StatusOK, s.directory.List())
}

func (s *Server) handleSuspend(c echo.Context) error {
	if c.Param("id") == claimsFrom(c).Subject {
		return badRequest(c, "Cannot suspend yourself")
	}
	return s.setSuspended(c, true)
}

func (s *Server) handleActivate(c echo.Context) error {
	return s.setSuspended(c, false)
}

func (s *Server) setSuspended(c echo.Context, suspended bool) error {
	user, err := s.directory.SetSuspended(c.Param("id"), suspended)
	if errors.Is(err, domain.ErrUserNotFound) {
		return c.String(http.StatusNotFound, "User not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, user)
}

func (s *Server) issue(c echo.Context, userID, impersonator string) error {
	token, err := s.issuer.Issue(userID, impersonator)
	if err != nil {
		slog.Error("Failed to issue credential", "user_id", userID, "error", err)
		return c.String(http.StatusInternalServerError, "Failed to issue credential")
	}
	return c.String(http.StatusOK, token)
}
