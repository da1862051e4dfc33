package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
	apperrors "github.com/pscheid92/tabconsole/internal/platform/errors"
)

func (s *Server) registerUserRoutes(api *echo.Group) {
	api.GET("/users", s.handleListUsers)
	api.POST("/users/:id/suspend", s.handleRequestSuspend)
	api.POST("/users/:id/activate", s.handleActivateUser)
}

func (s *Server) registerOverlayRoutes(api *echo.Group) {
	api.GET("/overlay", s.handleGetOverlay)
	api.POST("/overlay/:id/confirm", s.handleConfirmDialog)
	api.POST("/overlay/:id/cancel", s.handleCancelDialog)
	api.GET("/toasts", s.handleListToasts)
	api.DELETE("/toasts/:id", s.handleDismissToast)
}

func (s *Server) handleListUsers(c echo.Context) error {
	users, err := s.app.ListUsers(c.Request().Context(), tabFrom(c))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, users)
}

// handleRequestSuspend only opens the confirmation dialog. Nothing is suspended until it is confirmed.
func (s *Server) handleRequestSuspend(c echo.Context) error {
	dialog, err := s.app.RequestSuspend(c.Request().Context(), tabFrom(c), c.Param("id"))
	if err != nil {
		return err
	}
	return respond(c, http.StatusAccepted, dialog)
}

func (s *Server) handleActivateUser(c echo.Context) error {
	user, err := s.app.ActivateUser(c.Request().Context(), tabFrom(c), c.Param("id"))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, user)
}

func (s *Server) handleGetOverlay(c echo.Context) error {
	return respond(c, http.StatusOK, tabFrom(c).Modal.Current())
}

func (s *Server) handleConfirmDialog(c echo.Context) error {
	user, err := s.app.ConfirmDialog(c.Request().Context(), tabFrom(c), c.Param("id"))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, user)
}

func (s *Server) handleCancelDialog(c echo.Context) error {
	if err := s.app.CancelDialog(c.Request().Context(), tabFrom(c), c.Param("id")); err != nil {
		return err
	}
	return respond(c, http.StatusOK, nil)
}

func (s *Server) handleListToasts(c echo.Context) error {
	return respond(c, http.StatusOK, tabFrom(c).Toasts.Entries())
}

func (s *Server) handleDismissToast(c echo.Context) error {
	id := c.Param("id")
	if !tabFrom(c).Toasts.Dismiss(id) {
		return apperrors.NotFoundError("toast not found").WithField("toast_id", id)
	}
	return respond(c, http.StatusOK, nil)
}
