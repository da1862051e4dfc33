package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/tabconsole/internal/app"
	"github.com/pscheid92/tabconsole/internal/domain"
	"github.com/pscheid92/tabconsole/internal/platform/correlation"
	apperrors "github.com/pscheid92/tabconsole/internal/platform/errors"
)

func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := correlation.FromRequest(c.Request())
		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set(correlation.Header, id)
		return next(c)
	}
}

func ErrorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			if _, ok := errors.AsType[*echo.HTTPError](err); ok {
				return err
			}

			structuredErr := domainError(err)
			if tab, ok := c.Get(contextKeyTab).(*app.Tab); ok && structuredErr.Redirect == "" {
				if nav, ok := tab.TakeNavigation(); ok {
					structuredErr.Redirect = nav.Route
				}
			}
			logError(c, structuredErr)

			if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
				return fmt.Errorf("failed to write error response: %w", err)
			}
			return nil
		}
	}
}

// domainError maps session and console failures onto HTTP errors.
// Transport and unexpected failures only ever show the generic message.
func domainError(err error) *apperrors.Error {
	if structuredErr, ok := errors.AsType[*apperrors.Error](err); ok {
		return structuredErr
	}

	if authErr, ok := errors.AsType[*domain.AuthenticationError](err); ok {
		message := authErr.Message
		if message == "" {
			message = "Authentication required"
		}
		return apperrors.UnauthenticatedError(message, "")
	}

	if validationErr, ok := errors.AsType[*domain.ValidationError](err); ok {
		failures := make([]apperrors.FieldMessage, 0, len(validationErr.Failures))
		for _, f := range validationErr.Failures {
			failures = append(failures, apperrors.FieldMessage{Field: f.Field, Message: f.Message})
		}
		return apperrors.ValidationError("Validation failed", failures...)
	}

	if _, ok := errors.AsType[*domain.TransportError](err); ok {
		return apperrors.ExternalError(domain.GenericFailureMessage, err)
	}

	switch {
	case errors.Is(err, domain.ErrNotAuthenticated), errors.Is(err, domain.ErrAuthenticationRejected):
		return apperrors.UnauthenticatedError("Authentication required", "")
	case errors.Is(err, domain.ErrForbidden):
		return apperrors.ForbiddenError("Forbidden")
	case errors.Is(err, domain.ErrTabNotFound):
		return apperrors.NotFoundError("tab not found")
	case errors.Is(err, domain.ErrDialogNotFound):
		return apperrors.NotFoundError("dialog not found")
	case errors.Is(err, domain.ErrUserNotFound):
		return apperrors.NotFoundError("user not found")
	}

	return apperrors.AsStructuredError(err)
}

func logError(c echo.Context, err *apperrors.Error) {
	ctx := c.Request().Context()
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}

	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	if tab, ok := c.Get(contextKeyTab).(*app.Tab); ok {
		attrs = append(attrs, "tab_id", tab.ID)
	}

	switch err.Type {
	case apperrors.TypeValidation, apperrors.TypeNotFound:
		slog.InfoContext(ctx, "Request rejected", attrs...)
	case apperrors.TypeUnauthenticated, apperrors.TypeForbidden:
		slog.InfoContext(ctx, "Access denied", attrs...)
	case apperrors.TypeExternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.WarnContext(ctx, "External service error", attrs...)
	default:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Internal error", attrs...)
	}
}

// requireTab resolves the tab context named by the X-Tab-ID header (or the tab query parameter on
// the event stream). The browser must own the tab according to its signed cookie.
func (s *Server) requireTab(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tabID := c.Request().Header.Get(tabHeader)
		if tabID == "" {
			tabID = c.QueryParam(tabQueryParam)
		}

		if tabID == "" || !slices.Contains(s.ownedTabs(c), tabID) {
			return apperrors.NotFoundError("tab not found").WithField("tab_id", tabID)
		}

		tab, release, err := s.app.Tabs().Acquire(tabID)
		if err != nil {
			return err
		}
		defer release()

		c.Set(contextKeyTab, tab)
		return next(c)
	}
}

func tabFrom(c echo.Context) *app.Tab {
	tab, _ := c.Get(contextKeyTab).(*app.Tab)
	return tab
}

func (s *Server) ownedTabs(c echo.Context) []string {
	session, err := s.cookies.Get(c.Request(), cookieName)
	if err != nil {
		return nil
	}
	raw, ok := session.Values[cookieKeyTabs].(string)
	if !ok || raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// claimTab records tabID in the browser cookie. The oldest ids fall out once the cookie is full.
func (s *Server) claimTab(c echo.Context, tabID string) error {
	session, err := s.cookies.Get(c.Request(), cookieName)
	if err != nil {
		slog.WarnContext(c.Request().Context(), "Discarding unreadable tab cookie", "error", err)
	}

	tabs := append(s.ownedTabs(c), tabID)
	if len(tabs) > maxOwnedTabs {
		tabs = tabs[len(tabs)-maxOwnedTabs:]
	}
	session.Values[cookieKeyTabs] = strings.Join(tabs, ",")

	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return apperrors.InternalError("failed to save tab cookie", err)
	}
	return nil
}
