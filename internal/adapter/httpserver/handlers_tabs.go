package httpserver

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/tabconsole/internal/app"
	"github.com/pscheid92/tabconsole/internal/domain"
)

type response struct {
	Data     any             `json:"data,omitempty"`
	Navigate *app.Navigation `json:"navigate,omitempty"`
}

// respond writes data together with any navigation the request caused in its tab.
func respond(c echo.Context, status int, data any) error {
	resp := response{Data: data}
	if tab := tabFrom(c); tab != nil {
		if nav, ok := tab.TakeNavigation(); ok {
			resp.Navigate = &nav
		}
	}
	if err := c.JSON(status, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

type openTabResponse struct {
	TabID string `json:"tabId"`
}

// handleOpenTab starts a tab context. Every browser tab calls it once on boot.
func (s *Server) handleOpenTab(c echo.Context) error {
	tab := s.app.Tabs().Open()
	if err := s.claimTab(c, tab.ID); err != nil {
		s.app.Tabs().Remove(tab.ID)
		return err
	}

	slog.InfoContext(c.Request().Context(), "Tab opened", "tab_id", tab.ID)
	return respond(c, http.StatusCreated, openTabResponse{TabID: tab.ID})
}

func (s *Server) handleStream(c echo.Context) error {
	tab := tabFrom(c)
	if tab == nil {
		return domain.ErrTabNotFound
	}

	if err := s.streamer.Serve(c.Response(), c.Request(), tab); err != nil {
		slog.WarnContext(c.Request().Context(), "Tab stream failed", "tab_id", tab.ID, "error", err)
	}
	return nil
}
