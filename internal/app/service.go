package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pscheid92/tabconsole/internal/adapter/metrics"
	"github.com/pscheid92/tabconsole/internal/domain"
	"github.com/pscheid92/tabconsole/internal/overlay"
	"github.com/pscheid92/tabconsole/internal/querycache"
)

const (
	usersQueryKey = "users"
	suspendAction = "suspend:"
	errorTitle    = "Error"
	successTitle  = "Success"
)

// Invalidator fans a query invalidation out to the other processes serving tabs.
type Invalidator interface {
	Publish(ctx context.Context, key string) error
}

// Service is the application layer: the console use cases, each running inside one tab context.
type Service struct {
	tabs        *Registry
	directory   domain.UserDirectory
	invalidator Invalidator
	metrics     *metrics.ConsoleMetrics
}

// NewService creates the application layer service. invalidator and m may be nil.
func NewService(tabs *Registry, directory domain.UserDirectory, invalidator Invalidator, m *metrics.ConsoleMetrics) *Service {
	return &Service{
		tabs:        tabs,
		directory:   directory,
		invalidator: invalidator,
		metrics:     m,
	}
}

func (s *Service) Tabs() *Registry {
	return s.tabs
}

// SignIn installs a credential for email and password and resolves the viewer and its landing route.
func (s *Service) SignIn(ctx context.Context, tab *Tab, email, password string) (*domain.Viewer, string, error) {
	viewer, err := tab.Session.SignIn(ctx, email, password)
	if err != nil {
		return nil, "", err
	}
	if viewer == nil {
		return nil, "", nil
	}

	route, err := tab.Session.LandingRoute(ctx)
	if err != nil {
		return nil, "", err
	}
	return viewer, route, nil
}

// ListUsers backs the admin screen. Non-admins are redirected home.
func (s *Service) ListUsers(ctx context.Context, tab *Tab) ([]domain.User, error) {
	cred, err := s.requireAdmin(ctx, tab)
	if err != nil {
		return nil, err
	}

	users, err := querycache.Fetch(ctx, tab.Cache, usersQueryKey, func(ctx context.Context) ([]domain.User, error) {
		return s.directory.ListUsers(ctx, cred)
	})
	if err != nil {
		return nil, s.remoteFailure(ctx, tab, err, false)
	}
	return users, nil
}

// RequestSuspend asks for confirmation before suspending userID. The dialog replaces any open one.
func (s *Service) RequestSuspend(ctx context.Context, tab *Tab, userID string) (overlay.Dialog, error) {
	if _, err := s.requireAdmin(ctx, tab); err != nil {
		return overlay.Dialog{}, err
	}

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return overlay.Dialog{}, &domain.ValidationError{Failures: []domain.FieldFailure{{Field: "userId", Message: "User is required"}}}
	}

	dialog := overlay.NewDangerousDialog(
		"Suspend user",
		"The user will no longer be able to sign in. You can activate them again later.",
		suspendAction+userID,
	)
	dialog.ConfirmText = "Suspend"
	tab.Modal.Show(dialog)
	return dialog, nil
}

// ConfirmDialog closes the open dialog dialogID and runs its action.
func (s *Service) ConfirmDialog(ctx context.Context, tab *Tab, dialogID string) (*domain.User, error) {
	dialog, ok := tab.Modal.Take(func(d overlay.Dialog) bool { return d.ID == dialogID })
	if !ok {
		return nil, domain.ErrDialogNotFound
	}
	s.recordDialog("confirmed")

	userID, ok := strings.CutPrefix(dialog.ConfirmAction, suspendAction)
	if !ok {
		return nil, fmt.Errorf("unknown dialog action %q", dialog.ConfirmAction)
	}
	return s.userAction(ctx, tab, userID, "User suspended", s.directory.SuspendUser)
}

// CancelDialog closes the open dialog dialogID without running its action.
func (s *Service) CancelDialog(_ context.Context, tab *Tab, dialogID string) error {
	if _, ok := tab.Modal.Take(func(d overlay.Dialog) bool { return d.ID == dialogID }); !ok {
		return domain.ErrDialogNotFound
	}
	s.recordDialog("cancelled")
	return nil
}

// ActivateUser lifts a suspension. No confirmation is needed.
func (s *Service) ActivateUser(ctx context.Context, tab *Tab, userID string) (*domain.User, error) {
	return s.userAction(ctx, tab, strings.TrimSpace(userID), "User activated", s.directory.ActivateUser)
}

type userActionFunc func(ctx context.Context, cred domain.Credential, userID string) (*domain.User, error)

func (s *Service) userAction(ctx context.Context, tab *Tab, userID, successMessage string, action userActionFunc) (*domain.User, error) {
	cred, err := s.requireAdmin(ctx, tab)
	if err != nil {
		return nil, err
	}

	user, err := action(ctx, cred, userID)
	if err != nil {
		return nil, s.remoteFailure(ctx, tab, err, true)
	}

	s.invalidate(ctx, usersQueryKey)
	s.toast(ctx, tab, domain.NotificationSuccess, successTitle, successMessage)
	return user, nil
}

// Impersonate swaps the tab to targetUserID. Validation and transport failures are shown as toasts.
func (s *Service) Impersonate(ctx context.Context, tab *Tab, targetUserID string) error {
	if _, err := tab.Session.RequireAuthenticated(ctx); err != nil {
		return err
	}

	err := tab.Session.Impersonate(ctx, targetUserID)
	if err != nil {
		s.toastFailure(ctx, tab, err)
	}
	return err
}

// Unimpersonate swaps the tab back to the admin credential.
func (s *Service) Unimpersonate(ctx context.Context, tab *Tab) error {
	err := tab.Session.Unimpersonate(ctx)
	if err != nil {
		s.toastFailure(ctx, tab, err)
	}
	return err
}

func (s *Service) Logout(ctx context.Context, tab *Tab) error {
	tab.Modal.Hide()
	return tab.Session.Logout(ctx)
}

func (s *Service) requireAdmin(ctx context.Context, tab *Tab) (domain.Credential, error) {
	viewer, err := tab.Session.RequireAuthenticated(ctx)
	if err != nil {
		return "", err
	}
	if !viewer.IsAdmin() {
		tab.Redirect(ctx, domain.RouteHome)
		return "", domain.ErrForbidden
	}
	return tab.Store.Read(ctx)
}

// remoteFailure handles a failed domain-data call. A rejected credential ends the session.
func (s *Service) remoteFailure(ctx context.Context, tab *Tab, err error, notify bool) error {
	if errors.Is(err, domain.ErrAuthenticationRejected) {
		if expireErr := tab.Session.Expire(ctx); expireErr != nil {
			slog.ErrorContext(ctx, "Failed to expire session", "tab_id", tab.ID, "error", expireErr)
		}
		return err
	}
	if notify {
		s.toastFailure(ctx, tab, err)
	}
	return err
}

// toastFailure shows err to the viewer. Session-level rejections are handled by navigation instead.
func (s *Service) toastFailure(ctx context.Context, tab *Tab, err error) {
	switch {
	case errors.Is(err, domain.ErrAuthenticationRejected),
		errors.Is(err, domain.ErrNotAuthenticated),
		errors.Is(err, domain.ErrForbidden):
		return
	}

	if ve, ok := errors.AsType[*domain.ValidationError](err); ok {
		for _, f := range ve.Failures {
			s.toast(ctx, tab, domain.NotificationError, errorTitle, f.Message)
		}
		return
	}
	s.toast(ctx, tab, domain.NotificationError, errorTitle, domain.GenericFailureMessage)
}

func (s *Service) toast(ctx context.Context, tab *Tab, kind domain.NotificationKind, title, message string) {
	if _, err := tab.Toasts.Publish(domain.Notification{Title: title, Message: message, Kind: kind}); err != nil {
		slog.WarnContext(ctx, "Failed to publish toast", "tab_id", tab.ID, "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.Toasts.WithLabelValues(string(kind)).Inc()
	}
}

func (s *Service) invalidate(ctx context.Context, key string) {
	s.tabs.InvalidateQuery(ctx, key)
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Publish(ctx, key); err != nil {
		slog.WarnContext(ctx, "Failed to publish query invalidation", "key", key, "error", err)
	}
}

func (s *Service) recordDialog(result string) {
	if s.metrics != nil {
		s.metrics.Confirmation.WithLabelValues(result).Inc()
	}
}
