package cli

import (
	"errors"
	"strings"

	"github.com/pscheid92/tabconsole/internal/domain"
)

// describe renders err the way the console would show it to the viewer.
func describe(err error) string {
	if validationErr, ok := errors.AsType[*domain.ValidationError](err); ok {
		messages := make([]string, 0, len(validationErr.Failures))
		for _, f := range validationErr.Failures {
			messages = append(messages, f.Message)
		}
		return strings.Join(messages, "\n")
	}
	if authErr, ok := errors.AsType[*domain.AuthenticationError](err); ok && authErr.Message != "" {
		return authErr.Message
	}
	if _, ok := errors.AsType[*domain.TransportError](err); ok {
		return domain.GenericFailureMessage
	}

	switch {
	case errors.Is(err, domain.ErrNotAuthenticated), errors.Is(err, domain.ErrAuthenticationRejected):
		return "Not signed in. Run 'consolectl sign-in' first."
	case errors.Is(err, domain.ErrForbidden):
		return "Admin role required"
	case errors.Is(err, domain.ErrUserNotFound):
		return "User not found"
	default:
		return err.Error()
	}
}
