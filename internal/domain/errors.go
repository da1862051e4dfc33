package domain

import (
	"errors"
	"fmt"
	"strings"
)

// GenericFailureMessage is the only text a transport failure ever shows to the viewer.
const GenericFailureMessage = "Oops! Something went wrong."

var (
	ErrAuthenticationRejected = errors.New("authentication rejected")
	ErrNotAuthenticated       = errors.New("no authenticated viewer")
	ErrForbidden              = errors.New("viewer is not allowed to perform this action")
	ErrUnsupportedRole        = errors.New("unsupported viewer role")
	ErrTabNotFound            = errors.New("tab not found")
	ErrUserNotFound           = errors.New("user not found")
	ErrDialogNotFound         = errors.New("no such dialog is open")
)

// AuthenticationError is a 401-class rejection. Message is the service's plain-text reason, if any.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string {
	if e.Message == "" {
		return ErrAuthenticationRejected.Error()
	}
	return fmt.Sprintf("%s: %s", ErrAuthenticationRejected, e.Message)
}

func (e *AuthenticationError) Unwrap() error { return ErrAuthenticationRejected }

type FieldFailure struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ValidationError is a 400-class, field-scoped rejection. Session state is never touched by it.
type ValidationError struct {
	Failures []FieldFailure
}

func (e *ValidationError) Error() string {
	messages := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Field != "" {
			messages = append(messages, f.Field+": "+f.Message)
		} else {
			messages = append(messages, f.Message)
		}
	}
	return "validation failed: " + strings.Join(messages, "; ")
}

// TransportError covers network failures and unexpected statuses. Never retried automatically.
type TransportError struct {
	Status int
	Cause  error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transport failure (status %d): %v", e.Status, e.Cause)
	}
	return fmt.Sprintf("transport failure: %v", e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }
