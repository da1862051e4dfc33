package domain

import "context"

type SessionState int

const (
	StateUnauthenticated SessionState = iota
	StateLoading
	StateAuthenticated
	StateError
)

func (s SessionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateLoading:
		return "loading"
	case StateAuthenticated:
		return "authenticated"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Routes the session layer navigates to. Everything else belongs to the page layer.
const (
	RouteSignIn  = "/sign-in"
	RouteHome    = "/"
	RouteAdmin   = "/admin"
	RouteLanding = "/redirect"
)

// Navigator moves the tab to another route.
type Navigator interface {
	// Redirect is a soft, in-app navigation that keeps tab state.
	Redirect(ctx context.Context, route string)
	// HardNavigate is a full reload boundary: every viewer-scoped state in the tab is discarded.
	HardNavigate(ctx context.Context, route string)
}

// QueryCache holds cached remote query results for one tab.
type QueryCache interface {
	Clear(ctx context.Context) error
}
