package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pscheid92/tabconsole/internal/credential"
	"github.com/pscheid92/tabconsole/internal/domain"
	"golang.org/x/sync/singleflight"
)

// Deps are the collaborators of a Coordinator. Store, Identity, Viewers, Cache and Navigator are required.
type Deps struct {
	Store     *credential.Store
	Identity  domain.IdentityExchange
	Viewers   domain.ViewerService
	Cache     domain.QueryCache
	Navigator domain.Navigator
	Recorder  Recorder
	Logger    *slog.Logger
}

type Coordinator struct {
	store     *credential.Store
	identity  domain.IdentityExchange
	viewers   domain.ViewerService
	cache     domain.QueryCache
	navigator domain.Navigator
	recorder  Recorder
	logger    *slog.Logger

	mu         sync.Mutex
	state      domain.SessionState
	viewer     *domain.Viewer
	landing    string
	lastErr    error
	generation uint64
	redirected bool

	// Every credential or flag write happens under commitMu. Never acquire it while holding mu.
	commitMu sync.Mutex
	ticket   atomic.Uint64

	fetches     singleflight.Group
	unsubscribe func()
}

// New wires a coordinator to its collaborators. Missing required collaborators are programmer errors.
func New(deps Deps) *Coordinator {
	if deps.Store == nil || deps.Identity == nil || deps.Viewers == nil || deps.Cache == nil || deps.Navigator == nil {
		panic("session: missing required collaborator")
	}
	if deps.Recorder == nil {
		deps.Recorder = noopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	c := &Coordinator{
		store:     deps.Store,
		identity:  deps.Identity,
		viewers:   deps.Viewers,
		cache:     deps.Cache,
		navigator: deps.Navigator,
		recorder:  deps.Recorder,
		logger:    deps.Logger,
		state:     domain.StateLoading,
	}
	c.unsubscribe = c.store.Subscribe(c.onCredentialChanged)
	return c
}

// Close detaches the coordinator from its credential store.
func (c *Coordinator) Close() {
	c.unsubscribe()
}

func (c *Coordinator) onCredentialChanged(cred domain.Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cred.IsZero() {
		c.resetLocked(domain.StateUnauthenticated)
	} else {
		c.resetLocked(domain.StateLoading)
	}
}

// resetLocked drops everything derived from the previous credential.
func (c *Coordinator) resetLocked(state domain.SessionState) {
	c.generation++
	c.state = state
	c.viewer = nil
	c.landing = ""
	c.lastErr = nil
	c.redirected = false
}

func (c *Coordinator) State() domain.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Viewer returns the resolved viewer, or nil unless the session is Authenticated.
func (c *Coordinator) Viewer() *domain.Viewer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.viewer == nil {
		return nil
	}
	v := *c.viewer
	return &v
}

// Err returns the failure that put the session into the Error state.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Coordinator) IsImpersonatedSession(ctx context.Context) (bool, error) {
	return c.store.Impersonated(ctx)
}

// Load resolves the viewer for the current credential.
//
// Returns domain.ErrNotAuthenticated without a credential and a *domain.AuthenticationError when
// the viewer service rejects it, in which case the credential has been cleared.
func (c *Coordinator) Load(ctx context.Context) (*domain.Viewer, error) {
	c.mu.Lock()
	if c.state == domain.StateAuthenticated && c.viewer != nil {
		v := *c.viewer
		c.mu.Unlock()
		return &v, nil
	}
	gen := c.generation
	c.mu.Unlock()

	cred, err := c.store.Read(ctx)
	if err != nil {
		return nil, err
	}

	if cred.IsZero() {
		c.mu.Lock()
		if gen == c.generation {
			c.state = domain.StateUnauthenticated
		}
		c.mu.Unlock()
		return nil, domain.ErrNotAuthenticated
	}

	key := strconv.FormatUint(gen, 10)
	result, err, _ := c.fetches.Do(key, func() (any, error) {
		return c.fetchViewer(ctx, gen, cred)
	})
	if errors.Is(err, errStale) {
		return c.Load(ctx)
	}
	if err != nil {
		return nil, err
	}

	v := *result.(*domain.Viewer)
	return &v, nil
}

var errStale = errors.New("credential changed during viewer fetch")

func (c *Coordinator) fetchViewer(ctx context.Context, gen uint64, cred domain.Credential) (*domain.Viewer, error) {
	c.mu.Lock()
	if gen == c.generation {
		c.state = domain.StateLoading
	}
	c.mu.Unlock()

	viewer, fetchErr := c.viewers.FetchViewer(ctx, cred)

	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.recorder.ViewerFetch(OutcomeStale)
		c.logger.DebugContext(ctx, "Discarding viewer fetch for replaced credential", "generation", gen)
		return nil, errStale
	}

	if fetchErr == nil {
		c.state = domain.StateAuthenticated
		c.viewer = viewer
		c.mu.Unlock()
		c.recorder.ViewerFetch(OutcomeSuccess)
		return viewer, nil
	}

	if classify(fetchErr) != errClassRejected {
		c.state = domain.StateError
		c.lastErr = fetchErr
		c.mu.Unlock()
		c.recorder.ViewerFetch(OutcomeTransport)
		c.logger.WarnContext(ctx, "Viewer fetch failed", "error", fetchErr)
		return nil, fetchErr
	}
	c.mu.Unlock()

	c.recorder.ViewerFetch(OutcomeRejected)
	if err := c.clearLocked(ctx); err != nil {
		return nil, err
	}
	return nil, fetchErr
}

// RequireAuthenticated guards a protected view. Without a valid credential it redirects to the
// sign-in route, at most once per unauthenticated period.
func (c *Coordinator) RequireAuthenticated(ctx context.Context) (*domain.Viewer, error) {
	viewer, err := c.Load(ctx)
	if err == nil {
		return viewer, nil
	}

	switch classify(err) {
	case errClassRejected, errClassUnauthenticated:
		c.redirectToSignIn(ctx)
	}
	return nil, err
}

func (c *Coordinator) redirectToSignIn(ctx context.Context) {
	c.mu.Lock()
	first := !c.redirected
	c.redirected = true
	c.mu.Unlock()

	if first {
		c.navigator.Redirect(ctx, domain.RouteSignIn)
	}
}

// LandingRoute resolves where an authenticated viewer lands. Computed once per authentication.
func (c *Coordinator) LandingRoute(ctx context.Context) (string, error) {
	viewer, err := c.Load(ctx)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.landing != "" && c.viewer != nil && c.viewer.ID == viewer.ID {
		return c.landing, nil
	}

	route, err := landingFor(viewer.Role)
	if err != nil {
		return "", err
	}
	if c.viewer != nil && c.viewer.ID == viewer.ID {
		c.landing = route
	}
	return route, nil
}

func landingFor(role domain.Role) (string, error) {
	switch role {
	case domain.RoleAdmin:
		return domain.RouteAdmin, nil
	case domain.RoleBasic:
		return domain.RouteHome, nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedRole, role)
	}
}

// SignIn exchanges email and password for a credential, installs it and resolves the viewer.
//
// A sign-in superseded by a later swap or logout returns (nil, nil) and leaves no trace.
func (c *Coordinator) SignIn(ctx context.Context, email, password string) (*domain.Viewer, error) {
	email = strings.TrimSpace(email)
	password = strings.TrimSpace(password)

	var failures []domain.FieldFailure
	if email == "" {
		failures = append(failures, domain.FieldFailure{Field: "email", Message: "Email is required"})
	}
	if password == "" {
		failures = append(failures, domain.FieldFailure{Field: "password", Message: "Password is required"})
	}
	if len(failures) > 0 {
		return nil, &domain.ValidationError{Failures: failures}
	}

	ticket := c.ticket.Add(1)
	cred, exchangeErr := c.identity.SignIn(ctx, email, password)

	committed, err := c.commitSignIn(ctx, ticket, cred, exchangeErr)
	if err != nil || !committed {
		return nil, err
	}
	return c.Load(ctx)
}

func (c *Coordinator) commitSignIn(ctx context.Context, ticket uint64, cred domain.Credential, exchangeErr error) (bool, error) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	if c.ticket.Load() != ticket {
		c.recorder.SignIn(OutcomeSuperseded)
		c.logger.DebugContext(ctx, "Discarding superseded sign-in", "ticket", ticket)
		return false, nil
	}

	c.recorder.SignIn(outcomeOf(exchangeErr))
	if exchangeErr != nil {
		if classify(exchangeErr) == errClassRejected {
			if err := c.clearLocked(ctx); err != nil {
				return false, err
			}
		}
		return false, exchangeErr
	}

	if err := c.clearCache(ctx); err != nil {
		return false, err
	}
	if err := c.store.SetImpersonated(ctx, false); err != nil {
		return false, err
	}
	if err := c.store.Set(ctx, cred, credential.Notify); err != nil {
		return false, err
	}
	c.logger.InfoContext(ctx, "Signed in")
	return true, nil
}

// Impersonate exchanges the admin credential for one of targetUserID and hard-navigates to the
// standard landing route. Only an authenticated ADMIN may impersonate.
func (c *Coordinator) Impersonate(ctx context.Context, targetUserID string) error {
	targetUserID = strings.TrimSpace(targetUserID)

	c.mu.Lock()
	state, viewer := c.state, c.viewer
	c.mu.Unlock()

	if state != domain.StateAuthenticated || viewer == nil {
		return domain.ErrNotAuthenticated
	}
	if !viewer.IsAdmin() {
		return domain.ErrForbidden
	}
	if targetUserID == "" {
		return &domain.ValidationError{Failures: []domain.FieldFailure{{Field: "userId", Message: "User is required"}}}
	}

	admin, err := c.store.Read(ctx)
	if err != nil {
		return err
	}

	ticket := c.ticket.Add(1)
	cred, exchangeErr := c.identity.Impersonate(ctx, admin, targetUserID)
	return c.commitSwap(ctx, ticket, swapImpersonate, cred, exchangeErr)
}

// Unimpersonate returns to the original admin credential and hard-navigates to the admin route.
// Without an active impersonation it succeeds immediately and performs no exchange.
func (c *Coordinator) Unimpersonate(ctx context.Context) error {
	impersonated, err := c.store.Impersonated(ctx)
	if err != nil {
		return err
	}
	if !impersonated {
		return nil
	}

	current, err := c.store.Read(ctx)
	if err != nil {
		return err
	}

	ticket := c.ticket.Add(1)
	cred, exchangeErr := c.identity.Unimpersonate(ctx, current)
	return c.commitSwap(ctx, ticket, swapUnimpersonate, cred, exchangeErr)
}

func (c *Coordinator) commitSwap(ctx context.Context, ticket uint64, kind string, cred domain.Credential, exchangeErr error) error {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	if c.ticket.Load() != ticket {
		c.recorder.Swap(kind, OutcomeSuperseded)
		c.logger.DebugContext(ctx, "Discarding superseded credential swap", "kind", kind, "ticket", ticket)
		return nil
	}

	c.recorder.Swap(kind, outcomeOf(exchangeErr))
	if exchangeErr != nil {
		if classify(exchangeErr) == errClassRejected {
			if err := c.clearLocked(ctx); err != nil {
				return err
			}
			c.redirectToSignIn(ctx)
		}
		return exchangeErr
	}

	impersonating := kind == swapImpersonate
	if err := c.store.Set(ctx, cred, credential.Silent); err != nil {
		return err
	}
	if err := c.store.SetImpersonated(ctx, impersonating); err != nil {
		return err
	}

	route := domain.RouteHome
	if !impersonating {
		route = domain.RouteAdmin
	}
	c.logger.InfoContext(ctx, "Credential swapped", "kind", kind, "route", route)
	return c.hardNavigate(ctx, route)
}

// hardNavigate resets all viewer-scoped state in place before telling the tab to reload.
func (c *Coordinator) hardNavigate(ctx context.Context, route string) error {
	c.mu.Lock()
	c.resetLocked(domain.StateLoading)
	c.mu.Unlock()

	cacheErr := c.clearCache(ctx)
	if cacheErr != nil {
		c.logger.ErrorContext(ctx, "Failed to clear query cache", "error", cacheErr)
	}

	c.navigator.HardNavigate(ctx, route)
	return cacheErr
}

// Logout clears the credential and the impersonation flag, drops cached query results and
// supersedes every swap still in flight.
func (c *Coordinator) Logout(ctx context.Context) error {
	c.ticket.Add(1)

	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	if err := c.clearLocked(ctx); err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "Logged out")
	return nil
}

// Expire handles a credential rejected by any remote service: the session is cleared like a
// logout and the tab is sent to sign-in.
func (c *Coordinator) Expire(ctx context.Context) error {
	if err := c.Logout(ctx); err != nil {
		return err
	}
	c.redirectToSignIn(ctx)
	return nil
}

// clearLocked removes credential, flag and every cached result of the old viewer.
// Callers hold commitMu.
func (c *Coordinator) clearLocked(ctx context.Context) error {
	if err := c.store.Clear(ctx, credential.Notify); err != nil {
		return err
	}
	if err := c.store.SetImpersonated(ctx, false); err != nil {
		return err
	}
	return c.clearCache(ctx)
}

func (c *Coordinator) clearCache(ctx context.Context) error {
	if err := c.cache.Clear(ctx); err != nil {
		return fmt.Errorf("clear query cache: %w", err)
	}
	return nil
}

type errClass int

const (
	errClassNone errClass = iota
	errClassRejected
	errClassUnauthenticated
	errClassValidation
	errClassOther
)

func classify(err error) errClass {
	if err == nil {
		return errClassNone
	}
	if errors.Is(err, domain.ErrAuthenticationRejected) {
		return errClassRejected
	}
	if errors.Is(err, domain.ErrNotAuthenticated) {
		return errClassUnauthenticated
	}
	if _, ok := errors.AsType[*domain.ValidationError](err); ok {
		return errClassValidation
	}
	return errClassOther
}
