package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pscheid92/tabconsole/internal/credential"
	"github.com/pscheid92/tabconsole/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	adminViewer = domain.Viewer{ID: "admin-1", Name: "Admin", Role: domain.RoleAdmin}
	johnViewer  = domain.Viewer{ID: "user-2", Name: "John", Role: domain.RoleBasic}
)

type fixture struct {
	coord    *Coordinator
	store    *credential.Store
	storage  *credential.MemoryStorage
	identity *mockIdentity
	viewers  *mockViewers
	cache    *mockCache
	nav      *mockNavigator
	recorder *mockRecorder
}

func newFixture(t *testing.T, identity *mockIdentity, viewers *mockViewers) *fixture {
	t.Helper()
	if identity == nil {
		identity = &mockIdentity{}
	}
	if viewers == nil {
		viewers = viewersByCredential(map[domain.Credential]domain.Viewer{
			"admin-cred": adminViewer,
			"john-cred":  johnViewer,
		})
	}

	storage := credential.NewMemoryStorage()
	store := credential.NewStore(storage)
	f := &fixture{
		store:    store,
		storage:  storage,
		identity: identity,
		viewers:  viewers,
		cache:    &mockCache{},
		nav:      &mockNavigator{},
		recorder: newMockRecorder(),
	}
	f.coord = New(Deps{
		Store:     store,
		Identity:  identity,
		Viewers:   viewers,
		Cache:     f.cache,
		Navigator: f.nav,
		Recorder:  f.recorder,
	})
	t.Cleanup(f.coord.Close)
	return f
}

func (f *fixture) signInAs(t *testing.T, cred domain.Credential) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.Set(ctx, cred, credential.Notify))
	_, err := f.coord.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.StateAuthenticated, f.coord.State())
}

func (f *fixture) credential(t *testing.T) domain.Credential {
	t.Helper()
	cred, err := f.store.Read(context.Background())
	require.NoError(t, err)
	return cred
}

func (f *fixture) impersonated(t *testing.T) bool {
	t.Helper()
	on, err := f.coord.IsImpersonatedSession(context.Background())
	require.NoError(t, err)
	return on
}

func TestNew_MissingCollaboratorPanics(t *testing.T) {
	assert.Panics(t, func() { New(Deps{}) })
	assert.Panics(t, func() {
		New(Deps{Store: credential.NewStore(credential.NewMemoryStorage())})
	})
}

func TestSignIn_BasicUserLandsHome(t *testing.T) {
	identity := &mockIdentity{
		signInFn: func(_ context.Context, email, password string) (domain.Credential, error) {
			if email == "john@example.com" && password == "1" {
				return "john-cred", nil
			}
			return "", &domain.AuthenticationError{Message: "Invalid email or password"}
		},
	}
	f := newFixture(t, identity, nil)
	ctx := context.Background()

	viewer, err := f.coord.SignIn(ctx, "  john@example.com ", "1")
	require.NoError(t, err)
	require.NotNil(t, viewer)

	assert.Equal(t, domain.RoleBasic, viewer.Role)
	assert.Equal(t, domain.Credential("john-cred"), f.credential(t))
	assert.Equal(t, domain.StateAuthenticated, f.coord.State())

	route, err := f.coord.LandingRoute(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.RouteHome, route)
	assert.Equal(t, 1, f.recorder.Count("sign_in:success"))
}

func TestSignIn_Rejected(t *testing.T) {
	identity := &mockIdentity{
		signInFn: func(context.Context, string, string) (domain.Credential, error) {
			return "", &domain.AuthenticationError{Message: "Invalid email or password"}
		},
	}
	f := newFixture(t, identity, nil)

	_, err := f.coord.SignIn(context.Background(), "john@example.com", "wrong")
	require.ErrorIs(t, err, domain.ErrAuthenticationRejected)

	authErr, ok := errors.AsType[*domain.AuthenticationError](err)
	require.True(t, ok)
	assert.Equal(t, "Invalid email or password", authErr.Message)
	assert.True(t, f.credential(t).IsZero())
	assert.Equal(t, domain.StateUnauthenticated, f.coord.State())
}

func TestSignIn_EmptyInputsNeverReachIdentityService(t *testing.T) {
	identity := &mockIdentity{}
	f := newFixture(t, identity, nil)

	_, err := f.coord.SignIn(context.Background(), "   ", "")
	validation, ok := errors.AsType[*domain.ValidationError](err)
	require.True(t, ok)
	assert.Len(t, validation.Failures, 2)
	assert.Empty(t, identity.Calls())
}

func TestSignIn_TransportFailureKeepsCredential(t *testing.T) {
	identity := &mockIdentity{
		signInFn: func(context.Context, string, string) (domain.Credential, error) {
			return "", &domain.TransportError{Status: 502, Cause: errors.New("bad gateway")}
		},
	}
	f := newFixture(t, identity, nil)
	f.signInAs(t, "admin-cred")

	_, err := f.coord.SignIn(context.Background(), "john@example.com", "1")
	_, ok := errors.AsType[*domain.TransportError](err)
	require.True(t, ok)
	assert.Equal(t, domain.Credential("admin-cred"), f.credential(t))
}

func TestSignIn_OverExistingSessionClearsCache(t *testing.T) {
	identity := &mockIdentity{
		signInFn: func(context.Context, string, string) (domain.Credential, error) {
			return "john-cred", nil
		},
	}
	f := newFixture(t, identity, nil)
	f.signInAs(t, "admin-cred")
	require.Zero(t, f.cache.Clears())

	viewer, err := f.coord.SignIn(context.Background(), "john@example.com", "1")
	require.NoError(t, err)

	assert.Equal(t, johnViewer, *viewer)
	assert.Equal(t, 1, f.cache.Clears())
}

func TestSignIn_CacheFailureKeepsPreviousCredential(t *testing.T) {
	identity := &mockIdentity{
		signInFn: func(context.Context, string, string) (domain.Credential, error) {
			return "john-cred", nil
		},
	}
	f := newFixture(t, identity, nil)
	f.signInAs(t, "admin-cred")
	f.cache.clearFn = func(context.Context) error { return errors.New("redis down") }

	_, err := f.coord.SignIn(context.Background(), "john@example.com", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clear query cache")
	assert.Equal(t, domain.Credential("admin-cred"), f.credential(t))
}

func TestRequireAuthenticated_RedirectsToSignInOnce(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	for range 3 {
		_, err := f.coord.RequireAuthenticated(ctx)
		require.ErrorIs(t, err, domain.ErrNotAuthenticated)
	}

	assert.Equal(t, []string{domain.RouteSignIn}, f.nav.Redirects())
	assert.Equal(t, domain.StateUnauthenticated, f.coord.State())
}

func TestRequireAuthenticated_LatchResetsForNextUnauthenticatedPeriod(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	_, _ = f.coord.RequireAuthenticated(ctx)
	f.signInAs(t, "john-cred")

	viewer, err := f.coord.RequireAuthenticated(ctx)
	require.NoError(t, err)
	assert.Equal(t, johnViewer, *viewer)

	require.NoError(t, f.coord.Logout(ctx))
	_, _ = f.coord.RequireAuthenticated(ctx)
	_, _ = f.coord.RequireAuthenticated(ctx)

	assert.Equal(t, []string{domain.RouteSignIn, domain.RouteSignIn}, f.nav.Redirects())
}

func TestLoad_RejectedCredentialIsCleared(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	require.NoError(t, f.store.Set(ctx, "expired-cred", credential.Notify))
	require.NoError(t, f.store.SetImpersonated(ctx, true))

	_, err := f.coord.RequireAuthenticated(ctx)
	require.ErrorIs(t, err, domain.ErrAuthenticationRejected)

	assert.True(t, f.credential(t).IsZero())
	assert.False(t, f.impersonated(t))
	assert.Equal(t, domain.StateUnauthenticated, f.coord.State())
	assert.Equal(t, []string{domain.RouteSignIn}, f.nav.Redirects())
	assert.Equal(t, 1, f.cache.Clears(), "results cached for the rejected credential must go")
}

func TestLoad_OtherFailureEntersErrorState(t *testing.T) {
	boom := &domain.TransportError{Status: 500, Cause: errors.New("boom")}
	viewers := &mockViewers{fetchViewerFn: func(context.Context, domain.Credential) (*domain.Viewer, error) {
		return nil, boom
	}}
	f := newFixture(t, nil, viewers)
	ctx := context.Background()

	require.NoError(t, f.store.Set(ctx, "admin-cred", credential.Notify))
	_, err := f.coord.Load(ctx)
	require.ErrorIs(t, err, boom)

	assert.Equal(t, domain.StateError, f.coord.State())
	assert.Equal(t, boom, f.coord.Err())
	assert.Equal(t, domain.Credential("admin-cred"), f.credential(t))
	assert.Empty(t, f.nav.Redirects())
}

func TestLoad_StaleViewerFetchDiscarded(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	viewers := &mockViewers{fetchViewerFn: func(_ context.Context, cred domain.Credential) (*domain.Viewer, error) {
		switch cred {
		case "admin-cred":
			close(started)
			<-release
			v := adminViewer
			return &v, nil
		case "john-cred":
			v := johnViewer
			return &v, nil
		}
		return nil, &domain.AuthenticationError{}
	}}
	f := newFixture(t, nil, viewers)
	ctx := context.Background()

	require.NoError(t, f.store.Set(ctx, "admin-cred", credential.Notify))

	type result struct {
		viewer *domain.Viewer
		err    error
	}
	done := make(chan result, 1)
	go func() {
		v, err := f.coord.Load(ctx)
		done <- result{v, err}
	}()

	<-started
	require.NoError(t, f.store.Set(ctx, "john-cred", credential.Notify))
	close(release)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, johnViewer, *res.viewer)
	assert.Equal(t, johnViewer, *f.coord.Viewer())
	assert.Equal(t, 1, f.recorder.Count("viewer:stale"))
}

func TestLandingRoute(t *testing.T) {
	t.Run("admin lands on admin root", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		f.signInAs(t, "admin-cred")

		route, err := f.coord.LandingRoute(context.Background())
		require.NoError(t, err)
		assert.Equal(t, domain.RouteAdmin, route)
	})

	t.Run("unsupported role", func(t *testing.T) {
		viewers := viewersByCredential(map[domain.Credential]domain.Viewer{
			"odd-cred": {ID: "x", Role: domain.Role("AUDITOR")},
		})
		f := newFixture(t, nil, viewers)
		f.signInAs(t, "odd-cred")

		_, err := f.coord.LandingRoute(context.Background())
		require.ErrorIs(t, err, domain.ErrUnsupportedRole)
	})

	t.Run("recomputed after credential swap", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		ctx := context.Background()
		f.signInAs(t, "admin-cred")

		route, err := f.coord.LandingRoute(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.RouteAdmin, route)

		require.NoError(t, f.store.Set(ctx, "john-cred", credential.Notify))
		route, err = f.coord.LandingRoute(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.RouteHome, route)
	})
}

func TestImpersonate_AdminSwapsSilentlyAndHardNavigates(t *testing.T) {
	identity := &mockIdentity{
		impersonateFn: func(_ context.Context, admin domain.Credential, target string) (domain.Credential, error) {
			assert.Equal(t, domain.Credential("admin-cred"), admin)
			assert.Equal(t, "user-42", target)
			return "user-42-cred", nil
		},
	}
	f := newFixture(t, identity, nil)
	f.signInAs(t, "admin-cred")

	var notified []domain.Credential
	f.store.Subscribe(func(c domain.Credential) { notified = append(notified, c) })

	require.NoError(t, f.coord.Impersonate(context.Background(), "user-42"))

	assert.Equal(t, domain.Credential("user-42-cred"), f.credential(t))
	assert.True(t, f.impersonated(t))
	assert.Empty(t, notified, "impersonation must not notify subscribers")
	assert.Equal(t, []string{domain.RouteHome}, f.nav.HardNavigations())
	assert.Equal(t, 1, f.cache.Clears())
	assert.Nil(t, f.coord.Viewer())
	assert.Equal(t, domain.StateLoading, f.coord.State())
}

func TestImpersonate_Preconditions(t *testing.T) {
	t.Run("unauthenticated", func(t *testing.T) {
		identity := &mockIdentity{}
		f := newFixture(t, identity, nil)

		err := f.coord.Impersonate(context.Background(), "user-42")
		require.ErrorIs(t, err, domain.ErrNotAuthenticated)
		assert.Empty(t, identity.Calls())
	})

	t.Run("basic viewer", func(t *testing.T) {
		identity := &mockIdentity{}
		f := newFixture(t, identity, nil)
		f.signInAs(t, "john-cred")

		err := f.coord.Impersonate(context.Background(), "user-42")
		require.ErrorIs(t, err, domain.ErrForbidden)
		assert.Empty(t, identity.Calls())
	})
}

func TestImpersonate_SuspendedTargetReturnsFailures(t *testing.T) {
	identity := &mockIdentity{
		impersonateFn: func(context.Context, domain.Credential, string) (domain.Credential, error) {
			return "", &domain.ValidationError{Failures: []domain.FieldFailure{{Message: "Cannot impersonate suspended user"}}}
		},
	}
	f := newFixture(t, identity, nil)
	f.signInAs(t, "admin-cred")

	err := f.coord.Impersonate(context.Background(), "user-9")
	validation, ok := errors.AsType[*domain.ValidationError](err)
	require.True(t, ok)
	assert.Equal(t, []domain.FieldFailure{{Message: "Cannot impersonate suspended user"}}, validation.Failures)

	assert.Equal(t, domain.Credential("admin-cred"), f.credential(t))
	assert.False(t, f.impersonated(t))
	assert.Equal(t, domain.StateAuthenticated, f.coord.State())
	assert.Empty(t, f.nav.HardNavigations())
}

func TestImpersonate_RejectedClearsSession(t *testing.T) {
	identity := &mockIdentity{
		impersonateFn: func(context.Context, domain.Credential, string) (domain.Credential, error) {
			return "", &domain.AuthenticationError{}
		},
	}
	f := newFixture(t, identity, nil)
	f.signInAs(t, "admin-cred")

	err := f.coord.Impersonate(context.Background(), "user-42")
	require.ErrorIs(t, err, domain.ErrAuthenticationRejected)

	assert.True(t, f.credential(t).IsZero())
	assert.False(t, f.impersonated(t))
	assert.Equal(t, domain.StateUnauthenticated, f.coord.State())
	assert.Equal(t, []string{domain.RouteSignIn}, f.nav.Redirects())
	assert.Equal(t, 1, f.cache.Clears())
}

func TestImpersonate_TransportFailureLeavesStateAlone(t *testing.T) {
	identity := &mockIdentity{
		impersonateFn: func(context.Context, domain.Credential, string) (domain.Credential, error) {
			return "", &domain.TransportError{Cause: errors.New("connection refused")}
		},
	}
	f := newFixture(t, identity, nil)
	f.signInAs(t, "admin-cred")

	err := f.coord.Impersonate(context.Background(), "user-42")
	_, ok := errors.AsType[*domain.TransportError](err)
	require.True(t, ok)

	assert.Equal(t, domain.Credential("admin-cred"), f.credential(t))
	assert.Equal(t, domain.StateAuthenticated, f.coord.State())
	assert.Equal(t, 1, f.recorder.Count("impersonate:transport"))
}

// gatedImpersonation blocks each target's exchange until released.
type gatedImpersonation struct {
	called  map[string]chan struct{}
	release map[string]chan struct{}
}

func newGatedImpersonation(targets ...string) *gatedImpersonation {
	g := &gatedImpersonation{called: map[string]chan struct{}{}, release: map[string]chan struct{}{}}
	for _, target := range targets {
		g.called[target] = make(chan struct{})
		g.release[target] = make(chan struct{})
	}
	return g
}

func (g *gatedImpersonation) exchange(_ context.Context, _ domain.Credential, target string) (domain.Credential, error) {
	close(g.called[target])
	<-g.release[target]
	return domain.Credential(target + "-cred"), nil
}

func TestImpersonate_OnlyLatestInvocationCommits(t *testing.T) {
	for _, order := range [][]string{{"u1", "u2"}, {"u2", "u1"}} {
		t.Run(order[0]+" responds first", func(t *testing.T) {
			gate := newGatedImpersonation("u1", "u2")
			f := newFixture(t, &mockIdentity{impersonateFn: gate.exchange}, nil)
			f.signInAs(t, "admin-cred")
			ctx := context.Background()

			done := map[string]chan error{"u1": make(chan error, 1), "u2": make(chan error, 1)}
			go func() { done["u1"] <- f.coord.Impersonate(ctx, "u1") }()
			<-gate.called["u1"]
			go func() { done["u2"] <- f.coord.Impersonate(ctx, "u2") }()
			<-gate.called["u2"]

			for _, target := range order {
				close(gate.release[target])
				require.NoError(t, <-done[target])
			}

			assert.Equal(t, domain.Credential("u2-cred"), f.credential(t))
			assert.True(t, f.impersonated(t))
			assert.Equal(t, []string{domain.RouteHome}, f.nav.HardNavigations())
			assert.Equal(t, 1, f.recorder.Count("impersonate:superseded"))
		})
	}
}

func TestUnimpersonate_WithoutFlagIsNoop(t *testing.T) {
	identity := &mockIdentity{}
	f := newFixture(t, identity, nil)
	f.signInAs(t, "admin-cred")

	require.NoError(t, f.coord.Unimpersonate(context.Background()))
	assert.Empty(t, identity.Calls())
	assert.Empty(t, f.nav.HardNavigations())
}

func TestUnimpersonate_RestoresAdmin(t *testing.T) {
	identity := &mockIdentity{
		unimpersonateFn: func(_ context.Context, cred domain.Credential) (domain.Credential, error) {
			assert.Equal(t, domain.Credential("john-cred"), cred)
			return "admin-cred", nil
		},
	}
	f := newFixture(t, identity, nil)
	ctx := context.Background()
	f.signInAs(t, "john-cred")
	require.NoError(t, f.store.SetImpersonated(ctx, true))

	require.NoError(t, f.coord.Unimpersonate(ctx))

	assert.Equal(t, domain.Credential("admin-cred"), f.credential(t))
	assert.False(t, f.impersonated(t))
	assert.Equal(t, []string{domain.RouteAdmin}, f.nav.HardNavigations())
	assert.Equal(t, 1, f.cache.Clears())

	viewer, err := f.coord.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, adminViewer, *viewer)
}

func TestUnimpersonate_RejectedClearsFlag(t *testing.T) {
	identity := &mockIdentity{
		unimpersonateFn: func(context.Context, domain.Credential) (domain.Credential, error) {
			return "", &domain.AuthenticationError{}
		},
	}
	f := newFixture(t, identity, nil)
	ctx := context.Background()
	f.signInAs(t, "john-cred")
	require.NoError(t, f.store.SetImpersonated(ctx, true))

	err := f.coord.Unimpersonate(ctx)
	require.ErrorIs(t, err, domain.ErrAuthenticationRejected)

	assert.True(t, f.credential(t).IsZero())
	assert.False(t, f.impersonated(t))
	assert.Equal(t, domain.StateUnauthenticated, f.coord.State())
}

func TestUnimpersonate_TransportFailureKeepsImpersonation(t *testing.T) {
	identity := &mockIdentity{
		unimpersonateFn: func(context.Context, domain.Credential) (domain.Credential, error) {
			return "", &domain.TransportError{Status: 503, Cause: errors.New("unavailable")}
		},
	}
	f := newFixture(t, identity, nil)
	ctx := context.Background()
	f.signInAs(t, "john-cred")
	require.NoError(t, f.store.SetImpersonated(ctx, true))

	err := f.coord.Unimpersonate(ctx)
	require.Error(t, err)

	assert.Equal(t, domain.Credential("john-cred"), f.credential(t))
	assert.True(t, f.impersonated(t))
}

func TestLogout_ClearsEverything(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.signInAs(t, "john-cred")
	require.NoError(t, f.store.SetImpersonated(ctx, true))

	require.NoError(t, f.coord.Logout(ctx))

	assert.True(t, f.credential(t).IsZero())
	assert.False(t, f.impersonated(t))
	assert.Equal(t, 1, f.cache.Clears())
	assert.Nil(t, f.coord.Viewer())
	assert.Equal(t, domain.StateUnauthenticated, f.coord.State())
}

func TestLogout_SupersedesInFlightImpersonation(t *testing.T) {
	gate := newGatedImpersonation("user-42")
	f := newFixture(t, &mockIdentity{impersonateFn: gate.exchange}, nil)
	f.signInAs(t, "admin-cred")
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- f.coord.Impersonate(ctx, "user-42") }()
	<-gate.called["user-42"]

	require.NoError(t, f.coord.Logout(ctx))
	close(gate.release["user-42"])

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("impersonation did not finish")
	}

	assert.True(t, f.credential(t).IsZero())
	assert.False(t, f.impersonated(t))
	assert.Empty(t, f.nav.HardNavigations())
}

func TestLogout_CacheFailureIsReported(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.cache.clearFn = func(context.Context) error { return errors.New("redis down") }
	f.signInAs(t, "john-cred")

	err := f.coord.Logout(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clear query cache")
	assert.True(t, f.credential(t).IsZero())
}

func TestCoordinator_ConcurrentLoadsShareOneFetch(t *testing.T) {
	var mu sync.Mutex
	fetches := 0
	release := make(chan struct{})
	viewers := &mockViewers{fetchViewerFn: func(context.Context, domain.Credential) (*domain.Viewer, error) {
		mu.Lock()
		fetches++
		mu.Unlock()
		<-release
		v := johnViewer
		return &v, nil
	}}
	f := newFixture(t, nil, viewers)
	ctx := context.Background()
	require.NoError(t, f.store.Set(ctx, "john-cred", credential.Notify))

	var wg sync.WaitGroup
	for range 5 {
		wg.Go(func() {
			v, err := f.coord.Load(ctx)
			assert.NoError(t, err)
			assert.Equal(t, johnViewer, *v)
		})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fetches == 1
	}, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, fetches)
	assert.Equal(t, domain.StateAuthenticated, f.coord.State())
}

func TestExpire_ClearsAndRedirectsOnce(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.signInAs(t, "admin-cred")

	require.NoError(t, f.coord.Expire(ctx))
	_, err := f.coord.RequireAuthenticated(ctx)
	require.ErrorIs(t, err, domain.ErrNotAuthenticated)

	assert.True(t, f.credential(t).IsZero())
	assert.Equal(t, 1, f.cache.Clears())
	assert.Equal(t, []string{domain.RouteSignIn}, f.nav.Redirects())
}
