package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/pscheid92/tabconsole/internal/domain"
)

type mockIdentity struct {
	mu    sync.Mutex
	calls []string

	signInFn        func(ctx context.Context, email, password string) (domain.Credential, error)
	impersonateFn   func(ctx context.Context, admin domain.Credential, targetUserID string) (domain.Credential, error)
	unimpersonateFn func(ctx context.Context, impersonated domain.Credential) (domain.Credential, error)
}

func (m *mockIdentity) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockIdentity) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockIdentity) SignIn(ctx context.Context, email, password string) (domain.Credential, error) {
	m.record("sign-in")
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return "", fmt.Errorf("not implemented")
}

func (m *mockIdentity) Impersonate(ctx context.Context, admin domain.Credential, targetUserID string) (domain.Credential, error) {
	m.record("impersonate")
	if m.impersonateFn != nil {
		return m.impersonateFn(ctx, admin, targetUserID)
	}
	return "", fmt.Errorf("not implemented")
}

func (m *mockIdentity) Unimpersonate(ctx context.Context, impersonated domain.Credential) (domain.Credential, error) {
	m.record("unimpersonate")
	if m.unimpersonateFn != nil {
		return m.unimpersonateFn(ctx, impersonated)
	}
	return "", fmt.Errorf("not implemented")
}

type mockViewers struct {
	fetchViewerFn func(ctx context.Context, cred domain.Credential) (*domain.Viewer, error)
}

func (m *mockViewers) FetchViewer(ctx context.Context, cred domain.Credential) (*domain.Viewer, error) {
	if m.fetchViewerFn != nil {
		return m.fetchViewerFn(ctx, cred)
	}
	return nil, fmt.Errorf("not implemented")
}

// viewersByCredential resolves credentials from a fixed table and rejects everything else.
func viewersByCredential(table map[domain.Credential]domain.Viewer) *mockViewers {
	return &mockViewers{fetchViewerFn: func(_ context.Context, cred domain.Credential) (*domain.Viewer, error) {
		v, ok := table[cred]
		if !ok {
			return nil, &domain.AuthenticationError{}
		}
		return &v, nil
	}}
}

type mockCache struct {
	mu      sync.Mutex
	clears  int
	clearFn func(ctx context.Context) error
}

func (m *mockCache) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.clears++
	m.mu.Unlock()
	if m.clearFn != nil {
		return m.clearFn(ctx)
	}
	return nil
}

func (m *mockCache) Clears() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears
}

type mockNavigator struct {
	mu        sync.Mutex
	redirects []string
	hard      []string
}

func (m *mockNavigator) Redirect(_ context.Context, route string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.redirects = append(m.redirects, route)
}

func (m *mockNavigator) HardNavigate(_ context.Context, route string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hard = append(m.hard, route)
}

func (m *mockNavigator) Redirects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.redirects...)
}

func (m *mockNavigator) HardNavigations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.hard...)
}

type mockRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{counts: make(map[string]int)}
}

func (m *mockRecorder) inc(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
}

func (m *mockRecorder) SignIn(outcome string)      { m.inc("sign_in:" + outcome) }
func (m *mockRecorder) Swap(kind, outcome string)  { m.inc(kind + ":" + outcome) }
func (m *mockRecorder) ViewerFetch(outcome string) { m.inc("viewer:" + outcome) }

func (m *mockRecorder) Count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}
