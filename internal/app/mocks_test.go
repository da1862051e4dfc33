package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pscheid92/tabconsole/internal/domain"
)

// fakeIdentity plays identity exchange, viewer service and user directory at once.
type fakeIdentity struct {
	credentials map[string]domain.Credential
	viewers     map[domain.Credential]domain.Viewer

	impersonateFn   func(ctx context.Context, admin domain.Credential, targetUserID string) (domain.Credential, error)
	unimpersonateFn func(ctx context.Context, impersonated domain.Credential) (domain.Credential, error)
	listUsersFn     func(ctx context.Context, cred domain.Credential) ([]domain.User, error)
	suspendUserFn   func(ctx context.Context, cred domain.Credential, userID string) (*domain.User, error)
	activateUserFn  func(ctx context.Context, cred domain.Credential, userID string) (*domain.User, error)

	listCalls atomic.Int32
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		credentials: map[string]domain.Credential{
			"admin@example.com": "admin-cred",
			"john@example.com":  "john-cred",
		},
		viewers: map[domain.Credential]domain.Viewer{
			"admin-cred": {ID: "1", Name: "Admin", Role: domain.RoleAdmin},
			"john-cred":  {ID: "2", Name: "John", Role: domain.RoleBasic},
			"user-42":    {ID: "42", Name: "Jane", Role: domain.RoleBasic},
		},
	}
}

func (f *fakeIdentity) SignIn(_ context.Context, email, _ string) (domain.Credential, error) {
	cred, ok := f.credentials[email]
	if !ok {
		return "", &domain.AuthenticationError{Message: "Invalid email or password"}
	}
	return cred, nil
}

func (f *fakeIdentity) Impersonate(ctx context.Context, admin domain.Credential, targetUserID string) (domain.Credential, error) {
	if f.impersonateFn != nil {
		return f.impersonateFn(ctx, admin, targetUserID)
	}
	return domain.Credential(targetUserID), nil
}

func (f *fakeIdentity) Unimpersonate(ctx context.Context, impersonated domain.Credential) (domain.Credential, error) {
	if f.unimpersonateFn != nil {
		return f.unimpersonateFn(ctx, impersonated)
	}
	return "admin-cred", nil
}

func (f *fakeIdentity) FetchViewer(_ context.Context, cred domain.Credential) (*domain.Viewer, error) {
	v, ok := f.viewers[cred]
	if !ok {
		return nil, &domain.AuthenticationError{}
	}
	return &v, nil
}

func (f *fakeIdentity) ListUsers(ctx context.Context, cred domain.Credential) ([]domain.User, error) {
	f.listCalls.Add(1)
	if f.listUsersFn != nil {
		return f.listUsersFn(ctx, cred)
	}
	return []domain.User{{ID: "42", Name: "Jane", Email: "jane@example.com", Role: domain.RoleBasic}}, nil
}

func (f *fakeIdentity) SuspendUser(ctx context.Context, cred domain.Credential, userID string) (*domain.User, error) {
	if f.suspendUserFn != nil {
		return f.suspendUserFn(ctx, cred, userID)
	}
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeIdentity) ActivateUser(ctx context.Context, cred domain.Credential, userID string) (*domain.User, error) {
	if f.activateUserFn != nil {
		return f.activateUserFn(ctx, cred, userID)
	}
	return nil, fmt.Errorf("not implemented")
}

type mockInvalidator struct {
	mu   sync.Mutex
	keys []string
}

func (m *mockInvalidator) Publish(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
	return nil
}

func (m *mockInvalidator) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.keys...)
}
