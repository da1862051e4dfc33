package domain

import "context"

// Credential is an opaque bearer token. The zero value means unauthenticated.
type Credential string

func (c Credential) IsZero() bool { return c == "" }

// Storage keys inside a tab's storage.
const (
	CredentialKey    = "token"
	ImpersonationKey = "shadowedSession"
)

// TabStorage is the durable, tab-scoped key/value storage backing the credential store.
// Implementations must return ok=false (not an error) for missing keys.
type TabStorage interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
