package domain

import "context"

// IdentityExchange trades proofs (password, admin credential, impersonated credential) for credentials.
//
// Errors: *AuthenticationError (401), *ValidationError (400), *TransportError (anything else).
type IdentityExchange interface {
	SignIn(ctx context.Context, email, password string) (Credential, error)
	Impersonate(ctx context.Context, admin Credential, targetUserID string) (Credential, error)
	Unimpersonate(ctx context.Context, impersonated Credential) (Credential, error)
}
