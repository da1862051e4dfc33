// Package devidentity is a self-contained identity and user directory service for local development
// and tests. It speaks the same HTTP contract as the production identity service: credentials are
// HS256 JWTs, an impersonated credential carries the admin's id in its "imp" claim.
package devidentity
