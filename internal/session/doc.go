// Package session derives the authenticated viewer of a tab from its credential and owns every
// credential swap: sign-in, impersonation, un-impersonation and logout.
//
// Many goroutines may call a Coordinator at once. Swaps take a ticket from a monotonically
// increasing sequence and commit only while their ticket is still the latest; a superseded
// result is dropped without an error. Viewer fetches are tagged with the credential generation
// they were issued for and dropped when the credential changed in the meantime.
package session
