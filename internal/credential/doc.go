// Package credential holds the bearer credential of one tab and the impersonation flag stored next to it.
//
// The Store is an observable cell: notifying writes reach subscribers synchronously, silent writes
// only touch storage. Storage failures are returned unchanged.
package credential
