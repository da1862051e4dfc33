// Package app provides the application service layer.
//
// Holds one tab context per browser tab (credential store, session coordinator, modal bus, toast
// channel, query cache) and orchestrates the console use cases on top of them: sign-in, the admin
// user screen, suspend confirmation, impersonation. Sits between HTTP handlers and the domain ports.
package app
