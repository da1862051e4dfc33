// Package cli implements consolectl, a terminal front end to the console's session layer.
// Each profile of the profile file acts as one tab: it owns its credential and impersonation flag.
package cli
