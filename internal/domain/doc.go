// Package domain holds the console's shared vocabulary: credentials, viewers, users, session
// states, notifications and the error taxonomy every layer maps remote failures onto.
// The interfaces here are implemented by adapters and consumed by session and app.
package domain
