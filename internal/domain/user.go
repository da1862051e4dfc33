package domain

import (
	"context"
	"time"
)

// User is a row on the admin user-management screen.
type User struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Role        Role       `json:"role"`
	SuspendedAt *time.Time `json:"suspendedAt"`
}

func (u User) IsSuspended() bool { return u.SuspendedAt != nil }

// UserDirectory is the remote domain-data service behind the admin screen.
type UserDirectory interface {
	ListUsers(ctx context.Context, credential Credential) ([]User, error)
	SuspendUser(ctx context.Context, credential Credential, userID string) (*User, error)
	ActivateUser(ctx context.Context, credential Credential, userID string) (*User, error)
}
