package domain

import "context"

type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleBasic Role = "BASIC"
)

// Viewer is the identity resolved for the currently active credential.
type Viewer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

func (v Viewer) IsAdmin() bool { return v.Role == RoleAdmin }

type ViewerService interface {
	FetchViewer(ctx context.Context, credential Credential) (*Viewer, error)
}
