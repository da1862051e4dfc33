package overlay

import "github.com/google/uuid"

// Dialog is the confirmation modal the console shows before destructive actions.
type Dialog struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	ConfirmText   string `json:"confirmText"`
	CancelText    string `json:"cancelText"`
	ConfirmAction string `json:"confirmAction"`
	Dangerous     bool   `json:"dangerous"`
}

// NewDangerousDialog builds a red-button confirmation with default button labels.
func NewDangerousDialog(title, description, action string) Dialog {
	return Dialog{
		ID:            uuid.NewString(),
		Title:         title,
		Description:   description,
		ConfirmText:   "Confirm",
		CancelText:    "Cancel",
		ConfirmAction: action,
		Dangerous:     true,
	}
}
