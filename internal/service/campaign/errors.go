package campaign

import "errors"

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound           = errors.New("campaign not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrEmptyAudience      = errors.New("audience resolved to zero recipients")
	ErrNoFailedRecipients = errors.New("campaign has no failed recipients to resend")
	ErrValidation         = errors.New("validation failed")
)
