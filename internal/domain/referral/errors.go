package referral

import "errors"

// Errors returned by the lifecycle engine. Callers match them with errors.Is;
// the wrapped message carries the detail.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("sample request not found")
	ErrInvalidState = errors.New("sample request is not in the required state")
)
