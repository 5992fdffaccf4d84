package models

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrConflict          = errors.New("conflict")
	ErrTransport         = errors.New("transport error")
	ErrValidation        = errors.New("validation failed")
	ErrRateLimited       = errors.New("rate limited")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrNotFound, "NotFound"},
	{ErrForbidden, "Forbidden"},
	{ErrInvalidCredential, "InvalidCredential"},
	{ErrInvalidTransition, "InvalidTransition"},
	{ErrConflict, "Conflict"},
	{ErrTransport, "TransportError"},
	{ErrValidation, "Validation"},
	{ErrRateLimited, "RateLimited"},
}

// KindOf names the taxonomy entry err belongs to, or "Internal".
func KindOf(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}
