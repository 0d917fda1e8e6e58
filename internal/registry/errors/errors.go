// Package errors defines the sentinel errors shared across the registry
// service. Callers classify failures with errors.Is and wrap these with
// fmt.Errorf("%w: ...") for detail.
package errors

import (
	"fmt"
)

var (
	// ErrNotFound indicates the company or a referenced roster row no
	// longer exists.
	ErrNotFound = fmt.Errorf("not found")
	// ErrInvalidInput covers malformed extracted data, missing roster
	// action coverage and identifier mismatches. Never retried.
	ErrInvalidInput = fmt.Errorf("invalid input")
	// ErrPreviewExpired is returned when apply references a preview the
	// service no longer holds.
	ErrPreviewExpired = fmt.Errorf("%w: preview expired", ErrInvalidInput)
	// ErrStorage wraps transaction failures. The apply path is
	// idempotent, so a caller may safely retry the identical call.
	ErrStorage = fmt.Errorf("storage failure")
)
