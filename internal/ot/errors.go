package ot

import "errors"

// Error kinds. Operations wrap these with context; match with errors.Is.
var (
	// ErrInvalidOperation is returned when a structural precondition fails:
	// an out-of-bounds position or range, or an unsupported compose pairing.
	// The caller should reject the edit and resync from the server.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrConflict is reserved for conflicts no transform rule resolves.
	// Every insert/delete/retain pairing currently resolves automatically.
	ErrConflict = errors.New("operation conflict")
)
