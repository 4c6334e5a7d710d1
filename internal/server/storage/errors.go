package storage

import "errors"

// Common storage errors
var (
	// ErrInvalidChange indicates that change cannot be applied (unknown type, malformed payload)
	ErrInvalidChange = errors.New("invalid change")

	// ErrEntityNotFound indicates that entity was not found in storage
	ErrEntityNotFound = errors.New("entity not found")
)
