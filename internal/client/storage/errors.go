package storage

import "errors"

// Common client storage errors
var (
	// ErrChangeNotFound indicates that ledger entry was not found
	ErrChangeNotFound = errors.New("change not found")

	// ErrConflictNotFound indicates that conflict record was not found
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrConflictAlreadyResolved indicates an attempt to resolve a conflict twice
	ErrConflictAlreadyResolved = errors.New("conflict already resolved")

	// ErrEntityNotFound indicates that business entity was not found
	ErrEntityNotFound = errors.New("entity not found")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
