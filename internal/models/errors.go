package models

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument marks caller mistakes: missing collection, empty batch, bad enum.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound marks a referenced artifact or queue item that no longer exists.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable wraps backend failures that abort the current call.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrLeaseConflict is returned under strict ownership when another reviewer holds the item.
	ErrLeaseConflict = errors.New("lease held by another reviewer")
)

// Unavailable wraps a backend error so callers can match ErrStoreUnavailable.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
