package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrClosed is returned when the store has been closed or never opened.
	ErrClosed = errors.New("store: closed")

	// ErrNotFound is returned by required lookups for missing rows.
	// Deletes treat missing rows as a no-op instead.
	ErrNotFound = errors.New("store: not found")

	// ErrConstraint wraps foreign key and uniqueness violations.
	ErrConstraint = errors.New("store: constraint violation")

	// ErrDimension is returned when an embedding does not have EmbeddingDim
	// components.
	ErrDimension = fmt.Errorf("store: embedding must have %d dimensions", EmbeddingDim)
)

// mapError normalizes engine errors into the store's taxonomy.
// Storage errors are never swallowed; they propagate wrapped.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w (%v)", ErrNotFound, err)
	}
	if strings.Contains(err.Error(), "constraint failed") {
		return fmt.Errorf("%w: %v", ErrConstraint, err)
	}
	return err
}
