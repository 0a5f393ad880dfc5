package inventory

import (
	"errors"
	"fmt"
)

// Sentinel errors for the single-item operations. Store implementations
// translate their SDK errors into these before they cross the store
// boundary; nothing above the store layer sees a raw SDK error.
var (
	ErrNotFound            = errors.New("item not found")
	ErrAlreadyExists       = errors.New("item already exists")
	ErrConcurrencyConflict = errors.New("item was modified by another writer")
)

// ValidationError reports a malformed or out-of-range input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ImmutableFieldError reports an attempt to change a write-once field.
type ImmutableFieldError struct {
	Field string
}

func (e *ImmutableFieldError) Error() string {
	return fmt.Sprintf("field %s is immutable after creation", e.Field)
}

// BatchError reports the first failing operation of a per-category batch
// group. Groups before the failing one committed independently; groups
// after it were never attempted.
type BatchError struct {
	Category string
	Index    int
	Err      error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch failed for category %q at operation %d: %v", e.Category, e.Index, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}
