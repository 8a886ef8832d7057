// SPDX-License-Identifier: BSD-3-Clause

package persistence

import (
	"errors"
	"fmt"
)

// ErrMissingID indicates a PersistentContext was saved with an empty ID.
var ErrMissingID = errors.New("persistent context id cannot be empty")

// Error is the taxonomy entry for persistence failures (spec.md §7):
// PersistenceError{retryable}. Retryable is true for failures a caller
// might reasonably retry (timeouts, connection resets); false for
// structural failures (schema mismatch, serialization errors).
type Error struct {
	Op        string
	ID        string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("persistence: %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err as a persistence Error for operation op on machine id.
func NewError(op, id string, retryable bool, err error) *Error {
	return &Error{Op: op, ID: id, Retryable: retryable, Err: err}
}
