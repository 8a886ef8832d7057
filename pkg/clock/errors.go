// SPDX-License-Identifier: BSD-3-Clause

package clock

import "errors"

var (
	// ErrShutdown indicates the scheduler has been shut down and refuses new timeouts.
	ErrShutdown = errors.New("timeout scheduler is shutting down")
	// ErrNilCallback indicates a nil callback was passed to ScheduleTimeout.
	ErrNilCallback = errors.New("timeout callback cannot be nil")
)
