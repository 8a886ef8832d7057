// SPDX-License-Identifier: BSD-3-Clause

package registry

import "errors"

var (
	// ErrAlreadyRegistered is returned by Register when id is already
	// active.
	ErrAlreadyRegistered = errors.New("registry: machine already registered")

	// ErrCapacityFull is returned when creating or registering a machine
	// would exceed Config.MaxConcurrentMachines.
	ErrCapacityFull = errors.New("registry: at capacity")

	// ErrNotFoundFinal is returned by CreateOrGet when the persisted
	// context for id is already complete; such machines are never
	// rehydrated.
	ErrNotFoundFinal = errors.New("registry: machine is complete, not rehydrated")
)
