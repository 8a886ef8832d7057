// SPDX-License-Identifier: BSD-3-Clause

package fsm

import "errors"

var (
	// ErrInvalidTemplate is returned by Builder.Build when the accumulated
	// state/transition definitions are inconsistent.
	ErrInvalidTemplate = errors.New("fsm: invalid template")

	// ErrUnknownState is returned by RestoreState when asked to restore a
	// state name the template does not define. (Build reports a template
	// that references an undefined state as ErrInvalidTemplate.)
	ErrUnknownState = errors.New("fsm: unknown state")

	// ErrAlreadyStarted is returned by Start when the machine has already
	// entered its initial state.
	ErrAlreadyStarted = errors.New("fsm: machine already started")

	// ErrNotStarted is returned by Fire when called before Start or
	// RestoreState.
	ErrNotStarted = errors.New("fsm: machine not started")

	// ErrComplete is returned by Fire once the machine has reached a final
	// state; the caller should treat this as InFinalState/MachineComplete
	// per the registry's ignored-event taxonomy.
	ErrComplete = errors.New("fsm: machine is complete")
)
