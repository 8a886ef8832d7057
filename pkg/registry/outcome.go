// SPDX-License-Identifier: BSD-3-Clause

package registry

import "github.com/fsmrt/fsmrt/pkg/fsm"

// OutcomeKind is the result of SendEvent/RouteEvent (spec.md §4.5).
type OutcomeKind int

const (
	Accepted OutcomeKind = iota
	ThrottledSystem
	ThrottledPerMachine
	Ignored
	CapacityFull
	NotFoundFinal
	NotFound
)

func (k OutcomeKind) String() string {
	switch k {
	case Accepted:
		return "Accepted"
	case ThrottledSystem:
		return "ThrottledSystem"
	case ThrottledPerMachine:
		return "ThrottledPerMachine"
	case Ignored:
		return "Ignored"
	case CapacityFull:
		return "CapacityFull"
	case NotFoundFinal:
		return "NotFoundFinal"
	case NotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

// Outcome is the full result of dispatching one event through the
// registry. Reason is only meaningful when Kind is Ignored.
type Outcome struct {
	Kind   OutcomeKind
	Reason fsm.IgnoredReason
}

func accepted() Outcome                       { return Outcome{Kind: Accepted} }
func ignored(reason fsm.IgnoredReason) Outcome { return Outcome{Kind: Ignored, Reason: reason} }
