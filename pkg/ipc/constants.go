// SPDX-License-Identifier: BSD-3-Clause

package ipc

import (
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/micro"
)

// IPC Subject Constants for NATS Micro Services
// These constants define all the subjects used for inter-process communication
// between the registry service, the debug bus, and any external producer.
// Services should use these constants rather than constructing subjects
// dynamically.

// Registry Service Subjects (service/registry)
const (
	// SubjectRegistrySendEvent delivers one event to a single machine id.
	// Request payload: {machineId, eventType, payload}. Response: Outcome.
	SubjectRegistrySendEvent = "registry.send_event"
	// SubjectRegistryCreate explicitly registers a new machine.
	SubjectRegistryCreate = "registry.create"
	// SubjectRegistryRemove evicts a machine from the active set.
	SubjectRegistryRemove = "registry.remove"
	// SubjectRegistryState returns the on-demand snapshot for one machine id
	// (the CURRENT_STATE debug message, spec.md §6).
	SubjectRegistryState = "registry.state"
	// SubjectRegistryList returns the ids and states of all active machines.
	SubjectRegistryList = "registry.list"
)

// Live Debug Channel Subjects (service/debugbus, spec.md §6)
const (
	// SubjectDebugEventMetadata publishes the EVENT_METADATA_UPDATE catalog.
	SubjectDebugEventMetadata = "debug.event_metadata"
	// SubjectDebugStateChange publishes one STATE_CHANGE message per transition.
	SubjectDebugStateChange = "debug.state_change"
	// SubjectDebugCompleteStatus publishes the periodic COMPLETE_STATUS summary.
	SubjectDebugCompleteStatus = "debug.complete_status"
	// SubjectDebugCurrentState answers an on-demand CURRENT_STATE request.
	SubjectDebugCurrentState = "debug.current_state"
	// SubjectDebugTimeoutCountdown names the subject for optional
	// TIMEOUT_COUNTDOWN hints; service/debugbus does not publish on it.
	SubjectDebugTimeoutCountdown = "debug.timeout_countdown"
	// SubjectDebugInject accepts the inbound {action: "EVENT", ...} injection
	// message described in spec.md §6 and forwards it to the registry.
	SubjectDebugInject = "debug.inject"
)

// Stream Subjects for JetStream Persistence
const (
	// StreamSubjectMachineState is the JetStream KV/stream bucket subject
	// pattern backing the JetStream persistence port (one subject per
	// machine id).
	StreamSubjectMachineState = "fsmrt.machine.state.>"
	// StreamSubjectTransitions is the append-only transition log stream,
	// consumed by the debug bus for replay on client connect.
	StreamSubjectTransitions = "fsmrt.machine.transition.>"
)

// Queue Groups for Load Balancing
const (
	// QueueGroupRegistry is the NATS micro queue group joined by every
	// registry service instance, so inbound requests load-balance across
	// replicas without fanning a single event out twice.
	QueueGroupRegistry = "registry"
	// QueueGroupDebugBus is the queue group joined by debug bus instances.
	QueueGroupDebugBus = "debugbus"
)

// Default Timeouts (in milliseconds)
const (
	DefaultRequestTimeout  = 30000 // 30 seconds
	DefaultCommandTimeout  = 60000 // 60 seconds
	DefaultStreamTimeout   = 5000  // 5 seconds
	DefaultResponseTimeout = 10000 // 10 seconds
)

// Error Response Subjects
const (
	SubjectErrorResponse   = "error.response"
	SubjectTimeoutResponse = "timeout.response"
	SubjectInvalidRequest  = "invalid.request"
	SubjectNotFound        = "not.found"
	SubjectInternalError   = "internal.error"
)

// IPC Error Constants
var (
	ErrMissingRequiredField = NewIPCError("MISSING_REQUIRED_FIELD", "missing required field")
	ErrMarshalingFailed     = NewIPCError("MARSHALING_FAILED", "marshaling failed")
	ErrUnmarshalingFailed   = NewIPCError("UNMARSHALING_FAILED", "unmarshaling failed")
	ErrResponseTimeout      = NewIPCError("RESPONSE_TIMEOUT", "response timeout")

	ErrMachineNotFound       = NewIPCError("MACHINE_NOT_FOUND", "machine not found")
	ErrInvalidEventType      = NewIPCError("INVALID_EVENT_TYPE", "invalid event type")
	ErrStateTransitionFailed = NewIPCError("STATE_TRANSITION_FAILED", "state transition failed")

	ErrInternalError = NewIPCError("INTERNAL_ERROR", "internal error")
)

// IPCError represents a structured IPC error.
type IPCError struct {
	Code    string
	Message string
}

func (e *IPCError) Error() string {
	return e.Message
}

// NewIPCError creates a new IPC error.
func NewIPCError(code, message string) *IPCError {
	return &IPCError{
		Code:    code,
		Message: message,
	}
}

// ParseSubject splits a subject into group and endpoint components for NATS
// micro registration. For subjects like "registry.send_event", it returns
// group="registry" and endpoint="send_event". Subjects with more than one
// dot keep the first component as the group and join the remainder as the
// endpoint, so "fsmrt.machine.state.c1" parses to group="fsmrt",
// endpoint="machine.state.c1".
func ParseSubject(subject string) (group, endpoint string, err error) {
	if subject == "" {
		return "", "", NewIPCError("INVALID_SUBJECT", "subject cannot be empty")
	}

	parts := strings.SplitN(subject, ".", 2)
	if len(parts) != 2 {
		return "", "", NewIPCError("INVALID_SUBJECT", fmt.Sprintf("subject %s must contain at least one dot", subject))
	}

	group = strings.TrimSpace(parts[0])
	endpoint = strings.TrimSpace(parts[1])

	if group == "" {
		return "", "", NewIPCError("INVALID_SUBJECT", "group component cannot be empty")
	}
	if endpoint == "" {
		return "", "", NewIPCError("INVALID_SUBJECT", "endpoint component cannot be empty")
	}

	return group, endpoint, nil
}

// RegisterEndpointWithParsedSubject parses an IPC subject and returns the
// group and endpoint names for use with NATS micro registration.
func RegisterEndpointWithParsedSubject(subject string) (group, endpoint string, err error) {
	return ParseSubject(subject)
}

// RegisterEndpointWithGroupCache registers an endpoint by parsing the IPC
// subject and managing group creation, reducing boilerplate by caching
// groups as they're created.
func RegisterEndpointWithGroupCache(service micro.Service, subject string, handler micro.Handler, groups map[string]micro.Group) error {
	groupName, endpointName, err := ParseSubject(subject)
	if err != nil {
		return fmt.Errorf("failed to parse subject %s: %w", subject, err)
	}

	group, exists := groups[groupName]
	if !exists {
		group = service.AddGroup(groupName)
		groups[groupName] = group
	}

	if err := group.AddEndpoint(endpointName, handler); err != nil {
		return fmt.Errorf("failed to register endpoint %s in group %s: %w", endpointName, groupName, err)
	}

	return nil
}
