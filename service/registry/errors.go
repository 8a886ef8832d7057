// SPDX-License-Identifier: BSD-3-Clause

package registry

import "errors"

var (
	// ErrInvalidConfiguration indicates the service configuration is invalid.
	ErrInvalidConfiguration = errors.New("invalid registry service configuration")
	// ErrNATSConnectionFailed indicates the in-process NATS connection could
	// not be established.
	ErrNATSConnectionFailed = errors.New("failed to connect to IPC bus")
	// ErrPersistenceInitFailed indicates the persistence port failed to
	// initialize its schema/storage.
	ErrPersistenceInitFailed = errors.New("failed to initialize persistence")
	// ErrUnknownPersistenceKind indicates an unrecognized PersistenceKind.
	ErrUnknownPersistenceKind = errors.New("unknown persistence kind")
	// ErrUnknownTemplate indicates a create request named a template that
	// was never registered via WithMachineSpec.
	ErrUnknownTemplate = errors.New("unknown machine template")
	// ErrMicroServiceInitFailed indicates NATS micro service creation failed.
	ErrMicroServiceInitFailed = errors.New("failed to create micro service")
	// ErrEndpointRegistrationFailed indicates a NATS micro endpoint could
	// not be registered.
	ErrEndpointRegistrationFailed = errors.New("failed to register endpoint")
	// ErrDecodeRequestFailed indicates an inbound request body could not be
	// decoded as JSON.
	ErrDecodeRequestFailed = errors.New("failed to decode request")
	// ErrEncodeResponseFailed indicates an outbound response could not be
	// encoded as JSON.
	ErrEncodeResponseFailed = errors.New("failed to encode response")
)
