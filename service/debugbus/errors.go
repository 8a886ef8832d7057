// SPDX-License-Identifier: BSD-3-Clause

package debugbus

import "errors"

var (
	// ErrRegistryNil indicates the debug bus was started without a bound
	// registry service (WithRegistry).
	ErrRegistryNil = errors.New("debug bus: no registry configured")
	// ErrNATSConnectionFailed indicates the in-process NATS connection
	// could not be established.
	ErrNATSConnectionFailed = errors.New("failed to connect to IPC bus")
	// ErrMicroServiceInitFailed indicates NATS micro service creation
	// failed.
	ErrMicroServiceInitFailed = errors.New("failed to create micro service")
	// ErrEndpointRegistrationFailed indicates a NATS micro endpoint could
	// not be registered.
	ErrEndpointRegistrationFailed = errors.New("failed to register endpoint")
	// ErrDecodeRequestFailed indicates an inbound request body could not
	// be decoded as JSON.
	ErrDecodeRequestFailed = errors.New("failed to decode request")
	// ErrRegistryNotReady indicates the bound registry never became ready
	// within the startup timeout.
	ErrRegistryNotReady = errors.New("registry service not ready")
)
