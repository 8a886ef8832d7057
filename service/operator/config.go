// SPDX-License-Identifier: BSD-3-Clause

package operator

import (
	"log/slog"
	"time"

	"github.com/fsmrt/fsmrt/service"
	"github.com/fsmrt/fsmrt/service/debugbus"
	"github.com/fsmrt/fsmrt/service/ipc"
	"github.com/fsmrt/fsmrt/service/registry"
)

type config struct {
	name        string
	id          string
	disableLogo bool
	customLogo  string
	otelSetup   func()
	logger      *slog.Logger
	timeout     time.Duration
	// IPC service needs special handling
	ipc *ipc.IPC
	// Everything of type service.Service needs to be exported
	Registry service.Service
	Debugbus service.Service

	extraServices []service.Service
}

type Option interface {
	apply(*config)
}

type nameOption struct {
	name string
}

func (o *nameOption) apply(c *config) {
	c.name = o.name
}

// WithName sets the name for the operator configuration.
func WithName(name string) Option {
	return &nameOption{
		name: name,
	}
}

type idOption struct {
	id string
}

func (o *idOption) apply(c *config) {
	c.id = o.id
}

// WithID sets the unique identifier for the operator configuration.
func WithID(id string) Option {
	return &idOption{
		id: id,
	}
}

type disableLogoOption struct {
	disableLogo bool
}

func (o *disableLogoOption) apply(c *config) {
	c.disableLogo = o.disableLogo
}

// WithDisableLogo controls whether the logo display is disabled.
// When set to true, the logo will not be shown during startup.
func WithDisableLogo(disableLogo bool) Option {
	return &disableLogoOption{
		disableLogo: disableLogo,
	}
}

type customLogoOption struct {
	customLogo string
}

func (o *customLogoOption) apply(c *config) {
	c.customLogo = o.customLogo
}

// WithCustomLogo sets a custom logo to be displayed instead of the default logo.
func WithCustomLogo(customLogo string) Option {
	return &customLogoOption{
		customLogo: customLogo,
	}
}

type otelSetupOption struct {
	otelSetup func()
}

func (o *otelSetupOption) apply(c *config) {
	c.otelSetup = o.otelSetup
}

// WithOtelSetup sets up OpenTelemetry configuration by providing a setup function.
// The function will be called during operator initialization to configure telemetry.
func WithOtelSetup(otelSetup func()) Option {
	return &otelSetupOption{
		otelSetup: otelSetup,
	}
}

type loggerOption struct {
	logger *slog.Logger
}

func (o *loggerOption) apply(c *config) {
	c.logger = o.logger
}

// WithLogger sets a custom structured logger for the operator.
// If not provided, a default logger will be used.
func WithLogger(logger *slog.Logger) Option {
	return &loggerOption{
		logger: logger,
	}
}

type timeoutOption struct {
	timeout time.Duration
}

func (o *timeoutOption) apply(c *config) {
	c.timeout = o.timeout
}

// WithTimeout sets the timeout duration for operator operations, and doubles
// as the default shutdown deadline for the registry it starts (spec.md §5).
func WithTimeout(timeout time.Duration) Option {
	return &timeoutOption{
		timeout: timeout,
	}
}

type ipcOption struct {
	ipc *ipc.IPC
}

func (o *ipcOption) apply(c *config) {
	c.ipc = o.ipc
}

// WithIPC configures the Inter-Process Communication service with the provided options.
// This service handles communication between the registry and debug-bus services.
func WithIPC(opts ...ipc.Option) Option {
	return &ipcOption{
		ipc: ipc.New(opts...),
	}
}

type registryOption struct {
	registry service.Service
}

func (o *registryOption) apply(c *config) {
	c.Registry = o.registry
}

// WithRegistry configures the FSM registry service with the provided options.
// This service owns the active machine set, dispatches events, and persists
// transitions (spec.md §4.5).
func WithRegistry(opts ...registry.Option) Option {
	return &registryOption{
		registry: registry.New(opts...),
	}
}

type debugbusOption struct {
	debugbus service.Service
}

func (o *debugbusOption) apply(c *config) {
	c.Debugbus = o.debugbus
}

// WithDebugbus configures the live debug channel service with the provided
// options (spec.md §6). The debug bus always needs a bound registry
// (debugbus.WithRegistry); when the caller already holds the *registry.
// Registry instance passed to WithRegistryInstance, prefer
// WithDebugbusInstance so both options refer to the same service.
func WithDebugbus(opts ...debugbus.Option) Option {
	return &debugbusOption{
		debugbus: debugbus.New(opts...),
	}
}

// WithRegistryInstance configures the operator with an already-constructed
// registry service, rather than building one from options. Use this when
// the caller also needs to bind service/debugbus to the same instance via
// debugbus.WithRegistry, since WithRegistry/WithDebugbus each construct
// their own independent service otherwise.
func WithRegistryInstance(r *registry.Registry) Option {
	return &registryOption{registry: r}
}

// WithDebugbusInstance configures the operator with an already-constructed
// debug-bus service. See WithRegistryInstance.
func WithDebugbusInstance(d *debugbus.DebugBus) Option {
	return &debugbusOption{debugbus: d}
}

type servicesOption struct {
	services []service.Service
}

func (o *servicesOption) apply(c *config) {
	c.extraServices = o.services
}

// WithExtraServices adds additional custom services to the operator
// configuration, managed alongside the registry and debug-bus services.
func WithExtraServices(services ...service.Service) Option {
	return &servicesOption{
		services: services,
	}
}
