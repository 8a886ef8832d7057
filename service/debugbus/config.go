// SPDX-License-Identifier: BSD-3-Clause

package debugbus

import (
	"time"

	registrysvc "github.com/fsmrt/fsmrt/service/registry"
)

// Defaults mirrored by New(); see config for field meaning.
const (
	DefaultServiceName            = "debugbus"
	DefaultServiceDescription     = "Live debug channel: event metadata, state changes, and status broadcasts"
	DefaultServiceVersion         = "0.1.0"
	DefaultCompleteStatusInterval = 10 * time.Second
)

type config struct {
	serviceName        string
	serviceDescription string
	serviceVersion      string

	registry *registrysvc.Registry

	completeStatusInterval time.Duration
	sampleOneInN            int
}

type Option interface {
	apply(*config)
}

type serviceNameOption struct {
	name string
}

func (o *serviceNameOption) apply(c *config) {
	c.serviceName = o.name
}

// WithServiceName sets the NATS micro service name reported by Name().
func WithServiceName(name string) Option {
	return &serviceNameOption{name: name}
}

type registryOption struct {
	registry *registrysvc.Registry
}

func (o *registryOption) apply(c *config) {
	c.registry = o.registry
}

// WithRegistry binds the debug bus to a registry service instance,
// started alongside it under the same supervision tree. The debug bus
// subscribes to the registry's observer bus in-process and forwards
// inbound EVENT injection to its domain registry (spec.md §6).
func WithRegistry(registry *registrysvc.Registry) Option {
	return &registryOption{registry: registry}
}

type completeStatusIntervalOption struct {
	interval time.Duration
}

func (o *completeStatusIntervalOption) apply(c *config) {
	c.completeStatusInterval = o.interval
}

// WithCompleteStatusInterval sets how often COMPLETE_STATUS summaries are
// published. Zero disables the periodic broadcast entirely.
func WithCompleteStatusInterval(interval time.Duration) Option {
	return &completeStatusIntervalOption{interval: interval}
}

type sampleLoggingOption struct {
	oneInN int
}

func (o *sampleLoggingOption) apply(c *config) {
	c.sampleOneInN = o.oneInN
}

// WithSampleLogging rate-limits STATE_CHANGE broadcasts to one in every n
// transitions per machine, mirroring spec.md §6's sampleLogging option.
// n<=1 samples every transition.
func WithSampleLogging(oneInN int) Option {
	return &sampleLoggingOption{oneInN: oneInN}
}
