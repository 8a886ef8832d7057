// SPDX-License-Identifier: BSD-3-Clause

package ratelimit

import (
	"time"

	"github.com/joeycumines/go-catrate"
	"golang.org/x/time/rate"
)

// Controller enforces the two independent token buckets spec.md §4.5/§4.7
// require: a system-wide shaping bucket and a per-machine bucket. An event
// must clear both to proceed.
type Controller struct {
	system     *rate.Limiter
	perMachine *catrate.Limiter
}

// New builds a Controller. targetTps configures the system bucket (burst
// defaults to 2x targetTps per spec.md §4.5); maxEventsPerMachinePerSecond
// configures the per-machine sliding window.
func New(targetTps int, maxEventsPerMachinePerSecond int) *Controller {
	return &Controller{
		system:     rate.NewLimiter(rate.Limit(targetTps), targetTps*2),
		perMachine: catrate.NewLimiter(map[time.Duration]int{time.Second: maxEventsPerMachinePerSecond}),
	}
}

// AllowSystem reports whether the system-wide bucket has a token available.
// It consumes a token on success.
func (c *Controller) AllowSystem() bool {
	return c.system.Allow()
}

// AllowMachine reports whether id's per-machine bucket has room for one
// more event right now. It consumes a slot on success.
func (c *Controller) AllowMachine(id string) bool {
	_, ok := c.perMachine.Allow(id)
	return ok
}
