// SPDX-License-Identifier: BSD-3-Clause

// Package process bridges service.Service and cirello.io/oversight/v2:
// New wraps a service in an oversight.ChildProcess, recovering panics into
// errors so a single misbehaving service restarts under its supervision
// strategy instead of taking the process down.
package process
