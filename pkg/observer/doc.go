// SPDX-License-Identifier: BSD-3-Clause

// Package observer implements the registry's listener fan-out (C6 in
// spec.md): a copy-on-write list of listeners notified synchronously of
// machine creation, rehydration, removal, transitions, and ignored events.
// A panicking or error-returning listener never prevents its peers from
// running, and never propagates back to the caller that triggered the
// notification.
package observer
