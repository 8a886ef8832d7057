// SPDX-License-Identifier: BSD-3-Clause

// Package telemetry provides OpenTelemetry integration for the fsmrt
// runtime: setup/teardown of trace, metric, and log providers, and
// utilities for propagating trace context across the NATS micro service
// boundary between the registry, the debug bus, and their clients.
//
// # Basic Setup
//
//	func main() {
//		telemetry.DefaultSetup()
//		logger := log.GetGlobalLogger()
//		logger.Info("fsmrtd starting")
//	}
//
// # Trace Context Over NATS
//
// A micro service endpoint recovers its caller's trace context from the
// request headers via GetCtxFromReq, so a span started inside the handler
// nests under the caller's span rather than starting a new trace:
//
//	svc.AddEndpoint("registry.send_event", micro.HandlerFunc(func(req micro.Request) {
//		ctx := telemetry.GetCtxFromReq(req)
//		ctx, span := otel.Tracer("registry").Start(ctx, "send_event")
//		defer span.End()
//		// ...
//	}))
//
// # Thread Safety
//
// All functions in this package are safe for concurrent use; the
// underlying OpenTelemetry SDK handles concurrent access to tracers,
// spans, and propagators.
package telemetry
