// SPDX-License-Identifier: BSD-3-Clause

// Package log provides structured logging with dual output: human-readable
// console logs via rs/zerolog and OpenTelemetry log records via
// go.opentelemetry.io/contrib/bridges/otelslog, fanned out through
// github.com/samber/slog-multi behind a single slog.Logger. It also
// adapts that logger to the handful of third-party logger interfaces the
// runtime embeds: the NATS server, the oversight supervisor, and net/http
// or database/sql's standard *log.Logger.
//
// # Basic Usage
//
//	logger := log.NewDefaultLogger()
//	logger.Info("fsmrtd starting", "version", "0.1.0")
//
// The global logger is available process-wide once initialized:
//
//	logger := log.GetGlobalLogger()
//	logger.Error("event dispatch failed", "error", err, "machine_id", id)
//
// # NATS and Oversight Integration
//
// NewNATSLogger and NewOversightLogger adapt the same slog.Logger to the
// embedded NATS server's and cirello.io/oversight/v2's own logger
// interfaces, so a single configuration governs every log line the
// process emits:
//
//	opts := &server.Options{Logger: log.NewNATSLogger(logger)}
//	tree := oversight.New(oversight.WithLogger(log.NewOversightLogger(logger)))
//
// # Thread Safety
//
// All logger instances are safe for concurrent use from multiple
// goroutines; the underlying slog and zerolog implementations handle
// concurrent access appropriately.
package log
