// SPDX-License-Identifier: BSD-3-Clause

// Package operator provides a service orchestrator that manages and supervises
// the FSM runtime's services in a fault-tolerant manner. It acts as the central
// coordinator for the registry and the live debug channel, handling service
// lifecycle management, inter-process communication setup, and providing a
// supervision tree for automatic service recovery.
//
// The operator service is the main entry point for the fsmrt runtime and is
// responsible for starting, monitoring, and coordinating the registry and
// debug-bus services. It implements a robust supervision strategy that
// automatically restarts failed services and maintains system stability.
//
// # Core Features
//
//   - Service lifecycle management and orchestration
//   - Fault-tolerant supervision with automatic restart policies
//   - Inter-process communication coordination via NATS
//   - Configurable service selection and ordering
//   - OpenTelemetry integration for observability
//   - Graceful shutdown handling
//
// # Architecture
//
// The operator follows a supervision tree pattern where services are organized
// in a hierarchical structure with well-defined restart policies. The operator
// itself acts as the root supervisor, managing child services and handling
// their failures according to configured strategies.
//
// The supervision tree includes:
//   - IPC service (highest priority, started first)
//   - Registry service (owns the active machine set and dispatches events)
//   - Debug-bus service (live observability channel)
//   - Additional custom services
//
// # Service Management
//
// The operator manages two core services plus any extras:
//
//   - IPC: Inter-process communication service (embedded NATS server)
//   - Registry: The FSM registry, responsible for machine lifecycle,
//     event dispatch, rate and capacity control, and persistence
//   - Debug-bus: The live debug channel, broadcasting event metadata,
//     state changes, and periodic status summaries
//
// # Configuration
//
// The operator supports extensive configuration through the options pattern.
// Services can be selectively customized:
//
//	op := operator.New(
//		operator.WithName("fsmrtd"),
//		operator.WithTimeout(30*time.Second),
//		operator.WithIPC(
//			ipc.WithServerName("fsmrt-ipc"),
//			ipc.WithStoreDir("/var/lib/fsmrtd/ipc"),
//		),
//		operator.WithExtraServices(myCustomService),
//	)
//
// # Supervision and Fault Tolerance
//
// The operator implements a robust supervision strategy:
//
//   - Transient restart policy: Services are restarted on failure
//   - Configurable timeouts for service startup and shutdown
//   - Isolation: Service failures don't affect other services
//   - Logging and monitoring of all service state changes
//
// # Inter-Process Communication
//
// The operator coordinates IPC setup for all services:
//
//   - Starts the IPC service first to provide communication infrastructure
//   - Provides connection providers to the registry and debug-bus services
//   - Handles IPC service failures and recovery
//   - Supports both embedded and external IPC configurations
//
// # Usage Patterns
//
// ## Basic Usage
//
// The simplest way to use the operator is with default configuration:
//
//	op := operator.New()
//	err := op.Run(ctx, nil)
//
// ## Custom Configuration
//
// For production deployments, services are typically customized:
//
//	op := operator.New(
//		operator.WithName("edge-fsmrtd"),
//		operator.WithCustomLogo(myLogo),
//		operator.WithTimeout(15*time.Second),
//		operator.WithRegistry(
//			registry.WithRegistryConfig(domainregistry.Config{MaxConcurrentMachines: 10000}),
//		),
//	)
//
// ## External IPC Integration
//
// When integrating with external IPC infrastructure:
//
//	// Use external IPC connection
//	err := op.Run(ctx, externalIPCConn)
//
// ## Adding Custom Services
//
// Custom services can be added to the supervision tree:
//
//	myService := &MyCustomService{}
//	op := operator.New(
//		operator.WithExtraServices(myService),
//	)
//
// # Error Handling
//
// The operator provides comprehensive error handling:
//
//   - Configuration validation before startup
//   - Graceful handling of service startup failures
//   - Detailed error reporting with context
//   - Automatic recovery from transient failures
//   - Clean shutdown on fatal errors
//
// # Observability
//
// The operator integrates with OpenTelemetry for comprehensive observability:
//
//   - Structured logging with correlation IDs
//   - Service dependency mapping via the supervision tree
//
// # Best Practices
//
// When using the operator:
//
//   - Always provide a context with timeout for Run()
//   - Configure appropriate timeouts for your environment
//   - Test service restart scenarios in development
//   - Implement proper signal handling for graceful shutdown
//
// # Example Implementation
//
//	package main
//
//	import (
//		"context"
//		"os"
//		"os/signal"
//		"syscall"
//		"time"
//
//		"github.com/fsmrt/fsmrt/service/operator"
//		"github.com/fsmrt/fsmrt/service/ipc"
//	)
//
//	func main() {
//		// Create operator with custom configuration
//		op := operator.New(
//			operator.WithName("my-fsmrtd"),
//			operator.WithTimeout(20*time.Second),
//			operator.WithIPC(
//				ipc.WithServerName("my-fsmrtd-ipc"),
//				ipc.WithMaxMemory(128*1024*1024), // 128MB
//			),
//		)
//
//		// Set up graceful shutdown
//		ctx, cancel := context.WithCancel(context.Background())
//		defer cancel()
//
//		sigChan := make(chan os.Signal, 1)
//		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
//
//		go func() {
//			<-sigChan
//			cancel()
//		}()
//
//		// Run the operator
//		if err := op.Run(ctx, nil); err != nil {
//			if err != context.Canceled {
//				log.Fatal("Operator failed", "error", err)
//			}
//		}
//	}
//
// # Service Dependencies
//
// The operator manages service dependencies automatically:
//
//  1. IPC service starts first (communication infrastructure)
//  2. Registry and debug-bus start concurrently, both bound to the IPC
//     connection provider
//
// Services can communicate with each other through the IPC infrastructure
// once all services are running and ready.
package operator
