// SPDX-License-Identifier: BSD-3-Clause

package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fsmrt/fsmrt/pkg/catalog"
	"github.com/fsmrt/fsmrt/pkg/clock"
	"github.com/fsmrt/fsmrt/pkg/ipc"
	"github.com/fsmrt/fsmrt/pkg/log"
	"github.com/fsmrt/fsmrt/pkg/observer"
	"github.com/fsmrt/fsmrt/pkg/persistence"
	domainregistry "github.com/fsmrt/fsmrt/pkg/registry"
	"github.com/fsmrt/fsmrt/pkg/telemetry"
	"github.com/fsmrt/fsmrt/service"
)

var _ service.Service = (*Registry)(nil)

// Registry is the NATS-facing service wrapping the domain registry
// (pkg/registry). It owns the scheduler, persistence port, and observer
// bus for the lifetime of the process, and exposes the registry's
// operations as NATS micro endpoints (spec.md §4.5, §6).
type Registry struct {
	config config

	nc           *nats.Conn
	microService micro.Service

	scheduler *clock.Scheduler
	bus       *observer.Bus
	port      persistence.Port
	reg       *domainregistry.Registry

	logger *slog.Logger
	tracer trace.Tracer

	ready chan struct{}
}

// New creates a new Registry service instance with the provided options.
func New(opts ...Option) *Registry {
	cfg := config{
		serviceName:        DefaultServiceName,
		serviceDescription: DefaultServiceDescription,
		serviceVersion:     DefaultServiceVersion,
		shutdownTimeout:    domainregistry.DefaultShutdownTimeout(),
	}
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	if cfg.catalog == nil {
		cfg.catalog = catalog.New()
	}
	return &Registry{config: cfg, ready: make(chan struct{})}
}

// Name returns the service name.
func (s *Registry) Name() string {
	return s.config.serviceName
}

// Bus exposes the observer bus backing this registry, so a collaborator
// started in the same process (e.g. service/debugbus) can subscribe
// directly instead of round-tripping through NATS.
func (s *Registry) Bus() *observer.Bus {
	return s.bus
}

// Domain exposes the underlying pkg/registry.Registry for in-process
// collaborators that need direct access (e.g. service/debugbus's inbound
// EVENT injection, or tests).
func (s *Registry) Domain() *domainregistry.Registry {
	return s.reg
}

// Catalog exposes the event tag/factory catalog configured via
// WithCatalog, so collaborators can reconstruct events from raw payloads
// the same way the send_event endpoint does.
func (s *Registry) Catalog() *catalog.Catalog {
	return s.config.catalog
}

// WaitReady blocks until the domain registry and observer bus are
// constructed (i.e. Run has reached the point where Bus/Domain are safe to
// call), or ctx is done. Collaborators started concurrently under the same
// supervision tree (e.g. service/debugbus) should call this before using
// Bus/Domain.
func (s *Registry) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the registry service: it connects to the IPC bus, builds the
// scheduler/persistence/observer collaborators, constructs the domain
// registry, registers the configured templates and triggers, and serves
// NATS micro endpoints until ctx is canceled.
func (s *Registry) Run(ctx context.Context, ipcConn nats.InProcessConnProvider) error {
	s.tracer = otel.Tracer(s.config.serviceName)
	ctx, span := s.tracer.Start(ctx, "registry.Run")
	defer span.End()

	if s.config.catalog == nil {
		s.config.catalog = catalog.New()
	}

	s.logger = log.GetGlobalLogger().With("service", s.config.serviceName)
	s.logger.InfoContext(ctx, "Starting registry service",
		"version", s.config.serviceVersion,
		"templates", len(s.config.specs),
		"triggers", len(s.config.triggers))

	nc, err := nats.Connect("", nats.InProcessServer(ipcConn))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: %w", ErrNATSConnectionFailed, err)
	}
	s.nc = nc
	defer nc.Drain() //nolint:errcheck

	port, err := s.buildPersistencePort(nc)
	if err != nil {
		span.RecordError(err)
		return err
	}
	s.port = port
	if err := s.port.Initialize(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: %w", ErrPersistenceInitFailed, err)
	}

	s.scheduler = clock.New()
	defer s.scheduler.Shutdown()

	s.bus = observer.New(s.logger)

	s.reg = domainregistry.New(s.config.registryConfig, s.port, s.scheduler, s.bus, s.logger)
	for tag, spec := range s.config.triggers {
		s.reg.RegisterTrigger(tag, spec)
	}
	close(s.ready)

	s.microService, err = micro.AddService(nc, micro.Config{
		Name:        s.config.serviceName,
		Description: s.config.serviceDescription,
		Version:     s.config.serviceVersion,
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: %w", ErrMicroServiceInitFailed, err)
	}

	if err := s.registerEndpoints(ctx); err != nil {
		span.RecordError(err)
		return err
	}

	span.SetAttributes(
		attribute.String("service.name", s.config.serviceName),
		attribute.Int("templates.count", len(s.config.specs)),
		attribute.Int("triggers.count", len(s.config.triggers)),
	)
	s.logger.InfoContext(ctx, "Registry service started successfully")

	<-ctx.Done()

	runErr := ctx.Err()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.shutdownTimeout)
	defer cancel()

	s.logger.InfoContext(shutdownCtx, "Shutting down registry service")
	s.reg.Shutdown(shutdownCtx)

	return runErr
}

func (s *Registry) buildPersistencePort(nc *nats.Conn) (persistence.Port, error) {
	if s.config.persistencePort != nil {
		return s.config.persistencePort, nil
	}

	switch s.config.persistenceKind {
	case PersistenceMemory:
		return persistence.NewMemoryPort(), nil
	case PersistenceSQLite:
		return persistence.NewSQLitePort(s.config.sqliteConfig)
	case PersistenceJetStream:
		return persistence.NewJetStreamPort(nc, s.config.jetStreamConfig)
	default:
		return nil, ErrUnknownPersistenceKind
	}
}

func (s *Registry) registerEndpoints(ctx context.Context) error {
	groups := make(map[string]micro.Group)

	endpoints := []struct {
		subject string
		handler micro.Handler
	}{
		{ipc.SubjectRegistrySendEvent, micro.HandlerFunc(s.requestHandler(ctx, s.handleSendEvent))},
		{ipc.SubjectRegistryCreate, micro.HandlerFunc(s.requestHandler(ctx, s.handleCreate))},
		{ipc.SubjectRegistryRemove, micro.HandlerFunc(s.requestHandler(ctx, s.handleRemove))},
		{ipc.SubjectRegistryState, micro.HandlerFunc(s.requestHandler(ctx, s.handleState))},
		{ipc.SubjectRegistryList, micro.HandlerFunc(s.requestHandler(ctx, s.handleList))},
	}

	for _, e := range endpoints {
		if err := ipc.RegisterEndpointWithGroupCache(s.microService, e.subject, e.handler, groups); err != nil {
			return fmt.Errorf("%w %s: %w", ErrEndpointRegistrationFailed, e.subject, err)
		}
	}
	return nil
}

// requestHandler mirrors the teacher's telemetry-context-preserving
// wrapper: it recovers the span context NATS micro carried over the wire
// and merges it with parentCtx's cancellation.
func (s *Registry) requestHandler(parentCtx context.Context, handler func(context.Context, micro.Request)) micro.HandlerFunc {
	return func(req micro.Request) {
		reqCtx := telemetry.GetCtxFromReq(req)
		reqCtx = context.WithoutCancel(reqCtx)

		select {
		case <-parentCtx.Done():
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithCancel(reqCtx)
			cancel()
		default:
		}

		if s.tracer != nil {
			var span trace.Span
			reqCtx, span = s.tracer.Start(reqCtx, "registry.handleRequest")
			span.SetAttributes(attribute.String("subject", req.Subject()))
			defer span.End()
		}

		handler(reqCtx, req) //nolint:contextcheck
	}
}

// sendEventRequest is the wire payload for registry.send_event.
type sendEventRequest struct {
	MachineID string          `json:"machineId"`
	EventTag  string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
}

// outcomeResponse is the wire response for registry.send_event.
type outcomeResponse struct {
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

func (s *Registry) handleSendEvent(ctx context.Context, req micro.Request) {
	var r sendEventRequest
	if err := json.Unmarshal(req.Data(), &r); err != nil {
		ipc.RespondWithError(ctx, req, ErrDecodeRequestFailed, err.Error())
		return
	}

	event, err := s.config.catalog.New(r.EventTag, r.Payload)
	if err != nil {
		ipc.RespondWithError(ctx, req, ipc.ErrInvalidEventType, err.Error())
		return
	}

	outcome := s.reg.SendEvent(ctx, r.MachineID, event)
	s.respondJSON(ctx, req, outcomeResponse{
		Outcome: outcome.Kind.String(),
		Reason:  outcome.Reason.String(),
	})
}

// createRequest is the wire payload for registry.create.
type createRequest struct {
	MachineID string `json:"machineId"`
	Template  string `json:"template"`
}

func (s *Registry) handleCreate(ctx context.Context, req micro.Request) {
	var r createRequest
	if err := json.Unmarshal(req.Data(), &r); err != nil {
		ipc.RespondWithError(ctx, req, ErrDecodeRequestFailed, err.Error())
		return
	}

	spec, ok := s.config.specs[r.Template]
	if !ok {
		ipc.RespondWithError(ctx, req, ErrUnknownTemplate, r.Template)
		return
	}

	machine, err := s.reg.CreateOrGet(ctx, r.MachineID, spec)
	if err != nil {
		ipc.RespondWithError(ctx, req, ipc.ErrStateTransitionFailed, err.Error())
		return
	}

	s.respondJSON(ctx, req, machineStateResponse{
		MachineID:    machine.ID(),
		CurrentState: machine.CurrentState(),
		Complete:     machine.IsComplete(),
	})
}

// idRequest is the shared wire payload for endpoints keyed only by id.
type idRequest struct {
	MachineID string `json:"machineId"`
}

func (s *Registry) handleRemove(ctx context.Context, req micro.Request) {
	var r idRequest
	if err := json.Unmarshal(req.Data(), &r); err != nil {
		ipc.RespondWithError(ctx, req, ErrDecodeRequestFailed, err.Error())
		return
	}

	if err := s.reg.RemoveMachine(ctx, r.MachineID); err != nil {
		ipc.RespondWithError(ctx, req, ipc.ErrInternalError, err.Error())
		return
	}
	s.respondJSON(ctx, req, struct{}{})
}

// machineStateResponse is the wire response for registry.create and
// registry.state.
type machineStateResponse struct {
	MachineID    string `json:"machineId"`
	CurrentState string `json:"currentState"`
	Complete     bool   `json:"complete"`
}

func (s *Registry) handleState(ctx context.Context, req micro.Request) {
	var r idRequest
	if err := json.Unmarshal(req.Data(), &r); err != nil {
		ipc.RespondWithError(ctx, req, ErrDecodeRequestFailed, err.Error())
		return
	}

	summary, ok := s.reg.MachineState(r.MachineID)
	if !ok {
		ipc.RespondWithError(ctx, req, ipc.ErrMachineNotFound, r.MachineID)
		return
	}
	s.respondJSON(ctx, req, machineStateResponse{
		MachineID:    summary.ID,
		CurrentState: summary.CurrentState,
		Complete:     summary.Complete,
	})
}

// listResponse is the wire response for registry.list.
type listResponse struct {
	Machines []machineStateResponse `json:"machines"`
}

func (s *Registry) handleList(ctx context.Context, req micro.Request) {
	snapshot := s.reg.Snapshot()
	out := make([]machineStateResponse, 0, len(snapshot))
	for _, m := range snapshot {
		out = append(out, machineStateResponse{
			MachineID:    m.ID,
			CurrentState: m.CurrentState,
			Complete:     m.Complete,
		})
	}
	s.respondJSON(ctx, req, listResponse{Machines: out})
}

func (s *Registry) respondJSON(ctx context.Context, req micro.Request, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		ipc.RespondWithError(ctx, req, ErrEncodeResponseFailed, err.Error())
		return
	}
	if err := req.Respond(data); err != nil {
		s.logger.ErrorContext(ctx, "failed to send response", "subject", req.Subject(), "error", err)
	}
}
