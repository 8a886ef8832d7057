// SPDX-License-Identifier: BSD-3-Clause

package debugbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fsmrt/fsmrt/pkg/fsm"
	"github.com/fsmrt/fsmrt/pkg/ipc"
	"github.com/fsmrt/fsmrt/pkg/log"
	"github.com/fsmrt/fsmrt/pkg/observer"
	"github.com/fsmrt/fsmrt/pkg/persistence"
	"github.com/fsmrt/fsmrt/pkg/telemetry"
	"github.com/fsmrt/fsmrt/service"
)

var _ service.Service = (*DebugBus)(nil)
var _ observer.Listener = (*DebugBus)(nil)

// DebugBus is the live debug channel service (spec.md §6). It subscribes
// to a bound registry service's observer bus and republishes state changes
// (sampled per WithSampleLogging) and machine create/rehydrate/remove
// notifications as JSON broadcasts over NATS; ignored events are only
// logged. It also accepts inbound event injection.
type DebugBus struct {
	config config

	nc           *nats.Conn
	microService micro.Service

	removeListener func()

	mu      sync.Mutex
	seen    map[string]uint64 // per-machine transition counter, for sampleLogging

	logger *slog.Logger
	tracer trace.Tracer
}

// New creates a new DebugBus service instance with the provided options.
func New(opts ...Option) *DebugBus {
	cfg := config{
		serviceName:            DefaultServiceName,
		serviceDescription:     DefaultServiceDescription,
		serviceVersion:         DefaultServiceVersion,
		completeStatusInterval: DefaultCompleteStatusInterval,
		sampleOneInN:           1,
	}
	for _, opt := range opts {
		opt.apply(&cfg)
	}
	return &DebugBus{config: cfg, seen: make(map[string]uint64)}
}

// Name returns the service name.
func (s *DebugBus) Name() string {
	return s.config.serviceName
}

// Run starts the debug bus: it waits for the bound registry to become
// ready, subscribes to its observer bus, registers NATS endpoints for
// on-demand snapshots and event injection, and runs a periodic
// COMPLETE_STATUS broadcast until ctx is canceled.
func (s *DebugBus) Run(ctx context.Context, ipcConn nats.InProcessConnProvider) error {
	if s.config.registry == nil {
		return ErrRegistryNil
	}

	s.tracer = otel.Tracer(s.config.serviceName)
	ctx, span := s.tracer.Start(ctx, "debugbus.Run")
	defer span.End()

	s.logger = log.GetGlobalLogger().With("service", s.config.serviceName)
	s.logger.InfoContext(ctx, "Starting debug bus service")

	readyCtx, cancelReady := context.WithTimeout(ctx, 30*time.Second)
	defer cancelReady()
	if err := s.config.registry.WaitReady(readyCtx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: %w", ErrRegistryNotReady, err)
	}

	nc, err := nats.Connect("", nats.InProcessServer(ipcConn))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: %w", ErrNATSConnectionFailed, err)
	}
	s.nc = nc
	defer nc.Drain() //nolint:errcheck

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

	s.removeListener = s.config.registry.Bus().Add(s)
	defer s.removeListener()

	s.publishEventMetadata(ctx)

	var statusDone chan struct{}
	if s.config.completeStatusInterval > 0 {
		statusDone = make(chan struct{})
		go s.runCompleteStatusLoop(ctx, statusDone)
	}

	span.SetAttributes(attribute.String("service.name", s.config.serviceName))
	s.logger.InfoContext(ctx, "Debug bus service started successfully")

	<-ctx.Done()
	if statusDone != nil {
		<-statusDone
	}

	return ctx.Err()
}

func (s *DebugBus) runCompleteStatusLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.completeStatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publishCompleteStatus(ctx)
		}
	}
}

func (s *DebugBus) registerEndpoints(ctx context.Context) error {
	groups := make(map[string]micro.Group)

	endpoints := []struct {
		subject string
		handler micro.Handler
	}{
		{ipc.SubjectDebugCurrentState, micro.HandlerFunc(s.requestHandler(ctx, s.handleCurrentState))},
		{ipc.SubjectDebugInject, micro.HandlerFunc(s.requestHandler(ctx, s.handleInject))},
	}

	for _, e := range endpoints {
		if err := ipc.RegisterEndpointWithGroupCache(s.microService, e.subject, e.handler, groups); err != nil {
			return fmt.Errorf("%w %s: %w", ErrEndpointRegistrationFailed, e.subject, err)
		}
	}
	return nil
}

func (s *DebugBus) requestHandler(parentCtx context.Context, handler func(context.Context, micro.Request)) micro.HandlerFunc {
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
			reqCtx, span = s.tracer.Start(reqCtx, "debugbus.handleRequest")
			span.SetAttributes(attribute.String("subject", req.Subject()))
			defer span.End()
		}

		handler(reqCtx, req) //nolint:contextcheck
	}
}

// currentStateRequest is the wire payload for debug.current_state.
type currentStateRequest struct {
	MachineID string `json:"machineId"`
}

func (s *DebugBus) handleCurrentState(ctx context.Context, req micro.Request) {
	var r currentStateRequest
	if err := json.Unmarshal(req.Data(), &r); err != nil {
		ipc.RespondWithError(ctx, req, ErrDecodeRequestFailed, err.Error())
		return
	}

	summary, ok := s.config.registry.Domain().MachineState(r.MachineID)
	msg := currentStateMessage{
		Type:      "CURRENT_STATE",
		MachineID: r.MachineID,
		Timestamp: time.Now().UTC(),
	}
	if ok {
		msg.CurrentState = summary.CurrentState
		msg.Complete = summary.Complete
	}

	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to encode current state", "error", err)
		return
	}
	if err := req.Respond(data); err != nil {
		s.logger.ErrorContext(ctx, "failed to send current state response", "error", err)
	}
}

// injectRequest is the inbound {action: "EVENT", ...} message (spec.md §6).
type injectRequest struct {
	Action    string          `json:"action"`
	MachineID string          `json:"machineId"`
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
}

func (s *DebugBus) handleInject(ctx context.Context, req micro.Request) {
	var r injectRequest
	if err := json.Unmarshal(req.Data(), &r); err != nil {
		ipc.RespondWithError(ctx, req, ErrDecodeRequestFailed, err.Error())
		return
	}
	if r.Action != "EVENT" {
		ipc.RespondWithError(ctx, req, ipc.ErrInvalidEventType, fmt.Sprintf("unsupported action %q", r.Action))
		return
	}

	event, err := s.config.registry.Catalog().New(r.EventType, r.Payload)
	if err != nil {
		ipc.RespondWithError(ctx, req, ipc.ErrInvalidEventType, err.Error())
		return
	}

	outcome := s.config.registry.Domain().SendEvent(ctx, r.MachineID, event)
	data, _ := json.Marshal(struct {
		Outcome string `json:"outcome"`
		Reason  string `json:"reason,omitempty"`
	}{
		Outcome: outcome.Kind.String(),
		Reason:  outcome.Reason.String(),
	})
	if err := req.Respond(data); err != nil {
		s.logger.ErrorContext(ctx, "failed to send inject response", "error", err)
	}
}

// --- observer.Listener ---

func (s *DebugBus) OnRegistryCreate(ctx context.Context, id string) {
	s.publishEventMetadata(ctx)
}

func (s *DebugBus) OnRegistryRehydrate(ctx context.Context, id string) {
	s.publishEventMetadata(ctx)
}

func (s *DebugBus) OnRegistryRemove(ctx context.Context, id string) {
	s.mu.Lock()
	delete(s.seen, id)
	s.mu.Unlock()
	s.publishEventMetadata(ctx)
}

func (s *DebugBus) OnStateMachineEvent(ctx context.Context, id, oldState, newState string, pc *persistence.PersistentContext, vc any) {
	if !s.shouldSample(id) {
		return
	}
	s.publish(ctx, ipc.SubjectDebugStateChange, stateChangeMessage{
		Type:            "STATE_CHANGE",
		MachineID:       id,
		OldState:        oldState,
		NewState:        newState,
		ContextAfter:    pc,
		Timestamp:       time.Now().UTC(),
	})
}

func (s *DebugBus) OnEventIgnored(ctx context.Context, id, state, tag string, reason fsm.IgnoredReason, pc *persistence.PersistentContext, vc any) {
	// Ignored events do not change state; the live debug channel's
	// contract (spec.md §6) does not define a dedicated message shape for
	// them, so they are surfaced only via structured logging.
	s.logger.DebugContext(ctx, "event ignored",
		"machine_id", id, "state", state, "event_tag", tag, "reason", reason.String())
}

func (s *DebugBus) shouldSample(id string) bool {
	n := s.config.sampleOneInN
	if n <= 1 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[id]++
	return s.seen[id]%uint64(n) == 0
}

type eventMetadataMessage struct {
	Type      string    `json:"type"`
	Events    []string  `json:"events"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *DebugBus) publishEventMetadata(ctx context.Context) {
	s.publish(ctx, ipc.SubjectDebugEventMetadata, eventMetadataMessage{
		Type:      "EVENT_METADATA_UPDATE",
		Events:    s.config.registry.Catalog().Tags(),
		Timestamp: time.Now().UTC(),
	})
}

type stateChangeMessage struct {
	Type         string                         `json:"type"`
	MachineID    string                         `json:"id"`
	OldState     string                         `json:"oldState"`
	NewState     string                         `json:"newState"`
	ContextAfter *persistence.PersistentContext `json:"contextAfter"`
	Timestamp    time.Time                      `json:"timestamp"`
}

type currentStateMessage struct {
	Type         string    `json:"type"`
	MachineID    string    `json:"id"`
	CurrentState string    `json:"currentState,omitempty"`
	Complete     bool      `json:"complete"`
	Timestamp    time.Time `json:"timestamp"`
}

type completeStatusMessage struct {
	Type           string                 `json:"type"`
	ActiveMachines int                    `json:"activeMachines"`
	Machines       []machineStatusSummary `json:"machines"`
	Timestamp      time.Time              `json:"timestamp"`
}

type machineStatusSummary struct {
	MachineID    string `json:"id"`
	CurrentState string `json:"currentState"`
	Complete     bool   `json:"complete"`
}

func (s *DebugBus) publishCompleteStatus(ctx context.Context) {
	snapshot := s.config.registry.Domain().Snapshot()
	machines := make([]machineStatusSummary, 0, len(snapshot))
	for _, m := range snapshot {
		machines = append(machines, machineStatusSummary{
			MachineID:    m.ID,
			CurrentState: m.CurrentState,
			Complete:     m.Complete,
		})
	}
	s.publish(ctx, ipc.SubjectDebugCompleteStatus, completeStatusMessage{
		Type:           "COMPLETE_STATUS",
		ActiveMachines: len(machines),
		Machines:       machines,
		Timestamp:      time.Now().UTC(),
	})
}

func (s *DebugBus) publish(ctx context.Context, subject string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to encode debug message", "subject", subject, "error", err)
		return
	}
	if err := s.nc.Publish(subject, data); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish debug message", "subject", subject, "error", err)
	}
}
