package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/OrbitaAI/call-orchestrator/internal/core/session"
	"github.com/OrbitaAI/call-orchestrator/internal/crm"
	"github.com/OrbitaAI/call-orchestrator/internal/monitoring"
	"github.com/OrbitaAI/call-orchestrator/pkg/logger"
)

// DefaultQueueSize bounds the event queue between the telephony producer
// and the processing loop.
const DefaultQueueSize = 256

// Options configures an Orchestrator. CRM and Sessions are optional; nil
// disables CRM reconciliation and the redis session mirror respectively.
type Options struct {
	CRM             crm.Adapter
	Telemetry       monitoring.Telemetry
	Sessions        *session.Manager
	QueueSize       int
	DispatchTimeout time.Duration
}

// CommandSink submits a fire-and-forget command to the telephony switch.
type CommandSink func(cmd string)

// Orchestrator owns the endpoint registry and the active-call table and
// drives event processing. Telephony events are consumed from a bounded
// queue by a single loop, which keeps per-call ordering without locking
// gymnastics; HTTP-injected events are processed inline on the caller.
type Orchestrator struct {
	registry   *Registry
	tracker    *Tracker
	dispatcher *Dispatcher
	crm        crm.Adapter
	telemetry  monitoring.Telemetry
	sessions   *session.Manager

	queue chan *OrchestrationEvent

	mu       sync.Mutex
	started  bool
	commands CommandSink
	runCtx   context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewOrchestrator assembles the orchestration core from its collaborators.
func NewOrchestrator(opts Options) *Orchestrator {
	telemetry := opts.Telemetry
	if telemetry == nil {
		telemetry = monitoring.NewNoop()
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	registry := NewRegistry()
	o := &Orchestrator{
		registry:   registry,
		tracker:    NewTracker(telemetry),
		dispatcher: NewDispatcher(registry, telemetry, opts.DispatchTimeout),
		crm:        opts.CRM,
		telemetry:  telemetry,
		sessions:   opts.Sessions,
		queue:      make(chan *OrchestrationEvent, queueSize),
	}

	if o.sessions != nil {
		logger.Base().Info("Subscribing to call cleanup broadcasts")
		o.sessions.SubscribeToCleanup(context.Background(), func(callID string) {
			if _, tracked := o.tracker.Get(callID); !tracked {
				return
			}
			logger.Base().Info("Received cleanup broadcast for locally tracked call",
				zap.String("call_id", callID))
			o.killCall(callID)
		})
	}
	return o
}

// SetCommandSink wires the switch control channel. It is set after
// construction because the connector is itself built around the
// orchestrator's ingest handler.
func (o *Orchestrator) SetCommandSink(sink CommandSink) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.commands = sink
}

// Start launches the processing loop. Calling Start on a running
// orchestrator is a no-op.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return
	}
	o.started = true
	o.runCtx, o.cancel = context.WithCancel(context.Background())

	o.telemetry.SetQueueSize("esl", 0)
	o.telemetry.SetQueueSize("webhook", 0)
	o.telemetry.SetQueueSize("crm", 0)

	o.wg.Add(1)
	go o.consume()
	logger.Base().Info("Orchestration core started",
		zap.Int("queue_size", cap(o.queue)),
		zap.Bool("crm_enabled", o.crm != nil))
}

func (o *Orchestrator) consume() {
	defer o.wg.Done()
	for {
		select {
		case <-o.runCtx.Done():
			return
		case evt := <-o.queue:
			o.telemetry.SetQueueSize("esl", len(o.queue))
			o.Process(context.Background(), evt)
		}
	}
}

// Ingest normalizes a raw telephony record and queues it for processing.
// This is the handler the event-source connector is wired to.
func (o *Orchestrator) Ingest(headers map[string]string, body string) {
	evt := Normalize(headers, body)
	logger.Base().Debug("Telephony event normalized",
		zap.String("fs_event", evt.FSEvent),
		zap.String("event_type", evt.EventType),
		zap.String("call_id", evt.CallID))
	o.Enqueue(evt)
}

// Enqueue hands an event to the processing loop, blocking for backpressure
// when the queue is full. Events arriving after shutdown are dropped.
func (o *Orchestrator) Enqueue(evt *OrchestrationEvent) bool {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		logger.Base().Warn("Dropping event, orchestrator not started",
			zap.String("event_type", evt.EventType))
		return false
	}
	ctx := o.runCtx
	o.mu.Unlock()

	select {
	case o.queue <- evt:
		o.telemetry.SetQueueSize("esl", len(o.queue))
		return true
	case <-ctx.Done():
		logger.Base().Warn("Dropping event, orchestrator stopped",
			zap.String("event_type", evt.EventType))
		return false
	}
}

// Process runs one event through call tracking, CRM reconciliation, and
// webhook dispatch, returning the dispatch results. The envelope payload
// delivered to subscribers is the full typed event.
func (o *Orchestrator) Process(ctx context.Context, evt *OrchestrationEvent) []DispatchResult {
	return o.process(ctx, evt, evt)
}

func (o *Orchestrator) process(ctx context.Context, evt *OrchestrationEvent, payload interface{}) []DispatchResult {
	o.telemetry.TrackEvent("event.emit." + evt.EventType)

	if evt.CallID != "" && evt.IsLifecycle() {
		switch evt.EventType {
		case EventCallCreated:
			call := o.tracker.Begin(evt)
			o.registerSession(call)
		case EventCallEnded:
			if call, ok := o.tracker.Finish(evt); ok {
				o.reconcile(ctx, call)
				o.unregisterSession(call.CallID)
			}
		}
	}

	return o.dispatcher.Emit(ctx, evt.EventType, payload)
}

// reconcile submits a finalized call to the CRM. Failures are logged and
// counted but never propagate; the call's tracking entry is already gone by
// the time this runs, so at most one submission happens per call.
func (o *Orchestrator) reconcile(ctx context.Context, call *ActiveCall) {
	if o.crm == nil {
		return
	}

	span := o.telemetry.StartSpan("crm_log_call")
	defer span.End()
	span.SetAttribute("call_id", call.CallID)

	o.telemetry.IncQueue("crm")
	defer o.telemetry.DecQueue("crm")

	record := &crm.CallRecord{
		CallID:          call.CallID,
		CustomerID:      call.CustomerID,
		StartTime:       call.StartTime,
		EndTime:         call.EndTime,
		DurationSeconds: call.DurationSeconds,
		CallType:        crm.CallTypeInbound,
		Transcript:      call.Transcript,
		Metadata:        call.Metadata,
	}
	if err := o.crm.LogCall(ctx, record); err != nil {
		logger.Base().Error("Error logging call to CRM",
			zap.String("call_id", call.CallID),
			zap.Error(err))
		o.telemetry.TrackError("crm_log_failure")
		return
	}

	o.telemetry.TrackCallCompleted()
	if call.DurationSeconds != nil {
		o.telemetry.ObserveCallDuration(float64(*call.DurationSeconds))
		span.SetAttribute("duration_seconds", *call.DurationSeconds)
	}
	o.telemetry.TrackEvent("call.crm_logged")
	logger.Base().Info("Call logged to CRM",
		zap.String("call_id", call.CallID),
		zap.String("customer_id", call.CustomerID))
}

// ListEndpoints returns a snapshot of registered webhook endpoints.
func (o *Orchestrator) ListEndpoints() ([]Endpoint, error) {
	if o == nil {
		return nil, ErrNotInitialized
	}
	return o.registry.List()
}

// RegisterEndpoint subscribes a webhook URL under a freshly generated id and
// returns the stored record.
func (o *Orchestrator) RegisterEndpoint(url string, events []string) (*Endpoint, error) {
	if o == nil {
		return nil, ErrNotInitialized
	}
	return o.registry.Register(uuid.New().String(), url, events)
}

// UnregisterEndpoint removes a registration. Returns ErrEndpointNotFound
// when the id holds nothing.
func (o *Orchestrator) UnregisterEndpoint(id string) error {
	if o == nil {
		return ErrNotInitialized
	}
	removed, err := o.registry.Unregister(id)
	if err != nil {
		return err
	}
	if !removed {
		return ErrEndpointNotFound
	}
	logger.Base().Info("Unregistered workflow endpoint", zap.String("endpoint_id", id))
	return nil
}

// EmitTestEvent injects an event as if it had arrived from the switch,
// forwarding the raw payload to subscribers as-is. Lifecycle event types
// drive call tracking exactly like source events do.
func (o *Orchestrator) EmitTestEvent(ctx context.Context, eventType string, payload map[string]interface{}) ([]DispatchResult, error) {
	if o == nil {
		return nil, ErrNotInitialized
	}
	evt := FromPayload(eventType, payload)
	return o.process(ctx, evt, payload), nil
}

// ActiveCallCount reports how many calls are currently tracked.
func (o *Orchestrator) ActiveCallCount() int {
	if o == nil {
		return 0
	}
	return o.tracker.Count()
}

// RequestHangup asks the switch to tear down a call's channel. Locally
// tracked calls get the kill command directly; the request is also broadcast
// so the owning instance acts when the call lives on another pod. The
// resulting hangup event flows back through normal processing, which
// finalizes tracking and CRM state.
func (o *Orchestrator) RequestHangup(ctx context.Context, callID string) error {
	if o == nil {
		return ErrNotInitialized
	}
	if _, tracked := o.tracker.Get(callID); tracked {
		o.killCall(callID)
	}
	if o.sessions != nil {
		return o.sessions.NotifyCleanup(ctx, callID)
	}
	return nil
}

func (o *Orchestrator) killCall(callID string) {
	o.mu.Lock()
	sink := o.commands
	o.mu.Unlock()
	if sink == nil {
		logger.Base().Warn("No switch command channel configured, cannot request teardown",
			zap.String("call_id", callID))
		return
	}
	logger.Base().Info("Requesting channel teardown from switch",
		zap.String("call_id", callID))
	sink("uuid_kill " + callID)
}

// Status is a point-in-time view of the orchestration core.
type Status struct {
	Running     bool `json:"running"`
	ActiveCalls int  `json:"active_calls"`
	Endpoints   int  `json:"endpoints"`
	QueueDepth  int  `json:"queue_depth"`
	CRMEnabled  bool `json:"crm_enabled"`
}

// Status reports the current orchestration state for the ops surface.
func (o *Orchestrator) Status() Status {
	if o == nil {
		return Status{}
	}
	o.mu.Lock()
	running := o.started
	o.mu.Unlock()

	endpoints, _ := o.registry.List()
	return Status{
		Running:     running,
		ActiveCalls: o.tracker.Count(),
		Endpoints:   len(endpoints),
		QueueDepth:  len(o.queue),
		CRMEnabled:  o.crm != nil,
	}
}

// Shutdown stops the processing loop, waits for in-flight work within the
// context's deadline, then finalizes any calls that never saw a terminal
// event. Finalization stamps a synthetic end time and submits to the CRM
// one call at a time; individual submission errors do not abort the rest.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.started = false
	cancel := o.cancel
	o.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Base().Warn("Shutdown grace period expired with work in flight")
	}

	remaining := o.tracker.Drain()
	if len(remaining) == 0 {
		logger.Base().Info("Orchestration core stopped")
		return
	}

	logger.Base().Info("Finalizing calls still active at shutdown",
		zap.Int("count", len(remaining)))
	for _, call := range remaining {
		if call.EndTime.IsZero() {
			call.EndTime = time.Now()
		}
		o.reconcile(ctx, call)
		o.telemetry.TrackCallEnd()
	}
	logger.Base().Info("Orchestration core stopped")
}

func (o *Orchestrator) registerSession(call ActiveCall) {
	if o.sessions == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := o.sessions.Register(ctx, session.CallSession{
			CallID:     call.CallID,
			CustomerID: call.CustomerID,
			StartTime:  call.StartTime,
		})
		if err != nil {
			logger.Base().Warn("Failed to mirror call session",
				zap.String("call_id", call.CallID),
				zap.Error(err))
		}
	}()
}

func (o *Orchestrator) unregisterSession(callID string) {
	if o.sessions == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.sessions.Unregister(ctx, callID); err != nil {
			logger.Base().Warn("Failed to remove mirrored call session",
				zap.String("call_id", callID),
				zap.Error(err))
		}
	}()
}
