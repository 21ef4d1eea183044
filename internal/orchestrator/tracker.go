package orchestrator

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/OrbitaAI/call-orchestrator/internal/monitoring"
	"github.com/OrbitaAI/call-orchestrator/pkg/logger"
)

// ActiveCall is the tracked state for one in-progress call. Entries live
// from call.created until the terminal event has been fully processed.
type ActiveCall struct {
	CallID          string                 `json:"call_id"`
	CustomerID      string                 `json:"customer_id"`
	StartTime       time.Time              `json:"start_time"`
	EndTime         time.Time              `json:"end_time,omitempty"`
	DurationSeconds *int                   `json:"duration_seconds,omitempty"`
	Transcript      string                 `json:"transcript,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// Tracker owns the active-call table. One entry per call id; mutations are
// serialized behind a single lock since the event source delivers calls
// sequentially and request handlers only read.
type Tracker struct {
	mu        sync.RWMutex
	calls     map[string]*ActiveCall
	telemetry monitoring.Telemetry
}

// NewTracker creates an empty tracker reporting through the given telemetry.
func NewTracker(telemetry monitoring.Telemetry) *Tracker {
	if telemetry == nil {
		telemetry = monitoring.NewNoop()
	}
	return &Tracker{
		calls:     make(map[string]*ActiveCall),
		telemetry: telemetry,
	}
}

// Begin inserts tracking state for a created call. A duplicate create for an
// id already tracked overwrites start time and metadata in place, so redelivery
// after a source reconnect never produces two entries. The returned snapshot
// is a copy; the tracked entry stays private to the table.
func (t *Tracker) Begin(evt *OrchestrationEvent) ActiveCall {
	t.mu.Lock()
	defer t.mu.Unlock()

	call, exists := t.calls[evt.CallID]
	if !exists {
		call = &ActiveCall{CallID: evt.CallID}
		t.calls[evt.CallID] = call
		t.telemetry.TrackCallStart()
	} else {
		logger.Base().Debug("Duplicate call.created, re-tracking call",
			zap.String("call_id", evt.CallID))
	}
	call.CustomerID = evt.CallerNumber
	call.StartTime = time.Now()
	call.Metadata = eventMetadata(evt)

	logger.Base().Info("Tracking call",
		zap.String("call_id", evt.CallID),
		zap.String("customer_id", call.CustomerID))
	return *call
}

// Finish stamps terminal state onto the tracked call and removes it from the
// table, returning the finalized record. The entry is deleted before any
// downstream work so a second terminal event for the same id finds nothing.
// Returns ok=false when the id was never tracked.
func (t *Tracker) Finish(evt *OrchestrationEvent) (*ActiveCall, bool) {
	t.mu.Lock()
	call, exists := t.calls[evt.CallID]
	if !exists {
		t.mu.Unlock()
		logger.Base().Debug("Terminal event for untracked call",
			zap.String("call_id", evt.CallID))
		return nil, false
	}
	delete(t.calls, evt.CallID)
	t.mu.Unlock()

	call.EndTime = time.Now()
	if evt.DurationSeconds != nil {
		d := *evt.DurationSeconds
		call.DurationSeconds = &d
	}
	if transcript := evt.Transcript(); transcript != "" {
		call.Transcript = transcript
	}

	t.telemetry.TrackCallEnd()
	logger.Base().Info("Call ended",
		zap.String("call_id", call.CallID),
		zap.String("hangup_cause", evt.HangupCause))
	return call, true
}

// Get returns a snapshot of the tracked call for id.
func (t *Tracker) Get(id string) (ActiveCall, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	call, ok := t.calls[id]
	if !ok {
		return ActiveCall{}, false
	}
	return *call, true
}

// Count returns the number of calls currently tracked.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.calls)
}

// Drain empties the table and returns every remaining call, used at shutdown
// to finalize calls that never saw a terminal event.
func (t *Tracker) Drain() []*ActiveCall {
	t.mu.Lock()
	defer t.mu.Unlock()

	remaining := make([]*ActiveCall, 0, len(t.calls))
	for id, call := range t.calls {
		remaining = append(remaining, call)
		delete(t.calls, id)
	}
	return remaining
}

func eventMetadata(evt *OrchestrationEvent) map[string]interface{} {
	meta := map[string]interface{}{
		"caller_number":  evt.CallerNumber,
		"caller_name":    evt.CallerName,
		"callee":         evt.Callee,
		"call_direction": evt.CallDirection,
		"fs_event":       evt.FSEvent,
	}
	for k, v := range evt.Payload {
		meta[k] = v
	}
	return meta
}
