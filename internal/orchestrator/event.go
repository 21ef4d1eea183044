package orchestrator

import (
	"strings"
	"time"
)

// Canonical event types produced by normalization. Anything outside the call
// lifecycle is passed through under the PassthroughPrefix namespace.
const (
	EventCallCreated  = "call.created"
	EventCallAnswered = "call.answered"
	EventCallEnded    = "call.ended"

	// PassthroughPrefix namespaces switch events with no lifecycle mapping.
	PassthroughPrefix = "fs."

	// EventUnknown is emitted when a switch record carries no event name.
	EventUnknown = "fs.unknown"
)

// OrchestrationEvent is the canonical shape every consumer sees, whether the
// event arrived from the switch socket or was injected over HTTP.
type OrchestrationEvent struct {
	EventType       string                 `json:"event_type"`
	Timestamp       int64                  `json:"timestamp"`
	FSEvent         string                 `json:"fs_event,omitempty"`
	CallID          string                 `json:"uuid,omitempty"`
	CallerNumber    string                 `json:"caller_number,omitempty"`
	CallerName      string                 `json:"caller_name,omitempty"`
	Callee          string                 `json:"callee,omitempty"`
	CallState       string                 `json:"call_state,omitempty"`
	CallDirection   string                 `json:"call_direction,omitempty"`
	HangupCause     string                 `json:"hangup_cause,omitempty"`
	HangupCauseCode string                 `json:"hangup_cause_code,omitempty"`
	DurationSeconds *int                   `json:"duration_seconds,omitempty"`
	RawHeaders      map[string]string      `json:"raw_headers,omitempty"`
	RawBody         string                 `json:"raw_body,omitempty"`
	Payload         map[string]interface{} `json:"payload,omitempty"`
}

// IsLifecycle reports whether the event belongs to the call lifecycle
// namespace rather than the passthrough one.
func (e *OrchestrationEvent) IsLifecycle() bool {
	return strings.HasPrefix(e.EventType, "call.")
}

// Transcript returns the transcript captured on the channel, if any.
func (e *OrchestrationEvent) Transcript() string {
	if e.RawHeaders == nil {
		return ""
	}
	return e.RawHeaders["variable_call_transcript"]
}

// Envelope is the wire shape delivered to subscribed endpoints.
type Envelope struct {
	Event     string      `json:"event"`
	Timestamp int64       `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// NewEnvelope wraps a payload for delivery, stamping the current time.
func NewEnvelope(eventType string, payload interface{}) Envelope {
	return Envelope{
		Event:     eventType,
		Timestamp: time.Now().Unix(),
		Payload:   payload,
	}
}

// FromPayload builds an event for a manually injected emission. Well-known
// keys are lifted out of the payload so lifecycle events injected over HTTP
// drive call tracking the same way switch events do.
func FromPayload(eventType string, payload map[string]interface{}) *OrchestrationEvent {
	evt := &OrchestrationEvent{
		EventType: eventType,
		Timestamp: time.Now().Unix(),
		Payload:   payload,
	}
	if payload == nil {
		return evt
	}
	evt.CallID = stringField(payload, "uuid", "call_id")
	evt.CallerNumber = stringField(payload, "caller_number")
	evt.CallerName = stringField(payload, "caller_name")
	evt.Callee = stringField(payload, "callee")
	evt.HangupCause = stringField(payload, "hangup_cause")
	if d, ok := intField(payload, "duration_seconds"); ok {
		evt.DurationSeconds = &d
	}
	if raw, ok := payload["raw_headers"].(map[string]interface{}); ok {
		headers := make(map[string]string, len(raw))
		for k, v := range raw {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
		evt.RawHeaders = headers
	}
	return evt
}

func stringField(payload map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func intField(payload map[string]interface{}, key string) (int, bool) {
	switch v := payload[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}
