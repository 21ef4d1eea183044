package orchestrator

import (
	"strconv"
	"strings"
	"time"
)

// lifecycleNames maps raw switch event names onto the canonical lifecycle
// types. Everything else is passed through under the fs. namespace.
var lifecycleNames = map[string]string{
	"CHANNEL_CREATE":  EventCallCreated,
	"CHANNEL_ANSWER":  EventCallAnswered,
	"CHANNEL_HANGUP":  EventCallEnded,
	"CHANNEL_DESTROY": EventCallEnded,
	"HANGUP":          EventCallEnded,
}

// Normalize converts a raw switch record into the canonical event shape. It
// never fails: unrecognized names pass through namespaced, and a record with
// no event name at all becomes the unknown sentinel.
func Normalize(headers map[string]string, body string) *OrchestrationEvent {
	name := header(headers, "Event-Name", "event-name")

	eventType := EventUnknown
	if name != "" {
		if mapped, ok := lifecycleNames[name]; ok {
			eventType = mapped
		} else {
			eventType = PassthroughPrefix + strings.ToLower(name)
		}
	}

	evt := &OrchestrationEvent{
		EventType:       eventType,
		Timestamp:       time.Now().Unix(),
		FSEvent:         name,
		CallID:          header(headers, "Unique-ID", "unique-id"),
		CallerNumber:    header(headers, "Caller-Caller-ID-Number", "Caller-ID-Number", "caller-caller-id-number"),
		CallerName:      header(headers, "Caller-Caller-ID-Name", "Caller-ID-Name"),
		Callee:          header(headers, "Caller-Destination-Number", "Destination-Number", "destination-number"),
		CallState:       header(headers, "Channel-Call-State"),
		CallDirection:   header(headers, "Call-Direction"),
		HangupCause:     header(headers, "Hangup-Cause"),
		HangupCauseCode: header(headers, "Hangup-Cause-Code"),
		DurationSeconds: duration(headers),
		RawHeaders:      headers,
		RawBody:         body,
	}
	return evt
}

// header returns the first non-empty value among the given keys. Switch
// records are inconsistent about header casing across versions, so lookups
// carry the known variants.
func header(headers map[string]string, keys ...string) string {
	for _, key := range keys {
		if v, ok := headers[key]; ok && v != "" {
			return v
		}
	}
	return ""
}

// duration parses the call duration when the record carries one. A missing
// or malformed value is treated as unknown rather than zero.
func duration(headers map[string]string) *int {
	raw := header(headers, "Variable_call_duration", "Duration")
	if raw == "" {
		return nil
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return nil
	}
	return &seconds
}
