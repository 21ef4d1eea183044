package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrbitaAI/call-orchestrator/internal/monitoring"
)

func createdEvent(callID, caller string) *OrchestrationEvent {
	return Normalize(map[string]string{
		"Event-Name":              "CHANNEL_CREATE",
		"Unique-ID":               callID,
		"Caller-Caller-ID-Number": caller,
	}, "")
}

func endedEvent(callID string, headers map[string]string) *OrchestrationEvent {
	all := map[string]string{
		"Event-Name": "CHANNEL_HANGUP",
		"Unique-ID":  callID,
	}
	for k, v := range headers {
		all[k] = v
	}
	return Normalize(all, "")
}

func TestTrackerBeginTracksCall(t *testing.T) {
	tr := NewTracker(nil)

	call := tr.Begin(createdEvent("call-1", "+15551234567"))
	assert.Equal(t, "call-1", call.CallID)
	assert.Equal(t, "+15551234567", call.CustomerID)
	assert.False(t, call.StartTime.IsZero())
	assert.Equal(t, "+15551234567", call.Metadata["caller_number"])

	got, ok := tr.Get("call-1")
	require.True(t, ok)
	assert.Equal(t, "+15551234567", got.CustomerID)
	assert.Equal(t, 1, tr.Count())
}

func TestTrackerDuplicateCreateKeepsSingleEntry(t *testing.T) {
	tr := NewTracker(nil)

	first := tr.Begin(createdEvent("call-1", "+15551112222"))
	second := tr.Begin(createdEvent("call-1", "+15553334444"))

	assert.Equal(t, 1, tr.Count(), "redelivered create must not duplicate tracking")
	assert.Equal(t, "+15553334444", second.CustomerID)
	assert.False(t, second.StartTime.Before(first.StartTime))

	got, ok := tr.Get("call-1")
	require.True(t, ok)
	assert.Equal(t, "+15553334444", got.CustomerID, "duplicate create overwrites metadata")
}

func TestTrackerFinishRemovesEntry(t *testing.T) {
	tr := NewTracker(nil)
	tr.Begin(createdEvent("call-1", "+15551234567"))

	call, ok := tr.Finish(endedEvent("call-1", map[string]string{
		"Variable_call_duration":   "42",
		"variable_call_transcript": "thanks, bye",
	}))
	require.True(t, ok)
	require.NotNil(t, call)

	assert.Equal(t, "call-1", call.CallID)
	assert.False(t, call.EndTime.IsZero())
	require.NotNil(t, call.DurationSeconds)
	assert.Equal(t, 42, *call.DurationSeconds)
	assert.Equal(t, "thanks, bye", call.Transcript)

	assert.Equal(t, 0, tr.Count(), "terminal event removes the entry")
	_, ok = tr.Get("call-1")
	assert.False(t, ok)

	_, ok = tr.Finish(endedEvent("call-1", nil))
	assert.False(t, ok, "second terminal event finds nothing")
}

func TestTrackerFinishUnknownCall(t *testing.T) {
	tr := NewTracker(nil)

	call, ok := tr.Finish(endedEvent("never-created", nil))
	assert.False(t, ok)
	assert.Nil(t, call)
	assert.Equal(t, 0, tr.Count())
}

func TestTrackerDrain(t *testing.T) {
	tr := NewTracker(nil)
	tr.Begin(createdEvent("call-1", "+15550000001"))
	tr.Begin(createdEvent("call-2", "+15550000002"))

	remaining := tr.Drain()
	assert.Len(t, remaining, 2)
	assert.Equal(t, 0, tr.Count())
	assert.Empty(t, tr.Drain(), "drain empties the table")
}

func TestTrackerTelemetryCounts(t *testing.T) {
	rec := monitoring.NewRecorder()
	tr := NewTracker(rec)

	tr.Begin(createdEvent("call-1", "+15551234567"))
	tr.Begin(createdEvent("call-1", "+15551234567"))
	tr.Begin(createdEvent("call-2", "+15557654321"))

	snap := rec.Snapshot()
	assert.Equal(t, int64(2), snap.CallsStarted, "duplicate create counts once")
	assert.Equal(t, 2, snap.ActiveCalls)

	tr.Finish(endedEvent("call-1", nil))
	snap = rec.Snapshot()
	assert.Equal(t, 1, snap.ActiveCalls)
}

func TestEventMetadataMergesPayload(t *testing.T) {
	evt := createdEvent("call-1", "+15551234567")
	evt.Payload = map[string]interface{}{"campaign": "q3-renewal"}

	meta := eventMetadata(evt)
	assert.Equal(t, "+15551234567", meta["caller_number"])
	assert.Equal(t, "q3-renewal", meta["campaign"])
	assert.Equal(t, "CHANNEL_CREATE", meta["fs_event"])
}

func TestTrackerFinishStampsEndTimeNearNow(t *testing.T) {
	tr := NewTracker(nil)
	tr.Begin(createdEvent("call-1", "+15551234567"))

	before := time.Now()
	call, ok := tr.Finish(endedEvent("call-1", nil))
	require.True(t, ok)
	assert.False(t, call.EndTime.Before(before))
	assert.Nil(t, call.DurationSeconds, "no duration header means unknown")
}
