package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureServer records the envelopes POSTed to it.
type captureServer struct {
	*httptest.Server
	mu        sync.Mutex
	envelopes []Envelope
	headers   []http.Header
}

func newCaptureServer(t *testing.T, status int) *captureServer {
	t.Helper()
	cs := &captureServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Errorf("decode envelope: %v", err)
		}
		cs.mu.Lock()
		cs.envelopes = append(cs.envelopes, env)
		cs.headers = append(cs.headers, r.Header.Clone())
		cs.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *captureServer) received() []Envelope {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]Envelope, len(cs.envelopes))
	copy(out, cs.envelopes)
	return out
}

func TestEmitWithoutSubscribersReturnsEmpty(t *testing.T) {
	d := NewDispatcher(NewRegistry(), nil, 0)

	results := d.Emit(context.Background(), "call.created", map[string]string{"uuid": "x"})
	require.NotNil(t, results)
	assert.Empty(t, results)
}

func TestEmitDeliversEnvelope(t *testing.T) {
	srv := newCaptureServer(t, http.StatusOK)
	reg := NewRegistry()
	_, err := reg.Register("ep-1", srv.URL, []string{"*"})
	require.NoError(t, err)
	d := NewDispatcher(reg, nil, 0)

	before := time.Now().Unix()
	results := d.Emit(context.Background(), "call.created", map[string]interface{}{"uuid": "abc"})

	require.Len(t, results, 1)
	assert.True(t, results[0].OK)
	assert.Equal(t, http.StatusOK, results[0].StatusCode)
	assert.Equal(t, srv.URL, results[0].URL)
	assert.Empty(t, results[0].Error)

	envs := srv.received()
	require.Len(t, envs, 1)
	assert.Equal(t, "call.created", envs[0].Event)
	assert.GreaterOrEqual(t, envs[0].Timestamp, before)

	payload, ok := envs[0].Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "abc", payload["uuid"])

	assert.Equal(t, "application/json", srv.headers[0].Get("Content-Type"))
}

func TestEmitMatchesWildcardAndExact(t *testing.T) {
	createdOnly := newCaptureServer(t, http.StatusOK)
	everything := newCaptureServer(t, http.StatusOK)

	reg := NewRegistry()
	_, err := reg.Register("created-only", createdOnly.URL, []string{"call.created"})
	require.NoError(t, err)
	_, err = reg.Register("everything", everything.URL, []string{"*"})
	require.NoError(t, err)
	d := NewDispatcher(reg, nil, 0)

	results := d.Emit(context.Background(), "call.answered", map[string]string{"uuid": "x"})

	require.Len(t, results, 1)
	assert.Equal(t, everything.URL, results[0].URL)
	assert.Empty(t, createdOnly.received(), "non-matching subscriber must not be called")
	assert.Len(t, everything.received(), 1)
}

func TestEmitReportsIndependentResults(t *testing.T) {
	healthy := newCaptureServer(t, http.StatusOK)
	failing := newCaptureServer(t, http.StatusInternalServerError)

	reg := NewRegistry()
	_, err := reg.Register("healthy", healthy.URL, nil)
	require.NoError(t, err)
	_, err = reg.Register("failing", failing.URL, nil)
	require.NoError(t, err)
	_, err = reg.Register("unreachable", "http://127.0.0.1:1/never", nil)
	require.NoError(t, err)
	d := NewDispatcher(reg, nil, 0)

	results := d.Emit(context.Background(), "call.ended", map[string]string{"uuid": "x"})
	require.Len(t, results, 3)

	byURL := make(map[string]DispatchResult, len(results))
	for _, r := range results {
		byURL[r.URL] = r
	}

	assert.True(t, byURL[healthy.URL].OK)
	assert.Equal(t, http.StatusOK, byURL[healthy.URL].StatusCode)

	assert.False(t, byURL[failing.URL].OK, "non-2xx is a failed delivery")
	assert.Equal(t, http.StatusInternalServerError, byURL[failing.URL].StatusCode)
	assert.Empty(t, byURL[failing.URL].Error)

	unreachable := byURL["http://127.0.0.1:1/never"]
	assert.False(t, unreachable.OK)
	assert.Zero(t, unreachable.StatusCode, "transport failure carries no status")
	assert.NotEmpty(t, unreachable.Error)
}

func TestEmitSlowEndpointDoesNotBlockOthers(t *testing.T) {
	fast := newCaptureServer(t, http.StatusOK)
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(slow.Close)

	reg := NewRegistry()
	_, err := reg.Register("fast", fast.URL, nil)
	require.NoError(t, err)
	_, err = reg.Register("slow", slow.URL, nil)
	require.NoError(t, err)
	d := NewDispatcher(reg, nil, 100*time.Millisecond)

	start := time.Now()
	results := d.Emit(context.Background(), "call.created", map[string]string{"uuid": "x"})
	elapsed := time.Since(start)

	require.Len(t, results, 2)
	byURL := make(map[string]DispatchResult, len(results))
	for _, r := range results {
		byURL[r.URL] = r
	}
	assert.True(t, byURL[fast.URL].OK)
	assert.False(t, byURL[slow.URL].OK)
	assert.NotEmpty(t, byURL[slow.URL].Error, "timeout surfaces as a delivery error")
	assert.Less(t, elapsed, 450*time.Millisecond, "deliveries run concurrently with independent timeouts")
}
