package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/OrbitaAI/call-orchestrator/internal/monitoring"
	"github.com/OrbitaAI/call-orchestrator/pkg/logger"
)

// DefaultDispatchTimeout bounds each individual webhook delivery.
const DefaultDispatchTimeout = 10 * time.Second

// DispatchResult reports the outcome of one delivery attempt. StatusCode is
// zero and Error is set when the request never produced an HTTP response.
type DispatchResult struct {
	URL        string `json:"url"`
	StatusCode int    `json:"status_code,omitempty"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
}

// Dispatcher fans envelopes out to subscribed endpoints. Deliveries run
// concurrently with independent timeouts; one slow or broken endpoint never
// delays results from the others. There are no retries.
type Dispatcher struct {
	registry  *Registry
	client    *http.Client
	telemetry monitoring.Telemetry
}

// NewDispatcher wires a dispatcher over the given registry. A zero timeout
// falls back to DefaultDispatchTimeout.
func NewDispatcher(registry *Registry, telemetry monitoring.Telemetry, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	if telemetry == nil {
		telemetry = monitoring.NewNoop()
	}
	return &Dispatcher{
		registry:  registry,
		client:    &http.Client{Timeout: timeout},
		telemetry: telemetry,
	}
}

// Emit wraps payload in an envelope and delivers it to every endpoint
// subscribed to eventType. It blocks until all deliveries have resolved and
// returns one result per endpoint. Zero subscribers is the common case and
// returns an empty slice immediately.
func (d *Dispatcher) Emit(ctx context.Context, eventType string, payload interface{}) []DispatchResult {
	targets := d.registry.match(eventType)
	if len(targets) == 0 {
		logger.Base().Debug("No endpoints subscribed to event",
			zap.String("event_type", eventType))
		return make([]DispatchResult, 0)
	}

	body, err := json.Marshal(NewEnvelope(eventType, payload))
	if err != nil {
		logger.Base().Error("Failed to marshal event envelope",
			zap.String("event_type", eventType),
			zap.Error(err))
		d.telemetry.TrackError("webhook_envelope_error")
		results := make([]DispatchResult, 0, len(targets))
		for _, ep := range targets {
			results = append(results, DispatchResult{URL: ep.URL, Error: err.Error()})
		}
		return results
	}

	results := make([]DispatchResult, len(targets))
	var wg sync.WaitGroup
	for i, ep := range targets {
		wg.Add(1)
		go func(i int, ep Endpoint) {
			defer wg.Done()
			results[i] = d.deliver(ctx, ep, eventType, body)
		}(i, ep)
	}
	wg.Wait()

	successful := 0
	for _, r := range results {
		if r.OK {
			successful++
		}
	}
	logger.Base().Info("Event emitted",
		zap.String("event_type", eventType),
		zap.Int("endpoint_count", len(results)),
		zap.Int("successful", successful))
	return results
}

func (d *Dispatcher) deliver(ctx context.Context, ep Endpoint, eventType string, body []byte) DispatchResult {
	d.telemetry.TrackEvent("webhook_dispatch_attempt")
	d.telemetry.IncQueue("webhook")
	defer d.telemetry.DecQueue("webhook")

	span := d.telemetry.StartSpan("webhook_dispatch")
	defer span.End()
	span.SetAttribute("endpoint_url", ep.URL)
	span.SetAttribute("event_type", eventType)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		d.telemetry.TrackError("webhook_dispatch_error")
		return DispatchResult{URL: ep.URL, Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		logger.Base().Error("Error dispatching event to endpoint",
			zap.String("url", ep.URL),
			zap.Error(err))
		d.telemetry.TrackError("webhook_dispatch_error")
		return DispatchResult{URL: ep.URL, Error: err.Error()}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	span.SetAttribute("status_code", resp.StatusCode)
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok {
		d.telemetry.TrackError("webhook_dispatch_failure")
	}
	logger.Base().Debug("Dispatched event to endpoint",
		zap.String("url", ep.URL),
		zap.Int("status", resp.StatusCode))
	return DispatchResult{URL: ep.URL, StatusCode: resp.StatusCode, OK: ok}
}
