package monitoring

import (
	"sort"
	"strconv"
	"sync"
	"time"
)

// Telemetry is the capability the orchestration core records through. The
// core calls it unconditionally; callers that don't care wire the no-op.
type Telemetry interface {
	// TrackCallStart counts a started call and raises the active-call gauge.
	TrackCallStart()
	// TrackCallEnd lowers the active-call gauge when tracking state is
	// removed, regardless of how reconciliation went.
	TrackCallEnd()
	// TrackCallCompleted counts a call whose record reached the CRM.
	TrackCallCompleted()

	// Free-form event and error counters
	TrackEvent(name string)
	TrackError(name string)

	// Queue depth gauges, labeled by queue name ("esl", "webhook", "crm")
	SetQueueSize(queue string, size int)
	IncQueue(queue string)
	DecQueue(queue string)

	// Completed-call duration histogram
	ObserveCallDuration(seconds float64)

	// Span hooks for tracing-style instrumentation
	StartSpan(name string) Span
}

// Span is a finishable unit of traced work.
type Span interface {
	SetAttribute(key string, value interface{})
	End()
}

// DurationBuckets are the upper bounds of the call duration histogram, in
// seconds.
var DurationBuckets = []float64{30, 60, 120, 300, 600, 1800}

// Stats is a point-in-time snapshot of recorded telemetry.
type Stats struct {
	ActiveCalls    int              `json:"active_calls"`
	CallsStarted   int64            `json:"calls_started"`
	CallsCompleted int64            `json:"calls_completed"`
	EventsByName   map[string]int64 `json:"events_by_name"`
	ErrorsByName   map[string]int64 `json:"errors_by_name"`
	QueueSizes     map[string]int   `json:"queue_sizes"`
	DurationCount  int64            `json:"duration_count"`
	DurationSum    float64          `json:"duration_sum_seconds"`
	DurationBucket map[string]int64 `json:"duration_buckets"`
}

// noop implements Telemetry with no behavior.
type noop struct{}

func (noop) TrackCallStart()             {}
func (noop) TrackCallEnd()               {}
func (noop) TrackCallCompleted()         {}
func (noop) TrackEvent(string)           {}
func (noop) TrackError(string)           {}
func (noop) SetQueueSize(string, int)    {}
func (noop) IncQueue(string)             {}
func (noop) DecQueue(string)             {}
func (noop) ObserveCallDuration(float64) {}
func (noop) StartSpan(string) Span       { return noopSpan{} }

type noopSpan struct{}

func (noopSpan) SetAttribute(string, interface{}) {}
func (noopSpan) End()                             {}

// NewNoop returns a Telemetry that records nothing.
func NewNoop() Telemetry {
	return noop{}
}

// Recorder is an in-memory Telemetry implementation. Counters and gauges are
// kept process-local and surfaced on the status endpoint.
type Recorder struct {
	mu             sync.Mutex
	activeCalls    int
	callsStarted   int64
	callsCompleted int64
	events         map[string]int64
	errors         map[string]int64
	queues         map[string]int
	durationCount  int64
	durationSum    float64
	durationBucket []int64
}

// NewRecorder creates an empty in-memory recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		events:         make(map[string]int64),
		errors:         make(map[string]int64),
		queues:         make(map[string]int),
		durationBucket: make([]int64, len(DurationBuckets)+1),
	}
}

func (r *Recorder) TrackCallStart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callsStarted++
	r.activeCalls++
}

func (r *Recorder) TrackCallEnd() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeCalls > 0 {
		r.activeCalls--
	}
}

func (r *Recorder) TrackCallCompleted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callsCompleted++
}

func (r *Recorder) TrackEvent(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[name]++
}

func (r *Recorder) TrackError(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors[name]++
}

func (r *Recorder) SetQueueSize(queue string, size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues[queue] = size
}

func (r *Recorder) IncQueue(queue string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues[queue]++
}

func (r *Recorder) DecQueue(queue string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queues[queue] > 0 {
		r.queues[queue]--
	}
}

func (r *Recorder) ObserveCallDuration(seconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durationCount++
	r.durationSum += seconds
	idx := sort.SearchFloat64s(DurationBuckets, seconds)
	r.durationBucket[idx]++
}

func (r *Recorder) StartSpan(name string) Span {
	return &recorderSpan{recorder: r, name: name, start: time.Now()}
}

// Snapshot returns a copy of the current counters for reporting.
func (r *Recorder) Snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{
		ActiveCalls:    r.activeCalls,
		CallsStarted:   r.callsStarted,
		CallsCompleted: r.callsCompleted,
		EventsByName:   make(map[string]int64, len(r.events)),
		ErrorsByName:   make(map[string]int64, len(r.errors)),
		QueueSizes:     make(map[string]int, len(r.queues)),
		DurationCount:  r.durationCount,
		DurationSum:    r.durationSum,
		DurationBucket: make(map[string]int64, len(r.durationBucket)),
	}
	for k, v := range r.events {
		stats.EventsByName[k] = v
	}
	for k, v := range r.errors {
		stats.ErrorsByName[k] = v
	}
	for k, v := range r.queues {
		stats.QueueSizes[k] = v
	}
	for i, bound := range DurationBuckets {
		stats.DurationBucket[bucketLabel(bound)] = r.durationBucket[i]
	}
	stats.DurationBucket["+Inf"] = r.durationBucket[len(DurationBuckets)]
	return stats
}

func bucketLabel(bound float64) string {
	return "le_" + strconv.Itoa(int(bound))
}

// recorderSpan measures elapsed time and records it as an event count on End.
type recorderSpan struct {
	recorder *Recorder
	name     string
	start    time.Time
	mu       sync.Mutex
	ended    bool
}

func (s *recorderSpan) SetAttribute(key string, value interface{}) {}

func (s *recorderSpan) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.mu.Unlock()
	s.recorder.TrackEvent("span." + s.name)
}
