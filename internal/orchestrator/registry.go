package orchestrator

import (
	"errors"
	"sync"

	"github.com/jinzhu/copier"
	"go.uber.org/zap"

	"github.com/OrbitaAI/call-orchestrator/pkg/logger"
)

var (
	// ErrNotInitialized is returned when registry operations are invoked
	// before the orchestration core has been constructed for this process.
	ErrNotInitialized = errors.New("orchestration registry not initialized")

	// ErrEndpointNotFound is returned when an unregister targets an id that
	// holds no registration.
	ErrEndpointNotFound = errors.New("endpoint not found")
)

// Endpoint is a registered webhook subscriber.
type Endpoint struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

// Matches reports whether the endpoint subscribes to the given event type,
// either exactly or through the wildcard.
func (e *Endpoint) Matches(eventType string) bool {
	for _, ev := range e.Events {
		if ev == "*" || ev == eventType {
			return true
		}
	}
	return false
}

// Registry holds webhook subscriptions for the running process. State is
// in-memory only; registrations do not survive a restart. The zero value is
// deliberately unusable so a handler wired before startup fails loudly
// instead of registering into the void.
type Registry struct {
	mu          sync.RWMutex
	endpoints   []*Endpoint
	initialized bool
}

// NewRegistry creates an empty, ready-to-use registry.
func NewRegistry() *Registry {
	return &Registry{
		endpoints:   make([]*Endpoint, 0),
		initialized: true,
	}
}

// Register upserts a subscription. An existing id has its url and events
// replaced in place; a new id is appended. Empty events default to the
// wildcard.
func (r *Registry) Register(id, url string, events []string) (*Endpoint, error) {
	if r == nil || !r.initialized {
		return nil, ErrNotInitialized
	}
	if len(events) == 0 {
		events = []string{"*"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ep := range r.endpoints {
		if ep.ID == id {
			ep.URL = url
			ep.Events = events
			return copyEndpoint(ep), nil
		}
	}
	ep := &Endpoint{ID: id, URL: url, Events: events}
	r.endpoints = append(r.endpoints, ep)
	return copyEndpoint(ep), nil
}

// Unregister removes every registration with the given id and reports
// whether anything was removed.
func (r *Registry) Unregister(id string) (bool, error) {
	if r == nil || !r.initialized {
		return false, ErrNotInitialized
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.endpoints[:0]
	removed := false
	for _, ep := range r.endpoints {
		if ep.ID == id {
			removed = true
			continue
		}
		kept = append(kept, ep)
	}
	r.endpoints = kept
	return removed, nil
}

// List returns a snapshot of current registrations. Callers get copies, so
// mutating the result never touches registry state.
func (r *Registry) List() ([]Endpoint, error) {
	if r == nil || !r.initialized {
		return nil, ErrNotInitialized
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make([]Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		snapshot = append(snapshot, *copyEndpoint(ep))
	}
	return snapshot, nil
}

// match returns copies of the endpoints subscribed to eventType.
func (r *Registry) match(eventType string) []Endpoint {
	if r == nil || !r.initialized {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Endpoint
	for _, ep := range r.endpoints {
		if ep.Matches(eventType) {
			matched = append(matched, *copyEndpoint(ep))
		}
	}
	return matched
}

func copyEndpoint(ep *Endpoint) *Endpoint {
	var cp Endpoint
	if err := copier.CopyWithOption(&cp, ep, copier.Option{DeepCopy: true}); err != nil {
		logger.Base().Warn("Failed to deep copy endpoint, returning shallow copy",
			zap.String("endpoint_id", ep.ID),
			zap.Error(err))
		cp = *ep
	}
	return &cp
}
