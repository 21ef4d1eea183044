// Package crm pushes finalized call data to external customer-relationship
// systems. Providers are selected once at startup; the orchestration core
// only ever sees the Adapter interface.
package crm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OrbitaAI/call-orchestrator/internal/repository"
)

// CallTypeInbound is the default call type stamped on records.
const CallTypeInbound = "inbound"

// ErrNotSupported is returned by providers that cannot serve an operation.
var ErrNotSupported = errors.New("operation not supported by CRM provider")

// CallRecord is the canonical call shape submitted to a CRM.
type CallRecord struct {
	CallID          string                 `json:"call_id"`
	CustomerID      string                 `json:"customer_id,omitempty"`
	StartTime       time.Time              `json:"start_time"`
	EndTime         time.Time              `json:"end_time"`
	DurationSeconds *int                   `json:"duration_seconds,omitempty"`
	CallType        string                 `json:"call_type"`
	Transcript      string                 `json:"transcript,omitempty"`
	SentimentScore  *float64               `json:"sentiment_score,omitempty"`
	Tags            []string               `json:"tags,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// Duration returns the provided duration, or one computed from the
// start/end pair when the event source never carried one.
func (r *CallRecord) Duration() int {
	if r.DurationSeconds != nil {
		return *r.DurationSeconds
	}
	if r.EndTime.IsZero() || r.EndTime.Before(r.StartTime) {
		return 0
	}
	return int(r.EndTime.Sub(r.StartTime).Seconds())
}

// Adapter is the CRM capability consumed by the orchestration core.
type Adapter interface {
	// CreateContact creates or updates a contact and returns its id.
	CreateContact(ctx context.Context, data map[string]interface{}) (string, error)
	// LogCall records a completed call.
	LogCall(ctx context.Context, record *CallRecord) error
	// CreateTicket opens a support ticket and returns its id.
	CreateTicket(ctx context.Context, title, description, priority string, metadata map[string]interface{}) (string, error)
}

// Provider names a CRM backend implementation.
type Provider string

const (
	ProviderWebhook  Provider = "webhook"
	ProviderDatabase Provider = "database"
)

// Config selects and parameterizes a provider.
type Config struct {
	Provider   Provider
	WebhookURL string
	APIKey     string
}

type constructor func(cfg Config, repos repository.RepositoryManager) (Adapter, error)

// providerConstructors is consulted exactly once, at startup.
var providerConstructors = map[Provider]constructor{
	ProviderWebhook: func(cfg Config, _ repository.RepositoryManager) (Adapter, error) {
		if cfg.WebhookURL == "" {
			return nil, errors.New("webhook CRM provider requires a webhook URL")
		}
		return NewWebhookAdapter(cfg.WebhookURL, cfg.APIKey), nil
	},
	ProviderDatabase: func(_ Config, repos repository.RepositoryManager) (Adapter, error) {
		if repos == nil {
			return nil, errors.New("database CRM provider requires a configured database")
		}
		return NewDatabaseAdapter(repos), nil
	},
}

// NewAdapter resolves the configured provider. An empty provider means CRM
// integration is disabled and yields a nil adapter without error.
func NewAdapter(cfg Config, repos repository.RepositoryManager) (Adapter, error) {
	if cfg.Provider == "" {
		return nil, nil
	}
	ctor, ok := providerConstructors[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown CRM provider %q", cfg.Provider)
	}
	return ctor(cfg, repos)
}
