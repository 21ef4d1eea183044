package config

import "time"

// ServiceConfig represents configuration for the call orchestration service
type ServiceConfig struct {
	Port string

	// Instance identifier for multi-pod monitoring and routing
	InstanceID string

	EnableCORS bool

	// Secret for the JWT admin key middleware; empty disables the guard
	SecretKey string

	// Rate limit applied to manual event emission
	EmitRatePerSecond float64
	EmitBurst         int

	// FreeSWITCH event socket source
	ESLEnabled  bool
	ESLHost     string
	ESLPort     int
	ESLPassword string

	// Orchestration tuning
	EventQueueSize  int
	DispatchTimeout time.Duration
	ShutdownGrace   time.Duration

	// CRM collaborator selection
	CRMProvider   string
	CRMWebhookURL string
	CRMAPIKey     string
}
