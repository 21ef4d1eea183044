package crm

import (
	"context"

	"go.uber.org/zap"

	"github.com/OrbitaAI/call-orchestrator/internal/domain"
	"github.com/OrbitaAI/call-orchestrator/internal/repository"
	"github.com/OrbitaAI/call-orchestrator/pkg/logger"
)

// DatabaseAdapter records calls in the service's own database instead of an
// external CRM, for deployments that report out of the call_logs table.
// Contact and ticket operations have no database equivalent.
type DatabaseAdapter struct {
	repos repository.RepositoryManager
}

// NewDatabaseAdapter creates an adapter writing through the given repositories.
func NewDatabaseAdapter(repos repository.RepositoryManager) *DatabaseAdapter {
	return &DatabaseAdapter{repos: repos}
}

// CreateContact is not supported by the database provider.
func (a *DatabaseAdapter) CreateContact(ctx context.Context, data map[string]interface{}) (string, error) {
	return "", ErrNotSupported
}

// LogCall upserts the call into the call_logs table, keyed by call id.
func (a *DatabaseAdapter) LogCall(ctx context.Context, record *CallRecord) error {
	callLog := &domain.CallLog{
		CallID:          record.CallID,
		CustomerID:      record.CustomerID,
		CallType:        domain.CallType(record.CallType),
		StartTime:       record.StartTime,
		EndTime:         record.EndTime,
		DurationSeconds: record.Duration(),
		Transcript:      record.Transcript,
		Metadata:        domain.JSONB(record.Metadata),
	}
	if err := a.repos.CallLog().Upsert(ctx, callLog); err != nil {
		return err
	}

	logger.Base().Debug("Call record persisted",
		zap.String("call_id", record.CallID),
		zap.Int("duration_seconds", callLog.DurationSeconds))
	return nil
}

// CreateTicket is not supported by the database provider.
func (a *DatabaseAdapter) CreateTicket(ctx context.Context, title, description, priority string, metadata map[string]interface{}) (string, error) {
	return "", ErrNotSupported
}
