package repository

import (
	"context"

	"github.com/OrbitaAI/call-orchestrator/internal/domain"
	"gorm.io/gorm"
)

// CallLogRepository defines the interface for persisted call records
type CallLogRepository interface {
	// Write operations
	Create(ctx context.Context, log *domain.CallLog) error
	Upsert(ctx context.Context, log *domain.CallLog) error

	// Read operations
	GetByCallID(ctx context.Context, callID string) (*domain.CallLog, error)
	ListRecent(ctx context.Context, limit int) ([]*domain.CallLog, error)

	// Utility operations
	Exists(ctx context.Context, callID string) (bool, error)
}

// RepositoryManager combines all repositories
type RepositoryManager interface {
	CallLog() CallLogRepository

	// Transaction support
	WithTx(ctx context.Context, fn func(ctx context.Context, repos RepositoryManager) error) error

	// Health check
	Ping(ctx context.Context) error

	// Close connection
	Close() error
}

// GormRepositoryManager implements RepositoryManager using GORM
type GormRepositoryManager struct {
	db          *gorm.DB
	callLogRepo *GormCallLogRepository
}

// NewGormRepositoryManager creates a new GORM repository manager
func NewGormRepositoryManager(db *gorm.DB) *GormRepositoryManager {
	return &GormRepositoryManager{
		db:          db,
		callLogRepo: NewGormCallLogRepository(db),
	}
}

// CallLog returns the call log repository
func (m *GormRepositoryManager) CallLog() CallLogRepository {
	return m.callLogRepo
}

// WithTx executes a function within a database transaction
func (m *GormRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, repos RepositoryManager) error) error {
	return m.db.Transaction(func(tx *gorm.DB) error {
		txManager := &GormRepositoryManager{
			db:          tx,
			callLogRepo: NewGormCallLogRepository(tx),
		}
		return fn(ctx, txManager)
	})
}

// Ping checks the database connection
func (m *GormRepositoryManager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (m *GormRepositoryManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
