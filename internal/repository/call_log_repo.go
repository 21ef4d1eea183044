package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/OrbitaAI/call-orchestrator/internal/domain"
)

// GormCallLogRepository handles database operations for call logs
type GormCallLogRepository struct {
	db *gorm.DB
}

// NewGormCallLogRepository creates a new call log repository
func NewGormCallLogRepository(db *gorm.DB) *GormCallLogRepository {
	return &GormCallLogRepository{db: db}
}

// Create creates a new call log
func (r *GormCallLogRepository) Create(ctx context.Context, log *domain.CallLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	log.UpdatedAt = time.Now()

	if err := r.db.WithContext(ctx).Create(log).Error; err != nil {
		return fmt.Errorf("failed to create call log: %w", err)
	}
	return nil
}

// Upsert creates a call log, or updates the existing record when the call
// id was already written. A source reconnect can redeliver a terminal event,
// so the same call id must never produce two rows.
func (r *GormCallLogRepository) Upsert(ctx context.Context, log *domain.CallLog) error {
	if log.CallID == "" {
		return fmt.Errorf("call ID cannot be empty")
	}

	existing, err := r.GetByCallID(ctx, log.CallID)
	if err != nil {
		return err
	}
	if existing != nil {
		existing.CustomerID = log.CustomerID
		existing.CallType = log.CallType
		existing.StartTime = log.StartTime
		existing.EndTime = log.EndTime
		existing.DurationSeconds = log.DurationSeconds
		existing.Transcript = log.Transcript
		existing.Metadata = log.Metadata
		existing.UpdatedAt = time.Now()
		if err := r.db.WithContext(ctx).Save(existing).Error; err != nil {
			return fmt.Errorf("failed to update call log: %w", err)
		}
		return nil
	}

	return r.Create(ctx, log)
}

// GetByCallID retrieves a call log by call ID
func (r *GormCallLogRepository) GetByCallID(ctx context.Context, callID string) (*domain.CallLog, error) {
	var log domain.CallLog
	if err := r.db.WithContext(ctx).Where("call_id = ?", callID).First(&log).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get call log: %w", err)
	}
	return &log, nil
}

// ListRecent retrieves the most recently ended calls, newest first
func (r *GormCallLogRepository) ListRecent(ctx context.Context, limit int) ([]*domain.CallLog, error) {
	if limit <= 0 {
		limit = 50
	}

	var logs []*domain.CallLog
	if err := r.db.WithContext(ctx).
		Order("end_time DESC").
		Limit(limit).
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to list call logs: %w", err)
	}
	return logs, nil
}

// Exists checks if a call log exists by call ID
func (r *GormCallLogRepository) Exists(ctx context.Context, callID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.CallLog{}).Where("call_id = ?", callID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check call log existence: %w", err)
	}
	return count > 0, nil
}
