package domain

import (
	"time"
)

// CallType represents the direction of a completed call
type CallType string

const (
	CallTypeInbound  CallType = "inbound"
	CallTypeOutbound CallType = "outbound"
)

// CallLog represents a finalized call record persisted for CRM reporting
type CallLog struct {
	ID              string    `json:"id" db:"id" gorm:"column:id;primaryKey"`
	CallID          string    `json:"call_id" db:"call_id" gorm:"column:call_id;unique"`
	CustomerID      string    `json:"customer_id" db:"customer_id" gorm:"column:customer_id"`
	CallType        CallType  `json:"call_type" db:"call_type" gorm:"column:call_type"`
	StartTime       time.Time `json:"start_time" db:"start_time" gorm:"column:start_time"`
	EndTime         time.Time `json:"end_time" db:"end_time" gorm:"column:end_time"`
	DurationSeconds int       `json:"duration_seconds" db:"duration_seconds" gorm:"column:duration_seconds"`
	Transcript      string    `json:"transcript" db:"transcript" gorm:"column:transcript;type:text"`
	Metadata        JSONB     `json:"metadata" db:"metadata" gorm:"column:metadata;type:jsonb"`
	CreatedAt       time.Time `json:"created_at" db:"created_at" gorm:"column:created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at" gorm:"column:updated_at"`
}

func (CallLog) TableName() string {
	return "call_logs"
}
