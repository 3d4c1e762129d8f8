package audit

import (
	"encoding/json"
	"time"
)

// Operation outcomes
const (
	OutcomeSuccess = "success"
	OutcomeWarning = "warning"
	OutcomeFailure = "failure"
)

// LogEntry is a write-once diagnostic record of one engine operation.
// Entries are never updated after insert.
type LogEntry struct {
	ID        int64           `gorm:"primaryKey"`
	BookingID int64           `gorm:"column:booking_id;not null;index"`
	Operation string          `gorm:"column:operation;not null"`
	Outcome   string          `gorm:"column:outcome;not null"`
	Detail    json.RawMessage `gorm:"column:detail;type:jsonb"`
	CreatedAt time.Time       `gorm:"column:created_at"`
}

func (LogEntry) TableName() string {
	return "audit_log_entries"
}
