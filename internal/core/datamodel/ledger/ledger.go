package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Entry kinds, one per money-moving event
const (
	KindAuthorization    = "authorization"
	KindCapture          = "capture"
	KindAdditionalCharge = "additional_charge"
	KindPartialRefund    = "partial_refund"
)

// Entry statuses
const (
	StatusAuthorized = "authorized"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusFailed     = "failed"
)

// Entry is an append-only record of a money-moving event. Amounts are
// signed: charges and authorizations positive, refunds negative.
type Entry struct {
	ID                  int64           `gorm:"primaryKey"`
	BookingID           int64           `gorm:"column:booking_id;not null;index"`
	ExternalReferenceID string          `gorm:"column:external_reference_id;not null"`
	Amount              decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	Kind                string          `gorm:"column:kind;not null"`
	Status              string          `gorm:"column:status;not null"`
	CapturedAt          *time.Time      `gorm:"column:captured_at"`
	CreatedAt           time.Time       `gorm:"column:created_at"`
	UpdatedAt           time.Time       `gorm:"column:updated_at"`
}

func (Entry) TableName() string {
	return "ledger_entries"
}
