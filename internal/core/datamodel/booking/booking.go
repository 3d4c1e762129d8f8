package booking

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment status constants for the booking payment lifecycle
const (
	PaymentStatusPending        = "pending"
	PaymentStatusPaymentPending = "payment_pending"
	PaymentStatusAuthorized     = "authorized"
	PaymentStatusCaptured       = "captured"
	PaymentStatusCancelled      = "cancelled"
	PaymentStatusFailed         = "failed"
	PaymentStatusCaptureFailed  = "capture_failed"
	PaymentStatusManualRequired = "requires_manual_payment"
)

// Job lifecycle status constants (separate from payment status)
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

type Booking struct {
	ID                      int64               `gorm:"primaryKey"`
	Status                  string              `gorm:"column:status;default:pending"`
	PaymentStatus           string              `gorm:"column:payment_status;default:pending"`
	ExternalAuthorizationID *string             `gorm:"column:external_authorization_id"`
	PreviousAuthorizationID *string             `gorm:"column:previous_authorization_id"`
	PaymentVersion          int64               `gorm:"column:payment_version;default:0;not null"`
	CapturedAmount          decimal.NullDecimal `gorm:"column:captured_amount;type:numeric(12,2)"`
	TipAmount               decimal.Decimal     `gorm:"column:tip_amount;type:numeric(12,2);default:0"`
	RequiresManualPayment   bool                `gorm:"column:requires_manual_payment;default:false"`
	PendingManualAmount     decimal.NullDecimal `gorm:"column:pending_manual_amount;type:numeric(12,2)"`
	CustomerExternalID      *string             `gorm:"column:customer_external_id"`
	PaymentMethodExternalID *string             `gorm:"column:payment_method_external_id"`
	CreatedAt               time.Time           `gorm:"column:created_at"`
	UpdatedAt               time.Time           `gorm:"column:updated_at"`
}

func (Booking) TableName() string {
	return "bookings"
}

// HasStoredPaymentMethod reports whether the booking can be charged
// off-session without human involvement.
func (b *Booking) HasStoredPaymentMethod() bool {
	return b.CustomerExternalID != nil && *b.CustomerExternalID != "" &&
		b.PaymentMethodExternalID != nil && *b.PaymentMethodExternalID != ""
}
