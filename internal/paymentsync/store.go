package paymentsync

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/booking-payments/internal/core/datamodel/booking"
	"github.com/frahmantamala/booking-payments/internal/core/datamodel/lineitem"
)

// PaymentUpdate is a partial update of the booking's authoritative payment
// fields. Nil pointers leave the column untouched. BumpVersion increments
// payment_version and must be set exactly once per successful
// external-mutating operation.
type PaymentUpdate struct {
	PaymentStatus            *string
	Status                   *string
	ExternalAuthorizationID  *string
	PreviousAuthorizationID  *string
	CapturedAmount           *decimal.Decimal
	TipAmount                *decimal.Decimal
	RequiresManualPayment    *bool
	PendingManualAmount      *decimal.Decimal
	ClearPendingManualAmount bool
	CustomerExternalID       *string
	PaymentMethodExternalID  *string
	BumpVersion              bool
}

// PaymentTx is the view of a booking while its row lock is held.
type PaymentTx interface {
	// Booking returns the locked row, kept in sync with committed updates.
	Booking() *booking.Booking
	// LineItems reads the booking's current line items inside the same
	// transaction.
	LineItems() ([]*lineitem.LineItem, error)
	// UpdatePaymentState applies a compare-and-swap update keyed on the
	// payment_version observed at lock time.
	UpdatePaymentState(update PaymentUpdate) error
}

// BookingStore serializes engine operations per booking: fn runs with an
// exclusive row lock held for its full duration, including any external
// provider calls. A missing booking fails with NotFound before fn runs.
type BookingStore interface {
	WithPaymentLock(ctx context.Context, bookingID int64, fn func(tx PaymentTx) error) error
}

// LedgerAPI is the append-only money-movement log, written only from the
// background phase.
type LedgerAPI interface {
	RecordAuthorization(bookingID int64, referenceID string, amount decimal.Decimal) error
	CancelAuthorization(bookingID int64, referenceID string) error
	RecordCapture(bookingID int64, referenceID string, amount decimal.Decimal, capturedAt time.Time) error
	RecordAdditionalCharge(bookingID int64, referenceID string, amount decimal.Decimal) error
	RecordPartialRefund(bookingID int64, referenceID string, amount decimal.Decimal) error
}

// AuditAPI records every engine operation and its outcome, independent of
// the ledger.
type AuditAPI interface {
	Record(bookingID int64, operation, outcome string, detail map[string]interface{}) error
}

// CatalogAPI resolves authoritative service prices; caller-supplied prices
// are never trusted for refunds.
type CatalogAPI interface {
	GetServicePrice(serviceID int64) (decimal.Decimal, error)
}
