package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "github.com/frahmantamala/booking-payments/internal"
	bookingpkg "github.com/frahmantamala/booking-payments/internal/booking"
	"github.com/frahmantamala/booking-payments/internal/core/datamodel/booking"
	"github.com/frahmantamala/booking-payments/internal/core/datamodel/lineitem"
	"github.com/frahmantamala/booking-payments/internal/paymentsync"
)

type BookingRepository struct {
	db *gorm.DB
}

func NewBookingRepository(db *gorm.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

var _ bookingpkg.RepositoryAPI = (*BookingRepository)(nil)
var _ paymentsync.BookingStore = (*BookingRepository)(nil)

func (r *BookingRepository) GetByID(ctx context.Context, id int64) (*booking.Booking, error) {
	var b booking.Booking
	if err := r.db.WithContext(ctx).First(&b, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrBookingNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (r *BookingRepository) LineItemsForBooking(ctx context.Context, bookingID int64) ([]*lineitem.LineItem, error) {
	var items []*lineitem.LineItem
	err := r.db.WithContext(ctx).Where("booking_id = ?", bookingID).Order("id").Find(&items).Error
	return items, err
}

// WithPaymentLock runs fn inside a transaction holding an exclusive lock on
// the booking row, so concurrent payment operations on the same booking
// serialize for the full duration of the external call plus the local write.
func (r *BookingRepository) WithPaymentLock(ctx context.Context, bookingID int64, fn func(tx paymentsync.PaymentTx) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		// sqlite rejects FOR UPDATE and serializes writers on its own; the
		// row lock only applies on postgres
		if tx.Dialector.Name() == "postgres" {
			q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var b booking.Booking
		if err := q.First(&b, bookingID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.ErrBookingNotFound
			}
			return err
		}

		return fn(&paymentTx{tx: tx, booking: &b})
	})
}

// paymentTx is the locked view handed to the engine.
type paymentTx struct {
	tx      *gorm.DB
	booking *booking.Booking
}

func (t *paymentTx) Booking() *booking.Booking {
	return t.booking
}

func (t *paymentTx) LineItems() ([]*lineitem.LineItem, error) {
	var items []*lineitem.LineItem
	err := t.tx.Where("booking_id = ?", t.booking.ID).Order("id").Find(&items).Error
	return items, err
}

// UpdatePaymentState applies a partial update guarded by a compare-and-swap
// on the payment_version observed at lock time. Zero rows affected means the
// version moved underneath us and the operation must not commit.
func (t *paymentTx) UpdatePaymentState(update paymentsync.PaymentUpdate) error {
	updates := map[string]interface{}{
		"updated_at": time.Now(),
	}

	if update.PaymentStatus != nil {
		updates["payment_status"] = *update.PaymentStatus
	}
	if update.Status != nil {
		updates["status"] = *update.Status
	}
	if update.ExternalAuthorizationID != nil {
		updates["external_authorization_id"] = *update.ExternalAuthorizationID
	}
	if update.PreviousAuthorizationID != nil {
		updates["previous_authorization_id"] = *update.PreviousAuthorizationID
	}
	if update.CapturedAmount != nil {
		updates["captured_amount"] = *update.CapturedAmount
	}
	if update.TipAmount != nil {
		updates["tip_amount"] = *update.TipAmount
	}
	if update.RequiresManualPayment != nil {
		updates["requires_manual_payment"] = *update.RequiresManualPayment
	}
	if update.PendingManualAmount != nil {
		updates["pending_manual_amount"] = *update.PendingManualAmount
	} else if update.ClearPendingManualAmount {
		updates["pending_manual_amount"] = nil
	}
	if update.CustomerExternalID != nil {
		updates["customer_external_id"] = *update.CustomerExternalID
	}
	if update.PaymentMethodExternalID != nil {
		updates["payment_method_external_id"] = *update.PaymentMethodExternalID
	}
	if update.BumpVersion {
		updates["payment_version"] = gorm.Expr("payment_version + 1")
	}

	res := t.tx.Model(&booking.Booking{}).
		Where("id = ? AND payment_version = ?", t.booking.ID, t.booking.PaymentVersion).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrVersionConflict
	}

	t.applyToBooking(update)
	return nil
}

// applyToBooking mirrors the committed update onto the in-memory row so
// later reads inside the same lock see the new state.
func (t *paymentTx) applyToBooking(update paymentsync.PaymentUpdate) {
	b := t.booking

	if update.PaymentStatus != nil {
		b.PaymentStatus = *update.PaymentStatus
	}
	if update.Status != nil {
		b.Status = *update.Status
	}
	if update.ExternalAuthorizationID != nil {
		b.ExternalAuthorizationID = update.ExternalAuthorizationID
	}
	if update.PreviousAuthorizationID != nil {
		b.PreviousAuthorizationID = update.PreviousAuthorizationID
	}
	if update.CapturedAmount != nil {
		b.CapturedAmount.Decimal = *update.CapturedAmount
		b.CapturedAmount.Valid = true
	}
	if update.TipAmount != nil {
		b.TipAmount = *update.TipAmount
	}
	if update.RequiresManualPayment != nil {
		b.RequiresManualPayment = *update.RequiresManualPayment
	}
	if update.PendingManualAmount != nil {
		b.PendingManualAmount.Decimal = *update.PendingManualAmount
		b.PendingManualAmount.Valid = true
	} else if update.ClearPendingManualAmount {
		b.PendingManualAmount.Valid = false
	}
	if update.CustomerExternalID != nil {
		b.CustomerExternalID = update.CustomerExternalID
	}
	if update.PaymentMethodExternalID != nil {
		b.PaymentMethodExternalID = update.PaymentMethodExternalID
	}
	if update.BumpVersion {
		b.PaymentVersion++
	}
	b.UpdatedAt = time.Now()
}
