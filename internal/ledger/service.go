package ledger

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	datamodel "github.com/frahmantamala/booking-payments/internal/core/datamodel/ledger"
)

// RepositoryAPI is the persistence surface the ledger service consumes.
type RepositoryAPI interface {
	Append(entry *datamodel.Entry) error
	GetByReference(bookingID int64, referenceID string) (*datamodel.Entry, error)
	Save(entry *datamodel.Entry) error
	ListForBooking(bookingID int64) ([]*datamodel.Entry, error)
}

// Service maintains the append-only money-movement log. It is written only
// from the background phase; the booking row stays the authoritative payment
// state and the ledger is the explanation of how it got there.
type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (s *Service) RecordAuthorization(bookingID int64, referenceID string, amount decimal.Decimal) error {
	return s.repo.Append(&datamodel.Entry{
		BookingID:           bookingID,
		ExternalReferenceID: referenceID,
		Amount:              amount,
		Kind:                datamodel.KindAuthorization,
		Status:              datamodel.StatusAuthorized,
	})
}

// CancelAuthorization marks the superseded authorization entry cancelled.
// When the entry never made it into the ledger a cancelled entry is inserted
// instead, so the trail stays complete.
func (s *Service) CancelAuthorization(bookingID int64, referenceID string) error {
	entry, err := s.repo.GetByReference(bookingID, referenceID)
	if err != nil {
		s.logger.Warn("no ledger entry for cancelled authorization, inserting one",
			"booking_id", bookingID,
			"reference_id", referenceID)
		return s.repo.Append(&datamodel.Entry{
			BookingID:           bookingID,
			ExternalReferenceID: referenceID,
			Amount:              decimal.Zero,
			Kind:                datamodel.KindAuthorization,
			Status:              datamodel.StatusCancelled,
		})
	}

	entry.Status = datamodel.StatusCancelled
	return s.repo.Save(entry)
}

// RecordCapture transitions the live authorization entry into a completed
// capture, keeping at most one authorized authorization entry per booking.
func (s *Service) RecordCapture(bookingID int64, referenceID string, amount decimal.Decimal, capturedAt time.Time) error {
	entry, err := s.repo.GetByReference(bookingID, referenceID)
	if err != nil {
		return s.repo.Append(&datamodel.Entry{
			BookingID:           bookingID,
			ExternalReferenceID: referenceID,
			Amount:              amount,
			Kind:                datamodel.KindCapture,
			Status:              datamodel.StatusCompleted,
			CapturedAt:          &capturedAt,
		})
	}

	entry.Kind = datamodel.KindCapture
	entry.Status = datamodel.StatusCompleted
	entry.Amount = amount
	entry.CapturedAt = &capturedAt
	return s.repo.Save(entry)
}

func (s *Service) RecordAdditionalCharge(bookingID int64, referenceID string, amount decimal.Decimal) error {
	return s.repo.Append(&datamodel.Entry{
		BookingID:           bookingID,
		ExternalReferenceID: referenceID,
		Amount:              amount,
		Kind:                datamodel.KindAdditionalCharge,
		Status:              datamodel.StatusCompleted,
	})
}

// RecordPartialRefund stores the refund with a negative amount so summing a
// booking's completed entries yields the net amount moved.
func (s *Service) RecordPartialRefund(bookingID int64, referenceID string, amount decimal.Decimal) error {
	return s.repo.Append(&datamodel.Entry{
		BookingID:           bookingID,
		ExternalReferenceID: referenceID,
		Amount:              amount.Abs().Neg(),
		Kind:                datamodel.KindPartialRefund,
		Status:              datamodel.StatusCompleted,
	})
}

func (s *Service) ListForBooking(bookingID int64) ([]*datamodel.Entry, error) {
	return s.repo.ListForBooking(bookingID)
}
