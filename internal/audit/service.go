package audit

import (
	"encoding/json"
	"log/slog"

	datamodel "github.com/frahmantamala/booking-payments/internal/core/datamodel/audit"
)

// RepositoryAPI is the persistence surface for the write-once audit trail.
type RepositoryAPI interface {
	Append(entry *datamodel.LogEntry) error
	ListForBooking(bookingID int64) ([]*datamodel.LogEntry, error)
}

// Service records every engine operation and its outcome, independent of the
// money-movement ledger. Entries are never mutated after insert.
type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (s *Service) Record(bookingID int64, operation, outcome string, detail map[string]interface{}) error {
	var raw json.RawMessage
	if detail != nil {
		encoded, err := json.Marshal(detail)
		if err != nil {
			s.logger.Error("failed to encode audit detail, recording without it",
				"booking_id", bookingID,
				"operation", operation,
				"error", err)
		} else {
			raw = encoded
		}
	}

	return s.repo.Append(&datamodel.LogEntry{
		BookingID: bookingID,
		Operation: operation,
		Outcome:   outcome,
		Detail:    raw,
	})
}

func (s *Service) ListForBooking(bookingID int64) ([]*datamodel.LogEntry, error) {
	return s.repo.ListForBooking(bookingID)
}
