package booking

import (
	"context"
	"log/slog"

	datamodel "github.com/frahmantamala/booking-payments/internal/core/datamodel/booking"
	"github.com/frahmantamala/booking-payments/internal/core/datamodel/lineitem"
)

// RepositoryAPI is the persistence surface the booking service consumes.
type RepositoryAPI interface {
	GetByID(ctx context.Context, id int64) (*datamodel.Booking, error)
	LineItemsForBooking(ctx context.Context, bookingID int64) ([]*lineitem.LineItem, error)
}

type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (s *Service) GetBooking(ctx context.Context, bookingID int64) (*datamodel.Booking, error) {
	return s.repo.GetByID(ctx, bookingID)
}

func (s *Service) GetLineItems(ctx context.Context, bookingID int64) ([]*lineitem.LineItem, error) {
	return s.repo.LineItemsForBooking(ctx, bookingID)
}
