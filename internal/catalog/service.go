package catalog

import (
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	apperrors "github.com/frahmantamala/booking-payments/internal"
	datamodel "github.com/frahmantamala/booking-payments/internal/core/datamodel/catalog"
)

// RepositoryAPI is the persistence surface for the service catalog.
type RepositoryAPI interface {
	GetByID(id int64) (*datamodel.Service, error)
	List() ([]*datamodel.Service, error)
}

// Service resolves authoritative prices. Refund calculations always go
// through here so caller-supplied prices never decide an amount.
type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (s *Service) GetServicePrice(serviceID int64) (decimal.Decimal, error) {
	svc, err := s.repo.GetByID(serviceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, apperrors.ErrServiceNotFound
		}
		return decimal.Zero, err
	}
	return svc.Price, nil
}

func (s *Service) ListServices() ([]*datamodel.Service, error) {
	return s.repo.List()
}
