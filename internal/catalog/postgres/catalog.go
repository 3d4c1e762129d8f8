package postgres

import (
	"gorm.io/gorm"

	catalogpkg "github.com/frahmantamala/booking-payments/internal/catalog"
	"github.com/frahmantamala/booking-payments/internal/core/datamodel/catalog"
)

type CatalogRepository struct {
	db *gorm.DB
}

func NewCatalogRepository(db *gorm.DB) catalogpkg.RepositoryAPI {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) GetByID(id int64) (*catalog.Service, error) {
	var svc catalog.Service
	if err := r.db.First(&svc, id).Error; err != nil {
		return nil, err
	}
	return &svc, nil
}

func (r *CatalogRepository) List() ([]*catalog.Service, error) {
	var services []*catalog.Service
	err := r.db.Where("active = ?", true).Order("name ASC").Find(&services).Error
	return services, err
}
