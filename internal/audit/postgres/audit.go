package postgres

import (
	"gorm.io/gorm"

	auditpkg "github.com/frahmantamala/booking-payments/internal/audit"
	"github.com/frahmantamala/booking-payments/internal/core/datamodel/audit"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) auditpkg.RepositoryAPI {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(entry *audit.LogEntry) error {
	return r.db.Create(entry).Error
}

func (r *AuditRepository) ListForBooking(bookingID int64) ([]*audit.LogEntry, error) {
	var entries []*audit.LogEntry
	err := r.db.Where("booking_id = ?", bookingID).Order("created_at ASC, id ASC").Find(&entries).Error
	return entries, err
}
