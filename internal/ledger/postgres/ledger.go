package postgres

import (
	"gorm.io/gorm"

	"github.com/frahmantamala/booking-payments/internal/core/datamodel/ledger"
	ledgerpkg "github.com/frahmantamala/booking-payments/internal/ledger"
)

type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) ledgerpkg.RepositoryAPI {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Append(entry *ledger.Entry) error {
	return r.db.Create(entry).Error
}

func (r *LedgerRepository) GetByReference(bookingID int64, referenceID string) (*ledger.Entry, error) {
	var entry ledger.Entry
	err := r.db.Where("booking_id = ? AND external_reference_id = ?", bookingID, referenceID).First(&entry).Error
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *LedgerRepository) Save(entry *ledger.Entry) error {
	return r.db.Save(entry).Error
}

func (r *LedgerRepository) ListForBooking(bookingID int64) ([]*ledger.Entry, error) {
	var entries []*ledger.Entry
	err := r.db.Where("booking_id = ?", bookingID).Order("created_at ASC, id ASC").Find(&entries).Error
	return entries, err
}
