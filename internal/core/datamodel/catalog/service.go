package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Service is a bookable service with its authoritative price. The catalog
// is the only trusted source for prices; caller-supplied prices are never
// used for refunds.
type Service struct {
	ID        int64           `gorm:"primaryKey"`
	Name      string          `gorm:"column:name;not null"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	Active    bool            `gorm:"column:active;default:true"`
	CreatedAt time.Time       `gorm:"column:created_at"`
	UpdatedAt time.Time       `gorm:"column:updated_at"`
}

func (Service) TableName() string {
	return "services"
}
