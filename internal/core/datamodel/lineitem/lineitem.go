package lineitem

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type LineItem struct {
	ID            int64           `gorm:"primaryKey"`
	BookingID     int64           `gorm:"column:booking_id;not null;index"`
	ServiceID     int64           `gorm:"column:service_id;not null"`
	DisplayName   string          `gorm:"column:display_name;not null"`
	UnitPrice     decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	Quantity      int             `gorm:"column:quantity;not null;default:1"`
	Configuration json.RawMessage `gorm:"column:configuration;type:jsonb"`
	CreatedAt     time.Time       `gorm:"column:created_at"`
	UpdatedAt     time.Time       `gorm:"column:updated_at"`
}

func (LineItem) TableName() string {
	return "line_items"
}

// Subtotal is unit price times quantity.
func (li *LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Total sums the subtotals of all given line items.
func Total(items []*LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}
