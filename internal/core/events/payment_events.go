package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventTypePaymentAuthorized     = "payment.authorized"
	EventTypePaymentCaptured       = "payment.captured"
	EventTypePaymentAdjusted       = "payment.adjusted"
	EventTypeManualPaymentRequired = "payment.manual_required"
)

// PaymentAuthorizedEvent is published after a booking's authorization has
// been committed. Invoice generation and customer notification hang off it.
type PaymentAuthorizedEvent struct {
	BaseEvent
	BookingID       int64           `json:"booking_id"`
	AuthorizationID string          `json:"authorization_id"`
	Amount          decimal.Decimal `json:"amount"`
	TipAmount       decimal.Decimal `json:"tip_amount"`
}

func NewPaymentAuthorizedEvent(bookingID int64, authorizationID string, amount, tip decimal.Decimal) *PaymentAuthorizedEvent {
	return &PaymentAuthorizedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentAuthorized,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"booking_id":       bookingID,
				"authorization_id": authorizationID,
				"amount":           amount.String(),
				"tip_amount":       tip.String(),
			},
		},
		BookingID:       bookingID,
		AuthorizationID: authorizationID,
		Amount:          amount,
		TipAmount:       tip,
	}
}

type PaymentCapturedEvent struct {
	BaseEvent
	BookingID       int64           `json:"booking_id"`
	AuthorizationID string          `json:"authorization_id"`
	AmountReceived  decimal.Decimal `json:"amount_received"`
}

func NewPaymentCapturedEvent(bookingID int64, authorizationID string, amountReceived decimal.Decimal) *PaymentCapturedEvent {
	return &PaymentCapturedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentCaptured,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"booking_id":       bookingID,
				"authorization_id": authorizationID,
				"amount_received":  amountReceived.String(),
			},
		},
		BookingID:       bookingID,
		AuthorizationID: authorizationID,
		AmountReceived:  amountReceived,
	}
}

// PaymentAdjustedEvent covers every post-authorization correction:
// reauthorization, additional charge, partial refund.
type PaymentAdjustedEvent struct {
	BaseEvent
	BookingID   int64           `json:"booking_id"`
	Adjustment  string          `json:"adjustment"`
	Amount      decimal.Decimal `json:"amount"`
	ReferenceID string          `json:"reference_id"`
}

func NewPaymentAdjustedEvent(bookingID int64, adjustment string, amount decimal.Decimal, referenceID string) *PaymentAdjustedEvent {
	return &PaymentAdjustedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentAdjusted,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"booking_id":   bookingID,
				"adjustment":   adjustment,
				"amount":       amount.String(),
				"reference_id": referenceID,
			},
		},
		BookingID:   bookingID,
		Adjustment:  adjustment,
		Amount:      amount,
		ReferenceID: referenceID,
	}
}

// ManualPaymentRequiredEvent signals that automatic reconciliation gave up
// and a human must collect the pending amount.
type ManualPaymentRequiredEvent struct {
	BaseEvent
	BookingID     int64           `json:"booking_id"`
	PendingAmount decimal.Decimal `json:"pending_amount"`
	Reason        string          `json:"reason"`
}

func NewManualPaymentRequiredEvent(bookingID int64, pendingAmount decimal.Decimal, reason string) *ManualPaymentRequiredEvent {
	return &ManualPaymentRequiredEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeManualPaymentRequired,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"booking_id":     bookingID,
				"pending_amount": pendingAmount.String(),
				"reason":         reason,
			},
		},
		BookingID:     bookingID,
		PendingAmount: pendingAmount,
		Reason:        reason,
	}
}
