package paymentsync

import (
	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/booking-payments/internal"
	"github.com/frahmantamala/booking-payments/internal/core/common/validation"
)

// Result actions, discriminating "nothing happened" from "money moved"
// from "human intervention required"
const (
	ActionNoOp             = "no_op"
	ActionAuthorized       = "authorized"
	ActionReauthorized     = "reauthorized"
	ActionCaptured         = "captured"
	ActionAdditionalCharge = "additional_charge"
	ActionPartialRefund    = "partial_refund"
	ActionManualPayment    = "requires_manual_payment"
	ActionError            = "error"
)

// SyncResult is the discriminated outcome of one engine operation.
type SyncResult struct {
	Success         bool             `json:"success"`
	Action          string           `json:"action"`
	Amount          decimal.Decimal  `json:"amount"`
	AuthorizationID string           `json:"authorization_id,omitempty"`
	PendingAmount   *decimal.Decimal `json:"pending_manual_amount,omitempty"`
	PaymentVersion  int64            `json:"payment_version"`
}

// AuthorizeParams are the inputs to the initial authorization.
type AuthorizeParams struct {
	BookingID        int64
	PaymentMethodRef string
	PayerEmail       string
	PayerName        string
	Tip              decimal.Decimal
}

func (p *AuthorizeParams) Validate() error {
	validator := validation.NewValidator()

	validator.Field("booking_id", p.BookingID).Required()
	validator.Field("payment_method", p.PaymentMethodRef).Required()
	validator.Field("payer_email", p.PayerEmail).Required().MaxLength(254)
	validator.Field("tip", p.Tip).NonNegativeDecimal(errors.ErrCodeInvalidAmount)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// RemovedLine identifies a line item the caller removed. Only the service
// id and quantity are used; the refund amount comes from the catalog.
type RemovedLine struct {
	ServiceID int64 `json:"service_id"`
	Quantity  int   `json:"quantity"`
}

func ValidateRemovedLines(lines []RemovedLine) error {
	if len(lines) == 0 {
		return errors.NewValidationError("at least one removed line is required", errors.ErrCodeValidationFailed)
	}
	for _, line := range lines {
		validator := validation.NewValidator()
		validator.Field("service_id", line.ServiceID).Required()
		validator.Field("quantity", int64(line.Quantity)).MinInt(1, errors.ErrCodeInvalidQuantity)
		if appErr := validator.Validate(); appErr != nil {
			return appErr
		}
	}
	return nil
}

// HTTP request payloads

type AuthorizeRequest struct {
	PaymentMethodRef string          `json:"payment_method"`
	PayerEmail       string          `json:"payer_email"`
	PayerName        string          `json:"payer_name"`
	Tip              decimal.Decimal `json:"tip"`
}

type RecalculateRequest struct {
	Reason string `json:"reason"`
}

type RefundDifferenceRequest struct {
	RemovedLines []RemovedLine `json:"removed_lines"`
}

// PaymentStateResponse is the committed payment state of a booking.
type PaymentStateResponse struct {
	BookingID               int64            `json:"booking_id"`
	Status                  string           `json:"status"`
	PaymentStatus           string           `json:"payment_status"`
	PaymentVersion          int64            `json:"payment_version"`
	ExternalAuthorizationID *string          `json:"external_authorization_id,omitempty"`
	CapturedAmount          *decimal.Decimal `json:"captured_amount,omitempty"`
	PendingManualAmount     *decimal.Decimal `json:"pending_manual_amount,omitempty"`
	TipAmount               decimal.Decimal  `json:"tip_amount"`
	RequiresManualPayment   bool             `json:"requires_manual_payment"`
}
