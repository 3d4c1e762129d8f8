package paymentsync

import (
	"context"

	"github.com/shopspring/decimal"
)

// Authorization status vocabulary consumed from the external provider
const (
	AuthStatusRequiresCapture       = "requires_capture"
	AuthStatusSucceeded             = "succeeded"
	AuthStatusCanceled              = "canceled"
	AuthStatusRequiresPaymentMethod = "requires_payment_method"
)

// Authorization is the provider's view of a payment authorization.
type Authorization struct {
	ID               string
	Status           string
	Amount           decimal.Decimal
	AmountCapturable decimal.Decimal
}

// CaptureResult reports the outcome of a capture call.
type CaptureResult struct {
	Status         string
	AmountReceived decimal.Decimal
}

// Refund is the provider's record of a created refund.
type Refund struct {
	ID string
}

// AuthorizationRequest carries everything needed to create an authorization
// or an immediate charge. ManualCapture=true holds the funds for a later
// capture; ManualCapture=false moves money immediately.
type AuthorizationRequest struct {
	Amount           decimal.Decimal
	Currency         string
	CustomerRef      string
	PaymentMethodRef string
	ManualCapture    bool
	Confirm          bool
	OffSession       bool
	IdempotencyKey   string
	Metadata         map[string]string
}

// AuthorizationProvider is the external payment provider consumed by the
// engine. Every mutating call accepts a caller-supplied idempotency key so
// a retried request replays instead of duplicating.
type AuthorizationProvider interface {
	EnsureCustomer(ctx context.Context, email, name string) (string, error)
	AttachPaymentMethod(ctx context.Context, customerRef, paymentMethodRef string) error
	CreateAuthorization(ctx context.Context, req AuthorizationRequest) (*Authorization, error)
	CancelAuthorization(ctx context.Context, authorizationID string) error
	CaptureAuthorization(ctx context.Context, authorizationID string, amount decimal.Decimal) (*CaptureResult, error)
	CreateRefund(ctx context.Context, authorizationID string, amount decimal.Decimal, idempotencyKey string) (*Refund, error)
	RetrieveAuthorization(ctx context.Context, authorizationID string) (*Authorization, error)
}
