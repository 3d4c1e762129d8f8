package paymentsync

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/booking-payments/internal"
	"github.com/frahmantamala/booking-payments/internal/core/datamodel/audit"
	"github.com/frahmantamala/booking-payments/internal/core/datamodel/booking"
	"github.com/frahmantamala/booking-payments/internal/core/datamodel/lineitem"
	"github.com/frahmantamala/booking-payments/internal/core/events"
)

// Engine operation names, used in idempotency keys and audit records
const (
	opAuthorize   = "authorize"
	opRecalculate = "recalculate"
	opCapture     = "capture"
	opChargeDiff  = "charge_diff"
	opRefundDiff  = "refund_diff"
)

// amountTolerance absorbs one cent of rounding drift between the local
// line-item total and the provider's amount.
var amountTolerance = decimal.New(1, -2)

// Engine keeps a booking's external authorization in sync with its line
// items plus tip. Every operation serializes on the booking row lock,
// performs at most one external money-mutating call, commits the
// authoritative booking fields synchronously and defers ledger, audit and
// notification writes to the background queue.
type Engine struct {
	store    BookingStore
	provider AuthorizationProvider
	catalog  CatalogAPI
	ledger   LedgerAPI
	audit    AuditAPI
	eventBus *events.EventBus
	tasks    *TaskQueue
	currency string
	logger   *slog.Logger
}

func NewEngine(
	store BookingStore,
	provider AuthorizationProvider,
	catalog CatalogAPI,
	ledgerAPI LedgerAPI,
	auditAPI AuditAPI,
	eventBus *events.EventBus,
	tasks *TaskQueue,
	currency string,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		store:    store,
		provider: provider,
		catalog:  catalog,
		ledger:   ledgerAPI,
		audit:    auditAPI,
		eventBus: eventBus,
		tasks:    tasks,
		currency: currency,
		logger:   logger,
	}
}

// idempotencyKey derives the deterministic key for an external-mutating
// call. Retrying the same logical operation reuses the key; a version bump
// makes the next operation a distinct one.
func idempotencyKey(op string, bookingID, version int64) string {
	return fmt.Sprintf("%s_%d_v%d", op, bookingID, version)
}

// clampTip bounds the tip to [0, servicesTotal]. Preserved as policy from
// the product side, pending confirmation.
func clampTip(tip, servicesTotal decimal.Decimal) decimal.Decimal {
	if tip.IsNegative() {
		return decimal.Zero
	}
	if tip.GreaterThan(servicesTotal) {
		return servicesTotal
	}
	return tip
}

func withinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(amountTolerance)
}

// Authorize places the initial hold for the booking's current total. The
// external authorization is created with manual capture, confirmed
// immediately and off-session; on provider failure nothing is written
// locally.
func (e *Engine) Authorize(ctx context.Context, params AuthorizeParams) (*SyncResult, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	var result *SyncResult
	var after []Task

	err := e.store.WithPaymentLock(ctx, params.BookingID, func(tx PaymentTx) error {
		b := tx.Booking()

		if b.PaymentStatus != booking.PaymentStatusPending && b.PaymentStatus != booking.PaymentStatusPaymentPending {
			e.logger.Warn("authorize rejected: invalid payment status",
				"booking_id", b.ID,
				"payment_status", b.PaymentStatus)
			return errors.ErrInvalidPaymentState
		}

		items, err := tx.LineItems()
		if err != nil {
			return errors.NewInternalError("failed to read line items", err)
		}

		servicesTotal := lineitem.Total(items)
		tip := clampTip(params.Tip, servicesTotal)
		total := servicesTotal.Add(tip)

		customerID, err := e.provider.EnsureCustomer(ctx, params.PayerEmail, params.PayerName)
		if err != nil {
			return errors.NewExternalError("failed to resolve payment customer", err)
		}

		if err := e.provider.AttachPaymentMethod(ctx, customerID, params.PaymentMethodRef); err != nil {
			return errors.NewExternalError("failed to attach payment method", err)
		}

		auth, err := e.provider.CreateAuthorization(ctx, AuthorizationRequest{
			Amount:           total,
			Currency:         e.currency,
			CustomerRef:      customerID,
			PaymentMethodRef: params.PaymentMethodRef,
			ManualCapture:    true,
			Confirm:          true,
			OffSession:       true,
			IdempotencyKey:   idempotencyKey(opAuthorize, b.ID, b.PaymentVersion),
			Metadata:         map[string]string{"booking_id": strconv.FormatInt(b.ID, 10)},
		})
		if err != nil {
			return errors.NewExternalError("authorization failed", err)
		}

		if auth.Status != AuthStatusRequiresCapture && auth.Status != AuthStatusSucceeded {
			return errors.NewExternalError(fmt.Sprintf("authorization not confirmed, status %s", auth.Status), nil)
		}

		authorized := booking.PaymentStatusAuthorized
		confirmed := booking.StatusConfirmed
		noManual := false
		if err := tx.UpdatePaymentState(PaymentUpdate{
			PaymentStatus:            &authorized,
			Status:                   &confirmed,
			ExternalAuthorizationID:  &auth.ID,
			CustomerExternalID:       &customerID,
			PaymentMethodExternalID:  &params.PaymentMethodRef,
			TipAmount:                &tip,
			RequiresManualPayment:    &noManual,
			ClearPendingManualAmount: true,
			BumpVersion:              true,
		}); err != nil {
			return err
		}

		e.logger.Info("booking authorized",
			"booking_id", b.ID,
			"authorization_id", auth.ID,
			"amount", total,
			"tip", tip,
			"payment_version", b.PaymentVersion)

		after = append(after,
			e.ledgerTask("ledger_authorization", b.ID, func() error {
				return e.ledger.RecordAuthorization(b.ID, auth.ID, total)
			}),
			e.auditTask(b.ID, opAuthorize, audit.OutcomeSuccess, map[string]interface{}{
				"authorization_id": auth.ID,
				"amount":           total.String(),
				"tip":              tip.String(),
			}),
			e.eventTask(b.ID, events.NewPaymentAuthorizedEvent(b.ID, auth.ID, total, tip)),
		)

		result = &SyncResult{
			Success:         true,
			Action:          ActionAuthorized,
			Amount:          total,
			AuthorizationID: auth.ID,
			PaymentVersion:  b.PaymentVersion,
		}
		return nil
	})
	if err != nil {
		e.failOperation(params.BookingID, opAuthorize, err)
		return nil, err
	}

	e.submitAll(after)
	return result, nil
}

// Recalculate reconciles the external authorization with the current
// line-item total plus tip. It is the required follow-up to any line-item
// mutation.
func (e *Engine) Recalculate(ctx context.Context, bookingID int64, reason string) (*SyncResult, error) {
	var result *SyncResult
	var after []Task

	err := e.store.WithPaymentLock(ctx, bookingID, func(tx PaymentTx) error {
		b := tx.Booking()

		switch b.PaymentStatus {
		case booking.PaymentStatusAuthorized, booking.PaymentStatusCaptured,
			booking.PaymentStatusManualRequired, booking.PaymentStatusCaptureFailed:
		default:
			e.logger.Warn("recalculate rejected: invalid payment status",
				"booking_id", b.ID,
				"payment_status", b.PaymentStatus)
			return errors.ErrInvalidPaymentState
		}

		items, err := tx.LineItems()
		if err != nil {
			return errors.NewInternalError("failed to read line items", err)
		}
		expected := lineitem.Total(items).Add(b.TipAmount)

		// never attempt an automatic off-session charge without a stored
		// method; this path makes zero external calls
		if !b.HasStoredPaymentMethod() {
			if err := e.applyManualFallback(tx, expected); err != nil {
				return err
			}
			after = append(after, e.manualFallbackTasks(b.ID, opRecalculate, expected, "no stored payment method")...)
			result = manualResult(expected, b.PaymentVersion)
			return nil
		}

		var current *Authorization
		if b.ExternalAuthorizationID != nil {
			current, err = e.provider.RetrieveAuthorization(ctx, *b.ExternalAuthorizationID)
			if err != nil {
				return errors.NewExternalError("failed to retrieve authorization", err)
			}
		}

		switch {
		case current == nil:
			// a human supplied a new method after a manual-payment stop;
			// there is no live authorization to replace
			return e.reauthorize(ctx, tx, expected, reason, &after, &result)

		case current.Status == AuthStatusRequiresCapture:
			if withinTolerance(current.Amount, expected) {
				if err := e.clearManualFlags(tx, booking.PaymentStatusAuthorized); err != nil {
					return err
				}
				after = append(after, e.auditTask(b.ID, opRecalculate, audit.OutcomeSuccess, map[string]interface{}{
					"action": ActionNoOp,
					"amount": expected.String(),
					"reason": reason,
				}))
				result = &SyncResult{
					Success:         true,
					Action:          ActionNoOp,
					Amount:          expected,
					AuthorizationID: current.ID,
					PaymentVersion:  b.PaymentVersion,
				}
				return nil
			}
			return e.reauthorize(ctx, tx, expected, reason, &after, &result)

		case current.Status == AuthStatusSucceeded:
			return e.syncCaptured(ctx, tx, expected, reason, &after, &result)

		default:
			// cancelled or otherwise terminal at the provider: fail closed,
			// no silent retry
			e.logger.Warn("authorization in non-syncable state, requiring manual payment",
				"booking_id", b.ID,
				"authorization_id", current.ID,
				"provider_status", current.Status)
			if err := e.applyManualFallback(tx, expected); err != nil {
				return err
			}
			after = append(after, e.manualFallbackTasks(b.ID, opRecalculate, expected,
				fmt.Sprintf("authorization in terminal state %s", current.Status))...)
			result = manualResult(expected, b.PaymentVersion)
			return nil
		}
	})
	if err != nil {
		e.failOperation(bookingID, opRecalculate, err)
		return nil, err
	}

	e.submitAll(after)
	return result, nil
}

// reauthorize replaces the live authorization with a new one for the
// expected amount. The new authorization is created before the old one is
// cancelled: if creation fails the old hold stays intact and the booking
// remains chargeable.
func (e *Engine) reauthorize(ctx context.Context, tx PaymentTx, expected decimal.Decimal, reason string, after *[]Task, result **SyncResult) error {
	b := tx.Booking()

	// the new authorization belongs to the post-operation version
	newAuth, err := e.provider.CreateAuthorization(ctx, AuthorizationRequest{
		Amount:           expected,
		Currency:         e.currency,
		CustomerRef:      *b.CustomerExternalID,
		PaymentMethodRef: *b.PaymentMethodExternalID,
		ManualCapture:    true,
		Confirm:          true,
		OffSession:       true,
		IdempotencyKey:   idempotencyKey(opRecalculate, b.ID, b.PaymentVersion+1),
		Metadata:         map[string]string{"booking_id": strconv.FormatInt(b.ID, 10), "reason": reason},
	})
	if err != nil {
		return errors.NewExternalError("reauthorization failed", err)
	}
	if newAuth.Status != AuthStatusRequiresCapture && newAuth.Status != AuthStatusSucceeded {
		return errors.NewExternalError(fmt.Sprintf("reauthorization not confirmed, status %s", newAuth.Status), nil)
	}

	var oldAuthID string
	if b.ExternalAuthorizationID != nil {
		oldAuthID = *b.ExternalAuthorizationID
		if cancelErr := e.provider.CancelAuthorization(ctx, oldAuthID); cancelErr != nil {
			// the new authorization is already confirmed and authoritative;
			// an uncaptured hold expires at the provider, so record the
			// miss and move on
			e.logger.Error("failed to cancel superseded authorization",
				"booking_id", b.ID,
				"authorization_id", oldAuthID,
				"error", cancelErr)
			*after = append(*after, e.auditTask(b.ID, opRecalculate, audit.OutcomeWarning, map[string]interface{}{
				"detail":           "superseded authorization not cancelled",
				"authorization_id": oldAuthID,
				"error":            cancelErr.Error(),
			}))
		}
	}

	authorized := booking.PaymentStatusAuthorized
	noManual := false
	update := PaymentUpdate{
		PaymentStatus:            &authorized,
		ExternalAuthorizationID:  &newAuth.ID,
		RequiresManualPayment:    &noManual,
		ClearPendingManualAmount: true,
		BumpVersion:              true,
	}
	if oldAuthID != "" {
		update.PreviousAuthorizationID = &oldAuthID
	}
	if err := tx.UpdatePaymentState(update); err != nil {
		return err
	}

	e.logger.Info("booking reauthorized",
		"booking_id", b.ID,
		"authorization_id", newAuth.ID,
		"previous_authorization_id", oldAuthID,
		"amount", expected,
		"payment_version", b.PaymentVersion)

	*after = append(*after,
		e.ledgerTask("ledger_reauthorization", b.ID, func() error {
			if oldAuthID != "" {
				if err := e.ledger.CancelAuthorization(b.ID, oldAuthID); err != nil {
					return err
				}
			}
			return e.ledger.RecordAuthorization(b.ID, newAuth.ID, expected)
		}),
		e.auditTask(b.ID, opRecalculate, audit.OutcomeSuccess, map[string]interface{}{
			"action":                 ActionReauthorized,
			"authorization_id":       newAuth.ID,
			"previous_authorization": oldAuthID,
			"amount":                 expected.String(),
			"reason":                 reason,
		}),
		e.eventTask(b.ID, events.NewPaymentAdjustedEvent(b.ID, ActionReauthorized, expected, newAuth.ID)),
	)

	*result = &SyncResult{
		Success:         true,
		Action:          ActionReauthorized,
		Amount:          expected,
		AuthorizationID: newAuth.ID,
		PaymentVersion:  b.PaymentVersion,
	}
	return nil
}

// syncCaptured reconciles a booking whose money has already moved: a
// positive difference becomes an independent off-session charge, a negative
// one a partial refund against the original capture.
func (e *Engine) syncCaptured(ctx context.Context, tx PaymentTx, expected decimal.Decimal, reason string, after *[]Task, result **SyncResult) error {
	b := tx.Booking()

	captured := b.CapturedAmount.Decimal
	if !b.CapturedAmount.Valid {
		return errors.NewInternalError("captured booking has no captured amount", nil)
	}

	diff := expected.Sub(captured)

	switch {
	case diff.GreaterThan(amountTolerance):
		charge, err := e.provider.CreateAuthorization(ctx, AuthorizationRequest{
			Amount:           diff,
			Currency:         e.currency,
			CustomerRef:      *b.CustomerExternalID,
			PaymentMethodRef: *b.PaymentMethodExternalID,
			ManualCapture:    false,
			Confirm:          true,
			OffSession:       true,
			IdempotencyKey:   idempotencyKey(opChargeDiff, b.ID, b.PaymentVersion),
			Metadata:         map[string]string{"booking_id": strconv.FormatInt(b.ID, 10), "reason": reason},
		})
		if err != nil {
			return errors.NewExternalError("additional charge failed", err)
		}
		if charge.Status != AuthStatusSucceeded {
			return errors.NewExternalError(fmt.Sprintf("additional charge not completed, status %s", charge.Status), nil)
		}

		newCaptured := captured.Add(diff)
		capturedStatus := booking.PaymentStatusCaptured
		noManual := false
		if err := tx.UpdatePaymentState(PaymentUpdate{
			PaymentStatus:            &capturedStatus,
			CapturedAmount:           &newCaptured,
			RequiresManualPayment:    &noManual,
			ClearPendingManualAmount: true,
			BumpVersion:              true,
		}); err != nil {
			return err
		}

		e.logger.Info("additional charge completed",
			"booking_id", b.ID,
			"charge_id", charge.ID,
			"amount", diff,
			"captured_total", newCaptured)

		*after = append(*after,
			e.ledgerTask("ledger_additional_charge", b.ID, func() error {
				return e.ledger.RecordAdditionalCharge(b.ID, charge.ID, diff)
			}),
			e.auditTask(b.ID, opRecalculate, audit.OutcomeSuccess, map[string]interface{}{
				"action":    ActionAdditionalCharge,
				"charge_id": charge.ID,
				"amount":    diff.String(),
				"reason":    reason,
			}),
			e.eventTask(b.ID, events.NewPaymentAdjustedEvent(b.ID, ActionAdditionalCharge, diff, charge.ID)),
		)

		*result = &SyncResult{
			Success:         true,
			Action:          ActionAdditionalCharge,
			Amount:          diff,
			AuthorizationID: charge.ID,
			PaymentVersion:  b.PaymentVersion,
		}
		return nil

	case diff.LessThan(amountTolerance.Neg()):
		refundAmount := diff.Abs()
		return e.refund(ctx, tx, refundAmount, reason, after, result)

	default:
		if err := e.clearManualFlags(tx, booking.PaymentStatusCaptured); err != nil {
			return err
		}
		*after = append(*after, e.auditTask(b.ID, opRecalculate, audit.OutcomeSuccess, map[string]interface{}{
			"action": ActionNoOp,
			"amount": expected.String(),
			"reason": reason,
		}))
		*result = &SyncResult{
			Success:        true,
			Action:         ActionNoOp,
			Amount:         expected,
			PaymentVersion: b.PaymentVersion,
		}
		return nil
	}
}

// refund issues a partial refund against the original captured
// authorization and commits the reduced captured amount.
func (e *Engine) refund(ctx context.Context, tx PaymentTx, amount decimal.Decimal, reason string, after *[]Task, result **SyncResult) error {
	b := tx.Booking()

	if b.ExternalAuthorizationID == nil {
		return errors.NewInternalError("captured booking has no authorization reference", nil)
	}
	authID := *b.ExternalAuthorizationID

	refund, err := e.provider.CreateRefund(ctx, authID, amount, idempotencyKey(opRefundDiff, b.ID, b.PaymentVersion))
	if err != nil {
		return errors.NewExternalError("partial refund failed", err)
	}

	newCaptured := b.CapturedAmount.Decimal.Sub(amount)
	capturedStatus := booking.PaymentStatusCaptured
	noManual := false
	if err := tx.UpdatePaymentState(PaymentUpdate{
		PaymentStatus:            &capturedStatus,
		CapturedAmount:           &newCaptured,
		RequiresManualPayment:    &noManual,
		ClearPendingManualAmount: true,
		BumpVersion:              true,
	}); err != nil {
		return err
	}

	e.logger.Info("partial refund completed",
		"booking_id", b.ID,
		"refund_id", refund.ID,
		"amount", amount,
		"captured_total", newCaptured)

	*after = append(*after,
		e.ledgerTask("ledger_partial_refund", b.ID, func() error {
			return e.ledger.RecordPartialRefund(b.ID, refund.ID, amount)
		}),
		e.auditTask(b.ID, opRefundDiff, audit.OutcomeSuccess, map[string]interface{}{
			"action":    ActionPartialRefund,
			"refund_id": refund.ID,
			"amount":    amount.String(),
			"reason":    reason,
		}),
		e.eventTask(b.ID, events.NewPaymentAdjustedEvent(b.ID, ActionPartialRefund, amount, refund.ID)),
	)

	*result = &SyncResult{
		Success:         true,
		Action:          ActionPartialRefund,
		Amount:          amount,
		AuthorizationID: refund.ID,
		PaymentVersion:  b.PaymentVersion,
	}
	return nil
}

// Capture settles the live authorization. The authorized amount must match
// the current line-item total to the cent; any divergence is a hard error
// so a stale amount is never captured. A provider capture failure still
// commits the capture_failed flag before the error is returned.
func (e *Engine) Capture(ctx context.Context, bookingID int64) (*SyncResult, error) {
	var result *SyncResult
	var after []Task
	var captureErr error

	err := e.store.WithPaymentLock(ctx, bookingID, func(tx PaymentTx) error {
		b := tx.Booking()

		if b.PaymentStatus != booking.PaymentStatusAuthorized || b.ExternalAuthorizationID == nil {
			e.logger.Warn("capture rejected: invalid payment status",
				"booking_id", b.ID,
				"payment_status", b.PaymentStatus)
			return errors.ErrInvalidPaymentState
		}

		items, err := tx.LineItems()
		if err != nil {
			return errors.NewInternalError("failed to read line items", err)
		}
		expected := lineitem.Total(items).Add(b.TipAmount)

		auth, err := e.provider.RetrieveAuthorization(ctx, *b.ExternalAuthorizationID)
		if err != nil {
			return errors.NewExternalError("failed to retrieve authorization", err)
		}

		if !withinTolerance(auth.Amount, expected) {
			e.logger.Warn("capture rejected: authorized amount diverged from booking total",
				"booking_id", b.ID,
				"authorized_amount", auth.Amount,
				"expected_amount", expected)
			return errors.ErrAmountMismatch
		}

		capRes, err := e.provider.CaptureAuthorization(ctx, auth.ID, auth.Amount)
		if err != nil {
			// return nil so the transaction commits the failure flag;
			// returning the error would roll it back and leave the booking
			// looking chargeable
			failed := booking.PaymentStatusCaptureFailed
			manual := true
			if updateErr := tx.UpdatePaymentState(PaymentUpdate{
				PaymentStatus:         &failed,
				RequiresManualPayment: &manual,
				PendingManualAmount:   &expected,
			}); updateErr != nil {
				return updateErr
			}
			e.logger.Error("provider capture failed, booking flagged for manual payment",
				"booking_id", b.ID,
				"authorization_id", auth.ID,
				"error", err)
			after = append(after, e.manualFallbackTasks(b.ID, opCapture, expected, "provider capture failed")...)
			captureErr = errors.NewExternalError("capture failed", err)
			return nil
		}

		capturedStatus := booking.PaymentStatusCaptured
		noManual := false
		if err := tx.UpdatePaymentState(PaymentUpdate{
			PaymentStatus:            &capturedStatus,
			CapturedAmount:           &capRes.AmountReceived,
			RequiresManualPayment:    &noManual,
			ClearPendingManualAmount: true,
			BumpVersion:              true,
		}); err != nil {
			return err
		}

		capturedAt := time.Now()
		e.logger.Info("booking captured",
			"booking_id", b.ID,
			"authorization_id", auth.ID,
			"amount_received", capRes.AmountReceived,
			"payment_version", b.PaymentVersion)

		after = append(after,
			e.ledgerTask("ledger_capture", b.ID, func() error {
				return e.ledger.RecordCapture(b.ID, auth.ID, capRes.AmountReceived, capturedAt)
			}),
			e.auditTask(b.ID, opCapture, audit.OutcomeSuccess, map[string]interface{}{
				"authorization_id": auth.ID,
				"amount_received":  capRes.AmountReceived.String(),
			}),
			e.eventTask(b.ID, events.NewPaymentCapturedEvent(b.ID, auth.ID, capRes.AmountReceived)),
		)

		result = &SyncResult{
			Success:         true,
			Action:          ActionCaptured,
			Amount:          capRes.AmountReceived,
			AuthorizationID: auth.ID,
			PaymentVersion:  b.PaymentVersion,
		}
		return nil
	})
	if err != nil {
		e.failOperation(bookingID, opCapture, err)
		return nil, err
	}

	e.submitAll(after)
	if captureErr != nil {
		e.failOperation(bookingID, opCapture, captureErr)
		return nil, captureErr
	}
	return result, nil
}

// ChargeDifference charges the gap between the current total and the
// already-captured amount as an independent off-session charge. Entry point
// for callers that already know the total increased post-capture.
func (e *Engine) ChargeDifference(ctx context.Context, bookingID int64) (*SyncResult, error) {
	var result *SyncResult
	var after []Task

	err := e.store.WithPaymentLock(ctx, bookingID, func(tx PaymentTx) error {
		b := tx.Booking()

		if b.PaymentStatus != booking.PaymentStatusCaptured {
			return errors.ErrInvalidPaymentState
		}

		items, err := tx.LineItems()
		if err != nil {
			return errors.NewInternalError("failed to read line items", err)
		}
		expected := lineitem.Total(items).Add(b.TipAmount)

		if !b.HasStoredPaymentMethod() {
			if err := e.applyManualFallback(tx, expected); err != nil {
				return err
			}
			after = append(after, e.manualFallbackTasks(b.ID, opChargeDiff, expected, "no stored payment method")...)
			result = manualResult(expected, b.PaymentVersion)
			return nil
		}

		return e.syncCaptured(ctx, tx, expected, "charge difference", &after, &result)
	})
	if err != nil {
		e.failOperation(bookingID, opChargeDiff, err)
		return nil, err
	}

	e.submitAll(after)
	return result, nil
}

// RefundDifference refunds removed line items against the original capture.
// The refund amount is re-derived from the catalog price of every removed
// service; caller-supplied prices are ignored, and an unknown service fails
// the whole operation.
func (e *Engine) RefundDifference(ctx context.Context, bookingID int64, removedLines []RemovedLine) (*SyncResult, error) {
	if err := ValidateRemovedLines(removedLines); err != nil {
		return nil, err
	}

	var result *SyncResult
	var after []Task

	err := e.store.WithPaymentLock(ctx, bookingID, func(tx PaymentTx) error {
		b := tx.Booking()

		if b.PaymentStatus != booking.PaymentStatusCaptured || b.ExternalAuthorizationID == nil || !b.CapturedAmount.Valid {
			return errors.ErrInvalidPaymentState
		}

		refundAmount := decimal.Zero
		for _, line := range removedLines {
			price, err := e.catalog.GetServicePrice(line.ServiceID)
			if err != nil {
				e.logger.Error("refund rejected: removed service not in catalog",
					"booking_id", b.ID,
					"service_id", line.ServiceID)
				return errors.ErrServiceNotFound
			}
			refundAmount = refundAmount.Add(price.Mul(decimal.NewFromInt(int64(line.Quantity))))
		}

		if refundAmount.LessThanOrEqual(amountTolerance) {
			result = &SyncResult{
				Success:        true,
				Action:         ActionNoOp,
				Amount:         decimal.Zero,
				PaymentVersion: b.PaymentVersion,
			}
			return nil
		}

		if refundAmount.GreaterThan(b.CapturedAmount.Decimal) {
			return errors.NewValidationError("refund amount exceeds captured amount", errors.ErrCodeInvalidAmount)
		}

		return e.refund(ctx, tx, refundAmount, "line items removed", &after, &result)
	})
	if err != nil {
		e.failOperation(bookingID, opRefundDiff, err)
		return nil, err
	}

	e.submitAll(after)
	return result, nil
}

// ----------------- helpers -----------------

func manualResult(pending decimal.Decimal, version int64) *SyncResult {
	return &SyncResult{
		Success:        false,
		Action:         ActionManualPayment,
		Amount:         pending,
		PendingAmount:  &pending,
		PaymentVersion: version,
	}
}

// applyManualFallback parks the booking for human collection. No external
// call happened, so the version is not bumped.
func (e *Engine) applyManualFallback(tx PaymentTx, pending decimal.Decimal) error {
	manual := booking.PaymentStatusManualRequired
	flag := true
	return tx.UpdatePaymentState(PaymentUpdate{
		PaymentStatus:         &manual,
		RequiresManualPayment: &flag,
		PendingManualAmount:   &pending,
	})
}

func (e *Engine) clearManualFlags(tx PaymentTx, paymentStatus string) error {
	b := tx.Booking()
	if !b.RequiresManualPayment && b.PaymentStatus == paymentStatus {
		return nil
	}
	noManual := false
	return tx.UpdatePaymentState(PaymentUpdate{
		PaymentStatus:            &paymentStatus,
		RequiresManualPayment:    &noManual,
		ClearPendingManualAmount: true,
	})
}

func (e *Engine) manualFallbackTasks(bookingID int64, op string, pending decimal.Decimal, reason string) []Task {
	return []Task{
		e.auditTask(bookingID, op, audit.OutcomeWarning, map[string]interface{}{
			"action":         ActionManualPayment,
			"pending_amount": pending.String(),
			"reason":         reason,
		}),
		e.eventTask(bookingID, events.NewManualPaymentRequiredEvent(bookingID, pending, reason)),
	}
}

func (e *Engine) ledgerTask(name string, bookingID int64, fn func() error) Task {
	return Task{
		Name:      name,
		BookingID: bookingID,
		Run: func(ctx context.Context) error {
			return fn()
		},
	}
}

func (e *Engine) auditTask(bookingID int64, operation, outcome string, detail map[string]interface{}) Task {
	return Task{
		Name:      "audit_" + operation,
		BookingID: bookingID,
		Run: func(ctx context.Context) error {
			return e.audit.Record(bookingID, operation, outcome, detail)
		},
	}
}

func (e *Engine) eventTask(bookingID int64, event events.Event) Task {
	return Task{
		Name:      "publish_" + event.EventType(),
		BookingID: bookingID,
		Run: func(ctx context.Context) error {
			return e.eventBus.Publish(ctx, event)
		},
	}
}

func (e *Engine) submitAll(tasks []Task) {
	for _, task := range tasks {
		e.tasks.Submit(task)
	}
}

// failOperation records a synchronous failure in the audit trail without
// blocking the caller's error response.
func (e *Engine) failOperation(bookingID int64, operation string, opErr error) {
	e.tasks.Submit(e.auditTask(bookingID, operation, audit.OutcomeFailure, map[string]interface{}{
		"error": opErr.Error(),
	}))
}
