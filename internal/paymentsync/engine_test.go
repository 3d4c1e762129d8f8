package paymentsync_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	apperrors "github.com/frahmantamala/booking-payments/internal"
	"github.com/frahmantamala/booking-payments/internal/core/datamodel/booking"
	"github.com/frahmantamala/booking-payments/internal/core/datamodel/lineitem"
	"github.com/frahmantamala/booking-payments/internal/core/events"
	"github.com/frahmantamala/booking-payments/internal/paymentsync"
)

// in-memory booking store

type fakeStore struct {
	mu           sync.Mutex
	booking      *booking.Booking
	items        []*lineitem.LineItem
	lineItemsErr error
	updateErr    error
}

func (s *fakeStore) WithPaymentLock(ctx context.Context, bookingID int64, fn func(tx paymentsync.PaymentTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.booking == nil || s.booking.ID != bookingID {
		return apperrors.ErrBookingNotFound
	}

	// work on a copy and commit only on success, matching the repository's
	// transaction rollback
	work := *s.booking
	if err := fn(&fakeTx{store: s, booking: &work}); err != nil {
		return err
	}
	s.booking = &work
	return nil
}

type fakeTx struct {
	store   *fakeStore
	booking *booking.Booking
}

func (t *fakeTx) Booking() *booking.Booking {
	return t.booking
}

func (t *fakeTx) LineItems() ([]*lineitem.LineItem, error) {
	if t.store.lineItemsErr != nil {
		return nil, t.store.lineItemsErr
	}
	return t.store.items, nil
}

func (t *fakeTx) UpdatePaymentState(update paymentsync.PaymentUpdate) error {
	if t.store.updateErr != nil {
		return t.store.updateErr
	}

	b := t.booking
	if update.PaymentStatus != nil {
		b.PaymentStatus = *update.PaymentStatus
	}
	if update.Status != nil {
		b.Status = *update.Status
	}
	if update.ExternalAuthorizationID != nil {
		b.ExternalAuthorizationID = update.ExternalAuthorizationID
	}
	if update.PreviousAuthorizationID != nil {
		b.PreviousAuthorizationID = update.PreviousAuthorizationID
	}
	if update.CapturedAmount != nil {
		b.CapturedAmount.Decimal = *update.CapturedAmount
		b.CapturedAmount.Valid = true
	}
	if update.TipAmount != nil {
		b.TipAmount = *update.TipAmount
	}
	if update.RequiresManualPayment != nil {
		b.RequiresManualPayment = *update.RequiresManualPayment
	}
	if update.PendingManualAmount != nil {
		b.PendingManualAmount.Decimal = *update.PendingManualAmount
		b.PendingManualAmount.Valid = true
	} else if update.ClearPendingManualAmount {
		b.PendingManualAmount.Valid = false
	}
	if update.CustomerExternalID != nil {
		b.CustomerExternalID = update.CustomerExternalID
	}
	if update.PaymentMethodExternalID != nil {
		b.PaymentMethodExternalID = update.PaymentMethodExternalID
	}
	if update.BumpVersion {
		b.PaymentVersion++
	}
	return nil
}

// scriptable provider recording every call in order

type authCall struct {
	request paymentsync.AuthorizationRequest
}

type refundCall struct {
	authorizationID string
	amount          decimal.Decimal
	idempotencyKey  string
}

type fakeProvider struct {
	mu sync.Mutex

	customerID string
	attachErr  error

	createAuthErr error
	authStatus    string
	nextAuthID    int

	cancelErr error

	captureErr     error
	captureStatus  string
	amountReceived *decimal.Decimal

	refundErr error

	retrieved   *paymentsync.Authorization
	retrieveErr error

	callOrder   []string
	authCalls   []authCall
	cancelled   []string
	captured    []string
	refundCalls []refundCall
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{customerID: "cus_test"}
}

func (p *fakeProvider) record(name string) {
	p.callOrder = append(p.callOrder, name)
}

func (p *fakeProvider) EnsureCustomer(ctx context.Context, email, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("ensure_customer")
	return p.customerID, nil
}

func (p *fakeProvider) AttachPaymentMethod(ctx context.Context, customerRef, paymentMethodRef string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("attach_payment_method")
	return p.attachErr
}

func (p *fakeProvider) CreateAuthorization(ctx context.Context, req paymentsync.AuthorizationRequest) (*paymentsync.Authorization, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("create_authorization")
	p.authCalls = append(p.authCalls, authCall{request: req})
	if p.createAuthErr != nil {
		return nil, p.createAuthErr
	}

	p.nextAuthID++
	status := p.authStatus
	if status == "" {
		if req.ManualCapture {
			status = paymentsync.AuthStatusRequiresCapture
		} else {
			status = paymentsync.AuthStatusSucceeded
		}
	}

	return &paymentsync.Authorization{
		ID:               fmt.Sprintf("auth_%d", p.nextAuthID),
		Status:           status,
		Amount:           req.Amount,
		AmountCapturable: req.Amount,
	}, nil
}

func (p *fakeProvider) CancelAuthorization(ctx context.Context, authorizationID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("cancel_authorization")
	p.cancelled = append(p.cancelled, authorizationID)
	return p.cancelErr
}

func (p *fakeProvider) CaptureAuthorization(ctx context.Context, authorizationID string, amount decimal.Decimal) (*paymentsync.CaptureResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("capture_authorization")
	p.captured = append(p.captured, authorizationID)
	if p.captureErr != nil {
		return nil, p.captureErr
	}

	received := amount
	if p.amountReceived != nil {
		received = *p.amountReceived
	}
	status := p.captureStatus
	if status == "" {
		status = paymentsync.AuthStatusSucceeded
	}
	return &paymentsync.CaptureResult{Status: status, AmountReceived: received}, nil
}

func (p *fakeProvider) CreateRefund(ctx context.Context, authorizationID string, amount decimal.Decimal, idempotencyKey string) (*paymentsync.Refund, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("create_refund")
	p.refundCalls = append(p.refundCalls, refundCall{
		authorizationID: authorizationID,
		amount:          amount,
		idempotencyKey:  idempotencyKey,
	})
	if p.refundErr != nil {
		return nil, p.refundErr
	}
	return &paymentsync.Refund{ID: "re_test"}, nil
}

func (p *fakeProvider) RetrieveAuthorization(ctx context.Context, authorizationID string) (*paymentsync.Authorization, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("retrieve_authorization")
	if p.retrieveErr != nil {
		return nil, p.retrieveErr
	}
	if p.retrieved != nil {
		return p.retrieved, nil
	}
	return nil, errors.New("authorization not found")
}

func (p *fakeProvider) totalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.callOrder)
}

// background collaborators, written from the task queue goroutines

type ledgerRecord struct {
	kind        string
	referenceID string
	amount      decimal.Decimal
}

type fakeLedger struct {
	mu      sync.Mutex
	records []ledgerRecord
}

func (l *fakeLedger) append(kind, referenceID string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, ledgerRecord{kind: kind, referenceID: referenceID, amount: amount})
}

func (l *fakeLedger) RecordAuthorization(bookingID int64, referenceID string, amount decimal.Decimal) error {
	l.append("authorization", referenceID, amount)
	return nil
}

func (l *fakeLedger) CancelAuthorization(bookingID int64, referenceID string) error {
	l.append("cancel_authorization", referenceID, decimal.Zero)
	return nil
}

func (l *fakeLedger) RecordCapture(bookingID int64, referenceID string, amount decimal.Decimal, capturedAt time.Time) error {
	l.append("capture", referenceID, amount)
	return nil
}

func (l *fakeLedger) RecordAdditionalCharge(bookingID int64, referenceID string, amount decimal.Decimal) error {
	l.append("additional_charge", referenceID, amount)
	return nil
}

func (l *fakeLedger) RecordPartialRefund(bookingID int64, referenceID string, amount decimal.Decimal) error {
	l.append("partial_refund", referenceID, amount)
	return nil
}

func (l *fakeLedger) kinds() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	kinds := make([]string, 0, len(l.records))
	for _, r := range l.records {
		kinds = append(kinds, r.kind)
	}
	return kinds
}

type auditRecord struct {
	operation string
	outcome   string
}

type fakeAudit struct {
	mu      sync.Mutex
	records []auditRecord
}

func (a *fakeAudit) Record(bookingID int64, operation, outcome string, detail map[string]interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, auditRecord{operation: operation, outcome: outcome})
	return nil
}

func (a *fakeAudit) outcomes() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	outcomes := make([]string, 0, len(a.records))
	for _, r := range a.records {
		outcomes = append(outcomes, r.outcome)
	}
	return outcomes
}

type fakeCatalog struct {
	prices map[int64]decimal.Decimal
}

func (c *fakeCatalog) GetServicePrice(serviceID int64) (decimal.Decimal, error) {
	price, ok := c.prices[serviceID]
	if !ok {
		return decimal.Zero, apperrors.ErrServiceNotFound
	}
	return price, nil
}

// helpers

func money(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	Expect(err).ToNot(HaveOccurred())
	return d
}

func strPtr(s string) *string { return &s }

func lineItem(serviceID int64, price string, qty int) *lineitem.LineItem {
	return &lineitem.LineItem{
		ServiceID: serviceID,
		UnitPrice: money(price),
		Quantity:  qty,
	}
}

var _ = Describe("Engine", func() {
	var (
		store      *fakeStore
		provider   *fakeProvider
		ledgerRec  *fakeLedger
		auditRec   *fakeAudit
		catalogRec *fakeCatalog
		queue      *paymentsync.TaskQueue
		engine     *paymentsync.Engine
		ctx        context.Context
	)

	testLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	BeforeEach(func() {
		ctx = context.Background()
		store = &fakeStore{}
		provider = newFakeProvider()
		ledgerRec = &fakeLedger{}
		auditRec = &fakeAudit{}
		catalogRec = &fakeCatalog{prices: map[int64]decimal.Decimal{}}
		queue = paymentsync.NewTaskQueue(paymentsync.TaskQueueConfig{MaxWorkers: 1, QueueSize: 32}, testLogger)
		engine = paymentsync.NewEngine(
			store,
			provider,
			catalogRec,
			ledgerRec,
			auditRec,
			events.NewEventBus(testLogger),
			queue,
			"usd",
			testLogger,
		)
	})

	AfterEach(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		queue.Shutdown(shutdownCtx)
	})

	Describe("Authorize", func() {
		BeforeEach(func() {
			store.booking = &booking.Booking{
				ID:            1,
				Status:        booking.StatusPending,
				PaymentStatus: booking.PaymentStatusPending,
				TipAmount:     decimal.Zero,
			}
			store.items = []*lineitem.LineItem{
				lineItem(10, "90.00", 1),
			}
		})

		authorize := func(tip string) (*paymentsync.SyncResult, error) {
			return engine.Authorize(ctx, paymentsync.AuthorizeParams{
				BookingID:        1,
				PaymentMethodRef: "pm_test",
				PayerEmail:       "payer@example.com",
				PayerName:        "Payer",
				Tip:              money(tip),
			})
		}

		It("authorizes the line-item total plus tip and bumps the version", func() {
			result, err := authorize("10.00")

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Success).To(BeTrue())
			Expect(result.Action).To(Equal(paymentsync.ActionAuthorized))
			Expect(result.Amount).To(Equal(money("100.00")))
			Expect(result.PaymentVersion).To(Equal(int64(1)))

			b := store.booking
			Expect(b.PaymentStatus).To(Equal(booking.PaymentStatusAuthorized))
			Expect(b.Status).To(Equal(booking.StatusConfirmed))
			Expect(*b.ExternalAuthorizationID).To(Equal("auth_1"))
			Expect(*b.CustomerExternalID).To(Equal("cus_test"))
			Expect(*b.PaymentMethodExternalID).To(Equal("pm_test"))
			Expect(b.PaymentVersion).To(Equal(int64(1)))
		})

		It("derives the idempotency key from the operation and payment version", func() {
			_, err := authorize("0.00")

			Expect(err).ToNot(HaveOccurred())
			Expect(provider.authCalls).To(HaveLen(1))
			Expect(provider.authCalls[0].request.IdempotencyKey).To(Equal("authorize_1_v0"))
			Expect(provider.authCalls[0].request.ManualCapture).To(BeTrue())
			Expect(provider.authCalls[0].request.Confirm).To(BeTrue())
			Expect(provider.authCalls[0].request.OffSession).To(BeTrue())
		})

		It("clamps the tip to the services total", func() {
			result, err := authorize("500.00")

			Expect(err).ToNot(HaveOccurred())
			// tip bounded at the 90.00 services total
			Expect(result.Amount).To(Equal(money("180.00")))
			Expect(store.booking.TipAmount).To(Equal(money("90.00")))
		})

		It("rejects a negative tip", func() {
			result, err := engine.Authorize(ctx, paymentsync.AuthorizeParams{
				BookingID:        1,
				PaymentMethodRef: "pm_test",
				PayerEmail:       "payer@example.com",
				Tip:              money("-5.00"),
			})

			Expect(err).To(HaveOccurred())
			Expect(result).To(BeNil())
		})

		It("leaves the booking untouched when the provider rejects the authorization", func() {
			provider.createAuthErr = errors.New("card declined")

			result, err := authorize("0.00")

			Expect(err).To(HaveOccurred())
			Expect(result).To(BeNil())
			Expect(store.booking.PaymentStatus).To(Equal(booking.PaymentStatusPending))
			Expect(store.booking.ExternalAuthorizationID).To(BeNil())
			Expect(store.booking.PaymentVersion).To(Equal(int64(0)))
		})

		It("reuses the same idempotency key on retry after a provider failure", func() {
			provider.createAuthErr = errors.New("timeout")
			_, err := authorize("0.00")
			Expect(err).To(HaveOccurred())

			provider.createAuthErr = nil
			_, err = authorize("0.00")
			Expect(err).ToNot(HaveOccurred())

			Expect(provider.authCalls).To(HaveLen(2))
			Expect(provider.authCalls[0].request.IdempotencyKey).To(Equal(provider.authCalls[1].request.IdempotencyKey))
		})

		It("rejects bookings that are already authorized", func() {
			store.booking.PaymentStatus = booking.PaymentStatusAuthorized

			_, err := authorize("0.00")

			Expect(err).To(MatchError(apperrors.ErrInvalidPaymentState))
			Expect(provider.totalCalls()).To(BeZero())
		})

		It("fails with NotFound for an unknown booking", func() {
			_, err := engine.Authorize(ctx, paymentsync.AuthorizeParams{
				BookingID:        99,
				PaymentMethodRef: "pm_test",
				PayerEmail:       "payer@example.com",
			})

			Expect(err).To(MatchError(apperrors.ErrBookingNotFound))
		})

		It("records the authorization in the ledger and audit trail", func() {
			_, err := authorize("0.00")
			Expect(err).ToNot(HaveOccurred())

			Eventually(ledgerRec.kinds).Should(ContainElement("authorization"))
			Eventually(auditRec.outcomes).Should(ContainElement("success"))
		})
	})

	Describe("Recalculate before capture", func() {
		BeforeEach(func() {
			store.booking = &booking.Booking{
				ID:                      1,
				Status:                  booking.StatusConfirmed,
				PaymentStatus:           booking.PaymentStatusAuthorized,
				ExternalAuthorizationID: strPtr("auth_old"),
				CustomerExternalID:      strPtr("cus_test"),
				PaymentMethodExternalID: strPtr("pm_test"),
				PaymentVersion:          1,
				TipAmount:               decimal.Zero,
			}
			store.items = []*lineitem.LineItem{
				lineItem(10, "90.00", 1),
			}
		})

		It("does nothing when the held amount still matches", func() {
			provider.retrieved = &paymentsync.Authorization{
				ID:     "auth_old",
				Status: paymentsync.AuthStatusRequiresCapture,
				Amount: money("90.00"),
			}

			result, err := engine.Recalculate(ctx, 1, "line items changed")

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Action).To(Equal(paymentsync.ActionNoOp))
			Expect(store.booking.PaymentVersion).To(Equal(int64(1)))
			Expect(provider.authCalls).To(BeEmpty())
		})

		It("tolerates a one cent rounding difference", func() {
			provider.retrieved = &paymentsync.Authorization{
				ID:     "auth_old",
				Status: paymentsync.AuthStatusRequiresCapture,
				Amount: money("90.01"),
			}

			result, err := engine.Recalculate(ctx, 1, "rounding")

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Action).To(Equal(paymentsync.ActionNoOp))
		})

		It("replaces the hold when the total changed, creating before cancelling", func() {
			store.items = append(store.items, lineItem(11, "40.00", 1))
			provider.retrieved = &paymentsync.Authorization{
				ID:     "auth_old",
				Status: paymentsync.AuthStatusRequiresCapture,
				Amount: money("90.00"),
			}

			result, err := engine.Recalculate(ctx, 1, "service added")

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Action).To(Equal(paymentsync.ActionReauthorized))
			Expect(result.Amount).To(Equal(money("130.00")))

			// new hold confirmed before the old one is released
			Expect(provider.callOrder).To(Equal([]string{
				"retrieve_authorization",
				"create_authorization",
				"cancel_authorization",
			}))
			Expect(provider.cancelled).To(Equal([]string{"auth_old"}))

			b := store.booking
			Expect(*b.ExternalAuthorizationID).To(Equal("auth_1"))
			Expect(*b.PreviousAuthorizationID).To(Equal("auth_old"))
			Expect(b.PaymentVersion).To(Equal(int64(2)))
		})

		It("keys the replacement authorization to the post-operation version", func() {
			store.items = append(store.items, lineItem(11, "40.00", 1))
			provider.retrieved = &paymentsync.Authorization{
				ID:     "auth_old",
				Status: paymentsync.AuthStatusRequiresCapture,
				Amount: money("90.00"),
			}

			_, err := engine.Recalculate(ctx, 1, "service added")

			Expect(err).ToNot(HaveOccurred())
			Expect(provider.authCalls[0].request.IdempotencyKey).To(Equal("recalculate_1_v2"))
		})

		It("still commits the new hold when cancelling the old one fails", func() {
			store.items = append(store.items, lineItem(11, "40.00", 1))
			provider.retrieved = &paymentsync.Authorization{
				ID:     "auth_old",
				Status: paymentsync.AuthStatusRequiresCapture,
				Amount: money("90.00"),
			}
			provider.cancelErr = errors.New("gateway unavailable")

			result, err := engine.Recalculate(ctx, 1, "service added")

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Action).To(Equal(paymentsync.ActionReauthorized))
			Expect(*store.booking.ExternalAuthorizationID).To(Equal("auth_1"))

			Eventually(auditRec.outcomes).Should(ContainElement("warning"))
		})

		It("falls back to manual payment without any provider call when no method is stored", func() {
			store.booking.CustomerExternalID = nil
			store.booking.PaymentMethodExternalID = nil

			result, err := engine.Recalculate(ctx, 1, "service added")

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Success).To(BeFalse())
			Expect(result.Action).To(Equal(paymentsync.ActionManualPayment))
			Expect(provider.totalCalls()).To(BeZero())

			b := store.booking
			Expect(b.PaymentStatus).To(Equal(booking.PaymentStatusManualRequired))
			Expect(b.RequiresManualPayment).To(BeTrue())
			Expect(b.PendingManualAmount.Valid).To(BeTrue())
			Expect(b.PendingManualAmount.Decimal).To(Equal(money("90.00")))
			Expect(b.PaymentVersion).To(Equal(int64(1)))
		})

		It("falls back to manual payment when the authorization is terminal at the provider", func() {
			provider.retrieved = &paymentsync.Authorization{
				ID:     "auth_old",
				Status: paymentsync.AuthStatusCanceled,
				Amount: money("90.00"),
			}

			result, err := engine.Recalculate(ctx, 1, "service added")

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Action).To(Equal(paymentsync.ActionManualPayment))
			Expect(store.booking.PaymentStatus).To(Equal(booking.PaymentStatusManualRequired))
			Expect(provider.authCalls).To(BeEmpty())
		})

		It("clears a stale manual flag when amounts converge", func() {
			store.booking.PaymentStatus = booking.PaymentStatusManualRequired
			store.booking.RequiresManualPayment = true
			store.booking.PendingManualAmount = decimal.NewNullDecimal(money("90.00"))
			provider.retrieved = &paymentsync.Authorization{
				ID:     "auth_old",
				Status: paymentsync.AuthStatusRequiresCapture,
				Amount: money("90.00"),
			}

			result, err := engine.Recalculate(ctx, 1, "method updated")

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Action).To(Equal(paymentsync.ActionNoOp))
			Expect(store.booking.PaymentStatus).To(Equal(booking.PaymentStatusAuthorized))
			Expect(store.booking.RequiresManualPayment).To(BeFalse())
			Expect(store.booking.PendingManualAmount.Valid).To(BeFalse())
		})
	})

	Describe("Recalculate after capture", func() {
		BeforeEach(func() {
			store.booking = &booking.Booking{
				ID:                      1,
				Status:                  booking.StatusCompleted,
				PaymentStatus:           booking.PaymentStatusCaptured,
				ExternalAuthorizationID: strPtr("auth_captured"),
				CustomerExternalID:      strPtr("cus_test"),
				PaymentMethodExternalID: strPtr("pm_test"),
				PaymentVersion:          2,
				CapturedAmount:          decimal.NewNullDecimal(money("90.00")),
				TipAmount:               decimal.Zero,
			}
			store.items = []*lineitem.LineItem{
				lineItem(10, "90.00", 1),
			}
			provider.retrieved = &paymentsync.Authorization{
				ID:     "auth_captured",
				Status: paymentsync.AuthStatusSucceeded,
				Amount: money("90.00"),
			}
		})

		It("charges the difference when the total grew", func() {
			store.items = append(store.items, lineItem(11, "40.00", 1))

			result, err := engine.Recalculate(ctx, 1, "service added after capture")

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Action).To(Equal(paymentsync.ActionAdditionalCharge))
			Expect(result.Amount).To(Equal(money("40.00")))

			// immediate charge, not a hold
			Expect(provider.authCalls).To(HaveLen(1))
			Expect(provider.authCalls[0].request.ManualCapture).To(BeFalse())
			Expect(provider.authCalls[0].request.Amount).To(Equal(money("40.00")))
			Expect(provider.authCalls[0].request.IdempotencyKey).To(Equal("charge_diff_1_v2"))

			b := store.booking
			Expect(b.CapturedAmount.Decimal).To(Equal(money("130.00")))
			Expect(b.PaymentVersion).To(Equal(int64(3)))

			Eventually(ledgerRec.kinds).Should(ContainElement("additional_charge"))
		})

		It("refunds the difference when the total shrank", func() {
			store.booking.CapturedAmount = decimal.NewNullDecimal(money("130.00"))

			result, err := engine.Recalculate(ctx, 1, "service removed after capture")

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Action).To(Equal(paymentsync.ActionPartialRefund))
			Expect(result.Amount).To(Equal(money("40.00")))

			Expect(provider.refundCalls).To(HaveLen(1))
			Expect(provider.refundCalls[0].authorizationID).To(Equal("auth_captured"))
			Expect(provider.refundCalls[0].amount).To(Equal(money("40.00")))
			Expect(provider.refundCalls[0].idempotencyKey).To(Equal("refund_diff_1_v2"))

			b := store.booking
			Expect(b.CapturedAmount.Decimal).To(Equal(money("90.00")))
			Expect(b.PaymentVersion).To(Equal(int64(3)))

			Eventually(ledgerRec.kinds).Should(ContainElement("partial_refund"))
		})

		It("does nothing when the captured amount still matches", func() {
			result, err := engine.Recalculate(ctx, 1, "no change")

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Action).To(Equal(paymentsync.ActionNoOp))
			Expect(store.booking.PaymentVersion).To(Equal(int64(2)))
		})
	})

	Describe("Capture", func() {
		BeforeEach(func() {
			store.booking = &booking.Booking{
				ID:                      1,
				Status:                  booking.StatusConfirmed,
				PaymentStatus:           booking.PaymentStatusAuthorized,
				ExternalAuthorizationID: strPtr("auth_live"),
				CustomerExternalID:      strPtr("cus_test"),
				PaymentMethodExternalID: strPtr("pm_test"),
				PaymentVersion:          1,
				TipAmount:               decimal.Zero,
			}
			store.items = []*lineitem.LineItem{
				lineItem(10, "90.00", 1),
			}
			provider.retrieved = &paymentsync.Authorization{
				ID:     "auth_live",
				Status: paymentsync.AuthStatusRequiresCapture,
				Amount: money("90.00"),
			}
		})

		It("captures the full authorized amount", func() {
			result, err := engine.Capture(ctx, 1)

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Action).To(Equal(paymentsync.ActionCaptured))
			Expect(result.Amount).To(Equal(money("90.00")))

			b := store.booking
			Expect(b.PaymentStatus).To(Equal(booking.PaymentStatusCaptured))
			Expect(b.CapturedAmount.Decimal).To(Equal(money("90.00")))
			Expect(b.PaymentVersion).To(Equal(int64(2)))

			Eventually(ledgerRec.kinds).Should(ContainElement("capture"))
		})

		It("refuses to capture when the hold no longer matches the booking total", func() {
			provider.retrieved.Amount = money("80.00")

			_, err := engine.Capture(ctx, 1)

			Expect(err).To(MatchError(apperrors.ErrAmountMismatch))
			Expect(provider.captured).To(BeEmpty())
			Expect(store.booking.PaymentStatus).To(Equal(booking.PaymentStatusAuthorized))
		})

		It("flags the booking for manual payment when the provider capture fails", func() {
			provider.captureErr = errors.New("gateway unavailable")

			_, err := engine.Capture(ctx, 1)

			Expect(err).To(HaveOccurred())
			b := store.booking
			Expect(b.PaymentStatus).To(Equal(booking.PaymentStatusCaptureFailed))
			Expect(b.RequiresManualPayment).To(BeTrue())
			Expect(b.PendingManualAmount.Decimal).To(Equal(money("90.00")))
			Expect(b.PaymentVersion).To(Equal(int64(1)))
		})

		It("rejects captures on non-authorized bookings", func() {
			store.booking.PaymentStatus = booking.PaymentStatusCaptured

			_, err := engine.Capture(ctx, 1)

			Expect(err).To(MatchError(apperrors.ErrInvalidPaymentState))
		})
	})

	Describe("RefundDifference", func() {
		BeforeEach(func() {
			store.booking = &booking.Booking{
				ID:                      1,
				Status:                  booking.StatusCompleted,
				PaymentStatus:           booking.PaymentStatusCaptured,
				ExternalAuthorizationID: strPtr("auth_captured"),
				CustomerExternalID:      strPtr("cus_test"),
				PaymentMethodExternalID: strPtr("pm_test"),
				PaymentVersion:          2,
				CapturedAmount:          decimal.NewNullDecimal(money("130.00")),
				TipAmount:               decimal.Zero,
			}
			store.items = []*lineitem.LineItem{
				lineItem(10, "90.00", 1),
			}
			catalogRec.prices[11] = money("40.00")
		})

		It("derives the refund amount from catalog prices", func() {
			result, err := engine.RefundDifference(ctx, 1, []paymentsync.RemovedLine{
				{ServiceID: 11, Quantity: 1},
			})

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Action).To(Equal(paymentsync.ActionPartialRefund))
			Expect(result.Amount).To(Equal(money("40.00")))
			Expect(store.booking.CapturedAmount.Decimal).To(Equal(money("90.00")))
		})

		It("multiplies the catalog price by the removed quantity", func() {
			catalogRec.prices[12] = money("20.00")

			result, err := engine.RefundDifference(ctx, 1, []paymentsync.RemovedLine{
				{ServiceID: 12, Quantity: 3},
			})

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Amount).To(Equal(money("60.00")))
		})

		It("fails the whole refund when a removed service is not in the catalog", func() {
			_, err := engine.RefundDifference(ctx, 1, []paymentsync.RemovedLine{
				{ServiceID: 11, Quantity: 1},
				{ServiceID: 999, Quantity: 1},
			})

			Expect(err).To(MatchError(apperrors.ErrServiceNotFound))
			Expect(provider.refundCalls).To(BeEmpty())
			Expect(store.booking.CapturedAmount.Decimal).To(Equal(money("130.00")))
		})

		It("rejects refunds exceeding the captured amount", func() {
			catalogRec.prices[13] = money("500.00")

			_, err := engine.RefundDifference(ctx, 1, []paymentsync.RemovedLine{
				{ServiceID: 13, Quantity: 1},
			})

			Expect(err).To(HaveOccurred())
			Expect(provider.refundCalls).To(BeEmpty())
		})

		It("rejects empty removed-line lists", func() {
			_, err := engine.RefundDifference(ctx, 1, nil)

			Expect(err).To(HaveOccurred())
		})

		It("rejects refunds on uncaptured bookings", func() {
			store.booking.PaymentStatus = booking.PaymentStatusAuthorized

			_, err := engine.RefundDifference(ctx, 1, []paymentsync.RemovedLine{
				{ServiceID: 11, Quantity: 1},
			})

			Expect(err).To(MatchError(apperrors.ErrInvalidPaymentState))
		})
	})

	Describe("ChargeDifference", func() {
		BeforeEach(func() {
			store.booking = &booking.Booking{
				ID:                      1,
				Status:                  booking.StatusCompleted,
				PaymentStatus:           booking.PaymentStatusCaptured,
				ExternalAuthorizationID: strPtr("auth_captured"),
				CustomerExternalID:      strPtr("cus_test"),
				PaymentMethodExternalID: strPtr("pm_test"),
				PaymentVersion:          2,
				CapturedAmount:          decimal.NewNullDecimal(money("90.00")),
				TipAmount:               decimal.Zero,
			}
			store.items = []*lineitem.LineItem{
				lineItem(10, "90.00", 1),
				lineItem(11, "40.00", 1),
			}
		})

		It("charges the gap between the total and the captured amount", func() {
			result, err := engine.ChargeDifference(ctx, 1)

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Action).To(Equal(paymentsync.ActionAdditionalCharge))
			Expect(result.Amount).To(Equal(money("40.00")))
			Expect(store.booking.CapturedAmount.Decimal).To(Equal(money("130.00")))
		})

		It("rejects non-captured bookings", func() {
			store.booking.PaymentStatus = booking.PaymentStatusAuthorized

			_, err := engine.ChargeDifference(ctx, 1)

			Expect(err).To(MatchError(apperrors.ErrInvalidPaymentState))
		})

		It("falls back to manual payment when no method is stored", func() {
			store.booking.CustomerExternalID = nil
			store.booking.PaymentMethodExternalID = nil

			result, err := engine.ChargeDifference(ctx, 1)

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Action).To(Equal(paymentsync.ActionManualPayment))
			Expect(provider.totalCalls()).To(BeZero())
		})
	})
})
