package paymentsync_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	bookingpg "github.com/frahmantamala/booking-payments/internal/booking/postgres"
	"github.com/frahmantamala/booking-payments/internal/core/datamodel/booking"
	"github.com/frahmantamala/booking-payments/internal/core/datamodel/lineitem"
	"github.com/frahmantamala/booking-payments/internal/core/events"
	"github.com/frahmantamala/booking-payments/internal/paymentsync"
)

// Engine specs against the real repository, so commit-versus-rollback
// behavior is exercised through an actual transaction instead of a fake.
var _ = Describe("Engine with the database-backed store", func() {
	var (
		db       *gorm.DB
		repo     *bookingpg.BookingRepository
		provider *fakeProvider
		queue    *paymentsync.TaskQueue
		engine   *paymentsync.Engine
		ctx      context.Context
	)

	dbLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			NowFunc: func() time.Time {
				return time.Now().UTC()
			},
		})
		Expect(err).ToNot(HaveOccurred())

		sqlDB, err := db.DB()
		Expect(err).ToNot(HaveOccurred())
		sqlDB.SetMaxOpenConns(1)

		Expect(db.AutoMigrate(&booking.Booking{}, &lineitem.LineItem{})).To(Succeed())

		repo = bookingpg.NewBookingRepository(db)
		provider = newFakeProvider()
		queue = paymentsync.NewTaskQueue(paymentsync.TaskQueueConfig{MaxWorkers: 1, QueueSize: 32}, dbLogger)
		engine = paymentsync.NewEngine(
			repo,
			provider,
			&fakeCatalog{prices: map[int64]decimal.Decimal{}},
			&fakeLedger{},
			&fakeAudit{},
			events.NewEventBus(dbLogger),
			queue,
			"usd",
			dbLogger,
		)
		ctx = context.Background()
	})

	AfterEach(func() {
		shutdown(queue)
	})

	seedAuthorized := func() *booking.Booking {
		b := &booking.Booking{
			Status:                  booking.StatusConfirmed,
			PaymentStatus:           booking.PaymentStatusAuthorized,
			ExternalAuthorizationID: strPtr("auth_live"),
			CustomerExternalID:      strPtr("cus_test"),
			PaymentMethodExternalID: strPtr("pm_test"),
			PaymentVersion:          1,
			TipAmount:               decimal.Zero,
		}
		Expect(db.Create(b).Error).ToNot(HaveOccurred())
		Expect(db.Create(&lineitem.LineItem{
			BookingID: b.ID,
			ServiceID: 10,
			UnitPrice: money("90.00"),
			Quantity:  1,
		}).Error).ToNot(HaveOccurred())
		return b
	}

	It("persists the committed capture", func() {
		seeded := seedAuthorized()
		provider.retrieved = &paymentsync.Authorization{
			ID:     "auth_live",
			Status: paymentsync.AuthStatusRequiresCapture,
			Amount: money("90.00"),
		}

		result, err := engine.Capture(ctx, seeded.ID)

		Expect(err).ToNot(HaveOccurred())
		Expect(result.Action).To(Equal(paymentsync.ActionCaptured))

		got, err := repo.GetByID(ctx, seeded.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(got.PaymentStatus).To(Equal(booking.PaymentStatusCaptured))
		Expect(got.CapturedAmount.Valid).To(BeTrue())
		Expect(got.CapturedAmount.Decimal.Equal(money("90.00"))).To(BeTrue())
		Expect(got.PaymentVersion).To(Equal(int64(2)))
	})

	It("persists the capture failure flag even though the operation errors", func() {
		seeded := seedAuthorized()
		provider.retrieved = &paymentsync.Authorization{
			ID:     "auth_live",
			Status: paymentsync.AuthStatusRequiresCapture,
			Amount: money("90.00"),
		}
		provider.captureErr = errors.New("gateway unavailable")

		_, err := engine.Capture(ctx, seeded.ID)
		Expect(err).To(HaveOccurred())

		got, err := repo.GetByID(ctx, seeded.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(got.PaymentStatus).To(Equal(booking.PaymentStatusCaptureFailed))
		Expect(got.RequiresManualPayment).To(BeTrue())
		Expect(got.PendingManualAmount.Valid).To(BeTrue())
		Expect(got.PendingManualAmount.Decimal.Equal(money("90.00"))).To(BeTrue())
		// no external money moved, so the version stays put
		Expect(got.PaymentVersion).To(Equal(int64(1)))
	})

	It("persists nothing when the hold no longer matches the booking total", func() {
		seeded := seedAuthorized()
		provider.retrieved = &paymentsync.Authorization{
			ID:     "auth_live",
			Status: paymentsync.AuthStatusRequiresCapture,
			Amount: money("80.00"),
		}

		_, err := engine.Capture(ctx, seeded.ID)
		Expect(err).To(HaveOccurred())

		got, err := repo.GetByID(ctx, seeded.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(got.PaymentStatus).To(Equal(booking.PaymentStatusAuthorized))
		Expect(got.RequiresManualPayment).To(BeFalse())
		Expect(got.PaymentVersion).To(Equal(int64(1)))
	})
})
