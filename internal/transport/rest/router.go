package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/frahmantamala/booking-payments/internal/catalog"
	"github.com/frahmantamala/booking-payments/internal/ledger"
	"github.com/frahmantamala/booking-payments/internal/paymentsync"
	"github.com/frahmantamala/booking-payments/internal/transport/middleware"
	"github.com/frahmantamala/booking-payments/internal/transport/swagger"
)

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, paymentHandler *paymentsync.Handler, ledgerHandler *ledger.Handler, catalogHandler *catalog.Handler, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)

	// Apply global middleware
	router.Use(middleware.CORS)
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))

	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	// Swagger UI route at root
	router.Handle("/swagger/*", swagger.Handler())

	// Mount API under /api/v1 to match OpenAPI basePath
	router.Route("/api/v1", func(r chi.Router) {
		// Health check route
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		// Public catalog route
		if catalogHandler != nil {
			r.Get("/services", catalogHandler.ListServices)
		}

		if paymentHandler != nil {
			r.Route("/bookings/{id}", func(br chi.Router) {
				br.Get("/payment", paymentHandler.PaymentState)
				br.Post("/payment/authorize", paymentHandler.Authorize)
				br.Post("/payment/recalculate", paymentHandler.Recalculate)
				br.Post("/payment/capture", paymentHandler.Capture)
				br.Post("/payment/charge-difference", paymentHandler.ChargeDifference)
				br.Post("/payment/refund-difference", paymentHandler.RefundDifference)

				if ledgerHandler != nil {
					br.Get("/ledger", ledgerHandler.ListForBooking)
				}
			})
		}
	})
}
