package paymentsync

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	errors "github.com/frahmantamala/booking-payments/internal"
	"github.com/frahmantamala/booking-payments/internal/core/datamodel/booking"
	"github.com/frahmantamala/booking-payments/internal/transport"
)

// EngineAPI is the engine surface the HTTP layer consumes.
type EngineAPI interface {
	Authorize(ctx context.Context, params AuthorizeParams) (*SyncResult, error)
	Recalculate(ctx context.Context, bookingID int64, reason string) (*SyncResult, error)
	Capture(ctx context.Context, bookingID int64) (*SyncResult, error)
	ChargeDifference(ctx context.Context, bookingID int64) (*SyncResult, error)
	RefundDifference(ctx context.Context, bookingID int64, removedLines []RemovedLine) (*SyncResult, error)
}

// BookingReaderAPI reads the committed payment state for the status
// endpoint.
type BookingReaderAPI interface {
	GetBooking(ctx context.Context, bookingID int64) (*booking.Booking, error)
}

type Handler struct {
	transport.BaseHandler
	Engine   EngineAPI
	Bookings BookingReaderAPI
	Logger   *slog.Logger
}

func NewHandler(engine EngineAPI, bookings BookingReaderAPI, logger *slog.Logger) *Handler {
	return &Handler{
		Engine:   engine,
		Bookings: bookings,
		Logger:   logger,
	}
}

func (h *Handler) bookingID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.HandleError(w, errors.NewValidationError("invalid booking ID", errors.ErrCodeValidationFailed))
		return 0, false
	}
	return id, true
}

// Authorize handles POST /api/v1/bookings/{id}/payment/authorize
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := h.bookingID(w, r)
	if !ok {
		return
	}

	var req AuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("Authorize: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	result, err := h.Engine.Authorize(r.Context(), AuthorizeParams{
		BookingID:        bookingID,
		PaymentMethodRef: req.PaymentMethodRef,
		PayerEmail:       req.PayerEmail,
		PayerName:        req.PayerName,
		Tip:              req.Tip,
	})
	if err != nil {
		h.Logger.Error("Authorize: engine error", "error", err, "booking_id", bookingID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, result)
}

// Recalculate handles POST /api/v1/bookings/{id}/payment/recalculate
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := h.bookingID(w, r)
	if !ok {
		return
	}

	// body is optional, the reason only annotates the audit trail
	var req RecalculateRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err.Error() != "EOF" {
			h.Logger.Error("Recalculate: failed to parse request body", "error", err)
			h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "recalculate requested"
	}

	result, err := h.Engine.Recalculate(r.Context(), bookingID, req.Reason)
	if err != nil {
		h.Logger.Error("Recalculate: engine error", "error", err, "booking_id", bookingID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, result)
}

// Capture handles POST /api/v1/bookings/{id}/payment/capture
func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := h.bookingID(w, r)
	if !ok {
		return
	}

	result, err := h.Engine.Capture(r.Context(), bookingID)
	if err != nil {
		h.Logger.Error("Capture: engine error", "error", err, "booking_id", bookingID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, result)
}

// ChargeDifference handles POST /api/v1/bookings/{id}/payment/charge-difference
func (h *Handler) ChargeDifference(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := h.bookingID(w, r)
	if !ok {
		return
	}

	result, err := h.Engine.ChargeDifference(r.Context(), bookingID)
	if err != nil {
		h.Logger.Error("ChargeDifference: engine error", "error", err, "booking_id", bookingID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, result)
}

// RefundDifference handles POST /api/v1/bookings/{id}/payment/refund-difference
func (h *Handler) RefundDifference(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := h.bookingID(w, r)
	if !ok {
		return
	}

	var req RefundDifferenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("RefundDifference: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	result, err := h.Engine.RefundDifference(r.Context(), bookingID, req.RemovedLines)
	if err != nil {
		h.Logger.Error("RefundDifference: engine error", "error", err, "booking_id", bookingID)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, result)
}

// PaymentState handles GET /api/v1/bookings/{id}/payment
func (h *Handler) PaymentState(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := h.bookingID(w, r)
	if !ok {
		return
	}

	b, err := h.Bookings.GetBooking(r.Context(), bookingID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	resp := PaymentStateResponse{
		BookingID:               b.ID,
		Status:                  b.Status,
		PaymentStatus:           b.PaymentStatus,
		PaymentVersion:          b.PaymentVersion,
		ExternalAuthorizationID: b.ExternalAuthorizationID,
		TipAmount:               b.TipAmount,
		RequiresManualPayment:   b.RequiresManualPayment,
	}
	if b.CapturedAmount.Valid {
		resp.CapturedAmount = &b.CapturedAmount.Decimal
	}
	if b.PendingManualAmount.Valid {
		resp.PendingManualAmount = &b.PendingManualAmount.Decimal
	}

	h.WriteJSON(w, http.StatusOK, resp)
}
