package ledger

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/booking-payments/internal"
	datamodel "github.com/frahmantamala/booking-payments/internal/core/datamodel/ledger"
	"github.com/frahmantamala/booking-payments/internal/transport"
)

type ServiceAPI interface {
	ListForBooking(bookingID int64) ([]*datamodel.Entry, error)
}

type Handler struct {
	transport.BaseHandler
	Service ServiceAPI
	Logger  *slog.Logger
}

func NewHandler(service ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{Service: service, Logger: logger}
}

type EntryResponse struct {
	ID                  int64           `json:"id"`
	BookingID           int64           `json:"booking_id"`
	ExternalReferenceID string          `json:"external_reference_id"`
	Amount              decimal.Decimal `json:"amount"`
	Kind                string          `json:"kind"`
	Status              string          `json:"status"`
	CapturedAt          *time.Time      `json:"captured_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

// ListForBooking handles GET /api/v1/bookings/{id}/ledger
func (h *Handler) ListForBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || bookingID <= 0 {
		h.HandleError(w, errors.NewValidationError("invalid booking ID", errors.ErrCodeValidationFailed))
		return
	}

	entries, err := h.Service.ListForBooking(bookingID)
	if err != nil {
		h.Logger.Error("ListForBooking: failed to read ledger", "error", err, "booking_id", bookingID)
		h.HandleServiceError(w, err)
		return
	}

	resp := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, EntryResponse{
			ID:                  e.ID,
			BookingID:           e.BookingID,
			ExternalReferenceID: e.ExternalReferenceID,
			Amount:              e.Amount,
			Kind:                e.Kind,
			Status:              e.Status,
			CapturedAt:          e.CapturedAt,
			CreatedAt:           e.CreatedAt,
		})
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"entries": resp})
}
