package catalog

import (
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	datamodel "github.com/frahmantamala/booking-payments/internal/core/datamodel/catalog"
	"github.com/frahmantamala/booking-payments/internal/transport"
)

type ServiceAPI interface {
	ListServices() ([]*datamodel.Service, error)
}

type Handler struct {
	transport.BaseHandler
	Service ServiceAPI
	Logger  *slog.Logger
}

func NewHandler(service ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{Service: service, Logger: logger}
}

type ServiceResponse struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// ListServices handles GET /api/v1/services
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.Service.ListServices()
	if err != nil {
		h.Logger.Error("ListServices: failed to read catalog", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	resp := make([]ServiceResponse, 0, len(services))
	for _, svc := range services {
		resp = append(resp, ServiceResponse{ID: svc.ID, Name: svc.Name, Price: svc.Price})
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"services": resp})
}
