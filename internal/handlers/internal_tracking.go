package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/style-suite/api/internal/domain"
	"github.com/style-suite/api/internal/platform/httpx"
	"github.com/style-suite/api/internal/services"
)

type advanceTrackingRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

// InternalTrackingHandlers lets fulfillment systems move orders through the tracking states.
// Authentication is applied by the /internal group.
type InternalTrackingHandlers struct {
	tracking services.TrackingService
}

// NewInternalTrackingHandlers constructs the internal tracking handlers.
func NewInternalTrackingHandlers(tracking services.TrackingService) *InternalTrackingHandlers {
	return &InternalTrackingHandlers{tracking: tracking}
}

// Routes registers the /internal endpoints.
func (h *InternalTrackingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders/{orderID}/tracking", h.advance)
}

func (h *InternalTrackingHandlers) advance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.tracking == nil {
		httpx.WriteError(ctx, w, httpx.NewError("tracking_service_unavailable", "tracking service unavailable", http.StatusServiceUnavailable))
		return
	}
	var req advanceTrackingRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	status := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if status == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_failed", "status is required", http.StatusBadRequest))
		return
	}

	tracking, err := h.tracking.Advance(ctx, services.AdvanceTrackingCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		Target:  status,
		Note:    req.Note,
	})
	if err != nil {
		writeServiceError(ctx, w, "tracking.advance", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildTrackingResponse(tracking))
}
