package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/style-suite/api/internal/domain"
	"github.com/style-suite/api/internal/platform/auth"
	"github.com/style-suite/api/internal/platform/httpx"
	"github.com/style-suite/api/internal/services"
)

// OrderHandlers serves the session gateway, the public tracking lookup and the caller's order list.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler
	limiter     rateLimiter
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithOrderIdempotency wraps order creation with the Idempotency-Key middleware.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// WithOrderRateLimit throttles order creation per user. Zero disables the limit.
func WithOrderRateLimit(perMinute int, clock func() time.Time) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.limiter = newFixedWindowLimiter(perMinute, time.Minute, clock)
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/track/{orderNumber}", h.trackOrder)

	create := r.With(h.sessionMiddleware()...)
	create.Post("/", h.createOrder)
}

// MeRoutes registers the /me endpoints.
func (h *OrderHandlers) MeRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireSession())
	}
	r.Get("/orders", h.listMyOrders)
}

func (h *OrderHandlers) sessionMiddleware() []func(http.Handler) http.Handler {
	var chain []func(http.Handler) http.Handler
	if h.authn != nil {
		chain = append(chain, h.authn.RequireSession())
	}
	chain = append(chain, rateLimit(h.limiter, func(r *http.Request) string {
		if identity, ok := auth.IdentityFromContext(r.Context()); ok {
			return "user:" + identity.UserID
		}
		return ""
	}))
	if h.idempotency != nil {
		chain = append(chain, h.idempotency)
	}
	return chain
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UserID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	order, err := h.orders.CreateOrder(ctx, req.command(domain.SessionCaller(identity.UserID)))
	if err != nil {
		writeServiceError(ctx, w, "orders.create", err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildOrderResponse(order))
}

func (h *OrderHandlers) trackOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	number := strings.TrimSpace(chi.URLParam(r, "orderNumber"))
	if number == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order number is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetByOrderNumber(ctx, number)
	if err != nil {
		writeServiceError(ctx, w, "orders.track", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderResponse(order))
}

func (h *OrderHandlers) listMyOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UserID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orders, err := h.orders.ListForUser(ctx, identity.UserID)
	if err != nil {
		writeServiceError(ctx, w, "orders.list_mine", err)
		return
	}

	items := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderResponse(order))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"orders": items})
}
