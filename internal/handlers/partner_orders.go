package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/style-suite/api/internal/domain"
	"github.com/style-suite/api/internal/platform/httpx"
	"github.com/style-suite/api/internal/platform/requestctx"
	"github.com/style-suite/api/internal/services"
)

const apiKeyHeader = "X-API-Key"

// PartnerOrderHandlers serves the API-key authenticated ingestion gateway.
type PartnerOrderHandlers struct {
	keys        services.APIKeyService
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler
	limiter     rateLimiter
}

// PartnerOrderOption customises PartnerOrderHandlers.
type PartnerOrderOption func(*PartnerOrderHandlers)

// WithPartnerIdempotency wraps partner order creation with the Idempotency-Key middleware.
func WithPartnerIdempotency(mw func(http.Handler) http.Handler) PartnerOrderOption {
	return func(h *PartnerOrderHandlers) {
		h.idempotency = mw
	}
}

// WithPartnerRateLimit throttles each API key independently. Zero disables the limit.
func WithPartnerRateLimit(perMinute int, clock func() time.Time) PartnerOrderOption {
	return func(h *PartnerOrderHandlers) {
		h.limiter = newFixedWindowLimiter(perMinute, time.Minute, clock)
	}
}

// NewPartnerOrderHandlers constructs the partner gateway.
func NewPartnerOrderHandlers(keys services.APIKeyService, orders services.OrderService, opts ...PartnerOrderOption) *PartnerOrderHandlers {
	h := &PartnerOrderHandlers{keys: keys, orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the partner endpoints under /api/v1.
func (h *PartnerOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(h.requireAPIKey)
	r.Use(rateLimit(h.limiter, func(r *http.Request) string {
		if caller, ok := requestctx.Caller(r.Context()); ok {
			return "key:" + caller.APIKeyID
		}
		return ""
	}))
	if h.idempotency != nil {
		r.Use(h.idempotency)
	}
	r.Post("/orders", h.createOrder)
}

// requireAPIKey rejects requests without an active key before any order work runs.
func (h *PartnerOrderHandlers) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if h.keys == nil {
			httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "api key authentication unavailable", http.StatusUnauthorized))
			return
		}
		raw := strings.TrimSpace(r.Header.Get(apiKeyHeader))
		if raw == "" {
			httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "API key required", http.StatusUnauthorized))
			return
		}

		key, err := h.keys.Authenticate(ctx, raw)
		if err != nil {
			writeServiceError(ctx, w, "partner.authenticate", err)
			return
		}

		ctx, _ = requestctx.WithCaller(ctx)
		requestctx.SetCaller(ctx, requestctx.CallerInfo{Kind: string(domain.CallerPartner), APIKeyID: key.ID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *PartnerOrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	caller, ok := requestctx.Caller(ctx)
	if !ok || caller.APIKeyID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "API key required", http.StatusUnauthorized))
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	cmd := req.command(domain.PartnerCaller(caller.APIKeyID))
	cmd.UserID = strings.TrimSpace(req.UserID)

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, "partner.orders.create", err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]any{
		"success": true,
		"order":   buildPartnerOrderResponse(order),
	})
}
