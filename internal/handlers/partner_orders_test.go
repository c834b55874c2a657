package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/style-suite/api/internal/domain"
	"github.com/style-suite/api/internal/services"
)

const partnerOrderBody = `{"userId":"","items":[{"productId":"p1","quantity":2}],` +
	`"shippingAddress":{"street":"9 Dock Rd","city":"Kochi","state":"KL","zipCode":"682001"},` +
	`"paymentMethod":"upi","customerName":"Bo","customerEmail":"bo@example.com","customerPhone":"+91 900"}`

func activeKeyService() *stubAPIKeyService {
	return &stubAPIKeyService{
		authenticateFn: func(_ context.Context, raw string) (services.APIKey, error) {
			if raw != "live-key" {
				return services.APIKey{}, fmt.Errorf("%w: invalid api key", services.ErrUnauthenticated)
			}
			return services.APIKey{ID: "key_1", Key: raw, Active: true}, nil
		},
	}
}

func newPartnerRouter(h *PartnerOrderHandlers) chi.Router {
	r := chi.NewRouter()
	r.Route("/api/v1", h.Routes)
	return r
}

func TestPartnerOrders_CreateReturnsReducedProjection(t *testing.T) {
	var got services.CreateOrderCommand
	orders := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			got = cmd
			order := sampleOrder()
			order.Source = domain.OrderSourcePartner
			order.PaymentStatus = domain.PaymentStatusPaid
			return order, nil
		},
	}
	router := newPartnerRouter(NewPartnerOrderHandlers(activeKeyService(), orders))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(partnerOrderBody))
	req.Header.Set("x-api-key", "live-key")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if got.Caller != domain.PartnerCaller("key_1") {
		t.Fatalf("expected partner caller, got %+v", got.Caller)
	}
	if got.Contact.Phone != "+91 900" || got.PaymentMethod != "upi" || got.ShippingAddress.City != "Kochi" {
		t.Fatalf("unexpected command %+v", got)
	}

	body := decodeBody(t, rr)
	if body["success"] != true {
		t.Fatalf("expected success flag, got %v", body)
	}
	order, ok := body["order"].(map[string]any)
	if !ok {
		t.Fatalf("expected order object, got %v", body["order"])
	}
	for _, field := range []string{"id", "orderNumber", "total", "status", "paymentStatus", "createdAt", "items"} {
		if _, ok := order[field]; !ok {
			t.Fatalf("expected %s in projection, got %v", field, order)
		}
	}
	for _, field := range []string{"tracking", "shippingAddress", "customerEmail", "subtotal"} {
		if _, ok := order[field]; ok {
			t.Fatalf("projection must not expose %s", field)
		}
	}
	if order["paymentStatus"] != "PAID" {
		t.Fatalf("unexpected payment status %v", order["paymentStatus"])
	}
}

func TestPartnerOrders_ExplicitUserIDIsForwarded(t *testing.T) {
	var got services.CreateOrderCommand
	orders := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			got = cmd
			return sampleOrder(), nil
		},
	}
	router := newPartnerRouter(NewPartnerOrderHandlers(activeKeyService(), orders))

	payload := strings.Replace(partnerOrderBody, `"userId":""`, `"userId":" user-42 "`, 1)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(payload))
	req.Header.Set("X-API-Key", "live-key")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if got.UserID != "user-42" {
		t.Fatalf("expected trimmed user id, got %q", got.UserID)
	}
}

func TestPartnerOrders_RejectsBadKeysBeforeOrderWork(t *testing.T) {
	cases := []struct {
		name   string
		header string
		keys   *stubAPIKeyService
	}{
		{name: "missing", header: "", keys: activeKeyService()},
		{name: "unknown", header: "nope", keys: activeKeyService()},
		{
			name:   "inactive",
			header: "old-key",
			keys: &stubAPIKeyService{authenticateFn: func(context.Context, string) (services.APIKey, error) {
				return services.APIKey{}, fmt.Errorf("%w: api key is inactive", services.ErrUnauthenticated)
			}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orders := &stubOrderService{}
			router := newPartnerRouter(NewPartnerOrderHandlers(tc.keys, orders))

			req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(partnerOrderBody))
			if tc.header != "" {
				req.Header.Set("x-api-key", tc.header)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
			if decodeBody(t, rr)["error"] != "unauthenticated" {
				t.Fatalf("expected unauthenticated, got %s", rr.Body.String())
			}
			if orders.createCall != 0 {
				t.Fatalf("expected no order work, got %d calls", orders.createCall)
			}
		})
	}
}

func TestPartnerOrders_RateLimitPerKey(t *testing.T) {
	keys := &stubAPIKeyService{
		authenticateFn: func(_ context.Context, raw string) (services.APIKey, error) {
			return services.APIKey{ID: "key_" + raw, Active: true}, nil
		},
	}
	orders := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			return sampleOrder(), nil
		},
	}
	now := handlerNow
	router := newPartnerRouter(NewPartnerOrderHandlers(keys, orders, WithPartnerRateLimit(2, func() time.Time { return now })))

	send := func(key string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(partnerOrderBody))
		req.Header.Set("x-api-key", key)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr.Code
	}

	if send("a") != http.StatusCreated || send("a") != http.StatusCreated {
		t.Fatalf("expected first two requests to pass")
	}
	if code := send("a"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := send("b"); code != http.StatusCreated {
		t.Fatalf("expected separate bucket per key, got %d", code)
	}

	now = now.Add(time.Minute)
	if code := send("a"); code != http.StatusCreated {
		t.Fatalf("expected window reset, got %d", code)
	}
	if orders.createCall != 4 {
		t.Fatalf("expected 4 orders, got %d", orders.createCall)
	}
}

func TestPartnerOrders_StockConflict(t *testing.T) {
	orders := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			return services.Order{}, &services.ProductError{Kind: services.ErrInsufficientStock, ProductID: "p1", Requested: 2, Available: 0}
		},
	}
	router := newPartnerRouter(NewPartnerOrderHandlers(activeKeyService(), orders))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(partnerOrderBody))
	req.Header.Set("x-api-key", "live-key")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error"] != "insufficient_stock" || body["available"] != float64(0) {
		t.Fatalf("unexpected body %v", body)
	}
}
