package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/style-suite/api/internal/services"
)

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

type stubOrderService struct {
	createFn   func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error)
	getFn      func(ctx context.Context, orderNumber string) (services.Order, error)
	listFn     func(ctx context.Context, userID string) ([]services.Order, error)
	createCall int
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	s.createCall++
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, nil
}

func (s *stubOrderService) GetByOrderNumber(ctx context.Context, orderNumber string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderNumber)
	}
	return services.Order{}, services.ErrNotFound
}

func (s *stubOrderService) ListForUser(ctx context.Context, userID string) ([]services.Order, error) {
	if s.listFn != nil {
		return s.listFn(ctx, userID)
	}
	return nil, nil
}

type stubAPIKeyService struct {
	authenticateFn func(ctx context.Context, rawKey string) (services.APIKey, error)
	createFn       func(ctx context.Context, cmd services.CreateAPIKeyCommand) (services.APIKey, error)
	listFn         func(ctx context.Context) ([]services.APIKey, error)
	deleteFn       func(ctx context.Context, keyID string) error
	setActiveFn    func(ctx context.Context, keyID string, active bool) (services.APIKey, error)
}

func (s *stubAPIKeyService) Authenticate(ctx context.Context, rawKey string) (services.APIKey, error) {
	if s.authenticateFn != nil {
		return s.authenticateFn(ctx, rawKey)
	}
	return services.APIKey{}, services.ErrUnauthenticated
}

func (s *stubAPIKeyService) Create(ctx context.Context, cmd services.CreateAPIKeyCommand) (services.APIKey, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.APIKey{}, nil
}

func (s *stubAPIKeyService) List(ctx context.Context) ([]services.APIKey, error) {
	if s.listFn != nil {
		return s.listFn(ctx)
	}
	return nil, nil
}

func (s *stubAPIKeyService) Delete(ctx context.Context, keyID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, keyID)
	}
	return nil
}

func (s *stubAPIKeyService) SetActive(ctx context.Context, keyID string, active bool) (services.APIKey, error) {
	if s.setActiveFn != nil {
		return s.setActiveFn(ctx, keyID, active)
	}
	return services.APIKey{}, nil
}

type stubTrackingService struct {
	advanceFn func(ctx context.Context, cmd services.AdvanceTrackingCommand) (services.OrderTracking, error)
}

func (s *stubTrackingService) Seed(orderID string, now time.Time) services.OrderTracking {
	return services.OrderTracking{OrderID: orderID, CreatedAt: now}
}

func (s *stubTrackingService) Advance(ctx context.Context, cmd services.AdvanceTrackingCommand) (services.OrderTracking, error) {
	if s.advanceFn != nil {
		return s.advanceFn(ctx, cmd)
	}
	return services.OrderTracking{}, nil
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

var (
	_ services.SystemService   = (*stubSystemService)(nil)
	_ services.OrderService    = (*stubOrderService)(nil)
	_ services.APIKeyService   = (*stubAPIKeyService)(nil)
	_ services.TrackingService = (*stubTrackingService)(nil)
)
