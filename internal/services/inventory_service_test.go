package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/style-suite/api/internal/repositories"
)

type stubInventoryRepo struct {
	reserveFn func(ctx context.Context, lines []repositories.InventoryLine) (map[string]Product, error)
	restoreFn func(ctx context.Context, lines []repositories.InventoryLine) error
}

func (s *stubInventoryRepo) Reserve(ctx context.Context, lines []repositories.InventoryLine) (map[string]Product, error) {
	if s.reserveFn != nil {
		return s.reserveFn(ctx, lines)
	}
	return nil, errors.New("not implemented")
}

func (s *stubInventoryRepo) Restore(ctx context.Context, lines []repositories.InventoryLine) error {
	if s.restoreFn != nil {
		return s.restoreFn(ctx, lines)
	}
	return nil
}

func TestInventoryServiceReserveAggregatesAndPricesLines(t *testing.T) {
	var results []string
	repo := &stubInventoryRepo{reserveFn: func(ctx context.Context, lines []repositories.InventoryLine) (map[string]Product, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Fatalf("expected bounded context")
		}
		if len(lines) != 2 {
			t.Fatalf("expected 2 aggregated lines, got %+v", lines)
		}
		if lines[0].ProductID != "kurta" || lines[0].Quantity != 3 {
			t.Fatalf("unexpected first line %+v", lines[0])
		}
		if lines[1].ProductID != "tee" || lines[1].Quantity != 1 {
			t.Fatalf("unexpected second line %+v", lines[1])
		}
		return map[string]Product{
			"kurta": {ID: "kurta", Price: 1000, Active: true},
			"tee":   {ID: "tee", Price: 399, Active: true},
		}, nil
	}}

	svc, err := NewInventoryService(InventoryServiceDeps{
		Inventory:   repo,
		IDGenerator: func() string { return "testid" },
		Observe:     func(result string) { results = append(results, result) },
	})
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}

	items, err := svc.Reserve(context.Background(), []OrderLineRequest{
		{ProductID: "tee", Quantity: 1},
		{ProductID: "kurta", Quantity: 1, Size: "M"},
		{ProductID: " kurta ", Quantity: 2, Size: "L"},
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected one item per requested line, got %d", len(items))
	}
	if items[0].ProductID != "tee" || items[0].UnitPrice != 399 {
		t.Fatalf("unexpected first item %+v", items[0])
	}
	if items[2].ProductID != "kurta" || items[2].Size != "L" || items[2].UnitPrice != 1000 {
		t.Fatalf("unexpected third item %+v", items[2])
	}
	if items[1].ID != "itm_testid" || items[1].Product == nil {
		t.Fatalf("expected id and product snapshot, got %+v", items[1])
	}
	if len(results) != 1 || results[0] != ReservationResultReserved {
		t.Fatalf("unexpected observations %v", results)
	}
}

func TestInventoryServiceReserveValidatesInput(t *testing.T) {
	svc, err := NewInventoryService(InventoryServiceDeps{Inventory: &stubInventoryRepo{
		reserveFn: func(context.Context, []repositories.InventoryLine) (map[string]Product, error) {
			t.Fatalf("repository must not be called for invalid input")
			return nil, nil
		},
	}})
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}

	invalid := [][]OrderLineRequest{
		nil,
		{{ProductID: "", Quantity: 1}},
		{{ProductID: "p", Quantity: 0}},
		{{ProductID: "p", Quantity: -2}},
	}
	for _, lines := range invalid {
		if _, err := svc.Reserve(context.Background(), lines); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error for %+v, got %v", lines, err)
		}
	}
}

func TestInventoryServiceReserveMapsRepositoryErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		kind   error
		result string
	}{
		{
			name:   "insufficient",
			err:    repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, "tee", "short", nil).WithQuantities(2, 1),
			kind:   ErrInsufficientStock,
			result: ReservationResultInsufficient,
		},
		{
			name:   "missing",
			err:    repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, "tee", "gone", nil),
			kind:   ErrProductNotFound,
			result: ReservationResultNotFound,
		},
		{
			name:   "unavailable",
			err:    stubRepoError{unavailable: true},
			kind:   ErrUnavailable,
			result: ReservationResultError,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var observed string
			svc, err := NewInventoryService(InventoryServiceDeps{
				Inventory: &stubInventoryRepo{reserveFn: func(context.Context, []repositories.InventoryLine) (map[string]Product, error) {
					return nil, tc.err
				}},
				Observe: func(result string) { observed = result },
			})
			if err != nil {
				t.Fatalf("new inventory service: %v", err)
			}
			_, err = svc.Reserve(context.Background(), []OrderLineRequest{{ProductID: "tee", Quantity: 2}})
			if !errors.Is(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
			if observed != tc.result {
				t.Fatalf("expected result %s, got %s", tc.result, observed)
			}
			var productErr *ProductError
			if tc.kind == ErrInsufficientStock {
				if !errors.As(err, &productErr) || productErr.Available != 1 || productErr.Requested != 2 {
					t.Fatalf("expected quantities on product error, got %v", err)
				}
			}
		})
	}
}

func TestInventoryServiceReserveSurvivesCallerCancellation(t *testing.T) {
	repo := &stubInventoryRepo{reserveFn: func(ctx context.Context, _ []repositories.InventoryLine) (map[string]Product, error) {
		if ctx.Err() != nil {
			t.Fatalf("reservation context inherited caller cancellation")
		}
		return map[string]Product{"p": {ID: "p", Price: 10, Active: true}}, nil
	}}
	svc, err := NewInventoryService(InventoryServiceDeps{Inventory: repo, Timeout: time.Second})
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.Reserve(ctx, []OrderLineRequest{{ProductID: "p", Quantity: 1}}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
}

func TestInventoryServiceReleaseRestoresAggregatedLines(t *testing.T) {
	var restored []repositories.InventoryLine
	svc, err := NewInventoryService(InventoryServiceDeps{Inventory: &stubInventoryRepo{
		restoreFn: func(_ context.Context, lines []repositories.InventoryLine) error {
			restored = lines
			return nil
		},
	}})
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}

	err = svc.Release(context.Background(), []OrderItem{
		{ProductID: "b", Quantity: 1},
		{ProductID: "a", Quantity: 2},
		{ProductID: "b", Quantity: 4},
	})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	want := []repositories.InventoryLine{{ProductID: "a", Quantity: 2}, {ProductID: "b", Quantity: 5}}
	if len(restored) != len(want) || restored[0] != want[0] || restored[1] != want[1] {
		t.Fatalf("expected %+v got %+v", want, restored)
	}
}
