package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/style-suite/api/internal/repositories"
)

const (
	itemIDPrefix = "itm_"

	ReservationResultReserved     = "reserved"
	ReservationResultInsufficient = "insufficient_stock"
	ReservationResultNotFound     = "product_not_found"
	ReservationResultError        = "error"
	ReservationResultReleased     = "released"
)

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Inventory   repositories.InventoryRepository
	Timeout     time.Duration
	IDGenerator func() string
	// Observe receives one result label per reservation attempt.
	Observe func(result string)
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	repo    repositories.InventoryRepository
	timeout time.Duration
	newID   func() string
	observe func(string)
	logger  func(context.Context, string, map[string]any)
}

var _ InventoryService = (*inventoryService)(nil)

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory service: inventory repository is required")
	}

	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	observe := deps.Observe
	if observe == nil {
		observe = func(string) {}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &inventoryService{
		repo:    deps.Inventory,
		timeout: timeout,
		newID:   idGen,
		observe: observe,
		logger:  logger,
	}, nil
}

func (s *inventoryService) Reserve(ctx context.Context, lines []OrderLineRequest) ([]OrderItem, error) {
	normalised, err := normaliseOrderLines(lines)
	if err != nil {
		return nil, err
	}

	// A reservation either commits or rolls back; the caller going away must not interrupt it.
	reserveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	products, err := s.repo.Reserve(reserveCtx, aggregateInventoryLines(normalised))
	if err != nil {
		mapped := mapRepositoryError("inventory.reserve", err)
		s.observe(reservationResult(mapped))
		if !errors.Is(mapped, ErrInsufficientStock) && !errors.Is(mapped, ErrProductNotFound) {
			s.logger(ctx, "inventory.reserve_failed", map[string]any{
				"lines": len(normalised),
				"error": err.Error(),
			})
		}
		return nil, mapped
	}

	items := make([]OrderItem, 0, len(normalised))
	for _, line := range normalised {
		product, ok := products[line.ProductID]
		if !ok {
			// The repository reserved stock it did not report; undo before failing.
			s.restore(ctx, aggregateInventoryLines(normalised))
			s.observe(ReservationResultError)
			return nil, fmt.Errorf("inventory.reserve: product %s missing from reservation result", line.ProductID)
		}
		snapshot := product
		items = append(items, OrderItem{
			ID:        itemIDPrefix + s.newID(),
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: product.Price,
			Size:      line.Size,
			Color:     line.Color,
			Product:   &snapshot,
		})
	}

	s.observe(ReservationResultReserved)
	return items, nil
}

func (s *inventoryService) Release(ctx context.Context, items []OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	lines := make([]OrderLineRequest, 0, len(items))
	for _, item := range items {
		lines = append(lines, OrderLineRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	normalised, err := normaliseOrderLines(lines)
	if err != nil {
		return err
	}
	if err := s.restore(ctx, aggregateInventoryLines(normalised)); err != nil {
		return err
	}
	s.observe(ReservationResultReleased)
	return nil
}

func (s *inventoryService) restore(ctx context.Context, lines []repositories.InventoryLine) error {
	restoreCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if err := s.repo.Restore(restoreCtx, lines); err != nil {
		s.logger(ctx, "inventory.restore_failed", map[string]any{
			"lines": len(lines),
			"error": err.Error(),
		})
		return mapRepositoryError("inventory.restore", err)
	}
	return nil
}

func reservationResult(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		return ReservationResultInsufficient
	case errors.Is(err, ErrProductNotFound):
		return ReservationResultNotFound
	default:
		return ReservationResultError
	}
}

func normaliseOrderLines(lines []OrderLineRequest) ([]OrderLineRequest, error) {
	if len(lines) == 0 {
		return nil, validationError("at least one item is required")
	}
	result := make([]OrderLineRequest, 0, len(lines))
	for i, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" {
			return nil, validationError("items[%d]: productId is required", i)
		}
		if line.Quantity <= 0 {
			return nil, validationError("items[%d]: quantity must be positive", i)
		}
		result = append(result, OrderLineRequest{
			ProductID: id,
			Quantity:  line.Quantity,
			Size:      strings.TrimSpace(line.Size),
			Color:     strings.TrimSpace(line.Color),
		})
	}
	return result, nil
}

// aggregateInventoryLines sums quantities per product; variants of one product draw on the same stock.
func aggregateInventoryLines(lines []OrderLineRequest) []repositories.InventoryLine {
	totals := make(map[string]int, len(lines))
	for _, line := range lines {
		totals[line.ProductID] += line.Quantity
	}
	result := make([]repositories.InventoryLine, 0, len(totals))
	for id, qty := range totals {
		result = append(result, repositories.InventoryLine{ProductID: id, Quantity: qty})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ProductID < result[j].ProductID
	})
	return result
}
