package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/style-suite/api/internal/domain"
	"github.com/style-suite/api/internal/platform/textutil"
	"github.com/style-suite/api/internal/repositories"
)

const (
	trackingIDPrefix = "trk_"
	stepIDPrefix     = "stp_"

	// DefaultDeliveryWindow is added to the creation time to form the initial delivery estimate.
	DefaultDeliveryWindow = 7 * 24 * time.Hour

	maxTrackingNoteLength = 500
)

type stepCopy struct {
	title       string
	description string
}

var (
	trackingTransitions = map[domain.OrderStatus][]domain.OrderStatus{
		domain.OrderStatusCreated:    {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
		domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
		domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
	}

	trackingSteps = map[domain.OrderStatus]stepCopy{
		domain.OrderStatusCreated:    {"Order Placed", "Your order has been received and is being processed"},
		domain.OrderStatusProcessing: {"Processing", "Your order is being prepared for shipment"},
		domain.OrderStatusShipped:    {"Shipped", "Your order is on its way"},
		domain.OrderStatusDelivered:  {"Delivered", "Your order has been delivered"},
		domain.OrderStatusCancelled:  {"Cancelled", "Your order has been cancelled"},
	}
)

// CanTransition reports whether tracking may move from one status to another.
func CanTransition(from, to domain.OrderStatus) bool {
	for _, next := range trackingTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TrackingServiceDeps bundles collaborators for the tracking state machine.
type TrackingServiceDeps struct {
	Tracking       repositories.TrackingRepository
	Events         OrderEventPublisher
	Clock          func() time.Time
	IDGenerator    func() string
	DeliveryWindow time.Duration
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type trackingService struct {
	repo           repositories.TrackingRepository
	events         OrderEventPublisher
	clock          func() time.Time
	newID          func() string
	deliveryWindow time.Duration
	logger         func(context.Context, string, map[string]any)
}

var _ TrackingService = (*trackingService)(nil)

// NewTrackingService constructs the tracking state machine.
func NewTrackingService(deps TrackingServiceDeps) (TrackingService, error) {
	if deps.Tracking == nil {
		return nil, errors.New("tracking service: tracking repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	window := deps.DeliveryWindow
	if window <= 0 {
		window = DefaultDeliveryWindow
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &trackingService{
		repo:   deps.Tracking,
		events: deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:          idGen,
		deliveryWindow: window,
		logger:         logger,
	}, nil
}

// Seed builds the initial tracking record persisted together with a new order.
func (s *trackingService) Seed(orderID string, now time.Time) OrderTracking {
	now = now.UTC()
	placed := trackingSteps[domain.OrderStatusCreated]
	return OrderTracking{
		ID:                trackingIDPrefix + s.newID(),
		OrderID:           orderID,
		Status:            domain.OrderStatusCreated,
		CurrentStep:       0,
		EstimatedDelivery: now.Add(s.deliveryWindow),
		Steps: []TrackingStep{{
			ID:          stepIDPrefix + s.newID(),
			Title:       placed.title,
			Description: placed.description,
			Completed:   true,
			Timestamp:   now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *trackingService) Advance(ctx context.Context, cmd AdvanceTrackingCommand) (OrderTracking, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return OrderTracking{}, validationError("order id is required")
	}
	target := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(string(cmd.Target))))
	copyText, known := trackingSteps[target]
	if !known {
		return OrderTracking{}, validationError("unknown status %q", cmd.Target)
	}

	current, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		return OrderTracking{}, mapRepositoryError("tracking.find", err)
	}
	if !CanTransition(current.Status, target) {
		return OrderTracking{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, target)
	}

	now := s.clock()
	description := copyText.description
	if note := textutil.CleanText(cmd.Note, maxTrackingNoteLength); note != "" {
		description = note
	}

	updated, err := s.repo.AppendStep(ctx, repositories.TrackingTransition{
		OrderID: orderID,
		From:    current.Status,
		To:      target,
		Step: domain.TrackingStep{
			ID:          stepIDPrefix + s.newID(),
			Title:       copyText.title,
			Description: description,
			Completed:   true,
			Timestamp:   now,
		},
		At: now,
	})
	if err != nil {
		if isRepoConflict(err) {
			return OrderTracking{}, fmt.Errorf("%w: %s changed concurrently", ErrInvalidTransition, orderID)
		}
		return OrderTracking{}, mapRepositoryError("tracking.advance", err)
	}

	s.publish(ctx, OrderEvent{
		Type:           OrderEventStatusChanged,
		OrderID:        orderID,
		Status:         string(target),
		PreviousStatus: string(current.Status),
		OccurredAt:     now,
	})
	return updated, nil
}

func (s *trackingService) publish(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "tracking.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"status": event.Status,
			"error":  err.Error(),
		})
	}
}
