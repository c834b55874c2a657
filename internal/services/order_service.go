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
	orderIDPrefix = "ord_"

	// DefaultOrderNumberAttempts bounds insert retries after an order number collision.
	DefaultOrderNumberAttempts = 5
	// DefaultOrderCreateTimeout bounds the whole creation saga once it has started.
	DefaultOrderCreateTimeout = 15 * time.Second

	maxNotesLength         = 1000
	maxPaymentMethodLength = 32
	maxAddressFieldLength  = 200
	maxPhoneLength         = 32
)

// OrderServiceDeps bundles the collaborators of the order assembler.
type OrderServiceDeps struct {
	Orders    repositories.OrderRepository
	Catalog   CatalogReader
	Inventory InventoryService
	Pricing   Pricer
	Tracking  TrackingService
	Users     UserService
	Numbers   OrderNumberGenerator
	Events    OrderEventPublisher

	Clock          func() time.Time
	IDGenerator    func() string
	NumberAttempts int
	CreateTimeout  time.Duration
	// Observe is called with the order source after every committed order.
	Observe func(source string)
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	catalog   CatalogReader
	inventory InventoryService
	pricing   Pricer
	tracking  TrackingService
	users     UserService
	numbers   OrderNumberGenerator
	events    OrderEventPublisher

	clock         func() time.Time
	newID         func() string
	attempts      int
	createTimeout time.Duration
	observe       func(string)
	logger        func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService assembles the order pipeline.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Catalog == nil:
		return nil, errors.New("order service: catalog reader is required")
	case deps.Inventory == nil:
		return nil, errors.New("order service: inventory service is required")
	case deps.Pricing == nil:
		return nil, errors.New("order service: pricing engine is required")
	case deps.Tracking == nil:
		return nil, errors.New("order service: tracking service is required")
	case deps.Users == nil:
		return nil, errors.New("order service: user service is required")
	}

	numbers := deps.Numbers
	if numbers == nil {
		numbers = NewRandomOrderNumbers(nil)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	attempts := deps.NumberAttempts
	if attempts <= 0 {
		attempts = DefaultOrderNumberAttempts
	}
	timeout := deps.CreateTimeout
	if timeout <= 0 {
		timeout = DefaultOrderCreateTimeout
	}
	observe := deps.Observe
	if observe == nil {
		observe = func(string) {}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:    deps.Orders,
		catalog:   deps.Catalog,
		inventory: deps.Inventory,
		pricing:   deps.Pricing,
		tracking:  deps.Tracking,
		users:     deps.Users,
		numbers:   numbers,
		events:    deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:         idGen,
		attempts:      attempts,
		createTimeout: timeout,
		observe:       observe,
		logger:        logger,
	}, nil
}

// orderDraft is a validated, sanitised CreateOrderCommand.
type orderDraft struct {
	source        domain.OrderSource
	lines         []OrderLineRequest
	address       Address
	contact       CustomerContact
	paymentMethod string
	notes         string
}

// CreateOrder reserves stock, prices the reserved lines and persists the order with its tracking seed.
// Once started it runs to completion or full compensation regardless of the caller's context.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	draft, err := s.prepare(cmd)
	if err != nil {
		return Order{}, err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.createTimeout)
	defer cancel()

	if err := s.preflight(ctx, draft.lines); err != nil {
		return Order{}, err
	}

	userID, err := s.resolveOwner(ctx, cmd, &draft)
	if err != nil {
		return Order{}, err
	}

	items, err := s.inventory.Reserve(ctx, draft.lines)
	if err != nil {
		return Order{}, err
	}

	pricing, err := s.pricing.Price(items)
	if err != nil {
		s.compensate(ctx, items, "pricing_failed", err)
		return Order{}, err
	}

	now := s.clock()
	orderID := orderIDPrefix + s.newID()
	for i := range items {
		items[i].OrderID = orderID
	}
	tracking := s.tracking.Seed(orderID, now)

	order := Order{
		ID:              orderID,
		UserID:          userID,
		Items:           items,
		Subtotal:        pricing.Subtotal,
		Shipping:        pricing.Shipping,
		Tax:             pricing.Tax,
		Total:           pricing.Total,
		Status:          domain.OrderStatusCreated,
		PaymentMethod:   draft.paymentMethod,
		PaymentStatus:   domain.PaymentStatusFor(draft.paymentMethod),
		Contact:         draft.contact,
		ShippingAddress: draft.address,
		Notes:           draft.notes,
		Source:          draft.source,
		APIKeyID:        cmd.Caller.APIKeyID,
		Tracking:        &tracking,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.insertWithFreshNumber(ctx, &order); err != nil {
		s.compensate(ctx, items, "insert_failed", err)
		return Order{}, err
	}

	s.observe(string(order.Source))
	s.logger(ctx, "order.created", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"userId":      order.UserID,
		"source":      string(order.Source),
		"total":       order.Total,
	})
	s.publish(ctx, OrderEvent{
		Type:        OrderEventCreated,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Source:      string(order.Source),
		Status:      string(order.Status),
		Total:       order.Total,
		OccurredAt:  now,
	})
	return order, nil
}

func (s *orderService) GetByOrderNumber(ctx context.Context, orderNumber string) (Order, error) {
	number := strings.TrimSpace(orderNumber)
	if number == "" {
		return Order{}, validationError("order number is required")
	}
	order, err := s.orders.FindByOrderNumber(ctx, number)
	if err != nil {
		return Order{}, mapRepositoryError("orders.get_by_number", err)
	}
	return order, nil
}

func (s *orderService) ListForUser(ctx context.Context, userID string) ([]Order, error) {
	id := strings.TrimSpace(userID)
	if id == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrUnauthenticated)
	}
	orders, err := s.orders.ListByUser(ctx, id)
	if err != nil {
		return nil, mapRepositoryError("orders.list_for_user", err)
	}
	return orders, nil
}

func (s *orderService) prepare(cmd CreateOrderCommand) (orderDraft, error) {
	var draft orderDraft
	switch cmd.Caller.Kind {
	case domain.CallerSession:
		if strings.TrimSpace(cmd.Caller.UserID) == "" {
			return draft, fmt.Errorf("%w: session user is required", ErrUnauthenticated)
		}
		draft.source = domain.OrderSourceSession
	case domain.CallerPartner:
		if strings.TrimSpace(cmd.Caller.APIKeyID) == "" {
			return draft, fmt.Errorf("%w: api key is required", ErrUnauthenticated)
		}
		draft.source = domain.OrderSourcePartner
	default:
		return draft, fmt.Errorf("%w: unknown caller", ErrUnauthenticated)
	}

	lines, err := normaliseOrderLines(cmd.Items)
	if err != nil {
		return draft, err
	}
	draft.lines = lines

	draft.address = Address{
		Street:  textutil.CleanText(cmd.ShippingAddress.Street, maxAddressFieldLength),
		City:    textutil.CleanText(cmd.ShippingAddress.City, maxAddressFieldLength),
		State:   textutil.CleanText(cmd.ShippingAddress.State, maxAddressFieldLength),
		ZipCode: textutil.CleanText(cmd.ShippingAddress.ZipCode, maxAddressFieldLength),
		Country: textutil.CleanText(cmd.ShippingAddress.Country, maxAddressFieldLength),
	}
	if draft.source == domain.OrderSourcePartner {
		if missing := missingAddressFields(draft.address); len(missing) > 0 {
			return draft, validationError("shipping address is incomplete: %s", strings.Join(missing, ", "))
		}
	}

	method := strings.ToUpper(strings.TrimSpace(cmd.PaymentMethod))
	if method == "" {
		method = domain.PaymentMethodCOD
	}
	if len(method) > maxPaymentMethodLength {
		return draft, validationError("payment method is too long")
	}
	draft.paymentMethod = method

	draft.contact = CustomerContact{
		Name:  textutil.CleanText(cmd.Contact.Name, maxNameLength),
		Email: textutil.NormalizeEmail(cmd.Contact.Email),
		Phone: textutil.CleanText(cmd.Contact.Phone, maxPhoneLength),
	}
	if draft.contact.Email != "" && !textutil.LooksLikeEmail(draft.contact.Email) {
		return draft, validationError("customer email is invalid")
	}
	if draft.source == domain.OrderSourcePartner && draft.contact.Name == "" {
		draft.contact.Name = defaultGuestName
	}
	draft.notes = textutil.CleanText(cmd.Notes, maxNotesLength)
	return draft, nil
}

func missingAddressFields(address Address) []string {
	var missing []string
	if address.Street == "" {
		missing = append(missing, "street")
	}
	if address.City == "" {
		missing = append(missing, "city")
	}
	if address.State == "" {
		missing = append(missing, "state")
	}
	if address.ZipCode == "" {
		missing = append(missing, "zipCode")
	}
	return missing
}

// preflight rejects unknown products and obvious shortages before any write. The reservation
// re-checks both inside its transaction.
func (s *orderService) preflight(ctx context.Context, lines []OrderLineRequest) error {
	for _, line := range aggregateInventoryLines(lines) {
		product, err := s.catalog.GetProduct(ctx, line.ProductID)
		if err != nil {
			return err
		}
		if product.Stock < line.Quantity {
			return &ProductError{Kind: ErrInsufficientStock, ProductID: product.ID, Requested: line.Quantity, Available: product.Stock}
		}
	}
	return nil
}

func (s *orderService) resolveOwner(ctx context.Context, cmd CreateOrderCommand, draft *orderDraft) (string, error) {
	if draft.source == domain.OrderSourceSession {
		return strings.TrimSpace(cmd.Caller.UserID), nil
	}
	if id := strings.TrimSpace(cmd.UserID); id != "" {
		return id, nil
	}
	if draft.contact.Email == "" {
		return "", validationError("userId or customer email is required")
	}
	user, err := s.users.ResolveGuest(ctx, ResolveGuestCommand{
		Email: draft.contact.Email,
		Name:  draft.contact.Name,
		Phone: draft.contact.Phone,
	})
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

func (s *orderService) insertWithFreshNumber(ctx context.Context, order *Order) error {
	for attempt := 1; attempt <= s.attempts; attempt++ {
		number, err := s.numbers.Next(order.CreatedAt)
		if err != nil {
			return err
		}
		order.OrderNumber = number

		err = s.orders.Insert(ctx, *order)
		if err == nil {
			return nil
		}
		if !isRepoConflict(err) {
			return mapRepositoryError("orders.insert", err)
		}
		s.logger(ctx, "order.number.collision", map[string]any{
			"orderNumber": number,
			"attempt":     attempt,
		})
	}
	return fmt.Errorf("%w: no unique order number after %d attempts", ErrOrderNumberCollision, s.attempts)
}

// compensate gives reserved stock back after a failed creation.
func (s *orderService) compensate(ctx context.Context, items []OrderItem, reason string, cause error) {
	if err := s.inventory.Release(ctx, items); err != nil {
		s.logger(ctx, "order.compensation.failed", map[string]any{
			"reason": reason,
			"cause":  cause.Error(),
			"error":  err.Error(),
		})
		return
	}
	s.logger(ctx, "order.compensated", map[string]any{
		"reason": reason,
		"cause":  cause.Error(),
		"items":  len(items),
	})
}

func (s *orderService) publish(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}
