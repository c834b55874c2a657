package services

import (
	"context"
	"time"

	domain "github.com/style-suite/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Product            = domain.Product
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderLineRequest   = domain.OrderLineRequest
	OrderStatus        = domain.OrderStatus
	OrderTracking      = domain.OrderTracking
	TrackingStep       = domain.TrackingStep
	PricingBreakdown   = domain.PricingBreakdown
	PricingPolicy      = domain.PricingPolicy
	APIKey             = domain.APIKey
	User               = domain.User
	Caller             = domain.Caller
	Address            = domain.Address
	CustomerContact    = domain.CustomerContact
	SystemHealthReport = domain.SystemHealthReport
)

// CatalogReader resolves live product records.
type CatalogReader interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
}

// Pricer computes order totals from priced lines.
type Pricer interface {
	Price(items []OrderItem) (PricingBreakdown, error)
}

// InventoryService reserves and restores stock for order lines.
type InventoryService interface {
	// Reserve decrements stock for every line or for none and returns the lines priced at the
	// catalog price read inside the reservation.
	Reserve(ctx context.Context, lines []OrderLineRequest) ([]OrderItem, error)
	// Release restores stock previously taken by Reserve.
	Release(ctx context.Context, items []OrderItem) error
}

// OrderService assembles and reads orders.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetByOrderNumber(ctx context.Context, orderNumber string) (Order, error)
	ListForUser(ctx context.Context, userID string) ([]Order, error)
}

// TrackingService owns the fulfillment state machine.
type TrackingService interface {
	Seed(orderID string, now time.Time) OrderTracking
	Advance(ctx context.Context, cmd AdvanceTrackingCommand) (OrderTracking, error)
}

// APIKeyService authenticates partner calls and manages their keys.
type APIKeyService interface {
	Authenticate(ctx context.Context, rawKey string) (APIKey, error)
	Create(ctx context.Context, cmd CreateAPIKeyCommand) (APIKey, error)
	List(ctx context.Context) ([]APIKey, error)
	Delete(ctx context.Context, keyID string) error
	SetActive(ctx context.Context, keyID string, active bool) (APIKey, error)
}

// UserService resolves order owners that are not session users.
type UserService interface {
	ResolveGuest(ctx context.Context, cmd ResolveGuestCommand) (User, error)
}

// SystemService exposes operational metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderEventPublisher delivers order lifecycle notifications to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderNumberGenerator produces public order numbers.
type OrderNumberGenerator interface {
	Next(now time.Time) (string, error)
}

// CreateOrderCommand is the gateway-independent order request.
type CreateOrderCommand struct {
	Caller Caller
	// UserID optionally names an existing owner for partner orders.
	UserID          string
	Items           []OrderLineRequest
	ShippingAddress Address
	Contact         CustomerContact
	PaymentMethod   string
	Notes           string
}

// AdvanceTrackingCommand moves an order's tracking to Target.
type AdvanceTrackingCommand struct {
	OrderID string
	Target  OrderStatus
	Note    string
}

// CreateAPIKeyCommand describes a new partner key.
type CreateAPIKeyCommand struct {
	Name        string
	Description string
}

// ResolveGuestCommand identifies a guest buyer by e-mail.
type ResolveGuestCommand struct {
	Email string
	Name  string
	Phone string
}

const (
	OrderEventCreated       = "order.created"
	OrderEventStatusChanged = "order.status_changed"
)

// OrderEvent is the payload published for order lifecycle changes.
type OrderEvent struct {
	Type           string    `json:"type"`
	OrderID        string    `json:"orderId"`
	OrderNumber    string    `json:"orderNumber,omitempty"`
	UserID         string    `json:"userId,omitempty"`
	Source         string    `json:"source,omitempty"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	Total          int64     `json:"total,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}
