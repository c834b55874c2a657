package repositories

import (
	"context"
	"time"

	domain "github.com/style-suite/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Inventory() InventoryRepository
	Orders() OrderRepository
	Tracking() TrackingRepository
	APIKeys() APIKeyRepository
	Users() UserRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductRepository reads catalog entries. Inactive products are returned; callers decide.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
}

// InventoryLine is one aggregated stock movement.
type InventoryLine struct {
	ProductID string
	Quantity  int
}

// InventoryRepository mutates stock. Reserve must apply every line or none and must never drive stock
// below zero; it returns the products as read inside the reservation so prices are consistent with
// the decremented stock.
type InventoryRepository interface {
	Reserve(ctx context.Context, lines []InventoryLine) (map[string]domain.Product, error)
	Restore(ctx context.Context, lines []InventoryLine) error
}

// OrderRepository persists orders. Insert writes the order, its items and its tracking seed as one
// unit and returns a conflict error when the order number already exists.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	// ListByUser returns the user's orders newest first.
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
}

// TrackingTransition describes a status change guarded by the expected current status.
type TrackingTransition struct {
	OrderID string
	From    domain.OrderStatus
	To      domain.OrderStatus
	Step    domain.TrackingStep
	At      time.Time
}

// TrackingRepository stores fulfillment tracking. AppendStep returns a conflict error when the
// tracking status no longer equals From.
type TrackingRepository interface {
	FindByOrderID(ctx context.Context, orderID string) (domain.OrderTracking, error)
	AppendStep(ctx context.Context, transition TrackingTransition) (domain.OrderTracking, error)
}

// APIKeyRepository stores partner API keys.
type APIKeyRepository interface {
	Insert(ctx context.Context, key domain.APIKey) error
	FindByKey(ctx context.Context, key string) (domain.APIKey, error)
	// List returns keys newest first.
	List(ctx context.Context) ([]domain.APIKey, error)
	Delete(ctx context.Context, keyID string) error
	SetActive(ctx context.Context, keyID string, active bool, updatedAt time.Time) (domain.APIKey, error)
	TouchLastUsed(ctx context.Context, keyID string, usedAt time.Time) error
}

// UserRepository resolves user records.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.User, error)
	// UpsertGuest inserts the user unless one with the same e-mail exists, returning the stored record
	// either way.
	UpsertGuest(ctx context.Context, user domain.User) (domain.User, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
