package sqlstore

import (
	"context"

	"github.com/style-suite/api/internal/repositories"
)

type registry struct {
	store  *Store
	health repositories.HealthRepository
}

var _ repositories.Registry = (*registry)(nil)

// NewRegistry exposes the SQL repositories behind the repositories.Registry interface.
func NewRegistry(store *Store, health repositories.HealthRepository) repositories.Registry {
	return &registry{store: store, health: health}
}

func (r *registry) Close(ctx context.Context) error {
	return r.store.Close(ctx)
}

func (r *registry) Products() repositories.ProductRepository { return r.store.Products() }

func (r *registry) Inventory() repositories.InventoryRepository { return r.store.Inventory() }

func (r *registry) Orders() repositories.OrderRepository { return r.store.Orders() }

func (r *registry) Tracking() repositories.TrackingRepository { return r.store.Tracking() }

func (r *registry) APIKeys() repositories.APIKeyRepository { return r.store.APIKeys() }

func (r *registry) Users() repositories.UserRepository { return r.store.Users() }

func (r *registry) Health() repositories.HealthRepository { return r.health }
