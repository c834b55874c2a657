package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/style-suite/api/internal/platform/config"
	"github.com/style-suite/api/internal/platform/observability"
	"github.com/style-suite/api/internal/repositories"
	"github.com/style-suite/api/internal/repositories/sqlstore"
	"github.com/style-suite/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Catalog   services.CatalogReader
	Inventory services.InventoryService
	Pricing   services.Pricer
	Tracking  services.TrackingService
	Users     services.UserService
	Orders    services.OrderService
	APIKeys   services.APIKeyService
	System    services.SystemService
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// Options carries the runtime collaborators that are not derived from configuration.
type Options struct {
	Logger  *zap.Logger
	Metrics *observability.Metrics
	// Events may be nil; order events are then dropped.
	Events services.OrderEventPublisher
	Build  services.BuildInfo
	Clock  func() time.Time
}

// NewContainer constructs the runtime dependencies over the given registry. Tests can pass a
// registry backed by a temporary SQLite database.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts Options) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, opts)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases the repository connections.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

// OpenRegistry opens the SQL store, applies migrations when enabled and registers the database
// ping alongside any extra readiness checks.
func OpenRegistry(ctx context.Context, cfg config.Config, extraChecks ...repositories.DependencyCheck) (repositories.Registry, error) {
	store, err := sqlstore.Open(ctx, sqlstore.Options{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		QueryTimeout:    cfg.Database.StorageTimeout,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := store.Migrate(); err != nil {
			_ = store.Close(ctx)
			return nil, err
		}
	}

	checks := append([]repositories.DependencyCheck{{
		Name:    "database",
		Timeout: time.Second,
		Check:   store.Ping,
	}}, extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		_ = store.Close(ctx)
		return nil, err
	}
	return sqlstore.NewRegistry(store, health), nil
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, opts Options) (Services, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	metrics := opts.Metrics

	var svc Services

	catalog, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products: reg.Products(),
		Timeout:  cfg.Database.StorageTimeout,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalog

	inventory, err := services.NewInventoryService(services.InventoryServiceDeps{
		Inventory: reg.Inventory(),
		Timeout:   cfg.Database.StorageTimeout,
		Observe:   metrics.ReservationResult,
		Logger:    observability.EventLogger(logger, "inventory"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventory

	pricing, err := services.NewPricingEngine(services.PricingPolicy{
		FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold,
		FlatShippingFee:       cfg.Pricing.FlatShippingFee,
		TaxRateBasisPoints:    cfg.Pricing.TaxRateBasisPoints,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}
	svc.Pricing = pricing

	tracking, err := services.NewTrackingService(services.TrackingServiceDeps{
		Tracking:       reg.Tracking(),
		Events:         opts.Events,
		Clock:          clock,
		DeliveryWindow: cfg.Orders.DeliveryWindow,
		Logger:         observability.EventLogger(logger, "tracking"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build tracking service: %w", err)
	}
	svc.Tracking = tracking

	users, err := services.NewUserService(services.UserServiceDeps{
		Users: reg.Users(),
		Clock: clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build user service: %w", err)
	}
	svc.Users = users

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:         reg.Orders(),
		Catalog:        catalog,
		Inventory:      inventory,
		Pricing:        pricing,
		Tracking:       tracking,
		Users:          users,
		Events:         opts.Events,
		Clock:          clock,
		NumberAttempts: cfg.Orders.NumberAttempts,
		CreateTimeout:  cfg.Orders.CreateTimeout,
		Observe:        metrics.OrderCreated,
		Logger:         observability.EventLogger(logger, "orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orders

	apiKeys, err := services.NewAPIKeyService(services.APIKeyServiceDeps{
		Keys:   reg.APIKeys(),
		Clock:  clock,
		Logger: observability.EventLogger(logger, "api_keys"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build api key service: %w", err)
	}
	svc.APIKeys = apiKeys

	if health := reg.Health(); health != nil {
		system, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: health,
			Clock:            clock,
			Build:            opts.Build,
			ReportTTL:        cfg.Server.ReadinessCacheTTL,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = system
	}

	return svc, nil
}
