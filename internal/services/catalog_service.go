package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/style-suite/api/internal/repositories"
)

// CatalogServiceDeps bundles collaborators for the catalog reader.
type CatalogServiceDeps struct {
	Products repositories.ProductRepository
	// Timeout bounds each storage read. Zero means 5s.
	Timeout time.Duration
}

type catalogService struct {
	products repositories.ProductRepository
	timeout  time.Duration
	group    singleflight.Group
}

var _ CatalogReader = (*catalogService)(nil)

// NewCatalogService constructs a CatalogReader. Reads are never cached; concurrent reads of one product
// share a single storage call.
func NewCatalogService(deps CatalogServiceDeps) (CatalogReader, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &catalogService{products: deps.Products, timeout: timeout}, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return Product{}, validationError("product id is required")
	}

	result, err, _ := s.group.Do(id, func() (any, error) {
		// Shared by every waiter, so it must not die with the first caller.
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.products.FindByID(readCtx, id)
	})
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return Product{}, &ProductError{Kind: ErrProductNotFound, ProductID: id}
		}
		return Product{}, fmt.Errorf("catalog: get product %s: %w", id, err)
	}

	product := result.(Product)
	if !product.Active {
		return Product{}, &ProductError{Kind: ErrProductNotFound, ProductID: id}
	}
	return product, nil
}
