package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	domain "github.com/style-suite/api/internal/domain"
	"github.com/style-suite/api/internal/repositories"
)

const productColumns = `id, name, description, category, image, images, sizes, colors, price, stock, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// ProductRepository reads catalog rows.
type ProductRepository struct {
	store *Store
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// FindByID loads a product regardless of its active flag.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	product, err := selectProduct(ctx, r.store, r.store.db, productID)
	if err != nil {
		return domain.Product{}, wrapError("products.find", err)
	}
	return product, nil
}

// Insert stores a catalog row. Used by seeding and tests; catalog management lives elsewhere.
func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	images, err := encodeStrings(product.Images)
	if err != nil {
		return err
	}
	sizes, err := encodeStrings(product.Sizes)
	if err != nil {
		return err
	}
	colors, err := encodeStrings(product.Colors)
	if err != nil {
		return err
	}
	now := r.store.now()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = now
	}

	query := r.store.rebind(`INSERT INTO products (` + productColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = r.store.db.ExecContext(ctx, query,
		product.ID, product.Name, product.Description, product.Category, product.Image,
		images, sizes, colors, product.Price, product.Stock, product.Active,
		product.CreatedAt.UTC(), product.UpdatedAt.UTC(),
	)
	return wrapError("products.insert", err)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func selectProduct(ctx context.Context, store *Store, q queryer, productID string) (domain.Product, error) {
	row := q.QueryRowContext(ctx, store.rebind(`SELECT `+productColumns+` FROM products WHERE id = ?`), productID)
	product, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, notFound("products.find", "product %s not found", productID)
	}
	return product, err
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	dest, finish := productTargets(&p)
	if err := row.Scan(dest...); err != nil {
		return domain.Product{}, err
	}
	if err := finish(); err != nil {
		return domain.Product{}, err
	}
	return p, nil
}

// productTargets returns scan destinations matching productColumns and a func that decodes the JSON
// columns once the row has been scanned.
func productTargets(p *domain.Product) ([]any, func() error) {
	var images, sizes, colors string
	dest := []any{&p.ID, &p.Name, &p.Description, &p.Category, &p.Image, &images, &sizes, &colors,
		&p.Price, &p.Stock, &p.Active, &p.CreatedAt, &p.UpdatedAt}
	finish := func() error {
		var err error
		if p.Images, err = decodeStrings(images); err != nil {
			return fmt.Errorf("product %s images: %w", p.ID, err)
		}
		if p.Sizes, err = decodeStrings(sizes); err != nil {
			return fmt.Errorf("product %s sizes: %w", p.ID, err)
		}
		if p.Colors, err = decodeStrings(colors); err != nil {
			return fmt.Errorf("product %s colors: %w", p.ID, err)
		}
		p.CreatedAt = p.CreatedAt.UTC()
		p.UpdatedAt = p.UpdatedAt.UTC()
		return nil
	}
	return dest, finish
}

// decodeStrings parses the JSON array columns; empty text is an empty list.
func decodeStrings(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return []string{}, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, err
	}
	if values == nil {
		values = []string{}
	}
	return values, nil
}

func encodeStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
