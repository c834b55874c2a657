package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	domain "github.com/style-suite/api/internal/domain"
	"github.com/style-suite/api/internal/repositories"
)

// InventoryRepository decrements and restores product stock.
type InventoryRepository struct {
	store *Store
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)

// Reserve decrements every line inside one transaction. Each decrement is a conditional update, so
// the row lock taken by the first writer makes a concurrent writer re-check the remaining stock.
func (r *InventoryRepository) Reserve(ctx context.Context, lines []repositories.InventoryLine) (map[string]domain.Product, error) {
	const op = "inventory.reserve"
	if len(lines) == 0 {
		return nil, wrapError(op, errors.New("no lines to reserve"))
	}

	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	ordered := sortedLines(lines)
	reserved := make(map[string]domain.Product, len(ordered))

	err := r.store.inTx(ctx, func(tx *sql.Tx) error {
		decrement := r.store.rebind(`UPDATE products SET stock = stock - ?, updated_at = ?
			WHERE id = ? AND is_active = ? AND stock >= ?`)
		now := r.store.now()
		for _, line := range ordered {
			res, err := tx.ExecContext(ctx, decrement, line.Quantity, now, line.ProductID, true, line.Quantity)
			if err != nil {
				return err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if affected == 0 {
				return r.explainRejection(ctx, tx, line)
			}

			product, err := selectProduct(ctx, r.store, tx, line.ProductID)
			if err != nil {
				return err
			}
			reserved[line.ProductID] = product
		}
		return nil
	})
	if err != nil {
		return nil, wrapError(op, err)
	}
	return reserved, nil
}

// Restore adds the quantities back. It is the compensation for a reservation whose order was not persisted.
func (r *InventoryRepository) Restore(ctx context.Context, lines []repositories.InventoryLine) error {
	const op = "inventory.restore"
	if len(lines) == 0 {
		return nil
	}

	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	err := r.store.inTx(ctx, func(tx *sql.Tx) error {
		increment := r.store.rebind(`UPDATE products SET stock = stock + ?, updated_at = ? WHERE id = ?`)
		now := r.store.now()
		for _, line := range sortedLines(lines) {
			res, err := tx.ExecContext(ctx, increment, line.Quantity, now, line.ProductID)
			if err != nil {
				return err
			}
			if affected, err := res.RowsAffected(); err == nil && affected == 0 {
				return notFound(op, "product %s not found", line.ProductID)
			}
		}
		return nil
	})
	return wrapError(op, err)
}

func (r *InventoryRepository) explainRejection(ctx context.Context, tx *sql.Tx, line repositories.InventoryLine) error {
	product, err := selectProduct(ctx, r.store, tx, line.ProductID)
	if err != nil {
		var repoErr *Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, line.ProductID,
				fmt.Sprintf("product %s not found", line.ProductID), nil)
		}
		return err
	}
	if !product.Active {
		return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, line.ProductID,
			fmt.Sprintf("product %s is not active", line.ProductID), nil)
	}
	return repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, line.ProductID,
		fmt.Sprintf("insufficient stock for %s: requested %d, available %d", line.ProductID, line.Quantity, product.Stock), nil).
		WithQuantities(line.Quantity, product.Stock)
}

// sortedLines orders lines by product id so concurrent transactions lock rows in the same order.
func sortedLines(lines []repositories.InventoryLine) []repositories.InventoryLine {
	ordered := append([]repositories.InventoryLine(nil), lines...)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].ProductID < ordered[j].ProductID
	})
	return ordered
}
