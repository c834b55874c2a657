package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	domain "github.com/style-suite/api/internal/domain"
	"github.com/style-suite/api/internal/repositories"
)

const orderColumns = `id, order_number, user_id, subtotal, shipping, tax, total, status, payment_method, payment_status,
	customer_name, customer_email, customer_phone, shipping_address, notes, source, api_key_id, created_at, updated_at`

// OrderRepository persists order aggregates together with their items and tracking.
type OrderRepository struct {
	store *Store
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

type addressDocument struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country,omitempty"`
}

// Insert writes the order, its items, its tracking record and the tracking steps in one transaction.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	const op = "orders.insert"
	if order.Tracking == nil {
		return wrapError(op, errors.New("order tracking is required"))
	}
	if order.Total != order.Subtotal+order.Shipping+order.Tax {
		return wrapError(op, fmt.Errorf("order %s totals are inconsistent", order.OrderNumber))
	}

	address, err := json.Marshal(addressDocument(order.ShippingAddress))
	if err != nil {
		return wrapError(op, err)
	}

	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	err = r.store.inTx(ctx, func(tx *sql.Tx) error {
		insertOrder := r.store.rebind(`INSERT INTO orders (` + orderColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, insertOrder,
			order.ID, order.OrderNumber, order.UserID, order.Subtotal, order.Shipping, order.Tax, order.Total,
			string(order.Status), order.PaymentMethod, string(order.PaymentStatus),
			order.Contact.Name, order.Contact.Email, order.Contact.Phone, string(address), order.Notes,
			string(order.Source), order.APIKeyID, order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
		); err != nil {
			return err
		}

		insertItem := r.store.rebind(`INSERT INTO order_items (id, order_id, product_id, position, quantity, unit_price, size, color)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		for i, item := range order.Items {
			if _, err := tx.ExecContext(ctx, insertItem,
				item.ID, order.ID, item.ProductID, i, item.Quantity, item.UnitPrice, item.Size, item.Color,
			); err != nil {
				return err
			}
		}

		tracking := order.Tracking
		insertTracking := r.store.rebind(`INSERT INTO order_tracking (id, order_id, status, current_step, estimated_delivery, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, insertTracking,
			tracking.ID, order.ID, string(tracking.Status), tracking.CurrentStep,
			tracking.EstimatedDelivery.UTC(), tracking.CreatedAt.UTC(), tracking.UpdatedAt.UTC(),
		); err != nil {
			return err
		}
		for i, step := range tracking.Steps {
			if err := insertStep(ctx, r.store, tx, tracking.ID, i, step); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapError(op, err)
}

// FindByID loads an order with items and tracking.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.findOne(ctx, "orders.find", "id", orderID)
}

// FindByOrderNumber loads an order by its public number.
func (r *OrderRepository) FindByOrderNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	return r.findOne(ctx, "orders.find_by_number", "order_number", orderNumber)
}

// ListByUser returns the user's orders newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	const op = "orders.list_by_user"
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	rows, err := r.store.db.QueryContext(ctx,
		r.store.rebind(`SELECT `+orderColumns+` FROM orders WHERE user_id = ? ORDER BY created_at DESC, id DESC`), userID)
	if err != nil {
		return nil, wrapError(op, err)
	}
	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, wrapError(op, err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, wrapError(op, err)
	}
	rows.Close()

	if err := r.hydrate(ctx, orders); err != nil {
		return nil, wrapError(op, err)
	}
	return orders, nil
}

func (r *OrderRepository) findOne(ctx context.Context, op string, column string, value string) (domain.Order, error) {
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	row := r.store.db.QueryRowContext(ctx,
		r.store.rebind(fmt.Sprintf(`SELECT %s FROM orders WHERE %s = ?`, orderColumns, column)), value)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, notFound(op, "order %s not found", value)
	}
	if err != nil {
		return domain.Order{}, wrapError(op, err)
	}

	orders := []domain.Order{order}
	if err := r.hydrate(ctx, orders); err != nil {
		return domain.Order{}, wrapError(op, err)
	}
	return orders[0], nil
}

// hydrate attaches items (with their product rows) and tracking to the given orders in place.
func (r *OrderRepository) hydrate(ctx context.Context, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	for i, order := range orders {
		ids[i] = order.ID
	}

	var (
		items    map[string][]domain.OrderItem
		tracking map[string]*domain.OrderTracking
	)
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		items, err = r.loadItems(gctx, ids)
		return err
	})
	group.Go(func() error {
		var err error
		tracking, err = loadTracking(gctx, r.store, r.store.db, ids)
		return err
	})
	if err := group.Wait(); err != nil {
		return err
	}

	for i := range orders {
		orders[i].Items = items[orders[i].ID]
		if orders[i].Items == nil {
			orders[i].Items = []domain.OrderItem{}
		}
		orders[i].Tracking = tracking[orders[i].ID]
	}
	return nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orderIDs []string) (map[string][]domain.OrderItem, error) {
	query := r.store.rebind(fmt.Sprintf(`SELECT i.id, i.order_id, i.product_id, i.quantity, i.unit_price, i.size, i.color,
			p.id, p.name, p.description, p.category, p.image, p.images, p.sizes, p.colors, p.price, p.stock, p.is_active, p.created_at, p.updated_at
		FROM order_items i JOIN products p ON p.id = i.product_id
		WHERE i.order_id IN (%s)
		ORDER BY i.order_id, i.position`, placeholders(len(orderIDs))))

	rows, err := r.store.db.QueryContext(ctx, query, stringArgs(orderIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]domain.OrderItem, len(orderIDs))
	for rows.Next() {
		var (
			item    domain.OrderItem
			product domain.Product
		)
		productDest, finish := productTargets(&product)
		dest := append([]any{&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.Size, &item.Color},
			productDest...)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		if err := finish(); err != nil {
			return nil, err
		}
		item.Product = &product
		result[item.OrderID] = append(result[item.OrderID], item)
	}
	return result, rows.Err()
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                         domain.Order
		status, paymentStatus, source string
		address                       string
	)
	if err := row.Scan(&order.ID, &order.OrderNumber, &order.UserID, &order.Subtotal, &order.Shipping, &order.Tax, &order.Total,
		&status, &order.PaymentMethod, &paymentStatus,
		&order.Contact.Name, &order.Contact.Email, &order.Contact.Phone, &address, &order.Notes,
		&source, &order.APIKeyID, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.PaymentStatus = domain.PaymentStatus(paymentStatus)
	order.Source = domain.OrderSource(source)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()

	var doc addressDocument
	if address != "" {
		if err := json.Unmarshal([]byte(address), &doc); err != nil {
			return domain.Order{}, fmt.Errorf("order %s shipping address: %w", order.ID, err)
		}
	}
	order.ShippingAddress = domain.Address(doc)
	return order, nil
}
