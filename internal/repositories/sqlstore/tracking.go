package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	domain "github.com/style-suite/api/internal/domain"
	"github.com/style-suite/api/internal/repositories"
)

// TrackingRepository stores order tracking records and their steps.
type TrackingRepository struct {
	store *Store
}

var _ repositories.TrackingRepository = (*TrackingRepository)(nil)

type rowsQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// FindByOrderID loads the tracking record of an order with its steps ordered by timestamp.
func (r *TrackingRepository) FindByOrderID(ctx context.Context, orderID string) (domain.OrderTracking, error) {
	const op = "tracking.find"
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	records, err := loadTracking(ctx, r.store, r.store.db, []string{orderID})
	if err != nil {
		return domain.OrderTracking{}, wrapError(op, err)
	}
	tracking, ok := records[orderID]
	if !ok {
		return domain.OrderTracking{}, notFound(op, "tracking for order %s not found", orderID)
	}
	return *tracking, nil
}

// AppendStep moves the tracking status from transition.From to transition.To, appends the step and mirrors
// the status onto the order row. The update only applies while the stored status still equals From.
func (r *TrackingRepository) AppendStep(ctx context.Context, transition repositories.TrackingTransition) (domain.OrderTracking, error) {
	const op = "tracking.append_step"
	ctx, cancel := r.store.withTimeout(ctx)
	defer cancel()

	var updated domain.OrderTracking
	err := r.store.inTx(ctx, func(tx *sql.Tx) error {
		at := transition.At.UTC()
		res, err := tx.ExecContext(ctx, r.store.rebind(`UPDATE order_tracking
			SET status = ?, current_step = current_step + 1, updated_at = ?
			WHERE order_id = ? AND status = ?`),
			string(transition.To), at, transition.OrderID, string(transition.From))
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			var status string
			err := tx.QueryRowContext(ctx, r.store.rebind(`SELECT status FROM order_tracking WHERE order_id = ?`), transition.OrderID).Scan(&status)
			if errors.Is(err, sql.ErrNoRows) {
				return notFound(op, "tracking for order %s not found", transition.OrderID)
			}
			if err != nil {
				return err
			}
			return conflict(op, "tracking for order %s is %s, expected %s", transition.OrderID, status, transition.From)
		}

		var (
			trackingID string
			position   int
		)
		if err := tx.QueryRowContext(ctx, r.store.rebind(`SELECT id, current_step FROM order_tracking WHERE order_id = ?`),
			transition.OrderID).Scan(&trackingID, &position); err != nil {
			return err
		}
		step := transition.Step
		if step.Timestamp.IsZero() {
			step.Timestamp = at
		}
		if err := insertStep(ctx, r.store, tx, trackingID, position, step); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, r.store.rebind(`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`),
			string(transition.To), at, transition.OrderID); err != nil {
			return err
		}

		records, err := loadTracking(ctx, r.store, tx, []string{transition.OrderID})
		if err != nil {
			return err
		}
		updated = *records[transition.OrderID]
		return nil
	})
	if err != nil {
		return domain.OrderTracking{}, wrapError(op, err)
	}
	return updated, nil
}

func insertStep(ctx context.Context, store *Store, tx *sql.Tx, trackingID string, position int, step domain.TrackingStep) error {
	_, err := tx.ExecContext(ctx, store.rebind(`INSERT INTO tracking_steps (id, tracking_id, position, title, description, is_completed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		step.ID, trackingID, position, step.Title, step.Description, step.Completed, step.Timestamp.UTC())
	return err
}

// loadTracking returns tracking records keyed by order id, steps ordered by timestamp then position.
func loadTracking(ctx context.Context, store *Store, q rowsQuerier, orderIDs []string) (map[string]*domain.OrderTracking, error) {
	result := make(map[string]*domain.OrderTracking, len(orderIDs))
	if len(orderIDs) == 0 {
		return result, nil
	}

	rows, err := q.QueryContext(ctx, store.rebind(fmt.Sprintf(`SELECT id, order_id, status, current_step, estimated_delivery, created_at, updated_at
		FROM order_tracking WHERE order_id IN (%s)`, placeholders(len(orderIDs)))), stringArgs(orderIDs)...)
	if err != nil {
		return nil, err
	}
	byTrackingID := make(map[string]*domain.OrderTracking, len(orderIDs))
	for rows.Next() {
		var (
			t      domain.OrderTracking
			status string
		)
		if err := rows.Scan(&t.ID, &t.OrderID, &status, &t.CurrentStep, &t.EstimatedDelivery, &t.CreatedAt, &t.UpdatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		t.Status = domain.OrderStatus(status)
		t.EstimatedDelivery = t.EstimatedDelivery.UTC()
		t.CreatedAt = t.CreatedAt.UTC()
		t.UpdatedAt = t.UpdatedAt.UTC()
		t.Steps = []domain.TrackingStep{}
		record := t
		result[t.OrderID] = &record
		byTrackingID[t.ID] = &record
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(byTrackingID) == 0 {
		return result, nil
	}
	trackingIDs := make([]string, 0, len(byTrackingID))
	for id := range byTrackingID {
		trackingIDs = append(trackingIDs, id)
	}

	stepRows, err := q.QueryContext(ctx, store.rebind(fmt.Sprintf(`SELECT id, tracking_id, title, description, is_completed, created_at
		FROM tracking_steps WHERE tracking_id IN (%s)
		ORDER BY created_at ASC, position ASC`, placeholders(len(trackingIDs)))), stringArgs(trackingIDs)...)
	if err != nil {
		return nil, err
	}
	defer stepRows.Close()
	for stepRows.Next() {
		var (
			step       domain.TrackingStep
			trackingID string
		)
		if err := stepRows.Scan(&step.ID, &trackingID, &step.Title, &step.Description, &step.Completed, &step.Timestamp); err != nil {
			return nil, err
		}
		step.Timestamp = step.Timestamp.UTC()
		if record, ok := byTrackingID[trackingID]; ok {
			record.Steps = append(record.Steps, step)
		}
	}
	return result, stepRows.Err()
}
