package mysql

import (
	"context"

	domain "github.com/webber-shop/api/internal/domain"
)

// OrderHistoryRepository appends to the immutable status transition log.
type OrderHistoryRepository struct {
	run *runner
}

func (r *OrderHistoryRepository) Append(ctx context.Context, entry domain.OrderHistory) error {
	const op = "order history: append"
	var previous *string
	if entry.PreviousStatus != nil {
		s := string(*entry.PreviousStatus)
		previous = &s
	}
	_, err := r.run.exec(ctx).ExecContext(ctx,
		`INSERT INTO order_history (id, order_id, previous_status, new_status, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.OrderID, previous, string(entry.NewStatus), entry.Notes, entry.CreatedAt,
	)
	return wrapQueryError(op, err)
}

func (r *OrderHistoryRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderHistory, error) {
	const op = "order history: list"
	rows, err := r.run.exec(ctx).QueryContext(ctx,
		`SELECT id, order_id, previous_status, new_status, notes, created_at
		 FROM order_history WHERE order_id = ? ORDER BY created_at, id`,
		orderID,
	)
	if err != nil {
		return nil, wrapQueryError(op, err)
	}
	defer rows.Close()

	var entries []domain.OrderHistory
	for rows.Next() {
		var (
			entry     domain.OrderHistory
			previous  *string
			newStatus string
		)
		if err := rows.Scan(&entry.ID, &entry.OrderID, &previous, &newStatus, &entry.Notes, &entry.CreatedAt); err != nil {
			return nil, wrapQueryError(op, err)
		}
		if previous != nil {
			s := domain.OrderStatus(*previous)
			entry.PreviousStatus = &s
		}
		entry.NewStatus = domain.OrderStatus(newStatus)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryError(op, err)
	}
	return entries, nil
}
