package mysql

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	domain "github.com/webber-shop/api/internal/domain"
	"github.com/webber-shop/api/internal/repositories"
)

const defaultOrderPageSize = 20

// OrderRepository stores order headers. Line items, totals and addresses are
// frozen at creation time and persisted as JSON columns; only the header row
// is updated on status transitions.
type OrderRepository struct {
	run *runner
}

type orderRow struct {
	items           []byte
	totals          []byte
	shippingAddress []byte
	billingAddress  []byte
}

const orderColumns = `id, order_number, user_id, status, currency, payment_method, items, totals,
	coupon_code, checkout_session_id, payment_intent_id,
	shipping_address, billing_address, cancel_reason,
	created_at, updated_at, paid_at, shipped_at, delivered_at, cancelled_at`

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	const op = "orders: insert"
	enc, err := encodeOrder(order)
	if err != nil {
		return wrapQueryError(op, err)
	}

	_, err = r.run.exec(ctx).ExecContext(ctx,
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.OrderNumber, order.UserID, string(order.Status), order.Currency,
		order.PaymentMethod, enc.items, enc.totals,
		order.CouponCode, order.CheckoutSessionID, order.PaymentIntentID,
		enc.shippingAddress, enc.billingAddress, order.CancelReason,
		order.CreatedAt, order.UpdatedAt, order.PaidAt, order.ShippedAt, order.DeliveredAt, order.CancelledAt,
	)
	return wrapQueryError(op, err)
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	const op = "orders: update"
	enc, err := encodeOrder(order)
	if err != nil {
		return wrapQueryError(op, err)
	}

	result, err := r.run.exec(ctx).ExecContext(ctx,
		`UPDATE orders SET status = ?, coupon_code = ?, checkout_session_id = ?, payment_intent_id = ?,
		 totals = ?, cancel_reason = ?, updated_at = ?,
		 paid_at = ?, shipped_at = ?, delivered_at = ?, cancelled_at = ?
		 WHERE id = ?`,
		string(order.Status), order.CouponCode, order.CheckoutSessionID, order.PaymentIntentID,
		enc.totals, order.CancelReason, order.UpdatedAt,
		order.PaidAt, order.ShippedAt, order.DeliveredAt, order.CancelledAt,
		order.ID,
	)
	if err != nil {
		return wrapQueryError(op, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		if _, findErr := r.FindByID(ctx, order.ID); findErr != nil {
			return findErr
		}
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.findOne(ctx, "orders: find by id", `WHERE id = ?`, orderID)
}

func (r *OrderRepository) FindByCheckoutSessionID(ctx context.Context, sessionID string) (domain.Order, error) {
	return r.findOne(ctx, "orders: find by checkout session", `WHERE checkout_session_id = ?`, sessionID)
}

func (r *OrderRepository) FindByPaymentIntentID(ctx context.Context, intentID string) (domain.Order, error) {
	return r.findOne(ctx, "orders: find by payment intent", `WHERE payment_intent_id = ?`, intentID)
}

func (r *OrderRepository) findOne(ctx context.Context, op, where string, arg any) (domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders ` + where
	if r.run.inTx(ctx) {
		query += " FOR UPDATE"
	}
	row := r.run.exec(ctx).QueryRowContext(ctx, query, arg)
	order, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, wrapQueryError(op, err)
	}
	return order, nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	const op = "orders: list"

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = defaultOrderPageSize
	}

	where := []string{"1 = 1"}
	args := []any{}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if len(filter.Status) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(filter.Status)), ", ")
		where = append(where, "status IN ("+placeholders+")")
		for _, s := range filter.Status {
			args = append(args, string(s))
		}
	}
	if filter.DateRange.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.DateRange.From)
	}
	if filter.DateRange.To != nil {
		where = append(where, "created_at <= ?")
		args = append(args, *filter.DateRange.To)
	}
	if filter.Pagination.PageToken != "" {
		cur, err := decodeCursor(filter.Pagination.PageToken)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		where = append(where, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, cur.CreatedAt, cur.CreatedAt, cur.ID)
	}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, pageSize+1)

	rows, err := r.run.exec(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapQueryError(op, err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapQueryError(op, err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.Order]{}, wrapQueryError(op, err)
	}

	page := domain.CursorPage[domain.Order]{Items: orders}
	if len(orders) > pageSize {
		page.Items = orders[:pageSize]
		last := page.Items[len(page.Items)-1]
		page.NextPageToken = encodeCursor(cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order  domain.Order
		status string
		raw    orderRow
	)
	err := row.Scan(
		&order.ID, &order.OrderNumber, &order.UserID, &status, &order.Currency,
		&order.PaymentMethod, &raw.items, &raw.totals,
		&order.CouponCode, &order.CheckoutSessionID, &order.PaymentIntentID,
		&raw.shippingAddress, &raw.billingAddress, &order.CancelReason,
		&order.CreatedAt, &order.UpdatedAt, &order.PaidAt, &order.ShippedAt, &order.DeliveredAt, &order.CancelledAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)

	if err := json.Unmarshal(raw.items, &order.Items); err != nil {
		return domain.Order{}, fmt.Errorf("decode order items: %w", err)
	}
	if err := json.Unmarshal(raw.totals, &order.Totals); err != nil {
		return domain.Order{}, fmt.Errorf("decode order totals: %w", err)
	}
	if err := json.Unmarshal(raw.shippingAddress, &order.ShippingAddress); err != nil {
		return domain.Order{}, fmt.Errorf("decode shipping address: %w", err)
	}
	if err := json.Unmarshal(raw.billingAddress, &order.BillingAddress); err != nil {
		return domain.Order{}, fmt.Errorf("decode billing address: %w", err)
	}
	return order, nil
}

func encodeOrder(order domain.Order) (orderRow, error) {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return orderRow{}, fmt.Errorf("encode order items: %w", err)
	}
	totals, err := json.Marshal(order.Totals)
	if err != nil {
		return orderRow{}, fmt.Errorf("encode order totals: %w", err)
	}
	shipping, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return orderRow{}, fmt.Errorf("encode shipping address: %w", err)
	}
	billing, err := json.Marshal(order.BillingAddress)
	if err != nil {
		return orderRow{}, fmt.Errorf("encode billing address: %w", err)
	}
	return orderRow{items: items, totals: totals, shippingAddress: shipping, billingAddress: billing}, nil
}

// cursor encodes the (created_at, id) position of the last row on a page.
type cursor struct {
	CreatedAt time.Time `json:"c"`
	ID        string    `json:"i"`
}

func encodeCursor(cur cursor) string {
	raw, err := json.Marshal(cur)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(token string) (cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return cursor{}, fmt.Errorf("invalid page token: %w", err)
	}
	var cur cursor
	if err := json.Unmarshal(raw, &cur); err != nil {
		return cursor{}, fmt.Errorf("invalid page token: %w", err)
	}
	return cur, nil
}
