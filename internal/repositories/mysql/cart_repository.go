package mysql

import (
	"context"
	"encoding/json"
	"fmt"

	domain "github.com/webber-shop/api/internal/domain"
)

// CartRepository keeps one cart row per user, items as a JSON column. Carts
// are replaced wholesale on every mutation rather than patched per line.
type CartRepository struct {
	run *runner
}

func (r *CartRepository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	const op = "carts: get"
	var (
		cart  domain.Cart
		items []byte
	)
	err := r.run.exec(ctx).QueryRowContext(ctx,
		`SELECT id, user_id, currency, items, coupon_code, created_at, updated_at
		 FROM carts WHERE user_id = ?`,
		userID,
	).Scan(&cart.ID, &cart.UserID, &cart.Currency, &items, &cart.CouponCode, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		return domain.Cart{}, wrapQueryError(op, err)
	}
	if err := json.Unmarshal(items, &cart.Items); err != nil {
		return domain.Cart{}, wrapQueryError(op, fmt.Errorf("decode cart items: %w", err))
	}
	return cart, nil
}

func (r *CartRepository) Upsert(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	const op = "carts: upsert"
	items, err := json.Marshal(cart.Items)
	if err != nil {
		return domain.Cart{}, wrapQueryError(op, fmt.Errorf("encode cart items: %w", err))
	}

	_, err = r.run.exec(ctx).ExecContext(ctx,
		`INSERT INTO carts (id, user_id, currency, items, coupon_code, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE currency = VALUES(currency), items = VALUES(items),
		   coupon_code = VALUES(coupon_code), updated_at = VALUES(updated_at)`,
		cart.ID, cart.UserID, cart.Currency, items, cart.CouponCode, cart.CreatedAt, cart.UpdatedAt,
	)
	if err != nil {
		return domain.Cart{}, wrapQueryError(op, err)
	}
	return cart, nil
}

func (r *CartRepository) Delete(ctx context.Context, userID string) error {
	const op = "carts: delete"
	_, err := r.run.exec(ctx).ExecContext(ctx, `DELETE FROM carts WHERE user_id = ?`, userID)
	return wrapQueryError(op, err)
}
