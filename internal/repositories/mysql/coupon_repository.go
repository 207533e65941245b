package mysql

import (
	"context"
	"strings"

	domain "github.com/webber-shop/api/internal/domain"
	"github.com/webber-shop/api/internal/repositories"
)

const defaultCouponPageSize = 50

// CouponRepository maintains discount code definitions. Codes are stored
// upper-cased and compared case-insensitively.
type CouponRepository struct {
	run *runner
}

const couponColumns = `id, code, type, value, starts_at, ends_at, minimum_subtotal, active, created_at, updated_at`

func (r *CouponRepository) Insert(ctx context.Context, coupon domain.Coupon) error {
	const op = "coupons: insert"
	_, err := r.run.exec(ctx).ExecContext(ctx,
		`INSERT INTO coupons (`+couponColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		coupon.ID, strings.ToUpper(coupon.Code), string(coupon.Type), coupon.Value,
		coupon.StartsAt, coupon.EndsAt, coupon.MinimumSubtotal, coupon.Active,
		coupon.CreatedAt, coupon.UpdatedAt,
	)
	return wrapQueryError(op, err)
}

func (r *CouponRepository) Update(ctx context.Context, coupon domain.Coupon) error {
	const op = "coupons: update"
	result, err := r.run.exec(ctx).ExecContext(ctx,
		`UPDATE coupons SET type = ?, value = ?, starts_at = ?, ends_at = ?,
		 minimum_subtotal = ?, active = ?, updated_at = ?
		 WHERE id = ?`,
		string(coupon.Type), coupon.Value, coupon.StartsAt, coupon.EndsAt,
		coupon.MinimumSubtotal, coupon.Active, coupon.UpdatedAt,
		coupon.ID,
	)
	if err != nil {
		return wrapQueryError(op, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		var exists int
		if err := r.run.exec(ctx).QueryRowContext(ctx, `SELECT 1 FROM coupons WHERE id = ?`, coupon.ID).Scan(&exists); err != nil {
			return wrapQueryError(op, err)
		}
	}
	return nil
}

func (r *CouponRepository) Delete(ctx context.Context, couponID string) error {
	const op = "coupons: delete"
	result, err := r.run.exec(ctx).ExecContext(ctx, `DELETE FROM coupons WHERE id = ?`, couponID)
	if err != nil {
		return wrapQueryError(op, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return notFoundError(op, nil)
	}
	return nil
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	const op = "coupons: find by code"
	coupon, err := scanCoupon(r.run.exec(ctx).QueryRowContext(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE code = ?`,
		strings.ToUpper(strings.TrimSpace(code)),
	))
	if err != nil {
		return domain.Coupon{}, wrapQueryError(op, err)
	}
	return coupon, nil
}

func (r *CouponRepository) List(ctx context.Context, filter repositories.CouponListFilter) (domain.CursorPage[domain.Coupon], error) {
	const op = "coupons: list"

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = defaultCouponPageSize
	}

	where := "1 = 1"
	args := []any{}
	if filter.ActiveOnly {
		where += " AND active = TRUE"
	}
	if filter.Pagination.PageToken != "" {
		cur, err := decodeCursor(filter.Pagination.PageToken)
		if err != nil {
			return domain.CursorPage[domain.Coupon]{}, err
		}
		where += " AND (created_at < ? OR (created_at = ? AND id < ?))"
		args = append(args, cur.CreatedAt, cur.CreatedAt, cur.ID)
	}

	args = append(args, pageSize+1)
	rows, err := r.run.exec(ctx).QueryContext(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE `+where+` ORDER BY created_at DESC, id DESC LIMIT ?`,
		args...,
	)
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, wrapQueryError(op, err)
	}
	defer rows.Close()

	var coupons []domain.Coupon
	for rows.Next() {
		coupon, err := scanCoupon(rows)
		if err != nil {
			return domain.CursorPage[domain.Coupon]{}, wrapQueryError(op, err)
		}
		coupons = append(coupons, coupon)
	}
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.Coupon]{}, wrapQueryError(op, err)
	}

	page := domain.CursorPage[domain.Coupon]{Items: coupons}
	if len(coupons) > pageSize {
		page.Items = coupons[:pageSize]
		last := page.Items[len(page.Items)-1]
		page.NextPageToken = encodeCursor(cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

func scanCoupon(row rowScanner) (domain.Coupon, error) {
	var (
		coupon     domain.Coupon
		couponType string
	)
	err := row.Scan(
		&coupon.ID, &coupon.Code, &couponType, &coupon.Value,
		&coupon.StartsAt, &coupon.EndsAt, &coupon.MinimumSubtotal, &coupon.Active,
		&coupon.CreatedAt, &coupon.UpdatedAt,
	)
	if err != nil {
		return domain.Coupon{}, err
	}
	coupon.Type = domain.CouponType(couponType)
	return coupon, nil
}
