package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	domain "github.com/webber-shop/api/internal/domain"
	"github.com/webber-shop/api/internal/repositories"
)

// InventoryRepository persists stock records and reservation rows.
//
// Mutations take row locks (SELECT ... FOR UPDATE) when executed inside a
// transaction so that two concurrent checkouts for the last unit cannot both
// succeed; the second blocks on the lock and then fails the availability
// check.
type InventoryRepository struct {
	run *runner
}

func (r *InventoryRepository) Reserve(ctx context.Context, req repositories.InventoryReserveRequest) (repositories.InventoryReserveResult, error) {
	const op = "inventory: reserve"
	if req.Quantity <= 0 {
		return repositories.InventoryReserveResult{}, repositories.NewInventoryError(repositories.InventoryErrorUnknown, "quantity must be positive", nil)
	}

	ex := r.run.exec(ctx)

	stock, err := r.lockStock(ctx, ex, req.VariantID)
	if err != nil {
		return repositories.InventoryReserveResult{}, err
	}

	// Re-reserving the same (order, variant) line is a no-op.
	var existing int
	err = ex.QueryRowContext(ctx,
		`SELECT quantity FROM inventory_reservations WHERE order_id = ? AND variant_id = ?`,
		req.OrderID, req.VariantID,
	).Scan(&existing)
	switch {
	case err == nil:
		return repositories.InventoryReserveResult{Stock: stock, AlreadyReserved: true}, nil
	case !errors.Is(err, sql.ErrNoRows):
		return repositories.InventoryReserveResult{}, wrapQueryError(op, err)
	}

	if stock.Available < req.Quantity {
		return repositories.InventoryReserveResult{}, repositories.NewInventoryError(
			repositories.InventoryErrorInsufficientStock,
			fmt.Sprintf("variant %s has %d available, requested %d", req.VariantID, stock.Available, req.Quantity),
			nil,
		)
	}

	result, err := ex.ExecContext(ctx,
		`UPDATE inventory_stocks
		 SET available = available - ?, reserved = reserved + ?, updated_at = ?
		 WHERE variant_id = ? AND available >= ?`,
		req.Quantity, req.Quantity, req.Now, req.VariantID, req.Quantity,
	)
	if err != nil {
		return repositories.InventoryReserveResult{}, wrapQueryError(op, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return repositories.InventoryReserveResult{}, repositories.NewInventoryError(
			repositories.InventoryErrorInsufficientStock,
			fmt.Sprintf("variant %s lost availability under contention", req.VariantID),
			nil,
		)
	}

	if _, err := ex.ExecContext(ctx,
		`INSERT INTO inventory_reservations (order_id, variant_id, quantity, created_at) VALUES (?, ?, ?, ?)`,
		req.OrderID, req.VariantID, req.Quantity, req.Now,
	); err != nil {
		return repositories.InventoryReserveResult{}, wrapQueryError(op, err)
	}

	stock.Available -= req.Quantity
	stock.Reserved += req.Quantity
	stock.UpdatedAt = req.Now
	return repositories.InventoryReserveResult{Stock: stock}, nil
}

func (r *InventoryRepository) Commit(ctx context.Context, req repositories.InventoryCommitRequest) (repositories.InventoryCommitResult, error) {
	const op = "inventory: commit"
	ex := r.run.exec(ctx)

	stock, err := r.lockStock(ctx, ex, req.VariantID)
	if err != nil {
		return repositories.InventoryCommitResult{}, err
	}

	var quantity int
	err = ex.QueryRowContext(ctx,
		`SELECT quantity FROM inventory_reservations WHERE order_id = ? AND variant_id = ?`,
		req.OrderID, req.VariantID,
	).Scan(&quantity)
	if errors.Is(err, sql.ErrNoRows) {
		// Already committed; the deduction from available happened at reserve time.
		return repositories.InventoryCommitResult{Stock: stock}, nil
	}
	if err != nil {
		return repositories.InventoryCommitResult{}, wrapQueryError(op, err)
	}

	if _, err := ex.ExecContext(ctx,
		`UPDATE inventory_stocks SET reserved = reserved - ?, updated_at = ? WHERE variant_id = ?`,
		quantity, req.Now, req.VariantID,
	); err != nil {
		return repositories.InventoryCommitResult{}, wrapQueryError(op, err)
	}
	if _, err := ex.ExecContext(ctx,
		`DELETE FROM inventory_reservations WHERE order_id = ? AND variant_id = ?`,
		req.OrderID, req.VariantID,
	); err != nil {
		return repositories.InventoryCommitResult{}, wrapQueryError(op, err)
	}

	stock.Reserved -= quantity
	stock.UpdatedAt = req.Now
	return repositories.InventoryCommitResult{Stock: stock}, nil
}

func (r *InventoryRepository) Release(ctx context.Context, req repositories.InventoryReleaseRequest) (repositories.InventoryReleaseResult, error) {
	const op = "inventory: release"
	ex := r.run.exec(ctx)

	stock, err := r.lockStock(ctx, ex, req.VariantID)
	if err != nil {
		return repositories.InventoryReleaseResult{}, err
	}

	var quantity int
	err = ex.QueryRowContext(ctx,
		`SELECT quantity FROM inventory_reservations WHERE order_id = ? AND variant_id = ?`,
		req.OrderID, req.VariantID,
	).Scan(&quantity)
	if errors.Is(err, sql.ErrNoRows) {
		// No reservation record means it was already released or committed;
		// releasing again must not exceed the pre-reservation ceiling.
		return repositories.InventoryReleaseResult{Stock: stock}, nil
	}
	if err != nil {
		return repositories.InventoryReleaseResult{}, wrapQueryError(op, err)
	}

	if _, err := ex.ExecContext(ctx,
		`UPDATE inventory_stocks
		 SET available = available + ?, reserved = reserved - ?, updated_at = ?
		 WHERE variant_id = ?`,
		quantity, quantity, req.Now, req.VariantID,
	); err != nil {
		return repositories.InventoryReleaseResult{}, wrapQueryError(op, err)
	}
	if _, err := ex.ExecContext(ctx,
		`DELETE FROM inventory_reservations WHERE order_id = ? AND variant_id = ?`,
		req.OrderID, req.VariantID,
	); err != nil {
		return repositories.InventoryReleaseResult{}, wrapQueryError(op, err)
	}

	stock.Available += quantity
	stock.Reserved -= quantity
	stock.UpdatedAt = req.Now
	return repositories.InventoryReleaseResult{Stock: stock, Released: quantity}, nil
}

func (r *InventoryRepository) ListReservations(ctx context.Context, orderID string) ([]domain.InventoryReservation, error) {
	const op = "inventory: list reservations"
	rows, err := r.run.exec(ctx).QueryContext(ctx,
		`SELECT order_id, variant_id, quantity, created_at
		 FROM inventory_reservations WHERE order_id = ? ORDER BY variant_id`,
		orderID,
	)
	if err != nil {
		return nil, wrapQueryError(op, err)
	}
	defer rows.Close()

	var reservations []domain.InventoryReservation
	for rows.Next() {
		var res domain.InventoryReservation
		if err := rows.Scan(&res.OrderID, &res.VariantID, &res.Quantity, &res.CreatedAt); err != nil {
			return nil, wrapQueryError(op, err)
		}
		reservations = append(reservations, res)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryError(op, err)
	}
	return reservations, nil
}

func (r *InventoryRepository) GetStock(ctx context.Context, variantID string) (domain.InventoryRecord, error) {
	const op = "inventory: get stock"
	var stock domain.InventoryRecord
	err := r.run.exec(ctx).QueryRowContext(ctx,
		`SELECT variant_id, product_id, available, reserved, updated_at
		 FROM inventory_stocks WHERE variant_id = ?`,
		variantID,
	).Scan(&stock.VariantID, &stock.ProductID, &stock.Available, &stock.Reserved, &stock.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.InventoryRecord{}, repositories.NewInventoryError(
			repositories.InventoryErrorStockNotFound,
			fmt.Sprintf("no stock record for variant %s", variantID),
			err,
		)
	}
	if err != nil {
		return domain.InventoryRecord{}, wrapQueryError(op, err)
	}
	return stock, nil
}

func (r *InventoryRepository) AdjustStock(ctx context.Context, req repositories.InventoryAdjustRequest) (domain.InventoryRecord, error) {
	const op = "inventory: adjust stock"
	ex := r.run.exec(ctx)

	if _, err := ex.ExecContext(ctx,
		`INSERT INTO inventory_stocks (variant_id, product_id, available, reserved, updated_at)
		 VALUES (?, ?, GREATEST(?, 0), 0, ?)
		 ON DUPLICATE KEY UPDATE available = GREATEST(available + ?, 0), updated_at = ?`,
		req.VariantID, req.ProductID, req.Delta, req.Now, req.Delta, req.Now,
	); err != nil {
		return domain.InventoryRecord{}, wrapQueryError(op, err)
	}

	return r.GetStock(ctx, req.VariantID)
}

func (r *InventoryRepository) lockStock(ctx context.Context, ex executor, variantID string) (domain.InventoryRecord, error) {
	query := `SELECT variant_id, product_id, available, reserved, updated_at
	 FROM inventory_stocks WHERE variant_id = ?`
	if r.run.inTx(ctx) {
		query += " FOR UPDATE"
	}

	var stock domain.InventoryRecord
	err := ex.QueryRowContext(ctx, query, strings.TrimSpace(variantID)).
		Scan(&stock.VariantID, &stock.ProductID, &stock.Available, &stock.Reserved, &stock.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.InventoryRecord{}, repositories.NewInventoryError(
			repositories.InventoryErrorStockNotFound,
			fmt.Sprintf("no stock record for variant %s", variantID),
			err,
		)
	}
	if err != nil {
		return domain.InventoryRecord{}, wrapQueryError("inventory: lock stock", err)
	}
	return stock, nil
}
