package mysql

import (
	"context"
	"database/sql"
	"errors"
)

// CounterRepository hands out monotonically increasing sequence numbers, used
// for human-readable order numbers. Callers run it inside a transaction when
// the number must be consistent with other writes.
type CounterRepository struct {
	run *runner
}

func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	const op = "counters: next"
	if step <= 0 {
		step = 1
	}
	ex := r.run.exec(ctx)

	query := `SELECT value FROM counters WHERE id = ?`
	if r.run.inTx(ctx) {
		query += " FOR UPDATE"
	}

	var current int64
	err := ex.QueryRowContext(ctx, query, counterID).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := ex.ExecContext(ctx,
			`INSERT INTO counters (id, value) VALUES (?, ?)
			 ON DUPLICATE KEY UPDATE value = value + ?`,
			counterID, step, step,
		); err != nil {
			return 0, wrapQueryError(op, err)
		}
	case err != nil:
		return 0, wrapQueryError(op, err)
	default:
		if _, err := ex.ExecContext(ctx,
			`UPDATE counters SET value = value + ? WHERE id = ?`,
			step, counterID,
		); err != nil {
			return 0, wrapQueryError(op, err)
		}
	}

	var next int64
	if err := ex.QueryRowContext(ctx, `SELECT value FROM counters WHERE id = ?`, counterID).Scan(&next); err != nil {
		return 0, wrapQueryError(op, err)
	}
	return next, nil
}
