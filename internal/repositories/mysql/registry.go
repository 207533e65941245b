package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/webber-shop/api/internal/repositories"
)

// Registry bundles the MySQL-backed repositories behind the repositories.Registry contract.
type Registry struct {
	db *sql.DB

	carts     *CartRepository
	orders    *OrderRepository
	history   *OrderHistoryRepository
	inventory *InventoryRepository
	coupons   *CouponRepository
	shipments *ShipmentRepository
	counters  *CounterRepository
}

// NewRegistry constructs the registry around an open database handle.
func NewRegistry(db *sql.DB) (*Registry, error) {
	if db == nil {
		return nil, errors.New("mysql registry: db handle is required")
	}
	run := &runner{db: db}
	return &Registry{
		db:        db,
		carts:     &CartRepository{run: run},
		orders:    &OrderRepository{run: run},
		history:   &OrderHistoryRepository{run: run},
		inventory: &InventoryRepository{run: run},
		coupons:   &CouponRepository{run: run},
		shipments: &ShipmentRepository{run: run},
		counters:  &CounterRepository{run: run},
	}, nil
}

// Close releases the database handle.
func (r *Registry) Close(context.Context) error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Registry) Carts() repositories.CartRepository                { return r.carts }
func (r *Registry) Orders() repositories.OrderRepository              { return r.orders }
func (r *Registry) OrderHistory() repositories.OrderHistoryRepository { return r.history }
func (r *Registry) Inventory() repositories.InventoryRepository       { return r.inventory }
func (r *Registry) Coupons() repositories.CouponRepository            { return r.coupons }
func (r *Registry) Shipments() repositories.ShipmentRepository        { return r.shipments }
func (r *Registry) Counters() repositories.CounterRepository          { return r.counters }

// RunInTx executes fn inside a single database transaction. Repository calls
// made with the derived context share that transaction; nested calls reuse
// the transaction already carried by the context.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("mysql registry: tx func is required")
	}
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailableError("mysql: begin tx", err)
	}

	if err := fn(withTx(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return unavailableError("mysql: commit tx", err)
	}
	return nil
}

type txContextKey struct{}

func withTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

func txFromContext(ctx context.Context) *sql.Tx {
	if ctx == nil {
		return nil
	}
	tx, _ := ctx.Value(txContextKey{}).(*sql.Tx)
	return tx
}

// executor is satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type runner struct {
	db *sql.DB
}

func (r *runner) exec(ctx context.Context) executor {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return r.db
}

func (r *runner) inTx(ctx context.Context) bool {
	return txFromContext(ctx) != nil
}

// storeError categorises persistence failures for the service layer.
type storeError struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *storeError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.op
}

func (e *storeError) Unwrap() error       { return e.err }
func (e *storeError) IsNotFound() bool    { return e.notFound }
func (e *storeError) IsConflict() bool    { return e.conflict }
func (e *storeError) IsUnavailable() bool { return e.unavailable }

func notFoundError(op string, err error) error {
	return &storeError{op: op, err: err, notFound: true}
}

func conflictError(op string, err error) error {
	return &storeError{op: op, err: err, conflict: true}
}

func unavailableError(op string, err error) error {
	return &storeError{op: op, err: err, unavailable: true}
}

const mysqlDuplicateEntry = 1062

// wrapQueryError maps driver errors onto the store error taxonomy.
func wrapQueryError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return notFoundError(op, err)
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
		return conflictError(op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) {
		return unavailableError(op, err)
	}
	return &storeError{op: op, err: err}
}
