package repositories

import (
	"context"
	"time"

	domain "github.com/webber-shop/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Orders() OrderRepository
	OrderHistory() OrderHistoryRepository
	Inventory() InventoryRepository
	Coupons() CouponRepository
	Shipments() ShipmentRepository
	Counters() CounterRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartRepository owns cart header + items persistence. One cart per user.
type CartRepository interface {
	Get(ctx context.Context, userID string) (domain.Cart, error)
	Upsert(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	Delete(ctx context.Context, userID string) error
}

// OrderRepository persists order headers and provides query helpers for users
// and for webhook reconciliation lookups by processor reference.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByCheckoutSessionID(ctx context.Context, sessionID string) (domain.Order, error)
	FindByPaymentIntentID(ctx context.Context, intentID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderHistoryRepository stores the append-only status transition log.
type OrderHistoryRepository interface {
	Append(ctx context.Context, entry domain.OrderHistory) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.OrderHistory, error)
}

// InventoryRepository manages stock levels and reservation lifecycle with transactional guarantees.
type InventoryRepository interface {
	Reserve(ctx context.Context, req InventoryReserveRequest) (InventoryReserveResult, error)
	Commit(ctx context.Context, req InventoryCommitRequest) (InventoryCommitResult, error)
	Release(ctx context.Context, req InventoryReleaseRequest) (InventoryReleaseResult, error)
	ListReservations(ctx context.Context, orderID string) ([]domain.InventoryReservation, error)
	GetStock(ctx context.Context, variantID string) (domain.InventoryRecord, error)
	AdjustStock(ctx context.Context, req InventoryAdjustRequest) (domain.InventoryRecord, error)
}

// InventoryReserveRequest asks for a hold on one variant for one order line.
type InventoryReserveRequest struct {
	OrderID   string
	ProductID string
	VariantID string
	Quantity  int
	Now       time.Time
}

// InventoryReserveResult reports the updated stock record. AlreadyReserved is
// true when a reservation for (order, variant) existed and nothing changed.
type InventoryReserveResult struct {
	Stock           domain.InventoryRecord
	AlreadyReserved bool
}

// InventoryCommitRequest finalises a reservation into a permanent deduction.
type InventoryCommitRequest struct {
	OrderID   string
	VariantID string
	Now       time.Time
}

// InventoryCommitResult reports the updated stock record after commit.
type InventoryCommitResult struct {
	Stock domain.InventoryRecord
}

// InventoryReleaseRequest restores reserved stock back to availability.
type InventoryReleaseRequest struct {
	OrderID   string
	VariantID string
	Now       time.Time
}

// InventoryReleaseResult reports the stock record and the quantity returned.
// Released is zero when no reservation existed (double release is a no-op).
type InventoryReleaseResult struct {
	Stock    domain.InventoryRecord
	Released int
}

// InventoryAdjustRequest sets or deltas the available quantity for a variant.
type InventoryAdjustRequest struct {
	ProductID string
	VariantID string
	Delta     int
	Now       time.Time
}

// CouponRepository maintains coupon definitions.
type CouponRepository interface {
	Insert(ctx context.Context, coupon domain.Coupon) error
	Update(ctx context.Context, coupon domain.Coupon) error
	Delete(ctx context.Context, couponID string) error
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	List(ctx context.Context, filter CouponListFilter) (domain.CursorPage[domain.Coupon], error)
}

// ShipmentRepository stores carrier shipments and their tracking timelines.
type ShipmentRepository interface {
	Insert(ctx context.Context, shipment domain.Shipment) error
	Update(ctx context.Context, shipment domain.Shipment) error
	FindByTrackingNumber(ctx context.Context, trackingNumber string) (domain.Shipment, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Shipment, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository evaluates dependency probes for readiness reporting.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type CouponListFilter struct {
	ActiveOnly bool
	Pagination domain.Pagination
}
