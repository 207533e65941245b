package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/webber-shop/api/internal/repositories"
)

var (
	// ErrOutOfStock indicates a requested quantity exceeds availability.
	ErrOutOfStock = errors.New("inventory: out of stock")
	// ErrStockNotFound indicates no stock record exists for the variant.
	ErrStockNotFound = errors.New("inventory: stock not found")
	// ErrInventoryValidation indicates the command carried invalid input.
	ErrInventoryValidation = errors.New("inventory: invalid input")
)

// InventoryEventPublisher is the slice of the event publisher the inventory
// service needs. Publish failures are logged, never surfaced to callers.
type InventoryEventPublisher interface {
	PublishInventoryEvent(ctx context.Context, eventType, variantID string, payload any) error
}

// InventoryServiceDeps wires dependencies for the inventory service.
type InventoryServiceDeps struct {
	Inventory repositories.InventoryRepository
	Events    InventoryEventPublisher
	Clock     func() time.Time
	Logger    Logger
}

type inventoryService struct {
	inventory repositories.InventoryRepository
	events    InventoryEventPublisher
	clock     func() time.Time
	logger    Logger
}

// NewInventoryService constructs an InventoryService and validates dependencies.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory service: inventory repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}

	return &inventoryService{
		inventory: deps.Inventory,
		events:    deps.Events,
		clock:     func() time.Time { return clock().UTC() },
		logger:    logger,
	}, nil
}

// ReserveForOrder places a hold for every order line. It is intended to run
// inside the order creation transaction: the first failing line aborts the
// call and the enclosing rollback undoes the holds already taken.
func (s *inventoryService) ReserveForOrder(ctx context.Context, cmd ReserveOrderCommand) error {
	if strings.TrimSpace(cmd.OrderID) == "" {
		return fmt.Errorf("%w: order id is required", ErrInventoryValidation)
	}
	if len(cmd.Lines) == 0 {
		return fmt.Errorf("%w: no lines to reserve", ErrInventoryValidation)
	}

	now := s.clock()
	for _, line := range cmd.Lines {
		if strings.TrimSpace(line.VariantID) == "" {
			return fmt.Errorf("%w: variant id is required", ErrInventoryValidation)
		}
		if line.Quantity < 1 {
			return fmt.Errorf("%w: quantity must be positive for %s", ErrInventoryValidation, line.VariantID)
		}

		result, err := s.inventory.Reserve(ctx, repositories.InventoryReserveRequest{
			OrderID:   cmd.OrderID,
			ProductID: line.ProductID,
			VariantID: line.VariantID,
			Quantity:  line.Quantity,
			Now:       now,
		})
		if err != nil {
			return mapInventoryError(err, line.VariantID)
		}
		if result.AlreadyReserved {
			continue
		}

		s.publish(ctx, "inventory.reserved", line.VariantID, map[string]any{
			"orderId":   cmd.OrderID,
			"variantId": line.VariantID,
			"quantity":  line.Quantity,
			"available": result.Stock.Available,
		})
	}
	return nil
}

// CommitOrder converts the order's reservations into permanent deductions.
// Missing reservations are skipped so replays stay safe.
func (s *inventoryService) CommitOrder(ctx context.Context, orderID string) error {
	if strings.TrimSpace(orderID) == "" {
		return fmt.Errorf("%w: order id is required", ErrInventoryValidation)
	}

	reservations, err := s.inventory.ListReservations(ctx, orderID)
	if err != nil {
		return mapInventoryError(err, "")
	}

	now := s.clock()
	for _, reservation := range reservations {
		result, err := s.inventory.Commit(ctx, repositories.InventoryCommitRequest{
			OrderID:   orderID,
			VariantID: reservation.VariantID,
			Now:       now,
		})
		if err != nil {
			return mapInventoryError(err, reservation.VariantID)
		}

		s.publish(ctx, "inventory.committed", reservation.VariantID, map[string]any{
			"orderId":   orderID,
			"variantId": reservation.VariantID,
			"quantity":  reservation.Quantity,
			"available": result.Stock.Available,
			"reserved":  result.Stock.Reserved,
		})
	}
	return nil
}

// ReleaseOrder returns the order's reserved stock to availability. Releasing
// an order with no reservations is a no-op.
func (s *inventoryService) ReleaseOrder(ctx context.Context, orderID string) error {
	if strings.TrimSpace(orderID) == "" {
		return fmt.Errorf("%w: order id is required", ErrInventoryValidation)
	}

	reservations, err := s.inventory.ListReservations(ctx, orderID)
	if err != nil {
		return mapInventoryError(err, "")
	}

	now := s.clock()
	for _, reservation := range reservations {
		result, err := s.inventory.Release(ctx, repositories.InventoryReleaseRequest{
			OrderID:   orderID,
			VariantID: reservation.VariantID,
			Now:       now,
		})
		if err != nil {
			return mapInventoryError(err, reservation.VariantID)
		}
		if result.Released == 0 {
			continue
		}

		s.publish(ctx, "inventory.released", reservation.VariantID, map[string]any{
			"orderId":   orderID,
			"variantId": reservation.VariantID,
			"quantity":  result.Released,
			"available": result.Stock.Available,
		})
	}
	return nil
}

func (s *inventoryService) GetStock(ctx context.Context, variantID string) (InventoryRecord, error) {
	variantID = strings.TrimSpace(variantID)
	if variantID == "" {
		return InventoryRecord{}, fmt.Errorf("%w: variant id is required", ErrInventoryValidation)
	}

	stock, err := s.inventory.GetStock(ctx, variantID)
	if err != nil {
		return InventoryRecord{}, mapInventoryError(err, variantID)
	}
	return stock, nil
}

func (s *inventoryService) AdjustStock(ctx context.Context, cmd AdjustStockCommand) (InventoryRecord, error) {
	if strings.TrimSpace(cmd.VariantID) == "" {
		return InventoryRecord{}, fmt.Errorf("%w: variant id is required", ErrInventoryValidation)
	}
	if cmd.Delta == 0 {
		return InventoryRecord{}, fmt.Errorf("%w: delta must be non-zero", ErrInventoryValidation)
	}

	stock, err := s.inventory.AdjustStock(ctx, repositories.InventoryAdjustRequest{
		ProductID: cmd.ProductID,
		VariantID: cmd.VariantID,
		Delta:     cmd.Delta,
		Now:       s.clock(),
	})
	if err != nil {
		return InventoryRecord{}, mapInventoryError(err, cmd.VariantID)
	}

	s.publish(ctx, "inventory.adjusted", cmd.VariantID, map[string]any{
		"variantId": cmd.VariantID,
		"delta":     cmd.Delta,
		"available": stock.Available,
	})
	return stock, nil
}

func (s *inventoryService) publish(ctx context.Context, eventType, variantID string, payload map[string]any) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishInventoryEvent(ctx, eventType, variantID, payload); err != nil {
		s.logger(ctx, "inventory.event.publish_failed", map[string]any{
			"eventType": eventType,
			"variantId": variantID,
			"error":     err.Error(),
		})
	}
}

func mapInventoryError(err error, variantID string) error {
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return fmt.Errorf("%w: %s", ErrOutOfStock, variantID)
		case repositories.InventoryErrorStockNotFound:
			return fmt.Errorf("%w: %s", ErrStockNotFound, variantID)
		}
	}
	return mapRepositoryError(err, ErrStockNotFound, ErrInventoryValidation)
}
