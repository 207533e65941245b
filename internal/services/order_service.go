package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/webber-shop/api/internal/domain"
	"github.com/webber-shop/api/internal/payments"
	"github.com/webber-shop/api/internal/repositories"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrOrderValidation indicates the command carried invalid input.
	ErrOrderValidation = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates the requested status transition is not allowed.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates a concurrent write clashed on the order row.
	ErrOrderConflict = errors.New("order: conflicting update")
	// ErrOrderAccessDenied indicates the caller does not own the order.
	ErrOrderAccessDenied = errors.New("order: access denied")
)

// orderStateTransitions is the lifecycle graph. Terminal states have no entry.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusPaid, domain.OrderStatusCancelled},
	domain.OrderStatusPaid:       {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
}

// cancellableStatuses mirrors the lifecycle graph: Cancelled is reachable from
// Pending and Paid only. Once fulfilment starts the order has to run through
// the shipment flow.
var cancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusPaid,
}

func canTransition(current, target domain.OrderStatus) bool {
	return slices.Contains(orderStateTransitions[current], target)
}

// OrderEventPublisher is the slice of the event publisher the order service needs.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, eventType, orderID string, payload any) error
}

// Refunder issues refunds against the payment processor.
type Refunder interface {
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error)
}

// ShipmentCreator purchases a carrier label for an order. It is called outside
// the status transition transaction so a slow carrier cannot hold row locks.
type ShipmentCreator interface {
	CreateShipmentForOrder(ctx context.Context, cmd CreateShipmentCommand) (Shipment, error)
}

// OrderServiceDeps wires repository and collaborator dependencies for the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	History     repositories.OrderHistoryRepository
	Carts       repositories.CartRepository
	Shipments   repositories.ShipmentRepository
	Counters    repositories.CounterRepository
	UnitOfWork  repositories.UnitOfWork
	Inventory   InventoryService
	Pricing     PricingEngine
	Refunds     Refunder
	ShipmentSvc ShipmentCreator
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      Logger
}

type orderService struct {
	orders      repositories.OrderRepository
	history     repositories.OrderHistoryRepository
	carts       repositories.CartRepository
	shipments   repositories.ShipmentRepository
	counters    repositories.CounterRepository
	uow         repositories.UnitOfWork
	inventory   InventoryService
	pricing     PricingEngine
	refunds     Refunder
	shipmentSvc ShipmentCreator
	events      OrderEventPublisher
	clock       func() time.Time
	newID       func() string
	logger      Logger
}

// NewOrderService constructs an OrderService and validates dependencies.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.History == nil {
		return nil, errors.New("order service: history repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order service: pricing engine is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return "ord_" + ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}

	return &orderService{
		orders:      deps.Orders,
		history:     deps.History,
		carts:       deps.Carts,
		shipments:   deps.Shipments,
		counters:    deps.Counters,
		uow:         deps.UnitOfWork,
		inventory:   deps.Inventory,
		pricing:     deps.Pricing,
		refunds:     deps.Refunds,
		shipmentSvc: deps.ShipmentSvc,
		events:      deps.Events,
		clock:       func() time.Time { return clock().UTC() },
		newID:       newID,
		logger:      logger,
	}, nil
}

// CreateFromCart snapshots the user's cart into a pending order. The order
// insert, all inventory holds, the creation history row, and the cart delete
// commit or roll back together.
func (s *orderService) CreateFromCart(ctx context.Context, cmd CreateOrderFromCartCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderValidation)
	}
	paymentMethod := strings.ToLower(strings.TrimSpace(cmd.PaymentMethod))
	if paymentMethod == "" {
		return Order{}, fmt.Errorf("%w: payment method is required", ErrOrderValidation)
	}
	if err := validateAddress(cmd.ShippingAddress); err != nil {
		return Order{}, err
	}
	billing := cmd.BillingAddress
	if billing == (domain.Address{}) {
		billing = cmd.ShippingAddress
	}

	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrCartNotFound, ErrCartConflict)
	}
	if len(cart.Items) == 0 {
		return Order{}, fmt.Errorf("%w: cart is empty", ErrOrderValidation)
	}

	estimate, err := s.pricing.Preview(ctx, PreviewCommand{
		UserID:                userID,
		DestinationPostalCode: cmd.ShippingAddress.PostalCode,
	})
	if err != nil {
		return Order{}, err
	}

	now := s.clock()
	order := domain.Order{
		ID:              s.newID(),
		UserID:          userID,
		Status:          domain.OrderStatusPending,
		Currency:        cart.Currency,
		PaymentMethod:   paymentMethod,
		Items:           orderItemsFromCart(cart.Items),
		Totals:          totalsFromEstimate(estimate),
		CouponCode:      cart.CouponCode,
		ShippingAddress: cmd.ShippingAddress,
		BillingAddress:  billing,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = runInTx(ctx, s.uow, func(ctx context.Context) error {
		seq, err := s.counters.Next(ctx, "orders", 1)
		if err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		order.OrderNumber = fmt.Sprintf("WB-%04d-%06d", now.Year(), seq)

		if err := s.orders.Insert(ctx, order); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}

		if err := s.inventory.ReserveForOrder(ctx, ReserveOrderCommand{
			OrderID: order.ID,
			Lines:   reservationLines(order.Items),
		}); err != nil {
			return err
		}

		if err := s.history.Append(ctx, domain.OrderHistory{
			ID:        s.newID(),
			OrderID:   order.ID,
			NewStatus: domain.OrderStatusPending,
			Notes:     "order created",
			CreatedAt: now,
		}); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}

		if err := s.carts.Delete(ctx, userID); err != nil {
			mapped := mapRepositoryError(err, ErrCartNotFound, ErrCartConflict)
			if !errors.Is(mapped, ErrCartNotFound) {
				return mapped
			}
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, "order.created", order.ID, map[string]any{
		"orderNumber": order.OrderNumber,
		"userId":      order.UserID,
		"total":       order.Totals.Total,
		"currency":    order.Currency,
	})
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID:     filter.UserID,
		Status:     filter.Status,
		DateRange:  filter.CreatedRange,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	return page, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (OrderDetails, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return OrderDetails{}, fmt.Errorf("%w: order id is required", ErrOrderValidation)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return OrderDetails{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}

	details := OrderDetails{Order: order}
	if opts.IncludeHistory {
		history, err := s.history.ListByOrder(ctx, orderID)
		if err != nil {
			return OrderDetails{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		details.History = history
	}
	if opts.IncludeShipments && s.shipments != nil {
		shipments, err := s.shipments.ListByOrder(ctx, orderID)
		if err != nil {
			return OrderDetails{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		details.Shipments = shipments
	}
	return details, nil
}

// TransitionStatus moves an order along the lifecycle graph and runs the
// side effects the target state requires. The order is re-read inside the
// transaction so concurrent transitions serialise on the row lock.
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderValidation)
	}

	// Label purchase happens before the transaction so a slow carrier cannot
	// hold the order row lock. The pre-read keeps an illegal transition from
	// buying a label; the status is checked again inside the transaction.
	if cmd.Target == domain.OrderStatusShipped && s.shipmentSvc != nil {
		current, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		if current.Status != domain.OrderStatusShipped {
			if !canTransition(current.Status, domain.OrderStatusShipped) {
				return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, current.Status, domain.OrderStatusShipped)
			}
			if err := s.ensureShipment(ctx, orderID); err != nil {
				return Order{}, err
			}
		}
	}

	var (
		updated      domain.Order
		refundIntent string
		refundAmount int64
	)
	err := runInTx(ctx, s.uow, func(ctx context.Context) error {
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		if order.Status == cmd.Target {
			updated = order
			return nil
		}
		if !canTransition(order.Status, cmd.Target) {
			return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, order.Status, cmd.Target)
		}

		now := s.clock()
		previous := order.Status

		switch cmd.Target {
		case domain.OrderStatusPaid:
			if err := s.inventory.CommitOrder(ctx, order.ID); err != nil {
				return err
			}
		case domain.OrderStatusCancelled:
			if err := s.inventory.ReleaseOrder(ctx, order.ID); err != nil {
				return err
			}
			if order.PaidAt != nil && order.PaymentIntentID != nil {
				refundIntent = *order.PaymentIntentID
				refundAmount = order.Totals.Total
			}
		}

		applyStatusTransition(&order, cmd.Target, now)
		if cmd.Target == domain.OrderStatusCancelled && cmd.Notes != "" {
			order.CancelReason = optionalString(cmd.Notes)
		}

		if err := s.orders.Update(ctx, order); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		if err := s.history.Append(ctx, domain.OrderHistory{
			ID:             s.newID(),
			OrderID:        order.ID,
			PreviousStatus: &previous,
			NewStatus:      cmd.Target,
			Notes:          transitionNotes(cmd.Actor, cmd.Notes),
			CreatedAt:      now,
		}); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}

		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	// A paid order cancelled by an operator still sends the money back; the
	// refund runs after the transaction commits, same as Cancel.
	if refundIntent != "" && s.refunds != nil {
		s.refund(ctx, updated, refundIntent, refundAmount, cmd.Notes)
	}

	s.publishEvent(ctx, "order.status_changed", updated.ID, map[string]any{
		"orderNumber": updated.OrderNumber,
		"status":      string(updated.Status),
		"actor":       cmd.Actor,
	})
	return updated, nil
}

// Cancel releases held stock, marks the order cancelled, and refunds the
// processor charge when one settled. The refund runs after the transaction
// commits; a refund failure is logged and surfaced through events, never by
// un-cancelling the order.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderValidation)
	}

	var (
		updated      domain.Order
		refundIntent string
		refundAmount int64
	)
	err := runInTx(ctx, s.uow, func(ctx context.Context) error {
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		if cmd.UserID != "" && order.UserID != cmd.UserID {
			return fmt.Errorf("%w: %s", ErrOrderAccessDenied, orderID)
		}
		if order.Status == domain.OrderStatusCancelled {
			updated = order
			return nil
		}
		if !slices.Contains(cancellableStatuses, order.Status) {
			return fmt.Errorf("%w: cannot cancel %s order", ErrOrderInvalidState, order.Status)
		}

		if err := s.inventory.ReleaseOrder(ctx, order.ID); err != nil {
			return err
		}

		now := s.clock()
		previous := order.Status

		if order.PaidAt != nil && order.PaymentIntentID != nil {
			refundIntent = *order.PaymentIntentID
			refundAmount = order.Totals.Total
		}

		applyStatusTransition(&order, domain.OrderStatusCancelled, now)
		order.CancelReason = optionalString(cmd.Reason)

		if err := s.orders.Update(ctx, order); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		if err := s.history.Append(ctx, domain.OrderHistory{
			ID:             s.newID(),
			OrderID:        order.ID,
			PreviousStatus: &previous,
			NewStatus:      domain.OrderStatusCancelled,
			Notes:          transitionNotes(cmd.UserID, cmd.Reason),
			CreatedAt:      now,
		}); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}

		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if refundIntent != "" && s.refunds != nil {
		s.refund(ctx, updated, refundIntent, refundAmount, cmd.Reason)
	}

	s.publishEvent(ctx, "order.cancelled", updated.ID, map[string]any{
		"orderNumber": updated.OrderNumber,
		"reason":      cmd.Reason,
		"refunded":    refundIntent != "",
	})
	return updated, nil
}

func (s *orderService) ensureShipment(ctx context.Context, orderID string) error {
	if s.shipments != nil {
		existing, err := s.shipments.ListByOrder(ctx, orderID)
		if err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		if len(existing) > 0 {
			return nil
		}
	}
	if _, err := s.shipmentSvc.CreateShipmentForOrder(ctx, CreateShipmentCommand{OrderID: orderID}); err != nil {
		return err
	}
	return nil
}

func (s *orderService) refund(ctx context.Context, order domain.Order, intentID string, amount int64, reason string) {
	_, err := s.refunds.Refund(ctx, payments.PaymentContext{Currency: order.Currency}, payments.RefundRequest{
		IntentID:       intentID,
		Amount:         valuePtr(amount),
		Reason:         reason,
		IdempotencyKey: "refund-" + order.ID,
	})
	if err != nil {
		s.logger(ctx, "order.refund_failed", map[string]any{
			"orderId":  order.ID,
			"intentId": intentID,
			"error":    err.Error(),
		})
		s.publishEvent(ctx, "order.refund_failed", order.ID, map[string]any{"intentId": intentID})
		return
	}
	s.publishEvent(ctx, "order.refunded", order.ID, map[string]any{"intentId": intentID, "amount": amount})
}

func (s *orderService) publishEvent(ctx context.Context, eventType, orderID string, payload map[string]any) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, eventType, orderID, payload); err != nil {
		s.logger(ctx, "order.event.publish_failed", map[string]any{
			"eventType": eventType,
			"orderId":   orderID,
			"error":     err.Error(),
		})
	}
}

// applyStatusTransition mutates the order for the target state and stamps the
// matching timestamp.
func applyStatusTransition(order *domain.Order, target domain.OrderStatus, now time.Time) {
	order.Status = target
	order.UpdatedAt = now
	switch target {
	case domain.OrderStatusPaid:
		order.PaidAt = &now
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		order.CancelledAt = &now
	}
}

func transitionNotes(actor, notes string) string {
	notes = strings.TrimSpace(notes)
	actor = strings.TrimSpace(actor)
	switch {
	case notes != "" && actor != "":
		return fmt.Sprintf("%s (by %s)", notes, actor)
	case notes != "":
		return notes
	case actor != "":
		return "by " + actor
	default:
		return ""
	}
}

func validateAddress(addr domain.Address) error {
	switch {
	case strings.TrimSpace(addr.Name) == "":
		return fmt.Errorf("%w: recipient name is required", ErrOrderValidation)
	case strings.TrimSpace(addr.Line1) == "":
		return fmt.Errorf("%w: address line is required", ErrOrderValidation)
	case strings.TrimSpace(addr.City) == "":
		return fmt.Errorf("%w: city is required", ErrOrderValidation)
	case strings.TrimSpace(addr.PostalCode) == "":
		return fmt.Errorf("%w: postal code is required", ErrOrderValidation)
	case strings.TrimSpace(addr.Country) == "":
		return fmt.Errorf("%w: country is required", ErrOrderValidation)
	}
	return nil
}

func orderItemsFromCart(items []domain.CartItem) []domain.OrderItem {
	out := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		out = append(out, domain.OrderItem{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.UnitPrice * int64(item.Quantity),
		})
	}
	return out
}

func totalsFromEstimate(estimate CartEstimate) domain.OrderTotals {
	return domain.OrderTotals{
		Subtotal: estimate.Subtotal,
		Discount: estimate.Discount,
		Shipping: estimate.Shipping,
		Tax:      estimate.Tax,
		Total:    estimate.Total,
	}
}

func reservationLines(items []domain.OrderItem) []ReservationLine {
	lines := make([]ReservationLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, ReservationLine{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
		})
	}
	return lines
}
