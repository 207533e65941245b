package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/webber-shop/api/internal/domain"
	"github.com/webber-shop/api/internal/payments"
	"github.com/webber-shop/api/internal/repositories"
)

type fakeOrderRepository struct {
	byID map[string]domain.Order
}

func (f *fakeOrderRepository) Insert(_ context.Context, order domain.Order) error {
	if f.byID == nil {
		f.byID = map[string]domain.Order{}
	}
	if _, ok := f.byID[order.ID]; ok {
		return stubConflictError{}
	}
	f.byID[order.ID] = order
	return nil
}

func (f *fakeOrderRepository) Update(_ context.Context, order domain.Order) error {
	if _, ok := f.byID[order.ID]; !ok {
		return stubNotFoundError{}
	}
	f.byID[order.ID] = order
	return nil
}

func (f *fakeOrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	order, ok := f.byID[orderID]
	if !ok {
		return domain.Order{}, stubNotFoundError{}
	}
	return order, nil
}

func (f *fakeOrderRepository) FindByCheckoutSessionID(_ context.Context, sessionID string) (domain.Order, error) {
	for _, order := range f.byID {
		if order.CheckoutSessionID != nil && *order.CheckoutSessionID == sessionID {
			return order, nil
		}
	}
	return domain.Order{}, stubNotFoundError{}
}

func (f *fakeOrderRepository) FindByPaymentIntentID(_ context.Context, intentID string) (domain.Order, error) {
	for _, order := range f.byID {
		if order.PaymentIntentID != nil && *order.PaymentIntentID == intentID {
			return order, nil
		}
	}
	return domain.Order{}, stubNotFoundError{}
}

func (f *fakeOrderRepository) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	page := domain.CursorPage[domain.Order]{}
	for _, order := range f.byID {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		page.Items = append(page.Items, order)
	}
	return page, nil
}

type fakeOrderHistoryRepository struct {
	entries []domain.OrderHistory
}

func (f *fakeOrderHistoryRepository) Append(_ context.Context, entry domain.OrderHistory) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeOrderHistoryRepository) ListByOrder(_ context.Context, orderID string) ([]domain.OrderHistory, error) {
	var out []domain.OrderHistory
	for _, entry := range f.entries {
		if entry.OrderID == orderID {
			out = append(out, entry)
		}
	}
	return out, nil
}

type fakeCounterRepository struct {
	values map[string]int64
}

func (f *fakeCounterRepository) Next(_ context.Context, counterID string, step int64) (int64, error) {
	if f.values == nil {
		f.values = map[string]int64{}
	}
	f.values[counterID] += step
	return f.values[counterID], nil
}

type fakeShipmentRepository struct {
	byTracking map[string]domain.Shipment
}

func (f *fakeShipmentRepository) Insert(_ context.Context, shipment domain.Shipment) error {
	if f.byTracking == nil {
		f.byTracking = map[string]domain.Shipment{}
	}
	f.byTracking[shipment.TrackingNumber] = shipment
	return nil
}

func (f *fakeShipmentRepository) Update(_ context.Context, shipment domain.Shipment) error {
	f.byTracking[shipment.TrackingNumber] = shipment
	return nil
}

func (f *fakeShipmentRepository) FindByTrackingNumber(_ context.Context, trackingNumber string) (domain.Shipment, error) {
	shipment, ok := f.byTracking[trackingNumber]
	if !ok {
		return domain.Shipment{}, stubNotFoundError{}
	}
	return shipment, nil
}

func (f *fakeShipmentRepository) ListByOrder(_ context.Context, orderID string) ([]domain.Shipment, error) {
	var out []domain.Shipment
	for _, shipment := range f.byTracking {
		if shipment.OrderID == orderID {
			out = append(out, shipment)
		}
	}
	return out, nil
}

type passthroughUnitOfWork struct{}

func (passthroughUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type recordingOrderEvents struct {
	events []string
}

func (r *recordingOrderEvents) PublishOrderEvent(_ context.Context, eventType, _ string, _ any) error {
	r.events = append(r.events, eventType)
	return nil
}

type fakeRefunder struct {
	requests []payments.RefundRequest
	err      error
}

func (f *fakeRefunder) Refund(_ context.Context, _ payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return payments.PaymentDetails{}, f.err
	}
	return payments.PaymentDetails{IntentID: req.IntentID, Status: payments.StatusRefunded}, nil
}

type fakeShipmentCreator struct {
	created []string
	err     error
}

func (f *fakeShipmentCreator) CreateShipmentForOrder(_ context.Context, cmd CreateShipmentCommand) (domain.Shipment, error) {
	if f.err != nil {
		return domain.Shipment{}, f.err
	}
	f.created = append(f.created, cmd.OrderID)
	return domain.Shipment{OrderID: cmd.OrderID, TrackingNumber: "1ZTEST001"}, nil
}

type orderTestEnv struct {
	orders    *fakeOrderRepository
	history   *fakeOrderHistoryRepository
	carts     *fakeCartRepository
	shipments *fakeShipmentRepository
	inventory *fakeInventoryRepository
	events    *recordingOrderEvents
	refunds   *fakeRefunder
	shipper   *fakeShipmentCreator
	svc       OrderService
}

func newOrderTestEnv(t *testing.T) *orderTestEnv {
	t.Helper()
	env := &orderTestEnv{
		orders:    &fakeOrderRepository{byID: map[string]domain.Order{}},
		history:   &fakeOrderHistoryRepository{},
		carts:     &fakeCartRepository{byUser: map[string]domain.Cart{}},
		shipments: &fakeShipmentRepository{byTracking: map[string]domain.Shipment{}},
		inventory: newFakeInventoryRepository(map[string]domain.InventoryRecord{
			"var-1": {VariantID: "var-1", Available: 10},
			"var-2": {VariantID: "var-2", Available: 5},
		}),
		events:  &recordingOrderEvents{},
		refunds: &fakeRefunder{},
		shipper: &fakeShipmentCreator{},
	}

	clock := func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	inventorySvc := newTestInventoryService(t, env.inventory, nil)
	pricing, err := NewPricingEngine(PricingEngineDeps{
		Carts:            env.carts,
		Coupons:          newTestCouponService(t, &fakeCouponRepository{}),
		Rates:            &fakeRateQuoter{rates: []domain.ShippingRate{{Carrier: "usps", TotalRate: 995, Currency: "usd"}}},
		TaxRateBps:       1000,
		OriginPostalCode: "10001",
		Clock:            clock,
	})
	if err != nil {
		t.Fatalf("NewPricingEngine returned error: %v", err)
	}

	seq := 0
	env.svc, err = NewOrderService(OrderServiceDeps{
		Orders:     env.orders,
		History:    env.history,
		Carts:      env.carts,
		Shipments:  env.shipments,
		Counters:   &fakeCounterRepository{},
		UnitOfWork: passthroughUnitOfWork{},
		Inventory:  inventorySvc,
		Pricing:    pricing,
		Refunds:    env.refunds,
		ShipmentSvc: env.shipper,
		Events:     env.events,
		Clock:      clock,
		IDGenerator: func() string {
			seq++
			return fmt.Sprintf("ord_%04d", seq)
		},
	})
	if err != nil {
		t.Fatalf("NewOrderService returned error: %v", err)
	}
	return env
}

func (env *orderTestEnv) seedCart(items ...domain.CartItem) {
	env.carts.byUser["user-1"] = domain.Cart{
		ID: "cart_1", UserID: "user-1", Currency: "usd", Items: items,
	}
}

var testAddress = domain.Address{
	Name: "Pat", Line1: "1 Main St", City: "Portland", PostalCode: "97201", Country: "US",
}

func TestCreateFromCartSnapshotsOrder(t *testing.T) {
	env := newOrderTestEnv(t)
	env.seedCart(
		domain.CartItem{ProductID: "prod-1", VariantID: "var-1", Name: "Blue Mug", Quantity: 2, UnitPrice: 1_500},
		domain.CartItem{ProductID: "prod-2", VariantID: "var-2", Name: "Red Mug", Quantity: 1, UnitPrice: 2_000},
	)

	order, err := env.svc.CreateFromCart(context.Background(), CreateOrderFromCartCommand{
		UserID:          "user-1",
		PaymentMethod:   "card",
		ShippingAddress: testAddress,
	})
	if err != nil {
		t.Fatalf("CreateFromCart returned error: %v", err)
	}

	if order.Status != domain.OrderStatusPending {
		t.Fatalf("status = %s, want pending", order.Status)
	}
	if order.OrderNumber != "WB-2024-000001" {
		t.Fatalf("order number = %q", order.OrderNumber)
	}
	if order.PaymentMethod != "card" {
		t.Fatalf("payment method = %q, want card", order.PaymentMethod)
	}
	if len(order.Items) != 2 || order.Items[0].Total != 3_000 {
		t.Fatalf("unexpected items: %+v", order.Items)
	}
	if order.Totals.Subtotal != 5_000 {
		t.Fatalf("subtotal = %d, want 5000", order.Totals.Subtotal)
	}
	if order.BillingAddress != testAddress {
		t.Fatalf("billing should default to shipping, got %+v", order.BillingAddress)
	}

	if env.inventory.stocks["var-1"].Available != 8 {
		t.Fatalf("var-1 not reserved: %+v", env.inventory.stocks["var-1"])
	}
	if _, ok := env.carts.byUser["user-1"]; ok {
		t.Fatal("cart should be deleted after order creation")
	}
	if len(env.history.entries) != 1 || env.history.entries[0].PreviousStatus != nil {
		t.Fatalf("expected one creation history row with nil previous status, got %+v", env.history.entries)
	}
	if len(env.events.events) != 1 || env.events.events[0] != "order.created" {
		t.Fatalf("events = %v", env.events.events)
	}
}

func TestCreateFromCartEmptyCart(t *testing.T) {
	env := newOrderTestEnv(t)
	env.carts.byUser["user-1"] = domain.Cart{ID: "cart_1", UserID: "user-1", Currency: "usd"}

	_, err := env.svc.CreateFromCart(context.Background(), CreateOrderFromCartCommand{
		UserID:          "user-1",
		PaymentMethod:   "card",
		ShippingAddress: testAddress,
	})
	if !errors.Is(err, ErrOrderValidation) {
		t.Fatalf("expected ErrOrderValidation, got %v", err)
	}
}

func TestCreateFromCartOutOfStock(t *testing.T) {
	env := newOrderTestEnv(t)
	env.seedCart(domain.CartItem{ProductID: "prod-1", VariantID: "var-1", Quantity: 50, UnitPrice: 100})

	_, err := env.svc.CreateFromCart(context.Background(), CreateOrderFromCartCommand{
		UserID:          "user-1",
		PaymentMethod:   "card",
		ShippingAddress: testAddress,
	})
	if !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock, got %v", err)
	}
}

func TestCreateFromCartMissingAddress(t *testing.T) {
	env := newOrderTestEnv(t)
	env.seedCart(domain.CartItem{ProductID: "prod-1", VariantID: "var-1", Quantity: 1, UnitPrice: 100})

	_, err := env.svc.CreateFromCart(context.Background(), CreateOrderFromCartCommand{
		UserID:          "user-1",
		PaymentMethod:   "card",
		ShippingAddress: domain.Address{Name: "Pat"},
	})
	if !errors.Is(err, ErrOrderValidation) {
		t.Fatalf("expected ErrOrderValidation, got %v", err)
	}
}

func TestCreateFromCartMissingPaymentMethod(t *testing.T) {
	env := newOrderTestEnv(t)
	env.seedCart(domain.CartItem{ProductID: "prod-1", VariantID: "var-1", Quantity: 1, UnitPrice: 100})

	_, err := env.svc.CreateFromCart(context.Background(), CreateOrderFromCartCommand{
		UserID:          "user-1",
		PaymentMethod:   "   ",
		ShippingAddress: testAddress,
	})
	if !errors.Is(err, ErrOrderValidation) {
		t.Fatalf("expected ErrOrderValidation, got %v", err)
	}
	if env.inventory.stocks["var-1"].Available != 10 {
		t.Fatalf("stock should be untouched: %+v", env.inventory.stocks["var-1"])
	}
}

func createTestOrder(t *testing.T, env *orderTestEnv) domain.Order {
	t.Helper()
	env.seedCart(domain.CartItem{ProductID: "prod-1", VariantID: "var-1", Name: "Blue Mug", Quantity: 2, UnitPrice: 1_500})
	order, err := env.svc.CreateFromCart(context.Background(), CreateOrderFromCartCommand{
		UserID:          "user-1",
		PaymentMethod:   "card",
		ShippingAddress: testAddress,
	})
	if err != nil {
		t.Fatalf("CreateFromCart returned error: %v", err)
	}
	return order
}

func TestTransitionStatusToPaidCommitsInventory(t *testing.T) {
	env := newOrderTestEnv(t)
	order := createTestOrder(t, env)

	updated, err := env.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID: order.ID,
		Target:  domain.OrderStatusPaid,
		Actor:   "webhook",
	})
	if err != nil {
		t.Fatalf("TransitionStatus returned error: %v", err)
	}
	if updated.Status != domain.OrderStatusPaid {
		t.Fatalf("status = %s, want paid", updated.Status)
	}
	if updated.PaidAt == nil {
		t.Fatal("PaidAt not stamped")
	}

	stock := env.inventory.stocks["var-1"]
	if stock.Available != 8 || stock.Reserved != 0 {
		t.Fatalf("stock after commit = %+v", stock)
	}
	if len(env.history.entries) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(env.history.entries))
	}
	last := env.history.entries[1]
	if last.PreviousStatus == nil || *last.PreviousStatus != domain.OrderStatusPending || last.NewStatus != domain.OrderStatusPaid {
		t.Fatalf("unexpected history row: %+v", last)
	}
}

func TestTransitionStatusRejectsIllegalEdge(t *testing.T) {
	env := newOrderTestEnv(t)
	order := createTestOrder(t, env)

	_, err := env.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID: order.ID,
		Target:  domain.OrderStatusShipped,
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
}

func TestTransitionStatusSameStatusIsNoop(t *testing.T) {
	env := newOrderTestEnv(t)
	order := createTestOrder(t, env)
	before := len(env.history.entries)

	updated, err := env.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID: order.ID,
		Target:  domain.OrderStatusPending,
	})
	if err != nil {
		t.Fatalf("TransitionStatus returned error: %v", err)
	}
	if updated.Status != domain.OrderStatusPending {
		t.Fatalf("status = %s", updated.Status)
	}
	if len(env.history.entries) != before {
		t.Fatal("no-op transition appended history")
	}
}

func TestTransitionToShippedCreatesShipment(t *testing.T) {
	env := newOrderTestEnv(t)
	order := createTestOrder(t, env)

	for _, target := range []domain.OrderStatus{domain.OrderStatusPaid, domain.OrderStatusProcessing, domain.OrderStatusShipped} {
		if _, err := env.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
			OrderID: order.ID,
			Target:  target,
		}); err != nil {
			t.Fatalf("transition to %s returned error: %v", target, err)
		}
	}

	if len(env.shipper.created) != 1 || env.shipper.created[0] != order.ID {
		t.Fatalf("shipment creations = %v", env.shipper.created)
	}
	final := env.orders.byID[order.ID]
	if final.ShippedAt == nil {
		t.Fatal("ShippedAt not stamped")
	}
}

func TestCancelPendingReleasesStock(t *testing.T) {
	env := newOrderTestEnv(t)
	order := createTestOrder(t, env)

	updated, err := env.svc.Cancel(context.Background(), CancelOrderCommand{
		OrderID: order.ID,
		UserID:  "user-1",
		Reason:  "changed my mind",
	})
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if updated.Status != domain.OrderStatusCancelled {
		t.Fatalf("status = %s", updated.Status)
	}
	if updated.CancelReason == nil || *updated.CancelReason != "changed my mind" {
		t.Fatalf("cancel reason = %v", updated.CancelReason)
	}
	if env.inventory.stocks["var-1"].Available != 10 {
		t.Fatalf("stock not released: %+v", env.inventory.stocks["var-1"])
	}
	if len(env.refunds.requests) != 0 {
		t.Fatalf("unpaid cancel should not refund, got %v", env.refunds.requests)
	}
}

func TestCancelPaidOrderRefunds(t *testing.T) {
	env := newOrderTestEnv(t)
	order := createTestOrder(t, env)

	intentID := "pi_123"
	stored := env.orders.byID[order.ID]
	stored.PaymentIntentID = &intentID
	env.orders.byID[order.ID] = stored

	if _, err := env.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID: order.ID,
		Target:  domain.OrderStatusPaid,
	}); err != nil {
		t.Fatalf("transition to paid returned error: %v", err)
	}

	if _, err := env.svc.Cancel(context.Background(), CancelOrderCommand{
		OrderID: order.ID,
		Reason:  "defective",
	}); err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}

	if len(env.refunds.requests) != 1 {
		t.Fatalf("expected one refund, got %d", len(env.refunds.requests))
	}
	if env.refunds.requests[0].IntentID != "pi_123" {
		t.Fatalf("refund intent = %q", env.refunds.requests[0].IntentID)
	}
}

func TestTransitionPaidToCancelledRefunds(t *testing.T) {
	env := newOrderTestEnv(t)
	order := createTestOrder(t, env)

	intentID := "pi_123"
	stored := env.orders.byID[order.ID]
	stored.PaymentIntentID = &intentID
	env.orders.byID[order.ID] = stored

	if _, err := env.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID: order.ID,
		Target:  domain.OrderStatusPaid,
	}); err != nil {
		t.Fatalf("transition to paid returned error: %v", err)
	}

	updated, err := env.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID: order.ID,
		Target:  domain.OrderStatusCancelled,
		Actor:   "ops-1",
	})
	if err != nil {
		t.Fatalf("transition to cancelled returned error: %v", err)
	}
	if updated.Status != domain.OrderStatusCancelled {
		t.Fatalf("status = %s", updated.Status)
	}
	if len(env.refunds.requests) != 1 {
		t.Fatalf("expected one refund, got %d", len(env.refunds.requests))
	}
	if env.refunds.requests[0].IntentID != "pi_123" {
		t.Fatalf("refund intent = %q", env.refunds.requests[0].IntentID)
	}
	if env.inventory.stocks["var-1"].Available != 10 {
		t.Fatalf("stock not released: %+v", env.inventory.stocks["var-1"])
	}
}

func TestTransitionToShippedFromPaidBuysNoLabel(t *testing.T) {
	env := newOrderTestEnv(t)
	order := createTestOrder(t, env)

	if _, err := env.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID: order.ID,
		Target:  domain.OrderStatusPaid,
	}); err != nil {
		t.Fatalf("transition to paid returned error: %v", err)
	}

	_, err := env.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID: order.ID,
		Target:  domain.OrderStatusShipped,
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
	if len(env.shipper.created) != 0 {
		t.Fatalf("no label should be bought for a rejected transition, got %v", env.shipper.created)
	}
}

func TestCancelProcessingOrderRejected(t *testing.T) {
	env := newOrderTestEnv(t)
	order := createTestOrder(t, env)

	for _, target := range []domain.OrderStatus{domain.OrderStatusPaid, domain.OrderStatusProcessing} {
		if _, err := env.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
			OrderID: order.ID,
			Target:  target,
		}); err != nil {
			t.Fatalf("transition to %s returned error: %v", target, err)
		}
	}
	before := len(env.history.entries)

	_, err := env.svc.Cancel(context.Background(), CancelOrderCommand{OrderID: order.ID})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
	if len(env.history.entries) != before {
		t.Fatal("rejected cancel appended history")
	}
}

func TestCancelShippedOrderRejected(t *testing.T) {
	env := newOrderTestEnv(t)
	order := createTestOrder(t, env)

	for _, target := range []domain.OrderStatus{domain.OrderStatusPaid, domain.OrderStatusProcessing, domain.OrderStatusShipped} {
		if _, err := env.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
			OrderID: order.ID,
			Target:  target,
		}); err != nil {
			t.Fatalf("transition to %s returned error: %v", target, err)
		}
	}

	_, err := env.svc.Cancel(context.Background(), CancelOrderCommand{OrderID: order.ID})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
}

func TestCancelForeignOrderDenied(t *testing.T) {
	env := newOrderTestEnv(t)
	order := createTestOrder(t, env)

	_, err := env.svc.Cancel(context.Background(), CancelOrderCommand{
		OrderID: order.ID,
		UserID:  "someone-else",
	})
	if !errors.Is(err, ErrOrderAccessDenied) {
		t.Fatalf("expected ErrOrderAccessDenied, got %v", err)
	}
}

func TestGetOrderWithHistory(t *testing.T) {
	env := newOrderTestEnv(t)
	order := createTestOrder(t, env)

	details, err := env.svc.GetOrder(context.Background(), order.ID, OrderReadOptions{IncludeHistory: true})
	if err != nil {
		t.Fatalf("GetOrder returned error: %v", err)
	}
	if details.Order.ID != order.ID {
		t.Fatalf("order id = %q", details.Order.ID)
	}
	if len(details.History) != 1 {
		t.Fatalf("expected creation history row, got %d", len(details.History))
	}
}

func TestGetOrderUnknown(t *testing.T) {
	env := newOrderTestEnv(t)

	_, err := env.svc.GetOrder(context.Background(), "ord_missing", OrderReadOptions{})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
