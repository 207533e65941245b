package services

import (
	"context"
	"time"

	domain "github.com/webber-shop/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination           = domain.Pagination
	Cart                 = domain.Cart
	CartItem             = domain.CartItem
	CartEstimate         = domain.CartEstimate
	Order                = domain.Order
	OrderItem            = domain.OrderItem
	OrderTotals          = domain.OrderTotals
	OrderStatus          = domain.OrderStatus
	OrderHistory         = domain.OrderHistory
	Coupon               = domain.Coupon
	CouponType           = domain.CouponType
	Address              = domain.Address
	Shipment             = domain.Shipment
	TrackingEvent        = domain.TrackingEvent
	ShippingRate         = domain.ShippingRate
	RateRequest          = domain.RateRequest
	InventoryRecord      = domain.InventoryRecord
	InventoryReservation = domain.InventoryReservation
)

// CartService manages mutable cart state for a single user.
type CartService interface {
	GetOrCreateCart(ctx context.Context, userID string) (Cart, error)
	AddOrUpdateItem(ctx context.Context, cmd UpsertCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
	ApplyCoupon(ctx context.Context, cmd ApplyCouponCommand) (Cart, error)
	RemoveCoupon(ctx context.Context, userID string) (Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

// PricingEngine computes cart totals without persisting them.
type PricingEngine interface {
	Preview(ctx context.Context, cmd PreviewCommand) (CartEstimate, error)
}

// CouponService maintains coupon definitions and evaluates codes against subtotals.
type CouponService interface {
	Evaluate(ctx context.Context, cmd CouponEvaluationCommand) (CouponEvaluation, error)
	CreateCoupon(ctx context.Context, cmd CreateCouponCommand) (Coupon, error)
	UpdateCoupon(ctx context.Context, cmd UpdateCouponCommand) (Coupon, error)
	DeleteCoupon(ctx context.Context, couponID string) error
	GetCoupon(ctx context.Context, code string) (Coupon, error)
	ListCoupons(ctx context.Context, filter CouponListFilter) (domain.CursorPage[Coupon], error)
}

// InventoryService coordinates stock holds across an order's lines. Reserve,
// commit, and release run inside the caller's transaction when one is active.
type InventoryService interface {
	ReserveForOrder(ctx context.Context, cmd ReserveOrderCommand) error
	CommitOrder(ctx context.Context, orderID string) error
	ReleaseOrder(ctx context.Context, orderID string) error
	GetStock(ctx context.Context, variantID string) (InventoryRecord, error)
	AdjustStock(ctx context.Context, cmd AdjustStockCommand) (InventoryRecord, error)
}

// OrderService owns the order lifecycle from cart snapshot to terminal state.
type OrderService interface {
	CreateFromCart(ctx context.Context, cmd CreateOrderFromCartCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (OrderDetails, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// PaymentService creates processor sessions for pending orders and reconciles
// webhook events back onto them.
type PaymentService interface {
	CreateCheckoutSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSessionResult, error)
	CreatePaymentIntent(ctx context.Context, cmd CreatePaymentIntentCommand) (PaymentIntentResult, error)
	HandleWebhook(ctx context.Context, cmd WebhookCommand) error
}

// ShippingService quotes rates and manages carrier shipments for orders.
type ShippingService interface {
	GetRates(ctx context.Context, req RateRequest) ([]ShippingRate, error)
	CreateShipmentForOrder(ctx context.Context, cmd CreateShipmentCommand) (Shipment, error)
	Track(ctx context.Context, trackingNumber string) (Shipment, error)
	CancelShipmentsForOrder(ctx context.Context, orderID string) error
}

// Command and read-option DTOs ----------------------------------------------

// UpsertCartItemCommand adds a line to the user's cart or replaces its quantity.
type UpsertCartItemCommand struct {
	UserID    string
	ProductID string
	VariantID string
	Name      string
	Quantity  int
	UnitPrice int64
	Currency  string
}

type RemoveCartItemCommand struct {
	UserID    string
	VariantID string
}

type ApplyCouponCommand struct {
	UserID string
	Code   string
}

// PreviewCommand asks the pricing engine for totals over a cart snapshot.
type PreviewCommand struct {
	UserID                string
	DestinationPostalCode string
}

// CouponEvaluationCommand checks a code against a subtotal at a point in time.
type CouponEvaluationCommand struct {
	Code     string
	Subtotal int64
	At       time.Time
}

// CouponEvaluation is the outcome of applying a coupon to a subtotal.
type CouponEvaluation struct {
	Coupon   Coupon
	Discount int64
}

type CreateCouponCommand struct {
	Code            string
	Type            CouponType
	Value           int64
	StartsAt        *time.Time
	EndsAt          *time.Time
	MinimumSubtotal *int64
	Active          bool
}

type UpdateCouponCommand struct {
	CouponID        string
	Code            string
	Type            CouponType
	Value           int64
	StartsAt        *time.Time
	EndsAt          *time.Time
	MinimumSubtotal *int64
	Active          bool
}

type CouponListFilter struct {
	ActiveOnly bool
	Pagination Pagination
}

// ReserveOrderCommand holds stock for every line of a pending order.
type ReserveOrderCommand struct {
	OrderID string
	Lines   []ReservationLine
}

type ReservationLine struct {
	ProductID string
	VariantID string
	Quantity  int
}

type AdjustStockCommand struct {
	ProductID string
	VariantID string
	Delta     int
}

// CreateOrderFromCartCommand snapshots the user's cart into a pending order.
// PaymentMethod is the processor method the buyer selected ("card", "pix",
// ...); it is stored opaquely and required before checkout can start.
type CreateOrderFromCartCommand struct {
	UserID          string
	PaymentMethod   string
	ShippingAddress Address
	BillingAddress  Address
	IdempotencyKey  string
}

type OrderListFilter struct {
	UserID       string
	Status       []OrderStatus
	CreatedRange domain.RangeQuery[time.Time]
	Pagination   Pagination
}

// OrderReadOptions toggles expensive joins on order reads.
type OrderReadOptions struct {
	IncludeHistory   bool
	IncludeShipments bool
}

// OrderDetails is an order with its optional expansions loaded.
type OrderDetails struct {
	Order     Order
	History   []OrderHistory
	Shipments []Shipment
}

// OrderStatusTransitionCommand moves an order along the lifecycle graph.
type OrderStatusTransitionCommand struct {
	OrderID string
	Target  OrderStatus
	Actor   string
	Notes   string
}

type CancelOrderCommand struct {
	OrderID string
	UserID  string
	Reason  string
}

// CreateCheckoutSessionCommand opens a hosted processor session for a pending order.
type CreateCheckoutSessionCommand struct {
	OrderID    string
	UserID     string
	SuccessURL string
	CancelURL  string
}

// CheckoutSessionResult carries what the client needs to redirect to the processor.
type CheckoutSessionResult struct {
	SessionID   string
	RedirectURL string
	ExpiresAt   time.Time
}

// CreatePaymentIntentCommand opens an embedded-flow payment intent for a pending order.
type CreatePaymentIntentCommand struct {
	OrderID string
	UserID  string
}

// PaymentIntentResult carries the client secret for the embedded payment flow.
type PaymentIntentResult struct {
	IntentID     string
	ClientSecret string
}

// WebhookCommand carries the raw processor callback for verification and reconciliation.
type WebhookCommand struct {
	Provider  string
	Payload   []byte
	Signature string
}

// CreateShipmentCommand purchases a carrier label for a paid order.
type CreateShipmentCommand struct {
	OrderID     string
	Carrier     string
	ServiceName string
	WeightGrams int
}
