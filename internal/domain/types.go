package domain

import "time"

// Money amounts are integer minor units (e.g. cents) in the currency of the
// aggregate that carries them.

// OrderStatus captures the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusPaid       OrderStatus = "paid"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// CouponType distinguishes percentage discounts from fixed amounts.
type CouponType string

const (
	CouponTypePercentage CouponType = "percentage"
	CouponTypeFixed      CouponType = "fixed"
)

// Cart is the mutable pre-checkout container for a single user.
type Cart struct {
	ID         string
	UserID     string
	Currency   string
	Items      []CartItem
	CouponCode *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CartItem is one line in a cart, unique per (cart, variant).
type CartItem struct {
	ProductID string
	VariantID string
	Name      string
	Quantity  int
	UnitPrice int64
}

// CartEstimate carries the totals computed for a cart without persisting them.
type CartEstimate struct {
	Currency   string
	Subtotal   int64
	Discount   int64
	Shipping   int64
	Tax        int64
	Total      int64
	CouponCode *string
}

// Order is the immutable record of a purchase. Line items and totals are
// frozen at creation time; only the status and payment/shipment references
// change afterwards, through controlled transitions.
type Order struct {
	ID                string
	OrderNumber       string
	UserID            string
	Status            OrderStatus
	Currency          string
	PaymentMethod     string
	Items             []OrderItem
	Totals            OrderTotals
	CouponCode        *string
	CheckoutSessionID *string
	PaymentIntentID   *string
	ShippingAddress   Address
	BillingAddress    Address
	CancelReason      *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	PaidAt            *time.Time
	ShippedAt         *time.Time
	DeliveredAt       *time.Time
	CancelledAt       *time.Time
}

// OrderItem is a frozen order line; UnitPrice is the price at purchase time
// and is never re-derived from the live product price.
type OrderItem struct {
	ProductID string
	VariantID string
	Name      string
	Quantity  int
	UnitPrice int64
	Total     int64
}

// OrderTotals breaks the order total into its components.
type OrderTotals struct {
	Subtotal int64
	Discount int64
	Shipping int64
	Tax      int64
	Total    int64
}

// OrderHistory is one append-only log entry per status transition.
// PreviousStatus is nil for the creation row.
type OrderHistory struct {
	ID             string
	OrderID        string
	PreviousStatus *OrderStatus
	NewStatus      OrderStatus
	Notes          string
	CreatedAt      time.Time
}

// InventoryRecord tracks stock for a single product variant.
// Available never goes below zero; Reserved counts units held by
// not-yet-committed reservations.
type InventoryRecord struct {
	VariantID string
	ProductID string
	Available int
	Reserved  int
	UpdatedAt time.Time
}

// InventoryReservation is a temporary hold on stock for one order line,
// keyed by (order, variant) so repeated reserves are idempotent.
type InventoryReservation struct {
	OrderID   string
	VariantID string
	Quantity  int
	CreatedAt time.Time
}

// Coupon defines a discount code. Value is a whole percentage for
// percentage coupons and a minor-unit amount for fixed coupons.
type Coupon struct {
	ID              string
	Code            string
	Type            CouponType
	Value           int64
	StartsAt        *time.Time
	EndsAt          *time.Time
	MinimumSubtotal *int64
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Address is copied onto orders at creation time, never referenced.
type Address struct {
	Name       string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// Shipment links an order to a carrier label and its tracking timeline.
type Shipment struct {
	ID             string
	OrderID        string
	TrackingNumber string
	Carrier        string
	ServiceName    string
	LabelURL       string
	Status         string
	Events         []TrackingEvent
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TrackingEvent is one append-only entry in a shipment's tracking history.
type TrackingEvent struct {
	OccurredAt  time.Time
	Location    string
	Description string
}

// ShippingRate is a single quote returned by the carrier gateway.
type ShippingRate struct {
	Carrier           string
	ServiceName       string
	TotalRate         int64
	Currency          string
	EstimatedDelivery *time.Time
}

// RateRequest describes a parcel for carrier rate quoting.
type RateRequest struct {
	OriginPostalCode      string
	DestinationPostalCode string
	WeightGrams           int
	LengthCm              int
	WidthCm               int
	HeightCm              int
}

// Payment records a processor interaction attached to an order.
type Payment struct {
	ID         string
	OrderID    string
	Provider   string
	IntentID   string
	SessionID  string
	Amount     int64
	Currency   string
	Status     string
	FailureMsg string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CursorPage wraps a page of results with the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}
