package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/webber-shop/api/internal/domain"
	"github.com/webber-shop/api/internal/platform/httpx"
	"github.com/webber-shop/api/internal/services"
)

// OrderHandlers exposes order lifecycle endpoints for the current user.
type OrderHandlers struct {
	orders  services.OrderService
	pricing services.PricingEngine
}

const maxOrderBodySize = 32 * 1024

// NewOrderHandlers constructs handlers over the order service and pricing engine.
func NewOrderHandlers(orders services.OrderService, pricing services.PricingEngine) *OrderHandlers {
	return &OrderHandlers{
		orders:  orders,
		pricing: pricing,
	}
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(RequireUser())
	r.Post("/preview", h.preview)
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/status", h.getOrderStatus)
	r.Post("/{orderID}/cancel", h.cancelOrder)
}

func (h *OrderHandlers) preview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.pricing == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pricing_unavailable", "pricing engine is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req previewRequest
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
			return
		}
	}

	estimate, err := h.pricing.Preview(ctx, services.PreviewCommand{
		UserID:                currentUserID(r),
		DestinationPostalCode: strings.TrimSpace(req.DestinationPostalCode),
	})
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, previewResponse{Estimate: buildEstimatePayload(estimate)})
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	if req.ShippingAddress == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "shipping_address is required", http.StatusBadRequest))
		return
	}

	cmd := services.CreateOrderFromCartCommand{
		UserID:          currentUserID(r),
		PaymentMethod:   strings.TrimSpace(req.PaymentMethod),
		ShippingAddress: req.ShippingAddress.toDomain(),
		IdempotencyKey:  strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	}
	if req.BillingAddress != nil {
		cmd.BillingAddress = req.BillingAddress.toDomain()
	}

	order, err := h.orders.CreateFromCart(ctx, cmd)
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	page, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.OrderListFilter{
		UserID:     currentUserID(r),
		Pagination: page,
	}
	for _, raw := range r.URL.Query()["status"] {
		status, ok := parseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown order status "+raw, http.StatusBadRequest))
			return
		}
		filter.Status = append(filter.Status, status)
	}
	if from := strings.TrimSpace(r.URL.Query().Get("created_from")); from != "" {
		parsed, parseErr := parseRFC3339(from)
		if parseErr != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_from must be an RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.CreatedRange.From = &parsed
	}
	if to := strings.TrimSpace(r.URL.Query().Get("created_to")); to != "" {
		parsed, parseErr := parseRFC3339(to)
		if parseErr != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_to must be an RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.CreatedRange.To = &parsed
	}

	pageResult, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}

	payload := orderListResponse{
		Orders:        make([]orderPayload, 0, len(pageResult.Items)),
		NextPageToken: pageResult.NextPageToken,
	}
	for _, order := range pageResult.Items {
		payload.Orders = append(payload.Orders, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	opts := services.OrderReadOptions{}
	for _, include := range strings.Split(r.URL.Query().Get("include"), ",") {
		switch strings.TrimSpace(strings.ToLower(include)) {
		case "history":
			opts.IncludeHistory = true
		case "shipments":
			opts.IncludeShipments = true
		}
	}

	details, err := h.orders.GetOrder(ctx, orderID, opts)
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}
	if details.Order.UserID != currentUserID(r) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	payload := orderDetailsResponse{Order: buildOrderPayload(details.Order)}
	if opts.IncludeHistory {
		payload.History = buildOrderHistory(details.History)
	}
	if opts.IncludeShipments {
		payload.Shipments = buildShipmentPayloads(details.Shipments)
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *OrderHandlers) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	details, err := h.orders.GetOrder(ctx, orderID, services.OrderReadOptions{})
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}
	if details.Order.UserID != currentUserID(r) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	writeJSONResponse(w, http.StatusOK, orderStatusResponse{
		OrderID:   details.Order.ID,
		Status:    string(details.Order.Status),
		UpdatedAt: formatTime(details.Order.UpdatedAt),
	})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		UserID:  currentUserID(r),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		h.writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderValidation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderAccessDenied):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order has been modified; retry", http.StatusConflict))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOutOfStock):
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCouponInvalid), errors.Is(err, services.ErrCouponExpired), errors.Is(err, services.ErrCouponMinimumNotMet):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_rejected", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrPricingUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("pricing_unavailable", "pricing is temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "order operation failed", http.StatusInternalServerError))
	}
}

func parseOrderStatus(raw string) (domain.OrderStatus, bool) {
	switch domain.OrderStatus(strings.TrimSpace(strings.ToLower(raw))) {
	case domain.OrderStatusPending:
		return domain.OrderStatusPending, true
	case domain.OrderStatusPaid:
		return domain.OrderStatusPaid, true
	case domain.OrderStatusProcessing:
		return domain.OrderStatusProcessing, true
	case domain.OrderStatusShipped:
		return domain.OrderStatusShipped, true
	case domain.OrderStatusDelivered:
		return domain.OrderStatusDelivered, true
	case domain.OrderStatusCancelled:
		return domain.OrderStatusCancelled, true
	default:
		return "", false
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:                order.ID,
		OrderNumber:       order.OrderNumber,
		UserID:            order.UserID,
		Status:            string(order.Status),
		Currency:          strings.ToLower(order.Currency),
		PaymentMethod:     order.PaymentMethod,
		Items:             buildOrderItems(order.Items),
		Totals:            buildTotalsPayload(order.Totals),
		CouponCode:        cloneStringPointer(order.CouponCode),
		CheckoutSessionID: cloneStringPointer(order.CheckoutSessionID),
		PaymentIntentID:   cloneStringPointer(order.PaymentIntentID),
		ShippingAddress:   buildAddressPayload(order.ShippingAddress),
		BillingAddress:    buildAddressPayload(order.BillingAddress),
		CancelReason:      cloneStringPointer(order.CancelReason),
		CreatedAt:         formatTime(order.CreatedAt),
		UpdatedAt:         formatTime(order.UpdatedAt),
		PaidAt:            formatTimePointer(order.PaidAt),
		ShippedAt:         formatTimePointer(order.ShippedAt),
		DeliveredAt:       formatTimePointer(order.DeliveredAt),
		CancelledAt:       formatTimePointer(order.CancelledAt),
	}
	return payload
}

func buildOrderItems(items []services.OrderItem) []orderItemPayload {
	if len(items) == 0 {
		return []orderItemPayload{}
	}
	payload := make([]orderItemPayload, 0, len(items))
	for _, item := range items {
		payload = append(payload, orderItemPayload{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
		})
	}
	return payload
}

func buildTotalsPayload(totals services.OrderTotals) orderTotalsPayload {
	return orderTotalsPayload{
		Subtotal: totals.Subtotal,
		Discount: totals.Discount,
		Shipping: totals.Shipping,
		Tax:      totals.Tax,
		Total:    totals.Total,
	}
}

func buildEstimatePayload(estimate services.CartEstimate) estimatePayload {
	return estimatePayload{
		Currency:   strings.ToLower(estimate.Currency),
		Subtotal:   estimate.Subtotal,
		Discount:   estimate.Discount,
		Shipping:   estimate.Shipping,
		Tax:        estimate.Tax,
		Total:      estimate.Total,
		CouponCode: cloneStringPointer(estimate.CouponCode),
	}
}

func buildOrderHistory(entries []services.OrderHistory) []orderHistoryPayload {
	payload := make([]orderHistoryPayload, 0, len(entries))
	for _, entry := range entries {
		row := orderHistoryPayload{
			ID:        entry.ID,
			NewStatus: string(entry.NewStatus),
			Notes:     entry.Notes,
			CreatedAt: formatTime(entry.CreatedAt),
		}
		if entry.PreviousStatus != nil {
			prev := string(*entry.PreviousStatus)
			row.PreviousStatus = &prev
		}
		payload = append(payload, row)
	}
	return payload
}

type previewRequest struct {
	DestinationPostalCode string `json:"destination_postal_code"`
}

type previewResponse struct {
	Estimate estimatePayload `json:"estimate"`
}

type estimatePayload struct {
	Currency   string  `json:"currency"`
	Subtotal   int64   `json:"subtotal"`
	Discount   int64   `json:"discount"`
	Shipping   int64   `json:"shipping"`
	Tax        int64   `json:"tax"`
	Total      int64   `json:"total"`
	CouponCode *string `json:"coupon_code,omitempty"`
}

type createOrderRequest struct {
	PaymentMethod   string          `json:"payment_method"`
	ShippingAddress *addressPayload `json:"shipping_address"`
	BillingAddress  *addressPayload `json:"billing_address,omitempty"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Orders        []orderPayload `json:"orders"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderDetailsResponse struct {
	Order     orderPayload          `json:"order"`
	History   []orderHistoryPayload `json:"history,omitempty"`
	Shipments []shipmentPayload     `json:"shipments,omitempty"`
}

type orderStatusResponse struct {
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type orderPayload struct {
	ID                string              `json:"id"`
	OrderNumber       string              `json:"order_number"`
	UserID            string              `json:"user_id"`
	Status            string              `json:"status"`
	Currency          string              `json:"currency"`
	PaymentMethod     string              `json:"payment_method,omitempty"`
	Items             []orderItemPayload  `json:"items"`
	Totals            orderTotalsPayload  `json:"totals"`
	CouponCode        *string             `json:"coupon_code,omitempty"`
	CheckoutSessionID *string             `json:"checkout_session_id,omitempty"`
	PaymentIntentID   *string             `json:"payment_intent_id,omitempty"`
	ShippingAddress   addressPayload      `json:"shipping_address"`
	BillingAddress    addressPayload      `json:"billing_address"`
	CancelReason      *string             `json:"cancel_reason,omitempty"`
	CreatedAt         string              `json:"created_at,omitempty"`
	UpdatedAt         string              `json:"updated_at,omitempty"`
	PaidAt            string              `json:"paid_at,omitempty"`
	ShippedAt         string              `json:"shipped_at,omitempty"`
	DeliveredAt       string              `json:"delivered_at,omitempty"`
	CancelledAt       string              `json:"cancelled_at,omitempty"`
}

type orderItemPayload struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Total     int64  `json:"total"`
}

type orderTotalsPayload struct {
	Subtotal int64 `json:"subtotal"`
	Discount int64 `json:"discount"`
	Shipping int64 `json:"shipping"`
	Tax      int64 `json:"tax"`
	Total    int64 `json:"total"`
}

type orderHistoryPayload struct {
	ID             string  `json:"id"`
	PreviousStatus *string `json:"previous_status,omitempty"`
	NewStatus      string  `json:"new_status"`
	Notes          string  `json:"notes,omitempty"`
	CreatedAt      string  `json:"created_at,omitempty"`
}
