package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/webber-shop/api/internal/platform/httpx"
	"github.com/webber-shop/api/internal/services"
)

// CartHandlers exposes authenticated cart endpoints for the current user.
type CartHandlers struct {
	carts         services.CartService
	couponLimiter rateLimiter
}

const maxCartBodySize = 16 * 1024

// NewCartHandlers constructs handlers over the cart service. The optional
// limiter throttles coupon-apply attempts per user to slow code guessing.
func NewCartHandlers(carts services.CartService, opts ...CartHandlerOption) *CartHandlers {
	h := &CartHandlers{carts: carts}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CartHandlerOption customises cart handler construction.
type CartHandlerOption func(*CartHandlers)

// WithCouponRateLimit bounds coupon-apply attempts to limit per window per user.
func WithCouponRateLimit(limit int, window time.Duration) CartHandlerOption {
	return func(h *CartHandlers) {
		h.couponLimiter = newSimpleRateLimiter(limit, window, time.Now)
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(RequireUser())
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.upsertItem)
	r.Delete("/items/{variantID}", h.removeItem)
	r.Post("/coupon", h.applyCoupon)
	r.Delete("/coupon", h.removeCoupon)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	cart, err := h.carts.GetOrCreateCart(ctx, currentUserID(r))
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	if err := h.carts.ClearCart(ctx, currentUserID(r)); err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) upsertItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req upsertCartItemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.AddOrUpdateItem(ctx, services.UpsertCartItemCommand{
		UserID:    currentUserID(r),
		ProductID: strings.TrimSpace(req.ProductID),
		VariantID: strings.TrimSpace(req.VariantID),
		Name:      strings.TrimSpace(req.Name),
		Quantity:  req.Quantity,
		UnitPrice: req.UnitPrice,
		Currency:  strings.TrimSpace(req.Currency),
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	variantID := strings.TrimSpace(chi.URLParam(r, "variantID"))
	if variantID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "variant id is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.RemoveItem(ctx, services.RemoveCartItemCommand{
		UserID:    currentUserID(r),
		VariantID: variantID,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	userID := currentUserID(r)
	if h.couponLimiter != nil && !h.couponLimiter.Allow(userID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many coupon attempts; slow down", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req applyCouponRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "coupon code is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.ApplyCoupon(ctx, services.ApplyCouponCommand{
		UserID: userID,
		Code:   req.Code,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) removeCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	cart, err := h.carts.RemoveCoupon(ctx, currentUserID(r))
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCartValidation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_item_not_found", "cart item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart has been modified; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrCouponInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_invalid", "coupon code is not valid", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponExpired):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_expired", "coupon code has expired", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCouponMinimumNotMet):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_minimum_not_met", err.Error(), http.StatusUnprocessableEntity))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "cart operation failed", http.StatusInternalServerError))
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func setCartResponseHeaders(w http.ResponseWriter, cart services.Cart) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	if !cart.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", cart.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	if etag := buildCartETag(cart); etag != "" {
		w.Header().Set("ETag", etag)
	}
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		ID:         strings.TrimSpace(cart.ID),
		UserID:     strings.TrimSpace(cart.UserID),
		Currency:   strings.ToLower(strings.TrimSpace(cart.Currency)),
		ItemsCount: len(cart.Items),
		Items:      buildCartItems(cart.Items),
		CouponCode: cloneStringPointer(cart.CouponCode),
	}
	if !cart.UpdatedAt.IsZero() {
		payload.UpdatedAt = formatTime(cart.UpdatedAt)
	}
	return payload
}

func buildCartItems(items []services.CartItem) []cartItemPayload {
	if len(items) == 0 {
		return []cartItemPayload{}
	}

	payload := make([]cartItemPayload, 0, len(items))
	for _, item := range items {
		payload = append(payload, cartItemPayload{
			ProductID: strings.TrimSpace(item.ProductID),
			VariantID: strings.TrimSpace(item.VariantID),
			Name:      strings.TrimSpace(item.Name),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: int64(item.Quantity) * item.UnitPrice,
		})
	}
	return payload
}

func buildCartETag(cart services.Cart) string {
	if strings.TrimSpace(cart.ID) == "" || cart.UpdatedAt.IsZero() {
		return ""
	}
	input := fmt.Sprintf("%s:%d", strings.TrimSpace(cart.ID), cart.UpdatedAt.UTC().UnixNano())
	sum := sha256.Sum256([]byte(input))
	token := hex.EncodeToString(sum[:8])
	return fmt.Sprintf(`W/"%s"`, token)
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	Currency   string            `json:"currency"`
	ItemsCount int               `json:"items_count"`
	Items      []cartItemPayload `json:"items"`
	CouponCode *string           `json:"coupon_code,omitempty"`
	UpdatedAt  string            `json:"updated_at,omitempty"`
}

type cartItemPayload struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	LineTotal int64  `json:"line_total"`
}

type upsertCartItemRequest struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Currency  string `json:"currency"`
}

type applyCouponRequest struct {
	Code string `json:"code"`
}
