package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/webber-shop/api/internal/domain"
	"github.com/webber-shop/api/internal/platform/httpx"
	"github.com/webber-shop/api/internal/services"
)

// CouponHandlers exposes coupon administration endpoints.
type CouponHandlers struct {
	coupons services.CouponService
}

const maxCouponBodySize = 16 * 1024

// NewCouponHandlers constructs handlers over the coupon service.
func NewCouponHandlers(svc services.CouponService) *CouponHandlers {
	return &CouponHandlers{coupons: svc}
}

// Routes wires the /coupons endpoints onto the provided router.
func (h *CouponHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createCoupon)
	r.Get("/", h.listCoupons)
	r.Get("/{code}", h.getCoupon)
	r.Put("/{couponID}", h.updateCoupon)
	r.Delete("/{couponID}", h.deleteCoupon)
}

func (h *CouponHandlers) createCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxCouponBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	req, err := parseCouponRequest(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	coupon, err := h.coupons.CreateCoupon(ctx, services.CreateCouponCommand{
		Code:            req.Code,
		Type:            domain.CouponType(req.Type),
		Value:           req.Value,
		StartsAt:        req.startsAt,
		EndsAt:          req.endsAt,
		MinimumSubtotal: req.MinimumSubtotal,
		Active:          req.Active,
	})
	if err != nil {
		h.writeCouponError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, couponResponse{Coupon: buildCouponPayload(coupon)})
}

func (h *CouponHandlers) listCoupons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service is unavailable", http.StatusServiceUnavailable))
		return
	}

	page, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.CouponListFilter{
		ActiveOnly: strings.EqualFold(r.URL.Query().Get("active"), "true"),
		Pagination: page,
	}

	result, err := h.coupons.ListCoupons(ctx, filter)
	if err != nil {
		h.writeCouponError(ctx, w, err)
		return
	}

	payload := couponListResponse{
		Coupons:       make([]couponPayload, 0, len(result.Items)),
		NextPageToken: result.NextPageToken,
	}
	for _, coupon := range result.Items {
		payload.Coupons = append(payload.Coupons, buildCouponPayload(coupon))
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *CouponHandlers) getCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service is unavailable", http.StatusServiceUnavailable))
		return
	}

	coupon, err := h.coupons.GetCoupon(ctx, chi.URLParam(r, "code"))
	if err != nil {
		h.writeCouponError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, couponResponse{Coupon: buildCouponPayload(coupon)})
}

func (h *CouponHandlers) updateCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxCouponBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	req, err := parseCouponRequest(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	coupon, err := h.coupons.UpdateCoupon(ctx, services.UpdateCouponCommand{
		CouponID:        strings.TrimSpace(chi.URLParam(r, "couponID")),
		Code:            req.Code,
		Type:            domain.CouponType(req.Type),
		Value:           req.Value,
		StartsAt:        req.startsAt,
		EndsAt:          req.endsAt,
		MinimumSubtotal: req.MinimumSubtotal,
		Active:          req.Active,
	})
	if err != nil {
		h.writeCouponError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, couponResponse{Coupon: buildCouponPayload(coupon)})
}

func (h *CouponHandlers) deleteCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service is unavailable", http.StatusServiceUnavailable))
		return
	}

	if err := h.coupons.DeleteCoupon(ctx, strings.TrimSpace(chi.URLParam(r, "couponID"))); err != nil {
		h.writeCouponError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CouponHandlers) writeCouponError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCouponValidation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_found", "coupon not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCouponConflict):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_conflict", "coupon code already exists", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("coupon_error", "coupon operation failed", http.StatusInternalServerError))
	}
}

func buildCouponPayload(coupon services.Coupon) couponPayload {
	payload := couponPayload{
		ID:              coupon.ID,
		Code:            coupon.Code,
		Type:            string(coupon.Type),
		Value:           coupon.Value,
		MinimumSubtotal: coupon.MinimumSubtotal,
		Active:          coupon.Active,
		StartsAt:        formatTimePointer(coupon.StartsAt),
		EndsAt:          formatTimePointer(coupon.EndsAt),
		CreatedAt:       formatTime(coupon.CreatedAt),
		UpdatedAt:       formatTime(coupon.UpdatedAt),
	}
	return payload
}

type couponRequest struct {
	Code            string `json:"code"`
	Type            string `json:"type"`
	Value           int64  `json:"value"`
	StartsAt        string `json:"starts_at"`
	EndsAt          string `json:"ends_at"`
	MinimumSubtotal *int64 `json:"minimum_subtotal"`
	Active          bool   `json:"active"`

	startsAt *time.Time
	endsAt   *time.Time
}

func parseCouponRequest(body []byte) (couponRequest, error) {
	var req couponRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return req, errors.New("invalid JSON payload")
	}
	if raw := strings.TrimSpace(req.StartsAt); raw != "" {
		parsed, err := parseRFC3339(raw)
		if err != nil {
			return req, errors.New("starts_at must be an RFC3339 timestamp")
		}
		req.startsAt = &parsed
	}
	if raw := strings.TrimSpace(req.EndsAt); raw != "" {
		parsed, err := parseRFC3339(raw)
		if err != nil {
			return req, errors.New("ends_at must be an RFC3339 timestamp")
		}
		req.endsAt = &parsed
	}
	return req, nil
}

type couponResponse struct {
	Coupon couponPayload `json:"coupon"`
}

type couponListResponse struct {
	Coupons       []couponPayload `json:"coupons"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

type couponPayload struct {
	ID              string `json:"id"`
	Code            string `json:"code"`
	Type            string `json:"type"`
	Value           int64  `json:"value"`
	StartsAt        string `json:"starts_at,omitempty"`
	EndsAt          string `json:"ends_at,omitempty"`
	MinimumSubtotal *int64 `json:"minimum_subtotal,omitempty"`
	Active          bool   `json:"active"`
	CreatedAt       string `json:"created_at,omitempty"`
	UpdatedAt       string `json:"updated_at,omitempty"`
}
