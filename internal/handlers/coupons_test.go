package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/webber-shop/api/internal/domain"
	"github.com/webber-shop/api/internal/services"
)

type stubCouponService struct {
	evaluateFunc func(ctx context.Context, cmd services.CouponEvaluationCommand) (services.CouponEvaluation, error)
	createFunc   func(ctx context.Context, cmd services.CreateCouponCommand) (services.Coupon, error)
	updateFunc   func(ctx context.Context, cmd services.UpdateCouponCommand) (services.Coupon, error)
	deleteFunc   func(ctx context.Context, couponID string) error
	getFunc      func(ctx context.Context, code string) (services.Coupon, error)
	listFunc     func(ctx context.Context, filter services.CouponListFilter) (domain.CursorPage[services.Coupon], error)
}

func (s *stubCouponService) Evaluate(ctx context.Context, cmd services.CouponEvaluationCommand) (services.CouponEvaluation, error) {
	return s.evaluateFunc(ctx, cmd)
}

func (s *stubCouponService) CreateCoupon(ctx context.Context, cmd services.CreateCouponCommand) (services.Coupon, error) {
	return s.createFunc(ctx, cmd)
}

func (s *stubCouponService) UpdateCoupon(ctx context.Context, cmd services.UpdateCouponCommand) (services.Coupon, error) {
	return s.updateFunc(ctx, cmd)
}

func (s *stubCouponService) DeleteCoupon(ctx context.Context, couponID string) error {
	return s.deleteFunc(ctx, couponID)
}

func (s *stubCouponService) GetCoupon(ctx context.Context, code string) (services.Coupon, error) {
	return s.getFunc(ctx, code)
}

func (s *stubCouponService) ListCoupons(ctx context.Context, filter services.CouponListFilter) (domain.CursorPage[services.Coupon], error) {
	return s.listFunc(ctx, filter)
}

var _ services.CouponService = (*stubCouponService)(nil)

func newCouponRouter(handler *CouponHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/coupons", handler.Routes)
	return router
}

func TestCouponHandlersCreateCoupon(t *testing.T) {
	var captured services.CreateCouponCommand
	service := &stubCouponService{
		createFunc: func(ctx context.Context, cmd services.CreateCouponCommand) (services.Coupon, error) {
			captured = cmd
			return services.Coupon{
				ID:        "cpn_1",
				Code:      "SPRING24",
				Type:      domain.CouponTypePercentage,
				Value:     10,
				Active:    true,
				CreatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
			}, nil
		},
	}

	router := newCouponRouter(NewCouponHandlers(service))

	body := `{"code":"SPRING24","type":"percentage","value":10,"active":true,"ends_at":"2024-06-01T00:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/coupons/", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Code != "SPRING24" || captured.Value != 10 {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.EndsAt == nil || !captured.EndsAt.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected ends_at to be parsed, got %v", captured.EndsAt)
	}

	var resp couponResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Coupon.ID != "cpn_1" {
		t.Fatalf("expected coupon id cpn_1, got %q", resp.Coupon.ID)
	}
}

func TestCouponHandlersCreateCouponConflict(t *testing.T) {
	service := &stubCouponService{
		createFunc: func(ctx context.Context, cmd services.CreateCouponCommand) (services.Coupon, error) {
			return services.Coupon{}, services.ErrCouponConflict
		},
	}

	router := newCouponRouter(NewCouponHandlers(service))

	req := httptest.NewRequest(http.MethodPost, "/coupons/", strings.NewReader(`{"code":"SPRING24","type":"percentage","value":10}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestCouponHandlersCreateCouponInvalidDefinition(t *testing.T) {
	service := &stubCouponService{
		createFunc: func(ctx context.Context, cmd services.CreateCouponCommand) (services.Coupon, error) {
			return services.Coupon{}, services.ErrCouponValidation
		},
	}

	router := newCouponRouter(NewCouponHandlers(service))

	req := httptest.NewRequest(http.MethodPost, "/coupons/", strings.NewReader(`{"code":"BAD","type":"percentage","value":150}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCouponHandlersListCoupons(t *testing.T) {
	service := &stubCouponService{
		listFunc: func(ctx context.Context, filter services.CouponListFilter) (domain.CursorPage[services.Coupon], error) {
			if !filter.ActiveOnly {
				t.Fatalf("expected active-only filter")
			}
			return domain.CursorPage[services.Coupon]{
				Items: []services.Coupon{
					{ID: "cpn_1", Code: "SPRING24", Type: domain.CouponTypePercentage, Value: 10, Active: true},
				},
				NextPageToken: "next-1",
			}, nil
		},
	}

	router := newCouponRouter(NewCouponHandlers(service))

	req := httptest.NewRequest(http.MethodGet, "/coupons/?active=true", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp couponListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Coupons) != 1 || resp.NextPageToken != "next-1" {
		t.Fatalf("unexpected list response %+v", resp)
	}
}

func TestCouponHandlersGetCouponNotFound(t *testing.T) {
	service := &stubCouponService{
		getFunc: func(ctx context.Context, code string) (services.Coupon, error) {
			return services.Coupon{}, services.ErrCouponInvalid
		},
	}

	router := newCouponRouter(NewCouponHandlers(service))

	req := httptest.NewRequest(http.MethodGet, "/coupons/UNKNOWN", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestCouponHandlersDeleteCoupon(t *testing.T) {
	deleted := ""
	service := &stubCouponService{
		deleteFunc: func(ctx context.Context, couponID string) error {
			deleted = couponID
			return nil
		},
	}

	router := newCouponRouter(NewCouponHandlers(service))

	req := httptest.NewRequest(http.MethodDelete, "/coupons/cpn_1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if deleted != "cpn_1" {
		t.Fatalf("expected delete of cpn_1, got %q", deleted)
	}
}
