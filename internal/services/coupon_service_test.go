package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/webber-shop/api/internal/domain"
	"github.com/webber-shop/api/internal/repositories"
)

type fakeCouponRepository struct {
	byCode   map[string]domain.Coupon
	inserted []domain.Coupon
	updated  []domain.Coupon
	deleted  []string
	findErr  error
}

func (f *fakeCouponRepository) Insert(_ context.Context, coupon domain.Coupon) error {
	if _, ok := f.byCode[coupon.Code]; ok {
		return stubConflictError{}
	}
	if f.byCode == nil {
		f.byCode = map[string]domain.Coupon{}
	}
	f.byCode[coupon.Code] = coupon
	f.inserted = append(f.inserted, coupon)
	return nil
}

func (f *fakeCouponRepository) Update(_ context.Context, coupon domain.Coupon) error {
	f.updated = append(f.updated, coupon)
	return nil
}

func (f *fakeCouponRepository) Delete(_ context.Context, couponID string) error {
	f.deleted = append(f.deleted, couponID)
	return nil
}

func (f *fakeCouponRepository) FindByCode(_ context.Context, code string) (domain.Coupon, error) {
	if f.findErr != nil {
		return domain.Coupon{}, f.findErr
	}
	coupon, ok := f.byCode[code]
	if !ok {
		return domain.Coupon{}, stubNotFoundError{}
	}
	return coupon, nil
}

func (f *fakeCouponRepository) List(_ context.Context, _ repositories.CouponListFilter) (domain.CursorPage[domain.Coupon], error) {
	page := domain.CursorPage[domain.Coupon]{}
	for _, coupon := range f.byCode {
		page.Items = append(page.Items, coupon)
	}
	return page, nil
}

type stubNotFoundError struct{}

func (stubNotFoundError) Error() string       { return "not found" }
func (stubNotFoundError) IsNotFound() bool    { return true }
func (stubNotFoundError) IsConflict() bool    { return false }
func (stubNotFoundError) IsUnavailable() bool { return false }

type stubConflictError struct{}

func (stubConflictError) Error() string       { return "conflict" }
func (stubConflictError) IsNotFound() bool    { return false }
func (stubConflictError) IsConflict() bool    { return true }
func (stubConflictError) IsUnavailable() bool { return false }

func newTestCouponService(t *testing.T, repo *fakeCouponRepository) CouponService {
	t.Helper()
	svc, err := NewCouponService(CouponServiceDeps{
		Coupons:     repo,
		Clock:       func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
		IDGenerator: func() string { return "cpn_test" },
	})
	if err != nil {
		t.Fatalf("NewCouponService returned error: %v", err)
	}
	return svc
}

func TestCouponEvaluatePercentage(t *testing.T) {
	repo := &fakeCouponRepository{byCode: map[string]domain.Coupon{
		"SPRING10": {ID: "cpn_1", Code: "SPRING10", Type: domain.CouponTypePercentage, Value: 10, Active: true},
	}}
	svc := newTestCouponService(t, repo)

	eval, err := svc.Evaluate(context.Background(), CouponEvaluationCommand{Code: " spring10 ", Subtotal: 10_000})
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if eval.Discount != 1_000 {
		t.Fatalf("discount = %d, want 1000", eval.Discount)
	}
}

func TestCouponEvaluateFixedClampsToSubtotal(t *testing.T) {
	repo := &fakeCouponRepository{byCode: map[string]domain.Coupon{
		"FIVEOFF": {ID: "cpn_1", Code: "FIVEOFF", Type: domain.CouponTypeFixed, Value: 500, Active: true},
	}}
	svc := newTestCouponService(t, repo)

	eval, err := svc.Evaluate(context.Background(), CouponEvaluationCommand{Code: "FIVEOFF", Subtotal: 300})
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if eval.Discount != 300 {
		t.Fatalf("discount = %d, want 300 (clamped)", eval.Discount)
	}
}

func TestCouponEvaluateExpired(t *testing.T) {
	ended := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	repo := &fakeCouponRepository{byCode: map[string]domain.Coupon{
		"OLD": {ID: "cpn_1", Code: "OLD", Type: domain.CouponTypeFixed, Value: 500, Active: true, EndsAt: &ended},
	}}
	svc := newTestCouponService(t, repo)

	_, err := svc.Evaluate(context.Background(), CouponEvaluationCommand{Code: "OLD", Subtotal: 1_000})
	if !errors.Is(err, ErrCouponExpired) {
		t.Fatalf("expected ErrCouponExpired, got %v", err)
	}
}

func TestCouponEvaluateNotYetActive(t *testing.T) {
	starts := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	repo := &fakeCouponRepository{byCode: map[string]domain.Coupon{
		"SOON": {ID: "cpn_1", Code: "SOON", Type: domain.CouponTypeFixed, Value: 500, Active: true, StartsAt: &starts},
	}}
	svc := newTestCouponService(t, repo)

	_, err := svc.Evaluate(context.Background(), CouponEvaluationCommand{Code: "SOON", Subtotal: 1_000})
	if !errors.Is(err, ErrCouponInvalid) {
		t.Fatalf("expected ErrCouponInvalid, got %v", err)
	}
}

func TestCouponEvaluateMinimumNotMet(t *testing.T) {
	minimum := int64(5_000)
	repo := &fakeCouponRepository{byCode: map[string]domain.Coupon{
		"BIGCART": {ID: "cpn_1", Code: "BIGCART", Type: domain.CouponTypePercentage, Value: 15, Active: true, MinimumSubtotal: &minimum},
	}}
	svc := newTestCouponService(t, repo)

	_, err := svc.Evaluate(context.Background(), CouponEvaluationCommand{Code: "BIGCART", Subtotal: 4_999})
	if !errors.Is(err, ErrCouponMinimumNotMet) {
		t.Fatalf("expected ErrCouponMinimumNotMet, got %v", err)
	}
}

func TestCouponEvaluateUnknownCode(t *testing.T) {
	svc := newTestCouponService(t, &fakeCouponRepository{})

	_, err := svc.Evaluate(context.Background(), CouponEvaluationCommand{Code: "NOPE", Subtotal: 1_000})
	if !errors.Is(err, ErrCouponInvalid) {
		t.Fatalf("expected ErrCouponInvalid, got %v", err)
	}
}

func TestCouponEvaluateInactive(t *testing.T) {
	repo := &fakeCouponRepository{byCode: map[string]domain.Coupon{
		"PAUSED": {ID: "cpn_1", Code: "PAUSED", Type: domain.CouponTypeFixed, Value: 100, Active: false},
	}}
	svc := newTestCouponService(t, repo)

	_, err := svc.Evaluate(context.Background(), CouponEvaluationCommand{Code: "PAUSED", Subtotal: 1_000})
	if !errors.Is(err, ErrCouponInvalid) {
		t.Fatalf("expected ErrCouponInvalid, got %v", err)
	}
}

func TestCreateCouponNormalizesCode(t *testing.T) {
	repo := &fakeCouponRepository{}
	svc := newTestCouponService(t, repo)

	coupon, err := svc.CreateCoupon(context.Background(), CreateCouponCommand{
		Code:   " summer20 ",
		Type:   domain.CouponTypePercentage,
		Value:  20,
		Active: true,
	})
	if err != nil {
		t.Fatalf("CreateCoupon returned error: %v", err)
	}
	if coupon.Code != "SUMMER20" {
		t.Fatalf("code = %q, want SUMMER20", coupon.Code)
	}
	if coupon.ID != "cpn_test" {
		t.Fatalf("id = %q", coupon.ID)
	}
	if len(repo.inserted) != 1 {
		t.Fatalf("expected one insert, got %d", len(repo.inserted))
	}
}

func TestCreateCouponRejectsBadPercentage(t *testing.T) {
	svc := newTestCouponService(t, &fakeCouponRepository{})

	_, err := svc.CreateCoupon(context.Background(), CreateCouponCommand{
		Code:  "TOOGOOD",
		Type:  domain.CouponTypePercentage,
		Value: 150,
	})
	if !errors.Is(err, ErrCouponValidation) {
		t.Fatalf("expected ErrCouponValidation, got %v", err)
	}
}

func TestCreateCouponDuplicateCode(t *testing.T) {
	repo := &fakeCouponRepository{byCode: map[string]domain.Coupon{
		"TAKEN": {ID: "cpn_1", Code: "TAKEN", Type: domain.CouponTypeFixed, Value: 100, Active: true},
	}}
	svc := newTestCouponService(t, repo)

	_, err := svc.CreateCoupon(context.Background(), CreateCouponCommand{
		Code:  "TAKEN",
		Type:  domain.CouponTypeFixed,
		Value: 200,
	})
	if !errors.Is(err, ErrCouponConflict) {
		t.Fatalf("expected ErrCouponConflict, got %v", err)
	}
}
