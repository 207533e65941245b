package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/webber-shop/api/internal/domain"
)

type fakeRateQuoter struct {
	rates []domain.ShippingRate
	err   error
	calls int
}

func (f *fakeRateQuoter) GetRates(_ context.Context, _ domain.RateRequest) ([]domain.ShippingRate, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.rates, nil
}

func newTestPricingEngine(t *testing.T, carts *fakeCartRepository, coupons *fakeCouponRepository, quoter *fakeRateQuoter) PricingEngine {
	t.Helper()
	if coupons == nil {
		coupons = &fakeCouponRepository{}
	}
	if quoter == nil {
		quoter = &fakeRateQuoter{rates: []domain.ShippingRate{{Carrier: "usps", ServiceName: "Priority", TotalRate: 995, Currency: "usd"}}}
	}
	engine, err := NewPricingEngine(PricingEngineDeps{
		Carts:            carts,
		Coupons:          newTestCouponService(t, coupons),
		Rates:            quoter,
		TaxRateBps:       1000,
		OriginPostalCode: "10001",
		Clock:            func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewPricingEngine returned error: %v", err)
	}
	return engine
}

func TestPreviewSubtotalAndTax(t *testing.T) {
	carts := &fakeCartRepository{byUser: map[string]domain.Cart{
		"user-1": {
			ID: "cart_1", UserID: "user-1", Currency: "usd",
			Items: []domain.CartItem{
				{VariantID: "var-1", Quantity: 2, UnitPrice: 1_000},
				{VariantID: "var-2", Quantity: 1, UnitPrice: 3_000},
			},
		},
	}}
	engine := newTestPricingEngine(t, carts, nil, nil)

	estimate, err := engine.Preview(context.Background(), PreviewCommand{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Preview returned error: %v", err)
	}
	if estimate.Subtotal != 5_000 {
		t.Fatalf("subtotal = %d, want 5000", estimate.Subtotal)
	}
	if estimate.Shipping != 0 {
		t.Fatalf("shipping = %d, want 0 without destination", estimate.Shipping)
	}
	if estimate.Tax != 500 {
		t.Fatalf("tax = %d, want 500 at 10%%", estimate.Tax)
	}
	if estimate.Total != 5_500 {
		t.Fatalf("total = %d, want 5500", estimate.Total)
	}
}

func TestPreviewAppliesCouponBeforeTax(t *testing.T) {
	code := "SPRING10"
	carts := &fakeCartRepository{byUser: map[string]domain.Cart{
		"user-1": {
			ID: "cart_1", UserID: "user-1", Currency: "usd", CouponCode: &code,
			Items: []domain.CartItem{{VariantID: "var-1", Quantity: 1, UnitPrice: 10_000}},
		},
	}}
	coupons := &fakeCouponRepository{byCode: map[string]domain.Coupon{
		"SPRING10": {ID: "cpn_1", Code: "SPRING10", Type: domain.CouponTypePercentage, Value: 10, Active: true},
	}}
	engine := newTestPricingEngine(t, carts, coupons, nil)

	estimate, err := engine.Preview(context.Background(), PreviewCommand{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Preview returned error: %v", err)
	}
	if estimate.Discount != 1_000 {
		t.Fatalf("discount = %d, want 1000", estimate.Discount)
	}
	if estimate.Tax != 900 {
		t.Fatalf("tax = %d, want 900 on discounted base", estimate.Tax)
	}
	if estimate.Total != 9_900 {
		t.Fatalf("total = %d, want 9900", estimate.Total)
	}
}

func TestPreviewPicksCheapestRate(t *testing.T) {
	carts := &fakeCartRepository{byUser: map[string]domain.Cart{
		"user-1": {
			ID: "cart_1", UserID: "user-1", Currency: "usd",
			Items: []domain.CartItem{{VariantID: "var-1", Quantity: 1, UnitPrice: 2_000}},
		},
	}}
	quoter := &fakeRateQuoter{rates: []domain.ShippingRate{
		{Carrier: "ups", ServiceName: "Ground", TotalRate: 1_250, Currency: "usd"},
		{Carrier: "usps", ServiceName: "Priority", TotalRate: 995, Currency: "usd"},
	}}
	engine := newTestPricingEngine(t, carts, nil, quoter)

	estimate, err := engine.Preview(context.Background(), PreviewCommand{UserID: "user-1", DestinationPostalCode: "94107"})
	if err != nil {
		t.Fatalf("Preview returned error: %v", err)
	}
	if estimate.Shipping != 995 {
		t.Fatalf("shipping = %d, want cheapest 995", estimate.Shipping)
	}
}

func TestPreviewExpiredCouponFails(t *testing.T) {
	code := "OLD"
	ended := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	carts := &fakeCartRepository{byUser: map[string]domain.Cart{
		"user-1": {
			ID: "cart_1", UserID: "user-1", CouponCode: &code,
			Items: []domain.CartItem{{VariantID: "var-1", Quantity: 1, UnitPrice: 5_000}},
		},
	}}
	coupons := &fakeCouponRepository{byCode: map[string]domain.Coupon{
		"OLD": {ID: "cpn_1", Code: "OLD", Type: domain.CouponTypeFixed, Value: 500, Active: true, EndsAt: &ended},
	}}
	engine := newTestPricingEngine(t, carts, coupons, nil)

	_, err := engine.Preview(context.Background(), PreviewCommand{UserID: "user-1"})
	if !errors.Is(err, ErrCouponExpired) {
		t.Fatalf("expected ErrCouponExpired, got %v", err)
	}
}

func TestPreviewRateFailureMapsToUnavailable(t *testing.T) {
	carts := &fakeCartRepository{byUser: map[string]domain.Cart{
		"user-1": {
			ID: "cart_1", UserID: "user-1",
			Items: []domain.CartItem{{VariantID: "var-1", Quantity: 1, UnitPrice: 5_000}},
		},
	}}
	quoter := &fakeRateQuoter{err: errors.New("carrier down")}
	engine := newTestPricingEngine(t, carts, nil, quoter)

	_, err := engine.Preview(context.Background(), PreviewCommand{UserID: "user-1", DestinationPostalCode: "94107"})
	if !errors.Is(err, ErrPricingUnavailable) {
		t.Fatalf("expected ErrPricingUnavailable, got %v", err)
	}
}

func TestPreviewMissingCart(t *testing.T) {
	engine := newTestPricingEngine(t, &fakeCartRepository{}, nil, nil)

	_, err := engine.Preview(context.Background(), PreviewCommand{UserID: "user-1"})
	if !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected ErrCartNotFound, got %v", err)
	}
}
