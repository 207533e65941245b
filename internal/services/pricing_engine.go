package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/webber-shop/api/internal/domain"
	"github.com/webber-shop/api/internal/repositories"

	"github.com/redis/go-redis/v9"
)

// ErrPricingUnavailable indicates totals could not be computed because a
// downstream dependency failed.
var ErrPricingUnavailable = errors.New("pricing: unavailable")

const (
	defaultTaxRateBps      = 875 // basis points
	defaultItemWeightGrams = 500
	rateCacheTTL           = 5 * time.Minute
)

// RateQuoter is the slice of the carrier gateway the pricing engine needs.
type RateQuoter interface {
	GetRates(ctx context.Context, req RateRequest) ([]ShippingRate, error)
}

// PricingEngineDeps wires dependencies for the pricing engine.
type PricingEngineDeps struct {
	Carts   repositories.CartRepository
	Coupons CouponService
	Rates   RateQuoter
	// Cache is optional; when set, carrier quotes are cached per lane.
	Cache            redis.Cmdable
	TaxRateBps       int64
	OriginPostalCode string
	Clock            func() time.Time
	Logger           Logger
}

type pricingEngine struct {
	carts      repositories.CartRepository
	coupons    CouponService
	rates      RateQuoter
	cache      redis.Cmdable
	taxRateBps int64
	origin     string
	clock      func() time.Time
	logger     Logger
}

// NewPricingEngine constructs a PricingEngine and validates dependencies.
func NewPricingEngine(deps PricingEngineDeps) (PricingEngine, error) {
	if deps.Carts == nil {
		return nil, errors.New("pricing engine: cart repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("pricing engine: coupon service is required")
	}
	if deps.Rates == nil {
		return nil, errors.New("pricing engine: rate quoter is required")
	}

	taxRate := deps.TaxRateBps
	if taxRate <= 0 {
		taxRate = defaultTaxRateBps
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}

	return &pricingEngine{
		carts:      deps.Carts,
		coupons:    deps.Coupons,
		rates:      deps.Rates,
		cache:      deps.Cache,
		taxRateBps: taxRate,
		origin:     strings.TrimSpace(deps.OriginPostalCode),
		clock:      func() time.Time { return clock().UTC() },
		logger:     logger,
	}, nil
}

func (e *pricingEngine) Preview(ctx context.Context, cmd PreviewCommand) (CartEstimate, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CartEstimate{}, fmt.Errorf("%w: user id is required", ErrCartValidation)
	}

	cart, err := e.carts.Get(ctx, userID)
	if err != nil {
		return CartEstimate{}, mapRepositoryError(err, ErrCartNotFound, ErrCartConflict)
	}

	estimate := CartEstimate{
		Currency:   cart.Currency,
		Subtotal:   cartSubtotal(cart),
		CouponCode: cart.CouponCode,
	}

	if cart.CouponCode != nil {
		eval, err := e.coupons.Evaluate(ctx, CouponEvaluationCommand{
			Code:     *cart.CouponCode,
			Subtotal: estimate.Subtotal,
			At:       e.clock(),
		})
		if err != nil {
			return CartEstimate{}, err
		}
		estimate.Discount = eval.Discount
	}

	if dest := strings.TrimSpace(cmd.DestinationPostalCode); dest != "" && len(cart.Items) > 0 {
		shipping, err := e.cheapestRate(ctx, dest, cartWeightGrams(cart))
		if err != nil {
			return CartEstimate{}, err
		}
		estimate.Shipping = shipping
	}

	taxable := estimate.Subtotal - estimate.Discount
	if taxable < 0 {
		taxable = 0
	}
	estimate.Tax = taxable * e.taxRateBps / 10_000
	estimate.Total = estimate.Subtotal - estimate.Discount + estimate.Shipping + estimate.Tax

	return estimate, nil
}

func (e *pricingEngine) cheapestRate(ctx context.Context, destination string, weightGrams int) (int64, error) {
	cacheKey := fmt.Sprintf("rates:%s:%s:%d", e.origin, destination, weightGrams)

	if e.cache != nil {
		if raw, err := e.cache.Get(ctx, cacheKey).Result(); err == nil {
			var cached []domain.ShippingRate
			if err := json.Unmarshal([]byte(raw), &cached); err == nil && len(cached) > 0 {
				return cheapest(cached), nil
			}
		}
	}

	rates, err := e.rates.GetRates(ctx, domain.RateRequest{
		OriginPostalCode:      e.origin,
		DestinationPostalCode: destination,
		WeightGrams:           weightGrams,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPricingUnavailable, err)
	}
	if len(rates) == 0 {
		return 0, fmt.Errorf("%w: no rates for %s", ErrPricingUnavailable, destination)
	}

	if e.cache != nil {
		if raw, err := json.Marshal(rates); err == nil {
			if err := e.cache.Set(ctx, cacheKey, raw, rateCacheTTL).Err(); err != nil {
				e.logger(ctx, "pricing.rate_cache.write_failed", map[string]any{"error": err.Error()})
			}
		}
	}

	return cheapest(rates), nil
}

func cheapest(rates []domain.ShippingRate) int64 {
	best := rates[0].TotalRate
	for _, rate := range rates[1:] {
		if rate.TotalRate < best {
			best = rate.TotalRate
		}
	}
	return best
}

func cartWeightGrams(cart Cart) int {
	var quantity int
	for _, item := range cart.Items {
		quantity += item.Quantity
	}
	return quantity * defaultItemWeightGrams
}
