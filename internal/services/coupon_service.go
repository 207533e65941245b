package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/webber-shop/api/internal/domain"
	"github.com/webber-shop/api/internal/repositories"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrCouponInvalid indicates the code does not resolve to a usable coupon.
	ErrCouponInvalid = errors.New("coupon: invalid code")
	// ErrCouponExpired indicates the coupon's validity window has closed.
	ErrCouponExpired = errors.New("coupon: expired")
	// ErrCouponMinimumNotMet indicates the subtotal is below the coupon's floor.
	ErrCouponMinimumNotMet = errors.New("coupon: minimum subtotal not met")
	// ErrCouponConflict indicates another coupon already uses the code.
	ErrCouponConflict = errors.New("coupon: code already exists")
	// ErrCouponValidation indicates the coupon definition itself is malformed.
	ErrCouponValidation = errors.New("coupon: invalid definition")
)

// CouponServiceDeps wires repository and utility dependencies for the coupon service.
type CouponServiceDeps struct {
	Coupons     repositories.CouponRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      Logger
}

type couponService struct {
	coupons repositories.CouponRepository
	clock   func() time.Time
	newID   func() string
	logger  Logger
}

// NewCouponService constructs a CouponService and validates dependencies.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return "cpn_" + ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}

	return &couponService{
		coupons: deps.Coupons,
		clock:   func() time.Time { return clock().UTC() },
		newID:   newID,
		logger:  logger,
	}, nil
}

func (s *couponService) Evaluate(ctx context.Context, cmd CouponEvaluationCommand) (CouponEvaluation, error) {
	code := normalizeCouponCode(cmd.Code)
	if code == "" {
		return CouponEvaluation{}, fmt.Errorf("%w: empty code", ErrCouponInvalid)
	}
	if cmd.Subtotal < 0 {
		return CouponEvaluation{}, fmt.Errorf("%w: negative subtotal", ErrCouponValidation)
	}

	at := cmd.At
	if at.IsZero() {
		at = s.clock()
	}

	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		return CouponEvaluation{}, mapRepositoryError(err, ErrCouponInvalid, ErrCouponConflict)
	}

	if !coupon.Active {
		return CouponEvaluation{}, fmt.Errorf("%w: %s is disabled", ErrCouponInvalid, code)
	}
	if coupon.StartsAt != nil && at.Before(*coupon.StartsAt) {
		return CouponEvaluation{}, fmt.Errorf("%w: %s is not active yet", ErrCouponInvalid, code)
	}
	if coupon.EndsAt != nil && at.After(*coupon.EndsAt) {
		return CouponEvaluation{}, fmt.Errorf("%w: %s", ErrCouponExpired, code)
	}
	if coupon.MinimumSubtotal != nil && cmd.Subtotal < *coupon.MinimumSubtotal {
		return CouponEvaluation{}, fmt.Errorf("%w: requires subtotal of at least %d", ErrCouponMinimumNotMet, *coupon.MinimumSubtotal)
	}

	return CouponEvaluation{
		Coupon:   coupon,
		Discount: discountFor(coupon, cmd.Subtotal),
	}, nil
}

func (s *couponService) CreateCoupon(ctx context.Context, cmd CreateCouponCommand) (Coupon, error) {
	code := normalizeCouponCode(cmd.Code)
	if err := validateCouponDefinition(code, cmd.Type, cmd.Value, cmd.StartsAt, cmd.EndsAt, cmd.MinimumSubtotal); err != nil {
		return Coupon{}, err
	}

	now := s.clock()
	coupon := domain.Coupon{
		ID:              s.newID(),
		Code:            code,
		Type:            cmd.Type,
		Value:           cmd.Value,
		StartsAt:        cmd.StartsAt,
		EndsAt:          cmd.EndsAt,
		MinimumSubtotal: cmd.MinimumSubtotal,
		Active:          cmd.Active,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.coupons.Insert(ctx, coupon); err != nil {
		return Coupon{}, mapRepositoryError(err, ErrCouponInvalid, ErrCouponConflict)
	}

	s.logger(ctx, "coupon.created", map[string]any{"couponId": coupon.ID, "code": coupon.Code})
	return coupon, nil
}

func (s *couponService) UpdateCoupon(ctx context.Context, cmd UpdateCouponCommand) (Coupon, error) {
	if strings.TrimSpace(cmd.CouponID) == "" {
		return Coupon{}, fmt.Errorf("%w: coupon id is required", ErrCouponValidation)
	}
	code := normalizeCouponCode(cmd.Code)
	if err := validateCouponDefinition(code, cmd.Type, cmd.Value, cmd.StartsAt, cmd.EndsAt, cmd.MinimumSubtotal); err != nil {
		return Coupon{}, err
	}

	coupon := domain.Coupon{
		ID:              cmd.CouponID,
		Code:            code,
		Type:            cmd.Type,
		Value:           cmd.Value,
		StartsAt:        cmd.StartsAt,
		EndsAt:          cmd.EndsAt,
		MinimumSubtotal: cmd.MinimumSubtotal,
		Active:          cmd.Active,
		UpdatedAt:       s.clock(),
	}

	if err := s.coupons.Update(ctx, coupon); err != nil {
		return Coupon{}, mapRepositoryError(err, ErrCouponInvalid, ErrCouponConflict)
	}

	s.logger(ctx, "coupon.updated", map[string]any{"couponId": coupon.ID, "code": coupon.Code})
	return coupon, nil
}

func (s *couponService) DeleteCoupon(ctx context.Context, couponID string) error {
	if strings.TrimSpace(couponID) == "" {
		return fmt.Errorf("%w: coupon id is required", ErrCouponValidation)
	}
	if err := s.coupons.Delete(ctx, couponID); err != nil {
		return mapRepositoryError(err, ErrCouponInvalid, ErrCouponConflict)
	}
	s.logger(ctx, "coupon.deleted", map[string]any{"couponId": couponID})
	return nil
}

func (s *couponService) GetCoupon(ctx context.Context, code string) (Coupon, error) {
	normalized := normalizeCouponCode(code)
	if normalized == "" {
		return Coupon{}, fmt.Errorf("%w: empty code", ErrCouponInvalid)
	}
	coupon, err := s.coupons.FindByCode(ctx, normalized)
	if err != nil {
		return Coupon{}, mapRepositoryError(err, ErrCouponInvalid, ErrCouponConflict)
	}
	return coupon, nil
}

func (s *couponService) ListCoupons(ctx context.Context, filter CouponListFilter) (domain.CursorPage[Coupon], error) {
	page, err := s.coupons.List(ctx, repositories.CouponListFilter{
		ActiveOnly: filter.ActiveOnly,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Coupon]{}, mapRepositoryError(err, ErrCouponInvalid, ErrCouponConflict)
	}
	return page, nil
}

// discountFor computes the minor-unit discount a coupon yields on a subtotal.
// The result is always within [0, subtotal].
func discountFor(coupon domain.Coupon, subtotal int64) int64 {
	var discount int64
	switch coupon.Type {
	case domain.CouponTypePercentage:
		discount = subtotal * coupon.Value / 100
	case domain.CouponTypeFixed:
		discount = coupon.Value
	}
	if discount < 0 {
		return 0
	}
	if discount > subtotal {
		return subtotal
	}
	return discount
}

func validateCouponDefinition(code string, kind CouponType, value int64, startsAt, endsAt *time.Time, minimum *int64) error {
	if code == "" {
		return fmt.Errorf("%w: code is required", ErrCouponValidation)
	}
	switch kind {
	case domain.CouponTypePercentage:
		if value < 1 || value > 100 {
			return fmt.Errorf("%w: percentage must be between 1 and 100", ErrCouponValidation)
		}
	case domain.CouponTypeFixed:
		if value < 1 {
			return fmt.Errorf("%w: fixed amount must be positive", ErrCouponValidation)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrCouponValidation, kind)
	}
	if startsAt != nil && endsAt != nil && endsAt.Before(*startsAt) {
		return fmt.Errorf("%w: ends before it starts", ErrCouponValidation)
	}
	if minimum != nil && *minimum < 0 {
		return fmt.Errorf("%w: negative minimum subtotal", ErrCouponValidation)
	}
	return nil
}

func normalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
