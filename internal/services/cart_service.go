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
	// ErrCartValidation indicates the command carried invalid input.
	ErrCartValidation = errors.New("cart: invalid input")
	// ErrCartNotFound indicates no cart exists for the user.
	ErrCartNotFound = errors.New("cart: not found")
	// ErrCartItemNotFound indicates the variant is not in the cart.
	ErrCartItemNotFound = errors.New("cart: item not found")
	// ErrCartConflict indicates a concurrent write clashed on the cart row.
	ErrCartConflict = errors.New("cart: conflicting update")
)

const defaultCartCurrency = "usd"

// CartServiceDeps wires dependencies for the cart service.
type CartServiceDeps struct {
	Carts       repositories.CartRepository
	Coupons     CouponService
	Clock       func() time.Time
	IDGenerator func() string
	Logger      Logger
}

type cartService struct {
	carts   repositories.CartRepository
	coupons CouponService
	clock   func() time.Time
	newID   func() string
	logger  Logger
}

// NewCartService constructs a CartService and validates dependencies.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Coupons == nil {
		return nil, errors.New("cart service: coupon service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return "cart_" + ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}

	return &cartService{
		carts:   deps.Carts,
		coupons: deps.Coupons,
		clock:   func() time.Time { return clock().UTC() },
		newID:   newID,
		logger:  logger,
	}, nil
}

func (s *cartService) GetOrCreateCart(ctx context.Context, userID string) (Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartValidation)
	}

	cart, err := s.carts.Get(ctx, userID)
	if err == nil {
		return cart, nil
	}
	mapped := mapRepositoryError(err, ErrCartNotFound, ErrCartConflict)
	if !errors.Is(mapped, ErrCartNotFound) {
		return Cart{}, mapped
	}

	now := s.clock()
	cart = domain.Cart{
		ID:        s.newID(),
		UserID:    userID,
		Currency:  defaultCartCurrency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	saved, err := s.carts.Upsert(ctx, cart)
	if err != nil {
		return Cart{}, mapRepositoryError(err, ErrCartNotFound, ErrCartConflict)
	}
	return saved, nil
}

func (s *cartService) AddOrUpdateItem(ctx context.Context, cmd UpsertCartItemCommand) (Cart, error) {
	if strings.TrimSpace(cmd.ProductID) == "" || strings.TrimSpace(cmd.VariantID) == "" {
		return Cart{}, fmt.Errorf("%w: product and variant ids are required", ErrCartValidation)
	}
	if cmd.Quantity < 0 {
		return Cart{}, fmt.Errorf("%w: quantity must not be negative", ErrCartValidation)
	}
	if cmd.Quantity == 0 {
		// A zero quantity means "take the line out".
		return s.RemoveItem(ctx, RemoveCartItemCommand{UserID: cmd.UserID, VariantID: cmd.VariantID})
	}
	if cmd.UnitPrice < 0 {
		return Cart{}, fmt.Errorf("%w: negative unit price", ErrCartValidation)
	}

	cart, err := s.GetOrCreateCart(ctx, cmd.UserID)
	if err != nil {
		return Cart{}, err
	}

	if currency := strings.ToLower(strings.TrimSpace(cmd.Currency)); currency != "" {
		if len(cart.Items) > 0 && cart.Currency != currency {
			return Cart{}, fmt.Errorf("%w: cart currency is %s", ErrCartValidation, cart.Currency)
		}
		cart.Currency = currency
	}

	item := domain.CartItem{
		ProductID: cmd.ProductID,
		VariantID: cmd.VariantID,
		Name:      strings.TrimSpace(cmd.Name),
		Quantity:  cmd.Quantity,
		UnitPrice: cmd.UnitPrice,
	}

	replaced := false
	items := cloneItems(cart.Items)
	for i := range items {
		if items[i].VariantID == item.VariantID {
			items[i] = item
			replaced = true
			break
		}
	}
	if !replaced {
		items = append(items, item)
	}
	cart.Items = items
	cart.UpdatedAt = s.clock()

	saved, err := s.carts.Upsert(ctx, cart)
	if err != nil {
		return Cart{}, mapRepositoryError(err, ErrCartNotFound, ErrCartConflict)
	}
	s.logger(ctx, "cart.item.upserted", map[string]any{"userId": cart.UserID, "variantId": item.VariantID, "quantity": item.Quantity})
	return saved, nil
}

func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	if strings.TrimSpace(cmd.VariantID) == "" {
		return Cart{}, fmt.Errorf("%w: variant id is required", ErrCartValidation)
	}

	cart, err := s.getCart(ctx, cmd.UserID)
	if err != nil {
		return Cart{}, err
	}

	items := make([]domain.CartItem, 0, len(cart.Items))
	removed := false
	for _, item := range cart.Items {
		if item.VariantID == cmd.VariantID {
			removed = true
			continue
		}
		items = append(items, item)
	}
	if !removed {
		return Cart{}, fmt.Errorf("%w: %s", ErrCartItemNotFound, cmd.VariantID)
	}

	cart.Items = items
	if len(items) == 0 {
		cart.CouponCode = nil
	}
	cart.UpdatedAt = s.clock()

	saved, err := s.carts.Upsert(ctx, cart)
	if err != nil {
		return Cart{}, mapRepositoryError(err, ErrCartNotFound, ErrCartConflict)
	}
	return saved, nil
}

func (s *cartService) ApplyCoupon(ctx context.Context, cmd ApplyCouponCommand) (Cart, error) {
	cart, err := s.getCart(ctx, cmd.UserID)
	if err != nil {
		return Cart{}, err
	}
	if len(cart.Items) == 0 {
		return Cart{}, fmt.Errorf("%w: cart is empty", ErrCartValidation)
	}

	eval, err := s.coupons.Evaluate(ctx, CouponEvaluationCommand{
		Code:     cmd.Code,
		Subtotal: cartSubtotal(cart),
		At:       s.clock(),
	})
	if err != nil {
		return Cart{}, err
	}

	cart.CouponCode = valuePtr(eval.Coupon.Code)
	cart.UpdatedAt = s.clock()

	saved, err := s.carts.Upsert(ctx, cart)
	if err != nil {
		return Cart{}, mapRepositoryError(err, ErrCartNotFound, ErrCartConflict)
	}
	s.logger(ctx, "cart.coupon.applied", map[string]any{"userId": cart.UserID, "code": eval.Coupon.Code})
	return saved, nil
}

func (s *cartService) RemoveCoupon(ctx context.Context, userID string) (Cart, error) {
	cart, err := s.getCart(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	if cart.CouponCode == nil {
		return cart, nil
	}

	cart.CouponCode = nil
	cart.UpdatedAt = s.clock()

	saved, err := s.carts.Upsert(ctx, cart)
	if err != nil {
		return Cart{}, mapRepositoryError(err, ErrCartNotFound, ErrCartConflict)
	}
	return saved, nil
}

func (s *cartService) ClearCart(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrCartValidation)
	}

	if err := s.carts.Delete(ctx, userID); err != nil {
		mapped := mapRepositoryError(err, ErrCartNotFound, ErrCartConflict)
		if errors.Is(mapped, ErrCartNotFound) {
			return nil
		}
		return mapped
	}
	s.logger(ctx, "cart.cleared", map[string]any{"userId": userID})
	return nil
}

func (s *cartService) getCart(ctx context.Context, userID string) (Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartValidation)
	}
	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		return Cart{}, mapRepositoryError(err, ErrCartNotFound, ErrCartConflict)
	}
	return cart, nil
}

func cartSubtotal(cart Cart) int64 {
	var subtotal int64
	for _, item := range cart.Items {
		subtotal += item.UnitPrice * int64(item.Quantity)
	}
	return subtotal
}
