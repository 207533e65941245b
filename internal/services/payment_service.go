package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/webber-shop/api/internal/domain"
	"github.com/webber-shop/api/internal/payments"
	"github.com/webber-shop/api/internal/repositories"
)

var (
	// ErrPaymentProcessor indicates the processor rejected or failed a request.
	ErrPaymentProcessor = errors.New("payment: processor failure")
	// ErrPaymentOrderState indicates the order is not in a payable state.
	ErrPaymentOrderState = errors.New("payment: order not payable")
)

const processorCallTimeout = 15 * time.Second

// PaymentProcessor is the slice of the payments manager the service needs.
type PaymentProcessor interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	CreatePaymentIntent(ctx context.Context, paymentCtx payments.PaymentContext, req payments.PaymentIntentRequest) (payments.PaymentIntent, error)
	VerifyWebhook(providerName string, payload []byte, signature string) (payments.WebhookEvent, error)
}

// PaymentServiceDeps wires dependencies for the payment service.
type PaymentServiceDeps struct {
	Orders          repositories.OrderRepository
	OrderLifecycle  OrderService
	Processor       PaymentProcessor
	DefaultProvider string
	Clock           func() time.Time
	Logger          Logger
}

type paymentService struct {
	orders          repositories.OrderRepository
	orderLifecycle  OrderService
	processor       PaymentProcessor
	defaultProvider string
	clock           func() time.Time
	logger          Logger
}

// NewPaymentService constructs a PaymentService and validates dependencies.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.OrderLifecycle == nil {
		return nil, errors.New("payment service: order service is required")
	}
	if deps.Processor == nil {
		return nil, errors.New("payment service: processor is required")
	}

	provider := strings.TrimSpace(deps.DefaultProvider)
	if provider == "" {
		provider = "stripe"
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}

	return &paymentService{
		orders:          deps.Orders,
		orderLifecycle:  deps.OrderLifecycle,
		processor:       deps.Processor,
		defaultProvider: provider,
		clock:           func() time.Time { return clock().UTC() },
		logger:          logger,
	}, nil
}

func (s *paymentService) CreateCheckoutSession(ctx context.Context, cmd CreateCheckoutSessionCommand) (CheckoutSessionResult, error) {
	order, err := s.payableOrder(ctx, cmd.OrderID, cmd.UserID)
	if err != nil {
		return CheckoutSessionResult{}, err
	}
	if strings.TrimSpace(cmd.SuccessURL) == "" || strings.TrimSpace(cmd.CancelURL) == "" {
		return CheckoutSessionResult{}, fmt.Errorf("%w: success and cancel urls are required", ErrOrderValidation)
	}

	callCtx, cancel := context.WithTimeout(ctx, processorCallTimeout)
	defer cancel()

	session, err := s.processor.CreateCheckoutSession(callCtx, payments.PaymentContext{Currency: order.Currency}, payments.CheckoutSessionRequest{
		Amount:         order.Totals.Total,
		Currency:       order.Currency,
		CustomerID:     order.UserID,
		SuccessURL:     cmd.SuccessURL,
		CancelURL:      cmd.CancelURL,
		Metadata:       map[string]string{"orderId": order.ID, "orderNumber": order.OrderNumber},
		IdempotencyKey: "checkout-" + order.ID,
		Items:          checkoutItems(order),
	})
	if err != nil {
		return CheckoutSessionResult{}, fmt.Errorf("%w: %v", ErrPaymentProcessor, err)
	}

	order.CheckoutSessionID = &session.ID
	if session.IntentID != "" {
		order.PaymentIntentID = &session.IntentID
	}
	order.UpdatedAt = s.clock()
	if err := s.orders.Update(ctx, order); err != nil {
		return CheckoutSessionResult{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}

	s.logger(ctx, "payment.checkout_session.created", map[string]any{
		"orderId":   order.ID,
		"sessionId": session.ID,
	})
	return CheckoutSessionResult{
		SessionID:   session.ID,
		RedirectURL: session.RedirectURL,
		ExpiresAt:   session.ExpiresAt,
	}, nil
}

func (s *paymentService) CreatePaymentIntent(ctx context.Context, cmd CreatePaymentIntentCommand) (PaymentIntentResult, error) {
	order, err := s.payableOrder(ctx, cmd.OrderID, cmd.UserID)
	if err != nil {
		return PaymentIntentResult{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, processorCallTimeout)
	defer cancel()

	intent, err := s.processor.CreatePaymentIntent(callCtx, payments.PaymentContext{Currency: order.Currency}, payments.PaymentIntentRequest{
		Amount:         order.Totals.Total,
		Currency:       order.Currency,
		CustomerID:     order.UserID,
		Metadata:       map[string]string{"orderId": order.ID, "orderNumber": order.OrderNumber},
		IdempotencyKey: "intent-" + order.ID,
	})
	if err != nil {
		return PaymentIntentResult{}, fmt.Errorf("%w: %v", ErrPaymentProcessor, err)
	}

	order.PaymentIntentID = &intent.ID
	order.UpdatedAt = s.clock()
	if err := s.orders.Update(ctx, order); err != nil {
		return PaymentIntentResult{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}

	s.logger(ctx, "payment.intent.created", map[string]any{
		"orderId":  order.ID,
		"intentId": intent.ID,
	})
	return PaymentIntentResult{IntentID: intent.ID, ClientSecret: intent.ClientSecret}, nil
}

// HandleWebhook verifies the processor callback and reconciles it against the
// persisted order state. Replayed and unknown events acknowledge cleanly so
// the processor stops retrying.
func (s *paymentService) HandleWebhook(ctx context.Context, cmd WebhookCommand) error {
	provider := strings.TrimSpace(cmd.Provider)
	if provider == "" {
		provider = s.defaultProvider
	}

	event, err := s.processor.VerifyWebhook(provider, cmd.Payload, cmd.Signature)
	if err != nil {
		return err
	}

	order, found, err := s.findOrderForEvent(ctx, event)
	if err != nil {
		return err
	}
	if !found {
		s.logger(ctx, "payment.webhook.unmatched", map[string]any{
			"eventId":   event.ID,
			"eventType": event.Type,
			"sessionId": event.SessionID,
			"intentId":  event.IntentID,
		})
		return nil
	}

	if event.IntentID != "" && order.PaymentIntentID == nil {
		order.PaymentIntentID = &event.IntentID
		order.UpdatedAt = s.clock()
		if err := s.orders.Update(ctx, order); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
	}

	switch event.Type {
	case "checkout.session.completed", "payment_intent.succeeded":
		return s.reconcileSuccess(ctx, order, event)
	case "checkout.session.expired", "payment_intent.payment_failed":
		return s.reconcileFailure(ctx, order, event)
	default:
		s.logger(ctx, "payment.webhook.ignored", map[string]any{
			"eventId":   event.ID,
			"eventType": event.Type,
		})
		return nil
	}
}

func (s *paymentService) reconcileSuccess(ctx context.Context, order domain.Order, event payments.WebhookEvent) error {
	switch order.Status {
	case domain.OrderStatusPending:
		_, err := s.orderLifecycle.TransitionStatus(ctx, OrderStatusTransitionCommand{
			OrderID: order.ID,
			Target:  domain.OrderStatusPaid,
			Actor:   "webhook",
			Notes:   "payment confirmed by " + event.Provider,
		})
		return err
	case domain.OrderStatusCancelled:
		// Payment landed after the order was cancelled; flag it for manual
		// review instead of resurrecting the order.
		s.logger(ctx, "payment.webhook.paid_after_cancel", map[string]any{
			"orderId":  order.ID,
			"eventId":  event.ID,
			"intentId": event.IntentID,
		})
		return nil
	default:
		// Replay of an event already applied.
		return nil
	}
}

func (s *paymentService) reconcileFailure(ctx context.Context, order domain.Order, event payments.WebhookEvent) error {
	if order.Status != domain.OrderStatusPending {
		return nil
	}

	reason := event.FailureMessage
	if reason == "" {
		reason = "payment " + event.Type
	}
	_, err := s.orderLifecycle.Cancel(ctx, CancelOrderCommand{
		OrderID: order.ID,
		Reason:  reason,
	})
	return err
}

func (s *paymentService) findOrderForEvent(ctx context.Context, event payments.WebhookEvent) (domain.Order, bool, error) {
	if event.SessionID != "" {
		order, err := s.orders.FindByCheckoutSessionID(ctx, event.SessionID)
		if err == nil {
			return order, true, nil
		}
		if mapped := mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict); !errors.Is(mapped, ErrOrderNotFound) {
			return domain.Order{}, false, mapped
		}
	}
	if event.IntentID != "" {
		order, err := s.orders.FindByPaymentIntentID(ctx, event.IntentID)
		if err == nil {
			return order, true, nil
		}
		if mapped := mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict); !errors.Is(mapped, ErrOrderNotFound) {
			return domain.Order{}, false, mapped
		}
	}
	return domain.Order{}, false, nil
}

func (s *paymentService) payableOrder(ctx context.Context, orderID, userID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderValidation)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	if userID != "" && order.UserID != userID {
		return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderAccessDenied, orderID)
	}
	if order.Status != domain.OrderStatusPending {
		return domain.Order{}, fmt.Errorf("%w: order is %s", ErrPaymentOrderState, order.Status)
	}
	return order, nil
}

func checkoutItems(order domain.Order) []payments.CheckoutLineItem {
	items := make([]payments.CheckoutLineItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, payments.CheckoutLineItem{
			Name:     item.Name,
			SKU:      item.VariantID,
			Quantity: int64(item.Quantity),
			Amount:   item.UnitPrice,
			Currency: order.Currency,
		})
	}
	return items
}
