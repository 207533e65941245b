package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/webber-shop/api/internal/domain"
	"github.com/webber-shop/api/internal/payments"
)

type fakeProcessor struct {
	session    payments.CheckoutSession
	intent     payments.PaymentIntent
	event      payments.WebhookEvent
	verifyErr  error
	createErr  error
	lastReq    payments.CheckoutSessionRequest
	lastIntent payments.PaymentIntentRequest
}

func (f *fakeProcessor) CreateCheckoutSession(_ context.Context, _ payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	f.lastReq = req
	if f.createErr != nil {
		return payments.CheckoutSession{}, f.createErr
	}
	return f.session, nil
}

func (f *fakeProcessor) CreatePaymentIntent(_ context.Context, _ payments.PaymentContext, req payments.PaymentIntentRequest) (payments.PaymentIntent, error) {
	f.lastIntent = req
	if f.createErr != nil {
		return payments.PaymentIntent{}, f.createErr
	}
	return f.intent, nil
}

func (f *fakeProcessor) VerifyWebhook(_ string, _ []byte, _ string) (payments.WebhookEvent, error) {
	if f.verifyErr != nil {
		return payments.WebhookEvent{}, f.verifyErr
	}
	return f.event, nil
}

type paymentTestEnv struct {
	orderEnv  *orderTestEnv
	processor *fakeProcessor
	svc       PaymentService
}

func newPaymentTestEnv(t *testing.T) *paymentTestEnv {
	t.Helper()
	orderEnv := newOrderTestEnv(t)
	processor := &fakeProcessor{
		session: payments.CheckoutSession{
			ID:          "cs_123",
			Provider:    "stripe",
			RedirectURL: "https://checkout.example.com/cs_123",
			ExpiresAt:   time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC),
		},
		intent: payments.PaymentIntent{
			ID:           "pi_123",
			Provider:     "stripe",
			ClientSecret: "pi_123_secret",
			Status:       payments.StatusPending,
		},
	}

	svc, err := NewPaymentService(PaymentServiceDeps{
		Orders:         orderEnv.orders,
		OrderLifecycle: orderEnv.svc,
		Processor:      processor,
		Clock:          func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewPaymentService returned error: %v", err)
	}
	return &paymentTestEnv{orderEnv: orderEnv, processor: processor, svc: svc}
}

func TestCreateCheckoutSessionStoresReference(t *testing.T) {
	env := newPaymentTestEnv(t)
	order := createTestOrder(t, env.orderEnv)

	result, err := env.svc.CreateCheckoutSession(context.Background(), CreateCheckoutSessionCommand{
		OrderID:    order.ID,
		UserID:     "user-1",
		SuccessURL: "https://shop.example.com/success",
		CancelURL:  "https://shop.example.com/cancel",
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession returned error: %v", err)
	}
	if result.SessionID != "cs_123" {
		t.Fatalf("session id = %q", result.SessionID)
	}

	stored := env.orderEnv.orders.byID[order.ID]
	if stored.CheckoutSessionID == nil || *stored.CheckoutSessionID != "cs_123" {
		t.Fatalf("checkout session not persisted: %v", stored.CheckoutSessionID)
	}
	if env.processor.lastReq.Amount != order.Totals.Total {
		t.Fatalf("session amount = %d, want %d", env.processor.lastReq.Amount, order.Totals.Total)
	}
	if env.processor.lastReq.IdempotencyKey != "checkout-"+order.ID {
		t.Fatalf("idempotency key = %q", env.processor.lastReq.IdempotencyKey)
	}
}

func TestCreateCheckoutSessionRejectsPaidOrder(t *testing.T) {
	env := newPaymentTestEnv(t)
	order := createTestOrder(t, env.orderEnv)

	if _, err := env.orderEnv.svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID: order.ID,
		Target:  domain.OrderStatusPaid,
	}); err != nil {
		t.Fatalf("transition returned error: %v", err)
	}

	_, err := env.svc.CreateCheckoutSession(context.Background(), CreateCheckoutSessionCommand{
		OrderID:    order.ID,
		SuccessURL: "https://shop.example.com/success",
		CancelURL:  "https://shop.example.com/cancel",
	})
	if !errors.Is(err, ErrPaymentOrderState) {
		t.Fatalf("expected ErrPaymentOrderState, got %v", err)
	}
}

func TestCreatePaymentIntentStoresReference(t *testing.T) {
	env := newPaymentTestEnv(t)
	order := createTestOrder(t, env.orderEnv)

	result, err := env.svc.CreatePaymentIntent(context.Background(), CreatePaymentIntentCommand{
		OrderID: order.ID,
		UserID:  "user-1",
	})
	if err != nil {
		t.Fatalf("CreatePaymentIntent returned error: %v", err)
	}
	if result.ClientSecret != "pi_123_secret" {
		t.Fatalf("client secret = %q", result.ClientSecret)
	}

	stored := env.orderEnv.orders.byID[order.ID]
	if stored.PaymentIntentID == nil || *stored.PaymentIntentID != "pi_123" {
		t.Fatalf("intent not persisted: %v", stored.PaymentIntentID)
	}
}

func TestCreatePaymentIntentProcessorFailure(t *testing.T) {
	env := newPaymentTestEnv(t)
	order := createTestOrder(t, env.orderEnv)
	env.processor.createErr = errors.New("stripe down")

	_, err := env.svc.CreatePaymentIntent(context.Background(), CreatePaymentIntentCommand{OrderID: order.ID})
	if !errors.Is(err, ErrPaymentProcessor) {
		t.Fatalf("expected ErrPaymentProcessor, got %v", err)
	}
}

func TestHandleWebhookMarksOrderPaid(t *testing.T) {
	env := newPaymentTestEnv(t)
	order := createTestOrder(t, env.orderEnv)

	sessionID := "cs_123"
	stored := env.orderEnv.orders.byID[order.ID]
	stored.CheckoutSessionID = &sessionID
	env.orderEnv.orders.byID[order.ID] = stored

	env.processor.event = payments.WebhookEvent{
		ID:        "evt_1",
		Provider:  "stripe",
		Type:      "checkout.session.completed",
		SessionID: "cs_123",
		IntentID:  "pi_123",
	}

	if err := env.svc.HandleWebhook(context.Background(), WebhookCommand{Payload: []byte("{}"), Signature: "sig"}); err != nil {
		t.Fatalf("HandleWebhook returned error: %v", err)
	}

	final := env.orderEnv.orders.byID[order.ID]
	if final.Status != domain.OrderStatusPaid {
		t.Fatalf("status = %s, want paid", final.Status)
	}
	if final.PaymentIntentID == nil || *final.PaymentIntentID != "pi_123" {
		t.Fatalf("intent id not backfilled: %v", final.PaymentIntentID)
	}
}

func TestHandleWebhookReplayIsIdempotent(t *testing.T) {
	env := newPaymentTestEnv(t)
	order := createTestOrder(t, env.orderEnv)

	sessionID := "cs_123"
	stored := env.orderEnv.orders.byID[order.ID]
	stored.CheckoutSessionID = &sessionID
	env.orderEnv.orders.byID[order.ID] = stored

	env.processor.event = payments.WebhookEvent{
		ID:        "evt_1",
		Type:      "checkout.session.completed",
		SessionID: "cs_123",
		IntentID:  "pi_123",
	}

	for i := 0; i < 3; i++ {
		if err := env.svc.HandleWebhook(context.Background(), WebhookCommand{Payload: []byte("{}"), Signature: "sig"}); err != nil {
			t.Fatalf("replay %d returned error: %v", i, err)
		}
	}

	paidRows := 0
	for _, entry := range env.orderEnv.history.entries {
		if entry.NewStatus == domain.OrderStatusPaid {
			paidRows++
		}
	}
	if paidRows != 1 {
		t.Fatalf("expected exactly one paid history row, got %d", paidRows)
	}
}

func TestHandleWebhookFailureCancelsOrder(t *testing.T) {
	env := newPaymentTestEnv(t)
	order := createTestOrder(t, env.orderEnv)

	intentID := "pi_123"
	stored := env.orderEnv.orders.byID[order.ID]
	stored.PaymentIntentID = &intentID
	env.orderEnv.orders.byID[order.ID] = stored

	env.processor.event = payments.WebhookEvent{
		ID:             "evt_2",
		Type:           "payment_intent.payment_failed",
		IntentID:       "pi_123",
		FailureMessage: "card declined",
	}

	if err := env.svc.HandleWebhook(context.Background(), WebhookCommand{Payload: []byte("{}"), Signature: "sig"}); err != nil {
		t.Fatalf("HandleWebhook returned error: %v", err)
	}

	final := env.orderEnv.orders.byID[order.ID]
	if final.Status != domain.OrderStatusCancelled {
		t.Fatalf("status = %s, want cancelled", final.Status)
	}
	if final.CancelReason == nil || *final.CancelReason != "card declined" {
		t.Fatalf("cancel reason = %v", final.CancelReason)
	}
	if env.orderEnv.inventory.stocks["var-1"].Available != 10 {
		t.Fatalf("stock not released: %+v", env.orderEnv.inventory.stocks["var-1"])
	}
}

func TestHandleWebhookUnknownReferenceAcknowledged(t *testing.T) {
	env := newPaymentTestEnv(t)
	env.processor.event = payments.WebhookEvent{
		ID:        "evt_3",
		Type:      "checkout.session.completed",
		SessionID: "cs_unknown",
	}

	if err := env.svc.HandleWebhook(context.Background(), WebhookCommand{Payload: []byte("{}"), Signature: "sig"}); err != nil {
		t.Fatalf("unknown reference should acknowledge, got %v", err)
	}
}

func TestHandleWebhookInvalidSignature(t *testing.T) {
	env := newPaymentTestEnv(t)
	env.processor.verifyErr = payments.ErrInvalidSignature

	err := env.svc.HandleWebhook(context.Background(), WebhookCommand{Payload: []byte("{}"), Signature: "bad"})
	if !errors.Is(err, payments.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestHandleWebhookUnhandledTypeIgnored(t *testing.T) {
	env := newPaymentTestEnv(t)
	order := createTestOrder(t, env.orderEnv)

	sessionID := "cs_123"
	stored := env.orderEnv.orders.byID[order.ID]
	stored.CheckoutSessionID = &sessionID
	env.orderEnv.orders.byID[order.ID] = stored

	env.processor.event = payments.WebhookEvent{
		ID:        "evt_4",
		Type:      "charge.updated",
		SessionID: "cs_123",
	}

	if err := env.svc.HandleWebhook(context.Background(), WebhookCommand{Payload: []byte("{}"), Signature: "sig"}); err != nil {
		t.Fatalf("HandleWebhook returned error: %v", err)
	}
	if env.orderEnv.orders.byID[order.ID].Status != domain.OrderStatusPending {
		t.Fatal("unhandled event type should not change the order")
	}
}
