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

	"github.com/webber-shop/api/internal/payments"
	"github.com/webber-shop/api/internal/services"
)

type stubPaymentService struct {
	checkoutFunc func(ctx context.Context, cmd services.CreateCheckoutSessionCommand) (services.CheckoutSessionResult, error)
	intentFunc   func(ctx context.Context, cmd services.CreatePaymentIntentCommand) (services.PaymentIntentResult, error)
	webhookFunc  func(ctx context.Context, cmd services.WebhookCommand) error
}

func (s *stubPaymentService) CreateCheckoutSession(ctx context.Context, cmd services.CreateCheckoutSessionCommand) (services.CheckoutSessionResult, error) {
	return s.checkoutFunc(ctx, cmd)
}

func (s *stubPaymentService) CreatePaymentIntent(ctx context.Context, cmd services.CreatePaymentIntentCommand) (services.PaymentIntentResult, error) {
	return s.intentFunc(ctx, cmd)
}

func (s *stubPaymentService) HandleWebhook(ctx context.Context, cmd services.WebhookCommand) error {
	return s.webhookFunc(ctx, cmd)
}

var _ services.PaymentService = (*stubPaymentService)(nil)

func newPaymentRouter(handler *PaymentHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/payments", handler.Routes)
	return router
}

func TestPaymentHandlersCreateCheckoutSession(t *testing.T) {
	expires := time.Date(2024, 5, 12, 11, 0, 0, 0, time.UTC)
	service := &stubPaymentService{
		checkoutFunc: func(ctx context.Context, cmd services.CreateCheckoutSessionCommand) (services.CheckoutSessionResult, error) {
			if cmd.OrderID != "ord_0001" || cmd.UserID != "user-7" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			if cmd.SuccessURL != "https://shop.test/done" {
				t.Fatalf("unexpected success url %q", cmd.SuccessURL)
			}
			return services.CheckoutSessionResult{
				SessionID:   "cs_test_123",
				RedirectURL: "https://checkout.stripe.com/c/pay/cs_test_123",
				ExpiresAt:   expires,
			}, nil
		},
	}

	router := newPaymentRouter(NewPaymentHandlers(service))

	body := `{"success_url":"https://shop.test/done","cancel_url":"https://shop.test/cancel"}`
	req := httptest.NewRequest(http.MethodPost, "/payments/create-checkout-session/ord_0001", strings.NewReader(body))
	req.Header.Set("X-User-ID", "user-7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp checkoutSessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.SessionID != "cs_test_123" {
		t.Fatalf("expected session id cs_test_123, got %q", resp.SessionID)
	}
	if resp.RedirectURL == "" {
		t.Fatalf("expected redirect url")
	}
}

func TestPaymentHandlersCheckoutSessionOrderNotPayable(t *testing.T) {
	service := &stubPaymentService{
		checkoutFunc: func(ctx context.Context, cmd services.CreateCheckoutSessionCommand) (services.CheckoutSessionResult, error) {
			return services.CheckoutSessionResult{}, services.ErrPaymentOrderState
		},
	}

	router := newPaymentRouter(NewPaymentHandlers(service))

	req := httptest.NewRequest(http.MethodPost, "/payments/create-checkout-session/ord_0001", nil)
	req.Header.Set("X-User-ID", "user-7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestPaymentHandlersCreatePaymentIntent(t *testing.T) {
	service := &stubPaymentService{
		intentFunc: func(ctx context.Context, cmd services.CreatePaymentIntentCommand) (services.PaymentIntentResult, error) {
			return services.PaymentIntentResult{IntentID: "pi_123", ClientSecret: "pi_123_secret"}, nil
		},
	}

	router := newPaymentRouter(NewPaymentHandlers(service))

	req := httptest.NewRequest(http.MethodPost, "/payments/create-payment-intent/ord_0001", nil)
	req.Header.Set("X-User-ID", "user-7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}

	var resp paymentIntentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ClientSecret != "pi_123_secret" {
		t.Fatalf("expected client secret, got %q", resp.ClientSecret)
	}
}

func TestPaymentHandlersProcessorFailure(t *testing.T) {
	service := &stubPaymentService{
		intentFunc: func(ctx context.Context, cmd services.CreatePaymentIntentCommand) (services.PaymentIntentResult, error) {
			return services.PaymentIntentResult{}, services.ErrPaymentProcessor
		},
	}

	router := newPaymentRouter(NewPaymentHandlers(service))

	req := httptest.NewRequest(http.MethodPost, "/payments/create-payment-intent/ord_0001", nil)
	req.Header.Set("X-User-ID", "user-7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", rr.Code)
	}
}

func TestWebhookHandlersStripeSuccess(t *testing.T) {
	var captured services.WebhookCommand
	service := &stubPaymentService{
		webhookFunc: func(ctx context.Context, cmd services.WebhookCommand) error {
			captured = cmd
			return nil
		},
	}

	router := chi.NewRouter()
	router.Route("/webhooks", NewWebhookHandlers(service).Routes)

	payload := `{"id":"evt_1","type":"checkout.session.completed"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=123,v1=abc")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.Provider != "stripe" {
		t.Fatalf("expected provider stripe, got %q", captured.Provider)
	}
	if string(captured.Payload) != payload {
		t.Fatalf("expected raw payload to pass through untouched")
	}
	if captured.Signature != "t=123,v1=abc" {
		t.Fatalf("expected signature header to be forwarded, got %q", captured.Signature)
	}
}

func TestWebhookHandlersStripeInvalidSignature(t *testing.T) {
	service := &stubPaymentService{
		webhookFunc: func(ctx context.Context, cmd services.WebhookCommand) error {
			return payments.ErrInvalidSignature
		},
	}

	router := chi.NewRouter()
	router.Route("/webhooks", NewWebhookHandlers(service).Routes)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=123,v1=bad")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestWebhookHandlersStripeProcessingFailure(t *testing.T) {
	service := &stubPaymentService{
		webhookFunc: func(ctx context.Context, cmd services.WebhookCommand) error {
			return context.DeadlineExceeded
		},
	}

	router := chi.NewRouter()
	router.Route("/webhooks", NewWebhookHandlers(service).Routes)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	// A 5xx keeps the event in the processor's retry queue.
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
}
