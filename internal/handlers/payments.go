package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/webber-shop/api/internal/payments"
	"github.com/webber-shop/api/internal/platform/httpx"
	"github.com/webber-shop/api/internal/services"
)

// PaymentHandlers exposes processor session endpoints for the current user.
type PaymentHandlers struct {
	payments services.PaymentService
}

const maxPaymentBodySize = 16 * 1024

// NewPaymentHandlers constructs handlers over the payment service.
func NewPaymentHandlers(svc services.PaymentService) *PaymentHandlers {
	return &PaymentHandlers{payments: svc}
}

// Routes wires the /payments endpoints onto the provided router.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(RequireUser())
	r.Post("/create-checkout-session/{orderID}", h.createCheckoutSession)
	r.Post("/create-payment-intent/{orderID}", h.createPaymentIntent)
}

func (h *PaymentHandlers) createCheckoutSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req checkoutSessionRequest
	body, err := readLimitedBody(r, maxPaymentBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
			return
		}
	}

	result, err := h.payments.CreateCheckoutSession(ctx, services.CreateCheckoutSessionCommand{
		OrderID:    strings.TrimSpace(chi.URLParam(r, "orderID")),
		UserID:     currentUserID(r),
		SuccessURL: strings.TrimSpace(req.SuccessURL),
		CancelURL:  strings.TrimSpace(req.CancelURL),
	})
	if err != nil {
		h.writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, checkoutSessionResponse{
		SessionID:   result.SessionID,
		RedirectURL: result.RedirectURL,
		ExpiresAt:   formatTime(result.ExpiresAt),
	})
}

func (h *PaymentHandlers) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
		return
	}

	result, err := h.payments.CreatePaymentIntent(ctx, services.CreatePaymentIntentCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		UserID:  currentUserID(r),
	})
	if err != nil {
		h.writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, paymentIntentResponse{
		IntentID:     result.IntentID,
		ClientSecret: result.ClientSecret,
	})
}

func (h *PaymentHandlers) writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderNotFound), errors.Is(err, services.ErrOrderAccessDenied):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentOrderState):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_payable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPaymentProcessor):
		httpx.WriteError(ctx, w, httpx.NewError("payment_processor_error", "payment processor rejected the request", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "payment operation failed", http.StatusInternalServerError))
	}
}

// WebhookHandlers receives processor callbacks. Routes are unauthenticated;
// authenticity comes from the signature check inside the payment service.
type WebhookHandlers struct {
	payments services.PaymentService
}

// Processor webhook payloads can carry full session objects.
const maxWebhookBodySize = 256 * 1024

// NewWebhookHandlers constructs handlers over the payment service.
func NewWebhookHandlers(svc services.PaymentService) *WebhookHandlers {
	return &WebhookHandlers{payments: svc}
}

// Routes wires the /webhooks endpoints onto the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripeWebhook)
}

func (h *WebhookHandlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
		return
	}

	// Signature verification needs the raw bytes exactly as sent.
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
		return
	}
	if int64(len(payload)) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}

	err = h.payments.HandleWebhook(ctx, services.WebhookCommand{
		Provider:  "stripe",
		Payload:   payload,
		Signature: r.Header.Get("Stripe-Signature"),
	})
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrInvalidSignature):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		default:
			// Non-2xx makes the processor retry the delivery.
			httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "webhook processing failed", http.StatusInternalServerError))
		}
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]bool{"received": true})
}

type checkoutSessionRequest struct {
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

type checkoutSessionResponse struct {
	SessionID   string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

type paymentIntentResponse struct {
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
}
