package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/webber-shop/api/internal/domain"
	"github.com/webber-shop/api/internal/platform/httpx"
	"github.com/webber-shop/api/internal/services"
)

// ShippingHandlers exposes rate quoting and shipment tracking endpoints.
type ShippingHandlers struct {
	shipping services.ShippingService
}

const maxShippingBodySize = 16 * 1024

// NewShippingHandlers constructs handlers over the shipping service.
func NewShippingHandlers(svc services.ShippingService) *ShippingHandlers {
	return &ShippingHandlers{shipping: svc}
}

// Routes wires the /shipping endpoints onto the provided router.
func (h *ShippingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(RequireUser())
	r.Post("/rates", h.getRates)
	r.Get("/shipments/{trackingNumber}", h.track)
}

func (h *ShippingHandlers) getRates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shipping == nil {
		httpx.WriteError(ctx, w, httpx.NewError("shipping_service_unavailable", "shipping service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxShippingBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req rateQuoteRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	rates, err := h.shipping.GetRates(ctx, domain.RateRequest{
		OriginPostalCode:      strings.TrimSpace(req.OriginPostalCode),
		DestinationPostalCode: strings.TrimSpace(req.DestinationPostalCode),
		WeightGrams:           req.WeightGrams,
		LengthCm:              req.LengthCm,
		WidthCm:               req.WidthCm,
		HeightCm:              req.HeightCm,
	})
	if err != nil {
		h.writeShippingError(ctx, w, err)
		return
	}

	payload := rateQuoteResponse{Rates: make([]ratePayload, 0, len(rates))}
	for _, rate := range rates {
		payload.Rates = append(payload.Rates, ratePayload{
			Carrier:           rate.Carrier,
			ServiceName:       rate.ServiceName,
			TotalRate:         rate.TotalRate,
			Currency:          strings.ToLower(rate.Currency),
			EstimatedDelivery: formatTimePointer(rate.EstimatedDelivery),
		})
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *ShippingHandlers) track(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shipping == nil {
		httpx.WriteError(ctx, w, httpx.NewError("shipping_service_unavailable", "shipping service is unavailable", http.StatusServiceUnavailable))
		return
	}

	trackingNumber := strings.TrimSpace(chi.URLParam(r, "trackingNumber"))
	if trackingNumber == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "tracking number is required", http.StatusBadRequest))
		return
	}

	shipment, err := h.shipping.Track(ctx, trackingNumber)
	if err != nil {
		h.writeShippingError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, shipmentResponse{Shipment: buildShipmentPayload(shipment)})
}

func (h *ShippingHandlers) writeShippingError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrShippingValidation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrShipmentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("shipment_not_found", "shipment not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrShippingGateway):
		httpx.WriteError(ctx, w, httpx.NewError("carrier_unavailable", "carrier is temporarily unavailable", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("shipping_error", "shipping operation failed", http.StatusInternalServerError))
	}
}

func buildShipmentPayload(shipment services.Shipment) shipmentPayload {
	events := make([]trackingEventPayload, 0, len(shipment.Events))
	for _, event := range shipment.Events {
		events = append(events, trackingEventPayload{
			OccurredAt:  formatTime(event.OccurredAt),
			Location:    event.Location,
			Description: event.Description,
		})
	}
	return shipmentPayload{
		ID:             shipment.ID,
		OrderID:        shipment.OrderID,
		TrackingNumber: shipment.TrackingNumber,
		Carrier:        shipment.Carrier,
		ServiceName:    shipment.ServiceName,
		LabelURL:       shipment.LabelURL,
		Status:         shipment.Status,
		Events:         events,
		CreatedAt:      formatTime(shipment.CreatedAt),
		UpdatedAt:      formatTime(shipment.UpdatedAt),
	}
}

func buildShipmentPayloads(shipments []services.Shipment) []shipmentPayload {
	payload := make([]shipmentPayload, 0, len(shipments))
	for _, shipment := range shipments {
		payload = append(payload, buildShipmentPayload(shipment))
	}
	return payload
}

type rateQuoteRequest struct {
	OriginPostalCode      string `json:"origin_postal_code"`
	DestinationPostalCode string `json:"destination_postal_code"`
	WeightGrams           int    `json:"weight_grams"`
	LengthCm              int    `json:"length_cm"`
	WidthCm               int    `json:"width_cm"`
	HeightCm              int    `json:"height_cm"`
}

type rateQuoteResponse struct {
	Rates []ratePayload `json:"rates"`
}

type ratePayload struct {
	Carrier           string `json:"carrier"`
	ServiceName       string `json:"service_name"`
	TotalRate         int64  `json:"total_rate"`
	Currency          string `json:"currency"`
	EstimatedDelivery string `json:"estimated_delivery,omitempty"`
}

type shipmentResponse struct {
	Shipment shipmentPayload `json:"shipment"`
}

type shipmentPayload struct {
	ID             string                 `json:"id"`
	OrderID        string                 `json:"order_id"`
	TrackingNumber string                 `json:"tracking_number"`
	Carrier        string                 `json:"carrier"`
	ServiceName    string                 `json:"service_name"`
	LabelURL       string                 `json:"label_url,omitempty"`
	Status         string                 `json:"status"`
	Events         []trackingEventPayload `json:"events"`
	CreatedAt      string                 `json:"created_at,omitempty"`
	UpdatedAt      string                 `json:"updated_at,omitempty"`
}

type trackingEventPayload struct {
	OccurredAt  string `json:"occurred_at"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description"`
}
