package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/webber-shop/api/internal/platform/httpx"
	"github.com/webber-shop/api/internal/services"
)

// AdminHandlers exposes back-office endpoints: stock management, order status
// transitions, and shipment operations.
type AdminHandlers struct {
	inventory services.InventoryService
	orders    services.OrderService
	shipping  services.ShippingService
}

const maxAdminBodySize = 16 * 1024

// NewAdminHandlers constructs the back-office handlers.
func NewAdminHandlers(inventory services.InventoryService, orders services.OrderService, shipping services.ShippingService) *AdminHandlers {
	return &AdminHandlers{
		inventory: inventory,
		orders:    orders,
		shipping:  shipping,
	}
}

// Routes wires the /admin endpoints onto the provided router.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/inventory/{variantID}", h.getStock)
	r.Post("/inventory/{variantID}/adjust", h.adjustStock)
	r.Post("/orders/{orderID}/status", h.transitionOrder)
	r.Post("/orders/{orderID}/shipments", h.createShipment)
	r.Delete("/orders/{orderID}/shipments", h.cancelShipments)
}

func (h *AdminHandlers) getStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_service_unavailable", "inventory service is unavailable", http.StatusServiceUnavailable))
		return
	}

	record, err := h.inventory.GetStock(ctx, strings.TrimSpace(chi.URLParam(r, "variantID")))
	if err != nil {
		h.writeAdminError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, stockResponse{Stock: buildStockPayload(record)})
}

func (h *AdminHandlers) adjustStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_service_unavailable", "inventory service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req adjustStockRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	record, err := h.inventory.AdjustStock(ctx, services.AdjustStockCommand{
		ProductID: strings.TrimSpace(req.ProductID),
		VariantID: strings.TrimSpace(chi.URLParam(r, "variantID")),
		Delta:     req.Delta,
	})
	if err != nil {
		h.writeAdminError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, stockResponse{Stock: buildStockPayload(record)})
}

func (h *AdminHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req transitionOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	target, ok := parseOrderStatus(req.Status)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown order status "+req.Status, http.StatusBadRequest))
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID: strings.TrimSpace(chi.URLParam(r, "orderID")),
		Target:  target,
		Actor:   strings.TrimSpace(r.Header.Get(userIDHeader)),
		Notes:   strings.TrimSpace(req.Notes),
	})
	if err != nil {
		h.writeAdminError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) createShipment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shipping == nil {
		httpx.WriteError(ctx, w, httpx.NewError("shipping_service_unavailable", "shipping service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createShipmentRequest
	body, err := readLimitedBody(r, maxAdminBodySize)
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

	shipment, err := h.shipping.CreateShipmentForOrder(ctx, services.CreateShipmentCommand{
		OrderID:     strings.TrimSpace(chi.URLParam(r, "orderID")),
		Carrier:     strings.TrimSpace(req.Carrier),
		ServiceName: strings.TrimSpace(req.ServiceName),
		WeightGrams: req.WeightGrams,
	})
	if err != nil {
		h.writeAdminError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, shipmentResponse{Shipment: buildShipmentPayload(shipment)})
}

func (h *AdminHandlers) cancelShipments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shipping == nil {
		httpx.WriteError(ctx, w, httpx.NewError("shipping_service_unavailable", "shipping service is unavailable", http.StatusServiceUnavailable))
		return
	}

	if err := h.shipping.CancelShipmentsForOrder(ctx, strings.TrimSpace(chi.URLParam(r, "orderID"))); err != nil {
		h.writeAdminError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) writeAdminError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrInventoryValidation), errors.Is(err, services.ErrShippingValidation), errors.Is(err, services.ErrOrderValidation):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrStockNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("stock_not_found", "stock record not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOutOfStock):
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrShipmentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("shipment_not_found", "shipment not found", http.StatusNotFound))
	case errors.Is(err, services.ErrShippingGateway):
		httpx.WriteError(ctx, w, httpx.NewError("carrier_unavailable", "carrier is temporarily unavailable", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("admin_error", "operation failed", http.StatusInternalServerError))
	}
}

func buildStockPayload(record services.InventoryRecord) stockPayload {
	return stockPayload{
		VariantID: record.VariantID,
		ProductID: record.ProductID,
		Available: record.Available,
		Reserved:  record.Reserved,
		UpdatedAt: formatTime(record.UpdatedAt),
	}
}

type adjustStockRequest struct {
	ProductID string `json:"product_id"`
	Delta     int    `json:"delta"`
}

type transitionOrderRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

type createShipmentRequest struct {
	Carrier     string `json:"carrier"`
	ServiceName string `json:"service_name"`
	WeightGrams int    `json:"weight_grams"`
}

type stockResponse struct {
	Stock stockPayload `json:"stock"`
}

type stockPayload struct {
	VariantID string `json:"variant_id"`
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
	Reserved  int    `json:"reserved"`
	UpdatedAt string `json:"updated_at,omitempty"`
}
