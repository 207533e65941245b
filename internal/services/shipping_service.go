package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/webber-shop/api/internal/domain"
	"github.com/webber-shop/api/internal/repositories"
	"github.com/webber-shop/api/internal/shipping"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrShippingValidation indicates the command carried invalid input.
	ErrShippingValidation = errors.New("shipping: invalid input")
	// ErrShipmentNotFound indicates no shipment matches the tracking number.
	ErrShipmentNotFound = errors.New("shipping: shipment not found")
	// ErrShippingGateway indicates the carrier gateway call failed.
	ErrShippingGateway = errors.New("shipping: carrier failure")
)

// CarrierGateway is the slice of the carrier client the shipping service needs.
type CarrierGateway interface {
	GetRates(ctx context.Context, req domain.RateRequest) ([]domain.ShippingRate, error)
	CreateShipment(ctx context.Context, req shipping.CreateShipmentRequest) (shipping.ShipmentInfo, error)
	Track(ctx context.Context, trackingNumber string) (shipping.TrackingInfo, error)
	CancelShipment(ctx context.Context, trackingNumber string) error
}

// ShippingServiceDeps wires dependencies for the shipping service.
type ShippingServiceDeps struct {
	Shipments      repositories.ShipmentRepository
	Orders         repositories.OrderRepository
	Gateway        CarrierGateway
	Origin         Address
	DefaultCarrier string
	DefaultService string
	Events         OrderEventPublisher
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         Logger
}

type shippingService struct {
	shipments      repositories.ShipmentRepository
	orders         repositories.OrderRepository
	gateway        CarrierGateway
	origin         Address
	defaultCarrier string
	defaultService string
	events         OrderEventPublisher
	clock          func() time.Time
	newID          func() string
	logger         Logger
}

// NewShippingService constructs a ShippingService and validates dependencies.
func NewShippingService(deps ShippingServiceDeps) (ShippingService, error) {
	if deps.Shipments == nil {
		return nil, errors.New("shipping service: shipment repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("shipping service: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("shipping service: carrier gateway is required")
	}

	carrier := strings.TrimSpace(deps.DefaultCarrier)
	if carrier == "" {
		carrier = "usps"
	}
	service := strings.TrimSpace(deps.DefaultService)
	if service == "" {
		service = "Priority"
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return "shp_" + ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}

	return &shippingService{
		shipments:      deps.Shipments,
		orders:         deps.Orders,
		gateway:        deps.Gateway,
		origin:         deps.Origin,
		defaultCarrier: carrier,
		defaultService: service,
		events:         deps.Events,
		clock:          func() time.Time { return clock().UTC() },
		newID:          newID,
		logger:         logger,
	}, nil
}

func (s *shippingService) GetRates(ctx context.Context, req RateRequest) ([]ShippingRate, error) {
	if strings.TrimSpace(req.DestinationPostalCode) == "" {
		return nil, fmt.Errorf("%w: destination postal code is required", ErrShippingValidation)
	}
	if strings.TrimSpace(req.OriginPostalCode) == "" {
		req.OriginPostalCode = s.origin.PostalCode
	}
	if req.WeightGrams <= 0 {
		req.WeightGrams = defaultItemWeightGrams
	}

	rates, err := s.gateway.GetRates(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShippingGateway, err)
	}
	return rates, nil
}

// CreateShipmentForOrder purchases a label for an order heading out the door.
// Orders that already have a live shipment get it back unchanged.
func (s *shippingService) CreateShipmentForOrder(ctx context.Context, cmd CreateShipmentCommand) (Shipment, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Shipment{}, fmt.Errorf("%w: order id is required", ErrShippingValidation)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Shipment{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	switch order.Status {
	case domain.OrderStatusPaid, domain.OrderStatusProcessing:
	default:
		return Shipment{}, fmt.Errorf("%w: cannot ship %s order", ErrOrderInvalidState, order.Status)
	}

	existing, err := s.shipments.ListByOrder(ctx, orderID)
	if err != nil {
		return Shipment{}, mapRepositoryError(err, ErrShipmentNotFound, ErrShippingValidation)
	}
	for _, shipment := range existing {
		if shipment.Status != "cancelled" {
			return shipment, nil
		}
	}

	carrier := strings.TrimSpace(cmd.Carrier)
	if carrier == "" {
		carrier = s.defaultCarrier
	}
	service := strings.TrimSpace(cmd.ServiceName)
	if service == "" {
		service = s.defaultService
	}
	weight := cmd.WeightGrams
	if weight <= 0 {
		weight = orderWeightGrams(order)
	}

	info, err := s.gateway.CreateShipment(ctx, shipping.CreateShipmentRequest{
		OrderID:     order.ID,
		Carrier:     carrier,
		ServiceName: service,
		Origin:      s.origin,
		Destination: order.ShippingAddress,
		WeightGrams: weight,
		Reference:   order.OrderNumber,
	})
	if err != nil {
		return Shipment{}, fmt.Errorf("%w: %v", ErrShippingGateway, err)
	}

	now := s.clock()
	shipment := domain.Shipment{
		ID:             s.newID(),
		OrderID:        order.ID,
		TrackingNumber: info.TrackingNumber,
		Carrier:        info.Carrier,
		ServiceName:    info.ServiceName,
		LabelURL:       info.LabelURL,
		Status:         info.Status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.shipments.Insert(ctx, shipment); err != nil {
		return Shipment{}, mapRepositoryError(err, ErrShipmentNotFound, ErrShippingValidation)
	}

	s.publish(ctx, "order.shipment_created", order.ID, map[string]any{
		"trackingNumber": shipment.TrackingNumber,
		"carrier":        shipment.Carrier,
	})
	return shipment, nil
}

// Track refreshes a shipment from the carrier and merges new tracking events
// into the stored timeline.
func (s *shippingService) Track(ctx context.Context, trackingNumber string) (Shipment, error) {
	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return Shipment{}, fmt.Errorf("%w: tracking number is required", ErrShippingValidation)
	}

	shipment, err := s.shipments.FindByTrackingNumber(ctx, trackingNumber)
	if err != nil {
		return Shipment{}, mapRepositoryError(err, ErrShipmentNotFound, ErrShippingValidation)
	}

	info, err := s.gateway.Track(ctx, trackingNumber)
	if err != nil {
		if errors.Is(err, shipping.ErrShipmentNotFound) {
			return Shipment{}, fmt.Errorf("%w: %s", ErrShipmentNotFound, trackingNumber)
		}
		return Shipment{}, fmt.Errorf("%w: %v", ErrShippingGateway, err)
	}

	merged, added := mergeTrackingEvents(shipment.Events, info.Events)
	changed := added > 0
	if info.Status != "" && info.Status != shipment.Status {
		shipment.Status = info.Status
		changed = true
	}
	if !changed {
		return shipment, nil
	}

	shipment.Events = merged
	shipment.UpdatedAt = s.clock()
	if err := s.shipments.Update(ctx, shipment); err != nil {
		return Shipment{}, mapRepositoryError(err, ErrShipmentNotFound, ErrShippingValidation)
	}
	return shipment, nil
}

// CancelShipmentsForOrder voids every live label on the order. Already
// cancelled shipments are skipped.
func (s *shippingService) CancelShipmentsForOrder(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrShippingValidation)
	}

	shipments, err := s.shipments.ListByOrder(ctx, orderID)
	if err != nil {
		return mapRepositoryError(err, ErrShipmentNotFound, ErrShippingValidation)
	}

	for _, shipment := range shipments {
		if shipment.Status == "cancelled" || shipment.Status == "delivered" {
			continue
		}
		if err := s.gateway.CancelShipment(ctx, shipment.TrackingNumber); err != nil {
			return fmt.Errorf("%w: %v", ErrShippingGateway, err)
		}
		shipment.Status = "cancelled"
		shipment.UpdatedAt = s.clock()
		if err := s.shipments.Update(ctx, shipment); err != nil {
			return mapRepositoryError(err, ErrShipmentNotFound, ErrShippingValidation)
		}
		s.publish(ctx, "order.shipment_cancelled", orderID, map[string]any{
			"trackingNumber": shipment.TrackingNumber,
		})
	}
	return nil
}

func (s *shippingService) publish(ctx context.Context, eventType, orderID string, payload map[string]any) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, eventType, orderID, payload); err != nil {
		s.logger(ctx, "shipping.event.publish_failed", map[string]any{
			"eventType": eventType,
			"orderId":   orderID,
			"error":     err.Error(),
		})
	}
}

// mergeTrackingEvents appends carrier events not already in the stored
// timeline, keyed by occurrence time and description.
func mergeTrackingEvents(stored, incoming []domain.TrackingEvent) ([]domain.TrackingEvent, int) {
	seen := make(map[string]bool, len(stored))
	for _, event := range stored {
		seen[trackingEventKey(event)] = true
	}

	added := 0
	merged := stored
	for _, event := range incoming {
		key := trackingEventKey(event)
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, event)
		added++
	}
	return merged, added
}

func trackingEventKey(event domain.TrackingEvent) string {
	return event.OccurredAt.UTC().Format(time.RFC3339Nano) + "|" + event.Description
}

func orderWeightGrams(order domain.Order) int {
	var quantity int
	for _, item := range order.Items {
		quantity += item.Quantity
	}
	if quantity == 0 {
		quantity = 1
	}
	return quantity * defaultItemWeightGrams
}
