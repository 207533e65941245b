package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	domain "github.com/webber-shop/api/internal/domain"
)

const defaultTimeout = 10 * time.Second

// ErrCarrierUnavailable is returned when the carrier aggregator cannot be reached
// or responds with a server error.
var ErrCarrierUnavailable = errors.New("shipping: carrier unavailable")

// ErrShipmentNotFound is returned when the carrier has no record of the tracking number.
var ErrShipmentNotFound = errors.New("shipping: shipment not found")

// Logger defines the logging contract for gateway operations.
type Logger func(ctx context.Context, event string, fields map[string]any)

// CreateShipmentRequest describes a label purchase for one parcel.
type CreateShipmentRequest struct {
	OrderID     string
	Carrier     string
	ServiceName string
	Origin      domain.Address
	Destination domain.Address
	WeightGrams int
	Reference   string
}

// ShipmentInfo is the carrier's view of a purchased label.
type ShipmentInfo struct {
	TrackingNumber string
	Carrier        string
	ServiceName    string
	LabelURL       string
	Status         string
}

// TrackingInfo carries the current status and event timeline for a shipment.
type TrackingInfo struct {
	TrackingNumber string
	Status         string
	Events         []domain.TrackingEvent
}

// GatewayConfig configures the HTTP carrier gateway.
type GatewayConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     Logger
}

// Gateway talks to the carrier aggregator's REST API. Every call is bounded by
// the configured timeout so a slow carrier cannot stall order processing.
type Gateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  Logger
}

// NewGateway constructs a carrier gateway from the supplied configuration.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("shipping: base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("shipping: invalid base url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &Gateway{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		client:  client,
		logger:  logger,
	}, nil
}

// GetRates requests quotes for the described parcel.
func (g *Gateway) GetRates(ctx context.Context, req domain.RateRequest) ([]domain.ShippingRate, error) {
	payload := rateRequestBody{
		OriginPostalCode:      req.OriginPostalCode,
		DestinationPostalCode: req.DestinationPostalCode,
		WeightGrams:           req.WeightGrams,
		LengthCm:              req.LengthCm,
		WidthCm:               req.WidthCm,
		HeightCm:              req.HeightCm,
	}

	var body ratesResponseBody
	if err := g.do(ctx, http.MethodPost, "/v1/rates", payload, &body); err != nil {
		return nil, err
	}

	rates := make([]domain.ShippingRate, 0, len(body.Rates))
	for _, r := range body.Rates {
		rates = append(rates, domain.ShippingRate{
			Carrier:           r.Carrier,
			ServiceName:       r.ServiceName,
			TotalRate:         r.TotalRate,
			Currency:          r.Currency,
			EstimatedDelivery: r.EstimatedDelivery,
		})
	}
	return rates, nil
}

// CreateShipment purchases a label for the parcel.
func (g *Gateway) CreateShipment(ctx context.Context, req CreateShipmentRequest) (ShipmentInfo, error) {
	payload := createShipmentBody{
		Carrier:     req.Carrier,
		ServiceName: req.ServiceName,
		Reference:   req.Reference,
		WeightGrams: req.WeightGrams,
		Origin:      addressBody(req.Origin),
		Destination: addressBody(req.Destination),
	}

	var body shipmentResponseBody
	if err := g.do(ctx, http.MethodPost, "/v1/shipments", payload, &body); err != nil {
		return ShipmentInfo{}, err
	}

	g.logger(ctx, "shipping.shipment.created", map[string]any{
		"trackingNumber": body.TrackingNumber,
		"carrier":        body.Carrier,
		"orderRef":       req.Reference,
	})

	return ShipmentInfo{
		TrackingNumber: body.TrackingNumber,
		Carrier:        body.Carrier,
		ServiceName:    body.ServiceName,
		LabelURL:       body.LabelURL,
		Status:         body.Status,
	}, nil
}

// Track fetches the current status and event timeline for a tracking number.
func (g *Gateway) Track(ctx context.Context, trackingNumber string) (TrackingInfo, error) {
	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return TrackingInfo{}, errors.New("shipping: tracking number is required")
	}

	var body trackResponseBody
	if err := g.do(ctx, http.MethodGet, "/v1/trackers/"+url.PathEscape(trackingNumber), nil, &body); err != nil {
		return TrackingInfo{}, err
	}

	events := make([]domain.TrackingEvent, 0, len(body.Events))
	for _, e := range body.Events {
		events = append(events, domain.TrackingEvent{
			OccurredAt:  e.OccurredAt,
			Location:    e.Location,
			Description: e.Description,
		})
	}

	return TrackingInfo{
		TrackingNumber: body.TrackingNumber,
		Status:         body.Status,
		Events:         events,
	}, nil
}

// CancelShipment voids a label before pickup.
func (g *Gateway) CancelShipment(ctx context.Context, trackingNumber string) error {
	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return errors.New("shipping: tracking number is required")
	}

	if err := g.do(ctx, http.MethodPost, "/v1/shipments/"+url.PathEscape(trackingNumber)+"/cancel", nil, nil); err != nil {
		return err
	}

	g.logger(ctx, "shipping.shipment.cancelled", map[string]any{
		"trackingNumber": trackingNumber,
	})
	return nil
}

func (g *Gateway) do(ctx context.Context, method, path string, payload, out any) error {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("shipping: encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("shipping: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCarrierUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrShipmentNotFound, path)
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: carrier returned %d", ErrCarrierUnavailable, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("shipping: carrier rejected request (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("shipping: decode response: %w", err)
	}
	return nil
}

func addressBody(addr domain.Address) addressPayload {
	return addressPayload{
		Name:       addr.Name,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}
}

type rateRequestBody struct {
	OriginPostalCode      string `json:"originPostalCode"`
	DestinationPostalCode string `json:"destinationPostalCode"`
	WeightGrams           int    `json:"weightGrams"`
	LengthCm              int    `json:"lengthCm"`
	WidthCm               int    `json:"widthCm"`
	HeightCm              int    `json:"heightCm"`
}

type ratesResponseBody struct {
	Rates []rateBody `json:"rates"`
}

type rateBody struct {
	Carrier           string     `json:"carrier"`
	ServiceName       string     `json:"serviceName"`
	TotalRate         int64      `json:"totalRate"`
	Currency          string     `json:"currency"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery,omitempty"`
}

type addressPayload struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type createShipmentBody struct {
	Carrier     string         `json:"carrier"`
	ServiceName string         `json:"serviceName"`
	Reference   string         `json:"reference"`
	WeightGrams int            `json:"weightGrams"`
	Origin      addressPayload `json:"origin"`
	Destination addressPayload `json:"destination"`
}

type shipmentResponseBody struct {
	TrackingNumber string `json:"trackingNumber"`
	Carrier        string `json:"carrier"`
	ServiceName    string `json:"serviceName"`
	LabelURL       string `json:"labelUrl"`
	Status         string `json:"status"`
}

type trackResponseBody struct {
	TrackingNumber string              `json:"trackingNumber"`
	Status         string              `json:"status"`
	Events         []trackingEventBody `json:"events"`
}

type trackingEventBody struct {
	OccurredAt  time.Time `json:"occurredAt"`
	Location    string    `json:"location"`
	Description string    `json:"description"`
}
