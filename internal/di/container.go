package di

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/webber-shop/api/internal/domain"
	"github.com/webber-shop/api/internal/payments"
	"github.com/webber-shop/api/internal/platform/config"
	"github.com/webber-shop/api/internal/repositories"
	"github.com/webber-shop/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Carts     services.CartService
	Coupons   services.CouponService
	Pricing   services.PricingEngine
	Inventory services.InventoryService
	Orders    services.OrderService
	Payments  services.PaymentService
	Shipping  services.ShippingService
}

// EventPublisher is the union of the per-topic publishing contracts the
// services consume. The Kafka publisher satisfies it; tests use recorders.
type EventPublisher interface {
	services.OrderEventPublisher
	services.InventoryEventPublisher
}

// Deps carries the externally constructed collaborators the container wires
// into services. Infrastructure lifecycles (DB pools, Kafka writers, Redis
// clients) stay with the caller; the container only composes them.
type Deps struct {
	Registry  repositories.Registry
	Processor *payments.Manager
	Carrier   services.CarrierGateway
	Events    EventPublisher
	// RateCache is optional; when set, carrier rate quotes are cached per lane.
	RateCache   redis.Cmdable
	Logger      *zap.Logger
	Clock       func() time.Time
	IDGenerator func() string
}

// Container wires repositories, services, and supporting infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries and stub gateways.
func NewContainer(cfg config.Config, deps Deps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("di: repositories registry is required")
	}
	if deps.Processor == nil {
		return nil, errors.New("di: payment processor is required")
	}
	if deps.Carrier == nil {
		return nil, errors.New("di: carrier gateway is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	svc, err := buildServices(cfg, deps, logger, clock)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

// buildServices assembles the service graph in dependency order: coupons feed
// the cart and pricing, pricing and inventory feed orders, and orders close the
// loop with payments through the lifecycle interface.
func buildServices(cfg config.Config, deps Deps, logger *zap.Logger, clock func() time.Time) (Services, error) {
	reg := deps.Registry

	couponService, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons:     reg.Coupons(),
		Clock:       clock,
		IDGenerator: deps.IDGenerator,
		Logger:      zapEventLogger(logger.Named("coupons")),
	})
	if err != nil {
		return Services{}, err
	}

	cartService, err := services.NewCartService(services.CartServiceDeps{
		Carts:       reg.Carts(),
		Coupons:     couponService,
		Clock:       clock,
		IDGenerator: deps.IDGenerator,
		Logger:      zapEventLogger(logger.Named("cart")),
	})
	if err != nil {
		return Services{}, err
	}

	pricingEngine, err := services.NewPricingEngine(services.PricingEngineDeps{
		Carts:            reg.Carts(),
		Coupons:          couponService,
		Rates:            deps.Carrier,
		Cache:            deps.RateCache,
		TaxRateBps:       int64(cfg.Pricing.TaxRateBasisPoints),
		OriginPostalCode: cfg.Warehouse.PostalCode,
		Clock:            clock,
		Logger:           zapEventLogger(logger.Named("pricing")),
	})
	if err != nil {
		return Services{}, err
	}

	inventoryService, err := services.NewInventoryService(services.InventoryServiceDeps{
		Inventory: reg.Inventory(),
		Events:    deps.Events,
		Clock:     clock,
		Logger:    zapEventLogger(logger.Named("inventory")),
	})
	if err != nil {
		return Services{}, err
	}

	shippingService, err := services.NewShippingService(services.ShippingServiceDeps{
		Shipments:      reg.Shipments(),
		Orders:         reg.Orders(),
		Gateway:        deps.Carrier,
		Origin:         warehouseAddress(cfg.Warehouse),
		DefaultCarrier: cfg.Shipping.DefaultCarrier,
		DefaultService: cfg.Shipping.DefaultService,
		Events:         deps.Events,
		Clock:          clock,
		IDGenerator:    deps.IDGenerator,
		Logger:         zapEventLogger(logger.Named("shipping")),
	})
	if err != nil {
		return Services{}, err
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:      reg.Orders(),
		History:     reg.OrderHistory(),
		Carts:       reg.Carts(),
		Shipments:   reg.Shipments(),
		Counters:    reg.Counters(),
		UnitOfWork:  reg,
		Inventory:   inventoryService,
		Pricing:     pricingEngine,
		Refunds:     deps.Processor,
		ShipmentSvc: shippingService,
		Events:      deps.Events,
		Clock:       clock,
		IDGenerator: deps.IDGenerator,
		Logger:      zapEventLogger(logger.Named("orders")),
	})
	if err != nil {
		return Services{}, err
	}

	paymentService, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:          reg.Orders(),
		OrderLifecycle:  orderService,
		Processor:       deps.Processor,
		DefaultProvider: "stripe",
		Clock:           clock,
		Logger:          zapEventLogger(logger.Named("payments")),
	})
	if err != nil {
		return Services{}, err
	}

	return Services{
		Carts:     cartService,
		Coupons:   couponService,
		Pricing:   pricingEngine,
		Inventory: inventoryService,
		Orders:    orderService,
		Payments:  paymentService,
		Shipping:  shippingService,
	}, nil
}

func warehouseAddress(w config.WarehouseConfig) domain.Address {
	addr := w.Address()
	return domain.Address{
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

func zapEventLogger(logger *zap.Logger) services.Logger {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug(event, zFields...)
	}
}
