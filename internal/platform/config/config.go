package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultDBMaxOpenConns       = 50
	defaultDBMaxIdleConns       = 25
	defaultDBConnMaxLifetime    = 5 * time.Minute
	defaultRedisAddr            = "localhost:6379"
	defaultKafkaOrderTopic      = "orders.events"
	defaultKafkaInventoryTopic  = "inventory.events"
	defaultShippingTimeout      = 10 * time.Second
	defaultPaymentTimeout       = 15 * time.Second
	defaultTaxRateBasisPoints   = 0
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	PSP         PSPConfig
	Shipping    ShippingConfig
	Warehouse   WarehouseConfig
	Pricing     PricingConfig
	Idempotency IdempotencyConfig
	Security    SecurityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig stores MySQL connection parameters.
type DatabaseConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig stores connection parameters for the idempotency store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig lists brokers and topics for domain event publishing.
type KafkaConfig struct {
	Brokers        []string
	OrderTopic     string
	InventoryTopic string
}

// PSPConfig collects settings for the payment processor.
type PSPConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
	SuccessURL          string
	CancelURL           string
	Timeout             time.Duration
}

// ShippingConfig points at the carrier gateway.
type ShippingConfig struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	DefaultCarrier string
	DefaultService string
}

// WarehouseConfig is the origin address used for rate quotes and labels.
type WarehouseConfig struct {
	Name       string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// PricingConfig tunes the preview engine.
type PricingConfig struct {
	TaxRateBasisPoints int
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecurityConfig holds access-control settings for operator endpoints. Admin
// routes stay disabled until a token is configured.
type SecurityConfig struct {
	AdminToken string
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// and environment variables.
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Environment: stringWithDefault(lookup, "API_ENVIRONMENT", "local"),
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Database: DatabaseConfig{
			DSN:             stringWithDefault(lookup, "API_DATABASE_DSN", ""),
			MaxOpenConns:    intWithDefault(lookup, "API_DATABASE_MAX_OPEN_CONNS", defaultDBMaxOpenConns),
			MaxIdleConns:    intWithDefault(lookup, "API_DATABASE_MAX_IDLE_CONNS", defaultDBMaxIdleConns),
			ConnMaxLifetime: durationWithDefault(lookup, "API_DATABASE_CONN_MAX_LIFETIME", defaultDBConnMaxLifetime),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "API_REDIS_ADDR", defaultRedisAddr),
			Password: stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "API_REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:        csvWithDefault(lookup, "API_KAFKA_BROKERS"),
			OrderTopic:     stringWithDefault(lookup, "API_KAFKA_ORDER_TOPIC", defaultKafkaOrderTopic),
			InventoryTopic: stringWithDefault(lookup, "API_KAFKA_INVENTORY_TOPIC", defaultKafkaInventoryTopic),
		},
		PSP: PSPConfig{
			StripeAPIKey:        stringWithDefault(lookup, "API_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret: stringWithDefault(lookup, "API_PSP_STRIPE_WEBHOOK_SECRET", ""),
			SuccessURL:          stringWithDefault(lookup, "API_PSP_SUCCESS_URL", ""),
			CancelURL:           stringWithDefault(lookup, "API_PSP_CANCEL_URL", ""),
			Timeout:             durationWithDefault(lookup, "API_PSP_TIMEOUT", defaultPaymentTimeout),
		},
		Shipping: ShippingConfig{
			BaseURL:        stringWithDefault(lookup, "API_SHIPPING_BASE_URL", ""),
			APIKey:         stringWithDefault(lookup, "API_SHIPPING_API_KEY", ""),
			Timeout:        durationWithDefault(lookup, "API_SHIPPING_TIMEOUT", defaultShippingTimeout),
			DefaultCarrier: stringWithDefault(lookup, "API_SHIPPING_DEFAULT_CARRIER", "usps"),
			DefaultService: stringWithDefault(lookup, "API_SHIPPING_DEFAULT_SERVICE", "Priority"),
		},
		Warehouse: WarehouseConfig{
			Name:       stringWithDefault(lookup, "API_WAREHOUSE_NAME", ""),
			Line1:      stringWithDefault(lookup, "API_WAREHOUSE_LINE1", ""),
			Line2:      stringWithDefault(lookup, "API_WAREHOUSE_LINE2", ""),
			City:       stringWithDefault(lookup, "API_WAREHOUSE_CITY", ""),
			State:      stringWithDefault(lookup, "API_WAREHOUSE_STATE", ""),
			PostalCode: stringWithDefault(lookup, "API_WAREHOUSE_POSTAL_CODE", ""),
			Country:    stringWithDefault(lookup, "API_WAREHOUSE_COUNTRY", ""),
			Phone:      stringWithDefault(lookup, "API_WAREHOUSE_PHONE", ""),
		},
		Pricing: PricingConfig{
			TaxRateBasisPoints: intWithDefault(lookup, "API_PRICING_TAX_RATE_BPS", defaultTaxRateBasisPoints),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		Security: SecurityConfig{
			AdminToken: stringWithDefault(lookup, "API_SECURITY_ADMIN_TOKEN", ""),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		missing = append(missing, "Database.DSN")
	}
	if cfg.Database.MaxOpenConns <= 0 {
		missing = append(missing, "Database.MaxOpenConns")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}
	if cfg.PSP.Timeout <= 0 {
		missing = append(missing, "PSP.Timeout")
	}
	if cfg.Shipping.Timeout <= 0 {
		missing = append(missing, "Shipping.Timeout")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Address returns the warehouse origin as a plain address value.
func (w WarehouseConfig) Address() WarehouseAddress {
	return WarehouseAddress{
		Name:       w.Name,
		Line1:      w.Line1,
		Line2:      w.Line2,
		City:       w.City,
		State:      w.State,
		PostalCode: w.PostalCode,
		Country:    w.Country,
		Phone:      w.Phone,
	}
}

// WarehouseAddress mirrors the warehouse origin fields without config coupling.
type WarehouseAddress struct {
	Name       string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}
