package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"API_DATABASE_DSN": "webber:webber@tcp(localhost:3306)/webber?parseTime=true",
	}

	cfg, err := Load(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Database.MaxOpenConns != defaultDBMaxOpenConns {
		t.Errorf("unexpected default max open conns: %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Redis.Addr != defaultRedisAddr {
		t.Errorf("unexpected default redis addr: %s", cfg.Redis.Addr)
	}
	if cfg.Kafka.OrderTopic != defaultKafkaOrderTopic {
		t.Errorf("unexpected default order topic: %s", cfg.Kafka.OrderTopic)
	}
	if cfg.Kafka.InventoryTopic != defaultKafkaInventoryTopic {
		t.Errorf("unexpected default inventory topic: %s", cfg.Kafka.InventoryTopic)
	}
	if cfg.Shipping.Timeout != defaultShippingTimeout {
		t.Errorf("unexpected default shipping timeout: %s", cfg.Shipping.Timeout)
	}
	if cfg.PSP.Timeout != defaultPaymentTimeout {
		t.Errorf("unexpected default psp timeout: %s", cfg.PSP.Timeout)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected default idempotency ttl: %s", cfg.Idempotency.TTL)
	}
}

func TestLoadWithOverrides(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                  "9090",
		"API_SERVER_READ_TIMEOUT":          "20s",
		"API_SERVER_WRITE_TIMEOUT":         "25s",
		"API_SERVER_IDLE_TIMEOUT":          "2m",
		"API_DATABASE_DSN":                 "webber:pw@tcp(db:3306)/webber?parseTime=true",
		"API_DATABASE_MAX_OPEN_CONNS":      "80",
		"API_DATABASE_MAX_IDLE_CONNS":      "40",
		"API_DATABASE_CONN_MAX_LIFETIME":   "10m",
		"API_REDIS_ADDR":                   "redis:6379",
		"API_REDIS_DB":                     "2",
		"API_KAFKA_BROKERS":                "kafka-1:9092, kafka-2:9092",
		"API_KAFKA_ORDER_TOPIC":            "orders.v2",
		"API_PSP_STRIPE_API_KEY":           "sk_test_123",
		"API_PSP_STRIPE_WEBHOOK_SECRET":    "whsec_123",
		"API_PSP_SUCCESS_URL":              "https://shop.example.com/checkout/success",
		"API_PSP_CANCEL_URL":               "https://shop.example.com/checkout/cancel",
		"API_PSP_TIMEOUT":                  "8s",
		"API_SHIPPING_BASE_URL":            "https://carrier.example.com",
		"API_SHIPPING_API_KEY":             "ship-key",
		"API_SHIPPING_TIMEOUT":             "6s",
		"API_WAREHOUSE_POSTAL_CODE":        "94103",
		"API_WAREHOUSE_COUNTRY":            "US",
		"API_PRICING_TAX_RATE_BPS":         "825",
		"API_IDEMPOTENCY_HEADER":           "X-Idem-Key",
		"API_IDEMPOTENCY_TTL":              "48h",
		"API_IDEMPOTENCY_CLEANUP_INTERVAL": "30m",
		"API_IDEMPOTENCY_CLEANUP_BATCH":    "500",
	}

	cfg, err := Load(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("unexpected port: %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if cfg.Database.MaxOpenConns != 80 || cfg.Database.MaxIdleConns != 40 {
		t.Errorf("unexpected pool sizes: %d/%d", cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime != 10*time.Minute {
		t.Errorf("unexpected conn max lifetime: %s", cfg.Database.ConnMaxLifetime)
	}
	if cfg.Redis.Addr != "redis:6379" || cfg.Redis.DB != 2 {
		t.Errorf("unexpected redis config: %+v", cfg.Redis)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "kafka-2:9092" {
		t.Errorf("unexpected kafka brokers: %v", cfg.Kafka.Brokers)
	}
	if cfg.Kafka.OrderTopic != "orders.v2" {
		t.Errorf("unexpected order topic: %s", cfg.Kafka.OrderTopic)
	}
	if cfg.PSP.StripeAPIKey != "sk_test_123" || cfg.PSP.StripeWebhookSecret != "whsec_123" {
		t.Errorf("unexpected psp credentials: %+v", cfg.PSP)
	}
	if cfg.PSP.Timeout != 8*time.Second {
		t.Errorf("unexpected psp timeout: %s", cfg.PSP.Timeout)
	}
	if cfg.Shipping.BaseURL != "https://carrier.example.com" || cfg.Shipping.Timeout != 6*time.Second {
		t.Errorf("unexpected shipping config: %+v", cfg.Shipping)
	}
	if cfg.Warehouse.PostalCode != "94103" || cfg.Warehouse.Country != "US" {
		t.Errorf("unexpected warehouse config: %+v", cfg.Warehouse)
	}
	if cfg.Pricing.TaxRateBasisPoints != 825 {
		t.Errorf("unexpected tax rate: %d", cfg.Pricing.TaxRateBasisPoints)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" || cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency config: %+v", cfg.Idempotency)
	}
	if cfg.Idempotency.CleanupInterval != 30*time.Minute || cfg.Idempotency.CleanupBatchSize != 500 {
		t.Errorf("unexpected idempotency cleanup config: %+v", cfg.Idempotency)
	}
}

func TestLoadMissingDatabaseDSN(t *testing.T) {
	_, err := Load(WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error")
	}

	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	found := false
	for _, field := range validation.Fields() {
		if field == "Database.DSN" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected Database.DSN in missing fields, got %v", validation.Fields())
	}
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	contents := "# local overrides\nexport API_SERVER_PORT=7070\nAPI_DATABASE_DSN=\"webber:pw@tcp(localhost:3306)/webber\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(WithEnvFile(path), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from env file, got %s", cfg.Server.Port)
	}
	if cfg.Database.DSN != "webber:pw@tcp(localhost:3306)/webber" {
		t.Errorf("expected quoted dsn to be unwrapped, got %s", cfg.Database.DSN)
	}
}

func TestEnvMapTakesPrecedenceOverDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("API_SERVER_PORT=7070\nAPI_DATABASE_DSN=file-dsn\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(WithEnvFile(path), WithEnvMap(map[string]string{"API_SERVER_PORT": "9999"}), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9999" {
		t.Errorf("expected env map to win, got %s", cfg.Server.Port)
	}
}
