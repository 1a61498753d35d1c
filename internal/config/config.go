package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"

	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/paypal"
	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/pricing"
	postgres "github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/storage/postgres"
)

// Config aggregates runtime configuration grouped by concern.
type Config struct {
	ServiceName string
	LogLevel    string
	HTTP        HTTPConfig
	GRPC        GRPCConfig
	PayPal      PayPalConfig
	Pricing     pricing.Config
	Catalog     CatalogConfig
	Kafka       KafkaConfig
	Redis       RedisConfig
	Database    postgres.DatabaseConfig
	Email       EmailConfig
	Telemetry   TelemetryConfig
}

type HTTPConfig struct {
	Addr string
	// PublicBaseURL, when set, is used as the origin for PayPal return and
	// cancel URLs instead of the incoming request's host.
	PublicBaseURL string
}

type GRPCConfig struct {
	HealthAddr string
}

type Mode string

const (
	ModeSandbox Mode = "sandbox"
	ModeLive    Mode = "live"
)

type PayPalConfig struct {
	Mode         Mode
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

func (p PayPalConfig) Client() paypal.Config {
	return paypal.Config{BaseURL: p.BaseURL, ClientID: p.ClientID, ClientSecret: p.ClientSecret, Timeout: p.Timeout}
}

type CatalogSource string

const (
	CatalogEmbedded CatalogSource = "embedded"
	CatalogFile     CatalogSource = "file"
	CatalogPostgres CatalogSource = "postgres"
)

type CatalogConfig struct {
	Source CatalogSource
	File   string
	Watch  bool
}

type KafkaConfig struct {
	Brokers      []string
	AuditTopic   string
	ReceiptGroup string
}

// Enabled is false when KAFKA_BROKERS is unset; audit events then go to the log.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

type RedisConfig struct {
	Addr      string
	ReplayTTL time.Duration
}

type EmailConfig struct {
	SMTPHost      string
	SMTPPort      string
	SMTPFrom      string
	SMTPUser      string
	SMTPPassword  string
	DemoRecipient string
}

type TelemetryConfig struct {
	Enabled  bool
	Endpoint string
}

// Load reads configuration from environment variables, applying sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		ServiceName: getEnv("SERVICE_NAME", "paypal-checkout"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		HTTP: HTTPConfig{
			Addr:          getEnv("HTTP_LISTEN_ADDR", ":8080"),
			PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		},
		GRPC: GRPCConfig{
			HealthAddr: getEnv("GRPC_HEALTH_ADDR", ""),
		},
		Catalog: CatalogConfig{
			Source: CatalogSource(strings.ToLower(getEnv("CATALOG_SOURCE", string(CatalogEmbedded)))),
			File:   getEnv("CATALOG_FILE", ""),
		},
		Kafka: KafkaConfig{
			Brokers:      splitAndTrim(getEnv("KAFKA_BROKERS", "")),
			AuditTopic:   getEnv("KAFKA_AUDIT_TOPIC", "checkout.v1"),
			ReceiptGroup: getEnv("KAFKA_RECEIPT_GROUP_ID", "receipt-workers"),
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", ""),
		},
		Email: EmailConfig{
			SMTPHost:      getEnv("SMTP_HOST", ""),
			SMTPPort:      getEnv("SMTP_PORT", ""),
			SMTPFrom:      getEnv("SMTP_FROM", "no-reply@example.local"),
			SMTPUser:      getEnv("SMTP_USER", ""),
			SMTPPassword:  getEnv("SMTP_PASSWORD", ""),
			DemoRecipient: getEnv("DEMO_TO_EMAIL", ""),
		},
		Telemetry: TelemetryConfig{
			Endpoint: getEnv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", ""),
		},
	}

	var err error
	if cfg.PayPal, err = loadPayPal(); err != nil {
		return Config{}, err
	}
	if cfg.Pricing, err = loadPricing(); err != nil {
		return Config{}, err
	}
	if cfg.Catalog.Watch, err = getBool("CATALOG_WATCH", false); err != nil {
		return Config{}, err
	}
	if cfg.Telemetry.Enabled, err = getBool("OTEL_ENABLED", false); err != nil {
		return Config{}, err
	}
	if cfg.Redis.ReplayTTL, err = getDuration("REDIS_REPLAY_TTL", 6*time.Hour); err != nil {
		return Config{}, err
	}

	switch cfg.Catalog.Source {
	case CatalogEmbedded, CatalogPostgres:
	case CatalogFile:
		if cfg.Catalog.File == "" {
			return Config{}, errors.New("CATALOG_SOURCE=file requires CATALOG_FILE")
		}
	default:
		return Config{}, fmt.Errorf("unknown CATALOG_SOURCE %q", cfg.Catalog.Source)
	}

	portStr := getEnv("CATALOG_DB_PORT", "5432")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Config{}, fmt.Errorf("parse CATALOG_DB_PORT: %w", err)
	}
	cfg.Database = postgres.DatabaseConfig{
		Host:     getEnv("CATALOG_DB_HOST", "localhost"),
		Port:     port,
		Database: getEnv("CATALOG_DB_NAME", "checkout"),
		User:     getEnv("CATALOG_DB_USER", "checkout"),
		Password: getEnv("CATALOG_DB_PASSWORD", ""),
		SSLMode:  getEnv("PGSSLMODE", "disable"),
	}

	return cfg, nil
}

// loadPayPal picks credentials for PAYPAL_ENVIRONMENT_MODE. An explicit
// PAYPAL_API_BASE_URL always wins over the mode's default host.
func loadPayPal() (PayPalConfig, error) {
	mode := Mode(strings.ToLower(getEnv("PAYPAL_ENVIRONMENT_MODE", string(ModeSandbox))))
	p := PayPalConfig{Mode: mode}
	switch mode {
	case ModeSandbox:
		p.BaseURL = paypal.SandboxBaseURL
		p.ClientID = getEnv("PAYPAL_SANDBOX_CLIENT_ID", "")
		p.ClientSecret = getEnv("PAYPAL_SANDBOX_CLIENT_SECRET", "")
	case ModeLive:
		p.BaseURL = paypal.LiveBaseURL
		p.ClientID = getEnv("PAYPAL_LIVE_CLIENT_ID", "")
		p.ClientSecret = getEnv("PAYPAL_LIVE_CLIENT_SECRET", "")
	default:
		return PayPalConfig{}, fmt.Errorf("PAYPAL_ENVIRONMENT_MODE must be sandbox or live, got %q", mode)
	}
	if v := getEnv("PAYPAL_API_BASE_URL", ""); v != "" {
		p.BaseURL = strings.TrimRight(v, "/")
	}

	var err error
	if p.Timeout, err = getDuration("PAYPAL_HTTP_TIMEOUT", paypal.DefaultTimeout); err != nil {
		return PayPalConfig{}, err
	}
	if p.Timeout <= 0 {
		return PayPalConfig{}, errors.New("PAYPAL_HTTP_TIMEOUT must be positive")
	}
	return p, nil
}

type pricingFile struct {
	Currency string `toml:"currency"`
	TaxRate  string `toml:"tax_rate"`
	Shipping string `toml:"shipping"`
}

// loadPricing starts from the defaults, applies PRICING_CONFIG_FILE (TOML)
// and then the PRICING_* variables.
func loadPricing() (pricing.Config, error) {
	def := pricing.DefaultConfig()
	raw := pricingFile{
		Currency: def.Currency,
		TaxRate:  def.TaxRate.String(),
		Shipping: def.Shipping.StringFixed(2),
	}

	if path := getEnv("PRICING_CONFIG_FILE", ""); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return pricing.Config{}, fmt.Errorf("read pricing config: %w", err)
		}
		if err := toml.Unmarshal(b, &raw); err != nil {
			return pricing.Config{}, fmt.Errorf("parse pricing config %s: %w", path, err)
		}
	}
	raw.Currency = getEnv("PRICING_CURRENCY", raw.Currency)
	raw.TaxRate = getEnv("PRICING_TAX_RATE", raw.TaxRate)
	raw.Shipping = getEnv("PRICING_SHIPPING", raw.Shipping)

	return parsePricing(raw)
}

func parsePricing(raw pricingFile) (pricing.Config, error) {
	currency := strings.ToUpper(strings.TrimSpace(raw.Currency))
	if len(currency) != 3 {
		return pricing.Config{}, fmt.Errorf("currency must be a 3-letter ISO code, got %q", raw.Currency)
	}
	tax, err := decimal.NewFromString(raw.TaxRate)
	if err != nil {
		return pricing.Config{}, fmt.Errorf("parse tax rate %q: %w", raw.TaxRate, err)
	}
	if tax.IsNegative() || tax.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return pricing.Config{}, fmt.Errorf("tax rate %s must be in [0, 1)", tax)
	}
	shipping, err := decimal.NewFromString(raw.Shipping)
	if err != nil {
		return pricing.Config{}, fmt.Errorf("parse shipping %q: %w", raw.Shipping, err)
	}
	if shipping.IsNegative() {
		return pricing.Config{}, fmt.Errorf("shipping %s must not be negative", shipping)
	}
	return pricing.Config{Currency: currency, TaxRate: tax, Shipping: shipping}, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getBool(key string, fallback bool) (bool, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
