package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides the environment-backed application configuration.
var Module = fx.Options(
	fx.Provide(Load),
	fx.Provide(NewBillingConfigHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	OTLPEndpoint   string
	MetricsEnabled bool

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	RedisAddr     string
	RedisPassword string

	HTTPAddr string

	Gateway GatewayConfig
}

// GatewayConfig carries the QRIS gateway credentials. When credentials are
// missing the payment intent issuer falls back to the simulated provider.
type GatewayConfig struct {
	BaseURL         string
	ClientID        string
	ClientSecret    string
	MerchantID      string
	WebhookSecret   string
	ReferencePrefix string
}

// Configured reports whether live gateway credentials are present.
func (g GatewayConfig) Configured() bool {
	return strings.TrimSpace(g.BaseURL) != "" &&
		strings.TrimSpace(g.ClientID) != "" &&
		strings.TrimSpace(g.ClientSecret) != ""
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "kiloan"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		OTLPEndpoint:   getenv("OTLP_ENDPOINT", "localhost:4317"),
		MetricsEnabled: getenvBool("METRICS_ENABLED", false),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "kiloan"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 8),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 30),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 30),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		Gateway: GatewayConfig{
			BaseURL:         strings.TrimSpace(getenv("QRIS_BASE_URL", "")),
			ClientID:        strings.TrimSpace(getenv("QRIS_CLIENT_ID", "")),
			ClientSecret:    strings.TrimSpace(getenv("QRIS_CLIENT_SECRET", "")),
			MerchantID:      strings.TrimSpace(getenv("QRIS_MERCHANT_ID", "")),
			WebhookSecret:   strings.TrimSpace(getenv("QRIS_WEBHOOK_SECRET", "")),
			ReferencePrefix: getenv("QRIS_REFERENCE_PREFIX", "KLN"),
		},
	}
}

// IsProduction reports whether the app serves live traffic. The webhook
// signature escape hatch for missing secrets is disabled in production.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
