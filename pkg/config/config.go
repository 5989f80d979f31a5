// ==============================================================================
// CONFIG PACKAGE - pkg/config/config.go
// ==============================================================================
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Payment  PaymentConfig
	Referral ReferralConfig
	Gateway  GatewayConfig
	Sweeper  SweeperConfig
	Admin    AdminConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	RateLimit      int
	RateWindow     time.Duration
	IdempotencyTTL time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

// PaymentConfig bounds deposit orders. Amounts are minor units.
type PaymentConfig struct {
	MinDeposit  int64
	MaxDeposit  int64
	Currency    string
	OrderExpiry time.Duration
}

// ReferralConfig holds the commission table. Percentages[i] applies to level i+1.
type ReferralConfig struct {
	Levels      int
	Percentages []decimal.Decimal
}

type GatewayConfig struct {
	Default        string
	CallbackSecret string
	CallbackURL    string
	RedirectURL    string
	MaxRetries     uint
	RetryInterval  time.Duration
	Timeout        time.Duration
	SandboxEnabled bool
	Whish          WhishConfig
}

type WhishConfig struct {
	BaseURL    string
	Channel    string
	Secret     string
	WebsiteURL string
	RatePerSec int
}

type SweeperConfig struct {
	Enabled   bool
	Schedule  string
	BatchSize int
}

type AdminConfig struct {
	Token string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),

			RateLimit:      getIntEnv("RATE_LIMIT_REQUESTS", 120),
			RateWindow:     getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
			IdempotencyTTL: getDurationEnv("IDEMPOTENCY_TTL", 24*time.Hour),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:      normalizeRedisURL(getEnv("REDIS_URL", "localhost:6379")),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-this-secret"),
		},
		Payment: PaymentConfig{
			MinDeposit:  getInt64Env("MIN_DEPOSIT", 120),
			MaxDeposit:  getInt64Env("MAX_DEPOSIT", 100_000_000),
			Currency:    strings.ToUpper(getEnv("PAYMENT_CURRENCY", "USD")),
			OrderExpiry: getDurationEnv("ORDER_EXPIRY", 30*time.Minute),
		},
		Referral: ReferralConfig{
			Levels:      getIntEnv("REFERRAL_LEVELS", 3),
			Percentages: getDecimalListEnv("REFERRAL_PERCENTAGES", "16,8,4"),
		},
		Gateway: GatewayConfig{
			Default:        getEnv("GATEWAY_DEFAULT", "whish"),
			CallbackSecret: getEnv("GATEWAY_CALLBACK_SECRET", ""),
			CallbackURL:    getEnv("GATEWAY_CALLBACK_URL", "http://localhost:8080/webhooks"),
			RedirectURL:    getEnv("GATEWAY_REDIRECT_URL", "http://localhost:3000/payments/return"),
			MaxRetries:     uint(getIntEnv("GATEWAY_MAX_RETRIES", 4)),
			RetryInterval:  getDurationEnv("GATEWAY_RETRY_INTERVAL", 250*time.Millisecond),
			Timeout:        getDurationEnv("GATEWAY_TIMEOUT", 15*time.Second),
			SandboxEnabled: getBoolEnv("GATEWAY_SANDBOX_ENABLED", false),
			Whish: WhishConfig{
				BaseURL:    getEnv("WHISH_BASE_URL", "https://api.sandbox.whish.money/itel-service/api/"),
				Channel:    getEnv("WHISH_CHANNEL", ""),
				Secret:     getEnv("WHISH_SECRET", ""),
				WebsiteURL: getEnv("WHISH_WEBSITE_URL", ""),
				RatePerSec: getIntEnv("WHISH_RATE_PER_SEC", 10),
			},
		},
		Sweeper: SweeperConfig{
			Enabled:   getBoolEnv("SWEEPER_ENABLED", true),
			Schedule:  getEnv("SWEEPER_SCHEDULE", "@every 1m"),
			BatchSize: getIntEnv("SWEEPER_BATCH_SIZE", 100),
		},
		Admin: AdminConfig{
			Token: getEnv("ADMIN_TOKEN", ""),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func normalizeRedisURL(url string) string {
	// Strip redis:// or redis+tls:// scheme if present
	if strings.HasPrefix(url, "redis+tls://") {
		return url[len("redis+tls://"):]
	}
	if strings.HasPrefix(url, "redis://") {
		return url[len("redis://"):]
	}
	return url
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return defaultValue
}

// getDecimalListEnv parses a comma separated list such as "16,8,2.5".
// Unparseable entries are kept as zero so Validate can report the length mismatch.
func getDecimalListEnv(key, defaultValue string) []decimal.Decimal {
	raw := getEnv(key, defaultValue)
	var out []decimal.Decimal
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := decimal.NewFromString(part)
		if err != nil {
			d = decimal.NewFromInt(-1)
		}
		out = append(out, d)
	}
	return out
}
