package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NewRelic NewRelicConfig
	Log      LogConfig
	Auth     AuthConfig
	Payments PaymentConfig
	Payouts  PayoutConfig
	Sweeper  SweeperConfig
	NSQ      NSQConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level string
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	TokenTTL  time.Duration
}

// PaymentConfig holds payment gateway settings.
type PaymentConfig struct {
	Currency           string
	PlatformFeePercent float64 // used when no platform setting is stored
	GatewayTimeout     time.Duration
	WebhookSecret      string
	WebhookQueueSize   int
}

// PayoutConfig holds payout transfer retry settings.
type PayoutConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	StaleAfter  time.Duration // age at which an unfinished payout may be retried
}

// SweeperConfig holds ride expiry sweep settings.
type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
	RideTTL   time.Duration // open window for a standard request
	UrgentTTL time.Duration // open window for an urgent request
}

// NSQConfig holds the notification publisher settings. An empty Addr
// disables NSQ and notifications are only logged.
type NSQConfig struct {
	Addr  string
	Topic string
}

// Load loads configuration from environment variables. When APP_ENV is
// "local" a .env file in the working directory is read first.
func Load() *Config {
	if getEnv("APP_ENV", "local") == "local" {
		if err := godotenv.Load(); err != nil {
			logrus.WithError(err).Debug("no .env file loaded")
		}
	}

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "medride"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),

			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "medride-marketplace"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret"),
			Issuer:    getEnv("JWT_ISSUER", "medride"),
			TokenTTL:  getDurationEnv("JWT_TTL", 24*time.Hour),
		},
		Payments: PaymentConfig{
			Currency:           getEnv("PAYMENT_CURRENCY", "usd"),
			PlatformFeePercent: getFloatEnv("PLATFORM_FEE_PERCENT", 5),
			GatewayTimeout:     getDurationEnv("GATEWAY_TIMEOUT", 10*time.Second),
			WebhookSecret:      getEnv("WEBHOOK_SECRET", ""),
			WebhookQueueSize:   getIntEnv("WEBHOOK_QUEUE_SIZE", 256),
		},
		Payouts: PayoutConfig{
			MaxAttempts: getIntEnv("PAYOUT_MAX_ATTEMPTS", 3),
			BaseDelay:   getDurationEnv("PAYOUT_BASE_DELAY", 500*time.Millisecond),
			MaxDelay:    getDurationEnv("PAYOUT_MAX_DELAY", 5*time.Second),
			StaleAfter:  getDurationEnv("PAYOUT_STALE_AFTER", 15*time.Minute),
		},
		Sweeper: SweeperConfig{
			Interval:  getDurationEnv("SWEEP_INTERVAL", 30*time.Minute),
			BatchSize: getIntEnv("SWEEP_BATCH_SIZE", 200),
			RideTTL:   getDurationEnv("RIDE_REQUEST_TTL", 72*time.Hour),
			UrgentTTL: getDurationEnv("URGENT_RIDE_REQUEST_TTL", 2*time.Hour),
		},
		NSQ: NSQConfig{
			Addr:  getEnv("NSQ_ADDR", ""),
			Topic: getEnv("NSQ_TOPIC", "notifications"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
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
