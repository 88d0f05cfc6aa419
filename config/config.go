package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

type Config struct {
	ServiceName string
	HTTPAddr    string
	GRPCAddr    string

	DB    DBConfig
	Redis RedisConfig

	KafkaBroker  string
	PaymentTopic string
	GatewayTopic string

	StripeAPIKey        string
	StripeWebhookSecret string

	PostmarkServerToken string
	EmailSender         string
	AppURL              string

	InternalAPISecret string
	JaegerEndpoint    string

	TxTimeout       time.Duration
	TxMaxAttempts   int
	DispatchTimeout time.Duration
	FormCacheTTL    time.Duration
	ConsumerRetries int
}

// Load reads the configuration from the environment. A .env file in the
// working directory is applied first when present.
func Load(logger *zap.Logger) Config {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded", zap.Error(err))
	}

	return Config{
		ServiceName: getEnv("SERVICE_NAME", "form-payment-service"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8083"),
		GRPCAddr:    getEnv("GRPC_ADDR", ":50053"),
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "formpaymentdb"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		KafkaBroker:         getEnv("KAFKA_BROKER", "localhost:9092"),
		PaymentTopic:        getEnv("KAFKA_PAYMENT_TOPIC", "payment_events"),
		GatewayTopic:        getEnv("KAFKA_GATEWAY_TOPIC", "stripe_events"),
		StripeAPIKey:        getEnv("STRIPE_API_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		PostmarkServerToken: getEnv("POSTMARK_SERVER_TOKEN", ""),
		EmailSender:         getEnv("EMAIL_SENDER", "donotreply@mail.form.gov.sg"),
		AppURL:              getEnv("APP_URL", "http://localhost:5001"),
		InternalAPISecret:   getEnv("INTERNAL_API_SECRET", ""),
		JaegerEndpoint:      getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		TxTimeout:           getDuration(logger, "TX_TIMEOUT", 10*time.Second),
		TxMaxAttempts:       getInt(logger, "TX_MAX_ATTEMPTS", 2),
		DispatchTimeout:     getDuration(logger, "DISPATCH_TIMEOUT", 30*time.Second),
		FormCacheTTL:        getDuration(logger, "FORM_CACHE_TTL", 5*time.Minute),
		ConsumerRetries:     getInt(logger, "KAFKA_CONSUMER_RETRIES", 3),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(logger *zap.Logger, key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		logger.Warn("Invalid integer setting, using default",
			zap.String("key", key),
			zap.String("value", raw),
			zap.Int("default", defaultValue))
		return defaultValue
	}
	return v
}

func getDuration(logger *zap.Logger, key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		logger.Warn("Invalid duration setting, using default",
			zap.String("key", key),
			zap.String("value", raw),
			zap.Duration("default", defaultValue))
		return defaultValue
	}
	return v
}
