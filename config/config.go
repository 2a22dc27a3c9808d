package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Database struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN is the lib/pq connection string.
func (d Database) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type Config struct {
	Port        string
	StoreDriver string
	Database    Database

	StripeAPIKey        string
	StripeWebhookSecret string
	GatewayTimeout      time.Duration
	MaxDonationAmount   decimal.Decimal
	Currency            string

	RedisHost     string
	RedisPort     string
	RedisPassword string

	KafkaBroker string
	KafkaTopic  string

	JaegerEndpoint string
	JWTSecret      string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	timeout, err := time.ParseDuration(getEnv("GATEWAY_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid GATEWAY_TIMEOUT: %w", err)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("GATEWAY_TIMEOUT must be positive")
	}

	maxAmount, err := decimal.NewFromString(getEnv("MAX_DONATION_AMOUNT", "100000"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_DONATION_AMOUNT: %w", err)
	}
	if !maxAmount.IsPositive() {
		return nil, fmt.Errorf("MAX_DONATION_AMOUNT must be positive")
	}

	driver := getEnv("STORE_DRIVER", "postgres")
	if driver != "postgres" && driver != "memory" {
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", driver)
	}

	if _, err := strconv.Atoi(getEnv("DB_PORT", "5432")); err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	return &Config{
		Port:        getEnv("PORT", "8085"),
		StoreDriver: driver,
		Database: Database{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "donationdb"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		StripeAPIKey:        os.Getenv("STRIPE_API_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		GatewayTimeout:      timeout,
		MaxDonationAmount:   maxAmount,
		Currency:            getEnv("DONATION_CURRENCY", "usd"),
		RedisHost:           os.Getenv("REDIS_HOST"),
		RedisPort:           getEnv("REDIS_PORT", "6379"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		KafkaBroker:         os.Getenv("KAFKA_BROKER"),
		KafkaTopic:          getEnv("KAFKA_TOPIC", "donation_events"),
		JaegerEndpoint:      os.Getenv("JAEGER_ENDPOINT"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
