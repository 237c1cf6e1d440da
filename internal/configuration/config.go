package configuration

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Database    DatabaseConfig
	MinIO       MinIOConfig
	Server      ServerConfig
	Stripe      StripeConfig
	Admin       AdminConfig
	NATSURL     string
	KeycloakURL string
	CLAMAVURL   string
	BaseURL     string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type MinIOConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	BucketName string
	UseSSL     bool
}

type ServerConfig struct {
	Port string
}

type StripeConfig struct {
	SecretKey      string
	WebhookSecret  string
	ProPriceID     string
	LinkPriceCents int64
	Currency       string
}

type AdminConfig struct {
	Secret string
}

func Load() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "droplink"),
			Password: getEnv("DB_PASSWORD", "droplink"),
			DBName:   getEnv("DB_NAME", "droplink"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		MinIO: MinIOConfig{
			Endpoint:   getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey:  getEnv("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey:  getEnv("MINIO_SECRET_KEY", "minioadmin"),
			BucketName: getEnv("MINIO_BUCKET", "droplink"),
			UseSSL:     getEnv("MINIO_USE_SSL", "false") == "true",
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Stripe: StripeConfig{
			SecretKey:      os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret:  os.Getenv("STRIPE_WEBHOOK_SECRET"),
			ProPriceID:     os.Getenv("STRIPE_PRO_PRICE_ID"),
			LinkPriceCents: getEnvInt64("LINK_PRICE_CENTS", 199),
			Currency:       getEnv("LINK_PRICE_CURRENCY", "usd"),
		},
		Admin: AdminConfig{
			Secret: os.Getenv("ADMIN_TOKEN_SECRET"),
		},
		NATSURL:     getEnv("NATS_URL", "nats://localhost:4222"),
		CLAMAVURL:   getEnv("CLAMAV_URL", "tcp://localhost:3310"),
		KeycloakURL: getEnv("KEYCLOAK_URL", "http://localhost:8081/realms/droplink"),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
	}
}

// Validate fails fast on missing secrets instead of letting a handler
// discover the gap mid-request.
func (c *Config) Validate() error {
	if c.Stripe.SecretKey == "" {
		return fmt.Errorf("config: STRIPE_SECRET_KEY is required")
	}
	if c.Stripe.WebhookSecret == "" {
		return fmt.Errorf("config: STRIPE_WEBHOOK_SECRET is required")
	}
	if c.Stripe.ProPriceID == "" {
		return fmt.Errorf("config: STRIPE_PRO_PRICE_ID is required")
	}
	if c.Admin.Secret == "" {
		return fmt.Errorf("config: ADMIN_TOKEN_SECRET is required")
	}
	return nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}
