package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Stripe   StripeConfig
	Twilio   TwilioConfig
	Tickets  TicketsConfig
	Worker   WorkerConfig
	Admin    AdminConfig
}

// StripeConfig for card payments.
type StripeConfig struct {
	SecretKey string
	Currency  string // currency charged by the processor, e.g. usd
	// VNDPerUnit converts local ticket prices (VND) into the charged currency.
	VNDPerUnit string
}

// TwilioConfig for SMS delivery. Empty credentials disable sending.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// TicketsConfig holds ticket issuance and check-in settings.
type TicketsConfig struct {
	PhoneRegion     string // default region for buyer phone numbers, e.g. VN
	Timezone        string // timezone used to decide whether an event has ended
	VerifyRateLimit int    // verify requests per minute per staff user; 0 disables
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	// Embedded runs the workers inside the API server. Disable when cmd/worker runs separately.
	Embedded          bool
	ReminderInterval  time.Duration
	ReminderLookahead time.Duration
}

// AdminConfig seeds a default admin account on startup when both fields are set.
type AdminConfig struct {
	Email    string
	Password string
	Name     string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:5173)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/eventems?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the S3 bucket for event images.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ImagesBucket    string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Location returns the configured timezone, falling back to UTC.
func (c TicketsConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "4000"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "eventems"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", ""),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", ""),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ImagesBucket:    getEnv("AWS_S3_IMAGES_BUCKET", "eventems-images"),
		},
		Stripe: StripeConfig{
			SecretKey:  getEnv("STRIPE_SECRET_KEY", ""),
			Currency:   getEnv("STRIPE_CURRENCY", "usd"),
			VNDPerUnit: getEnv("STRIPE_VND_PER_UNIT", "24000"),
		},
		Twilio: TwilioConfig{
			AccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
			FromNumber: getEnv("TWILIO_PHONE_NUMBER", ""),
		},
		Tickets: TicketsConfig{
			PhoneRegion:     strings.ToUpper(getEnv("TICKETS_PHONE_REGION", "VN")),
			Timezone:        getEnv("TICKETS_TIMEZONE", "Asia/Ho_Chi_Minh"),
			VerifyRateLimit: getEnvInt("VERIFY_RATE_LIMIT_PER_MIN", 120),
		},
		Worker: WorkerConfig{
			Embedded:          getEnvBool("WORKER_EMBEDDED", true),
			ReminderInterval:  getEnvDuration("REMINDER_INTERVAL", 15*time.Minute),
			ReminderLookahead: getEnvDuration("REMINDER_LOOKAHEAD", 24*time.Hour),
		},
		Admin: AdminConfig{
			Email:    getEnv("ADMIN_EMAIL", ""),
			Password: getEnv("ADMIN_PASSWORD", ""),
			Name:     getEnv("ADMIN_NAME", "Administrator"),
		},
	}
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
