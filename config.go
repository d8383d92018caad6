package sso

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the process configuration, loaded from the environment
// with optional .env support. The signing secret is the only value the
// core consumes; everything else configures collaborators.
type Config struct {
	// ServerPort is the HTTP listen port.
	ServerPort int

	// PostgresURL is the connection string for the relational store.
	PostgresURL string

	// ValkeyAddress is the KV store address, e.g. "localhost:6379".
	ValkeyAddress  string
	ValkeyPassword string
	ValkeyDB       int

	// JWTSecret signs every issued token. Required.
	JWTSecret string

	// BaseURL is the public base URL used in activation links.
	BaseURL string

	// SMTP settings for activation mail.
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// StaticDir holds the HTML pages served on GET for the form
	// endpoints.
	StaticDir string

	// AuditEnabled turns security audit logging on.
	AuditEnabled bool

	// MetricsEnabled turns OpenTelemetry instrumentation on.
	MetricsEnabled bool
}

// LoadConfig reads configuration from the environment. A .env file in
// the working directory is loaded first when present; real environment
// variables win over it.
func LoadConfig() (*Config, error) {
	// Missing .env is fine; containers set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:     getEnvInt("SERVER_PORT", 8080),
		PostgresURL:    os.Getenv("POSTGRES_URL"),
		ValkeyAddress:  getEnv("VALKEY_ADDRESS", "localhost:6379"),
		ValkeyPassword: os.Getenv("VALKEY_PASSWORD"),
		ValkeyDB:       getEnvInt("VALKEY_DB", 0),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		BaseURL:        os.Getenv("BASE_URL"),
		SMTPHost:       os.Getenv("SMTP_HOST"),
		SMTPPort:       getEnvInt("SMTP_PORT", 587),
		SMTPUsername:   os.Getenv("SMTP_USERNAME"),
		SMTPPassword:   os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:       os.Getenv("SMTP_FROM"),
		StaticDir:      getEnv("STATIC_DIR", "static"),
		AuditEnabled:   getEnvBool("AUDIT_ENABLED", true),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the required variables.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.PostgresURL == "" {
		return fmt.Errorf("POSTGRES_URL is required")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("BASE_URL is required")
	}
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("SERVER_PORT out of range: %d", c.ServerPort)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
