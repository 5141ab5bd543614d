package config

import (
	"fmt"
	"os"
	"strconv"

	pkgerrors "chronicle/pkg/errors"
)

// StoreBackend selects the event store implementation
type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StoreDynamoDB StoreBackend = "dynamodb"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress string
	Environment   string

	// Event store configuration
	StoreBackend  StoreBackend
	AWSRegion     string
	DynamoDBTable string
	EventBusName  string
	EventSource   string

	// Aggregate configuration
	SnapshotTrigger int

	// Query cache TTL in seconds
	QueryCacheTTL int

	// Outbox configuration
	OutboxEnabled bool

	// Logging
	LogLevel string

	// Authentication
	JWTSecret string
	JWTIssuer string

	// Feature flags
	EnableCORS bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerAddress: getEnv("SERVER_ADDRESS", ":8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),

		StoreBackend:  StoreBackend(getEnv("STORE_BACKEND", string(StoreMemory))),
		AWSRegion:     getEnv("AWS_REGION", "us-west-2"),
		DynamoDBTable: getEnv("TABLE_NAME", "chronicle"),
		EventBusName:  getEnv("EVENT_BUS_NAME", "chronicle-events"),
		EventSource:   getEnv("EVENT_SOURCE", "chronicle"),

		SnapshotTrigger: getEnvInt("SNAPSHOT_TRIGGER", 100),
		QueryCacheTTL:   getEnvInt("QUERY_CACHE_TTL", 5),
		OutboxEnabled:   getEnvBool("OUTBOX_ENABLED", false),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", "chronicle"),

		LogLevel:   getEnv("LOG_LEVEL", "info"),
		EnableCORS: getEnvBool("ENABLE_CORS", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load is an alias for LoadConfig
func Load() (*Config, error) {
	return LoadConfig()
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreMemory, StoreDynamoDB:
	default:
		return pkgerrors.NewConfigurationError("INVALID_STORE_BACKEND",
			fmt.Sprintf("unknown store backend %q", c.StoreBackend))
	}

	if c.SnapshotTrigger < 1 {
		return pkgerrors.NewConfigurationError("INVALID_SNAPSHOT_TRIGGER",
			fmt.Sprintf("snapshot trigger must be at least 1, got %d", c.SnapshotTrigger))
	}

	if c.QueryCacheTTL < 0 {
		return pkgerrors.NewConfigurationError("INVALID_QUERY_CACHE_TTL",
			fmt.Sprintf("query cache TTL cannot be negative, got %d", c.QueryCacheTTL))
	}

	if c.Environment == "production" {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if c.StoreBackend == StoreMemory {
			return fmt.Errorf("STORE_BACKEND=memory is not allowed in production")
		}
		if c.DynamoDBTable == "" {
			return fmt.Errorf("TABLE_NAME is required")
		}
	}

	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
