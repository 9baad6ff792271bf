package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StoreDynamoDB = "dynamodb"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress  string
	Environment    string
	RequestTimeout time.Duration

	// Storage
	StoreDriver string
	SQLitePath  string

	// AWS configuration
	AWSRegion     string
	DynamoDBTable string
	EventBusName  string

	// Lambda configuration
	IsLambda           bool
	LambdaFunctionName string

	// Logging
	LogLevel string

	// Authentication
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    []string
	TrustGateway   bool
	IPRateLimit    int
	UserRateLimit  int
	AllowedOrigins []string

	// Concurrency
	LockTimeout      time.Duration
	DistributedLocks bool
	LockLease        time.Duration

	// Events
	EnableEvents   bool
	EnableOutbox   bool
	OutboxInterval time.Duration

	// Cache
	CacheCapacity int

	// Circuit breaker around the store
	BreakerEnabled          bool
	BreakerTimeout          time.Duration
	BreakerFailureThreshold float64
	BreakerMinRequests      int

	// Feature flags
	EnableMetrics bool
	EnableTracing bool
	EnableCORS    bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	lambdaName := getEnv("AWS_LAMBDA_FUNCTION_NAME", "")
	cfg := &Config{
		ServerAddress:  getEnv("SERVER_ADDRESS", ":8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreMemory)),
		SQLitePath:  getEnv("SQLITE_PATH", "chatgraph.db"),

		AWSRegion:     getEnv("AWS_REGION", "us-west-2"),
		DynamoDBTable: getEnv("TABLE_NAME", getEnv("DYNAMODB_TABLE", "chatgraph")),
		EventBusName:  getEnv("EVENT_BUS_NAME", "chatgraph-events"),

		IsLambda:           getEnvBool("IS_LAMBDA", lambdaName != ""),
		LambdaFunctionName: lambdaName,

		LogLevel: getEnv("LOG_LEVEL", "info"),

		JWTSecret:      getEnv("JWT_SECRET", ""),
		JWTIssuer:      getEnv("JWT_ISSUER", "chatgraph"),
		JWTAudience:    getEnvList("JWT_AUDIENCE"),
		TrustGateway:   getEnvBool("TRUST_API_GATEWAY", lambdaName != ""),
		IPRateLimit:    getEnvInt("IP_RATE_LIMIT", 100),
		UserRateLimit:  getEnvInt("USER_RATE_LIMIT", 200),
		AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),

		LockTimeout:      getEnvDuration("LOCK_TIMEOUT", 0),
		DistributedLocks: getEnvBool("DISTRIBUTED_LOCKS", false),
		LockLease:        getEnvDuration("LOCK_LEASE", 30*time.Second),

		EnableEvents:   getEnvBool("ENABLE_EVENTS", false),
		EnableOutbox:   getEnvBool("ENABLE_OUTBOX", false),
		OutboxInterval: getEnvDuration("OUTBOX_INTERVAL", 5*time.Second),

		CacheCapacity: getEnvInt("CACHE_CAPACITY", 10000),

		BreakerEnabled:          getEnvBool("BREAKER_ENABLED", true),
		BreakerTimeout:          getEnvDuration("BREAKER_TIMEOUT", 60*time.Second),
		BreakerFailureThreshold: getEnvFloat("BREAKER_FAILURE_THRESHOLD", 0.8),
		BreakerMinRequests:      getEnvInt("BREAKER_MIN_REQUESTS", 5),

		EnableMetrics: getEnvBool("ENABLE_METRICS", false),
		EnableTracing: getEnvBool("ENABLE_TRACING", false),
		EnableCORS:    getEnvBool("ENABLE_CORS", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreMemory, StoreSQLite, StoreDynamoDB:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if c.StoreDriver == StoreSQLite && c.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH is required for the sqlite store")
	}
	if c.StoreDriver == StoreDynamoDB && c.DynamoDBTable == "" {
		return fmt.Errorf("TABLE_NAME is required for the dynamodb store")
	}
	if c.EnableOutbox && c.StoreDriver != StoreDynamoDB {
		return fmt.Errorf("ENABLE_OUTBOX requires the dynamodb store")
	}
	if c.DistributedLocks && c.StoreDriver != StoreDynamoDB {
		return fmt.Errorf("DISTRIBUTED_LOCKS requires the dynamodb store")
	}
	if c.BreakerFailureThreshold <= 0 || c.BreakerFailureThreshold > 1 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be in (0, 1]")
	}

	if c.IsProduction() {
		if c.JWTSecret == "" && !c.TrustGateway {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if c.StoreDriver == StoreMemory {
			return fmt.Errorf("the memory store cannot be used in production")
		}
		if (c.EnableEvents || c.EnableOutbox) && c.EventBusName == "" {
			return fmt.Errorf("EVENT_BUS_NAME is required")
		}
	}

	return nil
}

// UsesAWS reports whether any component needs AWS clients
func (c *Config) UsesAWS() bool {
	return c.StoreDriver == StoreDynamoDB || c.EnableEvents || c.EnableOutbox || c.EnableMetrics
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("750ms", "5s")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty entries
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
