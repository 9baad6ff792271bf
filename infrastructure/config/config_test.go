package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, ":8080", cfg.ServerAddress)
	assert.False(t, cfg.IsLambda)
	assert.False(t, cfg.TrustGateway)
	assert.True(t, cfg.BreakerEnabled)
	assert.Equal(t, 5*time.Second, cfg.OutboxInterval)
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("STORE_DRIVER", "DynamoDB")
	t.Setenv("TABLE_NAME", "chats")
	t.Setenv("LOCK_TIMEOUT", "750ms")
	t.Setenv("ENABLE_OUTBOX", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "chatgraph-api")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, StoreDynamoDB, cfg.StoreDriver)
	assert.Equal(t, "chats", cfg.DynamoDBTable)
	assert.Equal(t, 750*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.True(t, cfg.IsLambda)
	assert.True(t, cfg.TrustGateway)
	assert.True(t, cfg.UsesAWS())
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Environment:             "development",
			StoreDriver:             StoreMemory,
			BreakerFailureThreshold: 0.8,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "unknown driver", mutate: func(c *Config) { c.StoreDriver = "postgres" }, wantErr: "unknown STORE_DRIVER"},
		{name: "outbox needs dynamodb", mutate: func(c *Config) { c.EnableOutbox = true }, wantErr: "ENABLE_OUTBOX"},
		{name: "distributed locks need dynamodb", mutate: func(c *Config) { c.DistributedLocks = true }, wantErr: "DISTRIBUTED_LOCKS"},
		{name: "bad threshold", mutate: func(c *Config) { c.BreakerFailureThreshold = 1.5 }, wantErr: "BREAKER_FAILURE_THRESHOLD"},
		{
			name:    "production needs a secret",
			mutate:  func(c *Config) { c.Environment = "production"; c.StoreDriver = StoreSQLite; c.SQLitePath = "x.db" },
			wantErr: "JWT_SECRET",
		},
		{
			name:    "production rejects the memory store",
			mutate:  func(c *Config) { c.Environment = "production"; c.JWTSecret = "s" },
			wantErr: "memory store",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
