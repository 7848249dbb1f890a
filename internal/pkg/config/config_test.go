package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")

	cfg, err := Load("order-service")
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 2*time.Second, cfg.Saga.StepTimeout)
	assert.Equal(t, uint64(5), cfg.Saga.CompensationRetries)
	assert.Equal(t, "order-service", cfg.Tracing.ServiceName)
	assert.Equal(t, "checkout.events", cfg.Kafka.Topic)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("SAGA_STEP_TIMEOUT", "750ms")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("OTEL_SERVICE_NAME", "checkout")

	cfg, err := Load("order-service")
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store)
	assert.Equal(t, 750*time.Millisecond, cfg.Saga.StepTimeout)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "checkout", cfg.Tracing.ServiceName)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := []byte(`
env: prod
store: mysql
grpc:
  addr: ":9191"
saga:
  lock_ttl: 45s
`)
	require.NoError(t, os.WriteFile(path, yaml, 0o600))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load("payment-service")
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, "mysql", cfg.Store)
	assert.Equal(t, ":9191", cfg.GRPC.Addr)
	assert.Equal(t, 45*time.Second, cfg.Saga.LockTTL)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load("payment-service")
	require.Error(t, err)
}
