// Package config loads process configuration for every service binary.
//
// Values come from a YAML file when CONFIG_PATH is set, otherwise from the
// environment; a .env file in the working directory is loaded first if present.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Env       string    `yaml:"env" env:"ENV" env-default:"local"`
	Store     string    `yaml:"store" env:"STORE_DRIVER" env-default:"memory"`
	Log       Log       `yaml:"log"`
	HTTP      HTTP      `yaml:"http"`
	GRPC      GRPC      `yaml:"grpc"`
	Postgres  PG        `yaml:"postgres"`
	MySQL     MySQL     `yaml:"mysql"`
	Redis     Redis     `yaml:"redis"`
	SagaLog   SagaLog   `yaml:"saga_log"`
	Kafka     Kafka     `yaml:"kafka"`
	Services  Services  `yaml:"services"`
	Saga      Saga      `yaml:"saga"`
	Inventory Inventory `yaml:"inventory"`
	Tracing   Tracing   `yaml:"tracing"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type HTTP struct {
	Addr            string        `yaml:"addr" env:"HTTP_ADDR" env-default:":8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT" env-default:"5s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT" env-default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"5s"`
}

type GRPC struct {
	Addr string `yaml:"addr" env:"GRPC_ADDR" env-default:":9090"`
}

type PG struct {
	URL string `yaml:"url" env:"POSTGRES_URL"`
}

type MySQL struct {
	DSN string `yaml:"dsn" env:"MYSQL_DSN"`
}

type Redis struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// SagaLog points at the SQLite file holding the checkout saga log. An empty
// path keeps the log in memory, which disables crash recovery.
type SagaLog struct {
	Path string `yaml:"path" env:"SAGA_LOG_PATH" env-default:"./data/saga.db"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"checkout.events"`
}

type Services struct {
	LedgerAddr      string        `yaml:"ledger_addr" env:"LEDGER_SERVICE_ADDR" env-default:"localhost:9091"`
	InventoryAddr   string        `yaml:"inventory_addr" env:"INVENTORY_SERVICE_ADDR" env-default:"localhost:9092"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout" env:"BREAKER_TIMEOUT" env-default:"10s"`
	BreakerFailures uint32        `yaml:"breaker_failures" env:"BREAKER_FAILURES" env-default:"5"`
}

type Saga struct {
	StepTimeout         time.Duration `yaml:"step_timeout" env:"SAGA_STEP_TIMEOUT" env-default:"2s"`
	LockTTL             time.Duration `yaml:"lock_ttl" env:"SAGA_LOCK_TTL" env-default:"30s"`
	CompensationRetries uint64        `yaml:"compensation_retries" env:"SAGA_COMPENSATION_RETRIES" env-default:"5"`
	CompensationBackoff time.Duration `yaml:"compensation_backoff" env:"SAGA_COMPENSATION_BACKOFF" env-default:"100ms"`
	RecoveryGrace       time.Duration `yaml:"recovery_grace" env:"SAGA_RECOVERY_GRACE" env-default:"1m"`
}

type Inventory struct {
	OperationTTL time.Duration `yaml:"operation_ttl" env:"INVENTORY_OPERATION_TTL" env-default:"168h"`
}

type Tracing struct {
	Endpoint    string `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName string `yaml:"service_name" env:"OTEL_SERVICE_NAME"`
}

// Load reads the configuration. serviceName fills Tracing.ServiceName when the
// environment does not set it.
func Load(serviceName string) (*Config, error) {
	// .env is optional.
	_ = godotenv.Load()

	var cfg Config
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config: read env: %w", err)
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = serviceName
	}
	return &cfg, nil
}
