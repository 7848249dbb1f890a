package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/jcmexdev/checkout-saga/internal/coordinator"
	"github.com/jcmexdev/checkout-saga/internal/coordinator/sagalog"
	"github.com/jcmexdev/checkout-saga/internal/coordinator/sagalog/sqlite"
	"github.com/jcmexdev/checkout-saga/internal/order-service/adapters/grpcclient"
	"github.com/jcmexdev/checkout-saga/internal/order-service/adapters/memory"
	"github.com/jcmexdev/checkout-saga/internal/order-service/adapters/postgres"
	"github.com/jcmexdev/checkout-saga/internal/order-service/app"
	"github.com/jcmexdev/checkout-saga/internal/order-service/domain"
	"github.com/jcmexdev/checkout-saga/internal/order-service/httpx"
	"github.com/jcmexdev/checkout-saga/internal/pkg/breaker"
	"github.com/jcmexdev/checkout-saga/internal/pkg/config"
	"github.com/jcmexdev/checkout-saga/internal/pkg/events"
	"github.com/jcmexdev/checkout-saga/internal/pkg/interceptors"
	"github.com/jcmexdev/checkout-saga/internal/pkg/lock"
	"github.com/jcmexdev/checkout-saga/internal/pkg/metrics"
	"github.com/jcmexdev/checkout-saga/internal/pkg/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "order-service:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("order-service")
	if err != nil {
		return err
	}

	logger, err := telemetry.NewLogger(cfg.Log.Level, cfg.Env)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.SetupTracer(ctx, telemetry.TracingConfig{
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		Environment: cfg.Env,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Error("tracer shutdown", zap.Error(err))
		}
	}()

	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	ledgerConn, err := dial(cfg.Services.LedgerAddr)
	if err != nil {
		return err
	}
	defer ledgerConn.Close()

	inventoryConn, err := dial(cfg.Services.InventoryAddr)
	if err != nil {
		return err
	}
	defer inventoryConn.Close()

	ledger := grpcclient.NewLedger(ledgerConn, newBreaker("ledger", cfg, logger))
	inventory := grpcclient.NewInventory(inventoryConn, newBreaker("inventory", cfg, logger))

	locker, closeLocker, err := openLocker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLocker()

	publisher, closePublisher := openPublisher(cfg)
	defer closePublisher()

	sagaLog, closeLog, err := openSagaLog(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	checkout := coordinator.NewCheckout(coordinator.Dependencies{
		Orders:    app.NewOrders(repo),
		Ledger:    ledger,
		Inventory: inventory,
		Locker:    locker,
		Publisher: publisher,
		SagaLog:   sagaLog,
		Logger:    logger,
		Metrics:   metrics.NewSaga(registry),
	}, coordinator.Config{
		StepTimeout:         cfg.Saga.StepTimeout,
		LockTTL:             cfg.Saga.LockTTL,
		CompensationRetries: cfg.Saga.CompensationRetries,
		CompensationBackoff: cfg.Saga.CompensationBackoff,
	})
	recoverer := coordinator.NewRecoverer(checkout, cfg.Saga.RecoveryGrace)

	service := app.NewService(repo, ledger, inventory, checkout, logger)
	handler := httpx.NewHandler(service, ledger, inventory, logger)

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpx.NewRouter(handler, logger, cfg.Tracing.ServiceName, registry),
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	sweep(ctx, recoverer, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("order service HTTP running", zap.String("addr", cfg.HTTP.Addr), zap.String("store", cfg.Store))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if cfg.Saga.RecoveryGrace <= 0 {
			return nil
		}
		ticker := time.NewTicker(cfg.Saga.RecoveryGrace)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				sweep(ctx, recoverer, logger)
			}
		}
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}

func sweep(ctx context.Context, recoverer *coordinator.Recoverer, logger *zap.Logger) {
	result, err := recoverer.Sweep(ctx)
	if err != nil {
		logger.Error("saga recovery sweep", zap.Error(err))
	}
	if len(result) > 0 {
		logger.Info("saga recovery sweep done", zap.Any("outcomes", result))
	}
}

func dial(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithUnaryInterceptor(interceptors.TraceClientInterceptor()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

func newBreaker(name string, cfg *config.Config, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return breaker.New(breaker.Settings{
		Name:                name,
		ConsecutiveFailures: cfg.Services.BreakerFailures,
		OpenTimeout:         cfg.Services.BreakerTimeout,
		IsSuccessful:        grpcclient.IsSuccessful,
	}, logger)
}

func openRepository(ctx context.Context, cfg *config.Config) (domain.Repository, func(), error) {
	switch cfg.Store {
	case "postgres":
		pool, err := postgres.Open(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewRepository(pool), pool.Close, nil
	case "memory", "":
		return memory.NewRepository(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store)
	}
}

// openLocker uses Redis when REDIS_ADDR is set. The in-process locker only
// serializes checkouts within a single replica.
func openLocker(ctx context.Context, cfg *config.Config) (lock.Locker, func(), error) {
	if cfg.Redis.Addr == "" {
		return lock.NewMemoryLocker(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis: ping %s: %w", cfg.Redis.Addr, err)
	}
	return lock.NewRedisLocker(client), func() { _ = client.Close() }, nil
}

func openPublisher(cfg *config.Config) (events.Publisher, func()) {
	if len(cfg.Kafka.Brokers) == 0 {
		return events.Nop{}, func() {}
	}
	p := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	return p, func() { _ = p.Close() }
}

func openSagaLog(cfg *config.Config) (sagalog.Repository, func(), error) {
	if cfg.SagaLog.Path == "" {
		return sagalog.NewMemoryRepository(), func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.SagaLog.Path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("saga log dir: %w", err)
	}
	repo, err := sqlite.Open(cfg.SagaLog.Path)
	if err != nil {
		return nil, nil, err
	}
	return repo, func() { _ = repo.Close() }, nil
}
