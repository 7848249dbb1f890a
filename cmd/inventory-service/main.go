package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	inventoryservice "github.com/jcmexdev/checkout-saga/internal/inventory-service"
	"github.com/jcmexdev/checkout-saga/internal/inventory-service/adapters/memory"
	redisstore "github.com/jcmexdev/checkout-saga/internal/inventory-service/adapters/redis"
	"github.com/jcmexdev/checkout-saga/internal/inventory-service/domain"
	"github.com/jcmexdev/checkout-saga/internal/pkg/config"
	"github.com/jcmexdev/checkout-saga/internal/pkg/interceptors"
	"github.com/jcmexdev/checkout-saga/internal/pkg/telemetry"
	inventoryv1 "github.com/jcmexdev/checkout-saga/internal/rpc/inventory/v1"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "inventory-service:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("inventory-service")
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

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPC.Addr, err)
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(interceptors.TraceServerInterceptor(logger)),
	)
	inventoryv1.RegisterInventoryServer(grpcServer, inventoryservice.NewServer(store, logger))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("inventory gRPC running", zap.String("addr", cfg.GRPC.Addr), zap.String("store", cfg.Store))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		<-ctx.Done()
		grpcServer.GracefulStop()
		return nil
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (domain.Store, func(), error) {
	switch cfg.Store {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis: ping %s: %w", cfg.Redis.Addr, err)
		}
		return redisstore.NewStore(client, cfg.Inventory.OperationTTL), func() { _ = client.Close() }, nil
	case "memory", "":
		return memory.NewStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store)
	}
}
