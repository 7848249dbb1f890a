package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/jcmexdev/checkout-saga/internal/payment-service/adapters/memory"
	"github.com/jcmexdev/checkout-saga/internal/payment-service/adapters/mysql"
	"github.com/jcmexdev/checkout-saga/internal/payment-service/app"
	"github.com/jcmexdev/checkout-saga/internal/payment-service/domain"
	"github.com/jcmexdev/checkout-saga/internal/pkg/config"
	"github.com/jcmexdev/checkout-saga/internal/pkg/interceptors"
	"github.com/jcmexdev/checkout-saga/internal/pkg/telemetry"
	ledgerv1 "github.com/jcmexdev/checkout-saga/internal/rpc/ledger/v1"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "payment-service:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("payment-service")
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
	ledgerv1.RegisterLedgerServer(grpcServer, app.NewLedgerServer(store, logger))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("ledger gRPC running", zap.String("addr", cfg.GRPC.Addr), zap.String("store", cfg.Store))
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
	case "mysql":
		store, err := mysql.Open(ctx, cfg.MySQL.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case "memory", "":
		return memory.NewStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store)
	}
}
