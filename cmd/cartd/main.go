package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/dwikikusuma/marketplace-cart/internal/cart/app"
	"github.com/dwikikusuma/marketplace-cart/internal/cart/httpapi"
	"github.com/dwikikusuma/marketplace-cart/internal/cart/infra/kvrepo"
	"github.com/dwikikusuma/marketplace-cart/internal/platform/kv"
	"github.com/dwikikusuma/marketplace-cart/internal/platform/kv/memory"
	"github.com/dwikikusuma/marketplace-cart/internal/platform/kv/rediskv"
	"github.com/dwikikusuma/marketplace-cart/internal/platform/kv/sqlite"
	"github.com/dwikikusuma/marketplace-cart/pkg/config"
	"github.com/dwikikusuma/marketplace-cart/pkg/logger"
	"github.com/dwikikusuma/marketplace-cart/pkg/shutdown"
	"github.com/dwikikusuma/marketplace-cart/pkg/telemetry"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const version = "v1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logger.New(logger.Options{Service: "cartd", Env: cfg.AppEnv, Level: cfg.LogLevel, AddSource: true})

	ctx, cancel := shutdown.WithSignals(context.Background(), log)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("cartd failed", slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("bye")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	telemetryOpts := telemetry.Options{
		Service: "cartd",
		Version: version,
		Stdout:  cfg.OTelStdout,
	}
	stopTracing, err := telemetry.InitTracerProvider(ctx, telemetryOpts)
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := stopTracing(stopCtx); err != nil {
			log.Warn("tracer shutdown error", slog.Any("err", err))
		}
	}()

	stopMetrics, err := telemetry.InitMeterProvider(ctx, telemetryOpts)
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := stopMetrics(stopCtx); err != nil {
			log.Warn("meter shutdown error", slog.Any("err", err))
		}
	}()

	backend, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backend.Close()

	repo := kvrepo.NewCartRepo(backend, cfg.StorageKey)
	store := app.NewStore(repo, app.Options{PruneEmpty: cfg.PruneEmpty, Logger: log})
	log.Info("cart store configured",
		slog.String("storage", cfg.Storage),
		slog.String("key", repo.Key()),
		slog.Bool("prune_empty", cfg.PruneEmpty))

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           httpapi.NewHandler(store, backend, log).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcAddr := fmt.Sprintf(":%d", cfg.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", grpcAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	// The persistence worker outlives the servers so the last writes land.
	workerCtx, stopWorker := context.WithCancel(context.WithoutCancel(ctx))
	workerDone := make(chan error, 1)
	go func() { workerDone <- store.Run(workerCtx) }()

	g.Go(func() error {
		if err := store.Initialize(gctx); err != nil {
			return fmt.Errorf("initialize cart: %w", err)
		}
		healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		return nil
	})

	g.Go(func() error {
		log.Info("grpc starting", slog.String("addr", grpcAddr))
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Info("http server starting", slog.String("addr", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown requested")
		healthSrv.Shutdown()

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()

		if err := httpServer.Shutdown(stopCtx); err != nil {
			log.Error("http shutdown error", slog.Any("err", err))
		}

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopCtx.Done():
			log.Warn("graceful stop timeout, forcing stop")
			grpcServer.Stop()
		case <-stopped:
		}
		return nil
	})

	err = g.Wait()

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if ferr := store.Flush(flushCtx); ferr != nil {
		log.Warn("cart flush incomplete", slog.Any("err", ferr))
	}
	flushCancel()
	stopWorker()
	<-workerDone

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openBackend(ctx context.Context, cfg config.Config, log *slog.Logger) (kv.Store, error) {
	switch cfg.Storage {
	case "memory":
		log.Warn("memory storage selected, cart will not survive a restart")
		return memory.New(), nil
	case "sqlite":
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case "redis":
		s, err := rediskv.Connect(ctx, rediskv.Options{Addr: cfg.RedisAddr, Logger: log})
		if err != nil {
			return nil, fmt.Errorf("connect redis store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
}
