package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/moroshma/mqsim/internal/config"
	grpcHandler "github.com/moroshma/mqsim/internal/delivery/grpc"
	httpHandler "github.com/moroshma/mqsim/internal/delivery/http"
	"github.com/moroshma/mqsim/internal/imposter"
	"github.com/moroshma/mqsim/internal/metrics"
	"github.com/moroshma/mqsim/internal/queue"
	"github.com/moroshma/mqsim/internal/service/flusher"
	"github.com/moroshma/mqsim/internal/service/watcher"
	"github.com/moroshma/mqsim/internal/snapshot"
	"github.com/moroshma/mqsim/internal/usecase"
	"github.com/moroshma/mqsim/pkg/logger"
)

var (
	configPath = flag.String("config", "", "Path to configuration file (optional)")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	appLogger, err := logger.New(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		OutputPath: cfg.Logger.OutputPath,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting MQ simulator",
		logger.String("version", cfg.QueueManager.Version),
		logger.String("queue_manager", cfg.QueueManager.Name),
		logger.Int("http_port", cfg.Server.HTTPPort),
		logger.Int("grpc_port", cfg.Server.GRPCPort),
	)

	if err := run(cfg, appLogger); err != nil {
		appLogger.Fatal("Server stopped with error", logger.Error(err))
	}
	appLogger.Info("Server stopped")
}

func run(cfg *config.Config, appLogger *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Vault client if enabled
	vaultClient, err := config.NewVaultClient(&cfg.Vault)
	if err != nil {
		return fmt.Errorf("failed to create vault client: %w", err)
	}
	if vaultClient != nil {
		appLogger.Info("Loading secrets from Vault")
		if err := config.ApplyVaultSecrets(ctx, cfg, vaultClient); err != nil {
			return fmt.Errorf("failed to apply vault secrets: %w", err)
		}
		appLogger.Info("Secrets loaded from Vault successfully")
	}

	// Persistence
	repo, err := newSnapshotRepository(ctx, cfg, appLogger.Named("snapshot"))
	if err != nil {
		return fmt.Errorf("failed to open persistence backend: %w", err)
	}
	if repo != nil {
		defer repo.Close()
	}

	store := queue.NewStore(appLogger.Named("store"), nil)
	snapshots := snapshot.NewManager(store, repo, appLogger.Named("snapshot"))
	if err := snapshots.Bootstrap(ctx, cfg.QueueManager.DefaultQueues); err != nil {
		return fmt.Errorf("failed to bootstrap state: %w", err)
	}

	if snapshots.Enabled() {
		flush := flusher.NewService(snapshots, flusher.Config{
			Debounce:     cfg.Persistence.Debounce,
			WriteTimeout: cfg.Persistence.WriteTimeout,
		}, appLogger.Named("flusher"))
		store.SetNotifier(flush)
		flush.Start(ctx)
		defer flush.Stop()

		// Persist the bootstrapped state so default queues survive a crash
		// before the first change.
		if err := flush.Flush(ctx); err != nil {
			appLogger.Warn("Initial snapshot write failed", logger.Error(err))
		}
	}

	// Metrics
	m := metrics.New()
	if err := m.RegisterQueues(cfg.QueueManager.Name, store); err != nil {
		return fmt.Errorf("failed to register queue metrics: %w", err)
	}

	ops := usecase.NewOperationsUseCase(store, usecase.Config{
		QueueManager: cfg.QueueManager.Name,
		Version:      cfg.QueueManager.Version,
		Snapshots:    snapshots,
	}, m, appLogger.Named("operations"))

	// Imposters
	imposters := imposter.NewManager(imposter.Options{
		Logger:       appLogger.Named("imposter"),
		Metrics:      m,
		PollInterval: cfg.Imposters.PollInterval,
	})
	defer imposters.Close()

	if cfg.Imposters.File != "" {
		if err := imposters.LoadFile(cfg.Imposters.File); err != nil {
			return fmt.Errorf("failed to load imposters: %w", err)
		}
		appLogger.Info("Imposters loaded",
			logger.String("file", cfg.Imposters.File),
			logger.Int("count", len(imposters.List())),
		)
	}

	if cfg.Imposters.Watch {
		w := watcher.NewService(imposters, watcher.Config{
			Path:     cfg.Imposters.File,
			Debounce: cfg.Imposters.WatchDebounce,
		}, appLogger.Named("watcher"))
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	// HTTP server
	router := httpHandler.NewRouter(
		httpHandler.NewHandler(ops, imposters, appLogger.Named("http")),
		m.Handler(),
		httpHandler.RouterConfig{
			RequestTimeout: cfg.Server.RequestTimeout,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		},
	)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: router,
	}

	// gRPC server
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpcHandler.LoggingInterceptor(appLogger.Named("grpc")),
			grpcHandler.TimeoutInterceptor(cfg.Server.RequestTimeout),
		),
	)
	grpcHandler.RegisterOperationsServer(grpcServer, grpcHandler.NewOperationsHandler(ops, imposters, appLogger.Named("grpc")))

	// Register reflection for grpcurl
	reflection.Register(grpcServer)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port %d: %w", cfg.Server.GRPCPort, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		appLogger.Info("✓ HTTP server listening", logger.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		appLogger.Info("✓ gRPC server listening", logger.Int("port", cfg.Server.GRPCPort))
		if err := grpcServer.Serve(listener); err != nil {
			return fmt.Errorf("grpc server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		grpcServer.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})

	appLogger.Info("Ready to accept requests...",
		logger.String("platform", runtime.GOOS+"/"+runtime.GOARCH),
	)

	return g.Wait()
}
