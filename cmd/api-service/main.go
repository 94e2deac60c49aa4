package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/pagekey/internal/api/handler"
	"github.com/cuongbtq/pagekey/internal/api/router"
	"github.com/cuongbtq/pagekey/internal/bootstrap"
	"github.com/cuongbtq/pagekey/internal/config"
	"github.com/cuongbtq/pagekey/internal/dispatch"
	"github.com/cuongbtq/pagekey/internal/filestore"
	"github.com/cuongbtq/pagekey/internal/query"
	"github.com/cuongbtq/pagekey/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("dispatch", cfg.Dispatch.Mode),
	)

	store, err := bootstrap.OpenStore(context.Background(), cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	appLogger.Info("Database connection established")

	files, err := filestore.NewLocalStore(cfg.Upload.Dir, cfg.Upload.MaxBytes, appLogger.Logger)
	if err != nil {
		return err
	}

	l := bootstrap.NewLedger(store, &cfg.Ledger, appLogger.Logger)
	jobRunner := bootstrap.NewRunner(store, l, cfg, nil, files, appLogger.Logger)

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	var background sync.WaitGroup

	var (
		queue        *dispatch.LocalQueue
		rabbitClient *rabbitmq.Client
	)

	switch cfg.Dispatch.Mode {
	case config.DispatchLocal:
		queue = dispatch.NewLocalQueue(appLogger.Logger,
			dispatch.WithWorkers(cfg.Worker.Concurrency),
			dispatch.WithQueueSize(cfg.Worker.QueueSize),
		)
		jobRunner.SetDispatcher(queue)
		queue.Start(jobRunner)

		if sweeper := bootstrap.NewSweeper(jobRunner, &cfg.Recovery, appLogger.Logger); sweeper != nil {
			background.Add(1)
			go func() {
				defer background.Done()
				_ = bootstrap.RunBackground(bgCtx, "orphan-sweeper", sweeper.Run, appLogger.Logger)
			}()
		}

		appLogger.Info("In-process worker pool started",
			slog.Int("concurrency", cfg.Worker.Concurrency),
		)

	case config.DispatchRabbitMQ:
		rabbitClient, err = bootstrap.InitRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		jobRunner.SetDispatcher(dispatch.NewRabbitDispatcher(rabbitClient, appLogger.Logger))
		appLogger.Info("RabbitMQ connection established")
	}

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	r := router.SetupRouter(&handler.Dependencies{
		Logger:      appLogger.Logger,
		ServiceName: cfg.App.Name,
		Ledger:      l,
		Runner:      jobRunner,
		Query: query.NewService(store, query.Config{
			DefaultPageSize: cfg.Query.DefaultPageSize,
			MaxPageSize:     cfg.Query.MaxPageSize,
		}, appLogger.Logger),
		Files:  files,
		Health: store,
	}, cfg.Upload.MaxBytes)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down",
			slog.String("signal", sig.String()),
		)
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
	}

	stopBackground()
	background.Wait()

	if queue != nil {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
		defer drainCancel()
		queue.Shutdown(drainCtx)
	}

	appLogger.Info("API service shutdown complete")
	return nil
}
