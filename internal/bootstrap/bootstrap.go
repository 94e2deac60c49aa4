// Package bootstrap builds the components shared by the api and worker
// services from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/pagekey/internal/config"
	"github.com/cuongbtq/pagekey/internal/engine"
	"github.com/cuongbtq/pagekey/internal/ledger"
	"github.com/cuongbtq/pagekey/internal/runner"
	"github.com/cuongbtq/pagekey/internal/storage"
	"github.com/cuongbtq/pagekey/shared/logger"
	"github.com/cuongbtq/pagekey/shared/postgresql"
	"github.com/cuongbtq/pagekey/shared/rabbitmq"
	"github.com/cuongbtq/pagekey/shared/sqlite"
)

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}

	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   timeFormat,
	})
}

// OpenStore connects to the configured database and migrates its schema
func OpenStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage.Store, error) {
	var store *storage.SQLStore

	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		client, err := postgresql.NewClient(ctx, &postgresql.Config{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Database:        cfg.Database.Database,
			SSLMode:         cfg.Database.SSLMode,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
			ConnectRetries:  cfg.Database.ConnectRetries,
			RetryInterval:   cfg.Database.RetryInterval,
		}, log)
		if err != nil {
			return nil, err
		}
		log.Info("PostgreSQL pool ready", client.Stats()...)
		store = storage.NewSQLStore(client.GetDB(), log)

	case config.DriverSQLite:
		client, err := sqlite.NewClient(&sqlite.Config{
			Path:         cfg.Storage.SQLite.Path,
			BusyTimeout:  cfg.Storage.SQLite.BusyTimeout,
			MaxOpenConns: cfg.Storage.SQLite.MaxOpenConns,
		}, log)
		if err != nil {
			return nil, err
		}
		store = storage.NewSQLStore(client.GetDB(), log)

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}

	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// InitRabbitMQ initializes the RabbitMQ client
func InitRabbitMQ(cfg *config.RabbitMQConfig, log *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, log)
}

// NewLedger creates the ledger with the configured issuing defaults
func NewLedger(store storage.Store, cfg *config.LedgerConfig, log *slog.Logger) *ledger.Ledger {
	opts := []ledger.Option{
		ledger.WithTokenLength(cfg.TokenLength),
		ledger.WithDefaultMaxUses(cfg.DefaultMaxUses),
	}
	if cfg.DefaultTTL > 0 {
		opts = append(opts, ledger.WithDefaultTTL(cfg.DefaultTTL))
	}
	return ledger.New(store, log.With(slog.String("component", "ledger")), opts...)
}

// NewRunner wires the job runner to the external document tools
func NewRunner(
	store storage.Store,
	l *ledger.Ledger,
	cfg *config.Config,
	dispatcher runner.Dispatcher,
	files runner.ArtifactStore,
	log *slog.Logger,
) *runner.Runner {
	commands := engine.ExecRunner{Logger: log.With(slog.String("component", "engine"))}

	return runner.New(runner.Dependencies{
		Store:  store,
		Ledger: l,
		Counter: &engine.PDFInfoCounter{
			Runner: commands,
			Path:   cfg.Engine.PDFInfoPath,
		},
		Translator: &engine.PDF2ZHTranslator{
			Runner:    commands,
			Path:      cfg.Engine.TranslatorPath,
			Service:   cfg.Engine.Service,
			Threads:   cfg.Engine.Threads,
			OutputDir: cfg.Engine.OutputDir,
		},
		Dispatcher: dispatcher,
		Files:      files,
	}, runner.Config{
		JobTimeout:        cfg.Worker.JobTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
	}, log.With(slog.String("component", "runner")))
}

// NewSweeper creates the orphan sweeper, or nil when recovery is disabled
func NewSweeper(r *runner.Runner, cfg *config.RecoveryConfig, log *slog.Logger) *runner.Sweeper {
	if !cfg.Enabled {
		return nil
	}
	return runner.NewSweeper(r, runner.SweeperConfig{
		Interval:             cfg.Interval,
		ProcessingStaleAfter: cfg.ProcessingStaleAfter,
		PendingStaleAfter:    cfg.PendingStaleAfter,
		BatchSize:            cfg.BatchSize,
	}, log.With(slog.String("component", "sweeper")))
}

// RunBackground runs a long-lived task until ctx ends and logs the error it
// stops with. Cancellation is a normal stop.
func RunBackground(ctx context.Context, name string, run func(context.Context) error, log *slog.Logger) error {
	err := run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Background task stopped with error",
			slog.String("task", name),
			slog.Any("error", err),
		)
		return err
	}
	return nil
}
