// Package worker consumes job messages from RabbitMQ and executes them on a
// bounded pool of goroutines, alongside the orphan sweeper.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/pagekey/internal/dispatch"
)

// Broker is the part of the RabbitMQ client the worker needs.
type Broker interface {
	Qos(prefetchCount int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	Ack(tag uint64) error
	Nack(tag uint64, requeue bool) error
}

// Sweeper recovers orphaned jobs until ctx ends.
type Sweeper interface {
	Run(ctx context.Context) error
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Broker        Broker
	Executor      dispatch.Executor
	Sweeper       Sweeper
	WorkerID      string
	QueueName     string
	Concurrency   int
	PrefetchCount int
}

// jobMessage is one decoded delivery handed to the pool.
type jobMessage struct {
	JobID       string
	DeliveryTag uint64
}

// Worker represents the background job worker
type Worker struct {
	logger        *slog.Logger
	broker        Broker
	executor      dispatch.Executor
	sweeper       Sweeper
	workerID      string
	queueName     string
	concurrency   int
	prefetchCount int
	jobsChan      chan *jobMessage
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}
	return &Worker{
		logger:        cfg.Logger,
		broker:        cfg.Broker,
		executor:      cfg.Executor,
		sweeper:       cfg.Sweeper,
		workerID:      cfg.WorkerID,
		queueName:     cfg.QueueName,
		concurrency:   concurrency,
		prefetchCount: prefetch,
		jobsChan:      make(chan *jobMessage),
	}
}

// Start consumes and executes jobs until ctx is canceled or the delivery
// channel closes. Jobs executing at cancellation are failed with
// compensation by the executor before Start returns.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(w.jobsChan)
		return w.startMessageDispatcher(gctx, deliveries)
	})

	w.spawnWorkerPool(gctx, g)

	if w.sweeper != nil {
		g.Go(func() error {
			return w.sweeper.Run(gctx)
		})
	}

	err = g.Wait()
	w.logger.Info("Worker stopped",
		slog.String("worker_id", w.workerID),
	)
	return err
}
