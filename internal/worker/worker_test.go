package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/pagekey/internal/domain"
)

type fakeBroker struct {
	deliveries chan amqp.Delivery
	qosErr     error

	mu     sync.Mutex
	acked  []uint64
	nacked map[uint64]bool // tag -> requeue
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		deliveries: make(chan amqp.Delivery, 16),
		nacked:     make(map[uint64]bool),
	}
}

func (b *fakeBroker) Qos(int) error { return b.qosErr }

func (b *fakeBroker) Consume(string) (<-chan amqp.Delivery, error) {
	return b.deliveries, nil
}

func (b *fakeBroker) Ack(tag uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acked = append(b.acked, tag)
	return nil
}

func (b *fakeBroker) Nack(tag uint64, requeue bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nacked[tag] = requeue
	return nil
}

func (b *fakeBroker) settled() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.acked) + len(b.nacked)
}

type fakeExecutor struct {
	results map[string]error
}

func (e *fakeExecutor) Execute(_ context.Context, jobID string) error {
	return e.results[jobID]
}

type fakeSweeper struct {
	ran chan struct{}
}

func (s *fakeSweeper) Run(ctx context.Context) error {
	close(s.ran)
	<-ctx.Done()
	return nil
}

func delivery(tag uint64, jobID string) amqp.Delivery {
	return amqp.Delivery{
		DeliveryTag: tag,
		Body:        []byte(fmt.Sprintf(`{"job_id":%q}`, jobID)),
	}
}

func TestWorker_AckNackDecisions(t *testing.T) {
	ok := uuid.NewString()
	engineFailed := uuid.NewString()
	claimed := uuid.NewString()
	transient := uuid.NewString()

	broker := newFakeBroker()
	exec := &fakeExecutor{results: map[string]error{
		engineFailed: &domain.EngineError{Detail: "crash"},
		claimed:      domain.ErrJobNotPending,
		transient:    domain.NewRetryableError(errors.New("connection refused")),
	}}
	sweeper := &fakeSweeper{ran: make(chan struct{})}

	w := NewWorker(&Config{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Broker:      broker,
		Executor:    exec,
		Sweeper:     sweeper,
		WorkerID:    "worker-test",
		Concurrency: 2,
	})

	broker.deliveries <- delivery(1, ok)
	broker.deliveries <- delivery(2, engineFailed)
	broker.deliveries <- delivery(3, claimed)
	broker.deliveries <- delivery(4, transient)
	broker.deliveries <- amqp.Delivery{DeliveryTag: 5, Body: []byte(`not json`)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, func() bool { return broker.settled() == 5 }, time.Second, 5*time.Millisecond)
	<-sweeper.ran
	cancel()
	require.NoError(t, <-done)

	assert.ElementsMatch(t, []uint64{1, 2}, broker.acked)
	assert.Equal(t, map[uint64]bool{3: false, 4: true, 5: false}, broker.nacked)
}

func TestWorker_ClosedDeliveriesStopWithError(t *testing.T) {
	broker := newFakeBroker()
	close(broker.deliveries)

	w := NewWorker(&Config{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Broker:   broker,
		Executor: &fakeExecutor{},
		WorkerID: "worker-test",
	})

	err := w.Start(context.Background())
	assert.ErrorIs(t, err, errDeliveriesClosed)
}

func TestWorker_QosFailure(t *testing.T) {
	broker := newFakeBroker()
	broker.qosErr = errors.New("channel closed")

	w := NewWorker(&Config{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Broker:   broker,
		Executor: &fakeExecutor{},
	})

	assert.Error(t, w.Start(context.Background()))
}

func TestShouldRequeueJob(t *testing.T) {
	w := &Worker{}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "retryable", err: domain.NewRetryableError(errors.New("db down")), want: true},
		{name: "already claimed", err: domain.ErrJobNotPending, want: false},
		{name: "unknown job", err: fmt.Errorf("lookup: %w", domain.ErrJobNotFound), want: false},
		{name: "unexpected", err: errors.New("boom"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.shouldRequeueJob(tt.err))
		})
	}
}
