package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingExecutor struct {
	mu      sync.Mutex
	ids     []string
	release chan struct{}
}

func (e *recordingExecutor) Execute(ctx context.Context, jobID string) error {
	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = append(e.ids, jobID)
	return nil
}

func (e *recordingExecutor) executed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.ids...)
}

func TestLocalQueue_ExecutesDispatchedJobs(t *testing.T) {
	exec := &recordingExecutor{}
	q := NewLocalQueue(discardLogger(), WithWorkers(2), WithQueueSize(8))
	q.Start(exec)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Dispatch(context.Background(), id))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	q.Shutdown(ctx)

	assert.ElementsMatch(t, []string{"a", "b", "c"}, exec.executed())

	err := q.Dispatch(context.Background(), "late")
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestLocalQueue_FullQueueRejects(t *testing.T) {
	exec := &recordingExecutor{release: make(chan struct{})}
	q := NewLocalQueue(discardLogger(), WithWorkers(1), WithQueueSize(1))

	// Not started: the single slot fills and the next dispatch is refused.
	require.NoError(t, q.Dispatch(context.Background(), "a"))
	assert.ErrorIs(t, q.Dispatch(context.Background(), "b"), ErrQueueFull)

	q.Start(exec)
	close(exec.release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	q.Shutdown(ctx)
	assert.Equal(t, []string{"a"}, exec.executed())
}

func TestLocalQueue_ShutdownCancelsRunningJobs(t *testing.T) {
	exec := &recordingExecutor{release: make(chan struct{})}
	q := NewLocalQueue(discardLogger(), WithWorkers(1))
	q.Start(exec)
	require.NoError(t, q.Dispatch(context.Background(), "stuck"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	q.Shutdown(ctx)

	assert.Empty(t, exec.executed())
}

type fakePublisher struct {
	body        []byte
	contentType string
	err         error
}

func (f *fakePublisher) PublishWithRetry(_ context.Context, body []byte, contentType string) error {
	f.body = body
	f.contentType = contentType
	return f.err
}

func TestRabbitDispatcher(t *testing.T) {
	pub := &fakePublisher{}
	d := NewRabbitDispatcher(pub, discardLogger())
	id := uuid.NewString()

	require.NoError(t, d.Dispatch(context.Background(), id))
	assert.Equal(t, ContentType, pub.contentType)

	var msg map[string]string
	require.NoError(t, json.Unmarshal(pub.body, &msg))
	assert.Equal(t, id, msg["job_id"])

	pub.err = errors.New("channel closed")
	assert.Error(t, d.Dispatch(context.Background(), id))
}

func TestDecode(t *testing.T) {
	id := uuid.NewString()

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid", body: `{"job_id":"` + id + `"}`},
		{name: "malformed json", body: `{"job_id":`, wantErr: true},
		{name: "not a uuid", body: `{"job_id":"42"}`, wantErr: true},
		{name: "missing id", body: `{}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, id, msg.JobID)
		})
	}
}
