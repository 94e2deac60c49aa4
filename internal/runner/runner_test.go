package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/pagekey/internal/domain"
	"github.com/cuongbtq/pagekey/internal/engine"
	"github.com/cuongbtq/pagekey/internal/ledger"
	"github.com/cuongbtq/pagekey/internal/storage"
	"github.com/cuongbtq/pagekey/internal/storage/memory"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func storageAll() storage.JobFilter {
	return storage.JobFilter{Limit: 100}
}

type fakeCounter struct {
	pages int
	err   error
}

func (f *fakeCounter) PageCount(context.Context, string) (int, error) {
	return f.pages, f.err
}

type fakeTranslator struct {
	fn func(ctx context.Context, req engine.TranslateRequest) (string, error)
}

func (f *fakeTranslator) Translate(ctx context.Context, req engine.TranslateRequest) (string, error) {
	if f.fn == nil {
		return "/out/" + req.JobID + "-mono.pdf", nil
	}
	return f.fn(ctx, req)
}

type fakeDispatcher struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.ids = append(f.ids, jobID)
	return nil
}

type fakeFiles struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeFiles) Delete(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, path)
}

type harness struct {
	runner     *Runner
	ledger     *ledger.Ledger
	store      *memory.Store
	counter    *fakeCounter
	translator *fakeTranslator
	dispatcher *fakeDispatcher
	files      *fakeFiles
	clock      *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	l := ledger.New(store, logger, ledger.WithClock(func() time.Time { return t0 }))

	h := &harness{
		ledger:     l,
		store:      store,
		counter:    &fakeCounter{pages: 8},
		translator: &fakeTranslator{},
		dispatcher: &fakeDispatcher{},
		files:      &fakeFiles{},
		clock:      &clock{now: t0},
	}
	h.runner = New(Dependencies{
		Store:      store,
		Ledger:     l,
		Counter:    h.counter,
		Translator: h.translator,
		Dispatcher: h.dispatcher,
		Files:      h.files,
	}, Config{
		JobTimeout:        time.Second,
		HeartbeatInterval: 10 * time.Millisecond,
	}, logger)
	h.runner.now = h.clock.Now
	return h
}

func (h *harness) issue(t *testing.T, pages int) string {
	t.Helper()
	key, err := h.ledger.Issue(context.Background(), ledger.IssueRequest{Pages: pages})
	require.NoError(t, err)
	return key.Token
}

func (h *harness) key(t *testing.T, token string) *domain.Key {
	t.Helper()
	key, err := h.store.GetKey(context.Background(), token)
	require.NoError(t, err)
	return key
}

func (h *harness) job(t *testing.T, id string) *domain.Job {
	t.Helper()
	job, err := h.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

func (h *harness) submit(t *testing.T, token string) *domain.Job {
	t.Helper()
	job, err := h.runner.Submit(context.Background(), SubmitRequest{
		KeyToken:   token,
		Filename:   "doc.pdf",
		SourcePath: "/uploads/doc.pdf",
	})
	require.NoError(t, err)
	return job
}

func intPtr(v int) *int { return &v }

func TestSubmit_ReservesAndDispatches(t *testing.T) {
	h := newHarness(t)
	token := h.issue(t, 10)

	job := h.submit(t, token)

	assert.Equal(t, domain.StatusPending, job.Status)
	assert.Equal(t, 8, job.TotalPages)
	assert.Equal(t, 8, job.ReservedPages)
	assert.Equal(t, domain.EnToZh, job.Language)
	assert.Equal(t, []string{job.JobID}, h.dispatcher.ids)
	assert.Equal(t, 2, h.key(t, token).PageBalance)
	assert.Empty(t, h.files.deleted)
}

func TestSubmit_PageLimit(t *testing.T) {
	tests := []struct {
		name  string
		limit *int
		want  int
	}{
		{name: "no limit", limit: nil, want: 8},
		{name: "limit below total", limit: intPtr(3), want: 3},
		{name: "limit above total", limit: intPtr(20), want: 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			token := h.issue(t, 10)

			job, err := h.runner.Submit(context.Background(), SubmitRequest{
				KeyToken:   token,
				Filename:   "doc.pdf",
				SourcePath: "/uploads/doc.pdf",
				PageLimit:  tt.limit,
				Language:   "JA_TO_ZH",
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, job.ReservedPages)
			assert.Equal(t, 8, job.TotalPages)
			assert.Equal(t, domain.JaToZh, job.Language)
			assert.Equal(t, 10-tt.want, h.key(t, token).PageBalance)
		})
	}
}

func TestSubmit_AdmissionFailures(t *testing.T) {
	tests := []struct {
		name    string
		pages   int
		setup   func(h *harness)
		req     func(token string) SubmitRequest
		wantErr error
	}{
		{
			name:    "insufficient balance",
			pages:   5,
			wantErr: domain.ErrInsufficientBalance,
		},
		{
			name:  "unreadable document",
			pages: 10,
			setup: func(h *harness) {
				h.counter.err = domain.ErrInvalidDocument
			},
			wantErr: domain.ErrInvalidDocument,
		},
		{
			name:  "unknown key",
			pages: 10,
			req: func(string) SubmitRequest {
				return SubmitRequest{KeyToken: "ghost", Filename: "doc.pdf", SourcePath: "/uploads/doc.pdf"}
			},
			wantErr: domain.ErrKeyNotFound,
		},
		{
			name:  "unsupported language",
			pages: 10,
			req: func(token string) SubmitRequest {
				return SubmitRequest{KeyToken: token, Filename: "doc.pdf", SourcePath: "/uploads/doc.pdf", Language: "xx_to_yy"}
			},
			wantErr: domain.ErrValidation,
		},
		{
			name:  "non-positive page limit",
			pages: 10,
			req: func(token string) SubmitRequest {
				return SubmitRequest{KeyToken: token, Filename: "doc.pdf", SourcePath: "/uploads/doc.pdf", PageLimit: intPtr(0)}
			},
			wantErr: domain.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			token := h.issue(t, tt.pages)
			if tt.setup != nil {
				tt.setup(h)
			}

			req := SubmitRequest{KeyToken: token, Filename: "doc.pdf", SourcePath: "/uploads/doc.pdf"}
			if tt.req != nil {
				req = tt.req(token)
			}

			job, err := h.runner.Submit(context.Background(), req)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, job)

			assert.Equal(t, tt.pages, h.key(t, token).PageBalance, "no credit touched")
			_, total, err := h.store.ListJobs(context.Background(), storageAll())
			require.NoError(t, err)
			assert.Zero(t, total, "no job created")
			assert.Empty(t, h.dispatcher.ids)
			assert.Equal(t, []string{"/uploads/doc.pdf"}, h.files.deleted)
		})
	}
}

func TestSubmit_InsufficientReportsRequestedPages(t *testing.T) {
	h := newHarness(t)
	token := h.issue(t, 5)

	limit := 6
	_, err := h.runner.Submit(context.Background(), SubmitRequest{KeyToken: token, Filename: "doc.pdf", SourcePath: "/uploads/doc.pdf", PageLimit: &limit})

	var insufficient *domain.InsufficientBalanceError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 6, insufficient.Requested)
	assert.Equal(t, 5, insufficient.Available)
	assert.Equal(t, 8, insufficient.DocumentPages)
}

func TestSubmit_DispatchFailureCompensates(t *testing.T) {
	h := newHarness(t)
	token := h.issue(t, 10)
	h.dispatcher.err = errors.New("queue full")

	job, err := h.runner.Submit(context.Background(), SubmitRequest{KeyToken: token, Filename: "doc.pdf", SourcePath: "/uploads/doc.pdf"})
	require.Error(t, err)
	assert.Nil(t, job)
	assert.False(t, domain.IsClientError(err))

	assert.Equal(t, 10, h.key(t, token).PageBalance)

	jobs, total, err := h.store.ListJobs(context.Background(), storageAll())
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, domain.StatusFailed, jobs[0].Status)
	assert.NotNil(t, jobs[0].CompensatedAt)
}

func TestExecute_EngineFailureCompensates(t *testing.T) {
	h := newHarness(t)
	token := h.issue(t, 10)
	job := h.submit(t, token)

	h.translator.fn = func(ctx context.Context, req engine.TranslateRequest) (string, error) {
		assert.Equal(t, domain.StatusProcessing, h.job(t, req.JobID).Status)
		assert.Equal(t, 2, h.key(t, token).PageBalance)
		assert.Equal(t, 8, req.Pages)
		return "", &domain.EngineError{Detail: "service unavailable"}
	}

	err := h.runner.Execute(context.Background(), job.JobID)
	require.ErrorIs(t, err, domain.ErrEngineFailure)

	got := h.job(t, job.JobID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorDetail)
	assert.Equal(t, "service unavailable", *got.ErrorDetail)
	assert.NotNil(t, got.CompensatedAt)

	key := h.key(t, token)
	assert.Equal(t, 10, key.PageBalance)
	assert.Equal(t, 0, key.UsedCount)
	assert.True(t, key.IsActive)
}

func TestExecute_Completes(t *testing.T) {
	h := newHarness(t)
	token := h.issue(t, 8)
	job := h.submit(t, token)

	require.NoError(t, h.runner.Execute(context.Background(), job.JobID))

	got := h.job(t, job.JobID)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	require.NotNil(t, got.TranslatedPath)
	assert.Equal(t, "/out/"+job.JobID+"-mono.pdf", *got.TranslatedPath)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)
	assert.Nil(t, got.CompensatedAt)

	key := h.key(t, token)
	assert.Equal(t, 0, key.PageBalance, "completed work keeps its reservation")
	assert.False(t, key.IsActive)

	err := h.runner.Execute(context.Background(), job.JobID)
	assert.ErrorIs(t, err, domain.ErrJobNotPending)
}

func TestExecute_TimeoutCompensates(t *testing.T) {
	h := newHarness(t)
	h.runner.cfg.JobTimeout = 30 * time.Millisecond
	token := h.issue(t, 10)
	job := h.submit(t, token)

	h.translator.fn = func(ctx context.Context, _ engine.TranslateRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	err := h.runner.Execute(context.Background(), job.JobID)
	require.ErrorIs(t, err, domain.ErrEngineFailure)

	got := h.job(t, job.JobID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorDetail)
	assert.Contains(t, *got.ErrorDetail, "timed out")
	assert.Equal(t, 10, h.key(t, token).PageBalance)
}

func TestExecute_HeartbeatRefreshes(t *testing.T) {
	h := newHarness(t)
	token := h.issue(t, 10)
	job := h.submit(t, token)

	later := t0.Add(time.Minute)
	h.translator.fn = func(ctx context.Context, req engine.TranslateRequest) (string, error) {
		h.clock.Set(later)
		require.Eventually(t, func() bool {
			return h.job(t, req.JobID).HeartbeatAt.Equal(later)
		}, time.Second, 5*time.Millisecond)
		return "/out/a.pdf", nil
	}

	require.NoError(t, h.runner.Execute(context.Background(), job.JobID))
}

func TestExecute_UnknownJob(t *testing.T) {
	h := newHarness(t)
	err := h.runner.Execute(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestExecute_CompletionAfterSweepDiscardsArtifact(t *testing.T) {
	h := newHarness(t)
	token := h.issue(t, 10)
	job := h.submit(t, token)

	h.translator.fn = func(ctx context.Context, req engine.TranslateRequest) (string, error) {
		failed, err := h.runner.fail(ctx, req.JobID, "orphaned", nil)
		require.NoError(t, err)
		require.True(t, failed)
		return "/out/late.pdf", nil
	}

	require.NoError(t, h.runner.Execute(context.Background(), job.JobID))

	got := h.job(t, job.JobID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Nil(t, got.TranslatedPath)
	assert.Contains(t, h.files.deleted, "/out/late.pdf")
	assert.Equal(t, 10, h.key(t, token).PageBalance, "compensated exactly once")
}

func TestFail_AtMostOnceUnderRace(t *testing.T) {
	h := newHarness(t)
	token := h.issue(t, 10)
	job := h.submit(t, token)

	var wg sync.WaitGroup
	var mu sync.Mutex
	performed := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			failed, err := h.runner.fail(context.Background(), job.JobID, "boom", nil)
			assert.NoError(t, err)
			if failed {
				mu.Lock()
				performed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, performed)
	assert.Equal(t, 10, h.key(t, token).PageBalance)
}

func TestConservation_ManyJobs(t *testing.T) {
	h := newHarness(t)
	h.counter.pages = 2
	token := h.issue(t, 20)

	var jobs []*domain.Job
	for i := 0; i < 10; i++ {
		jobs = append(jobs, h.submit(t, token))
	}
	assert.Equal(t, 0, h.key(t, token).PageBalance)

	h.translator.fn = func(context.Context, engine.TranslateRequest) (string, error) {
		return "", errors.New("crash")
	}

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = h.runner.Execute(context.Background(), id)
		}(job.JobID)
	}
	wg.Wait()

	key := h.key(t, token)
	assert.Equal(t, 20, key.PageBalance)
	assert.Equal(t, 0, key.UsedCount)
	assert.True(t, key.IsActive)
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("override does not compensate", func(t *testing.T) {
		h := newHarness(t)
		token := h.issue(t, 10)
		job := h.submit(t, token)

		detail := "cancelled by operator"
		got, err := h.runner.SetStatus(ctx, job.JobID, "failed", &detail)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, got.Status)
		assert.Equal(t, detail, *got.ErrorDetail)
		assert.Nil(t, got.CompensatedAt)
		assert.Equal(t, 2, h.key(t, token).PageBalance)
	})

	t.Run("same status is a no-op", func(t *testing.T) {
		h := newHarness(t)
		job := h.submit(t, h.issue(t, 10))

		got, err := h.runner.SetStatus(ctx, job.JobID, "pending", nil)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, got.Status)
	})

	t.Run("terminal status cannot be left", func(t *testing.T) {
		h := newHarness(t)
		job := h.submit(t, h.issue(t, 10))
		require.NoError(t, h.runner.Execute(ctx, job.JobID))

		_, err := h.runner.SetStatus(ctx, job.JobID, "processing", nil)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("pending cannot complete directly", func(t *testing.T) {
		h := newHarness(t)
		job := h.submit(t, h.issue(t, 10))

		_, err := h.runner.SetStatus(ctx, job.JobID, "completed", nil)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("unknown status", func(t *testing.T) {
		h := newHarness(t)
		job := h.submit(t, h.issue(t, 10))

		_, err := h.runner.SetStatus(ctx, job.JobID, "paused", nil)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("unknown job", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.runner.SetStatus(ctx, "missing", "failed", nil)
		assert.ErrorIs(t, err, domain.ErrJobNotFound)
	})
}

func TestSetPaymentStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	job := h.submit(t, h.issue(t, 10))

	steps := []struct {
		to      string
		want    domain.PaymentStatus
		wantErr error
	}{
		{to: "refunded", wantErr: domain.ErrInvalidTransition},
		{to: "paid", want: domain.PaymentPaid},
		{to: "paid", want: domain.PaymentPaid},
		{to: "refunded", want: domain.PaymentRefunded},
		{to: "cancelled", wantErr: domain.ErrInvalidTransition},
		{to: "bogus", wantErr: domain.ErrValidation},
	}

	for _, step := range steps {
		got, err := h.runner.SetPaymentStatus(ctx, job.JobID, step.to)
		if step.wantErr != nil {
			assert.ErrorIs(t, err, step.wantErr, step.to)
			continue
		}
		require.NoError(t, err, step.to)
		assert.Equal(t, step.want, got.PaymentStatus)
	}

	assert.Equal(t, domain.StatusPending, h.job(t, job.JobID).Status, "payment is orthogonal to processing")
}

func TestDeleteJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	token := h.issue(t, 10)
	job := h.submit(t, token)

	err := h.runner.DeleteJob(ctx, job.JobID)
	require.ErrorIs(t, err, domain.ErrJobInFlight)

	require.NoError(t, h.runner.Execute(ctx, job.JobID))
	require.NoError(t, h.runner.DeleteJob(ctx, job.JobID))

	_, err = h.store.GetJob(ctx, job.JobID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	assert.ElementsMatch(t, []string{"/uploads/doc.pdf", "/out/" + job.JobID + "-mono.pdf"}, h.files.deleted)
	assert.Equal(t, 2, h.key(t, token).PageBalance, "deleting history does not refund")

	err = h.runner.DeleteJob(ctx, job.JobID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestSweeper(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.counter.pages = 4
	token := h.issue(t, 10)

	stuck := h.submit(t, token)
	_, err := h.runner.SetStatus(ctx, stuck.JobID, "processing", nil)
	require.NoError(t, err)
	queued := h.submit(t, token)
	assert.Equal(t, 2, h.key(t, token).PageBalance)

	sweeper := NewSweeper(h.runner, SweeperConfig{
		Interval:             time.Minute,
		ProcessingStaleAfter: 10 * time.Minute,
		PendingStaleAfter:    time.Hour,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	h.clock.Set(t0.Add(5 * time.Minute))
	n, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing is stale yet")

	h.clock.Set(t0.Add(30 * time.Minute))
	n, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := h.job(t, stuck.JobID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Contains(t, *got.ErrorDetail, "orphaned")
	assert.Equal(t, domain.StatusPending, h.job(t, queued.JobID).Status)
	assert.Equal(t, 6, h.key(t, token).PageBalance)

	h.clock.Set(t0.Add(2 * time.Hour))
	n, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.StatusFailed, h.job(t, queued.JobID).Status)

	key := h.key(t, token)
	assert.Equal(t, 10, key.PageBalance)
	assert.True(t, key.IsActive)

	n, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "terminal jobs are never swept twice")
}
