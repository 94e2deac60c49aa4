package query

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/pagekey/internal/domain"
	"github.com/cuongbtq/pagekey/internal/storage"
	"github.com/cuongbtq/pagekey/internal/storage/memory"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	store *memory.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	svc := NewService(store, Config{DefaultPageSize: 2, MaxPageSize: 3}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return now }
	return &fixture{svc: svc, store: store}
}

func (f *fixture) key(t *testing.T, token string, pages int, created time.Time) {
	t.Helper()
	key := &domain.Key{
		Token:       token,
		PageBalance: pages,
		MaxUses:     1,
		IsActive:    pages > 0,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	require.NoError(t, f.store.WithTx(context.Background(), func(tx storage.Tx) error {
		return tx.InsertKey(context.Background(), key)
	}))
}

func (f *fixture) job(t *testing.T, token string, pages int, status domain.ProcessingStatus, created time.Time) *domain.Job {
	t.Helper()
	job, err := domain.NewJob(token, "doc.pdf", "/uploads/doc.pdf", pages, pages, domain.EnToZh, created)
	require.NoError(t, err)
	job.Status = status
	require.NoError(t, f.store.WithTx(context.Background(), func(tx storage.Tx) error {
		return tx.InsertJob(context.Background(), job)
	}))
	return job
}

func TestGetKey_ConsumedPages(t *testing.T) {
	f := newFixture(t)
	f.key(t, "alpha", 4, now)
	f.job(t, "alpha", 3, domain.StatusCompleted, now)
	f.job(t, "alpha", 2, domain.StatusCompleted, now)
	f.job(t, "alpha", 5, domain.StatusFailed, now)
	f.job(t, "alpha", 1, domain.StatusProcessing, now)

	info, err := f.svc.GetKey(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, 5, info.ConsumedPages)
	assert.Equal(t, 9, info.TotalPages)
	assert.True(t, info.Active)

	_, err = f.svc.GetKey(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
}

func TestListKeys(t *testing.T) {
	f := newFixture(t)
	for i, token := range []string{"k1", "k2", "k3", "k4"} {
		f.key(t, token, i, now.Add(time.Duration(i)*time.Minute))
	}

	active := true
	inactive := false

	tests := []struct {
		name       string
		page       Page
		active     *bool
		wantTokens []string
		wantTotal  int
		wantSize   int
	}{
		{name: "default size", page: Page{}, wantTokens: []string{"k4", "k3"}, wantTotal: 4, wantSize: 2},
		{name: "second page", page: Page{Page: 2, Size: 2}, wantTokens: []string{"k2", "k1"}, wantTotal: 4, wantSize: 2},
		{name: "size capped", page: Page{Page: 1, Size: 50}, wantTokens: []string{"k4", "k3", "k2"}, wantTotal: 4, wantSize: 3},
		{name: "active only", page: Page{Size: 3}, active: &active, wantTokens: []string{"k4", "k3", "k2"}, wantTotal: 3, wantSize: 3},
		{name: "inactive only", page: Page{Size: 3}, active: &inactive, wantTokens: []string{"k1"}, wantTotal: 1, wantSize: 3},
		{name: "past the end", page: Page{Page: 9, Size: 2}, wantTokens: []string{}, wantTotal: 4, wantSize: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.svc.ListKeys(context.Background(), tt.page, tt.active)
			require.NoError(t, err)

			tokens := []string{}
			for _, key := range res.Items {
				tokens = append(tokens, key.Token)
			}
			assert.Equal(t, tt.wantTokens, tokens)
			assert.Equal(t, tt.wantTotal, res.Total)
			assert.Equal(t, tt.wantSize, res.Size)
		})
	}
}

func TestListPagination_Rejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ListKeys(context.Background(), Page{Page: -1}, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.ListJobs(context.Background(), JobQuery{Page: Page{Size: -5}})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestListJobs(t *testing.T) {
	f := newFixture(t)
	f.key(t, "alpha", 10, now)
	f.key(t, "beta", 10, now)
	f.job(t, "alpha", 1, domain.StatusCompleted, now)
	f.job(t, "alpha", 1, domain.StatusFailed, now.Add(time.Minute))
	f.job(t, "beta", 1, domain.StatusCompleted, now.Add(2*time.Minute))

	tests := []struct {
		name      string
		query     JobQuery
		wantTotal int
		wantErr   error
	}{
		{name: "all", query: JobQuery{Page: Page{Size: 3}}, wantTotal: 3},
		{name: "by key", query: JobQuery{KeyToken: "alpha"}, wantTotal: 2},
		{name: "by status", query: JobQuery{Status: "completed"}, wantTotal: 2},
		{name: "by key and status", query: JobQuery{KeyToken: "alpha", Status: "completed"}, wantTotal: 1},
		{name: "by payment", query: JobQuery{PaymentStatus: "paid"}, wantTotal: 0},
		{name: "bad status", query: JobQuery{Status: "done"}, wantErr: domain.ErrValidation},
		{name: "bad payment", query: JobQuery{PaymentStatus: "free"}, wantErr: domain.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.svc.ListJobs(context.Background(), tt.query)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, res.Total)
		})
	}
}

func TestStatistics(t *testing.T) {
	f := newFixture(t)
	f.key(t, "alpha", 10, now)
	f.key(t, "empty", 0, now)
	f.job(t, "alpha", 1, domain.StatusCompleted, now)
	f.job(t, "alpha", 1, domain.StatusCompleted, now)
	f.job(t, "alpha", 1, domain.StatusPending, now)

	stats, err := f.svc.Statistics(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, stats.TotalJobs)
	assert.Equal(t, 2, stats.ProcessingCounts[domain.StatusCompleted])
	assert.Equal(t, 1, stats.ProcessingCounts[domain.StatusPending])
	assert.Equal(t, 0, stats.ProcessingCounts[domain.StatusFailed])
	assert.Equal(t, 3, stats.PaymentCounts[domain.PaymentUnpaid])
	assert.Len(t, stats.PaymentCounts, len(domain.PaymentStatuses))
	assert.Equal(t, 1, stats.ActiveKeys)
	assert.Equal(t, 1, stats.InactiveKeys)
}
