// Package memory provides an in-memory storage.Store for tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/pagekey/internal/domain"
	"github.com/cuongbtq/pagekey/internal/storage"
)

// Store keeps keys and jobs in maps. Transactions hold the write lock for
// their whole duration and work on copies that are swapped in on commit.
type Store struct {
	mu   sync.RWMutex
	keys map[string]domain.Key
	jobs map[string]domain.Job
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		keys: make(map[string]domain.Key),
		jobs: make(map[string]domain.Job),
	}
}

func (m *Store) Migrate(context.Context) error { return nil }
func (m *Store) Ping(context.Context) error    { return nil }
func (m *Store) Close() error                  { return nil }

// WithTx runs fn against a snapshot and commits it only when fn succeeds.
func (m *Store) WithTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{
		keys: make(map[string]domain.Key, len(m.keys)),
		jobs: make(map[string]domain.Job, len(m.jobs)),
	}
	for k, v := range m.keys {
		tx.keys[k] = v
	}
	for k, v := range m.jobs {
		tx.jobs[k] = v
	}

	if err := fn(tx); err != nil {
		return err
	}

	m.keys = tx.keys
	m.jobs = tx.jobs
	return nil
}

func (m *Store) TouchJob(_ context.Context, jobID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || job.Status != domain.StatusProcessing {
		return nil
	}
	job.HeartbeatAt = at
	job.UpdatedAt = at
	m.jobs[jobID] = job
	return nil
}

func (m *Store) GetKey(_ context.Context, token string) (*domain.Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.keys[token]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	return &key, nil
}

func (m *Store) ListKeys(_ context.Context, filter storage.KeyFilter) ([]domain.Key, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []domain.Key
	for _, key := range m.keys {
		if filter.Active != nil && key.Active(filter.Now) != *filter.Active {
			continue
		}
		matched = append(matched, key)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].Token > matched[j].Token
	})
	return page(matched, filter.Offset, filter.Limit), len(matched), nil
}

func (m *Store) CountKeys(_ context.Context, now time.Time) (storage.KeyCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var counts storage.KeyCounts
	for _, key := range m.keys {
		if key.Active(now) {
			counts.Active++
		} else {
			counts.Inactive++
		}
	}
	return counts, nil
}

func (m *Store) ConsumedPages(_ context.Context, token string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for _, job := range m.jobs {
		if job.KeyToken == token && job.Status == domain.StatusCompleted {
			total += job.ReservedPages
		}
	}
	return total, nil
}

func (m *Store) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &job, nil
}

func (m *Store) ListJobs(_ context.Context, filter storage.JobFilter) ([]domain.Job, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []domain.Job
	for _, job := range m.jobs {
		if filter.KeyToken != "" && job.KeyToken != filter.KeyToken {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.PaymentStatus != "" && job.PaymentStatus != filter.PaymentStatus {
			continue
		}
		matched = append(matched, job)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].JobID > matched[j].JobID
	})
	return page(matched, filter.Offset, filter.Limit), len(matched), nil
}

func (m *Store) CountJobsByStatus(context.Context) (map[domain.ProcessingStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[domain.ProcessingStatus]int, len(domain.ProcessingStatuses))
	for _, st := range domain.ProcessingStatuses {
		counts[st] = 0
	}
	for _, job := range m.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func (m *Store) CountJobsByPayment(context.Context) (map[domain.PaymentStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[domain.PaymentStatus]int, len(domain.PaymentStatuses))
	for _, st := range domain.PaymentStatuses {
		counts[st] = 0
	}
	for _, job := range m.jobs {
		counts[job.PaymentStatus]++
	}
	return counts, nil
}

func (m *Store) ListStaleJobs(_ context.Context, status domain.ProcessingStatus, before time.Time, limit int) ([]domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stale []domain.Job
	for _, job := range m.jobs {
		if job.Status == status && job.HeartbeatAt.Before(before) {
			stale = append(stale, job)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].HeartbeatAt.Before(stale[j].HeartbeatAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

type memTx struct {
	keys map[string]domain.Key
	jobs map[string]domain.Job
}

func (t *memTx) InsertKey(_ context.Context, key *domain.Key) error {
	if _, ok := t.keys[key.Token]; ok {
		return domain.ErrKeyExists
	}
	t.keys[key.Token] = *key
	return nil
}

func (t *memTx) LockKey(_ context.Context, token string) (*domain.Key, error) {
	key, ok := t.keys[token]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	return &key, nil
}

func (t *memTx) LockKeys(_ context.Context, tokens []string) ([]*domain.Key, error) {
	sorted := append([]string(nil), tokens...)
	sort.Strings(sorted)

	var keys []*domain.Key
	seen := make(map[string]bool, len(sorted))
	for _, token := range sorted {
		if seen[token] {
			continue
		}
		seen[token] = true
		if key, ok := t.keys[token]; ok {
			keys = append(keys, &key)
		}
	}
	return keys, nil
}

func (t *memTx) UpdateKey(_ context.Context, key *domain.Key) error {
	if _, ok := t.keys[key.Token]; !ok {
		return domain.ErrKeyNotFound
	}
	t.keys[key.Token] = *key
	return nil
}

func (t *memTx) InsertJob(_ context.Context, job *domain.Job) error {
	if _, ok := t.keys[job.KeyToken]; !ok {
		return domain.ErrKeyNotFound
	}
	t.jobs[job.JobID] = *job
	return nil
}

func (t *memTx) LockJob(_ context.Context, jobID string) (*domain.Job, error) {
	job, ok := t.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &job, nil
}

func (t *memTx) UpdateJob(_ context.Context, job *domain.Job) error {
	if _, ok := t.jobs[job.JobID]; !ok {
		return domain.ErrJobNotFound
	}
	t.jobs[job.JobID] = *job
	return nil
}

func (t *memTx) DeleteJob(_ context.Context, jobID string) error {
	if _, ok := t.jobs[jobID]; !ok {
		return domain.ErrJobNotFound
	}
	delete(t.jobs, jobID)
	return nil
}
