// Package storage defines persistence for credit keys and jobs.
//
// Every mutation of a key balance goes through Store.WithTx, and inside the
// transaction rows are read with the Lock* methods. On PostgreSQL these are
// SELECT ... FOR UPDATE; on SQLite transactions begin IMMEDIATE so writers are
// serialized. Either way two reservations against one key never observe the
// same balance.
package storage

import (
	"context"
	"time"

	"github.com/cuongbtq/pagekey/internal/domain"
)

// Store is the persistence contract used by the ledger, runner and query services.
type Store interface {
	Reader

	// WithTx runs fn inside one transaction. fn returning an error rolls back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// TouchJob refreshes the heartbeat of a processing job.
	TouchJob(ctx context.Context, jobID string, at time.Time) error

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Tx is the set of writes available inside a transaction.
type Tx interface {
	InsertKey(ctx context.Context, key *domain.Key) error
	// LockKey returns domain.ErrKeyNotFound when the token is unknown.
	LockKey(ctx context.Context, token string) (*domain.Key, error)
	// LockKeys returns the keys that exist among tokens, locked in token order.
	LockKeys(ctx context.Context, tokens []string) ([]*domain.Key, error)
	UpdateKey(ctx context.Context, key *domain.Key) error

	InsertJob(ctx context.Context, job *domain.Job) error
	// LockJob returns domain.ErrJobNotFound when the id is unknown.
	LockJob(ctx context.Context, jobID string) (*domain.Job, error)
	UpdateJob(ctx context.Context, job *domain.Job) error
	DeleteJob(ctx context.Context, jobID string) error
}

// Reader holds the lock-free queries. Results reflect committed state at read time.
type Reader interface {
	GetKey(ctx context.Context, token string) (*domain.Key, error)
	ListKeys(ctx context.Context, filter KeyFilter) ([]domain.Key, int, error)
	CountKeys(ctx context.Context, now time.Time) (KeyCounts, error)
	ConsumedPages(ctx context.Context, token string) (int, error)

	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, int, error)
	CountJobsByStatus(ctx context.Context) (map[domain.ProcessingStatus]int, error)
	CountJobsByPayment(ctx context.Context) (map[domain.PaymentStatus]int, error)

	// ListStaleJobs returns jobs in status whose heartbeat is older than before.
	ListStaleJobs(ctx context.Context, status domain.ProcessingStatus, before time.Time, limit int) ([]domain.Job, error)
}

// KeyFilter selects keys for listing. Active compares against effective
// activity at Now, expiry included.
type KeyFilter struct {
	Active *bool
	Now    time.Time
	Offset int
	Limit  int
}

// JobFilter selects jobs for listing. Empty fields do not filter.
type JobFilter struct {
	KeyToken      string
	Status        domain.ProcessingStatus
	PaymentStatus domain.PaymentStatus
	Offset        int
	Limit         int
}

// KeyCounts splits keys by effective activity.
type KeyCounts struct {
	Active   int
	Inactive int
}
