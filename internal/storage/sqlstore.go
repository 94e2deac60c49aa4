package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cuongbtq/pagekey/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// pgUniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

const keyColumns = `token, page_balance, used_count, max_uses, is_active, deactivated,
	created_at, updated_at, expires_at`

const jobColumns = `job_id, key_token, filename, source_path, translated_path, total_pages,
	reserved_pages, language, status, payment_status, error_detail, compensated_at,
	started_at, finished_at, heartbeat_at, created_at, updated_at`

// SQLStore implements Store on top of sqlx. It serves both the "postgres"
// (lib/pq) and "sqlite3" (mattn/go-sqlite3) drivers; queries are written with
// ? placeholders and rebound for the driver.
type SQLStore struct {
	db         *sqlx.DB
	logger     *slog.Logger
	lockSuffix string
}

// NewSQLStore creates a store over an open database handle.
func NewSQLStore(db *sqlx.DB, logger *slog.Logger) *SQLStore {
	s := &SQLStore{
		db:     db,
		logger: logger,
	}
	// SQLite has no row locks; its transactions are opened IMMEDIATE instead.
	if db.DriverName() == "postgres" {
		s.lockSuffix = " FOR UPDATE"
	}
	return s
}

// Migrate creates the schema if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	s.logger.Info("Database schema migrated",
		slog.String("driver", s.db.DriverName()),
	)
	return nil
}

// Ping checks the database connection
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database handle
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// WithTx runs fn in a database transaction, rolling back on error or panic.
func (s *SQLStore) WithTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Error("Failed to roll back transaction",
					slog.Any("error", rbErr),
				)
			}
			return
		}
		if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", commitErr)
		}
	}()

	return fn(&sqlTx{tx: tx, lockSuffix: s.lockSuffix})
}

// TouchJob updates the heartbeat timestamp of a processing job
func (s *SQLStore) TouchJob(ctx context.Context, jobID string, at time.Time) error {
	query := s.db.Rebind(`
		UPDATE jobs
		SET heartbeat_at = ?, updated_at = ?
		WHERE job_id = ? AND status = ?
	`)

	result, err := s.db.ExecContext(ctx, query, at, at, jobID, domain.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to update job heartbeat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Job heartbeat update - no rows affected (job may not be processing)",
			slog.String("job_id", jobID),
		)
	}
	return nil
}

// GetKey returns a key without locking it
func (s *SQLStore) GetKey(ctx context.Context, token string) (*domain.Key, error) {
	var key domain.Key
	query := s.db.Rebind(`SELECT ` + keyColumns + ` FROM credit_keys WHERE token = ?`)
	if err := s.db.GetContext(ctx, &key, query, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	return &key, nil
}

// ListKeys returns one page of keys, newest first, and the total matching count
func (s *SQLStore) ListKeys(ctx context.Context, filter KeyFilter) ([]domain.Key, int, error) {
	where := ""
	args := []interface{}{}
	if filter.Active != nil {
		where = " WHERE is_active = ? AND (expires_at IS NULL OR expires_at > ?)"
		if !*filter.Active {
			where = " WHERE NOT (is_active = ? AND (expires_at IS NULL OR expires_at > ?))"
		}
		args = append(args, true, filter.Now)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, s.db.Rebind(`SELECT COUNT(*) FROM credit_keys`+where), args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count keys: %w", err)
	}

	query := `SELECT ` + keyColumns + ` FROM credit_keys` + where +
		` ORDER BY created_at DESC, token DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	keys := []domain.Key{}
	if err := s.db.SelectContext(ctx, &keys, s.db.Rebind(query), args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list keys: %w", err)
	}
	return keys, total, nil
}

// CountKeys splits all keys by effective activity at now
func (s *SQLStore) CountKeys(ctx context.Context, now time.Time) (KeyCounts, error) {
	var total, active int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM credit_keys`); err != nil {
		return KeyCounts{}, fmt.Errorf("failed to count keys: %w", err)
	}

	query := s.db.Rebind(`SELECT COUNT(*) FROM credit_keys
		WHERE is_active = ? AND (expires_at IS NULL OR expires_at > ?)`)
	if err := s.db.GetContext(ctx, &active, query, true, now); err != nil {
		return KeyCounts{}, fmt.Errorf("failed to count active keys: %w", err)
	}
	return KeyCounts{Active: active, Inactive: total - active}, nil
}

// ConsumedPages sums the reservations of completed jobs for a key
func (s *SQLStore) ConsumedPages(ctx context.Context, token string) (int, error) {
	var pages int
	query := s.db.Rebind(`SELECT COALESCE(SUM(reserved_pages), 0) FROM jobs WHERE key_token = ? AND status = ?`)
	if err := s.db.GetContext(ctx, &pages, query, token, domain.StatusCompleted); err != nil {
		return 0, fmt.Errorf("failed to sum consumed pages: %w", err)
	}
	return pages, nil
}

// GetJob returns a job without locking it
func (s *SQLStore) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE job_id = ?`)
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// ListJobs returns one page of jobs, newest first, and the total matching count
func (s *SQLStore) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}

	// Filters
	if filter.KeyToken != "" {
		where += ` AND key_token = ?`
		args = append(args, filter.KeyToken)
	}

	if filter.Status != "" {
		where += ` AND status = ?`
		args = append(args, filter.Status)
	}

	if filter.PaymentStatus != "" {
		where += ` AND payment_status = ?`
		args = append(args, filter.PaymentStatus)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, s.db.Rebind(`SELECT COUNT(*) FROM jobs`+where), args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	// Order by created_at DESC, job_id DESC for consistent pagination
	query := `SELECT ` + jobColumns + ` FROM jobs` + where +
		` ORDER BY created_at DESC, job_id DESC LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	jobs := []domain.Job{}
	if err := s.db.SelectContext(ctx, &jobs, s.db.Rebind(query), args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, total, nil
}

type labelCount struct {
	Label string `db:"label"`
	Total int    `db:"total"`
}

// CountJobsByStatus counts jobs per processing status
func (s *SQLStore) CountJobsByStatus(ctx context.Context) (map[domain.ProcessingStatus]int, error) {
	var rows []labelCount
	if err := s.db.SelectContext(ctx, &rows, `SELECT status AS label, COUNT(*) AS total FROM jobs GROUP BY status`); err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}

	counts := make(map[domain.ProcessingStatus]int, len(domain.ProcessingStatuses))
	for _, st := range domain.ProcessingStatuses {
		counts[st] = 0
	}
	for _, row := range rows {
		counts[domain.ProcessingStatus(row.Label)] = row.Total
	}
	return counts, nil
}

// CountJobsByPayment counts jobs per payment status
func (s *SQLStore) CountJobsByPayment(ctx context.Context) (map[domain.PaymentStatus]int, error) {
	var rows []labelCount
	if err := s.db.SelectContext(ctx, &rows, `SELECT payment_status AS label, COUNT(*) AS total FROM jobs GROUP BY payment_status`); err != nil {
		return nil, fmt.Errorf("failed to count jobs by payment status: %w", err)
	}

	counts := make(map[domain.PaymentStatus]int, len(domain.PaymentStatuses))
	for _, st := range domain.PaymentStatuses {
		counts[st] = 0
	}
	for _, row := range rows {
		counts[domain.PaymentStatus(row.Label)] = row.Total
	}
	return counts, nil
}

// ListStaleJobs returns jobs in status whose heartbeat is older than before
func (s *SQLStore) ListStaleJobs(ctx context.Context, status domain.ProcessingStatus, before time.Time, limit int) ([]domain.Job, error) {
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM jobs
		WHERE status = ? AND heartbeat_at < ?
		ORDER BY heartbeat_at ASC
		LIMIT ?`)

	jobs := []domain.Job{}
	if err := s.db.SelectContext(ctx, &jobs, query, status, before, limit); err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}
	return jobs, nil
}

// sqlTx implements Tx on an open sqlx transaction.
type sqlTx struct {
	tx         *sqlx.Tx
	lockSuffix string
}

func (t *sqlTx) InsertKey(ctx context.Context, key *domain.Key) error {
	query := `
		INSERT INTO credit_keys (` + keyColumns + `)
		VALUES (
			:token, :page_balance, :used_count, :max_uses, :is_active, :deactivated,
			:created_at, :updated_at, :expires_at
		)
	`
	if _, err := t.tx.NamedExecContext(ctx, query, key); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrKeyExists
		}
		return fmt.Errorf("failed to insert key: %w", err)
	}
	return nil
}

func (t *sqlTx) LockKey(ctx context.Context, token string) (*domain.Key, error) {
	var key domain.Key
	query := t.tx.Rebind(`SELECT ` + keyColumns + ` FROM credit_keys WHERE token = ?` + t.lockSuffix)
	if err := t.tx.GetContext(ctx, &key, query, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to lock key: %w", err)
	}
	return &key, nil
}

func (t *sqlTx) LockKeys(ctx context.Context, tokens []string) ([]*domain.Key, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	// Lock in a stable order so concurrent merges cannot deadlock.
	sorted := append([]string(nil), tokens...)
	sort.Strings(sorted)

	query, args, err := sqlx.In(`SELECT `+keyColumns+` FROM credit_keys WHERE token IN (?) ORDER BY token`+t.lockSuffix, sorted)
	if err != nil {
		return nil, fmt.Errorf("failed to build key lock query: %w", err)
	}

	var keys []*domain.Key
	if err := t.tx.SelectContext(ctx, &keys, t.tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to lock keys: %w", err)
	}
	return keys, nil
}

func (t *sqlTx) UpdateKey(ctx context.Context, key *domain.Key) error {
	query := `
		UPDATE credit_keys
		SET page_balance = :page_balance,
		    used_count = :used_count,
		    is_active = :is_active,
		    deactivated = :deactivated,
		    updated_at = :updated_at
		WHERE token = :token
	`
	result, err := t.tx.NamedExecContext(ctx, query, key)
	if err != nil {
		return fmt.Errorf("failed to update key: %w", err)
	}
	return requireRow(result, domain.ErrKeyNotFound)
}

func (t *sqlTx) InsertJob(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES (
			:job_id, :key_token, :filename, :source_path, :translated_path, :total_pages,
			:reserved_pages, :language, :status, :payment_status, :error_detail, :compensated_at,
			:started_at, :finished_at, :heartbeat_at, :created_at, :updated_at
		)
	`
	if _, err := t.tx.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (t *sqlTx) LockJob(ctx context.Context, jobID string) (*domain.Job, error) {
	var job domain.Job
	query := t.tx.Rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE job_id = ?` + t.lockSuffix)
	if err := t.tx.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to lock job: %w", err)
	}
	return &job, nil
}

func (t *sqlTx) UpdateJob(ctx context.Context, job *domain.Job) error {
	query := `
		UPDATE jobs
		SET translated_path = :translated_path,
		    status = :status,
		    payment_status = :payment_status,
		    error_detail = :error_detail,
		    compensated_at = :compensated_at,
		    started_at = :started_at,
		    finished_at = :finished_at,
		    heartbeat_at = :heartbeat_at,
		    updated_at = :updated_at
		WHERE job_id = :job_id
	`
	result, err := t.tx.NamedExecContext(ctx, query, job)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return requireRow(result, domain.ErrJobNotFound)
}

func (t *sqlTx) DeleteJob(ctx context.Context, jobID string) error {
	result, err := t.tx.ExecContext(ctx, t.tx.Rebind(`DELETE FROM jobs WHERE job_id = ?`), jobID)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return requireRow(result, domain.ErrJobNotFound)
}

// isUniqueViolation reports a primary key or unique constraint failure on
// either driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func requireRow(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}
