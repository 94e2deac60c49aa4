package storage

// schema is portable between PostgreSQL and SQLite: TIMESTAMP columns hold UTC
// times and booleans are written as bound parameters.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS credit_keys (
		token        VARCHAR(64) PRIMARY KEY,
		page_balance INTEGER NOT NULL CHECK (page_balance >= 0),
		used_count   INTEGER NOT NULL DEFAULT 0,
		max_uses     INTEGER NOT NULL DEFAULT 1,
		is_active    BOOLEAN NOT NULL,
		deactivated  BOOLEAN NOT NULL,
		created_at   TIMESTAMP NOT NULL,
		updated_at   TIMESTAMP NOT NULL,
		expires_at   TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_credit_keys_active_created
		ON credit_keys (is_active, created_at)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		job_id          VARCHAR(36) PRIMARY KEY,
		key_token       VARCHAR(64) NOT NULL REFERENCES credit_keys (token),
		filename        VARCHAR(255) NOT NULL,
		source_path     VARCHAR(512) NOT NULL,
		translated_path VARCHAR(512),
		total_pages     INTEGER NOT NULL CHECK (total_pages > 0),
		reserved_pages  INTEGER NOT NULL CHECK (reserved_pages > 0 AND reserved_pages <= total_pages),
		language        VARCHAR(16) NOT NULL,
		status          VARCHAR(16) NOT NULL,
		payment_status  VARCHAR(16) NOT NULL,
		error_detail    TEXT,
		compensated_at  TIMESTAMP,
		started_at      TIMESTAMP,
		finished_at     TIMESTAMP,
		heartbeat_at    TIMESTAMP NOT NULL,
		created_at      TIMESTAMP NOT NULL,
		updated_at      TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_key_created ON jobs (key_token, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status_heartbeat ON jobs (status, heartbeat_at)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_payment_status ON jobs (payment_status)`,
}
