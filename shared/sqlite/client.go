package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Config holds SQLite connection configuration
type Config struct {
	Path        string // file path or ":memory:"
	BusyTimeout time.Duration
	// MaxOpenConns applies to file databases only; an in-memory database
	// always uses one connection. Zero means one.
	MaxOpenConns int
}

// Client represents a SQLite database client
type Client struct {
	db     *sqlx.DB
	config *Config
	logger *slog.Logger
}

// NewClient opens the database in WAL mode with foreign keys enforced.
// Transactions begin IMMEDIATE so writers serialize instead of failing
// with SQLITE_BUSY on lock upgrade.
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	busy := config.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=%d",
		config.Path, busy.Milliseconds())

	logger.Info("Opening SQLite database",
		slog.String("path", config.Path),
	)

	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		logger.Error("Failed to open SQLite database",
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// An in-memory database exists per connection. File databases may
	// read concurrently while IMMEDIATE transactions serialize writers.
	conns := config.MaxOpenConns
	if conns <= 0 || config.Path == ":memory:" || strings.Contains(config.Path, "mode=memory") {
		conns = 1
	}
	db.SetMaxOpenConns(conns)

	return &Client{
		db:     db,
		config: config,
		logger: logger,
	}, nil
}

// GetDB returns the underlying sqlx.DB instance
func (c *Client) GetDB() *sqlx.DB {
	return c.db
}

// Close closes the database connection
func (c *Client) Close() error {
	c.logger.Info("Closing SQLite database")
	return c.db.Close()
}

// HealthCheck performs a health check on the database
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var result int
	if err := c.db.GetContext(ctx, &result, "SELECT 1"); err != nil {
		return fmt.Errorf("database query health check failed: %w", err)
	}
	return nil
}
