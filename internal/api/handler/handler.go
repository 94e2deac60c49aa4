package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/pagekey/internal/filestore"
	"github.com/cuongbtq/pagekey/internal/ledger"
	"github.com/cuongbtq/pagekey/internal/query"
	"github.com/cuongbtq/pagekey/internal/runner"
)

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	ServiceName string
	Ledger      *ledger.Ledger
	Runner      *runner.Runner
	Query       *query.Service
	Files       *filestore.LocalStore
	Health      HealthChecker
}

// KeyHandler handles credit key HTTP requests
type KeyHandler struct {
	logger *slog.Logger
	ledger *ledger.Ledger
	query  *query.Service
}

// NewKeyHandler creates a new KeyHandler instance
func NewKeyHandler(deps *Dependencies) *KeyHandler {
	return &KeyHandler{
		logger: deps.Logger,
		ledger: deps.Ledger,
		query:  deps.Query,
	}
}

// JobHandler handles translation job HTTP requests
type JobHandler struct {
	logger *slog.Logger
	runner *runner.Runner
	query  *query.Service
	files  *filestore.LocalStore
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		runner: deps.Runner,
		query:  deps.Query,
		files:  deps.Files,
	}
}

// StatsHandler serves aggregate statistics and health
type StatsHandler struct {
	logger      *slog.Logger
	query       *query.Service
	health      HealthChecker
	serviceName string
}

// NewStatsHandler creates a new StatsHandler instance
func NewStatsHandler(deps *Dependencies) *StatsHandler {
	return &StatsHandler{
		logger:      deps.Logger,
		query:       deps.Query,
		health:      deps.Health,
		serviceName: deps.ServiceName,
	}
}
