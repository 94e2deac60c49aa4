// Package runner drives jobs through their processing state machine.
//
// The runner is the only caller of the ledger's reserve and compensate
// operations for a job. A reservation is taken in the same transaction that
// creates the job, and it is released in the same transaction that moves the
// job to failed. The job row is locked while its terminal status is decided,
// so a reservation is compensated at most once no matter how many actors
// (the executing worker, the orphan sweeper) race to fail the job.
package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/pagekey/internal/engine"
	"github.com/cuongbtq/pagekey/internal/ledger"
	"github.com/cuongbtq/pagekey/internal/storage"
)

// PageCounter reports how many pages a document has.
type PageCounter interface {
	PageCount(ctx context.Context, path string) (int, error)
}

// Translator runs the translation engine and returns the artifact path.
type Translator interface {
	Translate(ctx context.Context, req engine.TranslateRequest) (string, error)
}

// Dispatcher hands a pending job to whatever executes it asynchronously.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// ArtifactStore removes files the runner no longer needs.
type ArtifactStore interface {
	Delete(path string)
}

// Config holds execution limits.
type Config struct {
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
	// FinalizeTimeout bounds the transaction that records a job's outcome.
	// It runs detached from the execution context so shutdown cannot strand
	// a job in processing.
	FinalizeTimeout time.Duration
}

// Dependencies are the collaborators of a Runner.
type Dependencies struct {
	Store      storage.Store
	Ledger     *ledger.Ledger
	Counter    PageCounter
	Translator Translator
	Dispatcher Dispatcher
	Files      ArtifactStore
}

// Runner implements job admission, execution and administrative updates.
type Runner struct {
	store      storage.Store
	ledger     *ledger.Ledger
	counter    PageCounter
	translator Translator
	dispatcher Dispatcher
	files      ArtifactStore

	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Runner. Zero durations in cfg fall back to defaults.
func New(deps Dependencies, cfg Config, logger *slog.Logger) *Runner {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Minute
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = 10 * time.Second
	}
	return &Runner{
		store:      deps.Store,
		ledger:     deps.Ledger,
		counter:    deps.Counter,
		translator: deps.Translator,
		dispatcher: deps.Dispatcher,
		files:      deps.Files,
		cfg:        cfg,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetDispatcher replaces the dispatcher. The in-process queue executes jobs
// through the runner, so it can only be attached after both exist.
func (r *Runner) SetDispatcher(d Dispatcher) {
	r.dispatcher = d
}

// finalizeContext detaches from ctx so an outcome is recorded even while the
// caller is shutting down.
func (r *Runner) finalizeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.cfg.FinalizeTimeout)
}

func (r *Runner) deleteFile(path string) {
	if r.files != nil && path != "" {
		r.files.Delete(path)
	}
}
