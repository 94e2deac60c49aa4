// Package ledger is the only writer of credit key balances.
//
// Each operation runs in one storage transaction with the affected keys
// locked, so concurrent reservations against a key serialize and never
// observe a stale balance. Callers that need a balance change to commit
// together with other writes use the *Tx variants inside their own
// transaction.
package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/cuongbtq/pagekey/internal/domain"
	"github.com/cuongbtq/pagekey/internal/storage"
)

const (
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	defaultTokenLength = 32
	defaultMaxUses     = 1
	defaultTTL         = 30 * 24 * time.Hour

	// issueAttempts bounds retries on the astronomically unlikely token collision.
	issueAttempts = 3
)

// Ledger performs atomic debit, credit, merge and deactivate operations on keys.
type Ledger struct {
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time

	tokenLength    int
	defaultTTL     time.Duration
	defaultMaxUses int
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithTokenLength sets the length of issued tokens.
func WithTokenLength(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.tokenLength = n
		}
	}
}

// WithDefaultTTL sets the expiry applied when an issue request names none.
// Zero issues keys that never expire.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(l *Ledger) { l.defaultTTL = ttl }
}

// WithDefaultMaxUses sets maxUses for issue requests that leave it at zero.
func WithDefaultMaxUses(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.defaultMaxUses = n
		}
	}
}

// New creates a Ledger over store.
func New(store storage.Store, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:          store,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
		tokenLength:    defaultTokenLength,
		defaultTTL:     defaultTTL,
		defaultMaxUses: defaultMaxUses,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// IssueRequest describes a new key.
type IssueRequest struct {
	Pages     int `validate:"gt=0"`
	MaxUses   int `validate:"gte=0"`
	ExpiresAt *time.Time
}

// Issue creates a key with a fresh random token and the requested balance.
func (l *Ledger) Issue(ctx context.Context, req IssueRequest) (*domain.Key, error) {
	if err := domain.ValidateStruct(req); err != nil {
		return nil, err
	}

	now := l.now()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, domain.NewValidationError("expires_at", "must be in the future")
	}

	maxUses := req.MaxUses
	if maxUses == 0 {
		maxUses = l.defaultMaxUses
	}

	expiresAt := req.ExpiresAt
	if expiresAt == nil && l.defaultTTL > 0 {
		at := now.Add(l.defaultTTL)
		expiresAt = &at
	}

	for attempt := 1; attempt <= issueAttempts; attempt++ {
		token, err := l.newToken()
		if err != nil {
			return nil, err
		}

		key := &domain.Key{
			Token:       token,
			PageBalance: req.Pages,
			MaxUses:     maxUses,
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   expiresAt,
		}

		err = l.store.WithTx(ctx, func(tx storage.Tx) error {
			return tx.InsertKey(ctx, key)
		})
		if errors.Is(err, domain.ErrKeyExists) {
			l.logger.Warn("Issued token collided, retrying",
				slog.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to issue key: %w", err)
		}

		l.logger.Info("Key issued",
			slog.String("key", mask(token)),
			slog.Int("pages", req.Pages),
			slog.Int("max_uses", maxUses),
		)
		return key, nil
	}
	return nil, fmt.Errorf("failed to issue key: %w", domain.ErrKeyExists)
}

// Reservation is the outcome of a successful reserve.
type Reservation struct {
	Token   string
	Pages   int
	Balance int
}

// Reserve debits pages from the key in its own transaction.
func (l *Ledger) Reserve(ctx context.Context, token string, pages int) (*Reservation, error) {
	var res *Reservation
	err := l.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		res, err = l.ReserveTx(ctx, tx, token, pages)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ReserveTx debits pages from the key inside tx. The key row is locked
// until tx ends.
func (l *Ledger) ReserveTx(ctx context.Context, tx storage.Tx, token string, pages int) (*Reservation, error) {
	if pages <= 0 {
		return nil, domain.NewValidationError("pages", "must be positive, got %d", pages)
	}

	key, err := tx.LockKey(ctx, token)
	if err != nil {
		return nil, err
	}

	if err := key.Debit(pages, l.now()); err != nil {
		return nil, err
	}

	if err := tx.UpdateKey(ctx, key); err != nil {
		return nil, err
	}

	l.logger.Debug("Pages reserved",
		slog.String("key", mask(token)),
		slog.Int("pages", pages),
		slog.Int("balance", key.PageBalance),
	)
	return &Reservation{Token: token, Pages: pages, Balance: key.PageBalance}, nil
}

// Compensate credits pages back to the key in its own transaction.
func (l *Ledger) Compensate(ctx context.Context, token string, pages int) error {
	return l.store.WithTx(ctx, func(tx storage.Tx) error {
		return l.CompensateTx(ctx, tx, token, pages)
	})
}

// CompensateTx credits pages back to the key inside tx. It must run at most
// once per reservation; callers track that on the job.
func (l *Ledger) CompensateTx(ctx context.Context, tx storage.Tx, token string, pages int) error {
	key, err := tx.LockKey(ctx, token)
	if err != nil {
		return err
	}

	if err := key.Credit(pages, l.now()); err != nil {
		return err
	}

	if err := tx.UpdateKey(ctx, key); err != nil {
		return err
	}

	l.logger.Info("Pages compensated",
		slog.String("key", mask(token)),
		slog.Int("pages", pages),
		slog.Int("balance", key.PageBalance),
	)
	return nil
}

// MergeRequest names the key that absorbs the balances of Sources.
type MergeRequest struct {
	Target  string   `validate:"required"`
	Sources []string `validate:"min=1,dive,required"`
}

// MergeResult reports the target's balance after a merge.
type MergeResult struct {
	TargetToken  string
	PageBalance  int
	MergedTokens []string
	MergedPages  int
}

// Merge moves the balances of all sources into the target and deactivates
// the sources. Either every source is merged or nothing changes.
func (l *Ledger) Merge(ctx context.Context, req MergeRequest) (*MergeResult, error) {
	if err := domain.ValidateStruct(req); err != nil {
		return nil, err
	}

	sources := distinctSources(req.Target, req.Sources)
	if len(sources) == 0 {
		return nil, domain.NewValidationError("sources", "must name at least one key other than the target")
	}

	var result *MergeResult
	err := l.store.WithTx(ctx, func(tx storage.Tx) error {
		now := l.now()

		// Lock every key in one ordered statement so concurrent merges
		// sharing keys cannot deadlock.
		locked, err := tx.LockKeys(ctx, append([]string{req.Target}, sources...))
		if err != nil {
			return err
		}

		byToken := make(map[string]*domain.Key, len(locked))
		for _, key := range locked {
			byToken[key.Token] = key
		}

		target, ok := byToken[req.Target]
		if !ok {
			return domain.ErrKeyNotFound
		}
		if err := target.Usable(now); err != nil {
			return err
		}

		for _, token := range sources {
			src, ok := byToken[token]
			if !ok || src.Usable(now) != nil {
				return fmt.Errorf("%w: %s", domain.ErrPartialKeySet, mask(token))
			}
		}

		moved := 0
		for _, token := range sources {
			src := byToken[token]
			moved += target.Absorb(src, now)
			if err := tx.UpdateKey(ctx, src); err != nil {
				return err
			}
		}

		if err := tx.UpdateKey(ctx, target); err != nil {
			return err
		}

		result = &MergeResult{
			TargetToken:  target.Token,
			PageBalance:  target.PageBalance,
			MergedTokens: sources,
			MergedPages:  moved,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("Keys merged",
		slog.String("target", mask(result.TargetToken)),
		slog.Int("sources", len(result.MergedTokens)),
		slog.Int("merged_pages", result.MergedPages),
		slog.Int("balance", result.PageBalance),
	)
	return result, nil
}

// Deactivate explicitly deactivates a key. Deactivating twice is a no-op.
func (l *Ledger) Deactivate(ctx context.Context, token string) (*domain.Key, error) {
	var key *domain.Key
	err := l.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		key, err = tx.LockKey(ctx, token)
		if err != nil {
			return err
		}
		if key.Deactivated {
			return nil
		}
		key.Deactivate(l.now())
		return tx.UpdateKey(ctx, key)
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("Key deactivated",
		slog.String("key", mask(token)),
	)
	return key, nil
}

func (l *Ledger) newToken() (string, error) {
	max := big.NewInt(int64(len(tokenAlphabet)))
	buf := make([]byte, l.tokenLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate token: %w", err)
		}
		buf[i] = tokenAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// distinctSources drops the target and duplicates, keeping request order.
func distinctSources(target string, sources []string) []string {
	seen := map[string]bool{target: true}
	out := make([]string, 0, len(sources))
	for _, token := range sources {
		if seen[token] {
			continue
		}
		seen[token] = true
		out = append(out, token)
	}
	return out
}

// mask keeps tokens out of logs in full.
func mask(token string) string {
	if len(token) <= 6 {
		return "***"
	}
	return token[:6] + "***"
}
