// Package query serves read-only views over keys and jobs. Reads take no
// locks; results reflect committed state at read time.
package query

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/pagekey/internal/domain"
	"github.com/cuongbtq/pagekey/internal/storage"
)

// Config bounds pagination.
type Config struct {
	DefaultPageSize int
	MaxPageSize     int
}

// Service implements listing, lookup and statistics.
type Service struct {
	reader storage.Reader
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a query service over reader.
func NewService(reader storage.Reader, cfg Config, logger *slog.Logger) *Service {
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 100
	}
	if cfg.DefaultPageSize <= 0 || cfg.DefaultPageSize > cfg.MaxPageSize {
		cfg.DefaultPageSize = min(20, cfg.MaxPageSize)
	}
	return &Service{
		reader: reader,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// KeyInfo is a key with its consumption summary.
type KeyInfo struct {
	Key           *domain.Key
	Active        bool
	ConsumedPages int
	TotalPages    int
}

// Page is a 1-based page request. Zero values select the defaults.
type Page struct {
	Page int `validate:"gte=0"`
	Size int `validate:"gte=0"`
}

// PageResult carries one page of items and the total number of matches.
type PageResult[T any] struct {
	Items []T
	Total int
	Page  int
	Size  int
}

// GetKey returns a key with the pages consumed by its completed jobs.
func (s *Service) GetKey(ctx context.Context, token string) (*KeyInfo, error) {
	key, err := s.reader.GetKey(ctx, token)
	if err != nil {
		return nil, err
	}

	consumed, err := s.reader.ConsumedPages(ctx, token)
	if err != nil {
		return nil, err
	}

	return &KeyInfo{
		Key:           key,
		Active:        key.Active(s.now()),
		ConsumedPages: consumed,
		TotalPages:    key.PageBalance + consumed,
	}, nil
}

// ListKeys returns keys newest first, optionally filtered by effective activity.
func (s *Service) ListKeys(ctx context.Context, page Page, active *bool) (*PageResult[domain.Key], error) {
	p, size, err := s.resolve(page)
	if err != nil {
		return nil, err
	}

	keys, total, err := s.reader.ListKeys(ctx, storage.KeyFilter{
		Active: active,
		Now:    s.now(),
		Offset: (p - 1) * size,
		Limit:  size,
	})
	if err != nil {
		return nil, err
	}
	return &PageResult[domain.Key]{Items: keys, Total: total, Page: p, Size: size}, nil
}

// GetJob returns a job by id.
func (s *Service) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.reader.GetJob(ctx, jobID)
}

// JobQuery filters job listings. Empty strings do not filter.
type JobQuery struct {
	Page
	KeyToken      string
	Status        string
	PaymentStatus string
}

// ListJobs returns jobs newest first.
func (s *Service) ListJobs(ctx context.Context, q JobQuery) (*PageResult[domain.Job], error) {
	p, size, err := s.resolve(q.Page)
	if err != nil {
		return nil, err
	}

	filter := storage.JobFilter{
		KeyToken: q.KeyToken,
		Offset:   (p - 1) * size,
		Limit:    size,
	}
	if q.Status != "" {
		if filter.Status, err = domain.ParseProcessingStatus(q.Status); err != nil {
			return nil, err
		}
	}
	if q.PaymentStatus != "" {
		if filter.PaymentStatus, err = domain.ParsePaymentStatus(q.PaymentStatus); err != nil {
			return nil, err
		}
	}

	jobs, total, err := s.reader.ListJobs(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &PageResult[domain.Job]{Items: jobs, Total: total, Page: p, Size: size}, nil
}

// Statistics summarizes jobs and keys.
type Statistics struct {
	ProcessingCounts map[domain.ProcessingStatus]int
	PaymentCounts    map[domain.PaymentStatus]int
	TotalJobs        int
	ActiveKeys       int
	InactiveKeys     int
}

// Statistics counts jobs per status and keys per activity. The counts are
// read independently and may straddle a concurrent write.
func (s *Service) Statistics(ctx context.Context) (*Statistics, error) {
	processing, err := s.reader.CountJobsByStatus(ctx)
	if err != nil {
		return nil, err
	}

	payment, err := s.reader.CountJobsByPayment(ctx)
	if err != nil {
		return nil, err
	}

	keys, err := s.reader.CountKeys(ctx, s.now())
	if err != nil {
		return nil, err
	}

	total := 0
	for _, n := range processing {
		total += n
	}

	return &Statistics{
		ProcessingCounts: processing,
		PaymentCounts:    payment,
		TotalJobs:        total,
		ActiveKeys:       keys.Active,
		InactiveKeys:     keys.Inactive,
	}, nil
}

// resolve applies defaults and caps. Zero selects the default; negative
// values are rejected.
func (s *Service) resolve(page Page) (int, int, error) {
	if err := domain.ValidateStruct(page); err != nil {
		return 0, 0, err
	}

	p := page.Page
	if p == 0 {
		p = 1
	}

	size := page.Size
	switch {
	case size == 0:
		size = s.cfg.DefaultPageSize
	case size > s.cfg.MaxPageSize:
		s.logger.Debug("Page size capped",
			slog.Int("requested", size),
			slog.Int("max", s.cfg.MaxPageSize),
		)
		size = s.cfg.MaxPageSize
	}
	return p, size, nil
}
