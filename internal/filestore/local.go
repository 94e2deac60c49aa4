// Package filestore keeps uploaded and translated artifacts on local disk.
package filestore

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrTooLarge is returned when an upload exceeds the configured size limit.
var ErrTooLarge = errors.New("file exceeds size limit")

// LocalStore saves files under a root directory.
type LocalStore struct {
	root     string
	maxBytes int64
	logger   *slog.Logger
	now      func() time.Time
}

// NewLocalStore creates root if needed. maxBytes <= 0 disables the size limit.
func NewLocalStore(root string, maxBytes int64, logger *slog.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &LocalStore{
		root:     root,
		maxBytes: maxBytes,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Save writes r to a new file named after filename and returns its path.
// Names are prefixed with a timestamp and a uuid so uploads never collide.
func (s *LocalStore) Save(filename string, r io.Reader) (string, error) {
	name := fmt.Sprintf("%s_%s_%s",
		s.now().UTC().Format("20060102150405"),
		uuid.NewString()[:8],
		sanitize(filename),
	)
	path := filepath.Join(s.root, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}

	written, copyErr := io.Copy(f, src)
	closeErr := f.Close()

	switch {
	case copyErr != nil:
		s.Delete(path)
		return "", fmt.Errorf("failed to write file: %w", copyErr)
	case closeErr != nil:
		s.Delete(path)
		return "", fmt.Errorf("failed to close file: %w", closeErr)
	case s.maxBytes > 0 && written > s.maxBytes:
		s.Delete(path)
		return "", ErrTooLarge
	}

	s.logger.Debug("File saved",
		slog.String("path", path),
		slog.Int64("bytes", written),
	)
	return path, nil
}

// Delete removes the file at path. Failures are logged, never returned:
// artifact cleanup is best effort.
func (s *LocalStore) Delete(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("Failed to delete file",
			slog.String("path", path),
			slog.Any("error", err),
		)
	}
}

// Exists reports whether a regular file exists at path.
func (s *LocalStore) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// sanitize keeps the base name and replaces characters that are unsafe in paths.
func sanitize(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == ".." {
		return "upload.pdf"
	}
	return base
}
