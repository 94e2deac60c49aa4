package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cuongbtq/pagekey/internal/domain"
)

// TranslateRequest names the document, page range and language pair of one run.
type TranslateRequest struct {
	JobID      string
	SourcePath string
	Pages      int // translate pages 1..Pages
	Language   domain.LanguagePair
}

// PDF2ZHTranslator runs the pdf2zh CLI and returns the monolingual output.
type PDF2ZHTranslator struct {
	Runner    CommandRunner
	Path      string // pdf2zh binary
	Service   string // backend service, e.g. "openai"
	Threads   int
	OutputDir string
}

// Translate returns the path of the translated artifact. Every failure is
// reported as a *domain.EngineError.
func (t *PDF2ZHTranslator) Translate(ctx context.Context, req TranslateRequest) (string, error) {
	if req.Pages <= 0 {
		return "", domain.NewEngineError(fmt.Errorf("invalid page range 1-%d", req.Pages))
	}

	outDir := filepath.Join(t.OutputDir, req.JobID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", domain.NewEngineError(fmt.Errorf("failed to create output dir: %w", err))
	}

	args := []string{
		req.SourcePath,
		"-o", outDir,
		"-p", fmt.Sprintf("1-%d", req.Pages),
		"-li", req.Language.In(),
		"-lo", req.Language.Out(),
	}
	if t.Service != "" {
		args = append(args, "-s", t.Service)
	}
	if t.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(t.Threads))
	}

	_, errb, err := t.Runner.Run(ctx, t.Path, args...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &domain.EngineError{Detail: "translation timed out"}
		}
		return "", &domain.EngineError{Detail: firstLine(errb, err)}
	}

	stem := strings.TrimSuffix(filepath.Base(req.SourcePath), filepath.Ext(req.SourcePath))
	mono := filepath.Join(outDir, stem+"-mono.pdf")
	if _, err := os.Stat(mono); err != nil {
		return "", &domain.EngineError{Detail: "translator produced no output"}
	}
	return mono, nil
}
