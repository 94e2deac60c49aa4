package engine

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cuongbtq/pagekey/internal/domain"
)

// PDFInfoCounter counts pages with poppler's pdfinfo.
type PDFInfoCounter struct {
	Runner CommandRunner
	Path   string // pdfinfo binary
}

// PageCount returns the number of pages of the PDF at path. Unreadable
// documents yield domain.ErrInvalidDocument.
func (c *PDFInfoCounter) PageCount(ctx context.Context, path string) (int, error) {
	out, errb, err := c.Runner.Run(ctx, c.Path, path)
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("failed to count pages: %w", ctx.Err())
		}
		return 0, fmt.Errorf("%w: %s", domain.ErrInvalidDocument, firstLine(errb, err))
	}

	pages, ok := parsePages(out)
	if !ok || pages <= 0 {
		return 0, fmt.Errorf("%w: page count not reported", domain.ErrInvalidDocument)
	}
	return pages, nil
}

// parsePages reads the "Pages:" line of pdfinfo output.
func parsePages(out []byte) (int, bool) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		name, value, found := strings.Cut(sc.Text(), ":")
		if !found || strings.TrimSpace(name) != "Pages" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func firstLine(stderr []byte, err error) string {
	line, _, _ := strings.Cut(strings.TrimSpace(string(stderr)), "\n")
	if line == "" {
		return err.Error()
	}
	return line
}
