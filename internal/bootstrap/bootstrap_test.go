package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunBackground(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
		wantLog bool
	}{
		{name: "clean stop"},
		{name: "canceled", err: fmt.Errorf("sweep: %w", context.Canceled)},
		{name: "failure", err: errors.New("store unavailable"), wantErr: true, wantLog: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := slog.New(slog.NewJSONHandler(&buf, nil))

			err := RunBackground(context.Background(), "orphan-sweeper", func(context.Context) error {
				return tt.err
			}, log)

			if tt.wantErr {
				assert.ErrorIs(t, err, tt.err)
			} else {
				assert.NoError(t, err)
			}
			if tt.wantLog {
				assert.Contains(t, buf.String(), `"task":"orphan-sweeper"`)
				assert.Contains(t, buf.String(), "store unavailable")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}
