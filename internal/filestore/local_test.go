package filestore

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, maxBytes int64) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir(), maxBytes, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return store
}

func TestLocalStore_SaveAndDelete(t *testing.T) {
	store := newTestStore(t, 0)

	path, err := store.Save("report.pdf", strings.NewReader("%PDF-1.7"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, "_report.pdf"))
	assert.True(t, store.Exists(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))

	store.Delete(path)
	assert.False(t, store.Exists(path))

	// deleting again is harmless
	store.Delete(path)
}

func TestLocalStore_SizeLimit(t *testing.T) {
	store := newTestStore(t, 4)

	_, err := store.Save("big.pdf", strings.NewReader("0123456789"))
	require.ErrorIs(t, err, ErrTooLarge)

	entries, err := os.ReadDir(store.root)
	require.NoError(t, err)
	assert.Empty(t, entries, "oversized upload must not be left behind")

	_, err = store.Save("ok.pdf", strings.NewReader("0123"))
	assert.NoError(t, err)
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "paper.pdf", want: "paper.pdf"},
		{in: "../../etc/passwd.pdf", want: "passwd.pdf"},
		{in: `C:\docs\my file.pdf`, want: "my_file.pdf"},
		{in: "论文.pdf", want: "__.pdf"},
		{in: "..", want: "upload.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitize(tt.in))
			assert.Equal(t, tt.want, filepath.Base(sanitize(tt.in)))
		})
	}
}
