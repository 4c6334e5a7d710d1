package handlers

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iudanet/offsync/internal/server/storage"
	"github.com/iudanet/offsync/internal/server/storage/sqlite"
	"github.com/iudanet/offsync/pkg/api"
)

// setupTestLogger creates a logger for testing
func setupTestLogger() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors in tests
	}
	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler)
}

func setupTestStorage(t *testing.T) *sqlite.Storage {
	t.Helper()
	s, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// failingStorage хранилище, все операции которого завершаются ошибкой
type failingStorage struct {
	err error
}

func (f *failingStorage) ApplyChanges(context.Context, string, []api.Change) (*storage.BatchResult, error) {
	return nil, f.err
}

func (f *failingStorage) ChangesSince(context.Context, string, string, int64, int) ([]storage.StoredChange, error) {
	return nil, f.err
}

func (f *failingStorage) GetEntity(context.Context, string, string, string) (*storage.Entity, error) {
	return nil, f.err
}

func (f *failingStorage) Ping(context.Context) error {
	return f.err
}
