package boltdb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/iudanet/offsync/internal/client/storage"
	"github.com/iudanet/offsync/internal/models"
)

var allBuckets = [][]byte{bucketChanges, bucketChangeIndex, bucketUnsynced, bucketConflicts, bucketMetadata, bucketEntities}

// createTestStorage создает временное BoltDB хранилище с управляемыми часами
func createTestStorage(t *testing.T) *Storage {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "offsync_test.db")
	store, err := New(context.Background(), dbPath)
	require.NoError(t, err)
	require.NotNil(t, store)

	store.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return store
}

func TestNew_Success(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "testdb.db")

	ctx := context.Background()
	store, err := New(ctx, dbPath)
	require.NoError(t, err)
	require.NotNil(t, store)
	defer func() {
		require.NoError(t, store.Close())
	}()

	// Проверяем что файл БД действительно создан
	info, err := os.Stat(dbPath)
	require.NoError(t, err)
	assert.False(t, info.IsDir())

	// Проверяем, что бакеты существуют
	err = store.db.View(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if tx.Bucket(b) == nil {
				return os.ErrNotExist
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestNew_InvalidPath(t *testing.T) {
	ctx := context.Background()
	// Каталог, которого не существует
	store, err := New(ctx, filepath.Join(t.TempDir(), "missing", "dir", "db"))
	assert.Error(t, err)
	assert.Nil(t, store)
}

func TestClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "testdb.db")

	ctx := context.Background()
	store, err := New(ctx, dbPath)
	require.NoError(t, err)

	// Закрываем БД
	require.NoError(t, store.Close())
	assert.Nil(t, store.db)

	// Второй вызов Close не должен падать
	assert.NoError(t, store.Close())

	// После закрытия транзакции недоступны
	err = store.View(ctx, func(tx storage.Tx) error { return nil })
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestInitBuckets_CreatesBuckets(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "testdb.db")

	// Открываем БД вручную без создания бакетов
	db, err := bbolt.Open(dbPath, 0600, nil)
	require.NoError(t, err)
	defer db.Close()

	store := &Storage{db: db, now: time.Now}

	err = store.initBuckets()
	assert.NoError(t, err)

	err = db.View(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if tx.Bucket(b) == nil {
				return os.ErrNotExist
			}
		}
		return nil
	})
	assert.NoError(t, err)
}

func TestUpdate_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	change := newTestChange(t, "evt-1", 1)
	boom := errors.New("boom")

	// Запись сущности и изменения в одной транзакции, которая падает
	err := store.Update(ctx, func(tx storage.Tx) error {
		require.NoError(t, tx.PutEntity(models.EntityTypeEvent, "evt-1", change.Payload))
		require.NoError(t, tx.AppendChange(change))
		require.NoError(t, tx.SaveClock(10))
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Ничего не должно сохраниться
	err = store.View(ctx, func(tx storage.Tx) error {
		_, err := tx.GetEntity(models.EntityTypeEvent, "evt-1")
		assert.ErrorIs(t, err, storage.ErrEntityNotFound)

		_, err = tx.GetChange(change.ID)
		assert.ErrorIs(t, err, storage.ErrChangeNotFound)

		clock, err := tx.GetClock()
		require.NoError(t, err)
		assert.Equal(t, int64(0), clock)
		return nil
	})
	require.NoError(t, err)
}

func TestUpdate_CancelledContext(t *testing.T) {
	store := createTestStorage(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := store.Update(ctx, func(tx storage.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestStorage_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "reopen.db")

	store, err := New(ctx, dbPath)
	require.NoError(t, err)

	change := newTestChange(t, "evt-1", 3)
	require.NoError(t, store.Append(ctx, change))
	deviceID, err := store.DeviceID(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Открываем заново: журнал и device id переживают перезапуск
	store, err = New(ctx, dbPath)
	require.NoError(t, err)
	defer store.Close()

	pending, err := store.Pending(ctx, 10, 5)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, change.ID, pending[0].ID)

	again, err := store.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, deviceID, again)
}
