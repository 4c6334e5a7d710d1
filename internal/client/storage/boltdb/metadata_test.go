package boltdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/iudanet/offsync/internal/client/storage"
	"github.com/iudanet/offsync/internal/models"
)

func TestDeviceID_StableAcrossCalls(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	first, err := store.DeviceID(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	second, err := store.DeviceID(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSaveAndGetMetadata(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	// Изначально запись пустая
	meta, err := store.GetMetadata(ctx, "device-a")
	require.NoError(t, err)
	assert.Equal(t, &models.SyncMetadata{DeviceID: "device-a"}, meta)

	expected := &models.SyncMetadata{
		DeviceID:                 "device-a",
		LastSyncTimestamp:        1700000000000,
		LastSyncAttemptTimestamp: 1700000000500,
		PendingChangesCount:      3,
		TotalSyncedChanges:       42,
		SyncErrorCount:           2,
		ConsecutiveFailures:      1,
		LastError:                "transport failure",
	}
	err = store.Update(ctx, func(tx storage.Tx) error {
		return tx.SaveMetadata(expected)
	})
	require.NoError(t, err)

	got, err := store.GetMetadata(ctx, "device-a")
	require.NoError(t, err)
	assert.Equal(t, expected, got)

	// Записи разных устройств независимы
	other, err := store.GetMetadata(ctx, "device-b")
	require.NoError(t, err)
	assert.Equal(t, int64(0), other.LastSyncTimestamp)
}

func TestSaveMetadata_EmptyDeviceID(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	err := store.Update(ctx, func(tx storage.Tx) error {
		return tx.SaveMetadata(&models.SyncMetadata{})
	})
	assert.Error(t, err)
}

func TestClock_NeverGoesBack(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	ts, err := store.GetClock(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ts)

	for _, v := range []int64{5, 3, 9, 9} {
		v := v
		require.NoError(t, store.Update(ctx, func(tx storage.Tx) error {
			return tx.SaveClock(v)
		}))
	}

	ts, err = store.GetClock(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9), ts)
}

func TestGetMetadata_BucketMissing(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	// Удаляем bucket metadata напрямую
	err := store.db.Update(func(tx *bbolt.Tx) error {
		return tx.DeleteBucket(bucketMetadata)
	})
	require.NoError(t, err)

	_, err = store.GetMetadata(ctx, "device-a")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "metadata bucket not found")

	_, err = store.GetClock(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "metadata bucket not found")
}
