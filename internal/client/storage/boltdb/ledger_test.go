package boltdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/iudanet/offsync/internal/client/storage"
	"github.com/iudanet/offsync/internal/models"
)

func newTestChange(t *testing.T, entityID string, createdAt int64) *models.Change {
	t.Helper()

	payload := models.Event{
		ID:     entityID,
		Title:  "Team dinner",
		Status: models.EventStatusPlanned,
		Stamp:  models.Stamp{DeviceID: "device-a", UpdatedAt: createdAt},
	}
	change, err := models.NewChange("user-1", "device-a", models.EntityTypeEvent, entityID,
		models.OperationUpdate, payload, createdAt)
	require.NoError(t, err)
	return change
}

func appendChanges(t *testing.T, store *Storage, changes ...*models.Change) {
	t.Helper()
	for _, c := range changes {
		require.NoError(t, store.Append(context.Background(), c))
	}
}

func ids(changes []*models.Change) []string {
	result := make([]string, 0, len(changes))
	for _, c := range changes {
		result = append(result, c.ID)
	}
	return result
}

func TestAppend_StoredAsPending(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	change := newTestChange(t, "evt-1", 1)
	change.Status = models.ChangeStatusSynced
	change.RetryCount = 3
	appendChanges(t, store, change)

	var got *models.Change
	err := store.View(ctx, func(tx storage.Tx) error {
		var err error
		got, err = tx.GetChange(change.ID)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, models.ChangeStatusPending, got.Status)
	assert.Equal(t, 0, got.RetryCount)
	assert.JSONEq(t, string(change.Payload), string(got.Payload))

	// Повторное добавление того же ID запрещено
	err = store.Append(ctx, change)
	assert.Error(t, err)
}

func TestPending_FIFOOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	c3 := newTestChange(t, "evt-3", 30)
	c1 := newTestChange(t, "evt-1", 10)
	c2 := newTestChange(t, "evt-2", 20)
	appendChanges(t, store, c3, c1, c2)

	pending, err := store.Pending(ctx, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{c1.ID, c2.ID, c3.ID}, ids(pending))

	limited, err := store.Pending(ctx, 2, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{c1.ID, c2.ID}, ids(limited))
}

func TestPending_ExcludesSyncedAndExhausted(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	synced := newTestChange(t, "evt-1", 1)
	failed := newTestChange(t, "evt-2", 2)
	pending := newTestChange(t, "evt-3", 3)
	appendChanges(t, store, synced, failed, pending)

	require.NoError(t, store.MarkSynced(ctx, []string{synced.ID}))
	exhausted, err := store.MarkFailed(ctx, []string{failed.ID}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{failed.ID}, exhausted)

	got, err := store.Pending(ctx, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{pending.ID}, ids(got))

	// С большим лимитом попыток FAILED изменение снова кандидат на отправку
	got, err = store.Pending(ctx, 10, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{failed.ID, pending.ID}, ids(got))
}

func TestMarkSynced_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	change := newTestChange(t, "evt-1", 1)
	appendChanges(t, store, change)

	require.NoError(t, store.MarkSynced(ctx, []string{change.ID}))
	require.NoError(t, store.MarkSynced(ctx, []string{change.ID}))

	synced, err := store.ListChanges(ctx, models.ChangeStatusSynced)
	require.NoError(t, err)
	assert.Equal(t, []string{change.ID}, ids(synced))
}

func TestMarkSynced_UnknownIDRollsBack(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	change := newTestChange(t, "evt-1", 1)
	appendChanges(t, store, change)

	err := store.MarkSynced(ctx, []string{change.ID, "missing"})
	require.ErrorIs(t, err, storage.ErrChangeNotFound)

	// Первое изменение тоже не должно стать SYNCED
	pending, err := store.Pending(ctx, 10, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{change.ID}, ids(pending))
}

func TestMarkFailed_CountsRetries(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	change := newTestChange(t, "evt-1", 1)
	appendChanges(t, store, change)

	for i := 1; i < 3; i++ {
		exhausted, err := store.MarkFailed(ctx, []string{change.ID}, 3)
		require.NoError(t, err)
		assert.Empty(t, exhausted)
	}

	exhausted, err := store.MarkFailed(ctx, []string{change.ID}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{change.ID}, exhausted)

	failed, err := store.ListChanges(ctx, models.ChangeStatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 3, failed[0].RetryCount)

	n, err := store.CountFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMarkFailed_SyncedChangeRejected(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	change := newTestChange(t, "evt-1", 1)
	appendChanges(t, store, change)
	require.NoError(t, store.MarkSynced(ctx, []string{change.ID}))

	_, err := store.MarkFailed(ctx, []string{change.ID}, 3)
	assert.Error(t, err)
}

func TestCountPending_IncludesSyncing(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	c1 := newTestChange(t, "evt-1", 1)
	c2 := newTestChange(t, "evt-2", 2)
	appendChanges(t, store, c1, c2)

	require.NoError(t, store.Update(ctx, func(tx storage.Tx) error {
		return tx.MarkSyncing([]string{c1.ID})
	}))

	n, err := store.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// SYNCING изменения не выдаются повторно
	pending, err := store.Pending(ctx, 10, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{c2.ID}, ids(pending))
}

func TestRequeue_KeepsRetryCount(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	change := newTestChange(t, "evt-1", 1)
	appendChanges(t, store, change)
	_, err := store.MarkFailed(ctx, []string{change.ID}, 5)
	require.NoError(t, err)

	err = store.Update(ctx, func(tx storage.Tx) error {
		if err := tx.MarkSyncing([]string{change.ID}); err != nil {
			return err
		}
		return tx.Requeue([]string{change.ID})
	})
	require.NoError(t, err)

	pending, err := store.Pending(ctx, 10, 5)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.ChangeStatusPending, pending[0].Status)
	assert.Equal(t, 1, pending[0].RetryCount)
}

func TestRetryFailed_ResetsCounters(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	c1 := newTestChange(t, "evt-1", 1)
	c2 := newTestChange(t, "evt-2", 2)
	appendChanges(t, store, c1, c2)
	_, err := store.MarkFailed(ctx, []string{c1.ID, c2.ID}, 1)
	require.NoError(t, err)

	n, err := store.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err := store.Pending(ctx, 10, 1)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, c := range pending {
		assert.Equal(t, 0, c.RetryCount)
	}
}

func TestRecoverInFlight(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	change := newTestChange(t, "evt-1", 1)
	appendChanges(t, store, change)
	require.NoError(t, store.Update(ctx, func(tx storage.Tx) error {
		return tx.MarkSyncing([]string{change.ID})
	}))

	n, err := store.RecoverInFlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := store.Pending(ctx, 10, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{change.ID}, ids(pending))

	// Повторный вызов ничего не находит
	n, err = store.RecoverInFlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPurgeSynced(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	old := newTestChange(t, "evt-1", 1)
	fresh := newTestChange(t, "evt-2", 2)
	pending := newTestChange(t, "evt-3", 3)
	appendChanges(t, store, old, fresh, pending)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	require.NoError(t, store.MarkSynced(ctx, []string{old.ID}))
	store.now = func() time.Time { return base.Add(48 * time.Hour) }
	require.NoError(t, store.MarkSynced(ctx, []string{fresh.ID}))

	n, err := store.PurgeSynced(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all, err := store.ListChanges(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{fresh.ID, pending.ID}, ids(all))

	// Индекс тоже очищен
	err = store.View(ctx, func(tx storage.Tx) error {
		_, err := tx.GetChange(old.ID)
		return err
	})
	assert.ErrorIs(t, err, storage.ErrChangeNotFound)
}

func unsyncedKeys(t *testing.T, store *Storage) map[string]string {
	t.Helper()

	result := make(map[string]string)
	require.NoError(t, store.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUnsynced).ForEach(func(k, v []byte) error {
			result[string(k[8:])] = string(v)
			return nil
		})
	}))
	return result
}

func TestUnsyncedIndex_FollowsStatus(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	c1 := newTestChange(t, "evt-1", 1)
	c2 := newTestChange(t, "evt-2", 2)
	c3 := newTestChange(t, "evt-3", 3)
	appendChanges(t, store, c1, c2, c3)

	require.NoError(t, store.MarkSynced(ctx, []string{c1.ID}))
	_, err := store.MarkFailed(ctx, []string{c2.ID}, 1)
	require.NoError(t, err)

	// SYNCED история в индекс не попадает
	assert.Equal(t, map[string]string{
		c2.ID: string(models.ChangeStatusFailed),
		c3.ID: string(models.ChangeStatusPending),
	}, unsyncedKeys(t, store))

	n, err := store.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	failed, err := store.CountFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	retried, err := store.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, retried)
	assert.Equal(t, string(models.ChangeStatusPending), unsyncedKeys(t, store)[c2.ID])

	pending, err := store.Pending(ctx, 10, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{c2.ID, c3.ID}, ids(pending))
}

func TestInitBuckets_RebuildsUnsyncedIndex(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	c1 := newTestChange(t, "evt-1", 1)
	c2 := newTestChange(t, "evt-2", 2)
	c3 := newTestChange(t, "evt-3", 3)
	appendChanges(t, store, c1, c2, c3)
	require.NoError(t, store.MarkSynced(ctx, []string{c2.ID}))

	// База, созданная до появления индекса
	require.NoError(t, store.db.Update(func(tx *bbolt.Tx) error {
		return tx.DeleteBucket(bucketUnsynced)
	}))

	require.NoError(t, store.initBuckets())

	assert.Equal(t, map[string]string{
		c1.ID: string(models.ChangeStatusPending),
		c3.ID: string(models.ChangeStatusPending),
	}, unsyncedKeys(t, store))

	pending, err := store.Pending(ctx, 10, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{c1.ID, c3.ID}, ids(pending))
}
