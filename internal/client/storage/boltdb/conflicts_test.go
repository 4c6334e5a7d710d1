package boltdb

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/offsync/internal/client/storage"
	"github.com/iudanet/offsync/internal/models"
)

func newTestConflict(id, changeID string, detectedAt time.Time) *models.Conflict {
	return &models.Conflict{
		ID:            id,
		ChangeID:      changeID,
		EntityType:    models.EntityTypeEvent,
		EntityID:      "evt-1",
		ConflictType:  models.ConflictTypeConcurrentUpdate,
		LocalVersion:  json.RawMessage(`{"device_id":"a","updated_at":1}`),
		RemoteVersion: json.RawMessage(`{"device_id":"b","updated_at":2}`),
		DetectedAt:    detectedAt,
	}
}

func TestConflicts_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	detected := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	conflict := newTestConflict("c-1", "ch-1", detected)

	require.NoError(t, store.Update(ctx, func(tx storage.Tx) error {
		return tx.SaveConflict(conflict)
	}))

	err := store.View(ctx, func(tx storage.Tx) error {
		got, err := tx.GetConflict("c-1")
		require.NoError(t, err)
		assert.Equal(t, conflict.ChangeID, got.ChangeID)
		assert.JSONEq(t, string(conflict.RemoteVersion), string(got.RemoteVersion))
		assert.False(t, got.Resolved)

		_, err = tx.GetConflict("missing")
		assert.ErrorIs(t, err, storage.ErrConflictNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestConflicts_ListAndCount(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	second := newTestConflict("c-b", "ch-2", base.Add(time.Minute))
	first := newTestConflict("c-z", "ch-1", base)
	resolved := newTestConflict("c-a", "ch-3", base.Add(2*time.Minute))
	resolved.MarkResolved(&models.Resolution{
		AppliedAt: base.Add(3 * time.Minute),
		Strategy:  models.StrategyRemoteWins,
		Winner:    models.SideRemote,
	})

	require.NoError(t, store.Update(ctx, func(tx storage.Tx) error {
		for _, c := range []*models.Conflict{second, first, resolved} {
			if err := tx.SaveConflict(c); err != nil {
				return err
			}
		}
		return nil
	}))

	err := store.View(ctx, func(tx storage.Tx) error {
		open, err := tx.ListConflicts(false)
		require.NoError(t, err)
		require.Len(t, open, 2)
		assert.Equal(t, "c-z", open[0].ID)
		assert.Equal(t, "c-b", open[1].ID)

		all, err := tx.ListConflicts(true)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		n, err := tx.CountUnresolvedConflicts()
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		found, err := tx.UnresolvedConflictForChange("ch-2")
		require.NoError(t, err)
		assert.Equal(t, "c-b", found.ID)

		// Разрешенный конфликт не считается открытым
		_, err = tx.UnresolvedConflictForChange("ch-3")
		assert.ErrorIs(t, err, storage.ErrConflictNotFound)
		return nil
	})
	require.NoError(t, err)
}
