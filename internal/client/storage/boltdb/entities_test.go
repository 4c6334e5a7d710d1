package boltdb

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/offsync/internal/client/storage"
	"github.com/iudanet/offsync/internal/models"
)

func TestEntities_PutGetList(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	live := json.RawMessage(`{"id":"v-1","device_id":"a","updated_at":1,"deleted":false}`)
	tombstone := json.RawMessage(`{"id":"v-2","device_id":"a","updated_at":2,"deleted":true}`)

	require.NoError(t, store.Update(ctx, func(tx storage.Tx) error {
		if err := tx.PutEntity(models.EntityTypeVote, "v-1", live); err != nil {
			return err
		}
		return tx.PutEntity(models.EntityTypeVote, "v-2", tombstone)
	}))

	err := store.View(ctx, func(tx storage.Tx) error {
		got, err := tx.GetEntity(models.EntityTypeVote, "v-1")
		require.NoError(t, err)
		assert.JSONEq(t, string(live), string(got))

		list, err := tx.ListEntities(models.EntityTypeVote)
		require.NoError(t, err)
		assert.Len(t, list, 2)

		// Для типа без записей bucket еще не создан
		empty, err := tx.ListEntities(models.EntityTypeParticipant)
		require.NoError(t, err)
		assert.Empty(t, empty)

		_, err = tx.GetEntity(models.EntityTypeParticipant, "p-1")
		assert.ErrorIs(t, err, storage.ErrEntityNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestEntities_PutValidation(t *testing.T) {
	ctx := context.Background()
	store := createTestStorage(t)

	tests := []struct {
		name       string
		entityType models.EntityType
		id         string
		snapshot   json.RawMessage
	}{
		{name: "unknown type", entityType: "poll", id: "x", snapshot: json.RawMessage(`{}`)},
		{name: "empty id", entityType: models.EntityTypeEvent, id: "", snapshot: json.RawMessage(`{}`)},
		{name: "invalid json", entityType: models.EntityTypeEvent, id: "x", snapshot: json.RawMessage(`{`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Update(ctx, func(tx storage.Tx) error {
				return tx.PutEntity(tt.entityType, tt.id, tt.snapshot)
			})
			assert.Error(t, err)
		})
	}
}
