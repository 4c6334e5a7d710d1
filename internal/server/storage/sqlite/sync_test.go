package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/offsync/internal/models"
	"github.com/iudanet/offsync/internal/server/storage"
	"github.com/iudanet/offsync/pkg/api"
)

const testUser = "user-1"

func setupTestStorage(t *testing.T) *Storage {
	t.Helper()

	s, err := New(context.Background(), filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	// фиксированные часы: watermark растет только за счет +1
	s.now = func() time.Time { return time.UnixMilli(1_000) }
	return s
}

func snapshot(deviceID string, updatedAt int64, deleted bool, title string) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{
		"device_id":  deviceID,
		"updated_at": updatedAt,
		"deleted":    deleted,
		"title":      title,
	})
	return raw
}

func newChange(deviceID, entityID, op string, payload json.RawMessage) api.Change {
	v, _ := models.ParseVersion(payload)
	return api.Change{
		ID:         uuid.New().String(),
		UserID:     testUser,
		DeviceID:   deviceID,
		EntityType: string(models.EntityTypeEvent),
		EntityID:   entityID,
		Operation:  op,
		Payload:    payload,
		CreatedAt:  v.UpdatedAt,
	}
}

func TestStorage_Migrations(t *testing.T) {
	s := setupTestStorage(t)

	version, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestStorage_ApplyChanges(t *testing.T) {
	ctx := context.Background()
	s := setupTestStorage(t)

	create := newChange("dev-a", "e1", "CREATE", snapshot("dev-a", 1, false, "Dinner"))
	update := newChange("dev-a", "e1", "UPDATE", snapshot("dev-a", 2, false, "Lunch"))

	res, err := s.ApplyChanges(ctx, testUser, []api.Change{create, update})
	require.NoError(t, err)
	assert.Empty(t, res.Conflicts)
	assert.Equal(t, 2, res.Applied)
	assert.Equal(t, int64(1_001), res.ServerTimestamp)

	entity, err := s.GetEntity(ctx, testUser, "event", "e1")
	require.NoError(t, err)
	assert.Equal(t, "dev-a", entity.DeviceID)
	assert.Equal(t, int64(2), entity.UpdatedAt)
	assert.Equal(t, int64(1_001), entity.ServerTS)
	assert.False(t, entity.Deleted)
	assert.JSONEq(t, string(update.Payload), string(entity.Payload))
}

func TestStorage_ApplyChanges_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := setupTestStorage(t)

	create := newChange("dev-a", "e1", "CREATE", snapshot("dev-a", 1, false, "Dinner"))

	_, err := s.ApplyChanges(ctx, testUser, []api.Change{create})
	require.NoError(t, err)

	res, err := s.ApplyChanges(ctx, testUser, []api.Change{create})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied)
	assert.Empty(t, res.Conflicts)
	assert.Equal(t, int64(1_000), res.ServerTimestamp)

	changes, err := s.ChangesSince(ctx, testUser, "dev-b", 0, 10)
	require.NoError(t, err)
	assert.Len(t, changes, 1)
}

func TestStorage_ApplyChanges_Conflicts(t *testing.T) {
	tests := []struct {
		name     string
		existing api.Change
		incoming api.Change
		wantType models.ConflictType
	}{
		{
			name:     "concurrent update",
			existing: newChange("dev-a", "e1", "UPDATE", snapshot("dev-a", 5, false, "A")),
			incoming: newChange("dev-b", "e1", "UPDATE", snapshot("dev-b", 5, false, "B")),
			wantType: models.ConflictTypeConcurrentUpdate,
		},
		{
			name:     "duplicate create",
			existing: newChange("dev-a", "e1", "CREATE", snapshot("dev-a", 1, false, "A")),
			incoming: newChange("dev-b", "e1", "CREATE", snapshot("dev-b", 2, false, "B")),
			wantType: models.ConflictTypeCreate,
		},
		{
			name:     "update of deleted entity",
			existing: newChange("dev-a", "e1", "DELETE", snapshot("dev-a", 3, true, "A")),
			incoming: newChange("dev-b", "e1", "UPDATE", snapshot("dev-b", 4, false, "B")),
			wantType: models.ConflictTypeDelete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := setupTestStorage(t)

			_, err := s.ApplyChanges(ctx, testUser, []api.Change{tt.existing})
			require.NoError(t, err)

			res, err := s.ApplyChanges(ctx, testUser, []api.Change{tt.incoming})
			require.NoError(t, err)
			require.Len(t, res.Conflicts, 1)
			assert.Equal(t, 0, res.Applied)

			c := res.Conflicts[0]
			assert.Equal(t, tt.incoming.ID, c.ChangeID)
			assert.Equal(t, string(tt.wantType), c.ConflictType)
			assert.JSONEq(t, string(tt.existing.Payload), string(c.RemoteVersion))

			// конфликтующее изменение не попадает в журнал
			changes, err := s.ChangesSince(ctx, testUser, "dev-a", 0, 10)
			require.NoError(t, err)
			assert.Empty(t, changes)

			entity, err := s.GetEntity(ctx, testUser, "event", "e1")
			require.NoError(t, err)
			assert.Equal(t, "dev-a", entity.DeviceID)
		})
	}
}

func TestStorage_ApplyChanges_ResolvesConflict(t *testing.T) {
	ctx := context.Background()
	s := setupTestStorage(t)

	_, err := s.ApplyChanges(ctx, testUser, []api.Change{
		newChange("dev-a", "e1", "UPDATE", snapshot("dev-a", 5, false, "A")),
	})
	require.NoError(t, err)

	// версия старше серверной, но явно разрешает конфликт
	resolution := newChange("dev-b", "e1", "UPDATE", snapshot("dev-b", 4, false, "B"))
	resolution.ResolvesConflict = uuid.New().String()

	res, err := s.ApplyChanges(ctx, testUser, []api.Change{resolution})
	require.NoError(t, err)
	assert.Empty(t, res.Conflicts)
	assert.Equal(t, 1, res.Applied)

	entity, err := s.GetEntity(ctx, testUser, "event", "e1")
	require.NoError(t, err)
	assert.Equal(t, "dev-b", entity.DeviceID)

	changes, err := s.ChangesSince(ctx, testUser, "dev-a", 0, 10)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, resolution.ResolvesConflict, changes[0].ResolvesConflict)
}

func TestStorage_ApplyChanges_OlderSameDeviceKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	s := setupTestStorage(t)

	newer := newChange("dev-a", "e1", "UPDATE", snapshot("dev-a", 7, false, "new"))
	older := newChange("dev-a", "e1", "UPDATE", snapshot("dev-a", 6, false, "old"))

	res, err := s.ApplyChanges(ctx, testUser, []api.Change{newer, older})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied)

	entity, err := s.GetEntity(ctx, testUser, "event", "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), entity.UpdatedAt)
}

func TestStorage_ApplyChanges_Invalid(t *testing.T) {
	ctx := context.Background()
	s := setupTestStorage(t)

	valid := newChange("dev-a", "e1", "CREATE", snapshot("dev-a", 1, false, "ok"))

	tests := []struct {
		name   string
		mutate func(c *api.Change)
	}{
		{name: "unknown entity type", mutate: func(c *api.Change) { c.EntityType = "wallet" }},
		{name: "unknown operation", mutate: func(c *api.Change) { c.Operation = "MERGE" }},
		{name: "empty entity id", mutate: func(c *api.Change) { c.EntityID = "" }},
		{name: "payload without version", mutate: func(c *api.Change) { c.Payload = json.RawMessage(`{"title":"x"}`) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := newChange("dev-a", "e2", "CREATE", snapshot("dev-a", 1, false, "bad"))
			tt.mutate(&bad)

			_, err := s.ApplyChanges(ctx, testUser, []api.Change{valid, bad})
			assert.ErrorIs(t, err, storage.ErrInvalidChange)

			// пакет откатывается целиком
			_, err = s.GetEntity(ctx, testUser, "event", "e1")
			assert.ErrorIs(t, err, storage.ErrEntityNotFound)
		})
	}
}

func TestStorage_ChangesSince(t *testing.T) {
	ctx := context.Background()
	s := setupTestStorage(t)

	batch := make([]api.Change, 0, 5)
	for i := range 5 {
		batch = append(batch, newChange("dev-a", fmt.Sprintf("e%d", i), "CREATE", snapshot("dev-a", int64(i+1), false, "t")))
	}
	_, err := s.ApplyChanges(ctx, testUser, batch)
	require.NoError(t, err)

	_, err = s.ApplyChanges(ctx, "user-2", []api.Change{
		newChange("dev-c", "other", "CREATE", snapshot("dev-c", 1, false, "t")),
	})
	require.NoError(t, err)

	t.Run("excludes own device", func(t *testing.T) {
		changes, err := s.ChangesSince(ctx, testUser, "dev-a", 0, 10)
		require.NoError(t, err)
		assert.Empty(t, changes)
	})

	t.Run("ordered by server timestamp with limit", func(t *testing.T) {
		changes, err := s.ChangesSince(ctx, testUser, "dev-b", 1_001, 2)
		require.NoError(t, err)
		require.Len(t, changes, 2)
		assert.Equal(t, int64(1_002), changes[0].ServerTS)
		assert.Equal(t, int64(1_003), changes[1].ServerTS)
		assert.Equal(t, "e2", changes[0].EntityID)
		assert.Equal(t, testUser, changes[0].UserID)
	})

	t.Run("other users are invisible", func(t *testing.T) {
		changes, err := s.ChangesSince(ctx, testUser, "dev-b", 0, 100)
		require.NoError(t, err)
		assert.Len(t, changes, 5)
		for _, c := range changes {
			assert.NotEqual(t, "other", c.EntityID)
		}
	})
}

func TestStorage_GetEntity_NotFound(t *testing.T) {
	s := setupTestStorage(t)

	_, err := s.GetEntity(context.Background(), testUser, "event", "missing")
	assert.ErrorIs(t, err, storage.ErrEntityNotFound)
}
