package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChange(t *testing.T) {
	participant := Participant{ID: "p1", EventID: "e1", Name: "Ann", Status: ParticipantInvited}

	change, err := NewChange("user-1", "dev-1", EntityTypeParticipant, "p1", OperationCreate, participant, 5)
	require.NoError(t, err)

	assert.NotEmpty(t, change.ID)
	assert.Equal(t, ChangeStatusPending, change.Status)
	assert.Equal(t, 0, change.RetryCount)
	assert.Equal(t, int64(5), change.CreatedAt)
	assert.False(t, change.RecordedAt.IsZero())

	var decoded Participant
	require.NoError(t, json.Unmarshal(change.Payload, &decoded))
	assert.Equal(t, participant, decoded)
}

func TestNewChange_Validation(t *testing.T) {
	_, err := NewChange("u", "d", EntityType("photo"), "x", OperationCreate, nil, 1)
	assert.Error(t, err)

	_, err = NewChange("u", "d", EntityTypeEvent, "x", Operation("MERGE"), nil, 1)
	assert.Error(t, err)
}

func TestNewChange_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		c, err := NewChange("u", "d", EntityTypeVote, "v", OperationUpdate, nil, int64(i))
		require.NoError(t, err)
		assert.False(t, seen[c.ID], "duplicate change id")
		seen[c.ID] = true
	}
}

func TestChange_Clone(t *testing.T) {
	original, err := NewChange("u", "d", EntityTypeEvent, "e1", OperationUpdate, json.RawMessage(`{"a":1}`), 3)
	require.NoError(t, err)

	clone := original.Clone()
	assert.Equal(t, original, clone)

	// Модификация оригинала не должна влиять на клон
	original.Payload[1] = 'b'
	assert.NotEqual(t, original.Payload, clone.Payload)
}

func TestChange_Before(t *testing.T) {
	a := &Change{ID: "01A", CreatedAt: 1}
	b := &Change{ID: "01B", CreatedAt: 2}
	c := &Change{ID: "01C", CreatedAt: 2}

	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
	assert.True(t, b.Before(c), "equal timestamps ordered by id")
}

func TestConflict_CloneAndResolve(t *testing.T) {
	conflict := &Conflict{
		ID:            "c1",
		ChangeID:      "ch1",
		LocalVersion:  json.RawMessage(`{"updated_at":1,"device_id":"a"}`),
		RemoteVersion: json.RawMessage(`{"updated_at":2,"device_id":"b"}`),
	}
	clone := conflict.Clone()
	clone.LocalVersion[2] = 'X'
	assert.NotEqual(t, conflict.LocalVersion, clone.LocalVersion)

	res := &Resolution{Strategy: StrategyRemoteWins, Winner: SideRemote, SelectedVersion: conflict.RemoteVersion}
	conflict.LastError = "previous failure"
	conflict.MarkResolved(res)

	assert.True(t, conflict.Resolved)
	require.NotNil(t, conflict.ResolvedAt)
	assert.Empty(t, conflict.LastError)
	assert.Same(t, res, conflict.Resolution)
}
