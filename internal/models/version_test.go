package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion_IsNewerThan(t *testing.T) {
	tests := []struct {
		name     string
		self     Version
		other    Version
		expected bool
	}{
		{
			name:     "self timestamp greater",
			self:     Version{UpdatedAt: 101, DeviceID: "device-a"},
			other:    Version{UpdatedAt: 100, DeviceID: "device-a"},
			expected: true,
		},
		{
			name:     "self timestamp smaller",
			self:     Version{UpdatedAt: 90, DeviceID: "device-a"},
			other:    Version{UpdatedAt: 100, DeviceID: "device-a"},
			expected: false,
		},
		{
			name:     "timestamps equal, self device lower lex wins",
			self:     Version{UpdatedAt: 100, DeviceID: "device-a"},
			other:    Version{UpdatedAt: 100, DeviceID: "device-b"},
			expected: true,
		},
		{
			name:     "timestamps equal, self device greater lex loses",
			self:     Version{UpdatedAt: 100, DeviceID: "device-b"},
			other:    Version{UpdatedAt: 100, DeviceID: "device-a"},
			expected: false,
		},
		{
			name:     "identical versions",
			self:     Version{UpdatedAt: 100, DeviceID: "device-a"},
			other:    Version{UpdatedAt: 100, DeviceID: "device-a"},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.self.IsNewerThan(tt.other))
		})
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Version
		wantErr bool
	}{
		{
			name: "event snapshot",
			raw:  `{"id":"e1","title":"Picnic","updated_at":42,"device_id":"dev-1"}`,
			want: Version{UpdatedAt: 42, DeviceID: "dev-1"},
		},
		{
			name: "tombstone",
			raw:  `{"id":"e1","updated_at":43,"device_id":"dev-2","deleted":true}`,
			want: Version{UpdatedAt: 43, DeviceID: "dev-2", Deleted: true},
		},
		{name: "empty", raw: ``, wantErr: true},
		{name: "null", raw: `null`, wantErr: true},
		{name: "not json", raw: `{broken`, wantErr: true},
		{name: "missing updated_at", raw: `{"device_id":"dev-1"}`, wantErr: true},
		{name: "missing device_id", raw: `{"updated_at":1}`, wantErr: true},
		{name: "array instead of object", raw: `[1,2]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVersion(json.RawMessage(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformedVersion)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseVersion_EmbeddedStamp(t *testing.T) {
	event := Event{
		ID:     "event-1",
		Title:  "Board games",
		Status: EventStatusPlanned,
		Stamp:  Stamp{UpdatedAt: 7, DeviceID: "dev-7"},
	}
	raw, err := json.Marshal(event)
	require.NoError(t, err)

	v, err := ParseVersion(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v.UpdatedAt)
	assert.Equal(t, "dev-7", v.DeviceID)
	assert.False(t, v.Deleted)
}

func TestIsNullSnapshot(t *testing.T) {
	assert.True(t, IsNullSnapshot(nil))
	assert.True(t, IsNullSnapshot(json.RawMessage(" null ")))
	assert.False(t, IsNullSnapshot(json.RawMessage(`{}`)))
	assert.False(t, IsNullSnapshot(json.RawMessage(`{"updated_at":1,"device_id":"a"}`)))
}
