package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iudanet/offsync/internal/models"
	"github.com/iudanet/offsync/pkg/api"
)

func TestDetectConflict(t *testing.T) {
	live := &Entity{DeviceID: "device-b", UpdatedAt: 10}
	tombstone := &Entity{DeviceID: "device-b", UpdatedAt: 10, Deleted: true}

	tests := []struct {
		current  *Entity
		name     string
		op       models.Operation
		resolves string
		device   string
		want     models.ConflictType
		incoming models.Version
		conflict bool
	}{
		{name: "new entity", op: models.OperationCreate, device: "device-a", incoming: models.Version{UpdatedAt: 1}},
		{name: "same device", current: live, op: models.OperationUpdate, device: "device-b", incoming: models.Version{UpdatedAt: 5}},
		{name: "resolution is applied unconditionally", current: live, op: models.OperationUpdate, device: "device-a", resolves: "c1", incoming: models.Version{UpdatedAt: 5}},
		{name: "create over live entity", current: live, op: models.OperationCreate, device: "device-a", incoming: models.Version{UpdatedAt: 50}, want: models.ConflictTypeCreate, conflict: true},
		{name: "update of unseen newer version", current: live, op: models.OperationUpdate, device: "device-a", incoming: models.Version{UpdatedAt: 7}, want: models.ConflictTypeConcurrentUpdate, conflict: true},
		{name: "equal timestamps", current: live, op: models.OperationUpdate, device: "device-a", incoming: models.Version{UpdatedAt: 10}, want: models.ConflictTypeConcurrentUpdate, conflict: true},
		{name: "update after witnessing", current: live, op: models.OperationUpdate, device: "device-a", incoming: models.Version{UpdatedAt: 11}},
		{name: "delete of unseen update", current: live, op: models.OperationDelete, device: "device-a", incoming: models.Version{UpdatedAt: 3, Deleted: true}, want: models.ConflictTypeDelete, conflict: true},
		{name: "update against tombstone", current: tombstone, op: models.OperationUpdate, device: "device-a", incoming: models.Version{UpdatedAt: 20}, want: models.ConflictTypeDelete, conflict: true},
		{name: "recreate after witnessing delete", current: tombstone, op: models.OperationCreate, device: "device-a", incoming: models.Version{UpdatedAt: 20}},
		{name: "recreate of unseen delete", current: tombstone, op: models.OperationCreate, device: "device-a", incoming: models.Version{UpdatedAt: 4}, want: models.ConflictTypeDelete, conflict: true},
		{name: "both deleted", current: tombstone, op: models.OperationDelete, device: "device-a", incoming: models.Version{UpdatedAt: 4, Deleted: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			change := &api.Change{DeviceID: tt.device, Operation: string(tt.op), ResolvesConflict: tt.resolves}
			got, conflict := DetectConflict(tt.current, change, tt.incoming)
			assert.Equal(t, tt.conflict, conflict)
			assert.Equal(t, tt.want, got)
		})
	}
}
