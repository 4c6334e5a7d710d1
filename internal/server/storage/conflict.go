package storage

import (
	"github.com/iudanet/offsync/internal/models"
	"github.com/iudanet/offsync/pkg/api"
)

// DetectConflict сравнивает входящее изменение с текущим снимком на сервере.
// Конфликт возможен только если снимок записан другим устройством:
//   - CREATE поверх живой сущности -> CREATE_CONFLICT;
//   - изменение tombstone, которого клиент не видел -> DELETE_CONFLICT;
//   - снимок не старше входящей версии, то есть клиент его не видел ->
//     CONCURRENT_UPDATE (или DELETE_CONFLICT, если входящее изменение удаляет).
//
// Изменения с ResolvesConflict применяются без проверки.
func DetectConflict(current *Entity, change *api.Change, incoming models.Version) (models.ConflictType, bool) {
	if current == nil || change.ResolvesConflict != "" || current.DeviceID == change.DeviceID {
		return "", false
	}

	op := models.Operation(change.Operation)

	switch {
	case op == models.OperationCreate && !current.Deleted:
		return models.ConflictTypeCreate, true
	case current.Deleted:
		if incoming.Deleted {
			return "", false
		}
		if op == models.OperationUpdate || current.UpdatedAt >= incoming.UpdatedAt {
			return models.ConflictTypeDelete, true
		}
	case current.UpdatedAt >= incoming.UpdatedAt:
		if incoming.Deleted {
			return models.ConflictTypeDelete, true
		}
		return models.ConflictTypeConcurrentUpdate, true
	}

	return "", false
}
