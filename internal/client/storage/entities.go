package storage

import (
	"encoding/json"

	"github.com/iudanet/offsync/internal/models"
)

// EntityTx локальное хранилище снимков бизнес-сущностей.
// Удаленные сущности хранятся как tombstone (deleted=true), чтобы LWW мог их сравнивать.
type EntityTx interface {
	// GetEntity возвращает снимок сущности
	// Returns ErrEntityNotFound if entity doesn't exist
	GetEntity(entityType models.EntityType, id string) (json.RawMessage, error)

	// PutEntity сохраняет снимок сущности
	PutEntity(entityType models.EntityType, id string, snapshot json.RawMessage) error

	// ListEntities возвращает все снимки сущностей данного типа, включая tombstone
	ListEntities(entityType models.EntityType) ([]json.RawMessage, error)
}
