package storage

import (
	"context"
	"encoding/json"

	"github.com/iudanet/offsync/pkg/api"
)

// Entity текущий снимок сущности пользователя на сервере
type Entity struct {
	UserID     string
	EntityType string
	EntityID   string
	DeviceID   string
	Payload    json.RawMessage
	UpdatedAt  int64 // Lamport timestamp из снимка
	ServerTS   int64 // watermark изменения, записавшего снимок
	Deleted    bool
}

// StoredChange принятое изменение с присвоенным серверным timestamp
type StoredChange struct {
	api.Change
	ServerTS int64
}

// BatchResult итог применения пакета изменений
type BatchResult struct {
	Conflicts []api.Conflict
	// Applied количество принятых изменений, включая повторно присланные
	Applied int
	// ServerTimestamp максимальный watermark пользователя после применения
	ServerTimestamp int64
}

// SyncStorage defines interface for change log and entity snapshots persistence
type SyncStorage interface {
	// ApplyChanges применяет пакет в одной транзакции.
	// Изменение с уже известным ID подтверждается повторно без применения.
	// Конфликтующие изменения не записываются и возвращаются в BatchResult.Conflicts.
	ApplyChanges(ctx context.Context, userID string, changes []api.Change) (*BatchResult, error)

	// ChangesSince возвращает принятые изменения пользователя с server_ts > since,
	// кроме изменений устройства excludeDeviceID, по возрастанию server_ts
	ChangesSince(ctx context.Context, userID, excludeDeviceID string, since int64, limit int) ([]StoredChange, error)

	// GetEntity возвращает текущий снимок сущности
	// Returns ErrEntityNotFound if entity doesn't exist
	GetEntity(ctx context.Context, userID, entityType, entityID string) (*Entity, error)

	// Ping проверяет доступность БД
	Ping(ctx context.Context) error
}
