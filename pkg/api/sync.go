package api

import "encoding/json"

// Change представляет одно изменение журнала, передаваемое по сети
type Change struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	DeviceID         string          `json:"device_id"`
	EntityType       string          `json:"entity_type"` // event, participant, vote
	EntityID         string          `json:"entity_id"`
	Operation        string          `json:"operation"` // CREATE, UPDATE, DELETE
	ResolvesConflict string          `json:"resolves_conflict,omitempty"`
	Payload          json.RawMessage `json:"payload"`    // снимок сущности
	CreatedAt        int64           `json:"created_at"` // Lamport timestamp
}

// SyncRequest представляет запрос на синхронизацию от клиента
type SyncRequest struct {
	UserID            string   `json:"user_id"`
	DeviceID          string   `json:"device_id"`
	Changes           []Change `json:"changes"`
	LastSyncTimestamp int64    `json:"last_sync_timestamp"` // watermark сервера из предыдущего ответа
}

// Conflict представляет конфликт, обнаруженный сервером для одного изменения
type Conflict struct {
	ChangeID      string          `json:"change_id"`
	EntityType    string          `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	ConflictType  string          `json:"conflict_type"`  // CONCURRENT_UPDATE, DELETE_CONFLICT, CREATE_CONFLICT
	RemoteVersion json.RawMessage `json:"remote_version"` // текущий снимок на сервере
}

// SyncResponse представляет ответ сервера на синхронизацию
type SyncResponse struct {
	Message         string     `json:"message,omitempty"`
	Conflicts       []Conflict `json:"conflicts"`
	RemoteChanges   []Change   `json:"remote_changes"`   // изменения других устройств новее watermark
	AppliedChanges  int        `json:"applied_changes"`  // количество принятых изменений
	ServerTimestamp int64      `json:"server_timestamp"` // новый watermark (unix ms)
	Success         bool       `json:"success"`
}

// HealthResponse ответ health endpoint
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`             // описание ошибки
	Message string `json:"message,omitempty"` // дополнительное сообщение
}
