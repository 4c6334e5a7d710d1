package models

// SyncMetadata учетные данные синхронизации устройства. Одна запись на устройство,
// изменяется только SyncEngine в конце цикла.
type SyncMetadata struct {
	DeviceID                 string `json:"device_id" yaml:"device_id"`
	LastError                string `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	LastSyncTimestamp        int64  `json:"last_sync_timestamp" yaml:"last_sync_timestamp"`                 // серверный watermark (ms)
	LastSyncAttemptTimestamp int64  `json:"last_sync_attempt_timestamp" yaml:"last_sync_attempt_timestamp"` // unix ms последней попытки
	PendingChangesCount      int    `json:"pending_changes_count" yaml:"pending_changes_count"`
	TotalSyncedChanges       int64  `json:"total_synced_changes" yaml:"total_synced_changes"`
	SyncErrorCount           int64  `json:"sync_error_count" yaml:"sync_error_count"`
	ConsecutiveFailures      int    `json:"consecutive_failures" yaml:"consecutive_failures"`
}

// SyncState read-only проекция для наблюдателей (UI, CLI status).
// Не хранится, пересчитывается из журнала и metadata.
type SyncState struct {
	Phase               string `json:"phase" yaml:"phase"`
	LastSyncTimestamp   int64  `json:"last_sync_timestamp" yaml:"last_sync_timestamp"`
	PendingChangesCount int    `json:"pending_changes_count" yaml:"pending_changes_count"`
	FailedChangesCount  int    `json:"failed_changes_count" yaml:"failed_changes_count"`
	ConflictsCount      int    `json:"conflicts_count" yaml:"conflicts_count"`
	IsOnline            bool   `json:"is_online" yaml:"is_online"`
	IsSyncing           bool   `json:"is_syncing" yaml:"is_syncing"`
}
