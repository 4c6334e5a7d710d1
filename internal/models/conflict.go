package models

import (
	"encoding/json"
	"time"
)

// ConflictType тип расхождения между локальной и удаленной версиями
type ConflictType string

const (
	ConflictTypeConcurrentUpdate ConflictType = "CONCURRENT_UPDATE"
	ConflictTypeDelete           ConflictType = "DELETE_CONFLICT"
	ConflictTypeCreate           ConflictType = "CREATE_CONFLICT"
)

// Strategy стратегия разрешения конфликта
type Strategy string

const (
	StrategyLastWriteWins Strategy = "LAST_WRITE_WINS"
	StrategyRemoteWins    Strategy = "REMOTE_WINS"
	StrategyLocalWins     Strategy = "LOCAL_WINS"
	StrategyManual        Strategy = "MANUAL"
)

// Valid проверяет что стратегия известна
func (s Strategy) Valid() bool {
	switch s {
	case StrategyLastWriteWins, StrategyRemoteWins, StrategyLocalWins, StrategyManual:
		return true
	}
	return false
}

// Side сторона, чья версия выбрана при разрешении
type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// Resolution результат разрешения конфликта. Привязан 1:1 к Conflict.
type Resolution struct {
	AppliedAt       time.Time       `json:"applied_at"`
	Strategy        Strategy        `json:"strategy"`
	Winner          Side            `json:"winner"`
	SelectedVersion json.RawMessage `json:"selected_version"`
}

// Conflict фиксирует расхождение, о котором сообщил сервер в ответе на синхронизацию.
// Разрешается ровно один раз; при ошибке разрешения остается Resolved=false
// и повторяется в следующем цикле.
type Conflict struct {
	DetectedAt    time.Time       `json:"detected_at"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`
	Resolution    *Resolution     `json:"resolution,omitempty"`
	ID            string          `json:"id"`
	ChangeID      string          `json:"change_id"`
	EntityType    EntityType      `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	ConflictType  ConflictType    `json:"conflict_type"`
	LastError     string          `json:"last_error,omitempty"`
	LocalVersion  json.RawMessage `json:"local_version"`
	RemoteVersion json.RawMessage `json:"remote_version"`
	Attempts      int             `json:"attempts"`
	Resolved      bool            `json:"resolved"`
}

// Clone создает глубокую копию конфликта
func (c *Conflict) Clone() *Conflict {
	clone := *c
	clone.LocalVersion = cloneRaw(c.LocalVersion)
	clone.RemoteVersion = cloneRaw(c.RemoteVersion)
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		clone.ResolvedAt = &t
	}
	if c.Resolution != nil {
		r := *c.Resolution
		r.SelectedVersion = cloneRaw(c.Resolution.SelectedVersion)
		clone.Resolution = &r
	}
	return &clone
}

// MarkResolved прикрепляет resolution и помечает конфликт разрешенным
func (c *Conflict) MarkResolved(res *Resolution) {
	at := res.AppliedAt
	c.Resolution = res
	c.Resolved = true
	c.ResolvedAt = &at
	c.LastError = ""
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
