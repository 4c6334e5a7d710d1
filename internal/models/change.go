package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// EntityType тип бизнес-сущности, к которой относится изменение
type EntityType string

const (
	EntityTypeEvent       EntityType = "event"
	EntityTypeParticipant EntityType = "participant"
	EntityTypeVote        EntityType = "vote"
)

// Valid проверяет что тип сущности известен
func (t EntityType) Valid() bool {
	switch t {
	case EntityTypeEvent, EntityTypeParticipant, EntityTypeVote:
		return true
	}
	return false
}

// Operation тип локальной мутации
type Operation string

const (
	OperationCreate Operation = "CREATE"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

// Valid проверяет что операция известна
func (o Operation) Valid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// ChangeStatus состояние записи в журнале изменений
type ChangeStatus string

const (
	ChangeStatusPending ChangeStatus = "PENDING"
	ChangeStatusSyncing ChangeStatus = "SYNCING"
	ChangeStatusSynced  ChangeStatus = "SYNCED"
	ChangeStatusFailed  ChangeStatus = "FAILED"
)

// Change представляет одну запись журнала локальных изменений (outbox).
// Каждая локальная мутация бизнес-сущности порождает ровно один Change.
// После создания запись неизменяема, кроме Status, RetryCount и StatusChangedAt.
type Change struct {
	RecordedAt       time.Time       `json:"recorded_at"`        // RecordedAt время добавления в журнал (wall clock)
	StatusChangedAt  time.Time       `json:"status_changed_at"`  // StatusChangedAt время последнего перехода статуса
	ID               string          `json:"id"`                 // ID уникальный идентификатор (ULID)
	UserID           string          `json:"user_id"`            // UserID владелец изменения
	DeviceID         string          `json:"device_id"`          // DeviceID устройство, на котором произошла мутация
	EntityType       EntityType      `json:"entity_type"`        // EntityType тип сущности
	EntityID         string          `json:"entity_id"`          // EntityID идентификатор сущности
	Operation        Operation       `json:"operation"`          // Operation CREATE/UPDATE/DELETE
	Status           ChangeStatus    `json:"status"`             // Status состояние синхронизации
	ResolvesConflict string          `json:"resolves_conflict"`  // ResolvesConflict id конфликта, если изменение создано разрешением LOCAL wins
	Payload          json.RawMessage `json:"payload"`            // Payload снимок сущности на момент записи
	CreatedAt        int64           `json:"created_at"`         // CreatedAt логический (Lamport) timestamp
	RetryCount       int             `json:"retry_count"`        // RetryCount количество неудачных попыток доставки
}

// NewChange создает PENDING изменение с ULID идентификатором
func NewChange(userID, deviceID string, entityType EntityType, entityID string, op Operation, payload any, createdAt int64) (*Change, error) {
	if !entityType.Valid() {
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}
	if !op.Valid() {
		return nil, fmt.Errorf("unknown operation %q", op)
	}

	var raw json.RawMessage
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		raw = append(json.RawMessage(nil), p...)
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		raw = b
	}

	now := time.Now().UTC()
	return &Change{
		ID:              ulid.Make().String(),
		UserID:          userID,
		DeviceID:        deviceID,
		EntityType:      entityType,
		EntityID:        entityID,
		Operation:       op,
		Payload:         raw,
		CreatedAt:       createdAt,
		Status:          ChangeStatusPending,
		RecordedAt:      now,
		StatusChangedAt: now,
	}, nil
}

// Clone создает глубокую копию изменения
func (c *Change) Clone() *Change {
	clone := *c
	if c.Payload != nil {
		clone.Payload = append(json.RawMessage(nil), c.Payload...)
	}
	return &clone
}

// Before определяет FIFO порядок: сначала CreatedAt, затем ID
func (c *Change) Before(other *Change) bool {
	if c.CreatedAt != other.CreatedAt {
		return c.CreatedAt < other.CreatedAt
	}
	return c.ID < other.ID
}
