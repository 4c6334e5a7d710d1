package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedVersion снимок сущности не удалось разобрать
var ErrMalformedVersion = errors.New("malformed version payload")

// Version логическая версия снимка сущности: кто и когда (по часам Лампорта) ее записал.
type Version struct {
	DeviceID  string `json:"device_id"`
	UpdatedAt int64  `json:"updated_at"`
	Deleted   bool   `json:"deleted"`
}

// ParseVersion извлекает Version из непрозрачного JSON снимка.
// Остальные поля снимка не интерпретируются.
func ParseVersion(raw json.RawMessage) (Version, error) {
	if IsNullSnapshot(raw) {
		return Version{}, fmt.Errorf("%w: empty snapshot", ErrMalformedVersion)
	}
	trimmed := bytes.TrimSpace(raw)

	var fields struct {
		UpdatedAt *int64  `json:"updated_at"`
		DeviceID  *string `json:"device_id"`
		Deleted   bool    `json:"deleted"`
	}
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return Version{}, fmt.Errorf("%w: %v", ErrMalformedVersion, err)
	}
	if fields.UpdatedAt == nil {
		return Version{}, fmt.Errorf("%w: missing updated_at", ErrMalformedVersion)
	}
	if fields.DeviceID == nil || *fields.DeviceID == "" {
		return Version{}, fmt.Errorf("%w: missing device_id", ErrMalformedVersion)
	}

	return Version{
		UpdatedAt: *fields.UpdatedAt,
		DeviceID:  *fields.DeviceID,
		Deleted:   fields.Deleted,
	}, nil
}

// IsNullSnapshot true для пустого или null снимка: у сервера нет состояния сущности
func IsNullSnapshot(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// IsNewerThan сравнивает две версии по правилу LWW (Last-Write-Wins):
// 1. Больший UpdatedAt выигрывает
// 2. При равных UpdatedAt выигрывает лексикографически меньший DeviceID,
// чтобы любое устройство, применяющее тот же конфликт, пришло к тому же результату.
// Возвращает false для полностью одинаковых версий.
func (v Version) IsNewerThan(other Version) bool {
	if v.UpdatedAt != other.UpdatedAt {
		return v.UpdatedAt > other.UpdatedAt
	}
	return v.DeviceID < other.DeviceID
}
