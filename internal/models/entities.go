package models

import "time"

// Stamp общие поля версии, которые несет каждый снимок сущности.
// Встраивается в бизнес-сущности, поэтому сериализуется "плоско".
type Stamp struct {
	DeviceID  string `json:"device_id"`
	UpdatedAt int64  `json:"updated_at"` // Lamport timestamp последней записи
	Deleted   bool   `json:"deleted"`
}

// Touch проставляет версию новой локальной записи
func (s *Stamp) Touch(deviceID string, updatedAt int64) {
	s.DeviceID = deviceID
	s.UpdatedAt = updatedAt
}

// MarkDeleted превращает снимок в tombstone
func (s *Stamp) MarkDeleted() {
	s.Deleted = true
}

// IsDeleted true для tombstone
func (s *Stamp) IsDeleted() bool {
	return s.Deleted
}

// EventStatus статус мероприятия
type EventStatus string

const (
	EventStatusPlanned   EventStatus = "planned"
	EventStatusConfirmed EventStatus = "confirmed"
	EventStatusCancelled EventStatus = "cancelled"
)

// Valid проверяет что статус известен
func (s EventStatus) Valid() bool {
	switch s {
	case EventStatusPlanned, EventStatusConfirmed, EventStatusCancelled:
		return true
	}
	return false
}

// Event мероприятие, которое пользователи планируют и за которое голосуют.
type Event struct {
	StartsAt    time.Time   `json:"starts_at"`
	ID          string      `json:"id"`
	OwnerID     string      `json:"owner_id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Location    string      `json:"location,omitempty"`
	Status      EventStatus `json:"status"`
	Stamp
}

// ParticipantStatus ответ участника на приглашение
type ParticipantStatus string

const (
	ParticipantInvited  ParticipantStatus = "invited"
	ParticipantGoing    ParticipantStatus = "going"
	ParticipantDeclined ParticipantStatus = "declined"
)

// Valid проверяет что статус известен
func (s ParticipantStatus) Valid() bool {
	switch s {
	case ParticipantInvited, ParticipantGoing, ParticipantDeclined:
		return true
	}
	return false
}

// Participant участник мероприятия
type Participant struct {
	ID      string            `json:"id"`
	EventID string            `json:"event_id"`
	Name    string            `json:"name"`
	Status  ParticipantStatus `json:"status"`
	Stamp
}

// Vote голос участника за вариант мероприятия (дату, место и т.п.)
type Vote struct {
	ID            string `json:"id"`
	EventID       string `json:"event_id"`
	ParticipantID string `json:"participant_id"`
	Option        string `json:"option"`
	Stamp
}
