package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/iudanet/offsync/internal/client/storage"
	"github.com/iudanet/offsync/internal/crdt"
	"github.com/iudanet/offsync/internal/models"
	"github.com/iudanet/offsync/internal/validation"
)

// ErrEntityExists сущность с таким ID уже существует
var ErrEntityExists = errors.New("entity already exists")

//go:generate moq -out service_mock.go . Service

// Service определяет интерфейс для клиентского data сервиса.
// Каждая мутация записывает сущность и добавляет Change в журнал в одной транзакции.
type Service interface {
	CreateEvent(ctx context.Context, event *models.Event) error
	UpdateEvent(ctx context.Context, event *models.Event) error
	SetEventStatus(ctx context.Context, id string, status models.EventStatus) error
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	ListEvents(ctx context.Context) ([]*models.Event, error)
	DeleteEvent(ctx context.Context, id string) error

	AddParticipant(ctx context.Context, participant *models.Participant) error
	SetParticipantStatus(ctx context.Context, id string, status models.ParticipantStatus) error
	ListParticipants(ctx context.Context, eventID string) ([]*models.Participant, error)
	RemoveParticipant(ctx context.Context, id string) error

	CastVote(ctx context.Context, vote *models.Vote) error
	ListVotes(ctx context.Context, eventID string) ([]*models.Vote, error)
	RetractVote(ctx context.Context, id string) error
}

// versioned сущность со встроенным models.Stamp
type versioned interface {
	Touch(deviceID string, updatedAt int64)
	MarkDeleted()
	IsDeleted() bool
}

// service handles client-side entity writes
type service struct {
	store    storage.Store
	clock    *crdt.LamportClock
	userID   string
	deviceID string
}

// NewService creates a new data service
func NewService(store storage.Store, clock *crdt.LamportClock, userID, deviceID string) Service {
	return &service{
		store:    store,
		clock:    clock,
		userID:   userID,
		deviceID: deviceID,
	}
}

// CreateEvent создает мероприятие
func (s *service) CreateEvent(ctx context.Context, event *models.Event) error {
	if event.Status == "" {
		event.Status = models.EventStatusPlanned
	}
	if event.OwnerID == "" {
		event.OwnerID = s.userID
	}
	if err := validation.ValidateEvent(event); err != nil {
		return err
	}
	return create(ctx, s, models.EntityTypeEvent, &event.ID, event)
}

// UpdateEvent перезаписывает редактируемые поля мероприятия
func (s *service) UpdateEvent(ctx context.Context, event *models.Event) error {
	if err := validation.ValidateEvent(event); err != nil {
		return err
	}
	updated, err := mutate(ctx, s, models.EntityTypeEvent, event.ID, models.OperationUpdate, func(current *models.Event) error {
		current.Title = event.Title
		current.Description = event.Description
		current.Location = event.Location
		current.StartsAt = event.StartsAt
		if event.Status != "" {
			current.Status = event.Status
		}
		return nil
	})
	if err != nil {
		return err
	}
	*event = *updated
	return nil
}

// SetEventStatus меняет статус мероприятия
func (s *service) SetEventStatus(ctx context.Context, id string, status models.EventStatus) error {
	if !status.Valid() {
		return fmt.Errorf("unknown event status %q", status)
	}
	_, err := mutate(ctx, s, models.EntityTypeEvent, id, models.OperationUpdate, func(current *models.Event) error {
		current.Status = status
		return nil
	})
	return err
}

// GetEvent возвращает мероприятие по ID
func (s *service) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	return get[models.Event](ctx, s.store, models.EntityTypeEvent, id)
}

// ListEvents возвращает мероприятия, отсортированные по дате начала
func (s *service) ListEvents(ctx context.Context) ([]*models.Event, error) {
	events, err := list[models.Event](ctx, s.store, models.EntityTypeEvent, nil)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].StartsAt.Equal(events[j].StartsAt) {
			return events[i].StartsAt.Before(events[j].StartsAt)
		}
		return events[i].ID < events[j].ID
	})
	return events, nil
}

// DeleteEvent удаляет мероприятие (tombstone)
func (s *service) DeleteEvent(ctx context.Context, id string) error {
	return remove[models.Event](ctx, s, models.EntityTypeEvent, id)
}

// AddParticipant добавляет участника к существующему мероприятию
func (s *service) AddParticipant(ctx context.Context, participant *models.Participant) error {
	if participant.Status == "" {
		participant.Status = models.ParticipantInvited
	}
	if err := validation.ValidateParticipant(participant); err != nil {
		return err
	}
	if _, err := s.GetEvent(ctx, participant.EventID); err != nil {
		return fmt.Errorf("failed to find event: %w", err)
	}
	return create(ctx, s, models.EntityTypeParticipant, &participant.ID, participant)
}

// SetParticipantStatus меняет ответ участника
func (s *service) SetParticipantStatus(ctx context.Context, id string, status models.ParticipantStatus) error {
	if !status.Valid() {
		return fmt.Errorf("unknown participant status %q", status)
	}
	_, err := mutate(ctx, s, models.EntityTypeParticipant, id, models.OperationUpdate, func(current *models.Participant) error {
		current.Status = status
		return nil
	})
	return err
}

// ListParticipants возвращает участников мероприятия
func (s *service) ListParticipants(ctx context.Context, eventID string) ([]*models.Participant, error) {
	return list(ctx, s.store, models.EntityTypeParticipant, func(p *models.Participant) bool {
		return p.EventID == eventID
	})
}

// RemoveParticipant удаляет участника
func (s *service) RemoveParticipant(ctx context.Context, id string) error {
	return remove[models.Participant](ctx, s, models.EntityTypeParticipant, id)
}

// CastVote сохраняет голос участника
func (s *service) CastVote(ctx context.Context, vote *models.Vote) error {
	if err := validation.ValidateVote(vote); err != nil {
		return err
	}
	if _, err := get[models.Participant](ctx, s.store, models.EntityTypeParticipant, vote.ParticipantID); err != nil {
		return fmt.Errorf("failed to find participant: %w", err)
	}
	return create(ctx, s, models.EntityTypeVote, &vote.ID, vote)
}

// ListVotes возвращает голоса по мероприятию
func (s *service) ListVotes(ctx context.Context, eventID string) ([]*models.Vote, error) {
	return list(ctx, s.store, models.EntityTypeVote, func(v *models.Vote) bool {
		return v.EventID == eventID
	})
}

// RetractVote отзывает голос
func (s *service) RetractVote(ctx context.Context, id string) error {
	return remove[models.Vote](ctx, s, models.EntityTypeVote, id)
}

// record пишет снимок сущности и соответствующий Change в рамках tx
func (s *service) record(tx storage.Tx, entityType models.EntityType, id string, op models.Operation, entity versioned) error {
	ts := s.clock.Tick()
	entity.Touch(s.deviceID, ts)

	snapshot, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", entityType, err)
	}

	change, err := models.NewChange(s.userID, s.deviceID, entityType, id, op, json.RawMessage(snapshot), ts)
	if err != nil {
		return err
	}

	if err := tx.PutEntity(entityType, id, snapshot); err != nil {
		return fmt.Errorf("failed to save %s: %w", entityType, err)
	}
	if err := tx.AppendChange(change); err != nil {
		return fmt.Errorf("failed to append change: %w", err)
	}
	return tx.SaveClock(ts)
}

// create сохраняет новую сущность, генерируя ID если он не задан
func create(ctx context.Context, s *service, entityType models.EntityType, id *string, entity versioned) error {
	if *id == "" {
		*id = uuid.New().String()
	}

	return s.store.Update(ctx, func(tx storage.Tx) error {
		existing, err := tx.GetEntity(entityType, *id)
		switch {
		case err == nil:
			v, perr := models.ParseVersion(existing)
			if perr != nil || !v.Deleted {
				return fmt.Errorf("%w: %s/%s", ErrEntityExists, entityType, *id)
			}
		case !errors.Is(err, storage.ErrEntityNotFound):
			return err
		}
		return s.record(tx, entityType, *id, models.OperationCreate, entity)
	})
}

// mutate загружает живую сущность, применяет fn и записывает результат
func mutate[T any, PT interface {
	*T
	versioned
}](ctx context.Context, s *service, entityType models.EntityType, id string, op models.Operation, fn func(current PT) error) (PT, error) {
	var result PT

	err := s.store.Update(ctx, func(tx storage.Tx) error {
		raw, err := tx.GetEntity(entityType, id)
		if err != nil {
			return err
		}

		current := PT(new(T))
		if err := json.Unmarshal(raw, current); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", entityType, err)
		}
		if current.IsDeleted() {
			return fmt.Errorf("%w: %s/%s", storage.ErrEntityNotFound, entityType, id)
		}

		if err := fn(current); err != nil {
			return err
		}
		if err := s.record(tx, entityType, id, op, current); err != nil {
			return err
		}
		result = current
		return nil
	})
	if err != nil {
		var zero PT
		return zero, err
	}

	return result, nil
}

func remove[T any, PT interface {
	*T
	versioned
}](ctx context.Context, s *service, entityType models.EntityType, id string) error {
	_, err := mutate[T, PT](ctx, s, entityType, id, models.OperationDelete, func(current PT) error {
		current.MarkDeleted()
		return nil
	})
	return err
}

// get возвращает живую сущность; tombstone считается отсутствующей
func get[T any, PT interface {
	*T
	versioned
}](ctx context.Context, store storage.Store, entityType models.EntityType, id string) (PT, error) {
	var result PT

	err := store.View(ctx, func(tx storage.Tx) error {
		raw, err := tx.GetEntity(entityType, id)
		if err != nil {
			return err
		}
		entity := PT(new(T))
		if err := json.Unmarshal(raw, entity); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", entityType, err)
		}
		if entity.IsDeleted() {
			return fmt.Errorf("%w: %s/%s", storage.ErrEntityNotFound, entityType, id)
		}
		result = entity
		return nil
	})
	if err != nil {
		var zero PT
		return zero, err
	}

	return result, nil
}

// list возвращает живые сущности типа, прошедшие фильтр
func list[T any, PT interface {
	*T
	versioned
}](ctx context.Context, store storage.Store, entityType models.EntityType, keep func(PT) bool) ([]PT, error) {
	var result []PT

	err := store.View(ctx, func(tx storage.Tx) error {
		raws, err := tx.ListEntities(entityType)
		if err != nil {
			return err
		}
		for _, raw := range raws {
			entity := PT(new(T))
			if err := json.Unmarshal(raw, entity); err != nil {
				return fmt.Errorf("failed to unmarshal %s: %w", entityType, err)
			}
			if entity.IsDeleted() {
				continue
			}
			if keep == nil || keep(entity) {
				result = append(result, entity)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", entityType, err)
	}

	return result, nil
}
