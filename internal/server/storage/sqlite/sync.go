package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iudanet/offsync/internal/models"
	"github.com/iudanet/offsync/internal/server/storage"
	"github.com/iudanet/offsync/pkg/api"
)

// querier общий интерфейс *sql.DB и *sql.Tx
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ApplyChanges применяет пакет изменений в одной транзакции
func (s *Storage) ApplyChanges(ctx context.Context, userID string, changes []api.Change) (*storage.BatchResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	lastTS, err := maxServerTS(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	result := &storage.BatchResult{ServerTimestamp: lastTS}

	for i := range changes {
		change := &changes[i]

		incoming, err := validateChange(change)
		if err != nil {
			return nil, err
		}

		exists, err := changeExists(ctx, tx, change.ID)
		if err != nil {
			return nil, err
		}
		if exists {
			// повторная отправка после таймаута: подтверждаем без применения
			result.Applied++
			continue
		}

		current, err := getEntity(ctx, tx, userID, change.EntityType, change.EntityID)
		if err != nil && !errors.Is(err, storage.ErrEntityNotFound) {
			return nil, err
		}

		if conflictType, ok := storage.DetectConflict(current, change, incoming); ok {
			result.Conflicts = append(result.Conflicts, api.Conflict{
				ChangeID:      change.ID,
				EntityType:    change.EntityType,
				EntityID:      change.EntityID,
				ConflictType:  string(conflictType),
				RemoteVersion: current.Payload,
			})
			continue
		}

		// watermark строго возрастает даже при одинаковом времени
		serverTS := s.now().UnixMilli()
		if serverTS <= result.ServerTimestamp {
			serverTS = result.ServerTimestamp + 1
		}
		result.ServerTimestamp = serverTS

		if err := insertChange(ctx, tx, userID, change, serverTS); err != nil {
			return nil, err
		}

		if current == nil || change.ResolvesConflict != "" || incoming.IsNewerThan(currentVersion(current)) {
			if err := upsertEntity(ctx, tx, userID, change, incoming, serverTS); err != nil {
				return nil, err
			}
		}
		result.Applied++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return result, nil
}

// ChangesSince возвращает изменения других устройств новее watermark
func (s *Storage) ChangesSince(ctx context.Context, userID, excludeDeviceID string, since int64, limit int) ([]storage.StoredChange, error) {
	query := `
		SELECT id, user_id, device_id, entity_type, entity_id, operation,
		       resolves_conflict, payload, created_at, server_ts
		FROM changes
		WHERE user_id = ? AND device_id != ? AND server_ts > ?
		ORDER BY server_ts ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, userID, excludeDeviceID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	changes := make([]storage.StoredChange, 0)
	for rows.Next() {
		var (
			c       storage.StoredChange
			payload []byte
		)
		if err := rows.Scan(
			&c.ID,
			&c.UserID,
			&c.DeviceID,
			&c.EntityType,
			&c.EntityID,
			&c.Operation,
			&c.ResolvesConflict,
			&payload,
			&c.CreatedAt,
			&c.ServerTS,
		); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		c.Payload = json.RawMessage(payload)
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate changes: %w", err)
	}

	return changes, nil
}

// GetEntity возвращает текущий снимок сущности
func (s *Storage) GetEntity(ctx context.Context, userID, entityType, entityID string) (*storage.Entity, error) {
	return getEntity(ctx, s.db, userID, entityType, entityID)
}

func validateChange(change *api.Change) (models.Version, error) {
	if change.ID == "" || change.EntityID == "" {
		return models.Version{}, fmt.Errorf("%w: change id and entity id are required", storage.ErrInvalidChange)
	}
	if !models.EntityType(change.EntityType).Valid() {
		return models.Version{}, fmt.Errorf("%w: unknown entity type %q", storage.ErrInvalidChange, change.EntityType)
	}
	if !models.Operation(change.Operation).Valid() {
		return models.Version{}, fmt.Errorf("%w: unknown operation %q", storage.ErrInvalidChange, change.Operation)
	}
	v, err := models.ParseVersion(change.Payload)
	if err != nil {
		return models.Version{}, fmt.Errorf("%w: change %s: %w", storage.ErrInvalidChange, change.ID, err)
	}
	return v, nil
}

func currentVersion(e *storage.Entity) models.Version {
	return models.Version{DeviceID: e.DeviceID, UpdatedAt: e.UpdatedAt, Deleted: e.Deleted}
}

func maxServerTS(ctx context.Context, q querier, userID string) (int64, error) {
	var ts int64
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(server_ts), 0) FROM changes WHERE user_id = ?`, userID,
	).Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("failed to get last server timestamp: %w", err)
	}
	return ts, nil
}

func changeExists(ctx context.Context, q querier, id string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM changes WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check change: %w", err)
	}
	return true, nil
}

func insertChange(ctx context.Context, q querier, userID string, change *api.Change, serverTS int64) error {
	query := `
		INSERT INTO changes (
			id, user_id, device_id, entity_type, entity_id, operation,
			resolves_conflict, payload, created_at, server_ts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		change.ID,
		userID,
		change.DeviceID,
		change.EntityType,
		change.EntityID,
		change.Operation,
		change.ResolvesConflict,
		[]byte(change.Payload),
		change.CreatedAt,
		serverTS,
	)
	if err != nil {
		return fmt.Errorf("failed to insert change: %w", err)
	}
	return nil
}

func upsertEntity(ctx context.Context, q querier, userID string, change *api.Change, v models.Version, serverTS int64) error {
	query := `
		INSERT INTO entities (
			user_id, entity_type, entity_id, device_id, payload,
			updated_at, deleted, server_ts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, entity_type, entity_id) DO UPDATE SET
			device_id = excluded.device_id,
			payload = excluded.payload,
			updated_at = excluded.updated_at,
			deleted = excluded.deleted,
			server_ts = excluded.server_ts
	`
	_, err := q.ExecContext(ctx, query,
		userID,
		change.EntityType,
		change.EntityID,
		v.DeviceID,
		[]byte(change.Payload),
		v.UpdatedAt,
		boolToInt(v.Deleted),
		serverTS,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert entity: %w", err)
	}
	return nil
}

func getEntity(ctx context.Context, q querier, userID, entityType, entityID string) (*storage.Entity, error) {
	query := `
		SELECT user_id, entity_type, entity_id, device_id, payload,
		       updated_at, deleted, server_ts
		FROM entities
		WHERE user_id = ? AND entity_type = ? AND entity_id = ?
	`

	var (
		e       storage.Entity
		payload []byte
		deleted int
	)
	err := q.QueryRowContext(ctx, query, userID, entityType, entityID).Scan(
		&e.UserID,
		&e.EntityType,
		&e.EntityID,
		&e.DeviceID,
		&payload,
		&e.UpdatedAt,
		&deleted,
		&e.ServerTS,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrEntityNotFound
		}
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}

	e.Payload = json.RawMessage(payload)
	e.Deleted = deleted != 0
	return &e, nil
}

// boolToInt converts bool to int for SQLite storage
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
