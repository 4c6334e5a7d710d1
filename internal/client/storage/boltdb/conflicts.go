package boltdb

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/iudanet/offsync/internal/client/storage"
	"github.com/iudanet/offsync/internal/models"
)

// SaveConflict создает или обновляет запись конфликта
func (t *txn) SaveConflict(conflict *models.Conflict) error {
	bucket, err := t.bucket(bucketConflicts)
	if err != nil {
		return err
	}
	if conflict.ID == "" {
		return fmt.Errorf("conflict id is empty")
	}

	if err := putJSON(bucket, []byte(conflict.ID), conflict); err != nil {
		return fmt.Errorf("failed to save conflict: %w", err)
	}
	return nil
}

// GetConflict возвращает конфликт по ID
func (t *txn) GetConflict(id string) (*models.Conflict, error) {
	bucket, err := t.bucket(bucketConflicts)
	if err != nil {
		return nil, err
	}

	data := bucket.Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrConflictNotFound, id)
	}

	var conflict models.Conflict
	if err := json.Unmarshal(data, &conflict); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conflict: %w", err)
	}

	return &conflict, nil
}

// UnresolvedConflictForChange возвращает неразрешенный конфликт для изменения
func (t *txn) UnresolvedConflictForChange(changeID string) (*models.Conflict, error) {
	conflicts, err := t.ListConflicts(false)
	if err != nil {
		return nil, err
	}

	for _, c := range conflicts {
		if c.ChangeID == changeID {
			return c, nil
		}
	}

	return nil, fmt.Errorf("%w: change %s", storage.ErrConflictNotFound, changeID)
}

// ListConflicts возвращает конфликты в порядке обнаружения
func (t *txn) ListConflicts(includeResolved bool) ([]*models.Conflict, error) {
	bucket, err := t.bucket(bucketConflicts)
	if err != nil {
		return nil, err
	}

	var result []*models.Conflict
	err = bucket.ForEach(func(_, v []byte) error {
		var conflict models.Conflict
		if err := json.Unmarshal(v, &conflict); err != nil {
			return fmt.Errorf("failed to unmarshal conflict: %w", err)
		}
		if includeResolved || !conflict.Resolved {
			result = append(result, &conflict)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].DetectedAt.Equal(result[j].DetectedAt) {
			return result[i].DetectedAt.Before(result[j].DetectedAt)
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// CountUnresolvedConflicts количество неразрешенных конфликтов
func (t *txn) CountUnresolvedConflicts() (int, error) {
	conflicts, err := t.ListConflicts(false)
	if err != nil {
		return 0, err
	}
	return len(conflicts), nil
}
