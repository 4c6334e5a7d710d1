package boltdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"go.etcd.io/bbolt"

	"github.com/iudanet/offsync/internal/client/storage"
	"github.com/iudanet/offsync/internal/models"
)

// changeKey строит ключ журнала: big-endian CreatedAt + ID.
// Порядок ключей bbolt совпадает с FIFO порядком изменений.
func changeKey(c *models.Change) []byte {
	key := make([]byte, 8+len(c.ID))
	binary.BigEndian.PutUint64(key[:8], uint64(c.CreatedAt))
	copy(key[8:], c.ID)
	return key
}

// AppendChange добавляет изменение со статусом PENDING
func (t *txn) AppendChange(change *models.Change) error {
	changes, err := t.bucket(bucketChanges)
	if err != nil {
		return err
	}
	index, err := t.bucket(bucketChangeIndex)
	if err != nil {
		return err
	}

	if change.ID == "" {
		return fmt.Errorf("change id is empty")
	}
	if index.Get([]byte(change.ID)) != nil {
		return fmt.Errorf("change %s already exists", change.ID)
	}

	stored := change.Clone()
	stored.Status = models.ChangeStatusPending
	stored.RetryCount = 0
	now := t.now().UTC()
	if stored.RecordedAt.IsZero() {
		stored.RecordedAt = now
	}
	stored.StatusChangedAt = now

	key := changeKey(stored)
	if err := putJSON(changes, key, stored); err != nil {
		return fmt.Errorf("failed to save change: %w", err)
	}
	if err := index.Put([]byte(stored.ID), key); err != nil {
		return fmt.Errorf("failed to index change: %w", err)
	}
	if err := t.trackStatus(key, stored.Status); err != nil {
		return err
	}

	return nil
}

// GetChange возвращает изменение по ID
func (t *txn) GetChange(id string) (*models.Change, error) {
	change, _, err := t.loadChange(id)
	return change, err
}

// PendingChanges возвращает изменения, готовые к отправке, в FIFO порядке.
// Обходит только индекс недоставленных: SYNCED история не читается.
func (t *txn) PendingChanges(limit, maxRetries int) ([]*models.Change, error) {
	changes, err := t.bucket(bucketChanges)
	if err != nil {
		return nil, err
	}
	unsynced, err := t.bucket(bucketUnsynced)
	if err != nil {
		return nil, err
	}

	var result []*models.Change
	c := unsynced.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if limit > 0 && len(result) >= limit {
			break
		}

		status := models.ChangeStatus(v)
		if status != models.ChangeStatusPending && status != models.ChangeStatusFailed {
			continue
		}

		change, err := decodeChange(changes.Get(k))
		if err != nil {
			return nil, err
		}
		if change.Status == models.ChangeStatusFailed && change.RetryCount >= maxRetries {
			continue
		}
		result = append(result, change)
	}

	return result, nil
}

// MarkSyncing переводит изменения в SYNCING
func (t *txn) MarkSyncing(ids []string) error {
	return t.transition(ids, func(c *models.Change) (bool, error) {
		if c.Status == models.ChangeStatusSynced {
			return false, fmt.Errorf("change %s is already synced", c.ID)
		}
		c.Status = models.ChangeStatusSyncing
		return true, nil
	})
}

// MarkSynced переводит изменения в SYNCED. Повторная отметка ничего не меняет.
func (t *txn) MarkSynced(ids []string) error {
	return t.transition(ids, func(c *models.Change) (bool, error) {
		if c.Status == models.ChangeStatusSynced {
			return false, nil
		}
		c.Status = models.ChangeStatusSynced
		return true, nil
	})
}

// MarkFailed увеличивает RetryCount и переводит исчерпавшие попытки изменения в FAILED
func (t *txn) MarkFailed(ids []string, maxRetries int) ([]string, error) {
	var exhausted []string

	err := t.transition(ids, func(c *models.Change) (bool, error) {
		if c.Status == models.ChangeStatusSynced {
			return false, fmt.Errorf("change %s is already synced", c.ID)
		}
		c.RetryCount++
		if c.RetryCount >= maxRetries {
			c.Status = models.ChangeStatusFailed
			exhausted = append(exhausted, c.ID)
		} else {
			c.Status = models.ChangeStatusPending
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	return exhausted, nil
}

// Requeue возвращает изменения в PENDING, RetryCount не меняется
func (t *txn) Requeue(ids []string) error {
	return t.transition(ids, func(c *models.Change) (bool, error) {
		if c.Status == models.ChangeStatusSynced {
			return false, fmt.Errorf("change %s is already synced", c.ID)
		}
		c.Status = models.ChangeStatusPending
		return true, nil
	})
}

// CountPending считает PENDING и SYNCING изменения
func (t *txn) CountPending() (int, error) {
	return t.countUnsynced(models.ChangeStatusPending, models.ChangeStatusSyncing)
}

// CountFailed считает FAILED изменения
func (t *txn) CountFailed() (int, error) {
	return t.countUnsynced(models.ChangeStatusFailed)
}

// transition применяет fn к каждому изменению; любая ошибка откатывает транзакцию целиком
func (t *txn) transition(ids []string, fn func(c *models.Change) (bool, error)) error {
	changes, err := t.bucket(bucketChanges)
	if err != nil {
		return err
	}

	now := t.now().UTC()
	for _, id := range ids {
		change, key, err := t.loadChange(id)
		if err != nil {
			return err
		}

		changed, err := fn(change)
		if err != nil {
			return err
		}
		if !changed {
			continue
		}

		change.StatusChangedAt = now
		if err := putJSON(changes, key, change); err != nil {
			return fmt.Errorf("failed to update change %s: %w", id, err)
		}
		if err := t.trackStatus(key, change.Status); err != nil {
			return err
		}
	}

	return nil
}

func (t *txn) loadChange(id string) (*models.Change, []byte, error) {
	changes, err := t.bucket(bucketChanges)
	if err != nil {
		return nil, nil, err
	}
	index, err := t.bucket(bucketChangeIndex)
	if err != nil {
		return nil, nil, err
	}

	key := index.Get([]byte(id))
	if key == nil {
		return nil, nil, fmt.Errorf("%w: %s", storage.ErrChangeNotFound, id)
	}
	data := changes.Get(key)
	if data == nil {
		return nil, nil, fmt.Errorf("%w: %s", storage.ErrChangeNotFound, id)
	}

	change, err := decodeChange(data)
	if err != nil {
		return nil, nil, err
	}

	// key из bbolt валиден только внутри транзакции - копируем
	return change, append([]byte(nil), key...), nil
}

// trackStatus поддерживает индекс недоставленных: SYNCED изменения из него удаляются
func (t *txn) trackStatus(key []byte, status models.ChangeStatus) error {
	unsynced, err := t.bucket(bucketUnsynced)
	if err != nil {
		return err
	}

	if status == models.ChangeStatusSynced {
		err = unsynced.Delete(key)
	} else {
		err = unsynced.Put(key, []byte(status))
	}
	if err != nil {
		return fmt.Errorf("failed to update unsynced index: %w", err)
	}
	return nil
}

func (t *txn) countUnsynced(statuses ...models.ChangeStatus) (int, error) {
	unsynced, err := t.bucket(bucketUnsynced)
	if err != nil {
		return 0, err
	}

	count := 0
	err = unsynced.ForEach(func(_, v []byte) error {
		if slices.Contains(statuses, models.ChangeStatus(v)) {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

// rebuildUnsynced заполняет индекс недоставленных по журналу
func (t *txn) rebuildUnsynced() error {
	changes, err := t.bucket(bucketChanges)
	if err != nil {
		return err
	}
	unsynced, err := t.bucket(bucketUnsynced)
	if err != nil {
		return err
	}

	return changes.ForEach(func(k, v []byte) error {
		change, err := decodeChange(v)
		if err != nil {
			return err
		}
		if change.Status == models.ChangeStatusSynced {
			return nil
		}
		return unsynced.Put(append([]byte(nil), k...), []byte(change.Status))
	})
}

func (t *txn) listChanges(status models.ChangeStatus) ([]*models.Change, error) {
	changes, err := t.bucket(bucketChanges)
	if err != nil {
		return nil, err
	}

	var result []*models.Change
	err = changes.ForEach(func(_, v []byte) error {
		change, err := decodeChange(v)
		if err != nil {
			return err
		}
		if status == "" || change.Status == status {
			result = append(result, change)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// rewriteWhere применяет fn ко всем недоставленным изменениям со статусом status
func (t *txn) rewriteWhere(status models.ChangeStatus, fn func(c *models.Change)) (int, error) {
	changes, err := t.bucket(bucketChanges)
	if err != nil {
		return 0, err
	}
	unsynced, err := t.bucket(bucketUnsynced)
	if err != nil {
		return 0, err
	}

	var keys [][]byte
	err = unsynced.ForEach(func(k, v []byte) error {
		if models.ChangeStatus(v) == status {
			keys = append(keys, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	// Пишем после обхода: bbolt не разрешает менять bucket во время ForEach
	now := t.now().UTC()
	for _, key := range keys {
		change, err := decodeChange(changes.Get(key))
		if err != nil {
			return 0, err
		}
		fn(change)
		change.StatusChangedAt = now
		if err := putJSON(changes, key, change); err != nil {
			return 0, fmt.Errorf("failed to update change: %w", err)
		}
		if err := t.trackStatus(key, change.Status); err != nil {
			return 0, err
		}
	}

	return len(keys), nil
}

func (t *txn) purgeSynced(before time.Time) (int, error) {
	changes, err := t.bucket(bucketChanges)
	if err != nil {
		return 0, err
	}
	index, err := t.bucket(bucketChangeIndex)
	if err != nil {
		return 0, err
	}

	var stale [][]byte
	var staleIDs []string
	err = changes.ForEach(func(k, v []byte) error {
		change, err := decodeChange(v)
		if err != nil {
			return err
		}
		if change.Status == models.ChangeStatusSynced && change.StatusChangedAt.Before(before) {
			stale = append(stale, append([]byte(nil), k...))
			staleIDs = append(staleIDs, change.ID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for i, k := range stale {
		if err := changes.Delete(k); err != nil {
			return 0, fmt.Errorf("failed to delete change: %w", err)
		}
		if err := index.Delete([]byte(staleIDs[i])); err != nil {
			return 0, fmt.Errorf("failed to delete change index: %w", err)
		}
	}

	return len(stale), nil
}

// Append добавляет изменение в собственной транзакции
func (s *Storage) Append(ctx context.Context, change *models.Change) error {
	return s.Update(ctx, func(tx storage.Tx) error {
		return tx.AppendChange(change)
	})
}

// Pending возвращает изменения, готовые к отправке
func (s *Storage) Pending(ctx context.Context, limit, maxRetries int) ([]*models.Change, error) {
	var result []*models.Change
	err := s.View(ctx, func(tx storage.Tx) error {
		var err error
		result, err = tx.PendingChanges(limit, maxRetries)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get pending changes: %w", err)
	}
	return result, nil
}

// MarkSynced переводит изменения в SYNCED
func (s *Storage) MarkSynced(ctx context.Context, ids []string) error {
	return s.Update(ctx, func(tx storage.Tx) error {
		return tx.MarkSynced(ids)
	})
}

// MarkFailed фиксирует неудачную доставку
func (s *Storage) MarkFailed(ctx context.Context, ids []string, maxRetries int) ([]string, error) {
	var exhausted []string
	err := s.Update(ctx, func(tx storage.Tx) error {
		var err error
		exhausted, err = tx.MarkFailed(ids, maxRetries)
		return err
	})
	return exhausted, err
}

// CountPending количество недоставленных изменений
func (s *Storage) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.View(ctx, func(tx storage.Tx) error {
		var err error
		n, err = tx.CountPending()
		return err
	})
	return n, err
}

// CountFailed количество FAILED изменений
func (s *Storage) CountFailed(ctx context.Context) (int, error) {
	var n int
	err := s.View(ctx, func(tx storage.Tx) error {
		var err error
		n, err = tx.CountFailed()
		return err
	})
	return n, err
}

// ListChanges возвращает изменения с заданным статусом в FIFO порядке
func (s *Storage) ListChanges(ctx context.Context, status models.ChangeStatus) ([]*models.Change, error) {
	var result []*models.Change
	err := s.view(ctx, func(t *txn) error {
		var err error
		result, err = t.listChanges(status)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}

	return result, nil
}

// RetryFailed возвращает FAILED изменения в PENDING со сбросом счетчика попыток
func (s *Storage) RetryFailed(ctx context.Context) (int, error) {
	return s.rewriteWhere(ctx, models.ChangeStatusFailed, func(c *models.Change) {
		c.Status = models.ChangeStatusPending
		c.RetryCount = 0
	})
}

// RecoverInFlight возвращает зависшие SYNCING изменения в PENDING
func (s *Storage) RecoverInFlight(ctx context.Context) (int, error) {
	return s.rewriteWhere(ctx, models.ChangeStatusSyncing, func(c *models.Change) {
		c.Status = models.ChangeStatusPending
	})
}

// PurgeSynced удаляет SYNCED изменения старше before (garbage collection)
func (s *Storage) PurgeSynced(ctx context.Context, before time.Time) (int, error) {
	var purged int
	err := s.update(ctx, func(t *txn) error {
		var err error
		purged, err = t.purgeSynced(before)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("purge transaction failed: %w", err)
	}

	return purged, nil
}

func (s *Storage) rewriteWhere(ctx context.Context, status models.ChangeStatus, fn func(c *models.Change)) (int, error) {
	var n int
	err := s.update(ctx, func(t *txn) error {
		var err error
		n, err = t.rewriteWhere(status, fn)
		return err
	})
	if err != nil {
		return 0, err
	}

	return n, nil
}

func decodeChange(data []byte) (*models.Change, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: dangling journal key", storage.ErrChangeNotFound)
	}
	var change models.Change
	if err := json.Unmarshal(data, &change); err != nil {
		return nil, fmt.Errorf("failed to unmarshal change: %w", err)
	}
	return &change, nil
}

func putJSON(b *bbolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}
	return b.Put(key, data)
}
