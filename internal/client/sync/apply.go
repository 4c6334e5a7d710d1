package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/iudanet/offsync/internal/client/storage"
	"github.com/iudanet/offsync/internal/conflict"
	"github.com/iudanet/offsync/internal/models"
	"github.com/iudanet/offsync/pkg/api"
)

// applyResponse применяет ответ сервера в одной локальной транзакции
func (e *Engine) applyResponse(ctx context.Context, result *Result, changes []*models.Change, resp *api.SyncResponse) error {
	reported, orphaned := matchConflicts(changes, resp.Conflicts)

	var (
		synced, requeued []string
		reports          []ConflictReport
		remoteApplied    int
	)

	err := e.store.Update(ctx, func(tx storage.Tx) error {
		for _, change := range changes {
			rc, conflicting := reported[change.ID]
			if !conflicting {
				synced = append(synced, change.ID)
				continue
			}
			delete(reported, change.ID)

			report, err := e.recordConflict(tx, change, rc)
			if err != nil {
				return err
			}
			reports = append(reports, report)
			if report.Resolved {
				synced = append(synced, change.ID)
			} else {
				requeued = append(requeued, change.ID)
			}
		}

		if err := tx.MarkSynced(synced); err != nil {
			return err
		}
		if err := tx.Requeue(requeued); err != nil {
			return err
		}

		for _, rc := range resp.RemoteChanges {
			applied, err := e.mergeRemote(tx, rc)
			if err != nil {
				return err
			}
			if applied {
				remoteApplied++
			}
		}

		if err := tx.SaveClock(e.clock.Now()); err != nil {
			return err
		}
		return e.updateMetadata(tx, nil, len(synced), resp.ServerTimestamp)
	})
	if err != nil {
		return err
	}

	for changeID := range reported {
		e.logger.Warn("Server reported conflict for unknown change", "change_id", changeID)
	}
	for _, rc := range orphaned {
		e.logger.Warn("Server reported conflict for entity outside the batch",
			"entity_type", rc.EntityType, "entity_id", rc.EntityID)
	}
	e.logger.Debug("Response applied", "server_applied", resp.AppliedChanges, "synced", len(synced))

	result.Synced = len(synced)
	result.Requeued = len(requeued)
	result.Conflicts = append(result.Conflicts, reports...)
	result.RemoteApplied = remoteApplied
	return nil
}

// matchConflicts сопоставляет конфликты ответа с изменениями пакета.
// Конфликт без ChangeID относится к последнему изменению той же сущности в пакете.
func matchConflicts(changes []*models.Change, conflicts []api.Conflict) (map[string]api.Conflict, []api.Conflict) {
	type entityKey struct{ entityType, entityID string }

	latest := make(map[entityKey]string, len(changes))
	for _, c := range changes {
		// пакет в FIFO порядке: последнее изменение сущности перезаписывает предыдущие
		latest[entityKey{string(c.EntityType), c.EntityID}] = c.ID
	}

	reported := make(map[string]api.Conflict, len(conflicts))
	var orphaned []api.Conflict
	for _, c := range conflicts {
		id := c.ChangeID
		if id == "" {
			var ok bool
			if id, ok = latest[entityKey{c.EntityType, c.EntityID}]; !ok {
				orphaned = append(orphaned, c)
				continue
			}
			c.ChangeID = id
		}
		reported[id] = c
	}

	return reported, orphaned
}

// recordConflict сохраняет конфликт и сразу пытается разрешить его стратегией по умолчанию
func (e *Engine) recordConflict(tx storage.Tx, change *models.Change, rc api.Conflict) (ConflictReport, error) {
	e.witness(rc.RemoteVersion)

	c, err := tx.UnresolvedConflictForChange(change.ID)
	switch {
	case err == nil:
		// изменение отправлено повторно и снова конфликтует
		c.RemoteVersion = append(json.RawMessage(nil), rc.RemoteVersion...)
		c.ConflictType = models.ConflictType(rc.ConflictType)
	case errors.Is(err, storage.ErrConflictNotFound):
		c = &models.Conflict{
			ID:            uuid.New().String(),
			ChangeID:      change.ID,
			EntityType:    change.EntityType,
			EntityID:      change.EntityID,
			ConflictType:  models.ConflictType(rc.ConflictType),
			LocalVersion:  append(json.RawMessage(nil), change.Payload...),
			RemoteVersion: append(json.RawMessage(nil), rc.RemoteVersion...),
			DetectedAt:    e.now().UTC(),
		}
	default:
		return ConflictReport{}, err
	}

	e.logger.Info("Conflict detected",
		"conflict_id", c.ID,
		"change_id", change.ID,
		"entity_type", change.EntityType,
		"entity_id", change.EntityID,
		"type", c.ConflictType)

	return e.tryResolve(tx, c, change)
}

// retryOpenConflicts повторяет разрешение конфликтов, оставшихся с прошлых циклов
func (e *Engine) retryOpenConflicts(ctx context.Context, result *Result) error {
	var reports []ConflictReport

	err := e.store.Update(ctx, func(tx storage.Tx) error {
		open, err := tx.ListConflicts(false)
		if err != nil {
			return err
		}

		for _, c := range open {
			change, err := tx.GetChange(c.ChangeID)
			if err != nil && !errors.Is(err, storage.ErrChangeNotFound) {
				return err
			}

			if change == nil || change.Status == models.ChangeStatusSynced {
				// сервер уже принял локальную версию
				res := &models.Resolution{
					Strategy:        e.resolver.Strategy(),
					Winner:          models.SideLocal,
					SelectedVersion: append(json.RawMessage(nil), c.LocalVersion...),
					AppliedAt:       e.now().UTC(),
				}
				c.MarkResolved(res)
				if err := tx.SaveConflict(c); err != nil {
					return err
				}
				continue
			}

			report, err := e.tryResolve(tx, c, change)
			if err != nil {
				return err
			}
			if report.Resolved {
				if err := tx.MarkSynced([]string{change.ID}); err != nil {
					return err
				}
			}
			reports = append(reports, report)
		}
		return nil
	})
	if err != nil {
		return err
	}

	result.Conflicts = append(result.Conflicts, reports...)
	return nil
}

// tryResolve разрешает конфликт; неудача сохраняется в записи и не считается ошибкой цикла
func (e *Engine) tryResolve(tx storage.Tx, c *models.Conflict, change *models.Change) (ConflictReport, error) {
	report := ConflictReport{
		ConflictID:   c.ID,
		ChangeID:     change.ID,
		EntityID:     change.EntityID,
		ConflictType: c.ConflictType,
	}

	c.Attempts++
	res, err := e.resolver.Resolve(c)
	if err != nil {
		if !errors.Is(err, conflict.ErrManualStrategy) {
			e.logger.Warn("Conflict resolution failed", "conflict_id", c.ID, "attempts", c.Attempts, "error", err)
		}
		c.LastError = err.Error()
		if serr := tx.SaveConflict(c); serr != nil {
			return report, serr
		}
		report.Err = fmt.Errorf("%w: %w", ErrConflictDetected, err)
		return report, nil
	}

	if err := e.applyResolution(tx, c, change, res); err != nil {
		return report, err
	}

	report.Resolved = true
	report.Winner = res.Winner
	return report, nil
}

// applyResolution применяет выбранную версию и закрывает конфликт.
// Remote: удаленный снимок записывается в локальное хранилище.
// Local: добавляется новое изменение с ResolvesConflict, сервер примет его безусловно.
func (e *Engine) applyResolution(tx storage.Tx, c *models.Conflict, change *models.Change, res *models.Resolution) error {
	switch res.Winner {
	case models.SideRemote:
		superseded, err := e.superseded(tx, change)
		if err != nil {
			return err
		}
		if !superseded {
			if err := e.applyRemote(tx, change, res.SelectedVersion); err != nil {
				return err
			}
		}
	case models.SideLocal:
		superseded, err := e.superseded(tx, change)
		if err != nil {
			return err
		}
		// более поздняя локальная запись уже стоит в очереди и заменит эту версию
		if !superseded {
			if err := e.reassertLocal(tx, c, change, res.SelectedVersion); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: unknown winner %q", conflict.ErrResolutionFailed, res.Winner)
	}

	c.MarkResolved(res)
	if err := tx.SaveConflict(c); err != nil {
		return err
	}

	e.logger.Info("Conflict resolved",
		"conflict_id", c.ID,
		"strategy", res.Strategy,
		"winner", res.Winner)
	return nil
}

// applyRemote записывает победившую удаленную версию. null версия означает,
// что у сервера сущности нет: локальный снимок помечается удаленным.
func (e *Engine) applyRemote(tx storage.Tx, change *models.Change, selected json.RawMessage) error {
	if !models.IsNullSnapshot(selected) {
		return tx.PutEntity(change.EntityType, change.EntityID, selected)
	}

	current, err := tx.GetEntity(change.EntityType, change.EntityID)
	if errors.Is(err, storage.ErrEntityNotFound) {
		current = change.Payload
	} else if err != nil {
		return err
	}

	tombstone, err := markDeleted(current)
	if err != nil {
		e.logger.Debug("Nothing to tombstone", "entity_type", change.EntityType, "entity_id", change.EntityID)
		return nil
	}
	return tx.PutEntity(change.EntityType, change.EntityID, tombstone)
}

func (e *Engine) reassertLocal(tx storage.Tx, c *models.Conflict, change *models.Change, selected json.RawMessage) error {
	ts := e.clock.Tick()

	snapshot, err := restamp(selected, e.cfg.DeviceID, ts)
	if err != nil {
		return fmt.Errorf("%w: %v", conflict.ErrResolutionFailed, err)
	}

	op := models.OperationUpdate
	if v, err := models.ParseVersion(snapshot); err == nil && v.Deleted {
		op = models.OperationDelete
	}

	next, err := models.NewChange(change.UserID, e.cfg.DeviceID, change.EntityType, change.EntityID, op, snapshot, ts)
	if err != nil {
		return err
	}
	next.ResolvesConflict = c.ID

	if err := tx.PutEntity(change.EntityType, change.EntityID, snapshot); err != nil {
		return err
	}
	if err := tx.AppendChange(next); err != nil {
		return err
	}
	return tx.SaveClock(ts)
}

// superseded true если после конфликтующего изменения сущность была изменена локально еще раз
func (e *Engine) superseded(tx storage.Tx, change *models.Change) (bool, error) {
	current, err := tx.GetEntity(change.EntityType, change.EntityID)
	if errors.Is(err, storage.ErrEntityNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	cv, cerr := models.ParseVersion(current)
	lv, lerr := models.ParseVersion(change.Payload)
	if cerr != nil || lerr != nil || !cv.IsNewerThan(lv) {
		return false, nil
	}

	e.logger.Debug("Local entity superseded by a later write",
		"entity_type", change.EntityType, "entity_id", change.EntityID)
	return true, nil
}

// mergeRemote применяет изменение другого устройства по правилу LWW.
// Возвращает true если локальный снимок был заменен.
func (e *Engine) mergeRemote(tx storage.Tx, rc api.Change) (bool, error) {
	e.clock.Witness(rc.CreatedAt)
	e.witness(rc.Payload)

	if rc.DeviceID == e.cfg.DeviceID {
		return false, nil
	}

	entityType := models.EntityType(rc.EntityType)
	if !entityType.Valid() || rc.EntityID == "" || models.IsNullSnapshot(rc.Payload) {
		e.logger.Warn("Skipping malformed remote change", "change_id", rc.ID, "entity_type", rc.EntityType)
		return false, nil
	}

	local, err := tx.GetEntity(entityType, rc.EntityID)
	if errors.Is(err, storage.ErrEntityNotFound) {
		return true, tx.PutEntity(entityType, rc.EntityID, rc.Payload)
	}
	if err != nil {
		return false, err
	}

	winner, err := conflict.Compare(local, rc.Payload)
	if err != nil {
		e.logger.Warn("Skipping remote change", "change_id", rc.ID, "error", err)
		return false, nil
	}
	if winner != models.SideRemote {
		e.logger.Debug("Skipping remote change (local is newer)", "change_id", rc.ID, "entity_id", rc.EntityID)
		return false, nil
	}

	return true, tx.PutEntity(entityType, rc.EntityID, rc.Payload)
}

// witness продвигает часы за версию снимка
func (e *Engine) witness(raw json.RawMessage) {
	if v, err := models.ParseVersion(raw); err == nil {
		e.clock.Witness(v.UpdatedAt)
	}
}

// restamp проставляет снимку новую версию, сохраняя остальные поля
func restamp(raw json.RawMessage, deviceID string, ts int64) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errors.New("empty snapshot")
	}

	var err error
	if fields["device_id"], err = json.Marshal(deviceID); err != nil {
		return nil, err
	}
	if fields["updated_at"], err = json.Marshal(ts); err != nil {
		return nil, err
	}

	return json.Marshal(fields)
}

// markDeleted помечает снимок надгробием, версия не меняется
func markDeleted(raw json.RawMessage) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errors.New("empty snapshot")
	}

	fields["deleted"] = json.RawMessage("true")
	return json.Marshal(fields)
}
