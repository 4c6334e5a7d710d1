package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iudanet/offsync/internal/client/storage"
	"github.com/iudanet/offsync/internal/conflict"
	"github.com/iudanet/offsync/internal/crdt"
	"github.com/iudanet/offsync/internal/models"
	"github.com/iudanet/offsync/internal/netmon"
	"github.com/iudanet/offsync/internal/retry"
	"github.com/iudanet/offsync/pkg/api"
)

//go:generate moq -out transport_mock.go . Transport

// Transport отправляет пакет изменений на сервер
type Transport interface {
	Send(ctx context.Context, req *api.SyncRequest) (*api.SyncResponse, error)
}

const (
	// DefaultBatchSize максимальное количество изменений в одном запросе
	DefaultBatchSize = 100
	// DefaultTransportTimeout ограничение на один вызов Transport.Send
	DefaultTransportTimeout = 30 * time.Second
)

// Config параметры движка синхронизации
type Config struct {
	UserID           string
	DeviceID         string
	Policy           retry.Policy
	BatchSize        int
	TransportTimeout time.Duration
	// PullWhenIdle отправлять пустой пакет, чтобы получить удаленные изменения,
	// даже если локальных изменений нет
	PullWhenIdle bool
}

// Engine оркестрирует цикл синхронизации одного устройства.
// Одновременно выполняется не больше одного цикла.
type Engine struct {
	store     storage.Store
	transport Transport
	monitor   netmon.Monitor
	resolver  *conflict.Resolver
	clock     *crdt.LamportClock
	logger    *slog.Logger
	now       func() time.Time
	observers []func(models.SyncState)
	cfg       Config

	cycleMu sync.Mutex // удерживается на время цикла
	stateMu sync.RWMutex
	phase   Phase
}

// NewEngine создает движок и возвращает в очередь изменения, зависшие в SYNCING
// после аварийного завершения предыдущего процесса
func NewEngine(
	ctx context.Context,
	store storage.Store,
	transport Transport,
	monitor netmon.Monitor,
	resolver *conflict.Resolver,
	clock *crdt.LamportClock,
	cfg Config,
	logger *slog.Logger,
) (*Engine, error) {
	if cfg.DeviceID == "" {
		return nil, errors.New("device id is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.TransportTimeout <= 0 {
		cfg.TransportTimeout = DefaultTransportTimeout
	}
	if cfg.Policy == (retry.Policy{}) {
		cfg.Policy = retry.DefaultPolicy()
	}

	recovered, err := store.RecoverInFlight(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover in-flight changes: %w", err)
	}
	if recovered > 0 {
		logger.Warn("Recovered changes left in SYNCING state", "count", recovered)
	}

	return &Engine{
		store:     store,
		transport: transport,
		monitor:   monitor,
		resolver:  resolver,
		clock:     clock,
		logger:    logger,
		now:       time.Now,
		cfg:       cfg,
		phase:     PhaseIdle,
	}, nil
}

// OnStateChange регистрирует наблюдателя; вызывается после каждого цикла и ручных операций
func (e *Engine) OnStateChange(fn func(models.SyncState)) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	e.observers = append(e.observers, fn)
}

// Phase текущая фаза цикла
func (e *Engine) Phase() Phase {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.phase
}

// State пересчитывает наблюдаемое состояние из журнала и metadata
func (e *Engine) State(ctx context.Context) (models.SyncState, error) {
	phase := e.Phase()
	state := models.SyncState{
		Phase:     string(phase),
		IsOnline:  e.monitor.IsAvailable(),
		IsSyncing: phase != PhaseIdle,
	}

	err := e.store.View(ctx, func(tx storage.Tx) error {
		var err error
		if state.PendingChangesCount, err = tx.CountPending(); err != nil {
			return err
		}
		if state.FailedChangesCount, err = tx.CountFailed(); err != nil {
			return err
		}
		if state.ConflictsCount, err = tx.CountUnresolvedConflicts(); err != nil {
			return err
		}
		meta, err := tx.GetMetadata(e.cfg.DeviceID)
		if err != nil {
			return err
		}
		state.LastSyncTimestamp = meta.LastSyncTimestamp
		return nil
	})
	if err != nil {
		return models.SyncState{}, fmt.Errorf("failed to read sync state: %w", err)
	}

	return state, nil
}

// TriggerSync запускает цикл синхронизации. Если цикл уже идет, сразу возвращает
// OutcomeAlreadySyncing. Ошибки сети и транспорта отражаются в Result;
// error возвращается только при сбое локального хранилища.
func (e *Engine) TriggerSync(ctx context.Context) (*Result, error) {
	if !e.cycleMu.TryLock() {
		return &Result{Outcome: OutcomeAlreadySyncing, Err: ErrAlreadySyncing}, nil
	}
	defer e.cycleMu.Unlock()

	start := e.now()
	result, err := e.runCycle(ctx)
	if err != nil {
		e.setPhase(PhaseError)
		e.logger.Error("Synchronization aborted", "error", err)
	}
	e.setPhase(PhaseIdle)

	if result != nil {
		result.Duration = e.now().Sub(start)
	}
	e.notify(ctx)

	return result, err
}

// RetryFailed возвращает FAILED изменения в очередь со сброшенным счетчиком попыток
func (e *Engine) RetryFailed(ctx context.Context) (int, error) {
	n, err := e.store.RetryFailed(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue failed changes: %w", err)
	}
	e.logger.Info("Failed changes requeued", "count", n)
	e.notify(ctx)
	return n, nil
}

// ResolveConflict разрешает конфликт выбором пользователя
func (e *Engine) ResolveConflict(ctx context.Context, conflictID string, winner models.Side) (*models.Resolution, error) {
	var resolution *models.Resolution

	err := e.store.Update(ctx, func(tx storage.Tx) error {
		c, err := tx.GetConflict(conflictID)
		if err != nil {
			return err
		}
		if c.Resolved {
			return fmt.Errorf("%w: %s", storage.ErrConflictAlreadyResolved, conflictID)
		}

		res, err := e.resolver.ResolveManually(c, winner)
		if err != nil {
			return err
		}

		change, err := tx.GetChange(c.ChangeID)
		if err != nil {
			return err
		}
		if err := e.applyResolution(tx, c, change, res); err != nil {
			return err
		}
		if change.Status != models.ChangeStatusSynced {
			if err := tx.MarkSynced([]string{change.ID}); err != nil {
				return err
			}
		}

		resolution = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve conflict %s: %w", conflictID, err)
	}

	e.logger.Info("Conflict resolved manually", "conflict_id", conflictID, "winner", winner)
	e.notify(ctx)
	return resolution, nil
}

// CollectGarbage удаляет SYNCED изменения старше retention
func (e *Engine) CollectGarbage(ctx context.Context, retention time.Duration) (int, error) {
	n, err := e.store.PurgeSynced(ctx, e.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to collect garbage: %w", err)
	}
	if n > 0 {
		e.logger.Info("Synced changes purged", "count", n, "retention", retention)
	}
	return n, nil
}

func (e *Engine) runCycle(ctx context.Context) (*Result, error) {
	result := &Result{}

	// CHECKING_NETWORK
	e.setPhase(PhaseCheckingNetwork)
	if !e.monitor.IsAvailable() {
		e.logger.Info("Skipping synchronization: network unavailable")
		result.Outcome = OutcomeOffline
		result.Err = ErrNetworkUnavailable
		return result, e.recordAttempt(ctx, nil)
	}

	// COLLECTING
	e.setPhase(PhaseCollecting)
	if err := e.retryOpenConflicts(ctx, result); err != nil {
		return nil, err
	}

	changes, err := e.store.Pending(ctx, e.cfg.BatchSize, e.cfg.Policy.MaxRetries())
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 && !e.cfg.PullWhenIdle {
		e.logger.Debug("Nothing to synchronize")
		result.Outcome = OutcomeNoChanges
		return result, e.recordAttempt(ctx, nil)
	}

	// SENDING
	e.setPhase(PhaseSending)
	ids := make([]string, 0, len(changes))
	for _, c := range changes {
		ids = append(ids, c.ID)
	}

	var meta *models.SyncMetadata
	err = e.store.Update(ctx, func(tx storage.Tx) error {
		if err := tx.MarkSyncing(ids); err != nil {
			return err
		}
		var err error
		meta, err = tx.GetMetadata(e.cfg.DeviceID)
		return err
	})
	if err != nil {
		return nil, err
	}

	req := &api.SyncRequest{
		UserID:            e.cfg.UserID,
		DeviceID:          e.cfg.DeviceID,
		LastSyncTimestamp: meta.LastSyncTimestamp,
		Changes:           make([]api.Change, 0, len(changes)),
	}
	for _, c := range changes {
		req.Changes = append(req.Changes, toAPIChange(c))
	}
	result.Sent = len(changes)

	e.logger.Info("Sending changes", "count", len(changes), "since", req.LastSyncTimestamp)

	sendCtx, cancel := context.WithTimeout(ctx, e.cfg.TransportTimeout)
	resp, sendErr := e.transport.Send(sendCtx, req)
	cancel()

	switch {
	case sendErr != nil:
		return e.handleSendFailure(ctx, result, changes, &TransportError{Op: "send", Err: sendErr})
	case resp == nil:
		return e.handleSendFailure(ctx, result, changes, &TransportError{Op: "send", Err: errors.New("empty response")})
	case !resp.Success:
		return e.handleSendFailure(ctx, result, changes, &TransportError{Op: "sync", Err: fmt.Errorf("rejected by server: %s", resp.Message)})
	}

	// APPLYING_RESPONSE
	e.setPhase(PhaseApplyingResponse)
	if err := e.applyResponse(ctx, result, changes, resp); err != nil {
		// Сервер изменения уже принял; повторная отправка идемпотентна по ID
		if rqErr := e.store.Update(context.WithoutCancel(ctx), func(tx storage.Tx) error {
			return tx.Requeue(ids)
		}); rqErr != nil {
			e.logger.Error("Failed to requeue changes after apply failure", "error", rqErr)
		}
		return nil, err
	}

	result.Outcome = OutcomeSuccess
	e.logger.Info("Synchronization completed",
		"sent", result.Sent,
		"synced", result.Synced,
		"requeued", result.Requeued,
		"conflicts", len(result.Conflicts),
		"remote_applied", result.RemoteApplied,
		"server_timestamp", resp.ServerTimestamp)

	return result, nil
}

// handleSendFailure засчитывает неудачную попытку всем отправленным изменениям
func (e *Engine) handleSendFailure(ctx context.Context, result *Result, changes []*models.Change, terr *TransportError) (*Result, error) {
	e.logger.Warn("Synchronization failed", "error", terr, "changes", len(changes))

	ids := make([]string, 0, len(changes))
	entities := make(map[string]string, len(changes))
	for _, c := range changes {
		ids = append(ids, c.ID)
		entities[c.ID] = c.EntityID
	}

	// Отмена ctx вызывающим не должна оставить изменения в SYNCING
	storeCtx := context.WithoutCancel(ctx)

	var exhausted []string
	err := e.store.Update(storeCtx, func(tx storage.Tx) error {
		var err error
		if len(ids) > 0 {
			if exhausted, err = tx.MarkFailed(ids, e.cfg.Policy.MaxRetries()); err != nil {
				return err
			}
		}
		return e.updateMetadata(tx, terr, 0, 0)
	})
	if err != nil {
		return nil, err
	}

	for _, id := range exhausted {
		e.logger.Error("Change exhausted retries", "change_id", id, "entity_id", entities[id])
		result.Exhausted = append(result.Exhausted, ChangeFailure{
			ChangeID: id,
			EntityID: entities[id],
			Err:      fmt.Errorf("%w: change %s", ErrMaxRetriesExceeded, id),
		})
	}

	result.Outcome = OutcomeTransportError
	result.Err = terr
	return result, nil
}

// recordAttempt обновляет metadata для цикла без обращения к серверу
func (e *Engine) recordAttempt(ctx context.Context, cause error) error {
	return e.store.Update(ctx, func(tx storage.Tx) error {
		meta, err := tx.GetMetadata(e.cfg.DeviceID)
		if err != nil {
			return err
		}
		meta.LastSyncAttemptTimestamp = e.now().UnixMilli()
		if meta.PendingChangesCount, err = tx.CountPending(); err != nil {
			return err
		}
		if cause != nil {
			meta.LastError = cause.Error()
		}
		return tx.SaveMetadata(meta)
	})
}

// updateMetadata фиксирует итог цикла: cause != nil для неудачного цикла
func (e *Engine) updateMetadata(tx storage.Tx, cause error, synced int, serverTimestamp int64) error {
	meta, err := tx.GetMetadata(e.cfg.DeviceID)
	if err != nil {
		return err
	}

	meta.LastSyncAttemptTimestamp = e.now().UnixMilli()
	if cause != nil {
		meta.SyncErrorCount++
		meta.ConsecutiveFailures++
		meta.LastError = cause.Error()
	} else {
		meta.TotalSyncedChanges += int64(synced)
		meta.ConsecutiveFailures = 0
		meta.LastError = ""
		if serverTimestamp > meta.LastSyncTimestamp {
			meta.LastSyncTimestamp = serverTimestamp
		}
	}

	if meta.PendingChangesCount, err = tx.CountPending(); err != nil {
		return err
	}

	return tx.SaveMetadata(meta)
}

func (e *Engine) setPhase(p Phase) {
	e.stateMu.Lock()
	prev := e.phase
	e.phase = p
	e.stateMu.Unlock()

	if prev != p {
		e.logger.Debug("Sync phase changed", "from", prev, "to", p)
	}
}

func (e *Engine) notify(ctx context.Context) {
	e.stateMu.RLock()
	observers := append([]func(models.SyncState){}, e.observers...)
	e.stateMu.RUnlock()
	if len(observers) == 0 {
		return
	}

	state, err := e.State(context.WithoutCancel(ctx))
	if err != nil {
		e.logger.Warn("Failed to compute sync state", "error", err)
		return
	}
	for _, fn := range observers {
		fn(state)
	}
}

func toAPIChange(c *models.Change) api.Change {
	return api.Change{
		ID:               c.ID,
		UserID:           c.UserID,
		DeviceID:         c.DeviceID,
		EntityType:       string(c.EntityType),
		EntityID:         c.EntityID,
		Operation:        string(c.Operation),
		ResolvesConflict: c.ResolvesConflict,
		Payload:          c.Payload,
		CreatedAt:        c.CreatedAt,
	}
}
