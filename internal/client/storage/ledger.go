package storage

import (
	"context"
	"time"

	"github.com/iudanet/offsync/internal/models"
)

// LedgerTx операции журнала изменений внутри транзакции.
// Все массовые переходы статуса выполняются целиком или не выполняются вовсе.
type LedgerTx interface {
	// AppendChange добавляет изменение со статусом PENDING.
	// Должен вызываться в той же транзакции, что и запись бизнес-сущности.
	AppendChange(change *models.Change) error

	// GetChange возвращает изменение по ID
	// Returns ErrChangeNotFound if change doesn't exist
	GetChange(id string) (*models.Change, error)

	// PendingChanges возвращает PENDING изменения и FAILED с RetryCount < maxRetries,
	// упорядоченные по CreatedAt (сначала старые)
	PendingChanges(limit, maxRetries int) ([]*models.Change, error)

	// MarkSyncing переводит изменения в SYNCING перед отправкой
	MarkSyncing(ids []string) error

	// MarkSynced переводит изменения в SYNCED
	MarkSynced(ids []string) error

	// MarkFailed увеличивает RetryCount; при достижении maxRetries статус становится FAILED.
	// Возвращает ID изменений, исчерпавших попытки.
	MarkFailed(ids []string, maxRetries int) ([]string, error)

	// Requeue возвращает изменения в PENDING без изменения RetryCount
	Requeue(ids []string) error

	// CountPending количество еще не доставленных изменений (PENDING и SYNCING)
	CountPending() (int, error)

	// CountFailed количество изменений в терминальном статусе FAILED
	CountFailed() (int, error)
}

//go:generate moq -out ledger_mock.go . ChangeLedger

// ChangeLedger журнал локальных изменений (outbox) вне явной транзакции.
// Каждый метод выполняется в собственной транзакции.
type ChangeLedger interface {
	// Append добавляет одиночное изменение
	Append(ctx context.Context, change *models.Change) error

	// Pending см. LedgerTx.PendingChanges
	Pending(ctx context.Context, limit, maxRetries int) ([]*models.Change, error)

	// MarkSynced см. LedgerTx.MarkSynced
	MarkSynced(ctx context.Context, ids []string) error

	// MarkFailed см. LedgerTx.MarkFailed
	MarkFailed(ctx context.Context, ids []string, maxRetries int) ([]string, error)

	// CountPending см. LedgerTx.CountPending
	CountPending(ctx context.Context) (int, error)

	// CountFailed см. LedgerTx.CountFailed
	CountFailed(ctx context.Context) (int, error)

	// ListChanges возвращает изменения с заданным статусом (пустой статус - все) в FIFO порядке
	ListChanges(ctx context.Context, status models.ChangeStatus) ([]*models.Change, error)

	// RetryFailed возвращает все FAILED изменения в PENDING со сбросом RetryCount.
	// Используется для ручного "retry failed".
	RetryFailed(ctx context.Context) (int, error)

	// RecoverInFlight возвращает в PENDING изменения, оставшиеся в SYNCING
	// после аварийного завершения процесса
	RecoverInFlight(ctx context.Context) (int, error)

	// PurgeSynced удаляет SYNCED изменения, перешедшие в этот статус раньше before
	PurgeSynced(ctx context.Context, before time.Time) (int, error)
}
