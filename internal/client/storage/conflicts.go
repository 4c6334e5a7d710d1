package storage

import "github.com/iudanet/offsync/internal/models"

// ConflictTx операции с записями конфликтов внутри транзакции
type ConflictTx interface {
	// SaveConflict создает или обновляет запись конфликта
	SaveConflict(conflict *models.Conflict) error

	// GetConflict возвращает конфликт по ID
	// Returns ErrConflictNotFound if conflict doesn't exist
	GetConflict(id string) (*models.Conflict, error)

	// UnresolvedConflictForChange возвращает неразрешенный конфликт для изменения
	// Returns ErrConflictNotFound if there is none
	UnresolvedConflictForChange(changeID string) (*models.Conflict, error)

	// ListConflicts возвращает конфликты по времени обнаружения;
	// includeResolved=false оставляет только неразрешенные
	ListConflicts(includeResolved bool) ([]*models.Conflict, error)

	// CountUnresolvedConflicts количество неразрешенных конфликтов
	CountUnresolvedConflicts() (int, error)
}
