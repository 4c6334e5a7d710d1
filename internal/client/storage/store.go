package storage

import "context"

// Tx объединяет все операции, доступные внутри одной атомарной транзакции
type Tx interface {
	LedgerTx
	ConflictTx
	MetadataTx
	EntityTx
}

// Store локальное хранилище с атомарными многострочными транзакциями.
// Если fn возвращает ошибку, транзакция откатывается целиком.
type Store interface {
	ChangeLedger
	MetadataStorage

	// Update выполняет fn в транзакции на запись
	Update(ctx context.Context, fn func(tx Tx) error) error

	// View выполняет fn в транзакции только на чтение
	View(ctx context.Context, fn func(tx Tx) error) error
}
