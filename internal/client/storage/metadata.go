package storage

import (
	"context"

	"github.com/iudanet/offsync/internal/models"
)

// MetadataTx учет синхронизации устройства внутри транзакции
type MetadataTx interface {
	// GetMetadata возвращает запись устройства; если ее нет - пустую запись с DeviceID
	GetMetadata(deviceID string) (*models.SyncMetadata, error)

	// SaveMetadata сохраняет запись устройства
	SaveMetadata(meta *models.SyncMetadata) error

	// GetClock возвращает сохраненное значение часов Лампорта (0 если не сохранялось)
	GetClock() (int64, error)

	// SaveClock сохраняет значение часов; меньшее значение игнорируется
	SaveClock(timestamp int64) error
}

//go:generate moq -out metadata_mock.go . MetadataStorage

// MetadataStorage defines interface for storing client sync metadata
type MetadataStorage interface {
	// DeviceID возвращает идентификатор устройства, создавая его при первом обращении
	DeviceID(ctx context.Context) (string, error)

	// GetMetadata см. MetadataTx.GetMetadata
	GetMetadata(ctx context.Context, deviceID string) (*models.SyncMetadata, error)

	// GetClock см. MetadataTx.GetClock
	GetClock(ctx context.Context) (int64, error)
}
