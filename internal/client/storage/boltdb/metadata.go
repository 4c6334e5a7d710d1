package boltdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/iudanet/offsync/internal/client/storage"
	"github.com/iudanet/offsync/internal/models"
)

const (
	keyDeviceID     = "device_id"
	keyLamportClock = "lamport_clock"
	prefixDevice    = "device:" // device:<id> -> SyncMetadata JSON
)

// GetMetadata возвращает запись устройства; если ее нет - пустую запись
func (t *txn) GetMetadata(deviceID string) (*models.SyncMetadata, error) {
	bucket, err := t.bucket(bucketMetadata)
	if err != nil {
		return nil, err
	}

	data := bucket.Get([]byte(prefixDevice + deviceID))
	if data == nil {
		// первая синхронизация
		return &models.SyncMetadata{DeviceID: deviceID}, nil
	}

	var meta models.SyncMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sync metadata: %w", err)
	}

	return &meta, nil
}

// SaveMetadata сохраняет запись устройства
func (t *txn) SaveMetadata(meta *models.SyncMetadata) error {
	bucket, err := t.bucket(bucketMetadata)
	if err != nil {
		return err
	}
	if meta.DeviceID == "" {
		return fmt.Errorf("device id is empty")
	}

	if err := putJSON(bucket, []byte(prefixDevice+meta.DeviceID), meta); err != nil {
		return fmt.Errorf("failed to save sync metadata: %w", err)
	}
	return nil
}

// GetClock возвращает сохраненное значение часов Лампорта
func (t *txn) GetClock() (int64, error) {
	bucket, err := t.bucket(bucketMetadata)
	if err != nil {
		return 0, err
	}

	raw := bucket.Get([]byte(keyLamportClock))
	if raw == nil {
		return 0, nil
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("corrupted lamport clock value")
	}

	return int64(binary.BigEndian.Uint64(raw)), nil
}

// SaveClock сохраняет значение часов; часы никогда не идут назад
func (t *txn) SaveClock(timestamp int64) error {
	current, err := t.GetClock()
	if err != nil {
		return err
	}
	if timestamp <= current {
		return nil
	}

	bucket, err := t.bucket(bucketMetadata)
	if err != nil {
		return err
	}

	// Конвертируем int64 в bytes
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(timestamp))
	if err := bucket.Put([]byte(keyLamportClock), buf); err != nil {
		return fmt.Errorf("failed to save lamport clock: %w", err)
	}

	return nil
}

// DeviceID возвращает идентификатор устройства, создавая его при первом запуске
func (s *Storage) DeviceID(ctx context.Context) (string, error) {
	var id string

	err := s.update(ctx, func(t *txn) error {
		bucket, err := t.bucket(bucketMetadata)
		if err != nil {
			return err
		}

		if existing := bucket.Get([]byte(keyDeviceID)); existing != nil {
			id = string(existing)
			return nil
		}

		id = uuid.New().String()
		return bucket.Put([]byte(keyDeviceID), []byte(id))
	})
	if err != nil {
		return "", fmt.Errorf("failed to get device id: %w", err)
	}

	return id, nil
}

// GetMetadata возвращает учетные данные синхронизации устройства
func (s *Storage) GetMetadata(ctx context.Context, deviceID string) (*models.SyncMetadata, error) {
	var meta *models.SyncMetadata

	err := s.View(ctx, func(tx storage.Tx) error {
		var err error
		meta, err = tx.GetMetadata(deviceID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get sync metadata: %w", err)
	}

	return meta, nil
}

// GetClock возвращает сохраненное значение часов Лампорта
func (s *Storage) GetClock(ctx context.Context) (int64, error) {
	var ts int64

	err := s.View(ctx, func(tx storage.Tx) error {
		var err error
		ts, err = tx.GetClock()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get lamport clock: %w", err)
	}

	return ts, nil
}
