package boltdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/iudanet/offsync/internal/client/storage"
)

var (
	// BoltDB bucket names
	bucketChanges     = []byte("changes")      // ключ: createdAt(8 байт BE) + id
	bucketChangeIndex = []byte("change_index") // id -> ключ в changes
	bucketUnsynced    = []byte("unsynced")     // ключ в changes -> статус, только не SYNCED
	bucketConflicts   = []byte("conflicts")
	bucketMetadata    = []byte("metadata")
	bucketEntities    = []byte("entities") // вложенный bucket на каждый тип сущности
)

// Storage represents BoltDB storage implementation for client.
// Реализует storage.Store: журнал изменений, конфликты, metadata и снимки сущностей
// живут в одном файле, поэтому любая их комбинация меняется атомарно.
type Storage struct {
	db  *bbolt.DB
	now func() time.Time
	mu  sync.RWMutex
}

var _ storage.Store = (*Storage)(nil)

// New creates a new BoltDB storage instance
// dbPath is the path to the BoltDB database file
func New(ctx context.Context, dbPath string) (*Storage, error) {
	// Открываем BoltDB; timeout защищает от второго процесса, держащего файл
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	s := &Storage{db: db, now: time.Now}

	// Инициализируем buckets
	if err := s.initBuckets(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Update выполняет fn в транзакции на запись. Ошибка fn откатывает все изменения.
func (s *Storage) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	return s.update(ctx, func(t *txn) error { return fn(t) })
}

// View выполняет fn в транзакции только на чтение
func (s *Storage) View(ctx context.Context, fn func(tx storage.Tx) error) error {
	return s.view(ctx, func(t *txn) error { return fn(t) })
}

// update дает собственным методам Storage доступ к *txn без приведения типов
func (s *Storage) update(ctx context.Context, fn func(t *txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	return s.db.Update(func(btx *bbolt.Tx) error {
		return fn(&txn{tx: btx, now: s.now})
	})
}

func (s *Storage) view(ctx context.Context, fn func(t *txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	return s.db.View(func(btx *bbolt.Tx) error {
		return fn(&txn{tx: btx, now: s.now})
	})
}

// initBuckets создает необходимые buckets если они не существуют.
// Индекс недоставленных изменений строится заново, если его еще нет.
func (s *Storage) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketChanges, bucketChangeIndex, bucketConflicts, bucketMetadata, bucketEntities} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}

		if tx.Bucket(bucketUnsynced) != nil {
			return nil
		}
		if _, err := tx.CreateBucket(bucketUnsynced); err != nil {
			return fmt.Errorf("failed to create %s bucket: %w", bucketUnsynced, err)
		}
		return (&txn{tx: tx, now: s.now}).rebuildUnsynced()
	})
}

// txn адаптирует *bbolt.Tx к storage.Tx
type txn struct {
	tx  *bbolt.Tx
	now func() time.Time
}

var _ storage.Tx = (*txn)(nil)

func (t *txn) bucket(name []byte) (*bbolt.Bucket, error) {
	b := t.tx.Bucket(name)
	if b == nil {
		return nil, fmt.Errorf("%s bucket not found", name)
	}
	return b, nil
}
