package boltdb

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/iudanet/offsync/internal/client/storage"
	"github.com/iudanet/offsync/internal/models"
)

// GetEntity возвращает снимок сущности
func (t *txn) GetEntity(entityType models.EntityType, id string) (json.RawMessage, error) {
	bucket, err := t.entityBucket(entityType, false)
	if err != nil {
		return nil, err
	}
	if bucket == nil {
		return nil, fmt.Errorf("%w: %s/%s", storage.ErrEntityNotFound, entityType, id)
	}

	data := bucket.Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("%w: %s/%s", storage.ErrEntityNotFound, entityType, id)
	}

	return append(json.RawMessage(nil), data...), nil
}

// PutEntity сохраняет снимок сущности
func (t *txn) PutEntity(entityType models.EntityType, id string, snapshot json.RawMessage) error {
	if !entityType.Valid() {
		return fmt.Errorf("unknown entity type %q", entityType)
	}
	if id == "" {
		return fmt.Errorf("entity id is empty")
	}
	if !json.Valid(snapshot) {
		return fmt.Errorf("entity snapshot is not valid json")
	}

	bucket, err := t.entityBucket(entityType, true)
	if err != nil {
		return err
	}

	if err := bucket.Put([]byte(id), snapshot); err != nil {
		return fmt.Errorf("failed to save entity: %w", err)
	}
	return nil
}

// ListEntities возвращает все снимки сущностей данного типа, включая tombstone
func (t *txn) ListEntities(entityType models.EntityType) ([]json.RawMessage, error) {
	bucket, err := t.entityBucket(entityType, false)
	if err != nil {
		return nil, err
	}
	if bucket == nil {
		return nil, nil
	}

	var result []json.RawMessage
	err = bucket.ForEach(func(_, v []byte) error {
		result = append(result, append(json.RawMessage(nil), v...))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// entityBucket возвращает вложенный bucket типа сущности.
// create=true создает его (только в транзакции на запись).
func (t *txn) entityBucket(entityType models.EntityType, create bool) (*bbolt.Bucket, error) {
	root, err := t.bucket(bucketEntities)
	if err != nil {
		return nil, err
	}

	if !create {
		return root.Bucket([]byte(entityType)), nil
	}

	b, err := root.CreateBucketIfNotExists([]byte(entityType))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s bucket: %w", entityType, err)
	}
	return b, nil
}
