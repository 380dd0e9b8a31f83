package database

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/element"
	"go.etcd.io/bbolt"
)

// BoltStore 单机部署使用的嵌入式快照存储
type BoltStore struct {
	db *bbolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create bolt directory: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt database: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(SnapshotBucketName))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bolt bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (bs *BoltStore) LoadSnapshot(_ context.Context, roomID string) ([]element.Committed, error) {
	if roomID == "" {
		return nil, ErrRoomIDEmpty
	}
	var doc SnapshotDocument
	found := false
	err := bs.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(SnapshotBucketName)).Get([]byte(roomID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &doc)
	})
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if !found {
		return nil, ErrSnapshotNotFound
	}
	return doc.Elements, nil
}

func (bs *BoltStore) SaveSnapshot(_ context.Context, roomID string, elements []element.Committed) error {
	if roomID == "" {
		return ErrRoomIDEmpty
	}
	data, err := json.Marshal(SnapshotDocument{RoomID: roomID, Elements: nonNil(elements), UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return bs.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(SnapshotBucketName)).Put([]byte(roomID), data)
	})
}

func (bs *BoltStore) Ping(context.Context) error {
	return bs.db.View(func(tx *bbolt.Tx) error { return nil })
}

func (bs *BoltStore) Close(context.Context) error {
	return bs.db.Close()
}
