package database

import (
	"context"
	"sync"

	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/element"
)

// MemoryStore 进程内快照存储, 用于开发和测试
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string][]element.Committed
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string][]element.Committed)}
}

func (ms *MemoryStore) LoadSnapshot(_ context.Context, roomID string) ([]element.Committed, error) {
	if roomID == "" {
		return nil, ErrRoomIDEmpty
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	elements, ok := ms.snapshots[roomID]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return element.CloneAll(elements), nil
}

func (ms *MemoryStore) SaveSnapshot(_ context.Context, roomID string, elements []element.Committed) error {
	if roomID == "" {
		return ErrRoomIDEmpty
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.snapshots[roomID] = element.CloneAll(elements)
	return nil
}

func (ms *MemoryStore) Ping(context.Context) error {
	return nil
}

func (ms *MemoryStore) Close(context.Context) error {
	return nil
}
