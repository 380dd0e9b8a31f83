package database

import (
	"context"
	"errors"
	"time"

	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/element"
)

const (
	SnapshotCollectionName = "whiteboard_snapshots"
	SnapshotTableName      = "whiteboard_snapshots"
	SnapshotBucketName     = "snapshots"
	DefaultRedisKeyPrefix  = "whiteboard:snapshot:"
)

var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrRoomIDEmpty      = errors.New("room_id is empty")
)

// SnapshotDocument 一个房间最近一次持久化的状态
type SnapshotDocument struct {
	RoomID    string              `bson:"room_id" json:"room_id"`
	Elements  []element.Committed `bson:"elements" json:"elements"`
	UpdatedAt time.Time           `bson:"updated_at" json:"updated_at"`
}

// SnapshotStore 房间快照的持久化后端; 不存在时返回 ErrSnapshotNotFound
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context, roomID string) ([]element.Committed, error)
	SaveSnapshot(ctx context.Context, roomID string, elements []element.Committed) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
