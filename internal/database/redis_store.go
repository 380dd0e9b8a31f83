package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/element"
	"github.com/redis/go-redis/v9"
)

const redisIndexSuffix = "index" // 按更新时间排序的房间集合: {prefix}index

// RedisStore 快照以 JSON 存在 {prefix}{room_id}
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (rs *RedisStore) key(roomID string) string {
	return rs.prefix + roomID
}

func (rs *RedisStore) indexKey() string {
	return rs.prefix + redisIndexSuffix
}

func (rs *RedisStore) LoadSnapshot(ctx context.Context, roomID string) ([]element.Committed, error) {
	if roomID == "" {
		return nil, ErrRoomIDEmpty
	}
	data, err := rs.client.Get(ctx, rs.key(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var doc SnapshotDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return doc.Elements, nil
}

func (rs *RedisStore) SaveSnapshot(ctx context.Context, roomID string, elements []element.Committed) error {
	if roomID == "" {
		return ErrRoomIDEmpty
	}
	now := time.Now().UTC()
	data, err := json.Marshal(SnapshotDocument{RoomID: roomID, Elements: nonNil(elements), UpdatedAt: now})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	pipe := rs.client.TxPipeline()
	pipe.Set(ctx, rs.key(roomID), data, rs.ttl)
	pipe.ZAdd(ctx, rs.indexKey(), redis.Z{Score: float64(now.Unix()), Member: roomID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Rooms 返回有快照的房间, 最近更新的在前
func (rs *RedisStore) Rooms(ctx context.Context, limit int64) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rooms, err := rs.client.ZRevRange(ctx, rs.indexKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return rooms, nil
}

func (rs *RedisStore) Ping(ctx context.Context) error {
	return rs.client.Ping(ctx).Err()
}

func (rs *RedisStore) Close(context.Context) error {
	return rs.client.Close()
}
