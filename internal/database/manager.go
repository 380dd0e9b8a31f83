package database

import (
	"context"
	"fmt"

	c "github.com/life-stream-dev/life-stream-whiteboard-sync/internal/config"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/logger"
	"github.com/redis/go-redis/v9"
)

// OpenStore 按配置创建快照存储
func OpenStore(ctx context.Context, cfg c.PersistenceConfig, appName string) (SnapshotStore, error) {
	logger.InfoF("Opening %s snapshot store", cfg.Driver)
	switch cfg.Driver {
	case c.DriverMongo:
		client, err := ConnectMongo(ctx, cfg.Mongo, appName)
		if err != nil {
			return nil, err
		}
		store, err := NewMongoStore(ctx, client, cfg.Mongo.Database, cfg.Mongo.Collection, cfg.Mongo.OperationTimeout.Std())
		if err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
		return store, nil
	case c.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return NewRedisStore(client, cfg.Redis.KeyPrefix, cfg.Redis.TTL.Std()), nil
	case c.DriverPostgres, c.DriverSQLite:
		driver := DriverPgx
		if cfg.Driver == c.DriverSQLite {
			driver = DriverSQLite
		}
		db, err := OpenSQL(ctx, driver, cfg.SQL.DSN)
		if err != nil {
			return nil, err
		}
		store := NewSQLStore(db, driver)
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return store, nil
	case c.DriverBolt:
		return NewBoltStore(cfg.Bolt.Path)
	case c.DriverMemory:
		logger.Warn("Memory snapshot store selected, room state will not survive a restart")
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown persistence driver %q", cfg.Driver)
	}
}

// StoreCloser 在 Cleaner 中关闭存储
type StoreCloser struct {
	Store SnapshotStore
}

func (sc StoreCloser) Invoke(ctx context.Context) error {
	return sc.Store.Close(ctx)
}
