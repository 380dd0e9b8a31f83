package database

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"

	c "github.com/life-stream-dev/life-stream-whiteboard-sync/internal/config"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/logger"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func mongoURI(cfg c.MongoConfig) string {
	if cfg.Username == "" {
		return fmt.Sprintf("mongodb://%s:%d/", cfg.Host, cfg.Port)
	}
	// 编码特殊字符
	encodedUser := url.QueryEscape(cfg.Username)
	encodedPass := url.QueryEscape(cfg.Password)
	return fmt.Sprintf("mongodb://%s:%s@%s:%d/?authSource=admin",
		encodedUser, encodedPass,
		cfg.Host,
		cfg.Port,
	)
}

func mongoClientOptions(cfg c.MongoConfig, appName string) *options.ClientOptions {
	clientOptions := options.Client().ApplyURI(mongoURI(cfg)).SetAppName(appName)
	// 连接池配置
	clientOptions.SetMinPoolSize(cfg.MinPoolSize)
	clientOptions.SetMaxPoolSize(cfg.MaxPoolSize)
	clientOptions.SetMaxConnIdleTime(cfg.ConnectIdleTimeout.Std())
	// 超时限制
	clientOptions.SetConnectTimeout(cfg.ConnectTimeout.Std())
	clientOptions.SetSocketTimeout(cfg.SocketTimeout.Std())
	// 心跳包
	if cfg.Heartbeat > 0 {
		clientOptions.SetHeartbeatInterval(cfg.Heartbeat.Std())
	}
	if cfg.UseTLS {
		clientOptions.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	// 连接池监控
	clientOptions.SetPoolMonitor(&event.PoolMonitor{
		Event: func(evt *event.PoolEvent) {
			switch evt.Type {
			case event.ConnectionCreated:
				logger.DebugF("Database connection created: %+v", evt)
			case event.ConnectionClosed:
				logger.DebugF("Database connection closed: %+v", evt)
			}
		},
	})
	return clientOptions
}

// ConnectMongo 建立连接并 ping 一次
func ConnectMongo(ctx context.Context, cfg c.MongoConfig, appName string) (*mongo.Client, error) {
	logger.DebugF("Connecting to database...")

	client, err := mongo.Connect(ctx, mongoClientOptions(cfg, appName))
	if err != nil {
		return nil, fmt.Errorf("error occured while connecting to database: %w", err)
	}

	// 验证连接
	if err = client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("error occured while pinging database: %w", err)
	}
	return client, nil
}
