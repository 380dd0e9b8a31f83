// Package connection 管理 WebSocket 连接及其发送队列
package connection

import (
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/logger"
)

// ConnectionManager 连接管理器
type ConnectionManager struct {
	connections sync.Map
	count       atomic.Int64
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{}
}

// AddConnection 添加连接
func (cm *ConnectionManager) AddConnection(client *Client) {
	if _, loaded := cm.connections.LoadOrStore(client.ID(), client); !loaded {
		cm.count.Add(1)
	}
	logger.InfoF("[%s] Client %s connected", client.ID(), client.UserID())
}

// RemoveConnection 移除连接
func (cm *ConnectionManager) RemoveConnection(connID string) {
	if _, loaded := cm.connections.LoadAndDelete(connID); loaded {
		cm.count.Add(-1)
		logger.InfoF("[%s] Client disconnected", connID)
	}
}

// GetConnection 获取连接
func (cm *ConnectionManager) GetConnection(connID string) (*Client, bool) {
	if value, ok := cm.connections.Load(connID); ok {
		return value.(*Client), true
	}
	return nil, false
}

func (cm *ConnectionManager) Count() int {
	return int(cm.count.Load())
}

// CloseAll 以 going away 关闭所有连接, 返回关闭的数量
func (cm *ConnectionManager) CloseAll(reason string) int {
	n := 0
	cm.connections.Range(func(_, value any) bool {
		value.(*Client).CloseWith(websocket.CloseGoingAway, reason)
		n++
		return true
	})
	return n
}
