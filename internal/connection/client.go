package connection

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/logger"
)

var ErrClientClosed = errors.New("client connection closed")

type Options struct {
	QueueSize    int
	ReadLimit    int64
	WriteTimeout time.Duration
	PongWait     time.Duration
	// PingInterval 必须小于 PongWait
	PingInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	return o
}

// Client 一个 WebSocket 会话。所有写操作由 WritePump 完成,
// 其他 goroutine 只通过 Enqueue 投递消息。
type Client struct {
	id     string
	userID string
	conn   *websocket.Conn
	opts   Options

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, userID string, opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		id:     uuid.NewString(),
		userID: userID,
		conn:   conn,
		opts:   opts,
		send:   make(chan []byte, opts.QueueSize),
		done:   make(chan struct{}),
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) UserID() string {
	return c.userID
}

// Enqueue 非阻塞投递; 队列已满说明客户端消费过慢, 直接断开
func (c *Client) Enqueue(data []byte) bool {
	if data == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		logger.WarnF("[%s] Outbound queue full (%d), closing slow consumer", c.id, cap(c.send))
		// 调用方可能是房间 actor, 关闭帧的写入不能阻塞它
		go c.CloseWith(websocket.ClosePolicyViolation, "slow consumer")
		return false
	}
}

// Done 在连接关闭后被关闭
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() {
	c.CloseWith(websocket.CloseNormalClosure, "")
}

// CloseWith 发送关闭帧并关闭底层连接, 可重复调用
func (c *Client) CloseWith(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(code, reason)
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !IsNetClosedError(err) {
			logger.DebugF("[%s] Fail to send close frame, details: %v", c.id, err)
		}
		if err := c.conn.Close(); err != nil && !IsNetClosedError(err) {
			logger.WarnF("[%s] Error occured while closing connection, details: %v", c.id, err)
		}
	})
}

// WritePump 把队列中的消息写到连接上, 并定时发送 ping
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				if !IsNetClosedError(err) {
					logger.ErrorF("[%s] Fail to send data, details: %v", c.id, err)
				}
				c.Close()
				return
			}
			logger.DebugF("[%s] Send %d bytes to client", c.id, len(data))
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				if !IsNetClosedError(err) {
					logger.WarnF("[%s] Fail to send ping, details: %v", c.id, err)
				}
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// ReadPump 读取文本消息并交给 handle, 直到连接出错或关闭
func (c *Client) ReadPump(handle func(data []byte)) error {
	if c.opts.ReadLimit > 0 {
		c.conn.SetReadLimit(c.opts.ReadLimit)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return ErrClientClosed
			default:
			}
			return err
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		if messageType != websocket.TextMessage {
			logger.WarnF("[%s] Ignore non-text message", c.id)
			continue
		}
		handle(data)
	}
}
