package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/connection"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/hub"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/logger"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/protocol"
)

// operationTimeout 单条消息等待房间处理的上限
const operationTimeout = 10 * time.Second

type ConnectionHandler struct {
	server *Server
	client *connection.Client
}

func (s *Server) serveWS(ctx *gin.Context) {
	user := userID(ctx)
	if user == "" {
		abort(ctx, http.StatusUnauthorized, "missing user identity")
		return
	}
	conn, err := s.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		// Upgrade 已经写回了错误响应
		logger.WarnF("[%s] Websocket upgrade failed, details: %v", ctx.GetString(ctxRequestID), err)
		return
	}

	client := connection.NewClient(conn, user, connection.Options{
		QueueSize:    s.cfg.OutboundQueue,
		ReadLimit:    s.cfg.ReadLimit,
		WriteTimeout: s.cfg.WriteTimeout.Std(),
		PongWait:     s.cfg.PongWait.Std(),
		PingInterval: s.cfg.PingInterval.Std(),
	})
	handler := &ConnectionHandler{server: s, client: client}
	handler.handleConnection()
}

func (h *ConnectionHandler) handleConnection() {
	s, client := h.server, h.client
	s.conns.AddConnection(client)
	go client.WritePump()

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
		defer cancel()
		s.hub.Disconnect(ctx, client)
		s.conns.RemoveConnection(client.ID())
		client.Close()
		logger.DebugF("[%s] Connection closed", client.ID())
	}()

	if err := client.ReadPump(h.handleMessage); err != nil {
		connection.HandleReadError(client.ID(), err)
	}
}

func (h *ConnectionHandler) handleMessage(data []byte) {
	client := h.client
	msg, err := protocol.Decode(data)
	if err != nil {
		logger.WarnF("[%s] Reject message, details: %v", client.ID(), err)
		h.replyError(msg, err)
		return
	}
	logger.DebugF("[%s] Receive %s message for room %s", client.ID(), msg.Type, msg.Room)

	ctx, cancel := context.WithTimeout(h.server.ctx, operationTimeout)
	defer cancel()

	switch msg.Type {
	case protocol.Join:
		// 快照由房间直接投递
		_, err = h.server.hub.Join(ctx, client, msg.Room)
	case protocol.Leave:
		err = h.server.hub.Leave(ctx, client, msg.Room)
	case protocol.OnlineUsers:
		err = h.onlineUsers(ctx, msg.Room)
	default:
		err = h.server.hub.Route(ctx, client, msg)
	}

	if err != nil {
		if errorCode(err) == protocol.CodeInternal {
			logger.ErrorF("[%s] Fail to handle %s message, details: %v", client.ID(), msg.Type, err)
		} else {
			logger.DebugF("[%s] %s message rejected: %v", client.ID(), msg.Type, err)
		}
		h.replyError(msg, err)
	}
}

func (h *ConnectionHandler) onlineUsers(ctx context.Context, roomID string) error {
	ok, err := h.server.checker.IsMember(ctx, h.client.UserID(), roomID)
	if err != nil || !ok {
		return hub.ErrUnauthorized
	}
	users, err := h.server.hub.OnlineUsers(ctx, roomID)
	if err != nil {
		return err
	}
	h.reply(protocol.OnlineUsersReply{Type: protocol.OnlineUsersMsg, Room: roomID, Users: users})
	return nil
}

func (h *ConnectionHandler) reply(v any) {
	data, err := protocol.Encode(v)
	if err != nil {
		logger.ErrorF("[%s] %v", h.client.ID(), err)
		return
	}
	h.client.Enqueue(data)
}

func (h *ConnectionHandler) replyError(msg protocol.Inbound, err error) {
	code := errorCode(err)
	message := err.Error()
	if code == protocol.CodeInternal && !errors.Is(err, context.DeadlineExceeded) {
		message = "internal error"
	}
	h.reply(protocol.NewError(msg.Room, code, message, msg.Ref))
}
