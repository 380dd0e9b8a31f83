// Package server 提供 WebSocket 同步入口与 HTTP 接口
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	c "github.com/life-stream-dev/life-stream-whiteboard-sync/internal/config"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/connection"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/hub"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/logger"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/membership"
)

// Pinger 健康检查探测的存储
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	appName string
	cfg     c.ServerConfig
	hub     *hub.Hub
	checker membership.Checker
	store   Pinger
	conns   *connection.ConnectionManager

	upgrader websocket.Upgrader
	engine   *gin.Engine
	http     *http.Server

	// ctx 在关闭时取消, 所有会话操作都从它派生
	ctx    context.Context
	cancel context.CancelFunc
}

func New(appName string, cfg c.ServerConfig, h *hub.Hub, checker membership.Checker, store Pinger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		appName: appName,
		cfg:     cfg,
		hub:     h,
		checker: checker,
		store:   store,
		conns:   connection.NewConnectionManager(),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), requestLogger())

	corsCfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", HeaderUserID, HeaderRequestID},
		ExposeHeaders: []string{HeaderRequestID},
		MaxAge:        12 * time.Hour,
	}
	if len(s.cfg.AllowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = s.cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", s.health)
	r.GET("/healthz", s.health)
	r.GET("/ws", s.serveWS)

	rooms := r.Group("/api/v1/rooms/:room", requireMember(s.checker))
	rooms.GET("/snapshot", s.snapshot)
	rooms.GET("/online", s.online)
	return r
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(s.cfg.AllowedOrigins, origin)
}

// Handler 供 httptest 使用
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Connections 当前的 WebSocket 连接数
func (s *Server) Connections() int {
	return s.conns.Count()
}

// Start 监听端口并在后台提供服务, 监听失败时返回错误
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.http = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.InfoF("Whiteboard server listen on %s", ln.Addr().String())

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorF("Server stopped unexpectedly: %v", err)
		}
	}()
	return nil
}

// Invoke 停止接受新连接并关闭现有会话
func (s *Server) Invoke(ctx context.Context) error {
	s.cancel()
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	// Shutdown 不处理被接管的连接
	if n := s.conns.CloseAll("server shutting down"); n > 0 {
		logger.InfoF("Closed %d websocket connections", n)
	}
	return err
}
