package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/element"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/logger"
)

type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Service     string    `json:"service"`
	Store       string    `json:"store"`
	Connections int       `json:"connections"`
	Rooms       int       `json:"rooms"`
}

func (s *Server) health(ctx *gin.Context) {
	resp := HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC(),
		Service:     s.appName,
		Store:       "disabled",
		Connections: s.conns.Count(),
		Rooms:       s.hub.RoomCount(),
	}
	status := http.StatusOK
	if s.store != nil {
		pingCtx, cancel := context.WithTimeout(ctx.Request.Context(), time.Second)
		defer cancel()
		if err := s.store.Ping(pingCtx); err != nil {
			logger.WarnF("Snapshot store ping failed: %v", err)
			resp.Status, resp.Store = "unhealthy", "down"
			status = http.StatusServiceUnavailable
		} else {
			resp.Store = "up"
		}
	}
	ctx.JSON(status, resp)
}

type SnapshotResponse struct {
	Room     string              `json:"room"`
	Elements []element.Committed `json:"elements"`
	Step     int                 `json:"step"`
	Seq      uint64              `json:"seq"`
}

func (s *Server) snapshot(ctx *gin.Context) {
	roomID := ctx.Param("room")
	state, err := s.hub.RoomState(ctx.Request.Context(), roomID)
	if err != nil {
		logger.ErrorF("[%s] Fail to read room %s, details: %v", ctx.GetString(ctxRequestID), roomID, err)
		abort(ctx, http.StatusServiceUnavailable, "room is unavailable")
		return
	}
	ctx.JSON(http.StatusOK, SnapshotResponse{Room: roomID, Elements: state.Elements, Step: state.Step, Seq: state.Seq})
}

type OnlineResponse struct {
	Room  string   `json:"room"`
	Users []string `json:"users"`
}

func (s *Server) online(ctx *gin.Context) {
	roomID := ctx.Param("room")
	users, err := s.hub.OnlineUsers(ctx.Request.Context(), roomID)
	if err != nil {
		abort(ctx, http.StatusServiceUnavailable, "room is unavailable")
		return
	}
	ctx.JSON(http.StatusOK, OnlineResponse{Room: roomID, Users: users})
}
