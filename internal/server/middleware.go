package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/logger"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/membership"
)

const (
	HeaderUserID    = "X-User-Id"
	HeaderRequestID = "X-Request-Id"
	QueryUserID     = "user_id"

	ctxRequestID = "request_id"
	ctxUserID    = "user_id"
)

func requestID() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		rid := strings.TrimSpace(ctx.GetHeader(HeaderRequestID))
		if rid == "" {
			rid = uuid.NewString()
		}
		ctx.Set(ctxRequestID, rid)
		ctx.Writer.Header().Set(HeaderRequestID, rid)
		ctx.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		logger.DebugF("[%s] %s %s %d %s", ctx.GetString(ctxRequestID),
			ctx.Request.Method, ctx.Request.URL.Path, ctx.Writer.Status(), time.Since(start))
	}
}

// userID 身份由上游网关通过请求头传入, WebSocket 客户端也可以用查询参数
func userID(ctx *gin.Context) string {
	if id := strings.TrimSpace(ctx.GetHeader(HeaderUserID)); id != "" {
		return id
	}
	return strings.TrimSpace(ctx.Query(QueryUserID))
}

func requireMember(checker membership.Checker) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		user := strings.TrimSpace(ctx.GetHeader(HeaderUserID))
		if user == "" {
			abort(ctx, http.StatusUnauthorized, "missing "+HeaderUserID+" header")
			return
		}
		roomID := ctx.Param("room")
		ok, err := checker.IsMember(ctx.Request.Context(), user, roomID)
		if err != nil {
			logger.WarnF("[%s] Membership check for %s in room %s failed, details: %v",
				ctx.GetString(ctxRequestID), user, roomID, err)
			abort(ctx, http.StatusServiceUnavailable, "membership lookup failed")
			return
		}
		if !ok {
			abort(ctx, http.StatusForbidden, "not a member of this room")
			return
		}
		ctx.Set(ctxUserID, user)
		ctx.Next()
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func abort(ctx *gin.Context, status int, msg string) {
	ctx.AbortWithStatusJSON(status, errorResponse{Error: msg, RequestID: ctx.GetString(ctxRequestID)})
}
