package server

import (
	"context"
	"errors"

	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/hub"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/protocol"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/room"
)

// errorCode 把错误映射为客户端可识别的错误码
func errorCode(err error) protocol.ErrorCode {
	switch {
	case errors.Is(err, hub.ErrUnauthorized):
		return protocol.CodeUnauthorized
	case errors.Is(err, hub.ErrNotJoined):
		return protocol.CodeNotJoined
	case errors.Is(err, hub.ErrRoomUnavailable), errors.Is(err, hub.ErrHubClosed), errors.Is(err, room.ErrClosed):
		return protocol.CodeRoomUnavailable
	case errors.Is(err, room.ErrForbidden):
		return protocol.CodeForbidden
	case errors.Is(err, protocol.ErrInvalidMessage), errors.Is(err, room.ErrInvalidElement), errors.Is(err, hub.ErrUnsupported):
		return protocol.CodeInvalidMessage
	case errors.Is(err, context.Canceled):
		return protocol.CodeRoomUnavailable
	default:
		return protocol.CodeInternal
	}
}
