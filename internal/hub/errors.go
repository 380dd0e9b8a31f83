package hub

import (
	"errors"

	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/room"
)

var (
	ErrUnauthorized    = errors.New("user is not a member of this room")
	ErrRoomUnavailable = room.ErrUnavailable
	ErrNotJoined       = room.ErrNotJoined
	ErrHubClosed       = errors.New("hub is shutting down")
	ErrUnsupported     = errors.New("message type cannot be routed")
)
