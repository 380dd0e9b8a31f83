package room

import "errors"

var (
	ErrNotJoined      = errors.New("session has not joined this room")
	ErrUnavailable    = errors.New("room state could not be loaded")
	ErrClosed         = errors.New("room is closed")
	ErrForbidden      = errors.New("operation not permitted for this user")
	ErrInvalidElement = errors.New("invalid drawing element")
)
