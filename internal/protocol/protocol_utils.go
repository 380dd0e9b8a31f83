package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidMessage = errors.New("invalid message")
	ErrUnknownType    = fmt.Errorf("%w: unknown type", ErrInvalidMessage)
	ErrMissingRoom    = fmt.Errorf("%w: room is required", ErrInvalidMessage)
	ErrMissingField   = fmt.Errorf("%w: required field missing", ErrInvalidMessage)
)

// Decode 解析并校验客户端消息; 元素内容的校验由房间负责
func Decode(data []byte) (Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	fields, ok := inboundFields[msg.Type]
	if !ok {
		return msg, fmt.Errorf("%w %q", ErrUnknownType, string(msg.Type))
	}
	if msg.Room == "" {
		return msg, ErrMissingRoom
	}
	if fields&fieldElement != 0 && msg.Element == nil {
		return msg, fmt.Errorf("%w: element", ErrMissingField)
	}
	if fields&fieldCommitID != 0 && msg.CommitID == "" {
		return msg, fmt.Errorf("%w: commit_id", ErrMissingField)
	}
	if fields&fieldPosition != 0 {
		if msg.X == nil || msg.Y == nil {
			return msg, fmt.Errorf("%w: x, y", ErrMissingField)
		}
		if math.IsNaN(*msg.X) || math.IsInf(*msg.X, 0) || math.IsNaN(*msg.Y) || math.IsInf(*msg.Y, 0) {
			return msg, fmt.Errorf("%w: cursor position is not finite", ErrInvalidMessage)
		}
	}
	return msg, nil
}

// Encode 编码一条发往客户端的消息
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// NewError 构造错误回复
func NewError(room string, code ErrorCode, message, ref string) Error {
	return Error{Type: ErrorMsg, Room: room, Code: code, Message: message, Ref: ref}
}
