// Package protocol 定义客户端与同步引擎之间的 JSON 消息
package protocol

import (
	"time"

	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/draft"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/element"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/presence"
)

// MessageType 消息的 type 标签
type MessageType string

// 客户端 -> 引擎
const (
	Join        MessageType = "join"
	Leave       MessageType = "leave"
	Draft       MessageType = "draft"
	CancelDraft MessageType = "cancel_draft"
	Commit      MessageType = "commit"
	Undo        MessageType = "undo"
	Redo        MessageType = "redo"
	Clear       MessageType = "clear"
	Cursor      MessageType = "cursor"
	OnlineUsers MessageType = "online_users"
)

// 引擎 -> 客户端
const (
	SnapshotMsg       MessageType = "snapshot"
	PeerDraftMsg      MessageType = "peer_draft"
	DraftCancelledMsg MessageType = "draft_cancelled"
	CommittedMsg      MessageType = "committed"
	HistorySyncMsg    MessageType = "history_sync"
	ClearedMsg        MessageType = "cleared"
	CursorUpdateMsg   MessageType = "cursor_update"
	MemberJoinedMsg   MessageType = "member_joined"
	MemberLeftMsg     MessageType = "member_left"
	OnlineUsersMsg    MessageType = "online_users"
	LeftMsg           MessageType = "left"
	ErrorMsg          MessageType = "error"
)

type field uint8

const (
	fieldElement field = 1 << iota
	fieldCommitID
	fieldPosition
)

// inboundFields 每种客户端消息必须携带的字段
var inboundFields = map[MessageType]field{
	Join:        0,
	Leave:       0,
	Draft:       fieldElement,
	CancelDraft: 0,
	Commit:      fieldElement | fieldCommitID,
	Undo:        0,
	Redo:        0,
	Clear:       0,
	Cursor:      fieldPosition,
	OnlineUsers: 0,
}

func (t MessageType) Inbound() bool {
	_, ok := inboundFields[t]
	return ok
}

// Inbound 客户端发来的消息
type Inbound struct {
	Type     MessageType             `json:"type"`
	Room     string                  `json:"room"`
	Ref      string                  `json:"ref,omitempty"`
	Element  *element.DrawingElement `json:"element,omitempty"`
	CommitID string                  `json:"commit_id,omitempty"`
	X        *float64                `json:"x,omitempty"`
	Y        *float64                `json:"y,omitempty"`
}

type Snapshot struct {
	Type     MessageType         `json:"type"`
	Room     string              `json:"room"`
	Elements []element.Committed `json:"elements"`
	Step     int                 `json:"step"`
	Seq      uint64              `json:"seq"`
	CanUndo  bool                `json:"can_undo"`
	CanRedo  bool                `json:"can_redo"`
	Cursors  []presence.Cursor   `json:"cursors"`
	Drafts   []draft.Entry       `json:"drafts"`
	Members  []string            `json:"members"`
}

type PeerDraft struct {
	Type    MessageType            `json:"type"`
	Room    string                 `json:"room"`
	Author  string                 `json:"author"`
	Element element.DrawingElement `json:"element"`
}

type DraftCancelled struct {
	Type   MessageType `json:"type"`
	Room   string      `json:"room"`
	Author string      `json:"author"`
}

type Committed struct {
	Type      MessageType       `json:"type"`
	Room      string            `json:"room"`
	Seq       uint64            `json:"seq"`
	Step      int               `json:"step"`
	Element   element.Committed `json:"element"`
	Duplicate bool              `json:"duplicate,omitempty"`
}

type HistorySync struct {
	Type     MessageType         `json:"type"`
	Room     string              `json:"room"`
	Elements []element.Committed `json:"elements"`
	Step     int                 `json:"step"`
	CanUndo  bool                `json:"can_undo"`
	CanRedo  bool                `json:"can_redo"`
	By       string              `json:"by"`
}

type Cleared struct {
	Type     MessageType         `json:"type"`
	Room     string              `json:"room"`
	Elements []element.Committed `json:"elements"`
	Step     int                 `json:"step"`
	By       string              `json:"by"`
}

type CursorUpdate struct {
	Type       MessageType `json:"type"`
	Room       string      `json:"room"`
	Author     string      `json:"author"`
	X          float64     `json:"x"`
	Y          float64     `json:"y"`
	ObservedAt time.Time   `json:"observed_at"`
}

type MemberEvent struct {
	Type MessageType `json:"type"`
	Room string      `json:"room"`
	User string      `json:"user"`
}

type OnlineUsersReply struct {
	Type  MessageType `json:"type"`
	Room  string      `json:"room"`
	Users []string    `json:"users"`
}

type Left struct {
	Type MessageType `json:"type"`
	Room string      `json:"room"`
}

// ErrorCode 稳定的错误码, 客户端据此处理
type ErrorCode string

const (
	CodeUnauthorized    ErrorCode = "unauthorized"
	CodeNotJoined       ErrorCode = "not_joined"
	CodeRoomUnavailable ErrorCode = "room_unavailable"
	CodeForbidden       ErrorCode = "forbidden"
	CodeInvalidMessage  ErrorCode = "invalid_message"
	CodeSessionReplaced ErrorCode = "session_replaced"
	CodeInternal        ErrorCode = "internal"
)

type Error struct {
	Type    MessageType `json:"type"`
	Room    string      `json:"room,omitempty"`
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Ref     string      `json:"ref,omitempty"`
}
