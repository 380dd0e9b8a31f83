// Package hub 管理房间的创建、会话的加入与离开, 并把消息路由给房间 actor
package hub

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/element"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/logger"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/membership"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/protocol"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/room"
)

// Store 房间持久化; Flush 在驱逐前等待快照落盘
type Store interface {
	room.Persistence
	Flush(ctx context.Context, roomID string) error
}

type Options struct {
	Room room.Config
	// IdleTTL 房间无人后保留的时间, 0 表示最后一个会话离开时立即驱逐
	IdleTTL      time.Duration
	FlushTimeout time.Duration
	Now          func() time.Time
}

type entry struct {
	room *room.Room
	// pending 正在加入中的会话数, 大于 0 时不驱逐
	pending int
}

type Hub struct {
	membership membership.Checker
	store      Store
	opts       Options
	now        func() time.Time

	mu     sync.Mutex
	rooms  map[string]*entry
	joined map[string]map[string]struct{} // client id -> room ids
	closed bool
}

func New(checker membership.Checker, store Store, opts Options) *Hub {
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 10 * time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.Room.Now == nil {
		opts.Room.Now = now
	}
	return &Hub{
		membership: checker,
		store:      store,
		opts:       opts,
		now:        now,
		rooms:      make(map[string]*entry),
		joined:     make(map[string]map[string]struct{}),
	}
}

// Join 校验成员关系后加入房间, 房间不存在时创建并加载
func (h *Hub) Join(ctx context.Context, client room.Client, roomID string) (protocol.Snapshot, error) {
	if err := h.authorize(ctx, client.UserID(), roomID); err != nil {
		return protocol.Snapshot{}, err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return protocol.Snapshot{}, ErrHubClosed
	}
	e, exists := h.rooms[roomID]
	if !exists {
		e = &entry{room: room.New(roomID, h.opts.Room, h.store, h.membership)}
		e.room.Start()
		h.rooms[roomID] = e
		logger.DebugF("Room %s created", roomID)
	}
	e.pending++
	h.mu.Unlock()

	snap, err := e.room.Join(ctx, client)

	h.mu.Lock()
	e.pending--
	var discard *room.Room
	if err != nil {
		if errors.Is(err, room.ErrUnavailable) && h.rooms[roomID] == e && e.pending == 0 {
			delete(h.rooms, roomID)
			discard = e.room
		}
	} else {
		rooms, ok := h.joined[client.ID()]
		if !ok {
			rooms = make(map[string]struct{})
			h.joined[client.ID()] = rooms
		}
		rooms[roomID] = struct{}{}
	}
	h.mu.Unlock()

	if discard != nil {
		discard.Close()
	}
	if errors.Is(err, room.ErrClosed) {
		return snap, ErrRoomUnavailable
	}
	return snap, err
}

// authorize 成员关系查询失败时按未授权处理
func (h *Hub) authorize(ctx context.Context, userID, roomID string) error {
	ok, err := h.membership.IsMember(ctx, userID, roomID)
	if err != nil {
		logger.WarnF("Membership check for %s in room %s failed, details: %v", userID, roomID, err)
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

func (h *Hub) lookup(client room.Client, roomID string) (*entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.joined[client.ID()][roomID]; !ok {
		return nil, ErrNotJoined
	}
	e, ok := h.rooms[roomID]
	if !ok {
		return nil, ErrNotJoined
	}
	return e, nil
}

// Leave 会话离开房间; 房间无人且 IdleTTL 为 0 时立即驱逐
func (h *Hub) Leave(ctx context.Context, client room.Client, roomID string) error {
	e, err := h.lookup(client, roomID)
	if err != nil {
		return err
	}
	err = e.room.Leave(ctx, client)

	h.mu.Lock()
	if rooms, ok := h.joined[client.ID()]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(h.joined, client.ID())
		}
	}
	evict := h.opts.IdleTTL == 0 && h.evictableLocked(roomID, e)
	if evict {
		delete(h.rooms, roomID)
	}
	h.mu.Unlock()

	if evict {
		h.evict(roomID, e.room)
	}
	if errors.Is(err, room.ErrClosed) {
		return ErrNotJoined
	}
	return err
}

// Disconnect 连接断开时离开它加入的所有房间
func (h *Hub) Disconnect(ctx context.Context, client room.Client) {
	h.mu.Lock()
	rooms := slices.Collect(maps.Keys(h.joined[client.ID()]))
	h.mu.Unlock()

	for _, roomID := range rooms {
		if err := h.Leave(ctx, client, roomID); err != nil && !errors.Is(err, ErrNotJoined) {
			logger.WarnF("[%s] Fail to leave room %s on disconnect, details: %v", client.ID(), roomID, err)
		}
	}
}

// Route 把房间内的操作交给房间 actor
func (h *Hub) Route(ctx context.Context, client room.Client, msg protocol.Inbound) error {
	e, err := h.lookup(client, msg.Room)
	if err != nil {
		return err
	}
	r := e.room

	if (msg.Type == protocol.Draft || msg.Type == protocol.Commit) && msg.Element == nil ||
		msg.Type == protocol.Cursor && (msg.X == nil || msg.Y == nil) {
		return protocol.ErrMissingField
	}

	// 提交前重新校验成员关系, 被移出团队的用户不能继续写入
	if msg.Type == protocol.Commit {
		if err := h.authorize(ctx, client.UserID(), msg.Room); err != nil {
			return err
		}
	}

	switch msg.Type {
	case protocol.Draft:
		err = r.Draft(ctx, client, *msg.Element)
	case protocol.CancelDraft:
		err = r.CancelDraft(ctx, client)
	case protocol.Commit:
		_, err = r.Commit(ctx, client, *msg.Element, msg.CommitID)
	case protocol.Undo:
		err = r.Undo(ctx, client)
	case protocol.Redo:
		err = r.Redo(ctx, client)
	case protocol.Clear:
		err = r.Clear(ctx, client)
	case protocol.Cursor:
		err = r.Cursor(ctx, client, *msg.X, *msg.Y)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, msg.Type)
	}
	if errors.Is(err, room.ErrClosed) {
		return ErrNotJoined
	}
	return err
}

// OnlineUsers 返回房间内的用户, 房间不在内存中时为空
func (h *Hub) OnlineUsers(ctx context.Context, roomID string) ([]string, error) {
	h.mu.Lock()
	e, ok := h.rooms[roomID]
	h.mu.Unlock()
	if !ok {
		return []string{}, nil
	}
	users, err := e.room.OnlineUsers(ctx)
	if errors.Is(err, room.ErrClosed) || errors.Is(err, room.ErrUnavailable) {
		return []string{}, nil
	}
	return users, err
}

// RoomState 返回房间的已提交状态; 房间不在内存中时从持久化层读取
func (h *Hub) RoomState(ctx context.Context, roomID string) (room.State, error) {
	h.mu.Lock()
	e, ok := h.rooms[roomID]
	h.mu.Unlock()
	if ok {
		state, err := e.room.State(ctx)
		if err == nil {
			return state, nil
		}
		if !errors.Is(err, room.ErrClosed) {
			return room.State{}, err
		}
	}
	elements, err := h.store.Load(ctx, roomID)
	if err != nil {
		return room.State{}, fmt.Errorf("%w: %v", ErrRoomUnavailable, err)
	}
	if elements == nil {
		elements = []element.Committed{}
	}
	return room.State{Elements: elements, Step: 0, Seq: element.MaxSeq(elements)}, nil
}

func (h *Hub) evictableLocked(roomID string, e *entry) bool {
	return h.rooms[roomID] == e && e.pending == 0 && e.room.Members() == 0
}

func (h *Hub) evict(roomID string, r *room.Room) {
	r.Close()
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.FlushTimeout)
	defer cancel()
	if err := h.store.Flush(ctx, roomID); err != nil {
		logger.WarnF("Room %s evicted before its snapshot was durable, details: %v", roomID, err)
		return
	}
	logger.InfoF("Room %s evicted", roomID)
}

// SweepIdle 驱逐空闲超过 IdleTTL 的房间, 返回驱逐数量
func (h *Hub) SweepIdle() int {
	now := h.now()
	h.mu.Lock()
	victims := make(map[string]*room.Room)
	for roomID, e := range h.rooms {
		if !h.evictableLocked(roomID, e) {
			continue
		}
		if now.Sub(e.room.IdleSince()) < h.opts.IdleTTL {
			continue
		}
		delete(h.rooms, roomID)
		victims[roomID] = e.room
	}
	h.mu.Unlock()

	for roomID, r := range victims {
		h.evict(roomID, r)
	}
	return len(victims)
}

// SweepCursors 回收所有房间中过期的光标
func (h *Hub) SweepCursors(ctx context.Context) int {
	h.mu.Lock()
	rooms := make([]*room.Room, 0, len(h.rooms))
	for _, e := range h.rooms {
		rooms = append(rooms, e.room)
	}
	h.mu.Unlock()

	total := 0
	for _, r := range rooms {
		n, err := r.SweepCursors(ctx)
		if err == nil {
			total += n
		}
	}
	return total
}

// RoomCount 内存中的房间数
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Close 停止所有房间; 之后的 Join 返回 ErrHubClosed
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	rooms := h.rooms
	h.rooms = make(map[string]*entry)
	h.joined = make(map[string]map[string]struct{})
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range rooms {
		wg.Add(1)
		go func(r *room.Room) {
			defer wg.Done()
			r.Close()
		}(e.room)
	}
	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		logger.InfoF("Hub closed %d rooms", len(rooms))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Invoke 供 Cleaner 调用
func (h *Hub) Invoke(ctx context.Context) error {
	return h.Close(ctx)
}
