// Package room 实现单个白板房间的 actor
//
// 每个房间由一个 goroutine 按 FIFO 顺序执行所有操作, 房间之间互不阻塞。
// 广播只把编码好的消息放入各会话的发送队列, 不等待投递。
package room

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/draft"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/element"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/history"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/logger"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/presence"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/protocol"
	"golang.org/x/time/rate"
)

// Client 房间向会话投递消息的接口
type Client interface {
	ID() string
	UserID() string
	// Enqueue 非阻塞入队, 队列已满或连接已关闭时返回 false
	Enqueue(data []byte) bool
}

// Persistence 房间状态的加载与异步保存
type Persistence interface {
	Load(ctx context.Context, roomID string) ([]element.Committed, error)
	Schedule(roomID string, elements []element.Committed)
}

// RoleChecker 判断用户在房间内是否拥有角色, 用于限制 clear
type RoleChecker interface {
	HasRole(ctx context.Context, userID, roomID, role string) (bool, error)
}

// Config 房间参数, 零值字段使用默认值
type Config struct {
	CursorTTL    time.Duration
	CursorRate   float64
	CursorBurst  int
	HistoryLimit int
	DedupeSize   int
	MailboxSize  int
	MaxPoints    int
	ClearRoles   []string
	LoadTimeout  time.Duration
	Now          func() time.Time
}

type member struct {
	client   Client
	limiter  *rate.Limiter
	joinedAt time.Time
}

// Room 单个白板房间, 所有状态只由 actor goroutine 修改
type Room struct {
	id    string
	cfg   Config
	store Persistence
	roles RoleChecker
	now   func() time.Time

	mailbox   chan func()
	quit      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once

	// 以下字段只在 actor goroutine 中访问
	loadErr error
	log     *history.Log
	drafts  *draft.Relay
	cursors *presence.Tracker
	members map[string]*member

	memberCount atomic.Int32
	idleSince   atomic.Int64
}

func New(id string, cfg Config, store Persistence, roles RoleChecker) *Room {
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 256
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 10 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	r := &Room{
		id:      id,
		cfg:     cfg,
		store:   store,
		roles:   roles,
		now:     now,
		mailbox: make(chan func(), cfg.MailboxSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		drafts:  draft.NewRelay(),
		cursors: presence.NewTracker(cfg.CursorTTL, now),
		members: make(map[string]*member),
	}
	r.idleSince.Store(now().UnixNano())
	return r
}

func (r *Room) ID() string {
	return r.id
}

// Start 启动 actor; 第一项工作是从持久化层加载状态
func (r *Room) Start() {
	r.startOnce.Do(func() {
		go r.run()
	})
}

func (r *Room) run() {
	defer close(r.done)
	select {
	case <-r.quit:
		return
	default:
	}
	r.load()
	for {
		select {
		case op := <-r.mailbox:
			op()
		case <-r.quit:
			return
		}
	}
}

func (r *Room) load() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.LoadTimeout)
	defer cancel()
	go func() {
		select {
		case <-r.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	elements, err := r.store.Load(ctx, r.id)
	if err != nil {
		logger.ErrorF("[room %s] Fail to load snapshot, details: %v", r.id, err)
		r.loadErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
		return
	}
	r.log = history.New(elements, history.Options{
		Limit:      r.cfg.HistoryLimit,
		DedupeSize: r.cfg.DedupeSize,
		Now:        r.now,
	})
	logger.DebugF("[room %s] Loaded %d elements", r.id, len(elements))
}

// Close 停止 actor, 尚在队列中的操作返回 ErrClosed
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		close(r.quit)
	})
	r.Start()
	<-r.done
}

// Members 当前会话数, 可在任意 goroutine 调用
func (r *Room) Members() int {
	return int(r.memberCount.Load())
}

// IdleSince 最后一个会话离开的时间
func (r *Room) IdleSince() time.Time {
	return time.Unix(0, r.idleSince.Load())
}

// do 把操作放入 mailbox 并等待结果
func (r *Room) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	op := func() {
		if r.loadErr != nil {
			reply <- r.loadErr
			return
		}
		reply <- fn()
	}

	select {
	case <-r.quit:
		return ErrClosed
	default:
	}

	select {
	case r.mailbox <- op:
	case <-r.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-r.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) memberOf(client Client) (*member, error) {
	m, ok := r.members[client.UserID()]
	if !ok || m.client.ID() != client.ID() {
		return nil, ErrNotJoined
	}
	return m, nil
}

func (r *Room) encode(v any) []byte {
	data, err := protocol.Encode(v)
	if err != nil {
		logger.ErrorF("[room %s] %v", r.id, err)
		return nil
	}
	return data
}

// broadcast 编码一次, 投递给除 excludeUser 之外的所有会话
func (r *Room) broadcast(v any, excludeUser string) {
	data := r.encode(v)
	if data == nil {
		return
	}
	for user, m := range r.members {
		if user == excludeUser {
			continue
		}
		if !m.client.Enqueue(data) {
			logger.WarnF("[room %s] Drop message for slow session %s (%s)", r.id, m.client.ID(), user)
		}
	}
}

func (r *Room) send(client Client, v any) {
	data := r.encode(v)
	if data == nil {
		return
	}
	if !client.Enqueue(data) {
		logger.WarnF("[room %s] Drop message for slow session %s", r.id, client.ID())
	}
}

func (r *Room) persist() {
	r.store.Schedule(r.id, r.log.Elements())
}

func (r *Room) memberList() []string {
	users := make([]string, 0, len(r.members))
	users = slices.AppendSeq(users, maps.Keys(r.members))
	slices.Sort(users)
	return users
}

func (r *Room) snapshotFor(user string) protocol.Snapshot {
	return protocol.Snapshot{
		Type:     protocol.SnapshotMsg,
		Room:     r.id,
		Elements: r.log.Elements(),
		Step:     r.log.Step(),
		Seq:      r.log.Seq(),
		CanUndo:  r.log.CanUndo(),
		CanRedo:  r.log.CanRedo(),
		Cursors:  r.cursors.Fresh(user),
		Drafts:   r.drafts.Snapshot(user),
		Members:  r.memberList(),
	}
}

func (r *Room) newLimiter() *rate.Limiter {
	if r.cfg.CursorRate <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := r.cfg.CursorBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(r.cfg.CursorRate), burst)
}

// Join 注册会话并把快照发给它。同一连接重复加入只会重发快照;
// 同一用户从新连接加入会替换旧会话。
func (r *Room) Join(ctx context.Context, client Client) (protocol.Snapshot, error) {
	var snap protocol.Snapshot
	err := r.do(ctx, func() error {
		user := client.UserID()
		existing, ok := r.members[user]
		switch {
		case ok && existing.client.ID() == client.ID():
		case ok:
			r.send(existing.client, protocol.NewError(r.id, protocol.CodeSessionReplaced,
				"session replaced by a newer connection", ""))
			existing.client = client
			existing.limiter = r.newLimiter()
			existing.joinedAt = r.now()
			logger.InfoF("[room %s] Session of %s replaced by %s", r.id, user, client.ID())
		default:
			r.members[user] = &member{client: client, limiter: r.newLimiter(), joinedAt: r.now()}
			r.memberCount.Add(1)
			r.broadcast(protocol.MemberEvent{Type: protocol.MemberJoinedMsg, Room: r.id, User: user}, user)
			logger.InfoF("[room %s] %s joined, %d members", r.id, user, len(r.members))
		}
		snap = r.snapshotFor(user)
		r.send(client, snap)
		return nil
	})
	return snap, err
}

// Leave 移除会话并丢弃该作者的草稿和光标
func (r *Room) Leave(ctx context.Context, client Client) error {
	return r.do(ctx, func() error {
		if _, err := r.memberOf(client); err != nil {
			return err
		}
		user := client.UserID()
		delete(r.members, user)
		if r.memberCount.Add(-1) == 0 {
			r.idleSince.Store(r.now().UnixNano())
		}
		if r.drafts.Remove(user) {
			r.broadcast(protocol.DraftCancelled{Type: protocol.DraftCancelledMsg, Room: r.id, Author: user}, user)
		}
		r.cursors.Remove(user)
		r.broadcast(protocol.MemberEvent{Type: protocol.MemberLeftMsg, Room: r.id, User: user}, user)
		r.send(client, protocol.Left{Type: protocol.LeftMsg, Room: r.id})
		logger.InfoF("[room %s] %s left, %d members", r.id, user, len(r.members))
		return nil
	})
}

func (r *Room) checkElement(el *element.DrawingElement) error {
	el.Normalize()
	if err := el.Validate(r.cfg.MaxPoints); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidElement, err)
	}
	return nil
}

// Draft 替换作者的草稿并转发给其他会话
func (r *Room) Draft(ctx context.Context, client Client, el element.DrawingElement) error {
	if err := r.checkElement(&el); err != nil {
		return err
	}
	return r.do(ctx, func() error {
		if _, err := r.memberOf(client); err != nil {
			return err
		}
		user := client.UserID()
		r.drafts.Put(user, el)
		r.broadcast(protocol.PeerDraft{Type: protocol.PeerDraftMsg, Room: r.id, Author: user, Element: el}, user)
		return nil
	})
}

func (r *Room) CancelDraft(ctx context.Context, client Client) error {
	return r.do(ctx, func() error {
		if _, err := r.memberOf(client); err != nil {
			return err
		}
		user := client.UserID()
		if r.drafts.Remove(user) {
			r.broadcast(protocol.DraftCancelled{Type: protocol.DraftCancelledMsg, Room: r.id, Author: user}, user)
		}
		return nil
	})
}

// Commit 追加元素并广播给所有会话。重复的 commitID 不改变状态,
// 只向发送者重发之前的确认。
func (r *Room) Commit(ctx context.Context, client Client, el element.DrawingElement, commitID string) (element.Committed, error) {
	if err := r.checkElement(&el); err != nil {
		return element.Committed{}, err
	}
	var result element.Committed
	err := r.do(ctx, func() error {
		if _, err := r.memberOf(client); err != nil {
			return err
		}
		user := client.UserID()
		committed, duplicate := r.log.Commit(user, commitID, el)
		result = committed
		if duplicate {
			logger.DebugF("[room %s] Duplicate commit %s from %s, seq %d", r.id, commitID, user, committed.Seq)
			r.send(client, protocol.Committed{
				Type: protocol.CommittedMsg, Room: r.id, Seq: committed.Seq,
				Step: r.log.Step(), Element: committed, Duplicate: true,
			})
			return nil
		}
		r.drafts.Remove(user)
		r.broadcast(protocol.Committed{
			Type: protocol.CommittedMsg, Room: r.id, Seq: committed.Seq,
			Step: r.log.Step(), Element: committed,
		}, "")
		r.persist()
		return nil
	})
	return result, err
}

func (r *Room) historySync(by string) protocol.HistorySync {
	return protocol.HistorySync{
		Type:     protocol.HistorySyncMsg,
		Room:     r.id,
		Elements: r.log.Elements(),
		Step:     r.log.Step(),
		CanUndo:  r.log.CanUndo(),
		CanRedo:  r.log.CanRedo(),
		By:       by,
	}
}

// Undo 指针后退并向所有会话同步完整状态; 越界时只同步
func (r *Room) Undo(ctx context.Context, client Client) error {
	return r.moveStep(ctx, client, func() bool { return r.log.Undo() })
}

func (r *Room) Redo(ctx context.Context, client Client) error {
	return r.moveStep(ctx, client, func() bool { return r.log.Redo() })
}

func (r *Room) moveStep(ctx context.Context, client Client, move func() bool) error {
	return r.do(ctx, func() error {
		if _, err := r.memberOf(client); err != nil {
			return err
		}
		changed := move()
		r.broadcast(r.historySync(client.UserID()), "")
		if changed {
			r.persist()
		}
		return nil
	})
}

// Clear 将历史重置为空并丢弃所有草稿
func (r *Room) Clear(ctx context.Context, client Client) error {
	if err := r.authorizeClear(ctx, client.UserID()); err != nil {
		return err
	}
	return r.do(ctx, func() error {
		if _, err := r.memberOf(client); err != nil {
			return err
		}
		r.log.Clear()
		for _, author := range r.drafts.Clear() {
			r.broadcast(protocol.DraftCancelled{Type: protocol.DraftCancelledMsg, Room: r.id, Author: author}, author)
		}
		r.broadcast(protocol.Cleared{
			Type: protocol.ClearedMsg, Room: r.id,
			Elements: []element.Committed{}, Step: 0, By: client.UserID(),
		}, "")
		r.persist()
		logger.InfoF("[room %s] Cleared by %s", r.id, client.UserID())
		return nil
	})
}

func (r *Room) authorizeClear(ctx context.Context, user string) error {
	if len(r.cfg.ClearRoles) == 0 || r.roles == nil {
		return nil
	}
	for _, role := range r.cfg.ClearRoles {
		ok, err := r.roles.HasRole(ctx, user, r.id, role)
		if err != nil {
			return fmt.Errorf("%w: role lookup failed: %v", ErrForbidden, err)
		}
		if ok {
			return nil
		}
	}
	return ErrForbidden
}

// Cursor 更新光标并转发给其他会话; 超过速率的更新被丢弃
func (r *Room) Cursor(ctx context.Context, client Client, x, y float64) error {
	return r.do(ctx, func() error {
		m, err := r.memberOf(client)
		if err != nil {
			return err
		}
		if !m.limiter.Allow() {
			return nil
		}
		c := r.cursors.Update(client.UserID(), x, y)
		r.broadcast(protocol.CursorUpdate{
			Type: protocol.CursorUpdateMsg, Room: r.id, Author: c.Author,
			X: c.X, Y: c.Y, ObservedAt: c.ObservedAt,
		}, client.UserID())
		return nil
	})
}

// OnlineUsers 返回当前在房间内的用户
func (r *Room) OnlineUsers(ctx context.Context) ([]string, error) {
	var users []string
	err := r.do(ctx, func() error {
		users = r.memberList()
		return nil
	})
	return users, err
}

// State 房间已提交状态的只读副本
type State struct {
	Elements []element.Committed
	Step     int
	Seq      uint64
}

// State 当前已提交的状态
func (r *Room) State(ctx context.Context) (State, error) {
	var state State
	err := r.do(ctx, func() error {
		state = State{Elements: r.log.Elements(), Step: r.log.Step(), Seq: r.log.Seq()}
		return nil
	})
	return state, err
}

// SweepCursors 回收过期光标
func (r *Room) SweepCursors(ctx context.Context) (int, error) {
	var removed int
	err := r.do(ctx, func() error {
		removed = r.cursors.Sweep()
		return nil
	})
	return removed, err
}
