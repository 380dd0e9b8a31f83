package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/database"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/element"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/membership"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/protocol"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/room"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	id, user string
	mu       sync.Mutex
	msgs     []map[string]any
}

func (c *fakeClient) ID() string     { return c.id }
func (c *fakeClient) UserID() string { return c.user }

func (c *fakeClient) Enqueue(data []byte) bool {
	var v map[string]any
	_ = json.Unmarshal(data, &v)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, v)
	return true
}

func (c *fakeClient) count(t protocol.MessageType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.msgs {
		if m["type"] == string(t) {
			n++
		}
	}
	return n
}

// switchableStore 可以让加载失败的持久化层
type switchableStore struct {
	*database.Persister
	mu      sync.Mutex
	loadErr error
	loads   int
}

func (s *switchableStore) Load(ctx context.Context, roomID string) ([]element.Committed, error) {
	s.mu.Lock()
	s.loads++
	err := s.loadErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Persister.Load(ctx, roomID)
}

func (s *switchableStore) setLoadErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadErr = err
}

func (s *switchableStore) loadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

type failingChecker struct{}

func (failingChecker) IsMember(context.Context, string, string) (bool, error) {
	return false, errors.New("membership service down")
}

func (failingChecker) HasRole(context.Context, string, string, string) (bool, error) {
	return false, errors.New("membership service down")
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var members = map[string][]string{
	"r1": {"A", "B", "C"},
	"r2": {"A"},
}

func setup(t *testing.T, idleTTL time.Duration, now func() time.Time) (*Hub, *switchableStore) {
	t.Helper()
	persister := database.NewPersister(database.NewMemoryStore(), database.PersisterOptions{
		RetryInitial: time.Millisecond, RetryMax: time.Millisecond, RetryMaxElapsed: 50 * time.Millisecond,
	})
	store := &switchableStore{Persister: persister}
	checker := membership.NewStaticChecker(false, members, nil)
	h := New(checker, store, Options{IdleTTL: idleTTL, Now: now})
	t.Cleanup(func() {
		_ = h.Close(context.Background())
		_ = persister.Close(context.Background())
	})
	return h, store
}

func stroke(x float64) *element.DrawingElement {
	return &element.DrawingElement{
		Type: element.Path, Tool: "pen", Color: "#000", LineWidth: 1,
		Points: []element.Point{{X: x, Y: x}},
	}
}

func commit(roomID, id string, x float64) protocol.Inbound {
	return protocol.Inbound{Type: protocol.Commit, Room: roomID, CommitID: id, Element: stroke(x)}
}

func TestJoinUnauthorized(t *testing.T) {
	ctx := context.Background()
	h, _ := setup(t, time.Minute, nil)

	_, err := h.Join(ctx, &fakeClient{id: "c1", user: "Z"}, "r1")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 0, h.RoomCount())

	_, err = h.Join(ctx, &fakeClient{id: "c1", user: "B"}, "r2")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestJoinMembershipFailureIsUnauthorized(t *testing.T) {
	ctx := context.Background()
	persister := database.NewPersister(database.NewMemoryStore(), database.PersisterOptions{})
	defer persister.Close(ctx)
	h := New(failingChecker{}, persister, Options{})
	defer h.Close(ctx)

	_, err := h.Join(ctx, &fakeClient{id: "c1", user: "A"}, "r1")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRouteRequiresJoin(t *testing.T) {
	ctx := context.Background()
	h, _ := setup(t, time.Minute, nil)
	a := &fakeClient{id: "ca", user: "A"}

	assert.ErrorIs(t, h.Route(ctx, a, commit("r1", "c1", 1)), ErrNotJoined)

	_, err := h.Join(ctx, a, "r1")
	require.NoError(t, err)
	require.NoError(t, h.Route(ctx, a, commit("r1", "c1", 1)))

	// 加入 r1 不代表可以操作 r2
	assert.ErrorIs(t, h.Route(ctx, a, commit("r2", "c2", 1)), ErrNotJoined)

	require.NoError(t, h.Leave(ctx, a, "r1"))
	assert.ErrorIs(t, h.Route(ctx, a, commit("r1", "c3", 1)), ErrNotJoined)
	assert.ErrorIs(t, h.Leave(ctx, a, "r1"), ErrNotJoined)
}

func TestRouteAllOperations(t *testing.T) {
	ctx := context.Background()
	h, _ := setup(t, time.Minute, nil)
	a, b := &fakeClient{id: "ca", user: "A"}, &fakeClient{id: "cb", user: "B"}
	_, _ = h.Join(ctx, a, "r1")
	_, _ = h.Join(ctx, b, "r1")

	x, y := 1.0, 2.0
	msgs := []protocol.Inbound{
		{Type: protocol.Draft, Room: "r1", Element: stroke(1)},
		{Type: protocol.CancelDraft, Room: "r1"},
		commit("r1", "c1", 1),
		{Type: protocol.Undo, Room: "r1"},
		{Type: protocol.Redo, Room: "r1"},
		{Type: protocol.Cursor, Room: "r1", X: &x, Y: &y},
		{Type: protocol.Clear, Room: "r1"},
	}
	for _, msg := range msgs {
		require.NoError(t, h.Route(ctx, a, msg), msg.Type)
	}

	assert.Equal(t, 1, b.count(protocol.PeerDraftMsg))
	assert.Equal(t, 1, b.count(protocol.DraftCancelledMsg))
	assert.Equal(t, 1, b.count(protocol.CommittedMsg))
	assert.Equal(t, 2, b.count(protocol.HistorySyncMsg))
	assert.Equal(t, 1, b.count(protocol.CursorUpdateMsg))
	assert.Equal(t, 1, b.count(protocol.ClearedMsg))

	assert.ErrorIs(t, h.Route(ctx, a, protocol.Inbound{Type: protocol.Join, Room: "r1"}), ErrUnsupported)
	assert.ErrorIs(t, h.Route(ctx, a, protocol.Inbound{Type: protocol.Draft, Room: "r1"}), protocol.ErrMissingField)
}

func TestRoomUnavailableThenRecovers(t *testing.T) {
	ctx := context.Background()
	h, store := setup(t, time.Minute, nil)
	a := &fakeClient{id: "ca", user: "A"}

	store.setLoadErr(errors.New("connection refused"))
	_, err := h.Join(ctx, a, "r1")
	assert.ErrorIs(t, err, ErrRoomUnavailable)
	assert.Equal(t, 0, h.RoomCount())
	assert.ErrorIs(t, h.Route(ctx, a, commit("r1", "c1", 1)), ErrNotJoined)

	store.setLoadErr(nil)
	_, err = h.Join(ctx, a, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, h.RoomCount())
}

func TestImmediateEvictionAndReload(t *testing.T) {
	ctx := context.Background()
	h, store := setup(t, 0, nil)
	a := &fakeClient{id: "ca", user: "A"}

	_, err := h.Join(ctx, a, "r1")
	require.NoError(t, err)
	require.NoError(t, h.Route(ctx, a, commit("r1", "c1", 1)))
	require.NoError(t, h.Route(ctx, a, commit("r1", "c2", 2)))
	require.NoError(t, h.Leave(ctx, a, "r1"))
	assert.Equal(t, 0, h.RoomCount())

	snap, err := h.Join(ctx, a, "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, store.loadCount())
	assert.Len(t, snap.Elements, 2)
	assert.Equal(t, 0, snap.Step)
	assert.Equal(t, uint64(2), snap.Seq)

	// 重新加载后提交 id 仍然去重
	require.NoError(t, h.Route(ctx, a, commit("r1", "c2", 2)))
	state, err := h.RoomState(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, state.Elements, 2)
}

func TestSweepIdleHonoursTTL(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Unix(1000, 0)}
	h, _ := setup(t, time.Minute, clk.Now)
	a, b := &fakeClient{id: "ca", user: "A"}, &fakeClient{id: "cb", user: "B"}

	_, _ = h.Join(ctx, a, "r1")
	_, _ = h.Join(ctx, b, "r1")
	_, _ = h.Join(ctx, a, "r2")
	require.NoError(t, h.Leave(ctx, a, "r2"))

	assert.Equal(t, 0, h.SweepIdle())
	clk.Advance(time.Minute)
	assert.Equal(t, 1, h.SweepIdle())
	assert.Equal(t, 1, h.RoomCount())

	// r1 仍有会话, 不会被驱逐
	clk.Advance(time.Hour)
	assert.Equal(t, 0, h.SweepIdle())
}

func TestDisconnectLeavesAllRooms(t *testing.T) {
	ctx := context.Background()
	h, _ := setup(t, time.Minute, nil)
	a, b := &fakeClient{id: "ca", user: "A"}, &fakeClient{id: "cb", user: "B"}
	_, _ = h.Join(ctx, a, "r1")
	_, _ = h.Join(ctx, a, "r2")
	_, _ = h.Join(ctx, b, "r1")

	require.NoError(t, h.Route(ctx, a, protocol.Inbound{Type: protocol.Draft, Room: "r1", Element: stroke(1)}))
	h.Disconnect(ctx, a)

	assert.Equal(t, 1, b.count(protocol.DraftCancelledMsg))
	assert.Equal(t, 1, b.count(protocol.MemberLeftMsg))

	users, err := h.OnlineUsers(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, users)
	users, err = h.OnlineUsers(ctx, "r2")
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestSessionReplacedAcrossConnections(t *testing.T) {
	ctx := context.Background()
	h, _ := setup(t, time.Minute, nil)
	old, fresh := &fakeClient{id: "c1", user: "A"}, &fakeClient{id: "c2", user: "A"}

	_, _ = h.Join(ctx, old, "r1")
	_, err := h.Join(ctx, fresh, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, old.count(protocol.ErrorMsg))

	// 旧连接断开不影响新会话
	h.Disconnect(ctx, old)
	users, _ := h.OnlineUsers(ctx, "r1")
	assert.Equal(t, []string{"A"}, users)
	assert.NoError(t, h.Route(ctx, fresh, commit("r1", "c1", 1)))
}

func TestRoomStateOfEvictedRoom(t *testing.T) {
	ctx := context.Background()
	h, _ := setup(t, 0, nil)
	a := &fakeClient{id: "ca", user: "A"}

	state, err := h.RoomState(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, state.Elements)

	_, _ = h.Join(ctx, a, "r1")
	require.NoError(t, h.Route(ctx, a, commit("r1", "c1", 1)))
	require.NoError(t, h.Leave(ctx, a, "r1"))

	state, err = h.RoomState(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, state.Elements, 1)
	assert.Equal(t, uint64(1), state.Seq)
}

func TestCloseRejectsJoins(t *testing.T) {
	ctx := context.Background()
	h, _ := setup(t, time.Minute, nil)
	a := &fakeClient{id: "ca", user: "A"}
	_, _ = h.Join(ctx, a, "r1")

	require.NoError(t, h.Invoke(ctx))
	_, err := h.Join(ctx, a, "r1")
	assert.ErrorIs(t, err, ErrHubClosed)
	assert.ErrorIs(t, h.Route(ctx, a, commit("r1", "c1", 1)), ErrNotJoined)
}

func TestConcurrentJoinsShareOneRoom(t *testing.T) {
	ctx := context.Background()
	h, store := setup(t, 0, nil)

	var wg sync.WaitGroup
	for _, user := range []string{"A", "B", "C"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			_, err := h.Join(ctx, &fakeClient{id: "c-" + user, user: user}, "r1")
			assert.NoError(t, err)
		}(user)
	}
	wg.Wait()

	assert.Equal(t, 1, h.RoomCount())
	assert.Equal(t, 1, store.loadCount())
	users, _ := h.OnlineUsers(ctx, "r1")
	assert.Len(t, users, 3)
}

func TestMaintenance(t *testing.T) {
	h, _ := setup(t, time.Minute, nil)
	m, err := StartMaintenance(h, nil, "@every 1s", "@every 1s")
	require.NoError(t, err)
	require.NoError(t, m.Invoke(context.Background()))

	_, err = StartMaintenance(h, nil, "not a spec", "")
	assert.Error(t, err)
}

var _ room.Client = (*fakeClient)(nil)

// revocableChecker 可以在运行中移除成员
type revocableChecker struct {
	mu      sync.Mutex
	members map[string]bool
}

func (rc *revocableChecker) IsMember(_ context.Context, userID, _ string) (bool, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.members[userID], nil
}

func (rc *revocableChecker) HasRole(context.Context, string, string, string) (bool, error) {
	return false, nil
}

func (rc *revocableChecker) revoke(userID string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.members, userID)
}

func TestCommitAfterMembershipRevoked(t *testing.T) {
	ctx := context.Background()
	persister := database.NewPersister(database.NewMemoryStore(), database.PersisterOptions{})
	defer persister.Close(ctx)
	checker := &revocableChecker{members: map[string]bool{"A": true, "B": true}}
	h := New(checker, persister, Options{IdleTTL: time.Minute})
	defer h.Close(ctx)

	a, b := &fakeClient{id: "ca", user: "A"}, &fakeClient{id: "cb", user: "B"}
	_, _ = h.Join(ctx, a, "r1")
	_, _ = h.Join(ctx, b, "r1")
	require.NoError(t, h.Route(ctx, a, commit("r1", "c1", 1)))

	checker.revoke("A")
	assert.ErrorIs(t, h.Route(ctx, a, commit("r1", "c2", 2)), ErrUnauthorized)
	assert.Equal(t, 1, b.count(protocol.CommittedMsg))

	state, err := h.RoomState(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, state.Elements, 1)
}
