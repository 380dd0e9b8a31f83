package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/element"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/logger"
)

var ErrPersisterClosed = errors.New("persister is closed")

type PersisterOptions struct {
	RetryInitial    time.Duration
	RetryMax        time.Duration
	RetryMaxElapsed time.Duration
	SaveTimeout     time.Duration
	MaxConcurrent   int
}

type pendingSave struct {
	elements []element.Committed
	version  uint64
	running  bool
	failed   error
	done     chan struct{}
}

// Persister 异步保存房间快照。每个房间只保留最新一份待保存快照,
// 同一房间同一时间最多一个保存任务, 失败时指数退避重试。
type Persister struct {
	store SnapshotStore
	opts  PersisterOptions

	mu      sync.Mutex
	pending map[string]*pendingSave
	closed  bool

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewPersister(store SnapshotStore, opts PersisterOptions) *Persister {
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = 200 * time.Millisecond
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = 10 * time.Second
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = 5 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Persister{
		store:   store,
		opts:    opts,
		pending: make(map[string]*pendingSave),
		sem:     make(chan struct{}, opts.MaxConcurrent),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Load 优先返回尚未落盘的快照, 其次读取存储; 没有快照时返回空
func (p *Persister) Load(ctx context.Context, roomID string) ([]element.Committed, error) {
	p.mu.Lock()
	if ps, ok := p.pending[roomID]; ok {
		elements := append([]element.Committed(nil), ps.elements...)
		p.mu.Unlock()
		return elements, nil
	}
	p.mu.Unlock()

	elements, err := p.store.LoadSnapshot(ctx, roomID)
	if errors.Is(err, ErrSnapshotNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return elements, nil
}

// Schedule 记录最新快照并确保有保存任务在运行, 不阻塞调用方
func (p *Persister) Schedule(roomID string, elements []element.Committed) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ps, ok := p.pending[roomID]
	if !ok {
		ps = &pendingSave{}
		p.pending[roomID] = ps
	}
	ps.elements = elements
	ps.version++
	ps.failed = nil

	if ps.running || p.closed {
		return
	}
	p.startLocked(roomID, ps)
}

func (p *Persister) startLocked(roomID string, ps *pendingSave) {
	ps.running = true
	ps.done = make(chan struct{})
	p.wg.Add(1)
	go p.drain(roomID, ps)
}

// RetryFailed 为重试耗尽后仍未落盘的房间重新启动保存任务
func (p *Persister) RetryFailed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0
	}
	started := 0
	for roomID, ps := range p.pending {
		if ps.running {
			continue
		}
		ps.failed = nil
		p.startLocked(roomID, ps)
		started++
	}
	return started
}

func (p *Persister) drain(roomID string, ps *pendingSave) {
	defer p.wg.Done()

	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	case <-p.ctx.Done():
		p.mu.Lock()
		p.finishLocked(roomID, ps, p.ctx.Err())
		p.mu.Unlock()
		return
	}

	for {
		p.mu.Lock()
		elements, version := ps.elements, ps.version
		p.mu.Unlock()

		err := p.saveWithRetry(roomID, elements)

		// 版本检查与结束状态必须在同一临界区内, 否则期间的 Schedule 会被丢弃
		p.mu.Lock()
		if err == nil && ps.version != version {
			p.mu.Unlock()
			continue
		}
		p.finishLocked(roomID, ps, err)
		p.mu.Unlock()
		return
	}
}

// finishLocked 调用方持有 p.mu
func (p *Persister) finishLocked(roomID string, ps *pendingSave, err error) {
	ps.running = false
	if err != nil {
		ps.failed = err
		logger.ErrorF("[persister] Fail to save snapshot of room %s, keep it pending, details: %v", roomID, err)
	} else if p.pending[roomID] == ps {
		delete(p.pending, roomID)
	}
	close(ps.done)
}

func (p *Persister) saveWithRetry(roomID string, elements []element.Committed) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.opts.RetryInitial
	b.MaxInterval = p.opts.RetryMax
	b.MaxElapsedTime = p.opts.RetryMaxElapsed

	operation := func() error {
		ctx, cancel := context.WithTimeout(p.ctx, p.opts.SaveTimeout)
		defer cancel()
		err := p.store.SaveSnapshot(ctx, roomID, elements)
		if errors.Is(err, ErrRoomIDEmpty) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.WarnF("[persister] Save snapshot of room %s failed, retry in %v, details: %v", roomID, wait, err)
	}
	return backoff.RetryNotify(operation, backoff.WithContext(b, p.ctx), notify)
}

// Flush 等待房间当前的保存任务结束
func (p *Persister) Flush(ctx context.Context, roomID string) error {
	p.mu.Lock()
	ps, ok := p.pending[roomID]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	if !ps.running {
		err := ps.failed
		p.mu.Unlock()
		if err == nil {
			return nil
		}
		return fmt.Errorf("snapshot of room %s is not durable: %w", roomID, err)
	}
	done := ps.done
	p.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.Flush(ctx, roomID)
}

// Pending 尚未落盘的房间数
func (p *Persister) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Close 等待进行中的保存, 并对仍未落盘的快照做最后一次尝试
func (p *Persister) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		p.cancel()
		<-finished
	}
	p.cancel()

	p.mu.Lock()
	leftovers := make(map[string][]element.Committed, len(p.pending))
	for roomID, ps := range p.pending {
		leftovers[roomID] = ps.elements
	}
	p.mu.Unlock()

	var errs []error
	for roomID, elements := range leftovers {
		if err := p.store.SaveSnapshot(ctx, roomID, elements); err != nil {
			errs = append(errs, fmt.Errorf("room %s: %w", roomID, err))
			continue
		}
		p.mu.Lock()
		delete(p.pending, roomID)
		p.mu.Unlock()
	}
	if len(errs) > 0 {
		return fmt.Errorf("persister: %d snapshots not saved: %w", len(errs), errors.Join(errs...))
	}
	logger.Info("Persister drained")
	return nil
}

// Invoke 供 Cleaner 调用
func (p *Persister) Invoke(ctx context.Context) error {
	return p.Close(ctx)
}
