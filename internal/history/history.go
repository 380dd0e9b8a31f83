// Package history 维护单个房间的提交历史与撤销/重做指针
//
// 历史中每个状态都是前一个状态追加一个元素得到的, 因此只保存
// base (加载时的快照) 与 tail (之后的提交), 当前状态为 base + tail[:step]。
package history

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/element"
)

const DefaultDedupeSize = 4096

type Options struct {
	// Limit 可撤销的最大步数, 0 表示不限制
	Limit      int
	DedupeSize int
	Now        func() time.Time
}

type Log struct {
	base   []element.Committed
	tail   []element.Committed
	step   int
	seq    uint64
	limit  int
	dedupe *lru.Cache[string, element.Committed]
	now    func() time.Time
}

// New 以已持久化的元素作为初始状态, 指针位于 0
func New(base []element.Committed, opts Options) *Log {
	size := opts.DedupeSize
	if size <= 0 {
		size = DefaultDedupeSize
	}
	cache, _ := lru.New[string, element.Committed](size)
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	l := &Log{
		base:   append([]element.Committed(nil), base...),
		limit:  opts.Limit,
		dedupe: cache,
		now:    now,
		seq:    element.MaxSeq(base),
	}
	for _, c := range l.base {
		if c.CommitID != "" {
			l.dedupe.Add(dedupeKey(c.Author, c.CommitID), c)
		}
	}
	return l
}

func dedupeKey(author, commitID string) string {
	return author + "\x00" + commitID
}

// Commit 追加一个元素并推进指针, 丢弃指针之后的重做记录。
// 同一作者重复的 commitID 不会改变历史, 返回第一次提交的结果与 true。
func (l *Log) Commit(author, commitID string, el element.DrawingElement) (element.Committed, bool) {
	if commitID != "" {
		if prior, ok := l.dedupe.Get(dedupeKey(author, commitID)); ok {
			return prior, true
		}
	}

	l.seq++
	committed := element.Committed{
		Seq:         l.seq,
		Author:      author,
		CommitID:    commitID,
		CommittedAt: l.now().UTC(),
		Element:     el.Clone(),
	}

	l.tail = append(l.tail[:l.step], committed)
	l.step = len(l.tail)
	l.fold()

	if commitID != "" {
		l.dedupe.Add(dedupeKey(author, commitID), committed)
	}
	return committed, false
}

// fold 超出撤销深度时, 把最早的提交并入 base
func (l *Log) fold() {
	if l.limit <= 0 || len(l.tail) <= l.limit {
		return
	}
	n := len(l.tail) - l.limit
	l.base = append(l.base, l.tail[:n]...)
	l.tail = append([]element.Committed(nil), l.tail[n:]...)
	l.step -= n
}

// Undo 指针后退一步, 已在起点时返回 false
func (l *Log) Undo() bool {
	if l.step == 0 {
		return false
	}
	l.step--
	return true
}

// Redo 指针前进一步, 已在终点时返回 false
func (l *Log) Redo() bool {
	if l.step >= len(l.tail) {
		return false
	}
	l.step++
	return true
}

// Clear 将历史重置为单个空状态; 序号和去重记录保留
func (l *Log) Clear() {
	l.base = nil
	l.tail = nil
	l.step = 0
}

// Elements 返回当前状态的元素, 调用方可以持有返回的切片
func (l *Log) Elements() []element.Committed {
	out := make([]element.Committed, 0, len(l.base)+l.step)
	out = append(out, l.base...)
	out = append(out, l.tail[:l.step]...)
	return out
}

func (l *Log) Step() int {
	return l.step
}

// Len 历史中状态的数量, 至少为 1
func (l *Log) Len() int {
	return len(l.tail) + 1
}

// Seq 已分配的最大序号
func (l *Log) Seq() uint64 {
	return l.seq
}

func (l *Log) CanUndo() bool {
	return l.step > 0
}

func (l *Log) CanRedo() bool {
	return l.step < len(l.tail)
}
