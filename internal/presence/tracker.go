// Package presence 记录房间内各用户最近的光标位置
package presence

import (
	"maps"
	"slices"
	"time"
)

const DefaultTTL = 2 * time.Second

type Cursor struct {
	Author     string    `json:"author"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	ObservedAt time.Time `json:"observed_at"`
}

// Tracker 光标超过 ttl 未更新即视为过期; 过期在读取时计算, Sweep 负责回收内存。
// 只在房间 actor 内部访问。
type Tracker struct {
	ttl     time.Duration
	now     func() time.Time
	cursors map[string]Cursor
}

func NewTracker(ttl time.Duration, now func() time.Time) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Tracker{ttl: ttl, now: now, cursors: make(map[string]Cursor)}
}

// Update 覆盖作者的光标并返回记录
func (t *Tracker) Update(author string, x, y float64) Cursor {
	c := Cursor{Author: author, X: x, Y: y, ObservedAt: t.now().UTC()}
	t.cursors[author] = c
	return c
}

func (t *Tracker) Remove(author string) {
	delete(t.cursors, author)
}

func (t *Tracker) fresh(c Cursor, now time.Time) bool {
	return now.Sub(c.ObservedAt) < t.ttl
}

// Get 返回未过期的光标
func (t *Tracker) Get(author string) (Cursor, bool) {
	c, ok := t.cursors[author]
	if !ok || !t.fresh(c, t.now()) {
		return Cursor{}, false
	}
	return c, true
}

// Fresh 返回除 exclude 之外所有未过期的光标, 按作者排序
func (t *Tracker) Fresh(exclude string) []Cursor {
	now := t.now()
	out := make([]Cursor, 0, len(t.cursors))
	for _, author := range slices.Sorted(maps.Keys(t.cursors)) {
		c := t.cursors[author]
		if author == exclude || !t.fresh(c, now) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Sweep 删除过期光标, 返回删除数量
func (t *Tracker) Sweep() int {
	now := t.now()
	removed := 0
	for author, c := range t.cursors {
		if !t.fresh(c, now) {
			delete(t.cursors, author)
			removed++
		}
	}
	return removed
}

func (t *Tracker) Len() int {
	return len(t.cursors)
}
