// Package draft 保存每个作者尚未提交的实时草稿
package draft

import (
	"maps"
	"slices"

	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/element"
)

type Entry struct {
	Author  string                 `json:"author"`
	Element element.DrawingElement `json:"element"`
}

// Relay 每个作者最多一份草稿, 新草稿整体替换旧草稿。
// 只在房间 actor 内部访问, 不加锁。
type Relay struct {
	drafts map[string]element.DrawingElement
}

func NewRelay() *Relay {
	return &Relay{drafts: make(map[string]element.DrawingElement)}
}

func (r *Relay) Put(author string, el element.DrawingElement) {
	r.drafts[author] = el.Clone()
}

// Remove 删除作者的草稿, 返回之前是否存在
func (r *Relay) Remove(author string) bool {
	if _, ok := r.drafts[author]; !ok {
		return false
	}
	delete(r.drafts, author)
	return true
}

// Clear 删除所有草稿, 返回被删除草稿的作者
func (r *Relay) Clear() []string {
	authors := slices.Sorted(maps.Keys(r.drafts))
	clear(r.drafts)
	return authors
}

func (r *Relay) Get(author string) (element.DrawingElement, bool) {
	el, ok := r.drafts[author]
	return el, ok
}

func (r *Relay) Len() int {
	return len(r.drafts)
}

// Snapshot 返回除 exclude 之外所有作者的草稿, 按作者排序
func (r *Relay) Snapshot(exclude string) []Entry {
	out := make([]Entry, 0, len(r.drafts))
	for _, author := range slices.Sorted(maps.Keys(r.drafts)) {
		if author == exclude {
			continue
		}
		out = append(out, Entry{Author: author, Element: r.drafts[author]})
	}
	return out
}
