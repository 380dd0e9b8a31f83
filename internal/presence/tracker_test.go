package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestCursorExpiresAfterTTL(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	tr := NewTracker(2*time.Second, clock.Now)

	tr.Update("u1", 10, 20)
	_, ok := tr.Get("u1")
	assert.True(t, ok)

	clock.Advance(1999 * time.Millisecond)
	_, ok = tr.Get("u1")
	assert.True(t, ok)

	clock.Advance(time.Millisecond)
	_, ok = tr.Get("u1")
	assert.False(t, ok)
	assert.Empty(t, tr.Fresh(""))
	// 读取时过期, 尚未回收
	assert.Equal(t, 1, tr.Len())

	assert.Equal(t, 1, tr.Sweep())
	assert.Equal(t, 0, tr.Len())
}

func TestCursorOverwrite(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	tr := NewTracker(0, clock.Now)

	tr.Update("u1", 1, 1)
	clock.Advance(1500 * time.Millisecond)
	tr.Update("u1", 5, 6)
	clock.Advance(1500 * time.Millisecond)

	c, ok := tr.Get("u1")
	assert.True(t, ok)
	assert.Equal(t, 5.0, c.X)
	assert.Equal(t, 6.0, c.Y)
}

func TestFreshExcludesSelf(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	tr := NewTracker(time.Second, clock.Now)
	tr.Update("b", 1, 1)
	tr.Update("a", 2, 2)
	tr.Update("me", 3, 3)

	fresh := tr.Fresh("me")
	assert.Len(t, fresh, 2)
	assert.Equal(t, "a", fresh[0].Author)

	tr.Remove("a")
	assert.Len(t, tr.Fresh("me"), 1)
}
