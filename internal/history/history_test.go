package history

import (
	"testing"

	"github.com/life-stream-dev/life-stream-whiteboard-sync/internal/element"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stroke(x float64) element.DrawingElement {
	return element.DrawingElement{
		Type: element.Path, Tool: "pen", Color: "#000", LineWidth: 1,
		Points: []element.Point{{X: x, Y: x}},
	}
}

func xs(elements []element.Committed) []float64 {
	out := make([]float64, 0, len(elements))
	for _, e := range elements {
		out = append(out, e.Element.Points[0].X)
	}
	return out
}

func assertStepValid(t *testing.T, l *Log) {
	t.Helper()
	assert.GreaterOrEqual(t, l.Step(), 0)
	assert.LessOrEqual(t, l.Step(), l.Len()-1)
}

func TestCommitAssignsSequence(t *testing.T) {
	l := New(nil, Options{})
	a, dup := l.Commit("u1", "c1", stroke(1))
	require.False(t, dup)
	b, _ := l.Commit("u2", "c1", stroke(2))

	assert.Equal(t, uint64(1), a.Seq)
	assert.Equal(t, uint64(2), b.Seq)
	assert.Equal(t, 2, l.Step())
	assert.Equal(t, []float64{1, 2}, xs(l.Elements()))
	assertStepValid(t, l)
}

func TestCommitDuplicateIsNoop(t *testing.T) {
	l := New(nil, Options{})
	first, _ := l.Commit("u1", "c1", stroke(1))
	again, dup := l.Commit("u1", "c1", stroke(9))

	assert.True(t, dup)
	assert.Equal(t, first.Seq, again.Seq)
	assert.Equal(t, 1, len(l.Elements()))

	// 撤销和清空之后重试仍然被识别
	l.Undo()
	_, dup = l.Commit("u1", "c1", stroke(1))
	assert.True(t, dup)
	l.Clear()
	_, dup = l.Commit("u1", "c1", stroke(1))
	assert.True(t, dup)
	assert.Empty(t, l.Elements())
}

func TestCommitIsolatedFromCaller(t *testing.T) {
	l := New(nil, Options{})
	el := stroke(1)
	l.Commit("u1", "", el)
	el.Points[0].X = 100
	assert.Equal(t, []float64{1}, xs(l.Elements()))
}

func TestUndoRedoRoundTrip(t *testing.T) {
	l := New(nil, Options{})
	for i := 1; i <= 3; i++ {
		l.Commit("u1", "", stroke(float64(i)))
	}
	before := l.Elements()

	require.True(t, l.Undo())
	assert.Equal(t, []float64{1, 2}, xs(l.Elements()))
	require.True(t, l.Redo())
	assert.Equal(t, before, l.Elements())
	assertStepValid(t, l)
}

func TestUndoRedoClamp(t *testing.T) {
	l := New(nil, Options{})
	assert.False(t, l.Undo())
	assert.False(t, l.Redo())
	assert.Equal(t, 0, l.Step())

	l.Commit("u1", "", stroke(1))
	assert.False(t, l.Redo())
	assert.True(t, l.Undo())
	assert.False(t, l.Undo())
	assertStepValid(t, l)
}

func TestCommitTruncatesRedoFuture(t *testing.T) {
	l := New(nil, Options{})
	l.Commit("u1", "", stroke(1))
	l.Commit("u1", "", stroke(2))
	l.Undo()

	c, _ := l.Commit("u2", "", stroke(3))
	assert.Equal(t, uint64(3), c.Seq)
	assert.Equal(t, []float64{1, 3}, xs(l.Elements()))
	assert.False(t, l.CanRedo())
	assert.Equal(t, 3, l.Len())
}

func TestUndoAfterUndoThenCommitKeepsEarlierSlice(t *testing.T) {
	l := New(nil, Options{})
	l.Commit("u1", "", stroke(1))
	l.Commit("u1", "", stroke(2))
	held := l.Elements()
	l.Undo()
	l.Commit("u1", "", stroke(3))
	assert.Equal(t, []float64{1, 2}, xs(held))
}

func TestClearResets(t *testing.T) {
	l := New(nil, Options{})
	l.Commit("u1", "", stroke(1))
	l.Commit("u1", "", stroke(2))
	l.Clear()

	assert.Empty(t, l.Elements())
	assert.Equal(t, 0, l.Step())
	assert.Equal(t, 1, l.Len())
	assert.False(t, l.Undo())

	c, _ := l.Commit("u1", "", stroke(3))
	assert.Equal(t, uint64(3), c.Seq)
}

func TestLoadedBaseStartsAtZero(t *testing.T) {
	base := []element.Committed{
		{Seq: 4, Author: "u1", CommitID: "a", Element: stroke(1)},
		{Seq: 9, Author: "u2", CommitID: "b", Element: stroke(2)},
	}
	l := New(base, Options{})
	assert.Equal(t, 0, l.Step())
	assert.Equal(t, uint64(9), l.Seq())
	assert.False(t, l.Undo())
	assert.Equal(t, []float64{1, 2}, xs(l.Elements()))

	_, dup := l.Commit("u2", "b", stroke(2))
	assert.True(t, dup)
	c, _ := l.Commit("u3", "c", stroke(3))
	assert.Equal(t, uint64(10), c.Seq)
}

func TestHistoryLimitFolds(t *testing.T) {
	l := New(nil, Options{Limit: 2})
	for i := 1; i <= 4; i++ {
		l.Commit("u1", "", stroke(float64(i)))
		assertStepValid(t, l)
	}
	assert.Equal(t, 3, l.Len())
	assert.True(t, l.Undo())
	assert.True(t, l.Undo())
	assert.False(t, l.Undo())
	assert.Equal(t, []float64{1, 2}, xs(l.Elements()))
}

func TestDedupeEviction(t *testing.T) {
	l := New(nil, Options{DedupeSize: 1})
	l.Commit("u1", "c1", stroke(1))
	l.Commit("u1", "c2", stroke(2))
	_, dup := l.Commit("u1", "c1", stroke(1))
	assert.False(t, dup)
}
