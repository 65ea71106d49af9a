package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushWrapsAround(t *testing.T) {
	b := New[int](3)
	assert.Equal(t, 3, b.Capacity())
	assert.Equal(t, uint64(0), b.Cursor())

	for i := 1; i <= 4; i++ {
		b.Push(i)
	}
	assert.Equal(t, uint64(4), b.Cursor())
	assert.Equal(t, []int{4, 2, 3}, b.Data())
}

func TestCapacityOne(t *testing.T) {
	b := New[string](1)
	b.Push("a")
	b.Push("b")
	assert.Equal(t, []string{"b"}, b.Data())

	got, lost := Since(b.Data(), 0, b.Cursor())
	assert.Equal(t, []string{"b"}, got)
	assert.Equal(t, uint64(1), lost)
}

func TestNewRejectsZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
	assert.Panics(t, func() { New[int](-1) })
}

func TestSinceWithoutOverwrite(t *testing.T) {
	b := New[int](4)
	b.Push(10)
	prev := b.Cursor()
	b.Push(11)
	b.Push(12)

	got, lost := Since(b.Data(), prev, b.Cursor())
	assert.Equal(t, []int{11, 12}, got)
	assert.Zero(t, lost)

	got, lost = Since(b.Data(), b.Cursor(), b.Cursor())
	assert.Empty(t, got)
	assert.Zero(t, lost)
}

func TestSinceAcrossWrap(t *testing.T) {
	b := New[int](4)
	for i := 0; i < 3; i++ {
		b.Push(i)
	}
	prev := b.Cursor()
	for i := 3; i < 6; i++ {
		b.Push(i)
	}
	got, lost := Since(b.Data(), prev, b.Cursor())
	assert.Equal(t, []int{3, 4, 5}, got)
	assert.Zero(t, lost)
}

func TestOverwriteKeepsLastCapacity(t *testing.T) {
	const capacity = 5
	for k := 0; k <= 12; k++ {
		b := New[int](capacity)
		for i := 0; i < capacity+k; i++ {
			b.Push(i)
		}
		got, lost := Since(b.Data(), 0, b.Cursor())
		require.Len(t, got, capacity, "k=%d", k)
		assert.Equal(t, uint64(k), lost, "k=%d", k)
		for i, v := range got {
			assert.Equal(t, k+i, v, "k=%d", k)
		}
	}
}

func TestSinceCursorWentBackwards(t *testing.T) {
	got, lost := Since([]int{1, 2}, 5, 3)
	assert.Nil(t, got)
	assert.Zero(t, lost)
}
