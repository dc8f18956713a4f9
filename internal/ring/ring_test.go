package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_PushEvictsOldest(t *testing.T) {
	b := New[int](3)
	for i := 1; i <= 3; i++ {
		_, ok := b.Push(i)
		assert.False(t, ok)
	}
	assert.Equal(t, []int{1, 2, 3}, b.Slice())

	old, ok := b.Push(4)
	require.True(t, ok)
	assert.Equal(t, 1, old)
	assert.Equal(t, []int{2, 3, 4}, b.Slice())
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, 3, b.Cap())
}

func TestBuffer_Last(t *testing.T) {
	b := New[string](4)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		b.Push(s)
	}
	assert.Equal(t, []string{"d", "e"}, b.Last(2))
	assert.Equal(t, []string{"b", "c", "d", "e"}, b.Last(10))
	assert.Empty(t, b.Last(0))
}

func TestBuffer_Reset(t *testing.T) {
	b := New[int](2)
	b.Push(1)
	b.Push(2)
	b.Push(3)
	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.Slice())

	b.Push(9)
	assert.Equal(t, 9, b.At(0))
}

func TestBuffer_MinimumCapacity(t *testing.T) {
	b := New[int](0)
	assert.Equal(t, 1, b.Cap())
	b.Push(1)
	old, ok := b.Push(2)
	assert.True(t, ok)
	assert.Equal(t, 1, old)
}
