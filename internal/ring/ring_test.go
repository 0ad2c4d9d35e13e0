package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoundsUpToPowerOfTwo(t *testing.T) {
	r := New[int](5)
	assert.Equal(t, 8, int(r.capacity()))
}

func TestPushPopFIFO(t *testing.T) {
	r := New[int](4)
	require.True(t, r.TryPush(1))
	require.True(t, r.TryPush(2))
	v, ok := r.TryPop()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = r.TryPop()
	require.True(t, ok)
	assert.Equal(t, 2, v)
	_, ok = r.TryPop()
	assert.False(t, ok)
}

func TestPushFailsWhenFull(t *testing.T) {
	r := New[int](2)
	require.True(t, r.TryPush(1))
	require.True(t, r.TryPush(2))
	assert.False(t, r.TryPush(3))
}

func TestWrapAroundViaSliceAPI(t *testing.T) {
	r := New[int](4)
	for i := 0; i < 3; i++ {
		require.True(t, r.TryPush(i))
	}
	_, _ = r.TryPop()
	_, _ = r.TryPop()

	first, second := r.WriteSlice(3)
	total := len(first) + len(second)
	require.Equal(t, 3, total)
	idx := 0
	for i := range first {
		first[i] = 100 + idx
		idx++
	}
	for i := range second {
		second[i] = 100 + idx
		idx++
	}
	r.Commit(3)

	rf, rs := r.ReadSlice(4)
	got := append(append([]int{}, rf...), rs...)
	assert.Equal(t, []int{2, 100, 101, 102}, got)
	r.Advance(4)
	assert.Equal(t, 0, r.Len())
}

func TestAbandonmentDrained(t *testing.T) {
	r := New[int](2)
	require.True(t, r.TryPush(1))
	assert.False(t, r.Drained())
	r.Abandon()
	assert.True(t, r.IsAbandoned())
	assert.False(t, r.Drained(), "not empty yet")
	_, _ = r.TryPop()
	assert.True(t, r.Drained())
}
