package partmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutingInvariant(t *testing.T) {
	m := New(4, 16, nil)
	keys := [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma"), []byte("delta"), []byte("epsilon")}
	for _, k := range keys {
		partition, hash := m.PartitionOf(k)
		assert.Equal(t, partition, m.PartitionOfHash(hash))
		assert.GreaterOrEqual(t, partition, 0)
		assert.Less(t, partition, 4)
	}
}

func TestCreateAllHandlesSinglePerShard(t *testing.T) {
	m := New(2, 16, nil)
	handles := m.CreateAllHandles()
	require.Len(t, handles, 2)
	assert.Equal(t, 0, handles[0].PartitionID())
	assert.Equal(t, 1, handles[1].PartitionID())

	assert.Panics(t, func() {
		m.CreateAllHandles()
	}, "a second claim while handles are outstanding must panic")
}

func TestPutGetDeleteSemantics(t *testing.T) {
	m := New(1, 16, nil)
	handles := m.CreateAllHandles()
	h := handles[0]

	_, hash := m.PartitionOf([]byte("a"))

	prior, had := h.Put(hash, []byte("a"), []byte("1"))
	assert.False(t, had)
	assert.Nil(t, prior)

	val, ok := h.Get(hash)
	require.True(t, ok)
	assert.Equal(t, []byte("1"), val)

	prior, had = h.Put(hash, []byte("a"), []byte("2"))
	assert.True(t, had)
	assert.Equal(t, []byte("1"), prior)

	removed, had := h.Delete(hash)
	assert.True(t, had)
	assert.Equal(t, []byte("2"), removed)

	_, had = h.Delete(hash)
	assert.False(t, had, "deleting an absent key returns no binding")

	assert.Equal(t, 0, h.Len())
}

func TestDebugRoutingAssertion(t *testing.T) {
	DebugRouting = true
	defer func() { DebugRouting = false }()

	m := New(4, 16, nil)
	handles := m.CreateAllHandles()

	// find a key that does NOT route to partition 0
	var wrongHash uint64
	for _, k := range [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d"), []byte("e"), []byte("f")} {
		p, h := m.PartitionOf(k)
		if p != 0 {
			wrongHash = h
			break
		}
	}

	assert.Panics(t, func() {
		handles[0].Get(wrongHash)
	})
}
