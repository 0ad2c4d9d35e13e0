package apply

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adred-codev/kvcore/internal/kv"
	"github.com/adred-codev/kvcore/internal/metrics"
	"github.com/adred-codev/kvcore/internal/partmap"
	"github.com/adred-codev/kvcore/internal/ring"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, numClients, numPartitions int) ([]*ring.Ring[kv.ClientLogMessage], *ring.Ring[kv.Prefix], []*ring.Ring[kv.Ack], *partmap.PartitionedHashMap, []*partmap.Handle) {
	t.Helper()
	clientIns := make([]*ring.Ring[kv.ClientLogMessage], numClients)
	for i := range clientIns {
		clientIns[i] = ring.New[kv.ClientLogMessage](64)
	}
	m := partmap.New(numPartitions, 16, partmap.DefaultHash)
	handles := m.CreateAllHandles()
	acksOuts := make([]*ring.Ring[kv.Ack], numPartitions)
	for i := range acksOuts {
		acksOuts[i] = ring.New[kv.Ack](64)
	}
	prefixIn := ring.New[kv.Prefix](16)
	return clientIns, prefixIn, acksOuts, m, handles
}

func put(clientID kv.ClientID, id kv.MessageID, key, val string) kv.ClientLogMessage {
	return kv.ClientLogMessage{ClientID: clientID, MessageID: id, Op: kv.Operation{Tag: kv.OpPut, Key: []byte(key), Value: []byte(val)}}
}

func get(clientID kv.ClientID, id kv.MessageID, key string) kv.ClientLogMessage {
	return kv.ClientLogMessage{ClientID: clientID, MessageID: id, Op: kv.Operation{Tag: kv.OpGet, Key: []byte(key)}}
}

// fanOut copies everything queued in in into n fresh rings, carrying
// over in's abandonment, so that each partition gets its own
// single-consumer copy of the stream.
func fanOut[T any](t *testing.T, in *ring.Ring[T], n int) []*ring.Ring[T] {
	t.Helper()
	outs := make([]*ring.Ring[T], n)
	for i := range outs {
		outs[i] = ring.New[T](64)
	}
	for v, ok := in.TryPop(); ok; v, ok = in.TryPop() {
		for _, o := range outs {
			require.True(t, o.TryPush(v))
		}
	}
	if in.IsAbandoned() {
		for _, o := range outs {
			o.Abandon()
		}
	}
	return outs
}

// runAllPartitions runs one Apply goroutine per partition (mirroring
// Order's broadcast fan-out: every partition reads its own copy of every
// client's full stream and of the prefix stream, and filters by routing)
// and waits for all to return.
func runAllPartitions(t *testing.T, clientIns []*ring.Ring[kv.ClientLogMessage], prefixIn *ring.Ring[kv.Prefix], acksOuts []*ring.Ring[kv.Ack], m *partmap.PartitionedHashMap, handles []*partmap.Handle) {
	t.Helper()
	prefixCopies := fanOut(t, prefixIn, len(handles))
	clientCopies := make([][]*ring.Ring[kv.ClientLogMessage], len(clientIns))
	for c, in := range clientIns {
		clientCopies[c] = fanOut(t, in, len(handles))
	}
	done := make(chan error, len(handles))
	for i, h := range handles {
		partitionIns := make([]*ring.Ring[kv.ClientLogMessage], len(clientIns))
		for c := range partitionIns {
			partitionIns[c] = clientCopies[c][i]
		}
		go func(h *partmap.Handle, ins []*ring.Ring[kv.ClientLogMessage], prefix *ring.Ring[kv.Prefix], acksOut *ring.Ring[kv.Ack]) {
			_, err := Run(context.Background(), ins, nil, prefix, acksOut, m, h, zerolog.Nop())
			done <- err
		}(h, partitionIns, prefixCopies[i], acksOuts[i])
	}
	for range handles {
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("Apply did not return")
		}
	}
}

func TestPutThenGetAppliesInOrder(t *testing.T) {
	clientIns, prefixIn, acksOuts, m, handles := setup(t, 1, 2)

	require.True(t, clientIns[0].TryPush(put(0, 0, "k", "v1")))
	require.True(t, clientIns[0].TryPush(get(0, 1, "k")))
	clientIns[0].Abandon()

	require.True(t, prefixIn.TryPush(kv.Prefix{ID: 1, States: []kv.MessageID{2}}))
	prefixIn.Abandon()

	runAllPartitions(t, clientIns, prefixIn, acksOuts, m, handles)

	partition, _ := m.PartitionOf([]byte("k"))
	a1, ok := acksOuts[partition].TryPop()
	require.True(t, ok)
	require.Equal(t, kv.MessageID(0), a1.MessageID)
	require.Equal(t, kv.ExtPut, a1.Ext.Kind)
	require.False(t, a1.Ext.Prior != nil)

	a2, ok := acksOuts[partition].TryPop()
	require.True(t, ok)
	require.Equal(t, kv.MessageID(1), a2.MessageID)
	require.Equal(t, kv.ExtGet, a2.Ext.Kind)
	require.Equal(t, []byte("v1"), a2.Ext.Prior)

	other := 1 - partition
	_, ok = acksOuts[other].TryPop()
	require.False(t, ok, "the non-owning partition must not emit an ack")
}

func TestDeleteOfAbsentKeyReturnsNoPrior(t *testing.T) {
	clientIns, prefixIn, acksOuts, m, handles := setup(t, 1, 1)

	require.True(t, clientIns[0].TryPush(kv.ClientLogMessage{
		ClientID: 0, MessageID: 0,
		Op: kv.Operation{Tag: kv.OpDelete, Key: []byte("missing")},
	}))
	clientIns[0].Abandon()
	require.True(t, prefixIn.TryPush(kv.Prefix{ID: 1, States: []kv.MessageID{1}}))
	prefixIn.Abandon()

	runAllPartitions(t, clientIns, prefixIn, acksOuts, m, handles)

	ack, ok := acksOuts[0].TryPop()
	require.True(t, ok)
	require.Equal(t, kv.ExtDelete, ack.Ext.Kind)
	require.Nil(t, ack.Ext.Prior)
}

func TestNonDominatingPrefixRedeliveryIsIgnored(t *testing.T) {
	clientIns, prefixIn, acksOuts, m, handles := setup(t, 1, 1)

	require.True(t, clientIns[0].TryPush(put(0, 0, "k", "v1")))
	require.True(t, prefixIn.TryPush(kv.Prefix{ID: 1, States: []kv.MessageID{1}}))
	// A redelivered or stale copy of the same prefix: its ID is not
	// greater than the already-applied prev's, so it does not dominate
	// and must be ignored rather than re-pulling/re-applying a message.
	require.True(t, prefixIn.TryPush(kv.Prefix{ID: 1, States: []kv.MessageID{1}}))
	clientIns[0].Abandon()
	prefixIn.Abandon()

	before := testutil.ToFloat64(metrics.OrderingViolations.WithLabelValues("apply", "prefix_non_dominating"))

	runAllPartitions(t, clientIns, prefixIn, acksOuts, m, handles)

	ack, ok := acksOuts[0].TryPop()
	require.True(t, ok)
	require.Equal(t, kv.MessageID(0), ack.MessageID)

	_, ok = acksOuts[0].TryPop()
	require.False(t, ok, "a redelivered non-dominating prefix must not trigger a second apply")

	after := testutil.ToFloat64(metrics.OrderingViolations.WithLabelValues("apply", "prefix_non_dominating"))
	require.Equal(t, before+1, after, "redelivery must be counted as an ordering violation")
}

func TestPrefixGatesPartialDelivery(t *testing.T) {
	clientIns, prefixIn, acksOuts, m, handles := setup(t, 1, 1)

	for i := kv.MessageID(0); i < 10; i++ {
		require.True(t, clientIns[0].TryPush(put(0, i, "k", "v")))
	}

	require.True(t, prefixIn.TryPush(kv.Prefix{ID: 1, States: []kv.MessageID{4}}))

	var next atomic.Uint32
	next.Store(10)

	done := make(chan error, 1)
	go func() {
		_, err := Run(context.Background(), clientIns, []*atomic.Uint32{&next}, prefixIn, acksOuts[0], m, handles[0], zerolog.Nop())
		done <- err
	}()

	// Give the first prefix time to drain exactly 4 acks, then stop
	// before sending a second prefix, and unblock shutdown by
	// abandoning the prefix stream.
	time.Sleep(50 * time.Millisecond)
	count := 0
	for {
		_, ok := acksOuts[0].TryPop()
		if !ok {
			break
		}
		count++
	}
	require.Equal(t, 4, count, "must apply exactly Δ=4 messages for the first prefix, not all 10 buffered ones")

	clientIns[0].Abandon()
	prefixIn.Abandon()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after prefixIn abandoned")
	}
}
