package parse

import (
	"context"
	"testing"
	"time"

	"github.com/adred-codev/kvcore/internal/kv"
	"github.com/adred-codev/kvcore/internal/ring"
	"github.com/adred-codev/kvcore/internal/rxtx"
	"github.com/adred-codev/kvcore/internal/rxtx/memnic"
	"github.com/adred-codev/kvcore/internal/wire"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newOuts(n, cap int) []*ring.Ring[kv.ClientLogMessage] {
	outs := make([]*ring.Ring[kv.ClientLogMessage], n)
	for i := range outs {
		outs[i] = ring.New[kv.ClientLogMessage](cap)
	}
	return outs
}

func TestGroupsByClientID(t *testing.T) {
	nic := memnic.New()
	in := ring.New[rxtx.Mbuf](16)
	outs := newOuts(4, 16)

	var buf []byte
	buf = wire.EncodeClientLogMessage(buf, kv.ClientLogMessage{
		ClientID: 1, MessageID: 0,
		Op: kv.Operation{Tag: kv.OpPut, Key: []byte("k"), Value: []byte("v")},
	})
	buf = wire.EncodeClientLogMessage(buf, kv.ClientLogMessage{
		ClientID: 2, MessageID: 0,
		Op: kv.Operation{Tag: kv.OpGet, Key: []byte("k2")},
	})
	require.True(t, in.TryPush(rxtx.Mbuf{Payload: buf}))
	in.Abandon()

	err := Run(context.Background(), nic, in, outs, zerolog.Nop())
	require.NoError(t, err)

	m1, ok := outs[1].TryPop()
	require.True(t, ok)
	require.Equal(t, kv.ClientID(1), m1.ClientID)

	m2, ok := outs[2].TryPop()
	require.True(t, ok)
	require.Equal(t, kv.ClientID(2), m2.ClientID)

	_, ok = outs[0].TryPop()
	require.False(t, ok)
}

func TestUnknownClientIDDropped(t *testing.T) {
	nic := memnic.New()
	in := ring.New[rxtx.Mbuf](16)
	outs := newOuts(2, 16)

	var buf []byte
	buf = wire.EncodeClientLogMessage(buf, kv.ClientLogMessage{
		ClientID: 99, MessageID: 0,
		Op: kv.Operation{Tag: kv.OpGet, Key: []byte("k")},
	})
	require.True(t, in.TryPush(rxtx.Mbuf{Payload: buf}))
	in.Abandon()

	err := Run(context.Background(), nic, in, outs, zerolog.Nop())
	require.NoError(t, err)

	_, ok := outs[0].TryPop()
	require.False(t, ok)
	_, ok = outs[1].TryPop()
	require.False(t, ok)
}

func TestMalformedPacketDoesNotAbortStage(t *testing.T) {
	nic := memnic.New()
	in := ring.New[rxtx.Mbuf](16)
	outs := newOuts(2, 16)

	require.True(t, in.TryPush(rxtx.Mbuf{Payload: []byte{0xFF, 0x00, 0x00, 0x00, 0x00}}))

	var good []byte
	good = wire.EncodeClientLogMessage(good, kv.ClientLogMessage{
		ClientID: 0, MessageID: 0,
		Op: kv.Operation{Tag: kv.OpGet, Key: []byte("k")},
	})
	require.True(t, in.TryPush(rxtx.Mbuf{Payload: good}))
	in.Abandon()

	err := Run(context.Background(), nic, in, outs, zerolog.Nop())
	require.NoError(t, err)

	m, ok := outs[0].TryPop()
	require.True(t, ok)
	require.Equal(t, kv.ClientID(0), m.ClientID)
}

func TestAckInIngressDropped(t *testing.T) {
	nic := memnic.New()
	in := ring.New[rxtx.Mbuf](16)
	outs := newOuts(2, 16)

	var buf []byte
	buf = wire.EncodeAck(buf, kv.Ack{ClientID: 0, MessageID: 0, Ext: kv.Extension{Kind: kv.ExtNone}})
	require.True(t, in.TryPush(rxtx.Mbuf{Payload: buf}))
	in.Abandon()

	done := make(chan error, 1)
	go func() { done <- Run(context.Background(), nic, in, outs, zerolog.Nop()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}

	_, ok := outs[0].TryPop()
	require.False(t, ok)
}
