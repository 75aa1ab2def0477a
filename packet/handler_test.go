package packet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/meshlink/wire"
)

func newTestHandler(connected bool) (*Handler, *mockTransport, *mockState) {
	tr := &mockTransport{}
	st := &mockState{}
	st.connected.Store(connected)
	return NewHandler(tr, st, time.Minute), tr, st
}

func meshPacket(id uint32) *wire.MeshPacket {
	return &wire.MeshPacket{
		ID: id,
		To: 0xffffffff,
		Decoded: &wire.Data{
			PortNum: wire.PortTextMessage,
			Payload: []byte("hi"),
		},
	}
}

func TestSendPacketWritesWhenConnected(t *testing.T) {
	h, tr, _ := newTestHandler(true)

	c, err := h.SendPacket(context.Background(), meshPacket(1))
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, tr.packetIDs())
	assert.Equal(t, 1, h.PendingLen())

	h.HandleQueueStatus(context.Background(), &wire.QueueStatus{Res: 0, Free: 8, MeshPacketID: 1})
	ok, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, h.PendingLen())
}

func TestQueueStatusFailureCode(t *testing.T) {
	h, _, _ := newTestHandler(true)

	c, err := h.SendPacket(context.Background(), meshPacket(2))
	require.NoError(t, err)
	h.HandleQueueStatus(context.Background(), &wire.QueueStatus{Res: 1, Free: 8, MeshPacketID: 2})

	<-c.Done()
	assert.False(t, c.Success())
	assert.NoError(t, c.Err())
}

func TestCompletionResolvesOnce(t *testing.T) {
	h, _, _ := newTestHandler(true)

	c, err := h.SendPacket(context.Background(), meshPacket(3))
	require.NoError(t, err)

	h.HandleQueueStatus(context.Background(), &wire.QueueStatus{Res: 0, Free: 8, MeshPacketID: 3})
	h.HandleQueueStatus(context.Background(), &wire.QueueStatus{Res: 1, Free: 8, MeshPacketID: 3})
	assert.False(t, h.RemoveResponse(3, false))
	assert.True(t, c.Success())
}

func TestUnknownQueueStatusIsIgnored(t *testing.T) {
	h, _, _ := newTestHandler(true)
	c, err := h.SendPacket(context.Background(), meshPacket(4))
	require.NoError(t, err)

	h.HandleQueueStatus(context.Background(), &wire.QueueStatus{Res: 0, Free: 8, MeshPacketID: 999})
	h.HandleQueueStatus(context.Background(), &wire.QueueStatus{Res: 0, Free: 8})

	select {
	case <-c.Done():
		t.Fatal("completion resolved by an unrelated queue status")
	default:
	}
	assert.Equal(t, 1, h.PendingLen())
}

func TestDisconnectedPacketsQueueAndDrainInOrder(t *testing.T) {
	h, tr, st := newTestHandler(false)
	ctx := context.Background()

	for id := uint32(10); id < 13; id++ {
		_, err := h.SendPacket(ctx, meshPacket(id))
		require.NoError(t, err)
	}
	assert.Zero(t, tr.count())
	assert.Equal(t, 3, h.QueueLen())

	// Draining without a link is a no-op.
	require.NoError(t, h.ProcessQueuedPackets(ctx))
	assert.Zero(t, tr.count())

	st.connected.Store(true)
	require.NoError(t, h.ProcessQueuedPackets(ctx))
	assert.Equal(t, []uint32{10, 11, 12}, tr.packetIDs())
	assert.Zero(t, h.QueueLen())
}

func TestBacklogKeepsNewSendsBehindQueue(t *testing.T) {
	h, tr, st := newTestHandler(false)
	ctx := context.Background()

	_, err := h.SendPacket(ctx, meshPacket(20))
	require.NoError(t, err)
	st.connected.Store(true)

	_, err = h.SendPacket(ctx, meshPacket(21))
	require.NoError(t, err)
	assert.Zero(t, tr.count(), "new send must not overtake the backlog")

	require.NoError(t, h.ProcessQueuedPackets(ctx))
	assert.Equal(t, []uint32{20, 21}, tr.packetIDs())
}

func TestSaturatedRadioQueuesUntilFree(t *testing.T) {
	h, tr, _ := newTestHandler(true)
	ctx := context.Background()

	_, err := h.SendPacket(ctx, meshPacket(30))
	require.NoError(t, err)
	h.HandleQueueStatus(ctx, &wire.QueueStatus{Res: 0, Free: 0, MeshPacketID: 30})

	_, err = h.SendPacket(ctx, meshPacket(31))
	require.NoError(t, err)
	_, err = h.SendPacket(ctx, meshPacket(32))
	require.NoError(t, err)
	assert.Equal(t, []uint32{30}, tr.packetIDs())
	assert.Equal(t, 2, h.QueueLen())

	h.HandleQueueStatus(ctx, &wire.QueueStatus{Res: 0, Free: 1})
	assert.Equal(t, []uint32{30, 31}, tr.packetIDs())

	h.HandleQueueStatus(ctx, &wire.QueueStatus{Res: 0, Free: 4, MeshPacketID: 31})
	assert.Equal(t, []uint32{30, 31, 32}, tr.packetIDs())
}

func TestTransportErrorSurfacesToCaller(t *testing.T) {
	h, tr, _ := newTestHandler(true)
	tr.setFail(true)

	c, err := h.SendPacket(context.Background(), meshPacket(40))
	assert.ErrorIs(t, err, errLinkDown)
	assert.Nil(t, c)
	assert.Zero(t, h.PendingLen())
	assert.Zero(t, h.QueueLen())
}

func TestDrainFailureKeepsPacketAtHead(t *testing.T) {
	h, tr, st := newTestHandler(false)
	ctx := context.Background()
	_, err := h.SendPacket(ctx, meshPacket(50))
	require.NoError(t, err)
	_, err = h.SendPacket(ctx, meshPacket(51))
	require.NoError(t, err)

	st.connected.Store(true)
	tr.setFail(true)
	assert.ErrorIs(t, h.ProcessQueuedPackets(ctx), errLinkDown)
	assert.Equal(t, 2, h.QueueLen())

	tr.setFail(false)
	require.NoError(t, h.ProcessQueuedPackets(ctx))
	assert.Equal(t, []uint32{50, 51}, tr.packetIDs())
}

func TestStopPacketQueueFailsEverything(t *testing.T) {
	h, _, st := newTestHandler(true)
	ctx := context.Background()

	inFlight, err := h.SendPacket(ctx, meshPacket(60))
	require.NoError(t, err)
	st.connected.Store(false)
	queued, err := h.SendPacket(ctx, meshPacket(61))
	require.NoError(t, err)

	h.StopPacketQueue()

	for _, c := range []*Completion{inFlight, queued} {
		ok, err := c.Wait(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.ErrorIs(t, c.Err(), ErrQueueStopped)
	}
	assert.Zero(t, h.QueueLen())
	assert.Zero(t, h.PendingLen())
}

func TestResponseTimeout(t *testing.T) {
	tr := &mockTransport{}
	st := &mockState{}
	st.connected.Store(true)
	h := NewHandler(tr, st, 20*time.Millisecond)

	c, err := h.SendPacket(context.Background(), meshPacket(70))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ok, err := c.Wait(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, c.Err(), ErrResponseTimeout)
	assert.Zero(t, h.PendingLen())
}

func TestRemoveResponse(t *testing.T) {
	h, _, _ := newTestHandler(true)
	c, err := h.SendPacket(context.Background(), meshPacket(80))
	require.NoError(t, err)

	assert.True(t, h.RemoveResponse(80, true))
	assert.True(t, c.Success())
	assert.False(t, h.RemoveResponse(80, true))
}

func TestSendToRadioBypassesQueue(t *testing.T) {
	h, tr, _ := newTestHandler(false)

	err := h.SendToRadio(context.Background(), &wire.ToRadio{Variant: wire.WantConfigID(69420)})
	require.NoError(t, err)
	assert.Equal(t, 1, tr.count())

	err = h.SendToRadio(context.Background(), &wire.ToRadio{})
	assert.ErrorIs(t, err, wire.ErrUnknownVariant)
}
