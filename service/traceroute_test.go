package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/meshlink/clock"
	"github.com/opd-ai/meshlink/model"
	"github.com/opd-ai/meshlink/wire"
)

type staticRequests struct {
	traceroutes map[uint32]time.Time
	neighbors   map[uint32]time.Time
}

func (s staticRequests) TracerouteStarted(id uint32) (time.Time, bool) {
	t, ok := s.traceroutes[id]
	return t, ok
}

func (s staticRequests) NeighborInfoStarted(id uint32) (time.Time, bool) {
	t, ok := s.neighbors[id]
	return t, ok
}

type neighborSink struct{ last *wire.NeighborInfo }

func (s *neighborSink) SetLastNeighborInfo(ni *wire.NeighborInfo) { s.last = ni }

func TestMapperConvertsDecodedPackets(t *testing.T) {
	m := NewDataMapper(nil)

	assert.Nil(t, m.ToDataPacket(&wire.MeshPacket{ID: 1, Encrypted: []byte{1, 2}}))

	dp := m.ToDataPacket(&wire.MeshPacket{
		From:         remoteNum,
		To:           model.NodeNumBroadcast,
		ID:           77,
		RxTime:       1700000000,
		Channel:      2,
		PKIEncrypted: true,
		Decoded:      &wire.Data{PortNum: wire.PortTextMessage, Payload: []byte("x"), ReplyID: 5, Emoji: 1},
	})
	require.NotNil(t, dp)
	assert.Equal(t, "!00002000", dp.From)
	assert.Equal(t, model.IDBroadcast, dp.To)
	assert.Equal(t, int64(1700000000000), dp.Time)
	assert.Equal(t, model.PKCChannelIndex, dp.Channel)
	assert.Equal(t, uint32(5), dp.ReplyID)
	assert.Equal(t, uint32(1), dp.Emoji)
}

func TestTracerouteFormatsBothDirections(t *testing.T) {
	tp := clock.NewManual(testStart)
	state := NewServiceState()
	requests := staticRequests{traceroutes: map[uint32]time.Time{42: testStart}}
	h := NewTracerouteHandler(NewDataMapper(nil), requests, state, tp)
	tp.Advance(2500 * time.Millisecond)

	rd := &wire.RouteDiscovery{
		Route:      []uint32{relayNum},
		SNRTowards: []int32{24, snrUnknown},
		RouteBack:  []uint32{relayNum},
		SNRBack:    []int32{-8},
	}
	text, err := h.HandleTraceroute(&wire.MeshPacket{
		From:    remoteNum,
		To:      myNum,
		Decoded: &wire.Data{PortNum: wire.PortTraceroute, Payload: rd.Marshal(), RequestID: 42},
	})
	require.NoError(t, err)

	want := "Route traced toward destination:\n\n" +
		"!00001000 --> !00003000 (6.00 dB) --> !00002000 (? dB)" +
		"\n\nRoute traced back to us:\n\n" +
		"!00002000 --> !00003000 (-2.00 dB) --> !00001000 (? dB)" +
		"\n\nDuration: 2.5 s"
	assert.Equal(t, want, text)
	assert.Equal(t, want, state.TracerouteResponse().Get())
}

func TestTracerouteIgnoresRelayedRequests(t *testing.T) {
	state := NewServiceState()
	h := NewTracerouteHandler(NewDataMapper(nil), staticRequests{}, state, nil)

	text, err := h.HandleTraceroute(&wire.MeshPacket{Decoded: &wire.Data{PortNum: wire.PortTraceroute}})
	require.NoError(t, err)
	assert.Empty(t, text)
	assert.Empty(t, state.TracerouteResponse().Get())
}

func TestNeighborInfoBuildsAdjacency(t *testing.T) {
	tp := clock.NewManual(testStart)
	state := NewServiceState()
	sink := &neighborSink{}
	requests := staticRequests{neighbors: map[uint32]time.Time{9: testStart}}
	h := NewNeighborInfoHandler(NewDataMapper(nil), requests, sink, state, tp)
	tp.Advance(time.Second)

	ni := &wire.NeighborInfo{Neighbors: []*wire.Neighbor{{NodeID: relayNum, SNR: 5.5}}}
	require.NoError(t, h.HandleNeighborInfo(&wire.MeshPacket{
		From:    remoteNum,
		Decoded: &wire.Data{PortNum: wire.PortNeighborInfo, Payload: ni.Marshal(), RequestID: 9},
	}, myNum))

	got := h.Neighbors(remoteNum)
	require.Len(t, got, 1)
	assert.Equal(t, relayNum, got[0].NodeID)
	assert.Nil(t, sink.last, "only the local node's report is kept")
	assert.Equal(t, "Neighbors of !00002000:\n\n!00003000 (5.50 dB)\n\nDuration: 1.0 s", state.NeighborInfoResponse().Get())

	require.NoError(t, h.HandleNeighborInfo(&wire.MeshPacket{
		From:    myNum,
		Decoded: &wire.Data{PortNum: wire.PortNeighborInfo, Payload: (&wire.NeighborInfo{NodeID: myNum}).Marshal()},
	}, myNum))
	require.NotNil(t, sink.last)
	assert.Empty(t, h.Neighbors(myNum))
}

func TestNeighborInfoRejectsGarbage(t *testing.T) {
	h := NewNeighborInfoHandler(NewDataMapper(nil), staticRequests{}, nil, NewServiceState(), nil)
	err := h.HandleNeighborInfo(&wire.MeshPacket{
		From:    remoteNum,
		Decoded: &wire.Data{PortNum: wire.PortNeighborInfo, Payload: []byte{0xff, 0xff}},
	}, myNum)
	assert.Error(t, err)
}
