package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/meshlink/clock"
	"github.com/opd-ai/meshlink/connection"
	"github.com/opd-ai/meshlink/limits"
	"github.com/opd-ai/meshlink/model"
	"github.com/opd-ai/meshlink/node"
	"github.com/opd-ai/meshlink/packet"
	"github.com/opd-ai/meshlink/repository"
	"github.com/opd-ai/meshlink/wire"
)

const (
	testMyNum   uint32 = 0x0badcafe
	testPeerNum uint32 = 0x1234abcd
)

type harness struct {
	sender    *Sender
	transport *recordingTransport
	state     *connection.StateHandler
	nodes     *node.Manager
	config    *repository.MemoryRadioConfig
	packets   *packet.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tr := &recordingTransport{}
	state := connection.NewStateHandler()
	packets := packet.NewHandler(tr, state, time.Minute)
	nodes := node.NewManager(nil, nil, nil, nil)
	nodes.SetMyNodeNum(testMyNum)
	cfg := repository.NewMemoryRadioConfig()
	tp := clock.NewManual(time.Unix(1700000000, 0))
	return &harness{
		sender:    NewSender(packets, nodes, state, cfg, tp),
		transport: tr,
		state:     state,
		nodes:     nodes,
		config:    cfg,
		packets:   packets,
	}
}

func (h *harness) setHopLimit(t *testing.T, hops uint32) {
	t.Helper()
	require.NoError(t, h.config.SetLocalConfig(context.Background(), &wire.Config{LoRa: &wire.LoRaConfig{HopLimit: hops}}))
}

func textPacket(to string) *model.DataPacket {
	return &model.DataPacket{To: to, DataType: wire.PortTextMessage, Bytes: []byte("hello")}
}

func TestGeneratePacketIDUniqueNonZero(t *testing.T) {
	h := newHarness(t)
	seen := make(map[uint32]bool, 1000)
	for i := 0; i < 1000; i++ {
		id := h.sender.GeneratePacketID()
		require.NotZero(t, id)
		require.False(t, seen[id], "duplicate packet ID %d", id)
		seen[id] = true
	}
}

func TestGeneratePacketIDWraps(t *testing.T) {
	h := newHarness(t)
	h.sender.currentPacketID.Store(0xfffffffd)
	assert.Equal(t, uint32(0xffffffff), h.sender.GeneratePacketID())
	assert.Equal(t, uint32(1), h.sender.GeneratePacketID())
	assert.Equal(t, uint32(2), h.sender.GeneratePacketID())
}

func TestResolveNodeNum(t *testing.T) {
	h := newHarness(t)
	h.nodes.HandleReceivedUser(testPeerNum, &wire.User{ID: "base-camp", LongName: "Base", HWModel: wire.HardwareModel(9)}, 0, false)

	tests := []struct {
		name    string
		id      string
		want    uint32
		wantErr bool
	}{
		{"broadcast", model.IDBroadcast, model.NodeNumBroadcast, false},
		{"hex id", "!0000007b", 123, false},
		{"custom id", "base-camp", testPeerNum, false},
		{"unknown", "unknown", 0, true},
		{"bad hex", "!zz", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.sender.ResolveNodeNum(tt.id)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidNodeID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSendDataHopLimit(t *testing.T) {
	tests := []struct {
		name   string
		config uint32
		want   uint32
	}{
		{"unset config uses default", 0, DefaultHopLimit},
		{"configured value is kept", 7, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.setHopLimit(t, tt.config)
			h.state.SetState(connection.Connected)

			require.NoError(t, h.sender.SendData(context.Background(), textPacket(model.IDBroadcast)))
			sent := h.transport.sent()
			require.Len(t, sent, 1)
			assert.Equal(t, tt.want, sent[0].HopLimit)
		})
	}
}

func TestSendDataValidation(t *testing.T) {
	h := newHarness(t)
	h.state.SetState(connection.Connected)
	ctx := context.Background()

	err := h.sender.SendData(ctx, &model.DataPacket{To: model.IDBroadcast, Bytes: []byte("x")})
	assert.ErrorIs(t, err, ErrInvalidPort)

	big := &model.DataPacket{To: model.IDBroadcast, DataType: wire.PortTextMessage, Bytes: make([]byte, limits.MaxDataPayload)}
	err = h.sender.SendData(ctx, big)
	assert.ErrorIs(t, err, ErrMessageTooLong)
	assert.ErrorIs(t, err, limits.ErrMessageTooLarge)
	assert.Equal(t, model.StatusError, big.Status)

	ok := &model.DataPacket{To: model.IDBroadcast, DataType: wire.PortTextMessage, Bytes: make([]byte, limits.MaxDataPayload-1)}
	require.NoError(t, h.sender.SendData(ctx, ok))
	assert.Equal(t, model.StatusQueued, ok.Status)
	assert.NotZero(t, ok.ID)
	assert.Len(t, h.transport.sent(), 1)
}

func TestDeferrablePortsHeldUntilReconnect(t *testing.T) {
	ports := []wire.PortNum{
		wire.PortTextMessage,
		wire.PortATAKPlugin,
		wire.PortATAKForwarder,
		wire.PortDetectionSensor,
		wire.PortPrivate,
	}
	for _, port := range ports {
		t.Run(port.String(), func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()

			require.NoError(t, h.sender.SendData(ctx, &model.DataPacket{
				To: model.IDBroadcast, DataType: port, Bytes: []byte("queued"),
			}))
			assert.Empty(t, h.transport.sent())
			assert.Equal(t, 1, h.sender.OfflineLen())

			h.state.SetState(connection.Connected)
			require.NoError(t, h.sender.ProcessQueuedPackets(ctx))
			sent := h.transport.sent()
			require.Len(t, sent, 1)
			assert.Equal(t, port, sent[0].Decoded.PortNum)
			assert.Zero(t, h.sender.OfflineLen())
		})
	}
}

func TestPerishablePortDroppedWhileDisconnected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	p := &model.DataPacket{
		To: model.IDBroadcast, DataType: wire.PortIPTunnel, Bytes: []byte{0x45, 0x00},
	}
	require.NoError(t, h.sender.SendData(ctx, p))
	assert.Zero(t, h.sender.OfflineLen())

	h.state.SetState(connection.Connected)
	require.NoError(t, h.sender.ProcessQueuedPackets(ctx))
	assert.Empty(t, h.transport.sent())
}

func TestUnresolvableDestinationIsRejected(t *testing.T) {
	tests := []struct {
		name      string
		connected bool
	}{
		{"disconnected", false},
		{"connected", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.connected {
				h.state.SetState(connection.Connected)
			}
			ctx := context.Background()

			for i := 0; i < 2; i++ {
				p := textPacket("nobody")
				err := h.sender.SendData(ctx, p)
				assert.ErrorIs(t, err, ErrInvalidNodeID)
				assert.Equal(t, model.StatusError, p.Status)
			}
			assert.Zero(t, h.sender.OfflineLen())
			assert.Empty(t, h.transport.sent())
		})
	}
}

func TestSendFailureDropsPerishablePacket(t *testing.T) {
	h := newHarness(t)
	h.state.SetState(connection.Connected)
	h.transport.setFail(true)

	require.NoError(t, h.sender.SendData(context.Background(), &model.DataPacket{
		To: model.IDBroadcast, DataType: wire.PortIPTunnel, Bytes: []byte{0x45},
	}))
	assert.Zero(t, h.sender.OfflineLen())
}

func TestHeldPacketsKeepOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var ids []uint32
	for i := 0; i < 3; i++ {
		p := textPacket(model.IDBroadcast)
		require.NoError(t, h.sender.SendData(ctx, p))
		ids = append(ids, p.ID)
	}

	h.state.SetState(connection.Connected)
	require.NoError(t, h.sender.ProcessQueuedPackets(ctx))
	var got []uint32
	for _, p := range h.transport.sent() {
		got = append(got, p.ID)
	}
	assert.Equal(t, ids, got)
}

func TestSendFailureHoldsDeferrablePacket(t *testing.T) {
	h := newHarness(t)
	h.state.SetState(connection.Connected)
	h.transport.setFail(true)

	require.NoError(t, h.sender.SendData(context.Background(), textPacket(model.IDBroadcast)))
	assert.Equal(t, 1, h.sender.OfflineLen())
}

func TestPKCChannelSetsPublicKey(t *testing.T) {
	h := newHarness(t)
	h.state.SetState(connection.Connected)
	key := []byte{7, 7, 7, 7}
	h.nodes.HandleReceivedUser(testPeerNum, &wire.User{ID: "!1234abcd", LongName: "Peer", HWModel: wire.HardwareModel(9), PublicKey: key}, 0, false)

	p := textPacket("!1234abcd")
	p.Channel = model.PKCChannelIndex
	require.NoError(t, h.sender.SendData(context.Background(), p))

	sent := h.transport.sent()
	require.Len(t, sent, 1)
	assert.True(t, sent[0].PKIEncrypted)
	assert.Equal(t, key, sent[0].PublicKey)
	assert.Zero(t, sent[0].Channel)
}

func TestAdminChannelIndex(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.Equal(t, uint32(0), h.sender.AdminChannelIndex(testMyNum))
	assert.Equal(t, uint32(0), h.sender.AdminChannelIndex(testPeerNum))

	require.NoError(t, h.config.UpdateChannel(ctx, &wire.Channel{Index: 2, Role: wire.ChannelSecondary, Settings: &wire.ChannelSettings{Name: "Admin"}}))
	assert.Equal(t, uint32(2), h.sender.AdminChannelIndex(testPeerNum))

	h.nodes.HandleReceivedUser(testMyNum, &wire.User{ID: "!0badcafe", LongName: "Me", HWModel: wire.HardwareModel(9), PublicKey: []byte{1}}, 0, false)
	h.nodes.HandleReceivedUser(testPeerNum, &wire.User{ID: "!1234abcd", LongName: "Peer", HWModel: wire.HardwareModel(9), PublicKey: []byte{2}}, 0, false)
	assert.Equal(t, model.PKCChannelIndex, h.sender.AdminChannelIndex(testPeerNum))
}

func TestSendAdminCarriesPasskey(t *testing.T) {
	h := newHarness(t)
	h.state.SetState(connection.Connected)
	h.sender.SetSessionPasskey([]byte{0xaa, 0xbb})

	id, err := h.sender.SendAdmin(context.Background(), testMyNum, 0, true,
		&wire.AdminMessage{Kind: wire.AdminGetOwnerRequest, Value: 1})
	require.NoError(t, err)
	assert.NotZero(t, id)

	sent := h.transport.sent()
	require.Len(t, sent, 1)
	p := sent[0]
	assert.Equal(t, id, p.ID)
	assert.True(t, p.WantAck)
	assert.Equal(t, wire.PriorityReliable, p.Priority)
	assert.Equal(t, wire.PortAdmin, p.Decoded.PortNum)
	assert.True(t, p.Decoded.WantResponse)

	var msg wire.AdminMessage
	require.NoError(t, msg.Unmarshal(p.Decoded.Payload))
	assert.Equal(t, wire.AdminGetOwnerRequest, msg.Kind)
	assert.Equal(t, []byte{0xaa, 0xbb}, msg.SessionPasskey)
}

func TestSetFixedPositionRemovesOnZero(t *testing.T) {
	h := newHarness(t)
	h.state.SetState(connection.Connected)
	ctx := context.Background()

	require.NoError(t, h.sender.SetFixedPosition(ctx, testMyNum, 45, 90, 100))
	require.NoError(t, h.sender.SetFixedPosition(ctx, testMyNum, 0, 0, 0))

	sent := h.transport.sent()
	require.Len(t, sent, 2)
	var first, second wire.AdminMessage
	require.NoError(t, first.Unmarshal(sent[0].Decoded.Payload))
	require.NoError(t, second.Unmarshal(sent[1].Decoded.Payload))
	assert.Equal(t, wire.AdminSetFixedPosition, first.Kind)
	assert.Equal(t, int32(450000000), first.Position.LatitudeI)
	assert.Equal(t, wire.AdminRemoveFixedPosition, second.Kind)

	n, ok := h.nodes.NodeByNum(testMyNum)
	require.True(t, ok)
	assert.InDelta(t, 45.0, n.Latitude, 1e-4)
}

func TestRequestBuilders(t *testing.T) {
	h := newHarness(t)
	h.state.SetState(connection.Connected)
	ctx := context.Background()

	require.NoError(t, h.sender.RequestTraceroute(ctx, 500, testPeerNum))
	require.NoError(t, h.sender.RequestTelemetry(ctx, 501, testPeerNum, TelemetryEnvironment))
	require.NoError(t, h.sender.RequestNeighborInfo(ctx, 502, testMyNum))
	require.NoError(t, h.sender.RequestUserInfo(ctx, testPeerNum))

	sent := h.transport.sent()
	require.Len(t, sent, 4)

	assert.Equal(t, wire.PortTraceroute, sent[0].Decoded.PortNum)
	assert.Equal(t, uint32(500), sent[0].ID)
	assert.True(t, sent[0].Decoded.WantResponse)
	_, ok := h.sender.TracerouteStarted(500)
	assert.True(t, ok)

	var tel wire.Telemetry
	require.NoError(t, tel.Unmarshal(sent[1].Decoded.Payload))
	assert.NotNil(t, tel.EnvironmentMetrics)

	var ni wire.NeighborInfo
	require.NoError(t, ni.Unmarshal(sent[2].Decoded.Payload))
	assert.Equal(t, testMyNum, ni.NodeID)
	_, ok = h.sender.NeighborInfoStarted(502)
	assert.True(t, ok)

	var u wire.User
	require.NoError(t, u.Unmarshal(sent[3].Decoded.Payload))
	assert.Equal(t, "!0badcafe", u.ID)
}
