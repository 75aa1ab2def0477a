package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/meshlink/model"
	"github.com/opd-ai/meshlink/wire"
)

func TestMemoryNodesClearPreservesLocalAndFavorites(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryNodes()
	require.NoError(t, r.InstallConfig(ctx, &model.MyNodeInfo{MyNodeNum: 1}, nil))

	for num := uint32(1); num <= 3; num++ {
		n := model.NewNode(num, 0)
		n.IsFavorite = num == 2
		require.NoError(t, r.Upsert(ctx, n))
	}

	require.NoError(t, r.ClearNodeDB(ctx, true))
	nodes, err := r.NodeDBByNum(ctx)
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
	assert.Contains(t, nodes, uint32(1))
	assert.Contains(t, nodes, uint32(2))

	require.NoError(t, r.ClearNodeDB(ctx, false))
	nodes, _ = r.NodeDBByNum(ctx)
	assert.Len(t, nodes, 1)
}

func TestMemoryNodesQueries(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryNodes()

	known := model.NewNode(10, 0)
	known.User.HWModel = 9
	known.LastHeard = 500
	stale := model.NewNode(11, 0)
	stale.LastHeard = 100
	require.NoError(t, r.Upsert(ctx, known))
	require.NoError(t, r.Upsert(ctx, stale))

	unknown, err := r.UnknownNodes(ctx)
	require.NoError(t, err)
	require.Len(t, unknown, 1)
	assert.Equal(t, uint32(11), unknown[0].Num)

	old, err := r.NodesOlderThan(ctx, 200)
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, uint32(11), old[0].Num)
}

func TestMemoryPacketsUpdateByUUID(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryPackets()

	p := &Packet{PacketID: 5, ContactKey: "0^all", Data: &model.DataPacket{ID: 5, Status: model.StatusQueued}}
	require.NoError(t, r.Insert(ctx, p))
	require.NotZero(t, p.UUID)

	p.PacketID = 6
	p.Data.ID = 6
	require.NoError(t, r.Update(ctx, p))

	_, err := r.PacketByID(ctx, 5)
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := r.PacketByID(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, uint32(6), got.Data.ID)
}

func TestMemoryPacketsSFPPStatus(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryPackets()
	const myNum, from, to = 1, 123, 456

	require.NoError(t, r.Insert(ctx, &Packet{
		PacketID: 999,
		Data: &model.DataPacket{
			ID:   999,
			From: model.DefaultNodeID(from),
			To:   model.DefaultNodeID(to),
		},
	}))
	require.NoError(t, r.Insert(ctx, &Packet{
		PacketID: 999,
		Data:     &model.DataPacket{ID: 999, From: model.DefaultNodeID(77), To: model.DefaultNodeID(to)},
	}))

	hash := []byte{9, 8, 7, 6}
	require.NoError(t, r.UpdateSFPPStatus(ctx, 999, from, to, hash, model.StatusSFPPConfirmed, 0, myNum))
	require.NoError(t, r.UpdateSFPPStatus(ctx, 999, from, to, nil, model.StatusSFPPRouting, 0, myNum))

	all, err := r.Messages(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, model.StatusSFPPConfirmed, all[0].Data.Status, "confirmed is never downgraded")
	assert.Equal(t, hash, all[0].Data.SFPPHash)
	assert.Equal(t, model.StatusUnknown, all[1].Data.Status, "other senders are untouched")
}

func TestMemoryPacketsContactSettings(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryPackets()

	s, err := r.ContactSettings(ctx, "0!00000001")
	require.NoError(t, err)
	assert.False(t, s.Muted)

	require.NoError(t, r.SetMuted(ctx, "0!00000001", true))
	s, _ = r.ContactSettings(ctx, "0!00000001")
	assert.True(t, s.Muted)
}

func TestMemoryRadioConfigPublishesCopies(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRadioConfig()

	require.NoError(t, r.SetLocalConfig(ctx, &wire.Config{LoRa: &wire.LoRaConfig{HopLimit: 5}}))
	first := r.LocalConfig().Get()
	require.NotNil(t, first.LoRa)
	first.LoRa.HopLimit = 1
	assert.Equal(t, uint32(5), r.LocalConfig().Get().LoRa.HopLimit)

	require.NoError(t, r.UpdateChannel(ctx, &wire.Channel{Index: 2, Role: wire.ChannelSecondary,
		Settings: &wire.ChannelSettings{Name: "admin"}}))
	chans := r.ChannelSet().Get()
	require.Len(t, chans, 3)
	assert.Equal(t, "admin", chans[2].Settings.Name)

	require.NoError(t, r.ClearChannelSet(ctx))
	assert.Empty(t, r.ChannelSet().Get())
}

func TestMemoryMeshLogRing(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryMeshLog(3)
	for i := 0; i < 5; i++ {
		require.NoError(t, r.Insert(ctx, &model.MeshLog{UUID: fmt.Sprint(i)}))
	}

	recent, err := r.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "4", recent[0].UUID)
	assert.Equal(t, "2", recent[2].UUID)
}
