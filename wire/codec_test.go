package wire

import (
	"testing"

	pb "github.com/lmatte7/gomesh/github.com/meshtastic/gomeshproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
)

func TestFromRadioMeshPacketRoundTrip(t *testing.T) {
	pkt := &MeshPacket{
		From:     0x1234abcd,
		To:       0xffffffff,
		Channel:  2,
		ID:       77,
		RxTime:   1700000000,
		RxSNR:    -7.25,
		RxRSSI:   -90,
		HopLimit: 3,
		HopStart: 5,
		WantAck:  true,
		Priority: PriorityReliable,
		Decoded: &Data{
			PortNum: PortTextMessage,
			Payload: []byte("hello mesh"),
			ReplyID: 12,
			Emoji:   1,
		},
	}

	env, err := DecodeFromRadio((&FromRadio{ID: 9, Variant: pkt}).Marshal())
	require.NoError(t, err)
	assert.Equal(t, uint32(9), env.ID)

	got, ok := env.Variant.(*MeshPacket)
	require.True(t, ok, "variant should be a mesh packet, got %T", env.Variant)
	assert.Equal(t, pkt, got)
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	b := (&User{ID: "!0000007b", LongName: "Base camp"}).Marshal()
	b = protowire.AppendTag(b, 99, protowire.VarintType)
	b = protowire.AppendVarint(b, 5)
	b = protowire.AppendTag(b, 98, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 1)

	var u User
	require.NoError(t, u.Unmarshal(b))
	assert.Equal(t, "!0000007b", u.ID)
	assert.Equal(t, "Base camp", u.LongName)
}

func TestDecodeTruncatedFrame(t *testing.T) {
	b := (&FromRadio{Variant: &MyNodeInfo{MyNodeNum: 42}}).Marshal()
	_, err := DecodeFromRadio(b[:len(b)-1])
	assert.Error(t, err)
}

func TestEmptyOneofMembersSurvive(t *testing.T) {
	t.Run("heartbeat", func(t *testing.T) {
		b, err := EncodeToRadio(&ToRadio{Variant: &Heartbeat{}})
		require.NoError(t, err)
		env, err := DecodeToRadio(b)
		require.NoError(t, err)
		assert.IsType(t, &Heartbeat{}, env.Variant)
	})

	t.Run("zero config complete id", func(t *testing.T) {
		env, err := DecodeFromRadio((&FromRadio{Variant: ConfigCompleteID(0)}).Marshal())
		require.NoError(t, err)
		assert.Equal(t, ConfigCompleteID(0), env.Variant)
	})

	t.Run("empty device config", func(t *testing.T) {
		var c Config
		require.NoError(t, c.Unmarshal((&Config{Device: &DeviceConfig{}}).Marshal()))
		assert.NotNil(t, c.Device)
		assert.Equal(t, ConfigDevice, c.Type())
	})
}

func TestEncodeToRadioRejectsEmptyEnvelope(t *testing.T) {
	_, err := EncodeToRadio(&ToRadio{})
	assert.ErrorIs(t, err, ErrUnknownVariant)

	_, err = DecodeToRadio(nil)
	assert.ErrorIs(t, err, ErrUnknownVariant)
}

func TestEmptyFromRadioHasNoVariant(t *testing.T) {
	env, err := DecodeFromRadio(nil)
	require.NoError(t, err)
	assert.Nil(t, env.Variant)
}

func TestRouteDiscoveryAcceptsUnpackedRepeatedFields(t *testing.T) {
	var b []byte
	for _, n := range []uint32{10, 20} {
		b = protowire.AppendTag(b, 1, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, n)
	}
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	snr := int32(-12)
	b = protowire.AppendVarint(b, uint64(int64(snr)))

	var r RouteDiscovery
	require.NoError(t, r.Unmarshal(b))
	assert.Equal(t, []uint32{10, 20}, r.Route)
	assert.Equal(t, []int32{-12}, r.SNRTowards)

	var packed RouteDiscovery
	require.NoError(t, packed.Unmarshal(r.Marshal()))
	assert.Equal(t, r, packed)
}

func TestAdminMessageMembers(t *testing.T) {
	tests := []struct {
		name string
		msg  *AdminMessage
	}{
		{"config request for device section", &AdminMessage{Kind: AdminGetConfigRequest, Value: uint32(ConfigDevice)}},
		{"channel request", &AdminMessage{Kind: AdminGetChannelRequest, Value: 3}},
		{"owner request flag", &AdminMessage{Kind: AdminGetOwnerRequest, Value: 1}},
		{"set time", &AdminMessage{Kind: AdminSetTimeOnly, Value: 1700000000}},
		{"set owner", &AdminMessage{Kind: AdminSetOwner, User: &User{LongName: "Relay", ShortName: "RLY"}}},
		{"set lora", &AdminMessage{Kind: AdminSetConfig, Config: &Config{LoRa: &LoRaConfig{HopLimit: 7, TxEnabled: true}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.msg.SessionPasskey = []byte{1, 2, 3, 4}
			var got AdminMessage
			require.NoError(t, got.Unmarshal(tt.msg.Marshal()))
			assert.Equal(t, tt.msg, &got)
		})
	}
}

func TestOpaqueSectionsArePreserved(t *testing.T) {
	raw := (&NeighborInfoConfig{Enabled: true}).Marshal()
	in := &Config{Other: &Opaque{Field: uint32(ConfigNetwork) + 1, Raw: raw}}

	var out Config
	require.NoError(t, out.Unmarshal(in.Marshal()))
	require.NotNil(t, out.Other)
	assert.Equal(t, ConfigNetwork, out.Type())
	assert.Equal(t, raw, out.Other.Raw)

	var local LocalConfig
	local.Merge(&out)
	local.Merge(&Config{LoRa: &LoRaConfig{HopLimit: 4}})
	clone := local.Clone()
	assert.Equal(t, uint32(4), clone.LoRa.HopLimit)
	assert.Equal(t, raw, clone.Other[uint32(ConfigNetwork)+1])
}

func TestNodeInfoHopsAwayPresence(t *testing.T) {
	zero := uint32(0)
	var got NodeInfo
	require.NoError(t, got.Unmarshal((&NodeInfo{Num: 5, HopsAway: &zero}).Marshal()))
	require.NotNil(t, got.HopsAway)
	assert.Equal(t, uint32(0), *got.HopsAway)

	require.NoError(t, got.Unmarshal((&NodeInfo{Num: 5}).Marshal()))
	assert.Nil(t, got.HopsAway)
}

func TestFramesDecodeWithGeneratedTypes(t *testing.T) {
	frame := (&FromRadio{ID: 3, Variant: &MeshPacket{
		From:    0x0a0b0c0d,
		To:      0xffffffff,
		ID:      99,
		Decoded: &Data{PortNum: PortTextMessage, Payload: []byte("hi")},
	}}).Marshal()

	var got pb.FromRadio
	require.NoError(t, proto.Unmarshal(frame, &got))
	assert.Equal(t, uint32(3), got.GetId())
	pkt := got.GetPacket()
	require.NotNil(t, pkt)
	assert.Equal(t, uint32(0x0a0b0c0d), pkt.GetFrom())
	assert.Equal(t, uint32(0xffffffff), pkt.GetTo())
	assert.Equal(t, pb.PortNum_TEXT_MESSAGE_APP, pkt.GetDecoded().GetPortnum())
	assert.Equal(t, []byte("hi"), pkt.GetDecoded().GetPayload())
}

func TestGeneratedFramesDecode(t *testing.T) {
	b, err := proto.Marshal(&pb.FromRadio{
		Id: 8,
		PayloadVariant: &pb.FromRadio_NodeInfo{NodeInfo: &pb.NodeInfo{
			Num:      0x1234,
			HopsAway: 2,
			User: &pb.User{
				Id:       "!00001234",
				LongName: "Ridge relay",
				HwModel:  pb.HardwareModel_TBEAM,
				Role:     pb.Config_DeviceConfig_ROUTER,
			},
		}},
	})
	require.NoError(t, err)

	env, err := DecodeFromRadio(b)
	require.NoError(t, err)
	info, ok := env.Variant.(*NodeInfo)
	require.True(t, ok, "variant should be node info, got %T", env.Variant)
	assert.Equal(t, uint32(0x1234), info.Num)
	require.NotNil(t, info.HopsAway)
	assert.Equal(t, uint32(2), *info.HopsAway)
	assert.Equal(t, "Ridge relay", info.User.LongName)
	assert.Equal(t, RoleRouter, info.User.Role)
	assert.Equal(t, HardwareModel(pb.HardwareModel_TBEAM), info.User.HWModel)
}

func TestNewerFieldsSurviveGeneratedTypes(t *testing.T) {
	in := &FromRadio{Variant: &MeshPacket{
		From:         7,
		To:           8,
		PublicKey:    []byte{0xaa, 0xbb},
		PKIEncrypted: true,
		NextHop:      0x21,
		RelayNode:    0x42,
		Decoded:      &Data{PortNum: PortTextMessage, Bitfield: 1},
	}}

	// A relay built on the generated types keeps fields it does not know.
	var relay pb.FromRadio
	require.NoError(t, proto.Unmarshal(in.Marshal(), &relay))
	assert.NotEmpty(t, relay.GetPacket().ProtoReflect().GetUnknown())
	forwarded, err := proto.Marshal(&relay)
	require.NoError(t, err)

	env, err := DecodeFromRadio(forwarded)
	require.NoError(t, err)
	assert.Equal(t, in.Variant, env.Variant)
}

func TestEnvelopeMembersOutsideGeneratedSchema(t *testing.T) {
	tests := []struct {
		name    string
		variant FromRadioVariant
	}{
		{"client notification", &ClientNotification{ReplyID: 4, Level: LogWarning, Message: "duty cycle limit"}},
		{"security config", &Config{Security: &SecurityConfig{PublicKey: []byte{1, 2}, AdminKey: [][]byte{{3}}, IsManaged: true}}},
		{"xmodem passthrough", &Opaque{Field: 12, Raw: []byte{0x10, 0x05}}},
		{"file info passthrough", &Opaque{Field: 15, Raw: []byte{0x0a, 0x01, 0x61}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeFromRadio((&FromRadio{ID: 1, Variant: tt.variant}).Marshal())
			require.NoError(t, err)
			assert.Equal(t, tt.variant, env.Variant)
		})
	}
}

func TestFromRadioNodeInfoZeroHopsAway(t *testing.T) {
	zero := uint32(0)
	env, err := DecodeFromRadio((&FromRadio{Variant: &NodeInfo{Num: 9, HopsAway: &zero}}).Marshal())
	require.NoError(t, err)
	info := env.Variant.(*NodeInfo)
	require.NotNil(t, info.HopsAway)
	assert.Equal(t, uint32(0), *info.HopsAway)

	env, err = DecodeFromRadio((&FromRadio{Variant: &NodeInfo{Num: 9}}).Marshal())
	require.NoError(t, err)
	assert.Nil(t, env.Variant.(*NodeInfo).HopsAway)
}

func TestInvalidUTF8IsReplacedOnEncode(t *testing.T) {
	var u User
	require.NoError(t, u.Unmarshal((&User{LongName: "Camp\xff", ShortName: "C1"}).Marshal()))
	assert.Equal(t, "Camp\uFFFD", u.LongName)
	assert.Equal(t, "C1", u.ShortName)

	var raw []byte
	raw = protowire.AppendTag(raw, 2, protowire.BytesType)
	raw = protowire.AppendString(raw, "Camp\xff")
	assert.Error(t, u.Unmarshal(raw))
}
