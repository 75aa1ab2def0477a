package service

import (
	"github.com/opd-ai/meshlink/model"
	"github.com/opd-ai/meshlink/wire"
)

// NodeIDs maps node numbers to user IDs.
type NodeIDs interface {
	ToNodeID(num uint32) string
}

// DataMapper translates wire packets into the application model. It has no
// side effects.
type DataMapper struct {
	nodes NodeIDs
}

// NewDataMapper creates a mapper backed by nodes.
func NewDataMapper(nodes NodeIDs) *DataMapper {
	return &DataMapper{nodes: nodes}
}

// ToNodeID returns the broadcast ID for the broadcast number, the known
// user ID or a synthesized one.
func (m *DataMapper) ToNodeID(num uint32) string {
	if num == model.NodeNumBroadcast {
		return model.IDBroadcast
	}
	if m.nodes != nil {
		return m.nodes.ToNodeID(num)
	}
	return model.DefaultNodeID(num)
}

// ToDataPacket maps a decoded packet. It returns nil for packets the radio
// could not decrypt.
func (m *DataMapper) ToDataPacket(p *wire.MeshPacket) *model.DataPacket {
	if p == nil || p.Decoded == nil {
		return nil
	}
	d := p.Decoded
	channel := p.Channel
	if p.PKIEncrypted {
		channel = model.PKCChannelIndex
	}
	return &model.DataPacket{
		From:      m.ToNodeID(p.From),
		To:        m.ToNodeID(p.To),
		Time:      int64(p.RxTime) * 1000,
		ID:        p.ID,
		DataType:  d.PortNum,
		Bytes:     append([]byte(nil), d.Payload...),
		HopLimit:  p.HopLimit,
		Channel:   channel,
		WantAck:   p.WantAck,
		HopStart:  p.HopStart,
		SNR:       p.RxSNR,
		RSSI:      p.RxRSSI,
		ReplyID:   d.ReplyID,
		RelayNode: p.RelayNode,
		ViaMQTT:   p.ViaMQTT,
		Emoji:     d.Emoji,
	}
}
