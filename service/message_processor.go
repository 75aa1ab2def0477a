package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshlink/clock"
	"github.com/opd-ai/meshlink/limits"
	"github.com/opd-ai/meshlink/model"
	"github.com/opd-ai/meshlink/node"
	"github.com/opd-ai/meshlink/repository"
	"github.com/opd-ai/meshlink/wire"
)

// DefaultEarlyBufferSize bounds the packets held before the node database
// is ready.
const DefaultEarlyBufferSize = limits.MaxEarlyPackets

// MessageProcessor is the entry point for frames read from the radio. It
// decodes them, records them in the mesh log and holds mesh packets back
// until the node database is ready to attribute them.
type MessageProcessor struct {
	nodes      *node.Manager
	fromRadio  *FromRadioHandler
	data       *DataHandler
	meshLog    repository.MeshLogRepository
	tp         clock.TimeProvider
	bufferSize int

	early []*wire.MeshPacket
	ready bool

	mu sync.Mutex
}

// NewMessageProcessor creates a processor. A bufferSize below one selects
// DefaultEarlyBufferSize.
func NewMessageProcessor(nodes *node.Manager, fromRadio *FromRadioHandler, data *DataHandler,
	meshLog repository.MeshLogRepository, bufferSize int, tp clock.TimeProvider) *MessageProcessor {
	if bufferSize < 1 {
		bufferSize = DefaultEarlyBufferSize
	}
	return &MessageProcessor{
		nodes:      nodes,
		fromRadio:  fromRadio,
		data:       data,
		meshLog:    meshLog,
		tp:         clock.OrDefault(tp),
		bufferSize: bufferSize,
	}
}

// Start flushes the early buffer whenever the node database becomes ready.
func (p *MessageProcessor) Start(ctx context.Context) {
	p.nodes.NodeDBReady().Watch(ctx, "MessageProcessor.NodeDBReady", func(ready bool) {
		p.setReady(ctx, ready)
	})
}

// setReady drains the early buffer before it lets packets through
// directly. Packets that arrive while a batch is being dispatched join the
// buffer and go out in the next batch, so arrival order is kept.
func (p *MessageProcessor) setReady(ctx context.Context, ready bool) {
	if !ready {
		p.mu.Lock()
		p.ready = false
		p.mu.Unlock()
		return
	}
	for {
		p.mu.Lock()
		flush := p.early
		p.early = nil
		if len(flush) == 0 {
			p.ready = true
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function": "setReady",
			"packets":  len(flush),
		}).Info("Node database ready, flushing early packets")
		for _, mp := range flush {
			p.processReceivedMeshPacket(ctx, mp)
		}
	}
}

// Ready reports whether packets are dispatched without buffering.
func (p *MessageProcessor) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// BufferedLen reports the number of packets waiting for the node database.
func (p *MessageProcessor) BufferedLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.early)
}

// HandleFromRadio decodes one frame. Frames that are not a FromRadio are
// retried as a bare LogRecord, which some firmware emits on the debug
// stream.
func (p *MessageProcessor) HandleFromRadio(ctx context.Context, b []byte) {
	msg, err := wire.DecodeFromRadio(b)
	if err != nil {
		var rec wire.LogRecord
		if logErr := rec.Unmarshal(b); logErr != nil {
			logrus.WithFields(logrus.Fields{
				"function": "HandleFromRadio",
				"bytes":    len(b),
				"error":    err.Error(),
			}).Error("Invalid FromRadio frame")
			return
		}
		msg = &wire.FromRadio{Variant: &rec}
	}
	p.HandleMessage(ctx, msg)
}

// HandleMessage processes an already decoded FromRadio.
func (p *MessageProcessor) HandleMessage(ctx context.Context, msg *wire.FromRadio) {
	if msg == nil || msg.Variant == nil {
		return
	}
	p.insertMeshLog(ctx, msg)

	mp, ok := msg.Variant.(*wire.MeshPacket)
	if !ok {
		p.fromRadio.HandleFromRadio(ctx, msg)
		return
	}
	if mp.RxTime == 0 {
		mp.RxTime = uint32(p.tp.Now().Unix())
	}

	p.mu.Lock()
	if !p.ready {
		if len(p.early) >= p.bufferSize {
			dropped := p.early[0]
			p.early = p.early[1:]
			logrus.WithFields(logrus.Fields{
				"function":  "HandleMessage",
				"packet_id": dropped.ID,
				"capacity":  p.bufferSize,
			}).Warn("Early packet buffer full, dropping oldest packet")
		}
		p.early = append(p.early, mp)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.processReceivedMeshPacket(ctx, mp)
}

func (p *MessageProcessor) processReceivedMeshPacket(ctx context.Context, mp *wire.MeshPacket) {
	if mp.Decoded == nil {
		logrus.WithFields(logrus.Fields{
			"function":  "processReceivedMeshPacket",
			"packet_id": mp.ID,
			"from":      mp.From,
		}).Debug("Dropping packet the radio could not decode")
		return
	}
	myNodeNum, known := p.nodes.MyNodeNum()

	if known {
		p.nodes.UpdateNodeInfo(myNodeNum, mp.From != myNodeNum, 0, func(n *model.Node) {
			n.LastHeard = uint32(p.tp.Now().Unix())
		})
	}
	if mp.From != myNodeNum {
		p.nodes.UpdateNodeInfo(mp.From, false, mp.Channel, func(n *model.Node) {
			n.LastHeard = mp.RxTime
			n.SNR = mp.RxSNR
			n.RSSI = mp.RxRSSI
			n.ViaMQTT = mp.ViaMQTT
			n.HopsAway = hopsAway(mp)
		})
	}

	p.data.HandleReceivedData(ctx, mp, myNodeNum)
}

// hopsAway derives the hop distance of a received packet, or -1 when the
// sender's firmware does not report its starting hop limit.
func hopsAway(mp *wire.MeshPacket) int32 {
	switch {
	case mp.Decoded != nil && mp.Decoded.PortNum == wire.PortRangeTest:
		return 0
	case mp.HopStart == 0 && mp.Decoded != nil && mp.Decoded.Bitfield == 0:
		return -1
	case mp.HopLimit > mp.HopStart:
		return -1
	default:
		return int32(mp.HopStart - mp.HopLimit)
	}
}

func (p *MessageProcessor) insertMeshLog(ctx context.Context, msg *wire.FromRadio) {
	if p.meshLog == nil {
		return
	}
	entry := &model.MeshLog{
		UUID:         uuid.NewString(),
		MessageType:  variantName(msg.Variant),
		ReceivedDate: p.tp.Now().UnixMilli(),
		FromRadio:    msg,
	}
	if mp, ok := msg.Variant.(*wire.MeshPacket); ok {
		entry.FromNum = mp.From
		if mp.Decoded != nil {
			entry.PortNum = mp.Decoded.PortNum
		}
	}
	if err := p.meshLog.Insert(ctx, entry); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "insertMeshLog",
			"error":    err.Error(),
		}).Warn("Failed to write mesh log")
	}
}

func variantName(v wire.FromRadioVariant) string {
	switch v := v.(type) {
	case *wire.MeshPacket:
		return "Packet"
	case *wire.MyNodeInfo:
		return "MyNodeInfo"
	case *wire.NodeInfo:
		return "NodeInfo"
	case *wire.Config:
		return "Config"
	case *wire.ModuleConfig:
		return "ModuleConfig"
	case *wire.Channel:
		return "Channel"
	case *wire.LogRecord:
		return "LogRecord"
	case wire.ConfigCompleteID:
		return "ConfigCompleteId"
	case wire.Rebooted:
		return "Rebooted"
	case *wire.QueueStatus:
		return "QueueStatus"
	case *wire.DeviceMetadata:
		return "Metadata"
	case *wire.MqttClientProxyMessage:
		return "MqttClientProxyMessage"
	case *wire.ClientNotification:
		return "ClientNotification"
	case *wire.Opaque:
		return fmt.Sprintf("Field%d", v.Field)
	default:
		return "Unknown"
	}
}
