// Package command builds outbound mesh packets for application and admin
// requests and hands them to the packet queue.
package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshlink/clock"
	"github.com/opd-ai/meshlink/flow"
	"github.com/opd-ai/meshlink/limits"
	"github.com/opd-ai/meshlink/model"
	"github.com/opd-ai/meshlink/packet"
	"github.com/opd-ai/meshlink/wire"
)

// DefaultHopLimit is used when neither the packet nor the LoRa config set one.
const DefaultHopLimit = 3

const adminChannelName = "admin"

var (
	// ErrInvalidNodeID is returned for destinations that resolve to no node.
	ErrInvalidNodeID = errors.New("invalid node ID")
	// ErrInvalidPort is returned for packets without a port number.
	ErrInvalidPort = errors.New("port number must be non-zero")
	// ErrMessageTooLong is returned for payloads that do not fit one frame.
	ErrMessageTooLong = fmt.Errorf("message too long: %w", limits.ErrMessageTooLarge)
)

// DeferrablePorts are the applications whose packets are held while the
// radio is disconnected. Anything else is perishable and dropped.
var DeferrablePorts = map[wire.PortNum]bool{
	wire.PortTextMessage:     true,
	wire.PortAlert:           true,
	wire.PortWaypoint:        true,
	wire.PortATAKPlugin:      true,
	wire.PortATAKForwarder:   true,
	wire.PortDetectionSensor: true,
	wire.PortPrivate:         true,
}

// TelemetryType selects the metrics block asked for by RequestTelemetry.
type TelemetryType int

const (
	TelemetryDevice TelemetryType = iota
	TelemetryEnvironment
	TelemetryPower
)

// NodeDB is the part of the node database the sender reads.
type NodeDB interface {
	MyNodeNum() (uint32, bool)
	NodeByNum(num uint32) (*model.Node, bool)
	NodeByID(id string) (*model.Node, bool)
	GetOrCreateNodeInfo(num, channel uint32) *model.Node
	HandleReceivedPosition(from, myNodeNum uint32, pos *wire.Position, defaultTimeMs int64)
}

// PacketQueue accepts mesh packets for delivery.
type PacketQueue interface {
	SendPacket(ctx context.Context, p *wire.MeshPacket) (*packet.Completion, error)
	ProcessQueuedPackets(ctx context.Context) error
}

// ConnectionState reports whether the radio link is fully up.
type ConnectionState interface {
	IsConnected() bool
}

// ConfigSource exposes the radio configuration the sender depends on.
type ConfigSource interface {
	LocalConfig() *flow.Value[*wire.LocalConfig]
	ChannelSet() *flow.Value[[]*wire.Channel]
}

// Sender turns requests into mesh packets.
type Sender struct {
	packets      PacketQueue
	nodes        NodeDB
	state        ConnectionState
	config       ConfigSource
	timeProvider clock.TimeProvider

	currentPacketID atomic.Uint64
	sessionPasskey  atomic.Value // []byte

	offline          []*model.DataPacket
	tracerouteStart  map[uint32]time.Time
	neighborStart    map[uint32]time.Time
	lastNeighborInfo *wire.NeighborInfo

	mu sync.Mutex
}

// NewSender creates a Sender. The packet ID counter starts at a time-based
// seed so IDs from consecutive runs do not collide.
func NewSender(packets PacketQueue, nodes NodeDB, state ConnectionState, config ConfigSource, tp clock.TimeProvider) *Sender {
	s := &Sender{
		packets:         packets,
		nodes:           nodes,
		state:           state,
		config:          config,
		timeProvider:    clock.OrDefault(tp),
		tracerouteStart: make(map[uint32]time.Time),
		neighborStart:   make(map[uint32]time.Time),
	}
	s.currentPacketID.Store(uint64(s.timeProvider.Now().UnixNano()))
	s.sessionPasskey.Store([]byte(nil))
	return s
}

// CurrentPacketID returns the raw counter behind GeneratePacketID.
func (s *Sender) CurrentPacketID() uint64 {
	return s.currentPacketID.Load()
}

// GeneratePacketID returns the next packet ID. IDs are never zero and do
// not repeat within 2^32-1 calls.
func (s *Sender) GeneratePacketID() uint32 {
	const numPacketIDs = 1<<32 - 1
	next := s.currentPacketID.Add(1) & 0xffffffff
	return uint32(next%numPacketIDs + 1)
}

// SetSessionPasskey stores the passkey the radio handed out for admin
// sessions. It is attached to every admin packet.
func (s *Sender) SetSessionPasskey(key []byte) {
	s.sessionPasskey.Store(append([]byte(nil), key...))
}

func (s *Sender) passkey() []byte {
	key, _ := s.sessionPasskey.Load().([]byte)
	return key
}

// ResolveNodeNum maps a destination ID to a node number.
func (s *Sender) ResolveNodeNum(id string) (uint32, error) {
	if id == model.IDBroadcast {
		return model.NodeNumBroadcast, nil
	}
	if strings.HasPrefix(id, "!") {
		if n, err := strconv.ParseUint(id[1:], 16, 32); err == nil {
			return uint32(n), nil
		}
	}
	if s.nodes != nil {
		if n, ok := s.nodes.NodeByID(id); ok {
			return n.Num, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidNodeID, id)
}

func (s *Sender) localConfig() *wire.LocalConfig {
	if s.config == nil {
		return nil
	}
	return s.config.LocalConfig().Get()
}

func (s *Sender) hopLimit(requested uint32) uint32 {
	if requested > 0 {
		return requested
	}
	if lc := s.localConfig(); lc != nil && lc.LoRa != nil && lc.LoRa.HopLimit > 0 {
		return lc.LoRa.HopLimit
	}
	return DefaultHopLimit
}

func (s *Sender) nodeChannel(num uint32) uint32 {
	if s.nodes == nil {
		return 0
	}
	if n, ok := s.nodes.NodeByNum(num); ok {
		return n.Channel
	}
	return 0
}

// meshPacket holds the knobs of one outbound packet.
type meshPacket struct {
	to       uint32
	id       uint32
	wantAck  bool
	hopLimit uint32
	channel  uint32
	priority wire.Priority
	data     *wire.Data
}

func (s *Sender) build(mp meshPacket) *wire.MeshPacket {
	if mp.id == 0 {
		mp.id = s.GeneratePacketID()
	}
	p := &wire.MeshPacket{
		To:       mp.to,
		ID:       mp.id,
		WantAck:  mp.wantAck,
		HopLimit: s.hopLimit(mp.hopLimit),
		Priority: mp.priority,
		Decoded:  mp.data,
	}
	if mp.channel == model.PKCChannelIndex {
		p.PKIEncrypted = true
		if s.nodes != nil {
			if dest, ok := s.nodes.NodeByNum(mp.to); ok {
				p.PublicKey = dest.Key()
			}
		}
	} else {
		p.Channel = mp.channel
	}
	return p
}

func (s *Sender) submit(ctx context.Context, p *wire.MeshPacket) error {
	_, err := s.packets.SendPacket(ctx, p)
	return err
}

// SendData validates p, assigns its ID and sends it. The destination must
// resolve before anything is queued. While disconnected, deferrable packets
// are held until ProcessQueuedPackets and others are dropped.
func (s *Sender) SendData(ctx context.Context, p *model.DataPacket) error {
	if p.ID == 0 {
		p.ID = s.GeneratePacketID()
	}
	if p.DataType == 0 {
		return ErrInvalidPort
	}
	if err := limits.ValidateDataPayload(p.Bytes); err != nil {
		p.Status = model.StatusError
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLong, len(p.Bytes))
	}
	if _, err := s.destination(p); err != nil {
		p.Status = model.StatusError
		return err
	}
	p.Status = model.StatusQueued

	if !s.state.IsConnected() {
		s.enqueue(p)
		return nil
	}
	if err := s.sendNow(ctx, p); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "SendData",
			"packet_id": p.ID,
			"error":     err.Error(),
		}).Warn("Send failed, holding packet for retry")
		s.enqueue(p)
	}
	return nil
}

func (s *Sender) destination(p *model.DataPacket) (uint32, error) {
	to := p.To
	if to == "" {
		to = model.IDBroadcast
	}
	return s.ResolveNodeNum(to)
}

func (s *Sender) sendNow(ctx context.Context, p *model.DataPacket) error {
	dest, err := s.destination(p)
	if err != nil {
		return err
	}
	mp := s.build(meshPacket{
		to:       dest,
		id:       p.ID,
		wantAck:  p.WantAck,
		hopLimit: p.HopLimit,
		channel:  p.Channel,
		data: &wire.Data{
			PortNum: p.DataType,
			Payload: append([]byte(nil), p.Bytes...),
			ReplyID: p.ReplyID,
			Emoji:   p.Emoji,
		},
	})
	p.Time = s.timeProvider.Now().UnixMilli()
	return s.submit(ctx, mp)
}

// enqueue holds a deferrable packet for the next connection. Perishable
// packets are only logged.
func (s *Sender) enqueue(p *model.DataPacket) {
	if !DeferrablePorts[p.DataType] {
		logrus.WithFields(logrus.Fields{
			"function":  "enqueue",
			"packet_id": p.ID,
			"port":      p.DataType.String(),
		}).Info("Dropping perishable packet while disconnected")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.offline) >= limits.MaxOfflinePackets {
		dropped := s.offline[0]
		s.offline = s.offline[1:]
		logrus.WithFields(logrus.Fields{
			"function":  "enqueue",
			"packet_id": dropped.ID,
		}).Warn("Offline queue full, dropping oldest packet")
	}
	s.offline = append(s.offline, p)
}

// OfflineLen returns the number of packets held for reconnection.
func (s *Sender) OfflineLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.offline)
}

// ProcessQueuedPackets submits held packets in order and then asks the
// packet queue to drain. Packets that fail stay held.
func (s *Sender) ProcessQueuedPackets(ctx context.Context) error {
	s.mu.Lock()
	held := s.offline
	s.offline = nil
	s.mu.Unlock()

	var failed []*model.DataPacket
	for _, p := range held {
		if err := s.sendNow(ctx, p); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "ProcessQueuedPackets",
				"packet_id": p.ID,
				"error":     err.Error(),
			}).Error("Failed to send held packet")
			if !errors.Is(err, ErrInvalidNodeID) {
				failed = append(failed, p)
			}
		}
	}

	if len(failed) > 0 {
		s.mu.Lock()
		s.offline = append(failed, s.offline...)
		s.mu.Unlock()
	}
	return s.packets.ProcessQueuedPackets(ctx)
}

// AdminChannelIndex picks the channel for admin traffic to dest.
func (s *Sender) AdminChannelIndex(dest uint32) uint32 {
	if s.nodes == nil {
		return 0
	}
	myNum, ok := s.nodes.MyNodeNum()
	if !ok || myNum == dest {
		return 0
	}
	me, meOK := s.nodes.NodeByNum(myNum)
	peer, peerOK := s.nodes.NodeByNum(dest)
	if meOK && peerOK && me.HasPKC() && peer.HasPKC() {
		return model.PKCChannelIndex
	}
	if s.config != nil {
		for i, ch := range s.config.ChannelSet().Get() {
			if ch != nil && ch.Settings != nil && strings.EqualFold(ch.Settings.Name, adminChannelName) {
				return uint32(i)
			}
		}
	}
	return 0
}

// SendAdmin sends msg to dest with the current session passkey. A zero
// requestID is replaced by a fresh packet ID. The ID used is returned so
// responses can be correlated.
func (s *Sender) SendAdmin(ctx context.Context, dest, requestID uint32, wantResponse bool, msg *wire.AdminMessage) (uint32, error) {
	if requestID == 0 {
		requestID = s.GeneratePacketID()
	}
	m := *msg
	m.SessionPasskey = s.passkey()

	p := s.build(meshPacket{
		to:       dest,
		id:       requestID,
		wantAck:  true,
		channel:  s.AdminChannelIndex(dest),
		priority: wire.PriorityReliable,
		data: &wire.Data{
			PortNum:      wire.PortAdmin,
			Payload:      m.Marshal(),
			WantResponse: wantResponse,
		},
	})

	logrus.WithFields(logrus.Fields{
		"function":   "SendAdmin",
		"dest":       dest,
		"request_id": requestID,
		"kind":       msg.Kind.String(),
	}).Debug("Sending admin message")
	return requestID, s.submit(ctx, p)
}

// SendPosition broadcasts pos from the local node, or sends it to dest
// when dest is non-zero. Unless the radio has a fixed position the local
// node's stored position is updated too.
func (s *Sender) SendPosition(ctx context.Context, pos *wire.Position, dest uint32, wantResponse bool) error {
	myNum, ok := s.nodes.MyNodeNum()
	if !ok {
		return fmt.Errorf("send position: %w", ErrInvalidNodeID)
	}
	to, channel := myNum, uint32(0)
	if dest != 0 {
		to, channel = dest, s.nodeChannel(dest)
	}

	if lc := s.localConfig(); lc == nil || lc.Position == nil || !lc.Position.FixedPosition {
		s.nodes.HandleReceivedPosition(myNum, myNum, pos, s.timeProvider.Now().UnixMilli())
	}

	return s.submit(ctx, s.build(meshPacket{
		to:       to,
		channel:  channel,
		priority: wire.PriorityBackground,
		data: &wire.Data{
			PortNum:      wire.PortPosition,
			Payload:      pos.Marshal(),
			WantResponse: wantResponse,
		},
	}))
}

// RequestPosition asks dest for its position, offering ours in exchange.
func (s *Sender) RequestPosition(ctx context.Context, dest uint32, lat, lon float64, alt int32) error {
	pos := &wire.Position{
		LatitudeI:  model.DegI(lat),
		LongitudeI: model.DegI(lon),
		Altitude:   alt,
		Time:       uint32(s.timeProvider.Now().Unix()),
	}
	return s.submit(ctx, s.build(meshPacket{
		to:       dest,
		channel:  s.nodeChannel(dest),
		priority: wire.PriorityBackground,
		data: &wire.Data{
			PortNum:      wire.PortPosition,
			Payload:      pos.Marshal(),
			WantResponse: true,
		},
	}))
}

// SetFixedPosition pins dest to a position, or clears the pin when every
// coordinate is zero.
func (s *Sender) SetFixedPosition(ctx context.Context, dest uint32, lat, lon float64, alt int32) error {
	pos := &wire.Position{
		LatitudeI:  model.DegI(lat),
		LongitudeI: model.DegI(lon),
		Altitude:   alt,
	}
	msg := &wire.AdminMessage{Kind: wire.AdminSetFixedPosition, Position: pos}
	if lat == 0 && lon == 0 && alt == 0 {
		msg = &wire.AdminMessage{Kind: wire.AdminRemoveFixedPosition, Value: 1}
	}
	if _, err := s.SendAdmin(ctx, dest, 0, false, msg); err != nil {
		return err
	}
	myNum, _ := s.nodes.MyNodeNum()
	s.nodes.HandleReceivedPosition(dest, myNum, pos, s.timeProvider.Now().UnixMilli())
	return nil
}

// RequestUserInfo sends our user record to dest and asks for theirs.
func (s *Sender) RequestUserInfo(ctx context.Context, dest uint32) error {
	myNum, ok := s.nodes.MyNodeNum()
	if !ok {
		return fmt.Errorf("request user info: %w", ErrInvalidNodeID)
	}
	me := s.nodes.GetOrCreateNodeInfo(myNum, 0)
	return s.submit(ctx, s.build(meshPacket{
		to:      dest,
		channel: s.nodeChannel(dest),
		data: &wire.Data{
			PortNum:      wire.PortNodeInfo,
			Payload:      me.User.Marshal(),
			WantResponse: true,
		},
	}))
}

// RequestTraceroute starts a route discovery towards dest.
func (s *Sender) RequestTraceroute(ctx context.Context, requestID, dest uint32) error {
	s.mu.Lock()
	s.tracerouteStart[requestID] = s.timeProvider.Now()
	s.mu.Unlock()

	return s.submit(ctx, s.build(meshPacket{
		to:      dest,
		id:      requestID,
		wantAck: true,
		channel: s.nodeChannel(dest),
		data: &wire.Data{
			PortNum:      wire.PortTraceroute,
			WantResponse: true,
		},
	}))
}

// TracerouteStarted returns and forgets the start time of a traceroute.
func (s *Sender) TracerouteStarted(requestID uint32) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tracerouteStart[requestID]
	delete(s.tracerouteStart, requestID)
	return t, ok
}

// RequestTelemetry asks dest for one kind of metrics.
func (s *Sender) RequestTelemetry(ctx context.Context, requestID, dest uint32, kind TelemetryType) error {
	req := &wire.Telemetry{}
	switch kind {
	case TelemetryEnvironment:
		req.EnvironmentMetrics = &wire.EnvironmentMetrics{}
	case TelemetryPower:
		req.PowerMetrics = &wire.PowerMetrics{}
	default:
		req.DeviceMetrics = &wire.DeviceMetrics{}
	}
	return s.submit(ctx, s.build(meshPacket{
		to:      dest,
		id:      requestID,
		channel: s.nodeChannel(dest),
		data: &wire.Data{
			PortNum:      wire.PortTelemetry,
			Payload:      req.Marshal(),
			WantResponse: true,
		},
	}))
}

// SetLastNeighborInfo remembers the neighbor report of the local radio.
func (s *Sender) SetLastNeighborInfo(ni *wire.NeighborInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastNeighborInfo = ni
}

// RequestNeighborInfo asks dest for its neighbor table. For the local node
// the last known report is echoed back through the radio instead, with a
// placeholder when none was heard yet.
func (s *Sender) RequestNeighborInfo(ctx context.Context, requestID, dest uint32) error {
	now := s.timeProvider.Now()
	s.mu.Lock()
	s.neighborStart[requestID] = now
	last := s.lastNeighborInfo
	s.mu.Unlock()

	data := &wire.Data{PortNum: wire.PortNeighborInfo, WantResponse: true}
	if myNum, ok := s.nodes.MyNodeNum(); ok && myNum == dest {
		if last == nil {
			const oneHour = 3600
			last = &wire.NeighborInfo{
				NodeID:                    myNum,
				LastSentByID:              myNum,
				NodeBroadcastIntervalSecs: oneHour,
				Neighbors: []*wire.Neighbor{{
					LastRxTime:                uint32(now.Unix()),
					NodeBroadcastIntervalSecs: oneHour,
				}},
			}
		}
		data.Payload = last.Marshal()
	}

	return s.submit(ctx, s.build(meshPacket{
		to:      dest,
		id:      requestID,
		wantAck: true,
		channel: s.nodeChannel(dest),
		data:    data,
	}))
}

// NeighborInfoStarted returns and forgets the start time of a neighbor request.
func (s *Sender) NeighborInfoStarted(requestID uint32) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.neighborStart[requestID]
	delete(s.neighborStart, requestID)
	return t, ok
}
