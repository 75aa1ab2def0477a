package service

import (
	"context"
	"errors"
	"sync"

	"github.com/opd-ai/meshlink/connection"
	"github.com/opd-ai/meshlink/flow"
	"github.com/opd-ai/meshlink/model"
	"github.com/opd-ai/meshlink/wire"
)

var errRadioGone = errors.New("radio gone")

// fakeTransport records every ToRadio written and lets tests push frames
// and link states.
type fakeTransport struct {
	mu      sync.Mutex
	written []*wire.ToRadio
	fail    bool

	frames chan []byte
	state  *flow.Value[connection.State]
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		frames: make(chan []byte, 64),
		state:  flow.NewComparable(connection.Disconnected),
	}
}

func (f *fakeTransport) SendToRadio(ctx context.Context, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errRadioGone
	}
	msg, err := wire.DecodeToRadio(frame)
	if err != nil {
		return err
	}
	f.written = append(f.written, msg)
	return nil
}

func (f *fakeTransport) Frames() <-chan []byte                { return f.frames }
func (f *fakeTransport) State() *flow.Value[connection.State] { return f.state }

func (f *fakeTransport) push(msg *wire.FromRadio) {
	f.frames <- msg.Marshal()
}

func (f *fakeTransport) wantConfigIDs() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []uint32
	for _, m := range f.written {
		if id, ok := m.Variant.(wire.WantConfigID); ok {
			out = append(out, uint32(id))
		}
	}
	return out
}

func (f *fakeTransport) meshPackets() []*wire.MeshPacket {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*wire.MeshPacket
	for _, m := range f.written {
		if p, ok := m.Variant.(*wire.MeshPacket); ok {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeTransport) heartbeats() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.written {
		if _, ok := m.Variant.(*wire.Heartbeat); ok {
			n++
		}
	}
	return n
}

// fakeControl implements ControlSender and QueueDrainer.
type fakeControl struct {
	mu      sync.Mutex
	sent    []*wire.ToRadio
	drained int
}

func (f *fakeControl) SendToRadio(ctx context.Context, msg *wire.ToRadio) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeControl) ProcessQueuedPackets(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drained++
	return nil
}

func (f *fakeControl) wantConfigIDs() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []uint32
	for _, m := range f.sent {
		if id, ok := m.Variant.(wire.WantConfigID); ok {
			out = append(out, uint32(id))
		}
	}
	return out
}

func (f *fakeControl) drainCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drained
}

// fakeSender implements CommandSender and ConnectionCommands.
type fakeSender struct {
	mu       sync.Mutex
	nextID   uint32
	data     []*model.DataPacket
	admin    []*wire.AdminMessage
	adminTo  []uint32
	drained  int
	passkey  []byte
	position []*wire.Position
}

func (f *fakeSender) GeneratePacketID() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return 1000 + f.nextID
}

func (f *fakeSender) SendData(ctx context.Context, p *model.DataPacket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = append(f.data, p.Clone())
	return nil
}

func (f *fakeSender) SetSessionPasskey(key []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passkey = append([]byte(nil), key...)
}

func (f *fakeSender) ProcessQueuedPackets(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drained++
	return nil
}

func (f *fakeSender) SendAdmin(ctx context.Context, dest, requestID uint32, wantResponse bool, msg *wire.AdminMessage) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.admin = append(f.admin, msg)
	f.adminTo = append(f.adminTo, dest)
	return requestID, nil
}

func (f *fakeSender) SendPosition(ctx context.Context, pos *wire.Position, dest uint32, wantResponse bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.position = append(f.position, pos)
	return nil
}

func (f *fakeSender) sentData() []*model.DataPacket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.DataPacket(nil), f.data...)
}

func (f *fakeSender) adminKinds() []wire.AdminKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.AdminKind, len(f.admin))
	for i, m := range f.admin {
		out[i] = m.Kind
	}
	return out
}

// fakeQueue implements QueueStatusHandler and PacketQueue.
type fakeQueue struct {
	mu       sync.Mutex
	removed  []uint32
	statuses []*wire.QueueStatus
	stopped  int
}

func (f *fakeQueue) HandleQueueStatus(ctx context.Context, s *wire.QueueStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, s)
}

func (f *fakeQueue) RemoveResponse(id uint32, success bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return true
}

func (f *fakeQueue) StopPacketQueue() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
}

func (f *fakeQueue) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func (f *fakeQueue) removedIDs() []uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint32(nil), f.removed...)
}

// recordingBroadcasts keeps every broadcast.
type recordingBroadcasts struct {
	mu          sync.Mutex
	nodes       []*model.Node
	data        []*model.DataPacket
	statuses    map[uint32]model.MessageStatus
	connections []connection.State
}

func newRecordingBroadcasts() *recordingBroadcasts {
	return &recordingBroadcasts{statuses: make(map[uint32]model.MessageStatus)}
}

func (r *recordingBroadcasts) BroadcastNodeChange(n *model.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = append(r.nodes, n)
}

func (r *recordingBroadcasts) BroadcastReceivedData(p *model.DataPacket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = append(r.data, p)
}

func (r *recordingBroadcasts) BroadcastMessageStatus(id uint32, s model.MessageStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = s
}

func (r *recordingBroadcasts) BroadcastConnection(s connection.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections = append(r.connections, s)
}

func (r *recordingBroadcasts) dataCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}

func (r *recordingBroadcasts) status(id uint32) (model.MessageStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.statuses[id]
	return s, ok
}

func (r *recordingBroadcasts) lastConnection() connection.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.connections) == 0 {
		return connection.Disconnected
	}
	return r.connections[len(r.connections)-1]
}

// recordingNotifications counts notifications by kind.
type recordingNotifications struct {
	mu       sync.Mutex
	messages []string
	alerts   []string
	reacts   []string
	points   []uint32
	battery  []uint32
	cancels  []uint32
	summary  string
	channels []string
}

func (r *recordingNotifications) UpdateMessageNotification(contactKey, sender, message string, isBroadcast bool, channelName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	r.channels = append(r.channels, channelName)
}

func (r *recordingNotifications) UpdateReactionNotification(contactKey, sender, emoji string, isBroadcast bool, channelName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reacts = append(r.reacts, emoji)
}

func (r *recordingNotifications) UpdateWaypointNotification(contactKey, sender, message string, waypointID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points = append(r.points, waypointID)
}

func (r *recordingNotifications) ShowAlertNotification(contactKey, sender, alert string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
}

func (r *recordingNotifications) ShowNewNodeSeen(n *model.Node) {}

func (r *recordingNotifications) ShowOrUpdateLowBatteryNotification(n *model.Node, isRemote bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.battery = append(r.battery, n.Num)
}

func (r *recordingNotifications) CancelLowBatteryNotification(n *model.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels = append(r.cancels, n.Num)
}

func (r *recordingNotifications) ShowClientNotification(n *wire.ClientNotification) {}

func (r *recordingNotifications) UpdateServiceStateNotification(summary string, t *wire.Telemetry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary = summary
}

func (r *recordingNotifications) lastSummary() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary
}

func (r *recordingNotifications) batteryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.battery)
}

// recordingMQTT tracks Start and Stop calls.
type recordingMQTT struct {
	mu      sync.Mutex
	started []bool
	stopped int
	proxied []string
}

func (r *recordingMQTT) Start(ctx context.Context, enabled, proxyToClient bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, enabled && proxyToClient)
}

func (r *recordingMQTT) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped++
}

func (r *recordingMQTT) HandleProxyMessage(msg *wire.MqttClientProxyMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proxied = append(r.proxied, msg.Topic)
}

func (r *recordingMQTT) counts() (started, stopped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.started), r.stopped
}
