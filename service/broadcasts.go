package service

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshlink/connection"
	"github.com/opd-ai/meshlink/model"
)

// EventKind identifies what a broadcast Event carries.
type EventKind int

const (
	EventNodeChange EventKind = iota
	EventReceivedData
	EventMessageStatus
	EventConnection
)

func (k EventKind) String() string {
	switch k {
	case EventNodeChange:
		return "node"
	case EventReceivedData:
		return "data"
	case EventMessageStatus:
		return "status"
	case EventConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// Event is one broadcast. Only the members matching Kind are set.
type Event struct {
	Kind     EventKind
	Time     time.Time
	Node     *model.Node
	Packet   *model.DataPacket
	PacketID uint32
	Status   model.MessageStatus
	State    connection.State
}

// Broadcasts is the outbound event interface of the runtime.
type Broadcasts interface {
	BroadcastNodeChange(node *model.Node)
	BroadcastReceivedData(p *model.DataPacket)
	BroadcastMessageStatus(packetID uint32, status model.MessageStatus)
	BroadcastConnection(state connection.State)
}

// subscriberBuffer bounds each subscriber channel. Events for a full
// subscriber are dropped.
const subscriberBuffer = 64

// EventBus delivers broadcasts to any number of subscribers.
type EventBus struct {
	subs   map[uint64]chan Event
	nextID uint64
	mu     sync.Mutex
}

var _ Broadcasts = (*EventBus)(nil)

// NewEventBus creates a bus with no subscribers.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[uint64]chan Event)}
}

// Subscribe returns a channel of future events and a cancel function that
// closes it.
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *EventBus) publish(e Event) {
	e.Time = time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			logrus.WithFields(logrus.Fields{
				"function":   "publish",
				"subscriber": id,
				"kind":       e.Kind.String(),
			}).Debug("Dropping event for slow subscriber")
		}
	}
}

func (b *EventBus) BroadcastNodeChange(node *model.Node) {
	b.publish(Event{Kind: EventNodeChange, Node: node})
}

func (b *EventBus) BroadcastReceivedData(p *model.DataPacket) {
	b.publish(Event{Kind: EventReceivedData, Packet: p})
}

func (b *EventBus) BroadcastMessageStatus(packetID uint32, status model.MessageStatus) {
	b.publish(Event{Kind: EventMessageStatus, PacketID: packetID, Status: status})
}

func (b *EventBus) BroadcastConnection(state connection.State) {
	b.publish(Event{Kind: EventConnection, State: state})
}
