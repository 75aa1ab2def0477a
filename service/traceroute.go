package service

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshlink/clock"
	"github.com/opd-ai/meshlink/wire"
)

// snrUnknown marks a hop whose SNR the relaying node did not record.
const snrUnknown = -128

// RequestClock reports when a request was sent.
type RequestClock interface {
	TracerouteStarted(requestID uint32) (time.Time, bool)
	NeighborInfoStarted(requestID uint32) (time.Time, bool)
}

// NeighborInfoSink keeps the neighbor info last reported by the local node.
type NeighborInfoSink interface {
	SetLastNeighborInfo(ni *wire.NeighborInfo)
}

// TracerouteHandler formats traceroute responses.
type TracerouteHandler struct {
	mapper       *DataMapper
	requests     RequestClock
	state        *ServiceState
	timeProvider clock.TimeProvider
}

// NewTracerouteHandler creates a handler publishing to state.
func NewTracerouteHandler(mapper *DataMapper, requests RequestClock, state *ServiceState, tp clock.TimeProvider) *TracerouteHandler {
	return &TracerouteHandler{mapper: mapper, requests: requests, state: state, timeProvider: clock.OrDefault(tp)}
}

// HandleTraceroute publishes the route of a response to one of our
// traceroute requests and returns its text. Requests relayed through us
// are ignored.
func (h *TracerouteHandler) HandleTraceroute(p *wire.MeshPacket) (string, error) {
	if p.Decoded.RequestID == 0 {
		return "", nil
	}
	var rd wire.RouteDiscovery
	if err := rd.Unmarshal(p.Decoded.Payload); err != nil {
		return "", fmt.Errorf("decode traceroute: %w", err)
	}

	var b strings.Builder
	b.WriteString("Route traced toward destination:\n\n")
	b.WriteString(h.formatRoute(p.To, rd.Route, p.From, rd.SNRTowards))
	if len(rd.RouteBack) > 0 || len(rd.SNRBack) > 0 {
		b.WriteString("\n\nRoute traced back to us:\n\n")
		b.WriteString(h.formatRoute(p.From, rd.RouteBack, p.To, rd.SNRBack))
	}
	if started, ok := h.requests.TracerouteStarted(p.Decoded.RequestID); ok {
		fmt.Fprintf(&b, "\n\nDuration: %.1f s", h.timeProvider.Since(started).Seconds())
	}

	text := b.String()
	logrus.WithFields(logrus.Fields{
		"function":   "HandleTraceroute",
		"request_id": p.Decoded.RequestID,
		"hops":       len(rd.Route),
	}).Info("Traceroute response received")
	h.state.TracerouteResponse().Set(text)
	return text, nil
}

func (h *TracerouteHandler) formatRoute(origin uint32, hops []uint32, dest uint32, snrs []int32) string {
	nodes := make([]uint32, 0, len(hops)+2)
	nodes = append(nodes, origin)
	nodes = append(nodes, hops...)
	nodes = append(nodes, dest)

	parts := make([]string, len(nodes))
	for i, num := range nodes {
		parts[i] = h.mapper.ToNodeID(num)
		if i == 0 {
			continue
		}
		if i-1 < len(snrs) && snrs[i-1] != snrUnknown {
			parts[i] += fmt.Sprintf(" (%.2f dB)", float64(snrs[i-1])/4)
		} else {
			parts[i] += " (? dB)"
		}
	}
	return strings.Join(parts, " --> ")
}

// NeighborInfoHandler tracks which nodes each node hears directly.
type NeighborInfoHandler struct {
	mapper       *DataMapper
	requests     RequestClock
	sink         NeighborInfoSink
	state        *ServiceState
	timeProvider clock.TimeProvider
	adjacency    map[uint32][]*wire.Neighbor

	mu sync.RWMutex
}

// NewNeighborInfoHandler creates a handler with an empty adjacency table.
func NewNeighborInfoHandler(mapper *DataMapper, requests RequestClock, sink NeighborInfoSink,
	state *ServiceState, tp clock.TimeProvider) *NeighborInfoHandler {
	return &NeighborInfoHandler{
		mapper:       mapper,
		requests:     requests,
		sink:         sink,
		state:        state,
		timeProvider: clock.OrDefault(tp),
		adjacency:    make(map[uint32][]*wire.Neighbor),
	}
}

// HandleNeighborInfo records the neighbors of the reporting node. A report
// from the local node is kept so it can answer requests for itself.
func (h *NeighborInfoHandler) HandleNeighborInfo(p *wire.MeshPacket, myNodeNum uint32) error {
	var ni wire.NeighborInfo
	if err := ni.Unmarshal(p.Decoded.Payload); err != nil {
		return fmt.Errorf("decode neighbor info: %w", err)
	}
	owner := ni.NodeID
	if owner == 0 {
		owner = p.From
	}

	h.mu.Lock()
	h.adjacency[owner] = ni.Neighbors
	h.mu.Unlock()

	if p.From == myNodeNum && h.sink != nil {
		h.sink.SetLastNeighborInfo(&ni)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "HandleNeighborInfo",
		"node_num":  owner,
		"neighbors": len(ni.Neighbors),
	}).Debug("Neighbor info received")

	if p.Decoded.RequestID != 0 {
		if started, ok := h.requests.NeighborInfoStarted(p.Decoded.RequestID); ok {
			h.state.NeighborInfoResponse().Set(h.format(owner, &ni, h.timeProvider.Since(started)))
		}
	}
	return nil
}

// Neighbors returns the neighbors last reported by num.
func (h *NeighborInfoHandler) Neighbors(num uint32) []*wire.Neighbor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*wire.Neighbor(nil), h.adjacency[num]...)
}

func (h *NeighborInfoHandler) format(owner uint32, ni *wire.NeighborInfo, took time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Neighbors of %s:\n", h.mapper.ToNodeID(owner))
	if len(ni.Neighbors) == 0 {
		b.WriteString("\n(none)")
	}
	for _, n := range ni.Neighbors {
		fmt.Fprintf(&b, "\n%s (%.2f dB)", h.mapper.ToNodeID(n.NodeID), n.SNR)
	}
	fmt.Fprintf(&b, "\n\nDuration: %.1f s", took.Seconds())
	return b.String()
}
