package httpapi

import (
	"context"
	"sync"

	"github.com/opd-ai/meshlink/configsync"
	"github.com/opd-ai/meshlink/connection"
	"github.com/opd-ai/meshlink/flow"
	"github.com/opd-ai/meshlink/model"
	"github.com/opd-ai/meshlink/repository"
	"github.com/opd-ai/meshlink/service"
	"github.com/opd-ai/meshlink/wire"
)

type call struct {
	name string
	dest uint32
	arg  any
}

// fakeController records every command and returns canned data.
type fakeController struct {
	conn      connection.State
	phase     *flow.Value[service.SyncPhase]
	sync      *flow.Value[configsync.State]
	state     *service.ServiceState
	nodes     []*model.Node
	myInfo    *model.MyNodeInfo
	messages  []*repository.Packet
	meshLog   []*model.MeshLog
	neighbors map[uint32][]*wire.Neighbor
	profile   []byte

	err    error
	nextID uint32
	calls  []call
	mu     sync.Mutex
}

func newFakeController() *fakeController {
	return &fakeController{
		conn:      connection.Connected,
		phase:     flow.NewValue(service.PhaseComplete, nil),
		sync:      flow.NewValue(configsync.State{}, nil),
		state:     service.NewServiceState(),
		neighbors: map[uint32][]*wire.Neighbor{},
		nextID:    77,
	}
}

func (f *fakeController) record(name string, dest uint32, arg any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{name: name, dest: dest, arg: arg})
}

func (f *fakeController) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeController) ConnectionState() connection.State { return f.conn }
func (f *fakeController) SyncPhase() *flow.Value[service.SyncPhase] { return f.phase }
func (f *fakeController) ConfigSync() *flow.Value[configsync.State] { return f.sync }
func (f *fakeController) State() *service.ServiceState { return f.state }
func (f *fakeController) Nodes() []*model.Node { return f.nodes }
func (f *fakeController) MyNodeInfo() *model.MyNodeInfo { return f.myInfo }
func (f *fakeController) Neighbors(num uint32) []*wire.Neighbor { return f.neighbors[num] }

func (f *fakeController) Node(id string) (*model.Node, bool) {
	for _, n := range f.nodes {
		if n.User != nil && n.User.ID == id {
			return n, true
		}
	}
	return nil, false
}

func (f *fakeController) Messages(ctx context.Context, contactKey string) ([]*repository.Packet, error) {
	f.record("Messages", 0, contactKey)
	return f.messages, f.err
}

func (f *fakeController) MeshLog(ctx context.Context, limit int) ([]*model.MeshLog, error) {
	f.record("MeshLog", 0, limit)
	if limit < len(f.meshLog) {
		return f.meshLog[:limit], f.err
	}
	return f.meshLog, f.err
}

func (f *fakeController) SendText(ctx context.Context, to string, channel uint32, text string, replyID uint32) (uint32, error) {
	f.record("SendText", channel, []any{to, text, replyID})
	return f.nextID, f.err
}

func (f *fakeController) RequestConfig(ctx context.Context) error {
	f.record("RequestConfig", 0, nil)
	return f.err
}

func (f *fakeController) RequestTraceroute(ctx context.Context, dest uint32) (uint32, error) {
	f.record("RequestTraceroute", dest, nil)
	return f.nextID, f.err
}

func (f *fakeController) RequestNeighborInfo(ctx context.Context, dest uint32) (uint32, error) {
	f.record("RequestNeighborInfo", dest, nil)
	return f.nextID, f.err
}

func (f *fakeController) RequestReboot(ctx context.Context, dest, secs uint32) error {
	f.record("RequestReboot", dest, secs)
	return f.err
}

func (f *fakeController) RequestShutdown(ctx context.Context, dest, secs uint32) error {
	f.record("RequestShutdown", dest, secs)
	return f.err
}

func (f *fakeController) RequestFactoryReset(ctx context.Context, dest uint32, full bool) error {
	f.record("RequestFactoryReset", dest, full)
	return f.err
}

func (f *fakeController) RequestNodeDBReset(ctx context.Context, dest uint32) error {
	f.record("RequestNodeDBReset", dest, nil)
	return f.err
}

func (f *fakeController) RemoveNode(ctx context.Context, num uint32) error {
	f.record("RemoveNode", num, nil)
	return f.err
}

func (f *fakeController) StartRemoteConfigSync(ctx context.Context, dest uint32, sections ...configsync.Section) error {
	f.record("StartRemoteConfigSync", dest, len(sections))
	return f.err
}

func (f *fakeController) ExportProfile(ctx context.Context) ([]byte, error) {
	f.record("ExportProfile", 0, nil)
	return f.profile, f.err
}

func (f *fakeController) ImportProfile(ctx context.Context, b []byte) error {
	f.record("ImportProfile", 0, string(b))
	return f.err
}
