// Package node owns the in-memory node database.
//
// The database is indexed twice, by node number and by user ID. Both
// indexes live behind one lock inside Manager and are only mutated through
// its methods, so they never diverge. Callers receive copies.
package node

import (
	"context"
	"regexp"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshlink/clock"
	"github.com/opd-ai/meshlink/flow"
	"github.com/opd-ai/meshlink/model"
	"github.com/opd-ai/meshlink/repository"
	"github.com/opd-ai/meshlink/wire"
)

// defaultLongName matches the name firmware gives a node nobody has named.
var defaultLongName = regexp.MustCompile(`^Meshtastic [0-9a-fA-F]{4}$`)

// Broadcaster is told about every node change made with broadcast enabled.
type Broadcaster interface {
	BroadcastNodeChange(node *model.Node)
}

// Notifier surfaces the first sighting of a node with real hardware info.
type Notifier interface {
	ShowNewNodeSeen(node *model.Node)
}

// Manager is the node database.
type Manager struct {
	byNum map[uint32]*model.Node
	byID  map[string]*model.Node

	myNodeNum    uint32
	hasMyNodeNum bool

	ready       *flow.Value[bool]
	allowWrites *flow.Value[bool]

	repo          repository.NodeRepository
	broadcasts    Broadcaster
	notifications Notifier
	timeProvider  clock.TimeProvider
	ctx           context.Context

	mu sync.RWMutex
}

// NewManager creates an empty database. Any collaborator may be nil.
func NewManager(repo repository.NodeRepository, broadcasts Broadcaster, notifications Notifier, tp clock.TimeProvider) *Manager {
	return &Manager{
		byNum:         make(map[uint32]*model.Node),
		byID:          make(map[string]*model.Node),
		ready:         flow.NewComparable(false),
		allowWrites:   flow.NewComparable(false),
		repo:          repo,
		broadcasts:    broadcasts,
		notifications: notifications,
		timeProvider:  clock.OrDefault(tp),
		ctx:           context.Background(),
	}
}

// Start binds repository calls to ctx.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()
}

// NodeDBReady reports whether the initial node download finished.
func (m *Manager) NodeDBReady() *flow.Value[bool] { return m.ready }

// AllowNodeDBWrites gates persistence of node updates.
func (m *Manager) AllowNodeDBWrites() *flow.Value[bool] { return m.allowWrites }

// SetNodeDBReady flips both the ready and write flags.
func (m *Manager) SetNodeDBReady(ready bool) {
	m.allowWrites.Set(ready)
	m.ready.Set(ready)
}

// MyNodeNum returns the local node number, if known.
func (m *Manager) MyNodeNum() (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.myNodeNum, m.hasMyNodeNum
}

// SetMyNodeNum records the local node number.
func (m *Manager) SetMyNodeNum(num uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.myNodeNum = num
	m.hasMyNodeNum = true
}

// LoadCachedNodeDB fills the database from the repository.
func (m *Manager) LoadCachedNodeDB(ctx context.Context) error {
	if m.repo == nil {
		return nil
	}
	nodes, err := m.repo.NodeDBByNum(ctx)
	if err != nil {
		return err
	}
	mi := m.repo.MyNodeInfo().Get()

	m.mu.Lock()
	defer m.mu.Unlock()
	for num, n := range nodes {
		m.byNum[num] = n
		if n.User != nil && n.User.ID != "" {
			m.byID[n.User.ID] = n
		}
	}
	if mi != nil {
		m.myNodeNum = mi.MyNodeNum
		m.hasMyNodeNum = true
	}

	logrus.WithFields(logrus.Fields{
		"function": "LoadCachedNodeDB",
		"nodes":    len(nodes),
	}).Info("Loaded cached node database")
	return nil
}

// Clear empties both indexes and forgets the local node number.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.byNum = make(map[uint32]*model.Node)
	m.byID = make(map[string]*model.Node)
	m.myNodeNum = 0
	m.hasMyNodeNum = false
	m.mu.Unlock()

	m.ready.Set(false)
	m.allowWrites.Set(false)
}

// Len reports the sizes of the by-number and by-ID indexes.
func (m *Manager) Len() (byNum, byID int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byNum), len(m.byID)
}

// GetOrCreateNodeInfo returns the node, creating it with a default user.
// A created node is not persisted until it is updated.
func (m *Manager) GetOrCreateNodeInfo(num, channel uint32) *model.Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreateLocked(num, channel).Clone()
}

func (m *Manager) getOrCreateLocked(num, channel uint32) *model.Node {
	if n, ok := m.byNum[num]; ok {
		return n
	}
	n := model.NewNode(num, channel)
	m.byNum[num] = n
	m.byID[n.User.ID] = n
	return n
}

// NodeByNum returns a copy of the node with the given number.
func (m *Manager) NodeByNum(num uint32) (*model.Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.byNum[num]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

// NodeByID returns a copy of the node with the given user ID.
func (m *Manager) NodeByID(id string) (*model.Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

// UpdateNodeInfo applies fn to the node, creating it when absent. fn runs
// under the database lock and must not call back into the Manager. The
// updated node is persisted once the database is ready and broadcast when
// withBroadcast is set. The returned value is a copy.
func (m *Manager) UpdateNodeInfo(num uint32, withBroadcast bool, channel uint32, fn func(n *model.Node)) *model.Node {
	m.mu.Lock()
	n := m.getOrCreateLocked(num, channel)
	oldID := n.User.ID
	fn(n)
	if n.User == nil {
		n.User = &wire.User{}
	}
	newID := n.User.ID
	if oldID != newID && m.byID[oldID] == n {
		delete(m.byID, oldID)
	}
	if newID != "" {
		m.byID[newID] = n
	}
	snapshot := n.Clone()
	ctx := m.ctx
	m.mu.Unlock()

	if newID != "" && m.ready.Get() && m.repo != nil {
		if err := m.repo.Upsert(ctx, snapshot); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "UpdateNodeInfo",
				"node_num": num,
				"error":    err.Error(),
			}).Warn("Failed to persist node")
		}
	}
	if withBroadcast && m.broadcasts != nil {
		m.broadcasts.BroadcastNodeChange(snapshot)
	}
	return snapshot
}

// InsertMetadata stores device metadata reported by a remote node.
func (m *Manager) InsertMetadata(num uint32, metadata *wire.DeviceMetadata) {
	if m.repo == nil {
		return
	}
	m.mu.RLock()
	ctx := m.ctx
	m.mu.RUnlock()
	if err := m.repo.InsertMetadata(ctx, num, metadata); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "InsertMetadata",
			"node_num": num,
			"error":    err.Error(),
		}).Warn("Failed to store node metadata")
	}
}

// shouldPreserveExistingUser keeps known-good names when a node rebroadcasts
// the firmware default. A device that was reset back to default naming is
// indistinguishable from one that never had a name, and is preserved too.
func shouldPreserveExistingUser(existing, incoming *wire.User) bool {
	isDefaultName := defaultLongName.MatchString(incoming.LongName)
	isDefaultHW := incoming.HWModel == wire.HardwareUnset
	hasExisting := existing != nil && existing.ID != "" && existing.HWModel != wire.HardwareUnset
	return hasExisting && isDefaultName && isDefaultHW
}

// HandleReceivedUser merges a user record heard from the mesh.
func (m *Manager) HandleReceivedUser(num uint32, user *wire.User, channel uint32, manuallyVerified bool) {
	var newNode bool
	n := m.UpdateNodeInfo(num, true, 0, func(n *model.Node) {
		n.Channel = channel
		n.ManuallyVerified = manuallyVerified
		if shouldPreserveExistingUser(n.User, user) {
			n.LongName = n.User.LongName
			n.ShortName = n.User.ShortName
			return
		}

		newNode = n.IsUnknownUser() && user.HWModel != wire.HardwareUnset
		u := user.Clone()
		if n.HasPKC() && !n.KeyMatches(user.PublicKey) {
			logrus.WithFields(logrus.Fields{
				"function": "HandleReceivedUser",
				"node_num": num,
			}).Warn("Public key mismatch, keeping pinned key")
			n.PublicKey = append([]byte(nil), n.Key()...)
			u.PublicKey = nil
		} else if len(u.PublicKey) > 0 {
			n.PublicKey = append([]byte(nil), u.PublicKey...)
		}
		n.User = u
		n.LongName = u.LongName
		n.ShortName = u.ShortName
	})

	if newNode && m.notifications != nil {
		m.notifications.ShowNewNodeSeen(n)
	}
}

// HandleReceivedPosition stores a position report. defaultTimeMs stamps
// reports that carry no time. A zero position from the local node is a
// no-op update from a radio without a fix and is ignored.
func (m *Manager) HandleReceivedPosition(from, myNodeNum uint32, pos *wire.Position, defaultTimeMs int64) {
	if from == myNodeNum && pos.LatitudeI == 0 && pos.LongitudeI == 0 {
		logrus.WithFields(logrus.Fields{
			"function": "HandleReceivedPosition",
			"node_num": from,
		}).Debug("Ignoring empty position for the local node")
		return
	}
	m.UpdateNodeInfo(from, true, 0, func(n *model.Node) {
		n.SetPosition(pos, uint32(defaultTimeMs/1000))
	})
}

// HandleReceivedTelemetry stores whichever metrics block t carries.
func (m *Manager) HandleReceivedTelemetry(from uint32, t *wire.Telemetry) {
	m.UpdateNodeInfo(from, true, 0, func(n *model.Node) {
		ApplyTelemetry(n, t)
	})
}

// ApplyTelemetry stores t on n according to its metrics kind.
func ApplyTelemetry(n *model.Node, t *wire.Telemetry) {
	switch {
	case t.DeviceMetrics != nil:
		n.DeviceTelemetry = t
	case t.EnvironmentMetrics != nil:
		n.EnvironmentTelemetry = t
	case t.PowerMetrics != nil:
		n.PowerTelemetry = t
	}
}

// HandleReceivedPaxcounter stores a people-counter report.
func (m *Manager) HandleReceivedPaxcounter(from uint32, p *wire.Paxcount) {
	m.UpdateNodeInfo(from, true, 0, func(n *model.Node) { n.Paxcounter = p })
}

// UpdateNodeStatus sets the free-form status line of a node.
func (m *Manager) UpdateNodeStatus(num uint32, status string) {
	m.UpdateNodeInfo(num, true, 0, func(n *model.Node) { n.Status = status })
}

// InstallNodeInfo folds a NodeInfo from the config download into the database.
func (m *Manager) InstallNodeInfo(info *wire.NodeInfo, withBroadcast bool) {
	m.UpdateNodeInfo(info.Num, withBroadcast, 0, func(n *model.Node) {
		if info.User != nil {
			if shouldPreserveExistingUser(n.User, info.User) {
				n.LongName = n.User.LongName
				n.ShortName = n.User.ShortName
			} else {
				u := info.User.Clone()
				if u.IsLicensed {
					u.PublicKey = nil
				}
				if info.ViaMQTT {
					u.LongName += " (MQTT)"
				}
				n.User = u
				n.PublicKey = append([]byte(nil), u.PublicKey...)
				n.LongName = u.LongName
				n.ShortName = u.ShortName
			}
		}
		if info.Position != nil {
			pos := *info.Position
			n.Position = &pos
			n.Latitude = model.DegD(pos.LatitudeI)
			n.Longitude = model.DegD(pos.LongitudeI)
		}
		n.LastHeard = info.LastHeard
		if info.DeviceMetrics != nil {
			n.DeviceTelemetry = &wire.Telemetry{DeviceMetrics: info.DeviceMetrics}
		}
		n.Channel = info.Channel
		n.ViaMQTT = info.ViaMQTT
		n.HopsAway = -1
		if info.HopsAway != nil {
			n.HopsAway = int32(*info.HopsAway)
		}
		n.IsFavorite = info.IsFavorite
		n.IsIgnored = info.IsIgnored
	})
}

// RemoveByNodeNum deletes a node from both indexes.
func (m *Manager) RemoveByNodeNum(num uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.byNum[num]
	if !ok {
		return
	}
	delete(m.byNum, num)
	if m.byID[n.User.ID] == n {
		delete(m.byID, n.User.ID)
	}
}

// ToNodeID maps a node number to its user ID.
func (m *Manager) ToNodeID(num uint32) string {
	if num == model.NodeNumBroadcast {
		return model.IDBroadcast
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n, ok := m.byNum[num]; ok && n.User.ID != "" {
		return n.User.ID
	}
	return model.DefaultNodeID(num)
}

// GetMyNodeInfo combines the stored radio identity with the local node entry.
func (m *Manager) GetMyNodeInfo() *model.MyNodeInfo {
	if m.repo == nil {
		return nil
	}
	stored := m.repo.MyNodeInfo().Get()
	if stored == nil {
		return nil
	}
	mi := *stored

	m.mu.RLock()
	defer m.mu.RUnlock()
	if me, ok := m.byNum[mi.MyNodeNum]; ok {
		mi.HasGPS = me.Position != nil && me.Position.LatitudeI != 0
		if mi.Model == "" {
			mi.Model = me.User.HWModel.String()
		}
		if mi.DeviceID == "" {
			mi.DeviceID = me.User.ID
		}
	}
	return &mi
}

// GetMyID returns the user ID of the local node, or "".
func (m *Manager) GetMyID() string {
	m.mu.RLock()
	num, ok := m.myNodeNum, m.hasMyNodeNum
	m.mu.RUnlock()
	if !ok && m.repo != nil {
		if mi := m.repo.MyNodeInfo().Get(); mi != nil {
			num, ok = mi.MyNodeNum, true
		}
	}
	if !ok {
		return ""
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if n, found := m.byNum[num]; found {
		return n.User.ID
	}
	return ""
}

// Nodes returns copies of every node ordered by number.
func (m *Manager) Nodes() []*model.Node {
	m.mu.RLock()
	out := make([]*model.Node, 0, len(m.byNum))
	for _, n := range m.byNum {
		out = append(out, n.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Num < out[j].Num })
	return out
}

// NumOnline counts nodes heard within model.OnlineThreshold.
func (m *Manager) NumOnline() int {
	now := m.timeProvider.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, n := range m.byNum {
		if n.IsOnline(now) {
			count++
		}
	}
	return count
}
