package service

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshlink/connection"
	"github.com/opd-ai/meshlink/flow"
	"github.com/opd-ai/meshlink/model"
	"github.com/opd-ai/meshlink/node"
	"github.com/opd-ai/meshlink/repository"
	"github.com/opd-ai/meshlink/wire"
)

const (
	// ConfigOnlyNonce requests the radio's identity and configuration
	// without the node database.
	ConfigOnlyNonce uint32 = 69420
	// NodeInfoNonce requests the node database alone.
	NodeInfoNonce uint32 = 69421

	// DefaultStageDelay separates the two download stages.
	DefaultStageDelay = 100 * time.Millisecond

	defaultMessageTimeoutMsec = 300000
)

// SyncPhase is the progress of the post-connect configuration download.
type SyncPhase int

const (
	PhaseIdle SyncPhase = iota
	PhaseAwaitingConfig
	PhaseAwaitingNodeInfo
	PhaseComplete
)

func (p SyncPhase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseAwaitingConfig:
		return "AwaitingConfig"
	case PhaseAwaitingNodeInfo:
		return "AwaitingNodeInfo"
	case PhaseComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// ControlSender writes control frames that bypass the packet queue.
type ControlSender interface {
	SendToRadio(ctx context.Context, msg *wire.ToRadio) error
}

// QueueDrainer flushes packets held while the link was coming up.
type QueueDrainer interface {
	ProcessQueuedPackets(ctx context.Context) error
}

// PacketIDSource exposes the sender's packet ID counter.
type PacketIDSource interface {
	CurrentPacketID() uint64
}

// ConnectionHooks are the steps the connection manager runs as the
// download progresses.
type ConnectionHooks interface {
	OnRadioConfigLoaded(ctx context.Context)
	OnNodeDBReady(ctx context.Context)
}

// ConfigFlowManager drives the two-stage configuration download: first
// the radio's identity and configuration, then its node database.
type ConfigFlowManager struct {
	nodes       *node.Manager
	nodeRepo    repository.NodeRepository
	radioConfig repository.RadioConfigRepository
	conn        *connection.StateHandler
	broadcasts  Broadcasts
	control     ControlSender
	queue       QueueDrainer
	packetIDs   PacketIDSource
	hooks       ConnectionHooks
	stageDelay  time.Duration
	phase       *flow.Value[SyncPhase]

	newNodes    []*wire.NodeInfo
	rawMyInfo   *wire.MyNodeInfo
	newMyInfo   *model.MyNodeInfo
	myInfo      *model.MyNodeInfo
	stageCancel context.CancelFunc

	mu sync.Mutex
}

// ConfigFlowOptions collects the collaborators of a ConfigFlowManager.
type ConfigFlowOptions struct {
	Nodes       *node.Manager
	NodeRepo    repository.NodeRepository
	RadioConfig repository.RadioConfigRepository
	Connection  *connection.StateHandler
	Broadcasts  Broadcasts
	Control     ControlSender
	Queue       QueueDrainer
	PacketIDs   PacketIDSource
	// StageDelay defaults to DefaultStageDelay; a negative value disables it.
	StageDelay time.Duration
}

// NewConfigFlowManager creates a flow in PhaseIdle. Hooks must be set with
// SetHooks before the first download completes.
func NewConfigFlowManager(opts ConfigFlowOptions) *ConfigFlowManager {
	delay := opts.StageDelay
	switch {
	case delay == 0:
		delay = DefaultStageDelay
	case delay < 0:
		delay = 0
	}
	return &ConfigFlowManager{
		nodes:       opts.Nodes,
		nodeRepo:    opts.NodeRepo,
		radioConfig: opts.RadioConfig,
		conn:        opts.Connection,
		broadcasts:  opts.Broadcasts,
		control:     opts.Control,
		queue:       opts.Queue,
		packetIDs:   opts.PacketIDs,
		stageDelay:  delay,
		phase:       flow.NewComparable(PhaseIdle),
	}
}

// SetHooks installs the connection manager callbacks.
func (f *ConfigFlowManager) SetHooks(h ConnectionHooks) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks = h
}

// Phase publishes the download progress.
func (f *ConfigFlowManager) Phase() *flow.Value[SyncPhase] { return f.phase }

// NewNodeCount is the number of NodeInfos buffered in the current download.
func (f *ConfigFlowManager) NewNodeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.newNodes)
}

// MyNodeInfo returns the identity committed by the last config stage.
func (f *ConfigFlowManager) MyNodeInfo() *model.MyNodeInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.myInfo == nil {
		return nil
	}
	mi := *f.myInfo
	return &mi
}

// StartConfigOnly asks the radio for its identity and configuration.
func (f *ConfigFlowManager) StartConfigOnly(ctx context.Context) error {
	f.phase.Set(PhaseAwaitingConfig)
	return f.wantConfig(ctx, ConfigOnlyNonce)
}

// StartNodeInfoOnly asks the radio for its node database.
func (f *ConfigFlowManager) StartNodeInfoOnly(ctx context.Context) error {
	f.phase.Set(PhaseAwaitingNodeInfo)
	return f.wantConfig(ctx, NodeInfoNonce)
}

func (f *ConfigFlowManager) wantConfig(ctx context.Context, nonce uint32) error {
	logrus.WithFields(logrus.Fields{
		"function": "wantConfig",
		"nonce":    nonce,
	}).Info("Requesting config from radio")
	return f.control.SendToRadio(ctx, &wire.ToRadio{Variant: wire.WantConfigID(nonce)})
}

// Reset abandons a download in progress.
func (f *ConfigFlowManager) Reset() {
	f.mu.Lock()
	f.newNodes = nil
	cancel := f.stageCancel
	f.stageCancel = nil
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	f.phase.Set(PhaseIdle)
}

// HandleConfigComplete finishes the stage named by id. Unknown IDs are
// logged and ignored.
func (f *ConfigFlowManager) HandleConfigComplete(ctx context.Context, id uint32) {
	switch id {
	case ConfigOnlyNonce:
		f.handleConfigOnlyComplete(ctx)
	case NodeInfoNonce:
		f.handleNodeInfoComplete(ctx)
	default:
		logrus.WithFields(logrus.Fields{
			"function": "HandleConfigComplete",
			"id":       id,
		}).Warn("Config complete id mismatch")
	}
}

func (f *ConfigFlowManager) handleConfigOnlyComplete(ctx context.Context) {
	f.mu.Lock()
	committed := f.newMyInfo != nil
	if committed {
		f.myInfo = f.newMyInfo
	}
	hooks := f.hooks
	if f.stageCancel != nil {
		f.stageCancel()
	}
	stageCtx, cancel := context.WithCancel(ctx)
	f.stageCancel = cancel
	f.mu.Unlock()

	if !committed {
		logrus.WithField("function", "handleConfigOnlyComplete").Error("Did not receive a valid config, MyNodeInfo missing")
	} else {
		logrus.WithField("function", "handleConfigOnlyComplete").Info("Config-only stage complete")
		if hooks != nil {
			hooks.OnRadioConfigLoaded(ctx)
		}
	}

	go f.runNodeInfoStage(stageCtx)
}

// runNodeInfoStage sends a heartbeat between the two stages and then
// requests the node database.
func (f *ConfigFlowManager) runNodeInfoStage(ctx context.Context) {
	if !sleepCtx(ctx, f.stageDelay) {
		return
	}
	if err := f.control.SendToRadio(ctx, &wire.ToRadio{Variant: &wire.Heartbeat{}}); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "runNodeInfoStage",
			"error":    err.Error(),
		}).Warn("Failed to send heartbeat, proceeding with node-info stage")
	}
	if !sleepCtx(ctx, f.stageDelay) {
		return
	}
	if err := f.StartNodeInfoOnly(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "runNodeInfoStage",
			"error":    err.Error(),
		}).Error("Failed to request node database")
	}
}

func (f *ConfigFlowManager) handleNodeInfoComplete(ctx context.Context) {
	f.mu.Lock()
	infos := f.newNodes
	f.newNodes = nil
	myInfo := f.myInfo
	hooks := f.hooks
	f.mu.Unlock()

	entities := make([]*model.Node, 0, len(infos))
	for _, info := range infos {
		f.nodes.InstallNodeInfo(info, false)
		if n, ok := f.nodes.NodeByNum(info.Num); ok {
			entities = append(entities, n)
		}
	}
	logrus.WithFields(logrus.Fields{
		"function": "handleNodeInfoComplete",
		"nodes":    len(entities),
	}).Info("Node-info stage complete")

	if myInfo != nil && f.nodeRepo != nil {
		if err := f.nodeRepo.InstallConfig(ctx, myInfo, entities); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "handleNodeInfoComplete",
				"error":    err.Error(),
			}).Error("Failed to persist node database")
		}
	}

	f.nodes.SetNodeDBReady(true)
	f.conn.SetState(connection.Connected)
	if f.broadcasts != nil {
		f.broadcasts.BroadcastConnection(connection.Connected)
	}
	if f.queue != nil {
		if err := f.queue.ProcessQueuedPackets(ctx); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "handleNodeInfoComplete",
				"error":    err.Error(),
			}).Warn("Failed to flush packet queue")
		}
	}
	f.phase.Set(PhaseComplete)
	if hooks != nil {
		hooks.OnNodeDBReady(ctx)
	}
}

// HandleMyInfo records the radio's identity and clears the stored
// configuration ahead of the fresh download.
func (f *ConfigFlowManager) HandleMyInfo(ctx context.Context, mi *wire.MyNodeInfo) {
	logrus.WithFields(logrus.Fields{
		"function":    "HandleMyInfo",
		"my_node_num": mi.MyNodeNum,
	}).Info("MyNodeInfo received")

	f.mu.Lock()
	f.rawMyInfo = mi
	f.mu.Unlock()
	f.nodes.SetMyNodeNum(mi.MyNodeNum)
	f.regenMyNodeInfo(ctx, nil)

	if f.radioConfig == nil {
		return
	}
	for _, clearFn := range []func(context.Context) error{
		f.radioConfig.ClearChannelSet,
		f.radioConfig.ClearLocalConfig,
		f.radioConfig.ClearLocalModuleConfig,
	} {
		if err := clearFn(ctx); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "HandleMyInfo",
				"error":    err.Error(),
			}).Warn("Failed to clear stored config")
		}
	}
}

// HandleLocalMetadata completes the radio's identity with its metadata.
func (f *ConfigFlowManager) HandleLocalMetadata(ctx context.Context, md *wire.DeviceMetadata) {
	logrus.WithField("function", "HandleLocalMetadata").Info("Local metadata received")
	f.regenMyNodeInfo(ctx, md)
}

// HandleNodeInfo buffers a node until the node-info stage completes.
func (f *ConfigFlowManager) HandleNodeInfo(info *wire.NodeInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.newNodes = append(f.newNodes, info)
}

func (f *ConfigFlowManager) regenMyNodeInfo(ctx context.Context, md *wire.DeviceMetadata) {
	f.mu.Lock()
	raw := f.rawMyInfo
	f.mu.Unlock()
	if raw == nil {
		return
	}

	mi := &model.MyNodeInfo{
		MyNodeNum:          raw.MyNodeNum,
		MessageTimeoutMsec: defaultMessageTimeoutMsec,
		MinAppVersion:      raw.MinAppVersion,
		MaxChannels:        wire.MaxChannels,
		DeviceID:           string(raw.DeviceID),
		PioEnv:             raw.PioEnv,
	}
	if f.packetIDs != nil {
		mi.CurrentPacketID = f.packetIDs.CurrentPacketID() & 0xffffffff
	}
	if md != nil {
		mi.Model = hardwareModelName(md.HWModel)
		mi.FirmwareVersion = md.FirmwareVersion
		mi.HasWifi = md.HasWifi
		if *md != (wire.DeviceMetadata{}) && f.nodeRepo != nil {
			if err := f.nodeRepo.InsertMetadata(ctx, raw.MyNodeNum, md); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "regenMyNodeInfo",
					"error":    err.Error(),
				}).Warn("Failed to store local metadata")
			}
		}
	}

	f.mu.Lock()
	f.newMyInfo = mi
	f.mu.Unlock()
}

var versionSeparator = regexp.MustCompile(`(\d)P(\d)`)

// hardwareModelName turns TBEAM_V0P7 into tbeam-v0.7.
func hardwareModelName(hw wire.HardwareModel) string {
	if hw == wire.HardwareUnset {
		return ""
	}
	name := versionSeparator.ReplaceAllString(hw.String(), "$1.$2")
	return strings.ToLower(strings.ReplaceAll(name, "_", "-"))
}

// sleepCtx waits for d and reports whether ctx is still live.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
