package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshlink/clock"
	"github.com/opd-ai/meshlink/connection"
	"github.com/opd-ai/meshlink/flow"
	"github.com/opd-ai/meshlink/history"
	"github.com/opd-ai/meshlink/node"
	"github.com/opd-ai/meshlink/repository"
	"github.com/opd-ai/meshlink/wire"
)

// DefaultSleepGrace is added to the radio's light-sleep interval before a
// sleeping radio is declared gone.
const DefaultSleepGrace = 30 * time.Second

// PacketQueue is the transmit queue the connection manager stops on link loss.
type PacketQueue interface {
	StopPacketQueue()
}

// RemoteConfigSync is the remote administration session abandoned on link
// loss.
type RemoteConfigSync interface {
	Clear()
}

// ConnectionCommands are the outbound operations run as the link comes up.
type ConnectionCommands interface {
	ProcessQueuedPackets(ctx context.Context) error
	SendAdmin(ctx context.Context, dest, requestID uint32, wantResponse bool, msg *wire.AdminMessage) (uint32, error)
	SendPosition(ctx context.Context, pos *wire.Position, dest uint32, wantResponse bool) error
}

// ConnectionManagerOptions collects the collaborators of a ConnectionManager.
type ConnectionManagerOptions struct {
	Connection    *connection.StateHandler
	Nodes         *node.Manager
	NodeRepo      repository.NodeRepository
	RadioConfig   repository.RadioConfigRepository
	ConfigFlow    *ConfigFlowManager
	Packets       PacketQueue
	Commands      ConnectionCommands
	History       *history.Manager
	RemoteSync    RemoteConfigSync
	Location      LocationManager
	MQTT          MQTTManager
	Broadcasts    Broadcasts
	Notifications Notifications
	TimeProvider  clock.TimeProvider
	// SleepGrace defaults to DefaultSleepGrace.
	SleepGrace   time.Duration
	TransportKey string
}

// ConnectionManager turns transport link changes into the logical
// connection state and runs the work attached to each transition.
type ConnectionManager struct {
	opts ConnectionManagerOptions
	tp   clock.TimeProvider

	sleepTimer *time.Timer
	sleepGen   uint64
	telemetry  *wire.Telemetry

	// transition serializes state changes from the link watcher and the
	// sleep timer.
	transition sync.Mutex
	mu         sync.Mutex
}

// NewConnectionManager creates a manager from opts.
func NewConnectionManager(opts ConnectionManagerOptions) *ConnectionManager {
	if opts.SleepGrace <= 0 {
		opts.SleepGrace = DefaultSleepGrace
	}
	if opts.Location == nil {
		opts.Location = NopLocation{}
	}
	if opts.MQTT == nil {
		opts.MQTT = NopMQTT{}
	}
	if opts.Notifications == nil {
		opts.Notifications = LogNotifications{}
	}
	return &ConnectionManager{opts: opts, tp: clock.OrDefault(opts.TimeProvider)}
}

// Start follows the transport's link state until ctx is done.
func (m *ConnectionManager) Start(ctx context.Context, link *flow.Value[connection.State]) <-chan struct{} {
	return link.Watch(ctx, "ConnectionManager.link", func(s connection.State) {
		m.OnConnectionChanged(ctx, s)
	})
}

// OnConnectionChanged applies a transport state. Repeating the current
// state does nothing, except Connected which restarts the config download.
func (m *ConnectionManager) OnConnectionChanged(ctx context.Context, s connection.State) {
	m.transition.Lock()
	defer m.transition.Unlock()
	m.applyLocked(ctx, s)
}

func (m *ConnectionManager) applyLocked(ctx context.Context, s connection.State) {
	current := m.opts.Connection.State()
	if current == s && s != connection.Connected {
		return
	}
	m.cancelSleepTimeout()

	effective := s
	if s == connection.DeviceSleep && !m.lightSleepEnabled() {
		effective = connection.Disconnected
	}
	logrus.WithFields(logrus.Fields{
		"function":  "OnConnectionChanged",
		"reported":  s.String(),
		"effective": effective.String(),
		"current":   current.String(),
	}).Info("Radio link state changed")

	switch effective {
	case connection.Connecting:
		m.opts.Connection.SetState(connection.Connecting)
		m.broadcastConnection()
	case connection.Connected:
		m.handleConnected(ctx, current)
	case connection.DeviceSleep:
		m.handleDeviceSleep(ctx)
	case connection.Disconnected:
		m.handleDisconnected()
	}
	m.updateStatusNotification()
}

// lightSleepEnabled reports whether the radio is expected to drop the link
// while sleeping rather than going away.
func (m *ConnectionManager) lightSleepEnabled() bool {
	lc := m.localConfig()
	if lc == nil {
		return false
	}
	if lc.Power != nil && lc.Power.IsPowerSaving {
		return true
	}
	return lc.Device != nil && lc.Device.Role == wire.RoleRouter
}

func (m *ConnectionManager) handleConnected(ctx context.Context, current connection.State) {
	if current == connection.Connected || current == connection.Connecting {
		// The transport only reports changes, so a second Connected means
		// the watcher missed a drop in between.
		logrus.WithField("function", "handleConnected").Info("Radio link was re-established, stopping previous link")
		m.stopLink()
	} else {
		m.opts.Connection.SetState(connection.Connecting)
	}
	m.broadcastConnection()
	m.opts.Nodes.SetNodeDBReady(false)
	if m.opts.NodeRepo != nil {
		if err := m.opts.NodeRepo.ClearMyNodeInfo(ctx); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "handleConnected",
				"error":    err.Error(),
			}).Warn("Failed to clear stored radio identity")
		}
	}
	m.opts.ConfigFlow.Reset()
	if err := m.opts.ConfigFlow.StartConfigOnly(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleConnected",
			"error":    err.Error(),
		}).Error("Failed to start config download")
	}
}

func (m *ConnectionManager) handleDeviceSleep(ctx context.Context) {
	m.opts.Connection.SetState(connection.DeviceSleep)
	m.stopLink()

	var lsSecs uint32
	if lc := m.localConfig(); lc != nil && lc.Power != nil {
		lsSecs = lc.Power.LsSecs
	}
	timeout := time.Duration(lsSecs)*time.Second + m.opts.SleepGrace
	logrus.WithFields(logrus.Fields{
		"function": "handleDeviceSleep",
		"timeout":  timeout.String(),
	}).Info("Radio sleeping")

	m.mu.Lock()
	m.sleepGen++
	gen := m.sleepGen
	m.sleepTimer = time.AfterFunc(timeout, func() { m.sleepTimedOut(ctx, gen) })
	m.mu.Unlock()
	m.broadcastConnection()
}

// sleepTimedOut disconnects a radio that stayed asleep. A timer that fired
// while a later transition held the lock finds its generation stale.
func (m *ConnectionManager) sleepTimedOut(ctx context.Context, gen uint64) {
	m.transition.Lock()
	defer m.transition.Unlock()

	m.mu.Lock()
	stale := gen != m.sleepGen || m.sleepTimer == nil
	m.mu.Unlock()
	if stale || ctx.Err() != nil || m.opts.Connection.State() != connection.DeviceSleep {
		return
	}
	logrus.WithField("function", "sleepTimedOut").Warn("Radio did not wake up, disconnecting")
	m.applyLocked(ctx, connection.Disconnected)
}

func (m *ConnectionManager) handleDisconnected() {
	m.opts.Connection.SetState(connection.Disconnected)
	m.stopLink()
	m.opts.ConfigFlow.Reset()
	m.broadcastConnection()
}

func (m *ConnectionManager) stopLink() {
	if m.opts.Packets != nil {
		m.opts.Packets.StopPacketQueue()
	}
	m.opts.Location.Stop()
	m.opts.MQTT.Stop()
	if m.opts.RemoteSync != nil {
		m.opts.RemoteSync.Clear()
	}
}

func (m *ConnectionManager) cancelSleepTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sleepTimer != nil {
		m.sleepTimer.Stop()
		m.sleepTimer = nil
	}
}

// OnRadioConfigLoaded releases packets held while offline and sets the
// radio's clock.
func (m *ConnectionManager) OnRadioConfigLoaded(ctx context.Context) {
	if m.opts.Commands == nil {
		return
	}
	if err := m.opts.Commands.ProcessQueuedPackets(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "OnRadioConfigLoaded",
			"error":    err.Error(),
		}).Warn("Failed to send held packets")
	}
	myNodeNum, ok := m.opts.Nodes.MyNodeNum()
	if !ok {
		return
	}
	msg := &wire.AdminMessage{Kind: wire.AdminSetTimeOnly, Value: uint32(m.tp.Now().Unix())}
	if _, err := m.opts.Commands.SendAdmin(ctx, myNodeNum, 0, false, msg); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "OnRadioConfigLoaded",
			"error":    err.Error(),
		}).Warn("Failed to set radio time")
	}
}

// OnNodeDBReady starts the services that depend on a fully configured radio.
func (m *ConnectionManager) OnNodeDBReady(ctx context.Context) {
	myNodeNum, _ := m.opts.Nodes.MyNodeNum()

	var mc *wire.LocalModuleConfig
	if m.opts.RadioConfig != nil {
		mc = m.opts.RadioConfig.ModuleConfig().Get()
	}
	if mc != nil && mc.MQTT != nil {
		m.opts.MQTT.Start(ctx, mc.MQTT.Enabled, mc.MQTT.ProxyToClientEnabled)
	}
	if lc := m.localConfig(); m.opts.Commands != nil && (lc == nil || lc.Position == nil || !lc.Position.FixedPosition) {
		m.opts.Location.Start(ctx, func(pos *wire.Position) {
			if err := m.opts.Commands.SendPosition(ctx, pos, myNodeNum, false); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "OnNodeDBReady",
					"error":    err.Error(),
				}).Debug("Failed to send host position")
			}
		})
	}
	if m.opts.History != nil && mc != nil && mc.StoreForward != nil {
		if err := m.opts.History.RequestHistoryReplay(ctx, "onNodeDbReady", myNodeNum, mc.StoreForward, m.opts.TransportKey); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "OnNodeDBReady",
				"error":    err.Error(),
			}).Warn("Failed to request history replay")
		}
	}
	m.updateStatusNotification()
}

// UpdateTelemetry keeps the local node's telemetry for the status
// notification.
func (m *ConnectionManager) UpdateTelemetry(t *wire.Telemetry) {
	m.mu.Lock()
	m.telemetry = t
	m.mu.Unlock()
	m.updateStatusNotification()
}

// StatusSummary describes the connection for the status notification.
func (m *ConnectionManager) StatusSummary() string {
	switch m.opts.Connection.State() {
	case connection.Connected:
		return fmt.Sprintf("Connected (%d online)", m.opts.Nodes.NumOnline())
	case connection.Connecting:
		return "Connecting"
	case connection.DeviceSleep:
		return "Device sleeping"
	default:
		return "Disconnected"
	}
}

func (m *ConnectionManager) updateStatusNotification() {
	m.mu.Lock()
	t := m.telemetry
	m.mu.Unlock()
	m.opts.Notifications.UpdateServiceStateNotification(m.StatusSummary(), t)
}

func (m *ConnectionManager) broadcastConnection() {
	if m.opts.Broadcasts != nil {
		m.opts.Broadcasts.BroadcastConnection(m.opts.Connection.State())
	}
}

func (m *ConnectionManager) localConfig() *wire.LocalConfig {
	if m.opts.RadioConfig == nil {
		return nil
	}
	return m.opts.RadioConfig.LocalConfig().Get()
}
