// Package service is the runtime that talks to a mesh radio: it decodes
// everything the radio sends, keeps the node database and message store up
// to date, drives the post-connect configuration download and exposes the
// commands a client issues.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshlink/clock"
	"github.com/opd-ai/meshlink/command"
	"github.com/opd-ai/meshlink/configsync"
	"github.com/opd-ai/meshlink/connection"
	"github.com/opd-ai/meshlink/flow"
	"github.com/opd-ai/meshlink/history"
	"github.com/opd-ai/meshlink/limits"
	"github.com/opd-ai/meshlink/model"
	"github.com/opd-ai/meshlink/node"
	"github.com/opd-ai/meshlink/packet"
	"github.com/opd-ai/meshlink/repository"
	"github.com/opd-ai/meshlink/wire"
)

var (
	// ErrNoTransport is returned by New without a radio link.
	ErrNoTransport = errors.New("no transport configured")
	// ErrLocalNodeUnknown is returned for local commands before the radio
	// reported its node number.
	ErrLocalNodeUnknown = errors.New("local node number not known yet")
)

// Transport is a framed link to the radio.
type Transport interface {
	SendToRadio(ctx context.Context, frame []byte) error
	Frames() <-chan []byte
	State() *flow.Value[connection.State]
}

// Options configures New. Repositories and collaborators left nil get
// in-memory or no-op defaults.
type Options struct {
	Transport     Transport
	NodeRepo      repository.NodeRepository
	PacketRepo    repository.PacketRepository
	RadioConfig   repository.RadioConfigRepository
	MeshLog       repository.MeshLogRepository
	Notifications Notifications
	Location      LocationManager
	MQTT          MQTTManager
	TimeProvider  clock.TimeProvider

	ResponseTimeout time.Duration
	EarlyBufferSize int
	MeshLogSize     int
	StageDelay      time.Duration
	RetryDelay      time.Duration
	SleepGrace      time.Duration
	// TransportKey names the link for per-radio bookkeeping.
	TransportKey string
}

// Service owns every component of the runtime.
type Service struct {
	transport   Transport
	nodeRepo    repository.NodeRepository
	packetRepo  repository.PacketRepository
	radioConfig repository.RadioConfigRepository
	meshLog     repository.MeshLogRepository
	tp          clock.TimeProvider

	conn       *connection.StateHandler
	state      *ServiceState
	events     *EventBus
	nodes      *node.Manager
	packets    *packet.Handler
	commands   *command.Sender
	history    *history.Manager
	configFlow *ConfigFlowManager
	configSync *configsync.Manager
	connMgr    *ConnectionManager
	data       *DataHandler
	neighbors  *NeighborInfoHandler
	processor  *MessageProcessor
}

// New wires a Service around opts.Transport.
func New(opts Options) (*Service, error) {
	if opts.Transport == nil {
		return nil, ErrNoTransport
	}
	if opts.NodeRepo == nil {
		opts.NodeRepo = repository.NewMemoryNodes()
	}
	if opts.PacketRepo == nil {
		opts.PacketRepo = repository.NewMemoryPackets()
	}
	if opts.RadioConfig == nil {
		opts.RadioConfig = repository.NewMemoryRadioConfig()
	}
	if opts.MeshLog == nil {
		opts.MeshLog = repository.NewMemoryMeshLog(opts.MeshLogSize)
	}
	if opts.Notifications == nil {
		opts.Notifications = LogNotifications{}
	}
	tp := clock.OrDefault(opts.TimeProvider)

	s := &Service{
		transport:   opts.Transport,
		nodeRepo:    opts.NodeRepo,
		packetRepo:  opts.PacketRepo,
		radioConfig: opts.RadioConfig,
		meshLog:     opts.MeshLog,
		tp:          tp,
		conn:        connection.NewStateHandler(),
		state:       NewServiceState(),
		events:      NewEventBus(),
	}
	s.nodes = node.NewManager(opts.NodeRepo, s.events, opts.Notifications, tp)
	s.packets = packet.NewHandler(opts.Transport, s.conn, opts.ResponseTimeout)
	s.commands = command.NewSender(s.packets, s.nodes, s.conn, opts.RadioConfig, tp)
	s.history = history.NewManager(s.commands)
	s.configSync = configsync.NewManager(s.commands)

	mapper := NewDataMapper(s.nodes)
	configHandler := NewConfigHandler(opts.RadioConfig, s.state)
	s.configFlow = NewConfigFlowManager(ConfigFlowOptions{
		Nodes:       s.nodes,
		NodeRepo:    opts.NodeRepo,
		RadioConfig: opts.RadioConfig,
		Connection:  s.conn,
		Broadcasts:  s.events,
		Control:     s.packets,
		Queue:       s.packets,
		PacketIDs:   s.commands,
		StageDelay:  opts.StageDelay,
	})
	s.connMgr = NewConnectionManager(ConnectionManagerOptions{
		Connection:    s.conn,
		Nodes:         s.nodes,
		NodeRepo:      opts.NodeRepo,
		RadioConfig:   opts.RadioConfig,
		ConfigFlow:    s.configFlow,
		Packets:       s.packets,
		Commands:      s.commands,
		History:       s.history,
		RemoteSync:    s.configSync,
		Location:      opts.Location,
		MQTT:          opts.MQTT,
		Broadcasts:    s.events,
		Notifications: opts.Notifications,
		TimeProvider:  tp,
		SleepGrace:    opts.SleepGrace,
		TransportKey:  opts.TransportKey,
	})
	s.configFlow.SetHooks(s.connMgr)

	s.neighbors = NewNeighborInfoHandler(mapper, s.commands, s.commands, s.state, tp)
	s.data = NewDataHandler(DataHandlerOptions{
		Mapper:        mapper,
		Nodes:         s.nodes,
		Sender:        s.commands,
		Packets:       s.packets,
		PacketRepo:    opts.PacketRepo,
		RadioConfig:   opts.RadioConfig,
		ConfigHandler: configHandler,
		ConfigFlow:    s.configFlow,
		ConfigSync:    s.configSync,
		History:       s.history,
		Traceroute:    NewTracerouteHandler(mapper, s.commands, s.state, tp),
		Neighbors:     s.neighbors,
		Telemetry:     s.connMgr,
		Broadcasts:    s.events,
		Notifications: opts.Notifications,
		State:         s.state,
		TimeProvider:  tp,
		RetryDelay:    opts.RetryDelay,
		TransportKey:  opts.TransportKey,
	})
	fromRadio := NewFromRadioHandler(s.configFlow, configHandler, s.packets, opts.MQTT, s.state, opts.Notifications)
	s.processor = NewMessageProcessor(s.nodes, fromRadio, s.data, opts.MeshLog, opts.EarlyBufferSize, tp)
	return s, nil
}

// Run loads the cached node database, starts every subscription and feeds
// frames from the transport to the processor until ctx is done or the
// transport closes its frame channel.
func (s *Service) Run(ctx context.Context) error {
	s.nodes.Start(ctx)
	if err := s.nodes.LoadCachedNodeDB(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Run",
			"error":    err.Error(),
		}).Warn("Failed to load cached node database")
	}
	s.processor.Start(ctx)
	s.connMgr.Start(ctx, s.transport.State())

	frames := s.transport.Frames()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-frames:
			if !ok {
				logrus.WithField("function", "Run").Info("Transport closed")
				return nil
			}
			s.processor.HandleFromRadio(ctx, b)
		}
	}
}

// Events subscribes to node, message and connection events.
func (s *Service) Events() (<-chan Event, func()) { return s.events.Subscribe() }

// State exposes the user-facing status values.
func (s *Service) State() *ServiceState { return s.state }

// ConnectionState returns the logical link state.
func (s *Service) ConnectionState() connection.State { return s.conn.State() }

// ObserveConnection exposes the logical link state stream.
func (s *Service) ObserveConnection() *flow.Value[connection.State] { return s.conn.Observe() }

// SyncPhase exposes the configuration download progress.
func (s *Service) SyncPhase() *flow.Value[SyncPhase] { return s.configFlow.Phase() }

// ConfigSync exposes the remote configuration session.
func (s *Service) ConfigSync() *flow.Value[configsync.State] { return s.configSync.State() }

// Nodes returns a snapshot of the node database ordered by node number.
func (s *Service) Nodes() []*model.Node { return s.nodes.Nodes() }

// Node returns one node by user ID.
func (s *Service) Node(id string) (*model.Node, bool) { return s.nodes.NodeByID(id) }

// MyNodeInfo returns the identity of the attached radio.
func (s *Service) MyNodeInfo() *model.MyNodeInfo { return s.nodes.GetMyNodeInfo() }

// Messages returns stored messages of one conversation, or all.
func (s *Service) Messages(ctx context.Context, contactKey string) ([]*repository.Packet, error) {
	return s.packetRepo.Messages(ctx, contactKey)
}

// MeshLog returns the most recent raw frames.
func (s *Service) MeshLog(ctx context.Context, limit int) ([]*model.MeshLog, error) {
	return s.meshLog.Recent(ctx, limit)
}

// Neighbors returns the neighbors last reported by num.
func (s *Service) Neighbors(num uint32) []*wire.Neighbor { return s.neighbors.Neighbors(num) }

// SendData sends p and stores it when it is a message. Deferrable packets
// are held while the radio is away.
func (s *Service) SendData(ctx context.Context, p *model.DataPacket) error {
	if p.From == "" {
		p.From = model.IDLocal
	}
	if p.Time == 0 {
		p.Time = s.tp.Now().UnixMilli()
	}
	if err := s.commands.SendData(ctx, p); err != nil {
		return err
	}
	myNodeNum, _ := s.nodes.MyNodeNum()
	if err := s.data.RememberSent(ctx, p, myNodeNum); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "SendData",
			"packet_id": p.ID,
			"error":     err.Error(),
		}).Warn("Failed to store sent message")
	}
	return nil
}

// SendText sends a text message to a user ID or the broadcast ID and
// returns its packet ID.
func (s *Service) SendText(ctx context.Context, to string, channel uint32, text string, replyID uint32) (uint32, error) {
	p := model.NewTextPacket(to, channel, text, replyID)
	if err := s.SendData(ctx, p); err != nil {
		return 0, err
	}
	return p.ID, nil
}

// RequestConfig restarts the configuration download.
func (s *Service) RequestConfig(ctx context.Context) error {
	return s.configFlow.StartConfigOnly(ctx)
}

// RequestTraceroute starts a route discovery and returns its request ID.
// The formatted result is published on State().TracerouteResponse().
func (s *Service) RequestTraceroute(ctx context.Context, dest uint32) (uint32, error) {
	id := s.commands.GeneratePacketID()
	return id, s.commands.RequestTraceroute(ctx, id, dest)
}

// RequestNeighborInfo asks dest for its neighbor table.
func (s *Service) RequestNeighborInfo(ctx context.Context, dest uint32) (uint32, error) {
	id := s.commands.GeneratePacketID()
	return id, s.commands.RequestNeighborInfo(ctx, id, dest)
}

// RequestTelemetry asks dest for one kind of metrics.
func (s *Service) RequestTelemetry(ctx context.Context, dest uint32, kind command.TelemetryType) (uint32, error) {
	id := s.commands.GeneratePacketID()
	return id, s.commands.RequestTelemetry(ctx, id, dest, kind)
}

// SetOwner renames the node dest, or the local node when dest is zero.
func (s *Service) SetOwner(ctx context.Context, dest uint32, user *wire.User) error {
	if user == nil {
		return fmt.Errorf("set owner: %w", limits.ErrMessageEmpty)
	}
	if err := limits.ValidateOwnerNames(user.LongName, user.ShortName); err != nil {
		return fmt.Errorf("set owner: %w", err)
	}
	return s.adminWrite(ctx, dest, &wire.AdminMessage{Kind: wire.AdminSetOwner, User: user})
}

// SetConfig writes one device config section. Local writes are mirrored
// into the stored configuration.
func (s *Service) SetConfig(ctx context.Context, dest uint32, c *wire.Config) error {
	if c.IsEmpty() {
		return fmt.Errorf("set config: %w", configsync.ErrEmptySection)
	}
	if err := s.adminWrite(ctx, dest, &wire.AdminMessage{Kind: wire.AdminSetConfig, Config: c}); err != nil {
		return err
	}
	if s.isLocal(dest) {
		return s.radioConfig.SetLocalConfig(ctx, c)
	}
	return nil
}

// SetModuleConfig writes one module config section.
func (s *Service) SetModuleConfig(ctx context.Context, dest uint32, c *wire.ModuleConfig) error {
	if c.IsEmpty() {
		return fmt.Errorf("set module config: %w", configsync.ErrEmptySection)
	}
	if err := s.adminWrite(ctx, dest, &wire.AdminMessage{Kind: wire.AdminSetModuleConfig, ModuleConfig: c}); err != nil {
		return err
	}
	if s.isLocal(dest) {
		return s.radioConfig.SetLocalModuleConfig(ctx, c)
	}
	return nil
}

// SetChannel writes one channel slot.
func (s *Service) SetChannel(ctx context.Context, dest uint32, ch *wire.Channel) error {
	if err := s.adminWrite(ctx, dest, &wire.AdminMessage{Kind: wire.AdminSetChannel, Channel: ch}); err != nil {
		return err
	}
	if s.isLocal(dest) {
		return s.radioConfig.UpdateChannel(ctx, ch)
	}
	return nil
}

// RequestReboot reboots dest after secs seconds.
func (s *Service) RequestReboot(ctx context.Context, dest, secs uint32) error {
	return s.adminWrite(ctx, dest, &wire.AdminMessage{Kind: wire.AdminRebootSeconds, Value: secs})
}

// RequestShutdown powers dest off after secs seconds.
func (s *Service) RequestShutdown(ctx context.Context, dest, secs uint32) error {
	return s.adminWrite(ctx, dest, &wire.AdminMessage{Kind: wire.AdminShutdownSeconds, Value: secs})
}

// RequestFactoryReset resets dest's configuration, or everything including
// its identity keys when full is set.
func (s *Service) RequestFactoryReset(ctx context.Context, dest uint32, full bool) error {
	kind := wire.AdminFactoryResetConfig
	if full {
		kind = wire.AdminFactoryResetDevice
	}
	return s.adminWrite(ctx, dest, &wire.AdminMessage{Kind: kind, Value: 1})
}

// RequestNodeDBReset clears dest's node database.
func (s *Service) RequestNodeDBReset(ctx context.Context, dest uint32) error {
	return s.adminWrite(ctx, dest, &wire.AdminMessage{Kind: wire.AdminNodeDBReset, Value: 1})
}

// RemoveNode deletes num from the local radio and from the local database.
func (s *Service) RemoveNode(ctx context.Context, num uint32) error {
	if err := s.adminWrite(ctx, 0, &wire.AdminMessage{Kind: wire.AdminRemoveByNodeNum, Value: num}); err != nil {
		return err
	}
	s.nodes.RemoveByNodeNum(num)
	return s.nodeRepo.DeleteNode(ctx, num)
}

// StartRemoteConfigSync downloads the configuration of dest. Progress is
// published on ConfigSync().
func (s *Service) StartRemoteConfigSync(ctx context.Context, dest uint32, sections ...configsync.Section) error {
	return s.configSync.Start(ctx, dest, sections...)
}

// ExportProfile renders the local radio's owner, configuration and
// channels as YAML.
func (s *Service) ExportProfile(ctx context.Context) ([]byte, error) {
	var owner *wire.User
	if myNodeNum, ok := s.nodes.MyNodeNum(); ok {
		if n, found := s.nodes.NodeByNum(myNodeNum); found {
			owner = n.User
		}
	}
	p := BuildProfile(owner, s.radioConfig.LocalConfig().Get(), s.radioConfig.ModuleConfig().Get(),
		s.radioConfig.ChannelSet().Get())
	return MarshalProfile(p)
}

// ImportProfile applies a YAML profile to the local radio inside one
// settings transaction.
func (s *Service) ImportProfile(ctx context.Context, b []byte) error {
	p, err := UnmarshalProfile(b)
	if err != nil {
		return err
	}
	msgs, err := p.AdminMessages()
	if err != nil {
		return fmt.Errorf("import profile: %w", err)
	}

	writes := make([]*wire.AdminMessage, 0, len(msgs)+2)
	writes = append(writes, &wire.AdminMessage{Kind: wire.AdminBeginEditSettings, Value: 1})
	writes = append(writes, msgs...)
	writes = append(writes, &wire.AdminMessage{Kind: wire.AdminCommitEditSettings, Value: 1})
	for _, msg := range writes {
		if err := s.adminWrite(ctx, 0, msg); err != nil {
			return fmt.Errorf("import profile: %w", err)
		}
	}
	logrus.WithFields(logrus.Fields{
		"function": "ImportProfile",
		"writes":   len(msgs),
	}).Info("Profile applied")
	return nil
}

func (s *Service) isLocal(dest uint32) bool {
	if dest == 0 {
		return true
	}
	myNodeNum, ok := s.nodes.MyNodeNum()
	return ok && dest == myNodeNum
}

// adminWrite sends a setting to dest. Writes to remote nodes go through the
// config-sync session so their acknowledgement is tracked.
func (s *Service) adminWrite(ctx context.Context, dest uint32, msg *wire.AdminMessage) error {
	if s.isLocal(dest) {
		myNodeNum, ok := s.nodes.MyNodeNum()
		if !ok {
			return ErrLocalNodeUnknown
		}
		_, err := s.commands.SendAdmin(ctx, myNodeNum, 0, false, msg)
		return err
	}
	return s.configSync.Apply(ctx, dest, msg)
}
