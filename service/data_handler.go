package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshlink/clock"
	"github.com/opd-ai/meshlink/configsync"
	"github.com/opd-ai/meshlink/history"
	"github.com/opd-ai/meshlink/model"
	"github.com/opd-ai/meshlink/node"
	"github.com/opd-ai/meshlink/repository"
	"github.com/opd-ai/meshlink/wire"
)

const (
	// DefaultRetryDelay is the pause before a message that hit
	// MAX_RETRANSMIT is sent again.
	DefaultRetryDelay = 5 * time.Second
	// MaxRetries bounds automatic resends of one message.
	MaxRetries = 5

	batteryCooldown       = 1500 * time.Second
	batteryLowThreshold   = 20
	batteryCriticalLevel  = 5
	historySourceResponse = "router_history"
)

// CommandSender is the part of the command sender the data handler needs.
type CommandSender interface {
	GeneratePacketID() uint32
	SendData(ctx context.Context, p *model.DataPacket) error
	SetSessionPasskey(key []byte)
}

// TelemetryListener receives the local node's own telemetry.
type TelemetryListener interface {
	UpdateTelemetry(t *wire.Telemetry)
}

// DataHandlerOptions collects the collaborators of a DataHandler.
type DataHandlerOptions struct {
	Mapper        *DataMapper
	Nodes         *node.Manager
	Sender        CommandSender
	Packets       QueueStatusHandler
	PacketRepo    repository.PacketRepository
	RadioConfig   repository.RadioConfigRepository
	ConfigHandler *ConfigHandler
	ConfigFlow    *ConfigFlowManager
	ConfigSync    *configsync.Manager
	History       *history.Manager
	Traceroute    *TracerouteHandler
	Neighbors     *NeighborInfoHandler
	Telemetry     TelemetryListener
	Broadcasts    Broadcasts
	Notifications Notifications
	State         *ServiceState
	TimeProvider  clock.TimeProvider
	// RetryDelay defaults to DefaultRetryDelay; a negative value disables it.
	RetryDelay time.Duration
	// TransportKey identifies the radio link for store-and-forward bookkeeping.
	TransportKey string
}

// DataHandler interprets decoded packets by port number: it stores
// messages, updates nodes and settles outstanding requests.
type DataHandler struct {
	opts       DataHandlerOptions
	tp         clock.TimeProvider
	retryDelay time.Duration
	// batteryShown holds the last low-battery notification per node.
	batteryShown map[uint32]time.Time

	mu sync.Mutex
}

// NewDataHandler creates a handler from opts.
func NewDataHandler(opts DataHandlerOptions) *DataHandler {
	delay := opts.RetryDelay
	switch {
	case delay == 0:
		delay = DefaultRetryDelay
	case delay < 0:
		delay = 0
	}
	if opts.Notifications == nil {
		opts.Notifications = LogNotifications{}
	}
	return &DataHandler{
		opts:         opts,
		tp:           clock.OrDefault(opts.TimeProvider),
		retryDelay:   delay,
		batteryShown: make(map[uint32]time.Time),
	}
}

// HandleReceivedData processes one decoded packet. Packets the radio could
// not decode are ignored.
func (h *DataHandler) HandleReceivedData(ctx context.Context, p *wire.MeshPacket, myNodeNum uint32) {
	dp := h.opts.Mapper.ToDataPacket(p)
	if dp == nil {
		return
	}
	fromUs := p.From == myNodeNum
	dp.Status = model.StatusReceived
	broadcast := !fromUs

	var err error
	switch p.Decoded.PortNum {
	case wire.PortTextMessage:
		if dp.ReplyID != 0 && dp.Emoji != 0 {
			err = h.rememberReaction(ctx, p)
		} else {
			err = h.rememberDataPacket(ctx, dp, myNodeNum, true)
		}
	case wire.PortAlert:
		err = h.rememberDataPacket(ctx, dp, myNodeNum, true)
	case wire.PortWaypoint:
		err = h.handleWaypoint(ctx, p, dp, myNodeNum)
	case wire.PortPosition:
		err = h.handlePosition(p, dp, myNodeNum)
	case wire.PortNodeInfo:
		if !fromUs {
			err = h.handleNodeInfo(p)
		}
	case wire.PortTelemetry:
		err = h.handleTelemetry(p, dp, myNodeNum)
	case wire.PortTraceroute:
		broadcast = false
		if h.opts.Traceroute != nil {
			_, err = h.opts.Traceroute.HandleTraceroute(p)
		}
	case wire.PortRouting:
		broadcast = true
		err = h.handleRouting(ctx, p, dp)
	case wire.PortPaxcounter:
		broadcast = false
		var pax wire.Paxcount
		if err = pax.Unmarshal(p.Decoded.Payload); err == nil {
			h.opts.Nodes.HandleReceivedPaxcounter(p.From, &pax)
		}
	case wire.PortStoreForward:
		broadcast = false
		err = h.handleStoreAndForward(ctx, p, dp, myNodeNum)
	case wire.PortStoreForwardPP:
		broadcast = false
		err = h.handleSFPP(ctx, p, myNodeNum)
	case wire.PortAdmin:
		broadcast = false
		err = h.handleAdmin(ctx, p, myNodeNum)
	case wire.PortNeighborInfo:
		broadcast = true
		if h.opts.Neighbors != nil {
			err = h.opts.Neighbors.HandleNeighborInfo(p, myNodeNum)
		}
	case wire.PortRangeTest, wire.PortDetectionSensor:
		broadcast = false
		text := dp.Clone()
		text.DataType = wire.PortTextMessage
		err = h.rememberDataPacket(ctx, text, myNodeNum, true)
	}

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "HandleReceivedData",
			"packet_id": p.ID,
			"port":      p.Decoded.PortNum.String(),
			"error":     err.Error(),
		}).Warn("Failed to handle received data")
	}

	if broadcast && h.opts.Broadcasts != nil {
		h.opts.Broadcasts.BroadcastReceivedData(dp)
	}
}

func (h *DataHandler) handleWaypoint(ctx context.Context, p *wire.MeshPacket, dp *model.DataPacket, myNodeNum uint32) error {
	var wp wire.Waypoint
	if err := wp.Unmarshal(p.Decoded.Payload); err != nil {
		return fmt.Errorf("decode waypoint: %w", err)
	}
	if wp.LockedTo != 0 && wp.LockedTo != p.From {
		return nil
	}
	current := wp.Expire > uint32(h.tp.Now().Unix())
	return h.rememberDataPacket(ctx, dp, myNodeNum, current)
}

func (h *DataHandler) handlePosition(p *wire.MeshPacket, dp *model.DataPacket, myNodeNum uint32) error {
	var pos wire.Position
	if err := pos.Unmarshal(p.Decoded.Payload); err != nil {
		return fmt.Errorf("decode position: %w", err)
	}
	h.opts.Nodes.HandleReceivedPosition(p.From, myNodeNum, &pos, dp.Time)
	return nil
}

func (h *DataHandler) handleNodeInfo(p *wire.MeshPacket) error {
	var u wire.User
	if err := u.Unmarshal(p.Decoded.Payload); err != nil {
		return fmt.Errorf("decode user: %w", err)
	}
	if u.IsLicensed {
		u.PublicKey = nil
	}
	if p.ViaMQTT {
		u.LongName += " (MQTT)"
	}
	h.opts.Nodes.HandleReceivedUser(p.From, &u, p.Channel, false)
	return nil
}

func (h *DataHandler) handleTelemetry(p *wire.MeshPacket, dp *model.DataPacket, myNodeNum uint32) error {
	var t wire.Telemetry
	if err := t.Unmarshal(p.Decoded.Payload); err != nil {
		return fmt.Errorf("decode telemetry: %w", err)
	}
	if t.Time == 0 {
		t.Time = uint32(dp.Time / 1000)
	}
	isRemote := p.From != myNodeNum
	if !isRemote && h.opts.Telemetry != nil {
		h.opts.Telemetry.UpdateTelemetry(&t)
	}

	var low, recovered bool
	n := h.opts.Nodes.UpdateNodeInfo(p.From, true, 0, func(n *model.Node) {
		node.ApplyTelemetry(n, &t)
		dm := t.DeviceMetrics
		if dm == nil || (isRemote && !n.IsFavorite) {
			return
		}
		if dm.Voltage > 0 && dm.BatteryLevel <= batteryLowThreshold {
			low = true
		} else {
			recovered = true
		}
	})

	switch {
	case low && h.shouldShowBatteryNotification(p.From, t.DeviceMetrics.BatteryLevel, isRemote):
		h.opts.Notifications.ShowOrUpdateLowBatteryNotification(n, isRemote)
	case recovered:
		h.mu.Lock()
		delete(h.batteryShown, p.From)
		h.mu.Unlock()
		h.opts.Notifications.CancelLowBatteryNotification(n)
	}
	return nil
}

// shouldShowBatteryNotification applies the per-node cooldown. A critical
// level always notifies; otherwise the local node notifies on the first
// low reading and every five percent, remote favorites on every reading
// outside the cooldown.
func (h *DataHandler) shouldShowBatteryNotification(num, level uint32, isRemote bool) bool {
	now := h.tp.Now()
	h.mu.Lock()
	defer h.mu.Unlock()

	show := false
	switch {
	case level <= batteryCriticalLevel:
		show = true
	case h.batteryShown[num].IsZero() || now.Sub(h.batteryShown[num]) >= batteryCooldown:
		show = isRemote || level == batteryLowThreshold || level%5 == 0
	}
	if show {
		h.batteryShown[num] = now
	}
	return show
}

func (h *DataHandler) handleRouting(ctx context.Context, p *wire.MeshPacket, dp *model.DataPacket) error {
	if h.opts.ConfigSync != nil {
		h.opts.ConfigSync.HandleResponse(ctx, p)
	}
	var r wire.Routing
	if err := r.Unmarshal(p.Decoded.Payload); err != nil {
		return fmt.Errorf("decode routing: %w", err)
	}
	if r.ErrorReason == wire.RoutingDutyCycleLimit && h.opts.State != nil {
		h.opts.State.SetErrorMessage("Duty cycle limit reached, message not sent")
	}
	requestID := p.Decoded.RequestID
	h.handleAckNak(ctx, requestID, h.opts.Mapper.ToNodeID(p.From), r.ErrorReason, dp.RelayNode)
	if h.opts.Packets != nil {
		h.opts.Packets.RemoveResponse(requestID, true)
	}
	return nil
}

// handleAckNak settles the delivery status of the message or reaction the
// routing packet answers. Local messages that ran out of retransmissions
// are resent under a fresh packet ID.
func (h *DataHandler) handleAckNak(ctx context.Context, requestID uint32, fromID string, reason wire.RoutingError, relayNode uint32) {
	pkt, err := h.opts.PacketRepo.PacketByID(ctx, requestID)
	if err != nil {
		pkt = nil
	}
	reaction, err := h.opts.PacketRepo.ReactionByPacketID(ctx, requestID)
	if err != nil {
		reaction = nil
	}

	isAck := reason == wire.RoutingNone
	maxRetransmit := reason == wire.RoutingMaxRetransmit
	log := logrus.WithFields(logrus.Fields{
		"function":   "handleAckNak",
		"request_id": requestID,
		"reason":     reason.String(),
	})

	if maxRetransmit && pkt != nil && pkt.Data != nil && pkt.PortNum == wire.PortTextMessage &&
		pkt.Data.From == model.IDLocal && pkt.Data.RetryCount < MaxRetries {
		h.retryPacket(ctx, pkt)
		log.Info("Retrying message after MAX_RETRANSMIT")
		return
	}
	if maxRetransmit && reaction != nil && reaction.UserID == model.IDLocal &&
		reaction.RetryCount < MaxRetries && reaction.To != "" {
		h.retryReaction(ctx, reaction)
		log.Info("Retrying reaction after MAX_RETRANSMIT")
		return
	}

	status := model.StatusError
	switch {
	case isAck && ((pkt != nil && pkt.Data != nil && fromID == pkt.Data.To) || (reaction != nil && fromID == reaction.To)):
		status = model.StatusReceived
	case isAck:
		status = model.StatusDelivered
	}

	if pkt != nil && pkt.Data != nil && pkt.Data.Status != model.StatusReceived {
		pkt.Data.Status = status
		pkt.RoutingError = reason
		if isAck {
			pkt.Data.Relays++
		}
		pkt.Data.RelayNode = relayNode
		if err := h.opts.PacketRepo.Update(ctx, pkt); err != nil {
			log.WithField("error", err.Error()).Warn("Failed to update message status")
		}
	}
	if reaction != nil && reaction.Status != model.StatusReceived {
		reaction.Status = status
		reaction.RoutingError = reason
		if isAck {
			reaction.Relays++
		}
		reaction.RelayNode = relayNode
		if err := h.opts.PacketRepo.UpdateReaction(ctx, reaction); err != nil {
			log.WithField("error", err.Error()).Warn("Failed to update reaction status")
		}
	}
	if h.opts.Broadcasts != nil {
		h.opts.Broadcasts.BroadcastMessageStatus(requestID, status)
	}
}

func (h *DataHandler) retryPacket(ctx context.Context, pkt *repository.Packet) {
	newID := h.opts.Sender.GeneratePacketID()
	data := pkt.Data.Clone()
	data.ID = newID
	data.Status = model.StatusQueued
	data.RetryCount++
	data.RelayNode = 0

	updated := pkt.Clone()
	updated.PacketID = newID
	updated.Data = data
	updated.RoutingError = wire.RoutingNone
	if err := h.opts.PacketRepo.Update(ctx, updated); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "retryPacket",
			"error":    err.Error(),
		}).Warn("Failed to store retried message")
	}
	if h.opts.Broadcasts != nil {
		h.opts.Broadcasts.BroadcastMessageStatus(pkt.PacketID, model.StatusQueued)
	}
	go h.resend(ctx, data.Clone())
}

func (h *DataHandler) retryReaction(ctx context.Context, reaction *model.Reaction) {
	newID := h.opts.Sender.GeneratePacketID()
	var emoji uint32
	for _, r := range reaction.Emoji {
		emoji = uint32(r)
		break
	}
	data := &model.DataPacket{
		To:         reaction.To,
		From:       model.IDLocal,
		Bytes:      []byte(reaction.Emoji),
		DataType:   wire.PortTextMessage,
		Time:       h.tp.Now().UnixMilli(),
		ID:         newID,
		Status:     model.StatusQueued,
		Channel:    reaction.Channel,
		WantAck:    true,
		ReplyID:    reaction.ReplyID,
		Emoji:      emoji,
		RetryCount: reaction.RetryCount + 1,
	}

	updated := *reaction
	updated.PacketID = newID
	updated.Status = model.StatusQueued
	updated.RetryCount++
	updated.RelayNode = 0
	updated.RoutingError = wire.RoutingNone
	if err := h.opts.PacketRepo.UpdateReaction(ctx, &updated); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "retryReaction",
			"error":    err.Error(),
		}).Warn("Failed to store retried reaction")
	}
	go h.resend(ctx, data)
}

func (h *DataHandler) resend(ctx context.Context, data *model.DataPacket) {
	if !sleepCtx(ctx, h.retryDelay) {
		return
	}
	if err := h.opts.Sender.SendData(ctx, data); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "resend",
			"packet_id": data.ID,
			"error":     err.Error(),
		}).Warn("Failed to resend message")
	}
}

func (h *DataHandler) handleStoreAndForward(ctx context.Context, p *wire.MeshPacket, dp *model.DataPacket, myNodeNum uint32) error {
	var sf wire.StoreAndForward
	if err := sf.Unmarshal(p.Decoded.Payload); err != nil {
		return fmt.Errorf("decode store and forward: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "handleStoreAndForward",
		"from":     p.From,
		"rr":       uint32(sf.RR),
	}).Debug("Store and forward message received")

	asText := func(text string) *model.DataPacket {
		c := dp.Clone()
		c.DataType = wire.PortTextMessage
		c.Bytes = []byte(text)
		return c
	}

	switch {
	case sf.Stats != nil:
		s := sf.Stats
		text := fmt.Sprintf("Total messages: %d\nSaved messages: %d\nMax messages: %d\nUptime: %d s\nRequests: %d\nHistory requests: %d\nHeartbeat: %t\nReturn max: %d\nReturn window: %d min",
			s.MessagesTotal, s.MessagesSaved, s.MessagesMax, s.UpTime, s.Requests, s.RequestsHistory,
			s.Heartbeat, s.ReturnMax, s.ReturnWindow)
		return h.rememberDataPacket(ctx, asText(text), myNodeNum, true)
	case sf.History != nil:
		hist := sf.History
		text := fmt.Sprintf("Total messages: %d\nHistory window: %d min\nLast request: %d",
			hist.HistoryMessages, hist.Window/60000, hist.LastRequest)
		err := h.rememberDataPacket(ctx, asText(text), myNodeNum, true)
		if h.opts.History != nil {
			h.opts.History.UpdateStoreForwardLastRequest(historySourceResponse, hist.LastRequest, h.opts.TransportKey)
		}
		return err
	case sf.Heartbeat != nil:
		if h.opts.History != nil {
			h.opts.History.SetServer(p.From)
		}
	case len(sf.Text) > 0:
		c := dp.Clone()
		if sf.RR == wire.SFRouterTextBroadcast {
			c.To = model.IDBroadcast
		}
		c.DataType = wire.PortTextMessage
		c.Bytes = append([]byte(nil), sf.Text...)
		return h.rememberDataPacket(ctx, c, myNodeNum, true)
	}
	return nil
}

func (h *DataHandler) handleSFPP(ctx context.Context, p *wire.MeshPacket, myNodeNum uint32) error {
	var sf wire.StoreForwardPlusPlus
	if err := sf.Unmarshal(p.Decoded.Payload); err != nil {
		return fmt.Errorf("decode sfpp: %w", err)
	}
	if sf.Type != wire.SFPPLinkProvide {
		return nil
	}
	status := model.StatusSFPPConfirmed
	if len(sf.CommitHash) == 0 {
		status = model.StatusSFPPRouting
	}
	logrus.WithFields(logrus.Fields{
		"function":  "handleSFPP",
		"packet_id": sf.EncapsulatedID,
		"status":    status.String(),
	}).Debug("SFPP link provided")
	return h.opts.PacketRepo.UpdateSFPPStatus(ctx, sf.EncapsulatedID, sf.EncapsulatedFrom, sf.EncapsulatedTo,
		sf.MessageHash, status, sf.EncapsulatedRxTime, myNodeNum)
}

func (h *DataHandler) handleAdmin(ctx context.Context, p *wire.MeshPacket, myNodeNum uint32) error {
	var a wire.AdminMessage
	if err := a.Unmarshal(p.Decoded.Payload); err != nil {
		return fmt.Errorf("decode admin: %w", err)
	}
	if h.opts.Sender != nil {
		h.opts.Sender.SetSessionPasskey(a.SessionPasskey)
	}
	if h.opts.ConfigSync != nil {
		h.opts.ConfigSync.HandleResponse(ctx, p)
	}

	fromLocal := p.From == myNodeNum
	switch a.Kind {
	case wire.AdminGetConfigResponse:
		if fromLocal && h.opts.ConfigHandler != nil {
			h.opts.ConfigHandler.HandleDeviceConfig(ctx, a.Config)
		}
	case wire.AdminGetModuleConfigResponse:
		if fromLocal && h.opts.ConfigHandler != nil {
			h.opts.ConfigHandler.HandleModuleConfig(ctx, a.ModuleConfig)
		}
	case wire.AdminGetChannelResponse:
		if fromLocal && h.opts.ConfigHandler != nil {
			h.opts.ConfigHandler.HandleChannel(ctx, a.Channel)
		}
	case wire.AdminGetDeviceMetadataResp:
		if a.Metadata == nil {
			return nil
		}
		if fromLocal && h.opts.ConfigFlow != nil {
			h.opts.ConfigFlow.HandleLocalMetadata(ctx, a.Metadata)
		} else {
			h.opts.Nodes.InsertMetadata(p.From, a.Metadata)
		}
	}
	return nil
}

// contactKey names the conversation a packet belongs to: the channel index
// followed by the peer, or the broadcast ID for channel traffic.
func contactKey(dp *model.DataPacket) string {
	contactID := dp.From
	if dp.From == model.IDLocal || dp.To == model.IDBroadcast {
		contactID = dp.To
	}
	return fmt.Sprintf("%d%s", dp.Channel, contactID)
}

func (h *DataHandler) rememberDataPacket(ctx context.Context, dp *model.DataPacket, myNodeNum uint32, updateNotification bool) error {
	switch dp.DataType {
	case wire.PortTextMessage, wire.PortAlert, wire.PortWaypoint:
	default:
		return nil
	}
	fromLocal := dp.From == model.IDLocal
	key := contactKey(dp)
	pkt := &repository.Packet{
		MyNodeNum:    myNodeNum,
		PacketID:     dp.ID,
		PortNum:      dp.DataType,
		ContactKey:   key,
		ReceivedTime: h.tp.Now().UnixMilli(),
		Read:         fromLocal,
		Data:         dp,
	}
	if err := h.opts.PacketRepo.Insert(ctx, pkt); err != nil {
		return fmt.Errorf("store packet: %w", err)
	}
	if fromLocal {
		return nil
	}

	settings, err := h.opts.PacketRepo.ContactSettings(ctx, key)
	if err != nil || settings.Muted {
		return nil
	}
	if dp.DataType == wire.PortAlert {
		text, _ := dp.Text()
		if text == "" {
			text = "Critical alert"
		}
		h.opts.Notifications.ShowAlertNotification(key, h.senderName(dp.From), text)
		return nil
	}
	if updateNotification {
		h.updateNotification(key, dp)
	}
	return nil
}

func (h *DataHandler) updateNotification(key string, dp *model.DataPacket) {
	sender := h.senderName(dp.From)
	switch dp.DataType {
	case wire.PortTextMessage:
		text, ok := dp.Text()
		if !ok {
			return
		}
		isBroadcast := dp.To == model.IDBroadcast
		h.opts.Notifications.UpdateMessageNotification(key, sender, text, isBroadcast, h.channelName(isBroadcast, dp.Channel))
	case wire.PortWaypoint:
		var wp wire.Waypoint
		if err := wp.Unmarshal(dp.Bytes); err != nil {
			return
		}
		h.opts.Notifications.UpdateWaypointNotification(key, sender, "Waypoint received: "+wp.Name, wp.ID)
	}
}

func (h *DataHandler) channelName(isBroadcast bool, index uint32) string {
	if !isBroadcast || h.opts.RadioConfig == nil {
		return ""
	}
	for _, ch := range h.opts.RadioConfig.ChannelSet().Get() {
		if ch.Index >= 0 && uint32(ch.Index) == index && ch.Settings != nil {
			return ch.Settings.Name
		}
	}
	return ""
}

func (h *DataHandler) senderName(id string) string {
	if id == model.IDLocal {
		id = h.opts.Nodes.GetMyID()
	}
	if n, ok := h.opts.Nodes.NodeByID(id); ok && n.User != nil && n.User.LongName != "" {
		return n.User.LongName
	}
	return "Unknown username"
}

func (h *DataHandler) rememberReaction(ctx context.Context, p *wire.MeshPacket) error {
	dp := h.opts.Mapper.ToDataPacket(p)
	reaction := &model.Reaction{
		ReplyID:  p.Decoded.ReplyID,
		UserID:   dp.From,
		Emoji:    string(p.Decoded.Payload),
		Time:     h.tp.Now().UnixMilli(),
		PacketID: p.ID,
		Status:   model.StatusReceived,
		Channel:  dp.Channel,
		To:       dp.To,
		SNR:      p.RxSNR,
		RSSI:     p.RxRSSI,
		HopsAway: dp.HopsAway(),
	}
	if err := h.opts.PacketRepo.InsertReaction(ctx, reaction); err != nil {
		return fmt.Errorf("store reaction: %w", err)
	}

	original, err := h.opts.PacketRepo.PacketByID(ctx, reaction.ReplyID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find reacted message: %w", err)
	}
	settings, err := h.opts.PacketRepo.ContactSettings(ctx, original.ContactKey)
	if err != nil || settings.Muted {
		return nil
	}
	isBroadcast := dp.To == model.IDBroadcast
	h.opts.Notifications.UpdateReactionNotification(original.ContactKey, h.senderName(dp.From), reaction.Emoji,
		isBroadcast, h.channelName(isBroadcast, dp.Channel))
	return nil
}

// RememberSent stores a message the local node sent.
func (h *DataHandler) RememberSent(ctx context.Context, dp *model.DataPacket, myNodeNum uint32) error {
	return h.rememberDataPacket(ctx, dp, myNodeNum, false)
}
