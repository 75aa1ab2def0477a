package service

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshlink/model"
	"github.com/opd-ai/meshlink/wire"
)

// Notifications surfaces events a user should see. Implementations must not
// block; they are called from the inbound packet path.
type Notifications interface {
	UpdateMessageNotification(contactKey, sender, message string, isBroadcast bool, channelName string)
	UpdateReactionNotification(contactKey, sender, emoji string, isBroadcast bool, channelName string)
	UpdateWaypointNotification(contactKey, sender, message string, waypointID uint32)
	ShowAlertNotification(contactKey, sender, alert string)
	ShowNewNodeSeen(node *model.Node)
	ShowOrUpdateLowBatteryNotification(node *model.Node, isRemote bool)
	CancelLowBatteryNotification(node *model.Node)
	ShowClientNotification(n *wire.ClientNotification)
	UpdateServiceStateNotification(summary string, telemetry *wire.Telemetry)
}

// LogNotifications writes every notification to the log.
type LogNotifications struct{}

var _ Notifications = LogNotifications{}

func (LogNotifications) UpdateMessageNotification(contactKey, sender, message string, isBroadcast bool, channelName string) {
	logrus.WithFields(logrus.Fields{
		"contact":   contactKey,
		"sender":    sender,
		"broadcast": isBroadcast,
		"channel":   channelName,
	}).Info("Message: " + message)
}

func (LogNotifications) UpdateReactionNotification(contactKey, sender, emoji string, isBroadcast bool, channelName string) {
	logrus.WithFields(logrus.Fields{
		"contact":   contactKey,
		"sender":    sender,
		"broadcast": isBroadcast,
		"channel":   channelName,
	}).Info("Reaction: " + emoji)
}

func (LogNotifications) UpdateWaypointNotification(contactKey, sender, message string, waypointID uint32) {
	logrus.WithFields(logrus.Fields{
		"contact":     contactKey,
		"sender":      sender,
		"waypoint_id": waypointID,
	}).Info(message)
}

func (LogNotifications) ShowAlertNotification(contactKey, sender, alert string) {
	logrus.WithFields(logrus.Fields{
		"contact": contactKey,
		"sender":  sender,
	}).Warn("Alert: " + alert)
}

func (LogNotifications) ShowNewNodeSeen(node *model.Node) {
	logrus.WithFields(logrus.Fields{
		"node_num":  node.Num,
		"long_name": node.LongName,
	}).Info("New node seen")
}

func (LogNotifications) ShowOrUpdateLowBatteryNotification(node *model.Node, isRemote bool) {
	var level uint32
	if dm := node.DeviceMetrics(); dm != nil {
		level = dm.BatteryLevel
	}
	logrus.WithFields(logrus.Fields{
		"node_num":      node.Num,
		"long_name":     node.LongName,
		"remote":        isRemote,
		"battery_level": level,
	}).Warn("Low battery")
}

func (LogNotifications) CancelLowBatteryNotification(node *model.Node) {}

func (LogNotifications) ShowClientNotification(n *wire.ClientNotification) {
	logrus.WithFields(logrus.Fields{
		"reply_id": n.ReplyID,
		"level":    uint32(n.Level),
	}).Warn("Radio: " + n.Message)
}

func (LogNotifications) UpdateServiceStateNotification(summary string, telemetry *wire.Telemetry) {
	logrus.WithField("summary", summary).Debug("Service state")
}
