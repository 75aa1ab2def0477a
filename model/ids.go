// Package model defines the entities the runtime keeps about the mesh:
// nodes, data packets, the local radio's identity and the mesh log.
package model

import (
	"fmt"
	"time"
)

const (
	// IDBroadcast addresses every node on a channel.
	IDBroadcast = "^all"
	// IDLocal stands for the radio the client is attached to.
	IDLocal = "^local"
	// NodeNumBroadcast is the broadcast node number on the wire.
	NodeNumBroadcast uint32 = 0xffffffff
	// PKCChannelIndex marks a packet sent with public key encryption
	// rather than on one of the eight channel slots.
	PKCChannelIndex uint32 = 8
)

// OnlineThreshold is how recently a node must have been heard to count as online.
const OnlineThreshold = 2 * time.Hour

// DefaultNodeID synthesizes the string ID of a node that has not reported one.
func DefaultNodeID(num uint32) string {
	return fmt.Sprintf("!%08x", num)
}

// DegD converts fixed point 1e-7 degrees to degrees.
func DegD(i int32) float64 { return float64(i) * 1e-7 }

// DegI converts degrees to fixed point 1e-7 degrees.
func DegI(d float64) int32 { return int32(d * 1e7) }

// NowSeconds is the current Unix time in seconds as used on the wire.
func NowSeconds() uint32 { return uint32(time.Now().Unix()) }
