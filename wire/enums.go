package wire

import "fmt"

// PortNum identifies the application that owns a Data payload.
type PortNum uint32

const (
	PortUnknown          PortNum = 0
	PortTextMessage      PortNum = 1
	PortRemoteHardware   PortNum = 2
	PortPosition         PortNum = 3
	PortNodeInfo         PortNum = 4
	PortRouting          PortNum = 5
	PortAdmin            PortNum = 6
	PortTextCompressed   PortNum = 7
	PortWaypoint         PortNum = 8
	PortAudio            PortNum = 9
	PortDetectionSensor  PortNum = 10
	PortAlert            PortNum = 11
	PortReply            PortNum = 32
	PortIPTunnel         PortNum = 33
	PortPaxcounter       PortNum = 34
	PortStoreForwardPP   PortNum = 35
	PortSerial           PortNum = 64
	PortStoreForward     PortNum = 65
	PortRangeTest        PortNum = 66
	PortTelemetry        PortNum = 67
	PortZPS              PortNum = 68
	PortSimulator        PortNum = 69
	PortTraceroute       PortNum = 70
	PortNeighborInfo     PortNum = 71
	PortATAKPlugin       PortNum = 72
	PortMapReport        PortNum = 73
	PortPowerStress      PortNum = 74
	PortPrivate          PortNum = 256
	PortATAKForwarder    PortNum = 257
)

var portNames = map[PortNum]string{
	PortUnknown:         "UNKNOWN_APP",
	PortTextMessage:     "TEXT_MESSAGE_APP",
	PortRemoteHardware:  "REMOTE_HARDWARE_APP",
	PortPosition:        "POSITION_APP",
	PortNodeInfo:        "NODEINFO_APP",
	PortRouting:         "ROUTING_APP",
	PortAdmin:           "ADMIN_APP",
	PortTextCompressed:  "TEXT_MESSAGE_COMPRESSED_APP",
	PortWaypoint:        "WAYPOINT_APP",
	PortAudio:           "AUDIO_APP",
	PortDetectionSensor: "DETECTION_SENSOR_APP",
	PortAlert:           "ALERT_APP",
	PortReply:           "REPLY_APP",
	PortIPTunnel:        "IP_TUNNEL_APP",
	PortPaxcounter:      "PAXCOUNTER_APP",
	PortStoreForwardPP:  "STORE_FORWARD_PLUSPLUS_APP",
	PortSerial:          "SERIAL_APP",
	PortStoreForward:    "STORE_FORWARD_APP",
	PortRangeTest:       "RANGE_TEST_APP",
	PortTelemetry:       "TELEMETRY_APP",
	PortZPS:             "ZPS_APP",
	PortSimulator:       "SIMULATOR_APP",
	PortTraceroute:      "TRACEROUTE_APP",
	PortNeighborInfo:    "NEIGHBORINFO_APP",
	PortATAKPlugin:      "ATAK_PLUGIN",
	PortMapReport:       "MAP_REPORT_APP",
	PortPowerStress:     "POWERSTRESS_APP",
	PortPrivate:         "PRIVATE_APP",
	PortATAKForwarder:   "ATAK_FORWARDER",
}

func (p PortNum) String() string {
	if name, ok := portNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PORT_%d", uint32(p))
}

// Priority is the radio's transmit priority for a MeshPacket.
type Priority uint32

const (
	PriorityUnset      Priority = 0
	PriorityMin        Priority = 1
	PriorityBackground Priority = 10
	PriorityDefault    Priority = 64
	PriorityReliable   Priority = 70
	PriorityAck        Priority = 120
	PriorityMax        Priority = 127
)

// Role is a node's device role.
type Role uint32

const (
	RoleClient        Role = 0
	RoleClientMute    Role = 1
	RoleRouter        Role = 2
	RoleRouterClient  Role = 3
	RoleRepeater      Role = 4
	RoleTracker       Role = 5
	RoleSensor        Role = 6
	RoleTAK           Role = 7
	RoleClientHidden  Role = 8
	RoleLostAndFound  Role = 9
	RoleTAKTracker    Role = 10
	RoleRouterLate    Role = 11
	RoleClientBase    Role = 12
)

var roleNames = []string{
	"CLIENT", "CLIENT_MUTE", "ROUTER", "ROUTER_CLIENT", "REPEATER", "TRACKER",
	"SENSOR", "TAK", "CLIENT_HIDDEN", "LOST_AND_FOUND", "TAK_TRACKER", "ROUTER_LATE", "CLIENT_BASE",
}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return fmt.Sprintf("ROLE_%d", uint32(r))
}

// HardwareModel identifies the radio board.
type HardwareModel uint32

// HardwareUnset marks a user record that has never reported its board.
const HardwareUnset HardwareModel = 0

var hardwareNames = map[HardwareModel]string{
	0:   "UNSET",
	1:   "TLORA_V2",
	2:   "TLORA_V1",
	3:   "TLORA_V2_1_1P6",
	4:   "TBEAM",
	5:   "HELTEC_V2_0",
	6:   "TBEAM_V0P7",
	7:   "T_ECHO",
	8:   "TLORA_V1_1P3",
	9:   "RAK4631",
	10:  "HELTEC_V2_1",
	11:  "HELTEC_V1",
	12:  "LILYGO_TBEAM_S3_CORE",
	13:  "RAK11200",
	14:  "NANO_G1",
	15:  "TLORA_V2_1_1P8",
	16:  "TLORA_T3_S3",
	17:  "NANO_G1_EXPLORER",
	25:  "STATION_G1",
	26:  "RAK11310",
	37:  "PORTDUINO",
	39:  "DIY_V1",
	43:  "HELTEC_V3",
	44:  "HELTEC_WSL_V3",
	47:  "RPI_PICO",
	48:  "HELTEC_WIRELESS_TRACKER",
	49:  "HELTEC_WIRELESS_PAPER",
	50:  "T_DECK",
	51:  "T_WATCH_S3",
	255: "PRIVATE_HW",
}

func (h HardwareModel) String() string {
	if name, ok := hardwareNames[h]; ok {
		return name
	}
	return fmt.Sprintf("HW_%d", uint32(h))
}

// RoutingError is the error_reason of a Routing payload.
type RoutingError uint32

const (
	RoutingNone             RoutingError = 0
	RoutingNoRoute          RoutingError = 1
	RoutingGotNak           RoutingError = 2
	RoutingTimeout          RoutingError = 3
	RoutingNoInterface      RoutingError = 4
	RoutingMaxRetransmit    RoutingError = 5
	RoutingNoChannel        RoutingError = 6
	RoutingTooLarge         RoutingError = 7
	RoutingNoResponse       RoutingError = 8
	RoutingDutyCycleLimit   RoutingError = 9
	RoutingBadRequest       RoutingError = 32
	RoutingNotAuthorized    RoutingError = 33
	RoutingPKIFailed        RoutingError = 34
	RoutingPKIUnknownPubkey RoutingError = 35
	RoutingAdminBadSession  RoutingError = 36
	RoutingAdminPublicKey   RoutingError = 37
	RoutingRateLimited      RoutingError = 38
)

var routingNames = map[RoutingError]string{
	RoutingNone:             "NONE",
	RoutingNoRoute:          "NO_ROUTE",
	RoutingGotNak:           "GOT_NAK",
	RoutingTimeout:          "TIMEOUT",
	RoutingNoInterface:      "NO_INTERFACE",
	RoutingMaxRetransmit:    "MAX_RETRANSMIT",
	RoutingNoChannel:        "NO_CHANNEL",
	RoutingTooLarge:         "TOO_LARGE",
	RoutingNoResponse:       "NO_RESPONSE",
	RoutingDutyCycleLimit:   "DUTY_CYCLE_LIMIT",
	RoutingBadRequest:       "BAD_REQUEST",
	RoutingNotAuthorized:    "NOT_AUTHORIZED",
	RoutingPKIFailed:        "PKI_FAILED",
	RoutingPKIUnknownPubkey: "PKI_UNKNOWN_PUBKEY",
	RoutingAdminBadSession:  "ADMIN_BAD_SESSION_KEY",
	RoutingAdminPublicKey:   "ADMIN_PUBLIC_KEY_UNAUTHORIZED",
	RoutingRateLimited:      "RATE_LIMIT_EXCEEDED",
}

func (r RoutingError) String() string {
	if name, ok := routingNames[r]; ok {
		return name
	}
	return fmt.Sprintf("ROUTING_ERROR_%d", uint32(r))
}

// LogLevel is the severity attached to LogRecord and ClientNotification.
type LogLevel uint32

const (
	LogUnset    LogLevel = 0
	LogCritical LogLevel = 50
	LogError    LogLevel = 40
	LogWarning  LogLevel = 30
	LogInfo     LogLevel = 20
	LogDebug    LogLevel = 10
	LogTrace    LogLevel = 5
)
