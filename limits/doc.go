// Package limits provides centralized size constants and validation functions
// for the mesh radio protocol. This package ensures consistent size enforcement
// across the command sender, the stream transport and the inbound processor.
//
// # Size Hierarchy
//
//   - MaxDataPayload (233 bytes): the firmware's DATA_PAYLOAD_LEN. A Data payload
//     must be strictly smaller, otherwise the radio rejects the packet.
//
//   - MaxFramePayload (512 bytes): the largest encoded ToRadio/FromRadio carried
//     by the 0x94 0xC3 stream framing used over TCP and serial links.
//
//   - MaxEarlyPackets (128): inbound packets buffered before the node database
//     is ready.
//
//   - MaxOfflinePackets (256): deferrable packets held while disconnected.
//
//   - MaxNodeNameLength (39) and MaxShortNameLength (4): owner names, checked
//     by ValidateOwnerNames before a set-owner request is sent.
//
// # Validation Functions
//
//	if err := limits.ValidateDataPayload(payload); err != nil {
//	    // errors.Is(err, limits.ErrMessageTooLarge)
//	}
//
// For custom size limits, use the generic ValidateMessageSize function:
//
//	err := limits.ValidateMessageSize(data, 4096)
//
// # Error Types
//
//   - ErrMessageEmpty: Returned when an empty or nil message is provided
//   - ErrMessageTooLarge: Returned when message exceeds the specified limit
package limits
