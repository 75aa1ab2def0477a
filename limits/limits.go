// Package limits provides centralized size and buffer limits for the mesh radio protocol.
// This ensures consistent validation across different components of the system.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxDataPayload is the radio's DATA_PAYLOAD_LEN. Application payloads must be
	// strictly shorter than this value to fit in a single LoRa frame.
	MaxDataPayload = 233

	// MaxFramePayload is the largest ToRadio/FromRadio protobuf carried in one
	// stream frame (0x94 0xC3 header plus 16-bit length).
	MaxFramePayload = 512

	// MaxEarlyPackets bounds the number of inbound packets buffered while the
	// node database is still being synchronized. Oldest packets are dropped first.
	MaxEarlyPackets = 128

	// MaxOfflinePackets bounds the number of deferrable packets held while the
	// radio is disconnected.
	MaxOfflinePackets = 256

	// MaxNodeNameLength is the firmware limit for a user's long name.
	MaxNodeNameLength = 39

	// MaxShortNameLength is the firmware limit for a user's short name.
	MaxShortNameLength = 4
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateDataPayload validates an application payload against MaxDataPayload.
// Empty payloads are allowed since request packets (traceroute, position
// requests) carry no data.
func ValidateDataPayload(payload []byte) error {
	if len(payload) >= MaxDataPayload {
		return fmt.Errorf("%w: payload size %d must be below %d", ErrMessageTooLarge, len(payload), MaxDataPayload)
	}
	return nil
}

// ValidateFramePayload validates an encoded protobuf against MaxFramePayload.
// Returns an error with context if the frame is empty or exceeds the limit.
func ValidateFramePayload(frame []byte) error {
	if len(frame) == 0 {
		return ErrMessageEmpty
	}
	if len(frame) > MaxFramePayload {
		return fmt.Errorf("%w: frame size %d exceeds limit %d", ErrMessageTooLarge, len(frame), MaxFramePayload)
	}
	return nil
}

// ValidateOwnerNames checks a user's names against the firmware limits. The
// long name is required; the short name may be left empty.
func ValidateOwnerNames(longName, shortName string) error {
	if err := ValidateMessageSize([]byte(longName), MaxNodeNameLength); err != nil {
		return fmt.Errorf("long name: %w", err)
	}
	if len(shortName) > MaxShortNameLength {
		return fmt.Errorf("%w: short name size %d exceeds limit %d", ErrMessageTooLarge, len(shortName), MaxShortNameLength)
	}
	return nil
}
