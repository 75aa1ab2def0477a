// Package transport carries encoded ToRadio and FromRadio messages between
// the runtime and a radio over a byte stream.
//
// Every message travels in a frame:
//
//	0x94 0xC3 <len hi> <len lo> <len bytes of protobuf>
//
// Anything the radio writes outside a frame is its debug console and is
// logged line by line. Stream wraps a single io.ReadWriteCloser, such as a
// serial port opened elsewhere. TCP dials a network-attached radio and
// redials after the link drops, keeping one Frames channel for its whole
// lifetime.
package transport
