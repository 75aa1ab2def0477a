// Package wire implements the typed ToRadio/FromRadio message contract
// spoken by mesh radios, encoded with the protobuf wire format.
//
// Messages are plain Go structs with Marshal and Unmarshal methods. Each
// type converts to and from the generated Meshtastic protobuf types in
// github.com/lmatte7/gomesh and is serialized with proto.Marshal. Fields
// and messages newer than that generated schema (PKI keys, session
// passkeys, heartbeats, client notifications, the security section) travel
// as unknown fields written with protowire, so peers built on either schema
// read the same bytes. Config or module sections the client does not
// interpret survive as Opaque values.
//
// Strings are proto3 strings: invalid UTF-8 is replaced with U+FFFD on
// encode and rejected on decode.
//
// # Envelopes
//
// FromRadio and ToRadio carry a sealed Variant interface. Dispatch with a
// type switch:
//
//	env, err := wire.DecodeFromRadio(frame)
//	if err != nil {
//	    return err
//	}
//	switch v := env.Variant.(type) {
//	case *wire.MeshPacket:
//	    // application traffic
//	case wire.ConfigCompleteID:
//	    // end of a config stage
//	}
//
// # Oneof members
//
// Config, ModuleConfig and AdminMessage are oneofs. Exactly one section
// pointer (or AdminMessage.Kind) is set on a decoded value, and Marshal
// always writes the chosen member even when its body is empty.
package wire
