package wire

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// ErrUnknownVariant is returned when an envelope carries no recognized payload.
var ErrUnknownVariant = errors.New("unknown envelope variant")

var marshalOptions = proto.MarshalOptions{Deterministic: true}

// encodePB serializes a generated message. Conversions only produce valid
// UTF-8, so a failure here is a conversion bug and is logged.
func encodePB(p proto.Message) []byte {
	b, err := marshalOptions.Marshal(p)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "encodePB",
			"message":  string(p.ProtoReflect().Descriptor().Name()),
			"error":    err.Error(),
		}).Error("Failed to encode message")
		return nil
	}
	return b
}

// unmarshalPB parses b as the generated message PP and converts the result
// into dst.
func unmarshalPB[T, P any, PP interface {
	*P
	proto.Message
}](name string, b []byte, dst *T, conv func(PP) (*T, error)) error {
	p := PP(new(P))
	if err := proto.Unmarshal(b, p); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	v, err := conv(p)
	if err != nil {
		return err
	}
	*dst = *v
	return nil
}

// infallible adapts a conversion that cannot fail to unmarshalPB.
func infallible[P, T any](fn func(P) *T) func(P) (*T, error) {
	return func(p P) (*T, error) { return fn(p), nil }
}

// attach appends fields the generated schema predates to p, so they are
// written after the known fields.
func attach(p proto.Message, fill func(e *encoder)) {
	var e encoder
	fill(&e)
	if len(e.buf) == 0 {
		return
	}
	r := p.ProtoReflect()
	r.SetUnknown(append(r.GetUnknown(), e.buf...))
}

// unknown walks the fields of p the generated schema did not recognize.
func unknown(name string, p proto.Message, fn func(f field) error) error {
	return decodeInto(name, []byte(p.ProtoReflect().GetUnknown()), fn)
}

// opaqueOf re-encodes the member set on p's oneof so sections this client
// does not model keep their bytes.
func opaqueOf(p proto.Message, oneof protoreflect.Name) *Opaque {
	r := p.ProtoReflect()
	od := r.Descriptor().Oneofs().ByName(oneof)
	if od == nil {
		return nil
	}
	fd := r.WhichOneof(od)
	if fd == nil || fd.Message() == nil {
		return nil
	}
	return &Opaque{Field: uint32(fd.Number()), Raw: encodePB(r.Get(fd).Message().Interface())}
}

// hasField reports whether b carries the field at the end of path, where
// the leading numbers name embedded messages. proto3 scalars do not keep
// presence after decoding, so presence checks read the raw frame.
func hasField(b []byte, path ...protowire.Number) bool {
	if len(path) == 0 {
		return false
	}
	found := false
	_ = walk(b, func(f field) error {
		if f.num != path[0] {
			return nil
		}
		if len(path) == 1 {
			found = true
		} else if f.isBytes() && hasField(f.b, path[1:]...) {
			found = true
		}
		return nil
	})
	return found
}

// text makes s safe for a proto3 string field.
func text(s string) string { return strings.ToValidUTF8(s, "\uFFFD") }

// orEmpty returns p, or a zero value when p is nil, so oneof members are
// still written.
func orEmpty[T any](p *T) *T {
	if p == nil {
		return new(T)
	}
	return p
}

// encoder appends proto3 fields for the parts of the schema the generated
// package predates. Zero values are omitted the way proto3 serializers do;
// the force* helpers emit oneof members even when zero.
type encoder struct {
	buf []byte
}

func (e *encoder) uvarint(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	e.forceUvarint(num, v)
}

func (e *encoder) forceUvarint(num protowire.Number, v uint64) {
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, v)
}

func (e *encoder) uint32(num protowire.Number, v uint32) { e.uvarint(num, uint64(v)) }

func (e *encoder) bool(num protowire.Number, v bool) {
	if v {
		e.uvarint(num, 1)
	}
}

func (e *encoder) forceBool(num protowire.Number, v bool) {
	if v {
		e.forceUvarint(num, 1)
		return
	}
	e.forceUvarint(num, 0)
}

func (e *encoder) fixed32(num protowire.Number, v uint32) {
	if v == 0 {
		return
	}
	e.forceFixed32(num, v)
}

func (e *encoder) forceFixed32(num protowire.Number, v uint32) {
	e.buf = protowire.AppendTag(e.buf, num, protowire.Fixed32Type)
	e.buf = protowire.AppendFixed32(e.buf, v)
}

func (e *encoder) bytes(num protowire.Number, v []byte) {
	if len(v) == 0 {
		return
	}
	e.embedded(num, v)
}

func (e *encoder) string(num protowire.Number, v string) {
	if v == "" {
		return
	}
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendString(e.buf, v)
}

// embedded always writes the field, so an empty sub-message still marks
// its oneof member as set.
func (e *encoder) embedded(num protowire.Number, v []byte) {
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, v)
}

func (e *encoder) packedFixed32(num protowire.Number, vs []uint32) {
	if len(vs) == 0 {
		return
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendFixed32(packed, v)
	}
	e.embedded(num, packed)
}

func (e *encoder) packedInt32(num protowire.Number, vs []int32) {
	if len(vs) == 0 {
		return
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, uint64(int64(v)))
	}
	e.embedded(num, packed)
}

func protoNum(n uint32) protowire.Number { return protowire.Number(n) }

// field is one decoded tag/value pair. Varint and fixed values share u so
// decoders tolerate either scalar encoding.
type field struct {
	num protowire.Number
	typ protowire.Type
	u   uint64
	b   []byte
}

func (f field) uint32() uint32 { return uint32(f.u) }
func (f field) bool() bool { return f.u != 0 }
func (f field) string() string { return string(f.b) }
func (f field) bytes() []byte { return append([]byte(nil), f.b...) }
func (f field) isBytes() bool { return f.typ == protowire.BytesType }

// fixed32s decodes a repeated fixed32 field in packed or unpacked form.
func (f field) fixed32s() ([]uint32, error) {
	if !f.isBytes() {
		return []uint32{uint32(f.u)}, nil
	}
	var out []uint32
	b := f.b
	for len(b) > 0 {
		v, n := protowire.ConsumeFixed32(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, v)
		b = b[n:]
	}
	return out, nil
}

// int32s decodes a repeated int32 field in packed or unpacked form.
func (f field) int32s() ([]int32, error) {
	if !f.isBytes() {
		return []int32{int32(f.u)}, nil
	}
	var out []int32
	b := f.b
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, int32(v))
		b = b[n:]
	}
	return out, nil
}

// walk iterates over every field in b. Unknown wire types are skipped.
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.u = uint64(v)
		case protowire.Fixed64Type:
			f.u, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.b, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// decodeInto runs walk and wraps any failure with the message name.
func decodeInto(name string, b []byte, fn func(f field) error) error {
	if err := walk(b, fn); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// message is implemented by every type in this package that has a wire form.
type message interface {
	Marshal() []byte
	Unmarshal(b []byte) error
}

// sub decodes an embedded message field into a freshly allocated T.
func sub[T any, P interface {
	*T
	message
}](f field) (P, error) {
	p := P(new(T))
	if err := p.Unmarshal(f.b); err != nil {
		return nil, err
	}
	return p, nil
}
