package rpc

import (
	"fmt"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Encoder builds a message in protobuf wire format.
type Encoder struct {
	b []byte
}

// Uint appends a varint field.
// Zero values are omitted, as in proto3.
func (e *Encoder) Uint(num protowire.Number, v uint64) {
	if v == 0 {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.VarintType)
	e.b = protowire.AppendVarint(e.b, v)
}

// Int appends a signed varint field.
func (e *Encoder) Int(num protowire.Number, v int64) {
	e.Uint(num, protowire.EncodeZigZag(v))
}

// Bool appends a bool field.
func (e *Encoder) Bool(num protowire.Number, v bool) {
	if v {
		e.Uint(num, 1)
	}
}

// Bytes appends a length-delimited field.
// Unlike Uint it always emits the field,
// so that repeated fields may hold empty elements.
func (e *Encoder) Bytes(num protowire.Number, v []byte) {
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendBytes(e.b, v)
}

// String appends a string field, omitting the empty string.
func (e *Encoder) String(num protowire.Number, s string) {
	if s == "" {
		return
	}
	e.b = protowire.AppendTag(e.b, num, protowire.BytesType)
	e.b = protowire.AppendString(e.b, s)
}

// Message appends a nested message field.
func (e *Encoder) Message(num protowire.Number, m Message) {
	e.Bytes(num, m.MarshalWire())
}

// Out returns the encoded message.
func (e *Encoder) Out() []byte {
	return e.b
}

// Value is one decoded field value.
type Value struct {
	typ protowire.Type
	u   uint64
	b   []byte
}

// Uint returns a varint field's value.
func (v Value) Uint() uint64 { return v.u }

// Int returns a signed varint field's value.
func (v Value) Int() int64 { return protowire.DecodeZigZag(v.u) }

// Bool returns a bool field's value.
func (v Value) Bool() bool { return v.u != 0 }

// Bytes returns a copy of a length-delimited field's value.
// The result is never nil.
func (v Value) Bytes() []byte {
	return append([]byte{}, v.b...)
}

// String returns a string field's value.
func (v Value) String() string { return string(v.b) }

// Decode calls f for each varint and length-delimited field in b, in order.
// Fields of other wire types are skipped.
func Decode(b []byte, f func(protowire.Number, Value) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "decoding tag")
		}
		b = b[n:]

		v := Value{typ: typ}
		switch typ {
		case protowire.VarintType:
			v.u, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			v.b, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "decoding field %d", num)
		}
		b = b[n:]

		if typ != protowire.VarintType && typ != protowire.BytesType {
			continue
		}
		if err := f(num, v); err != nil {
			return err
		}
	}
	return nil
}

// Sub decodes a nested message field into m.
func (v Value) Sub(m Message) error {
	if v.typ != protowire.BytesType {
		return fmt.Errorf("field of wire type %d is not a message", v.typ)
	}
	return m.UnmarshalWire(v.b)
}
