// Package rpc holds the pieces shared by the gRPC services in this module:
// the message codec,
// the wire encoding helpers,
// the mapping between errors and gRPC status codes,
// and common client and server options.
package rpc

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype of this module's messages.
const CodecName = "hbs"

// Message is implemented by every request and response type
// carried by the services in this module.
type Message interface {
	MarshalWire() []byte
	UnmarshalWire([]byte) error
}

type codec struct{}

var _ encoding.Codec = codec{}

func (codec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(Message)
	if !ok {
		return nil, fmt.Errorf("cannot marshal %T", v)
	}
	return m.MarshalWire(), nil
}

func (codec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(Message)
	if !ok {
		return fmt.Errorf("cannot unmarshal into %T", v)
	}
	return m.UnmarshalWire(data)
}

func (codec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(codec{})
}
