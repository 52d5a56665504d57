package rpc

import (
	"context"
	"errors"
	"testing"

	perrors "github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/bobg/hbs"
)

func TestStatusRoundTrip(t *testing.T) {
	cases := []struct {
		err  error
		code codes.Code
	}{
		{err: hbs.ErrNotFound, code: codes.NotFound},
		{err: hbs.ErrUnavailable, code: codes.Unavailable},
		{err: hbs.ErrTimeout, code: codes.DeadlineExceeded},
		{err: hbs.ErrNoBackend, code: codes.FailedPrecondition},
		{err: hbs.ErrTooLarge, code: codes.ResourceExhausted},
		{err: hbs.IOError(errors.New("disk on fire")), code: codes.Internal},
		{err: context.Canceled, code: codes.Canceled},
	}
	for _, c := range cases {
		wrapped := perrors.Wrap(c.err, "doing something")
		st := ToStatus(wrapped)
		if got := status.Code(st); got != c.code {
			t.Errorf("%v: got code %s, want %s", c.err, got, c.code)
			continue
		}
		back := FromStatus(st)
		kind := c.err
		if errors.Is(c.err, hbs.ErrIO) {
			kind = hbs.ErrIO
		}
		if !errors.Is(back, kind) {
			t.Errorf("%v: round trip produced %v", c.err, back)
		}
	}
}

func TestToStatusKeepsStatus(t *testing.T) {
	st := Invalid(errors.New("bad"))
	if got := ToStatus(st); status.Code(got) != codes.InvalidArgument {
		t.Errorf("got %v, want InvalidArgument", got)
	}
	if err := FromStatus(st); errors.Is(err, hbs.ErrTooLarge) {
		t.Errorf("invalid argument %v came back as too large", err)
	}
	if ToStatus(nil) != nil {
		t.Error("ToStatus(nil) should be nil")
	}
}

type pair struct {
	n    uint64
	name string
	data []byte
}

func (p *pair) MarshalWire() []byte {
	var e Encoder
	e.Uint(1, p.n)
	e.String(2, p.name)
	e.Bytes(3, p.data)
	return e.Out()
}

func (p *pair) UnmarshalWire(b []byte) error {
	return Decode(b, func(num protowire.Number, v Value) error {
		switch num {
		case 1:
			p.n = v.Uint()
		case 2:
			p.name = v.String()
		case 3:
			p.data = v.Bytes()
		}
		return nil
	})
}

func TestCodec(t *testing.T) {
	var c codec
	in := &pair{n: 7, name: "seven", data: []byte{}}
	b, err := c.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out pair
	if err = c.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	if out.n != 7 || out.name != "seven" || out.data == nil || len(out.data) != 0 {
		t.Errorf("got %+v", out)
	}

	if _, err = c.Marshal("not a message"); err == nil {
		t.Error("expected error marshaling a non-Message")
	}
}

func TestDecodeTruncated(t *testing.T) {
	in := &pair{n: 1, data: []byte("hello")}
	b := in.MarshalWire()
	var out pair
	if err := out.UnmarshalWire(b[:len(b)-2]); err == nil {
		t.Error("expected error decoding truncated message")
	}
}
