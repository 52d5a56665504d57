package node

import (
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/bobg/hbs"
	"github.com/bobg/hbs/rpc"
)

// Messages of the hbs.Node service.
// Each is encoded in protobuf wire format by hand;
// field numbers are stable.
type (
	SaveRequest struct {
		Row hbs.Row
	}

	SaveResponse struct {
		// Rows is the number of rows committed,
		// counting rows that were already present.
		Rows uint64
	}

	LoadRequest struct {
		ID hbs.ContentID
	}

	LoadResponse struct {
		Chunk []byte
	}

	StatRequest struct{}

	StatResponse struct {
		Stat hbs.Stat
	}

	CloneRequest struct {
		From uint64
	}

	CloneResponse struct {
		Rows []hbs.CloneRow
	}

	MetricsRequest struct {
		From uint64
	}

	MetricsResponse struct {
		Sample hbs.MetricSample
	}
)

func (m *SaveRequest) MarshalWire() []byte {
	var e rpc.Encoder
	e.Bytes(1, m.Row.Key.Bytes())
	e.Bytes(2, m.Row.Data)
	return e.Out()
}

func (m *SaveRequest) UnmarshalWire(b []byte) error {
	return rpc.Decode(b, func(num protowire.Number, v rpc.Value) error {
		switch num {
		case 1:
			k, err := hbs.ChunkKeyFromBytes(v.Bytes())
			if err != nil {
				return err
			}
			m.Row.Key = k
		case 2:
			m.Row.Data = v.Bytes()
		}
		return nil
	})
}

func (m *SaveResponse) MarshalWire() []byte {
	var e rpc.Encoder
	e.Uint(1, m.Rows)
	return e.Out()
}

func (m *SaveResponse) UnmarshalWire(b []byte) error {
	return rpc.Decode(b, func(num protowire.Number, v rpc.Value) error {
		if num == 1 {
			m.Rows = v.Uint()
		}
		return nil
	})
}

func (m *LoadRequest) MarshalWire() []byte {
	var e rpc.Encoder
	e.Bytes(1, m.ID[:])
	return e.Out()
}

func (m *LoadRequest) UnmarshalWire(b []byte) error {
	return rpc.Decode(b, func(num protowire.Number, v rpc.Value) error {
		if num != 1 {
			return nil
		}
		id, err := hbs.IDFromBytes(v.Bytes())
		if err != nil {
			return err
		}
		m.ID = id
		return nil
	})
}

func (m *LoadResponse) MarshalWire() []byte {
	var e rpc.Encoder
	e.Bytes(1, m.Chunk)
	return e.Out()
}

func (m *LoadResponse) UnmarshalWire(b []byte) error {
	m.Chunk = []byte{}
	return rpc.Decode(b, func(num protowire.Number, v rpc.Value) error {
		if num == 1 {
			m.Chunk = v.Bytes()
		}
		return nil
	})
}

func (*StatRequest) MarshalWire() []byte         { return nil }
func (*StatRequest) UnmarshalWire(b []byte) error { return rpc.Decode(b, skip) }

func (m *StatResponse) MarshalWire() []byte {
	var e rpc.Encoder
	e.Uint(1, m.Stat.TotalBytes)
	e.Uint(2, m.Stat.TotalBlocks)
	return e.Out()
}

func (m *StatResponse) UnmarshalWire(b []byte) error {
	return rpc.Decode(b, func(num protowire.Number, v rpc.Value) error {
		switch num {
		case 1:
			m.Stat.TotalBytes = v.Uint()
		case 2:
			m.Stat.TotalBlocks = v.Uint()
		}
		return nil
	})
}

func (m *CloneRequest) MarshalWire() []byte {
	var e rpc.Encoder
	e.Uint(1, m.From)
	return e.Out()
}

func (m *CloneRequest) UnmarshalWire(b []byte) error {
	return rpc.Decode(b, func(num protowire.Number, v rpc.Value) error {
		if num == 1 {
			m.From = v.Uint()
		}
		return nil
	})
}

func (m *CloneResponse) MarshalWire() []byte {
	var e rpc.Encoder
	for _, row := range m.Rows {
		e.Message(1, (*cloneRow)(&row))
	}
	return e.Out()
}

func (m *CloneResponse) UnmarshalWire(b []byte) error {
	return rpc.Decode(b, func(num protowire.Number, v rpc.Value) error {
		if num != 1 {
			return nil
		}
		var row cloneRow
		if err := v.Sub(&row); err != nil {
			return errors.Wrapf(err, "decoding clone row %d", len(m.Rows))
		}
		m.Rows = append(m.Rows, hbs.CloneRow(row))
		return nil
	})
}

type cloneRow hbs.CloneRow

func (r *cloneRow) MarshalWire() []byte {
	var e rpc.Encoder
	e.Uint(1, r.Offset)
	e.Bytes(2, r.Key.Bytes())
	e.Bytes(3, r.Data)
	return e.Out()
}

func (r *cloneRow) UnmarshalWire(b []byte) error {
	r.Data = []byte{}
	return rpc.Decode(b, func(num protowire.Number, v rpc.Value) error {
		switch num {
		case 1:
			r.Offset = v.Uint()
		case 2:
			k, err := hbs.ChunkKeyFromBytes(v.Bytes())
			if err != nil {
				return err
			}
			r.Key = k
		case 3:
			r.Data = v.Bytes()
		}
		return nil
	})
}

func (m *MetricsRequest) MarshalWire() []byte {
	var e rpc.Encoder
	e.Uint(1, m.From)
	return e.Out()
}

func (m *MetricsRequest) UnmarshalWire(b []byte) error {
	return rpc.Decode(b, func(num protowire.Number, v rpc.Value) error {
		if num == 1 {
			m.From = v.Uint()
		}
		return nil
	})
}

func (m *MetricsResponse) MarshalWire() []byte {
	var e rpc.Encoder
	e.Uint(1, m.Sample.Offset)
	e.Int(2, m.Sample.Time.UnixNano())
	e.Uint(3, m.Sample.Bytes)
	e.Uint(4, m.Sample.Blocks)
	return e.Out()
}

func (m *MetricsResponse) UnmarshalWire(b []byte) error {
	return rpc.Decode(b, func(num protowire.Number, v rpc.Value) error {
		switch num {
		case 1:
			m.Sample.Offset = v.Uint()
		case 2:
			m.Sample.Time = time.Unix(0, v.Int())
		case 3:
			m.Sample.Bytes = v.Uint()
		case 4:
			m.Sample.Blocks = v.Uint()
		}
		return nil
	})
}

func skip(protowire.Number, rpc.Value) error { return nil }
