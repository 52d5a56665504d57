package router

import (
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/bobg/hbs"
	"github.com/bobg/hbs/index"
	"github.com/bobg/hbs/rpc"
)

// Messages of the hbs.Router service.
type (
	SaveRequest struct {
		Blobs [][]byte
	}

	SaveResponse struct {
		Stored uint64
	}

	WantsRequest struct {
		IDs []hbs.ContentID
	}

	WantsResponse struct {
		Missing []hbs.ContentID
	}

	FetchRequest struct {
		ID hbs.ContentID
	}

	FetchResponse struct {
		Chunk []byte
	}

	StatRequest struct{}

	StatResponse struct {
		Index index.Stat
		Nodes []NodeStat
	}

	MetricsRequest struct {
		From     uint64
		PageSize uint64
	}

	MetricsResponse struct {
		Records []index.SaveRecord
	}

	UploadRequest struct {
		Kind    UploadRequestKind
		ID      hbs.ContentID // Begin
		Size    uint64        // Begin
		Session string        // Data, Commit
		Data    []byte        // Data
	}

	UploadResponse struct {
		Kind    UploadResponseKind
		Session string // Ready
		Window  uint64 // Ready: the size of every Data message but the last
		Seq     uint64 // Ack: the number of windows received so far
	}
)

// NodeStat is the state of one pool member as seen by the Router.
type NodeStat struct {
	Name      string
	Addr      string
	Reachable bool
	Stat      hbs.Stat
	Err       string
}

// UploadRequestKind says what an UploadRequest carries.
type UploadRequestKind uint64

// Values for UploadRequestKind.
const (
	UploadBegin UploadRequestKind = iota + 1
	UploadData
	UploadCommit
)

// UploadResponseKind says what an UploadResponse carries.
type UploadResponseKind uint64

// Values for UploadResponseKind.
const (
	// UploadExists ends an upload whose content is already stored.
	UploadExists UploadResponseKind = iota + 1

	// UploadReady accepts an upload and names its session and window size.
	UploadReady

	// UploadAck acknowledges one Data message.
	UploadAck

	// UploadDone ends an upload whose content is now stored and indexed.
	UploadDone
)

func idList(e *rpc.Encoder, num protowire.Number, ids []hbs.ContentID) {
	for _, id := range ids {
		e.Bytes(num, id[:])
	}
}

func appendID(ids []hbs.ContentID, v rpc.Value) ([]hbs.ContentID, error) {
	id, err := hbs.IDFromBytes(v.Bytes())
	if err != nil {
		return ids, err
	}
	return append(ids, id), nil
}

func (m *SaveRequest) MarshalWire() []byte {
	var e rpc.Encoder
	for _, b := range m.Blobs {
		e.Bytes(1, b)
	}
	return e.Out()
}

func (m *SaveRequest) UnmarshalWire(b []byte) error {
	return rpc.Decode(b, func(num protowire.Number, v rpc.Value) error {
		if num == 1 {
			m.Blobs = append(m.Blobs, v.Bytes())
		}
		return nil
	})
}

func (m *SaveResponse) MarshalWire() []byte {
	var e rpc.Encoder
	e.Uint(1, m.Stored)
	return e.Out()
}

func (m *SaveResponse) UnmarshalWire(b []byte) error {
	return rpc.Decode(b, func(num protowire.Number, v rpc.Value) error {
		if num == 1 {
			m.Stored = v.Uint()
		}
		return nil
	})
}

func (m *WantsRequest) MarshalWire() []byte {
	var e rpc.Encoder
	idList(&e, 1, m.IDs)
	return e.Out()
}

func (m *WantsRequest) UnmarshalWire(b []byte) error {
	return rpc.Decode(b, func(num protowire.Number, v rpc.Value) (err error) {
		if num == 1 {
			m.IDs, err = appendID(m.IDs, v)
		}
		return err
	})
}

func (m *WantsResponse) MarshalWire() []byte {
	var e rpc.Encoder
	idList(&e, 1, m.Missing)
	return e.Out()
}

func (m *WantsResponse) UnmarshalWire(b []byte) error {
	return rpc.Decode(b, func(num protowire.Number, v rpc.Value) (err error) {
		if num == 1 {
			m.Missing, err = appendID(m.Missing, v)
		}
		return err
	})
}

func (m *FetchRequest) MarshalWire() []byte {
	var e rpc.Encoder
	e.Bytes(1, m.ID[:])
	return e.Out()
}

func (m *FetchRequest) UnmarshalWire(b []byte) error {
	return rpc.Decode(b, func(num protowire.Number, v rpc.Value) (err error) {
		if num == 1 {
			m.ID, err = hbs.IDFromBytes(v.Bytes())
		}
		return err
	})
}

func (m *FetchResponse) MarshalWire() []byte {
	var e rpc.Encoder
	e.Bytes(1, m.Chunk)
	return e.Out()
}

func (m *FetchResponse) UnmarshalWire(b []byte) error {
	m.Chunk = []byte{}
	return rpc.Decode(b, func(num protowire.Number, v rpc.Value) error {
		if num == 1 {
			m.Chunk = v.Bytes()
		}
		return nil
	})
}

func (*StatRequest) MarshalWire() []byte { return nil }

func (*StatRequest) UnmarshalWire(b []byte) error {
	return rpc.Decode(b, func(protowire.Number, rpc.Value) error { return nil })
}

func (m *StatResponse) MarshalWire() []byte {
	var e rpc.Encoder
	e.Uint(1, m.Index.Objects)
	e.Uint(2, m.Index.Bytes)
	e.Uint(3, m.Index.Locations)
	for i := range m.Nodes {
		e.Message(4, &m.Nodes[i])
	}
	return e.Out()
}

func (m *StatResponse) UnmarshalWire(b []byte) error {
	return rpc.Decode(b, func(num protowire.Number, v rpc.Value) error {
		switch num {
		case 1:
			m.Index.Objects = v.Uint()
		case 2:
			m.Index.Bytes = v.Uint()
		case 3:
			m.Index.Locations = v.Uint()
		case 4:
			var ns NodeStat
			if err := v.Sub(&ns); err != nil {
				return err
			}
			m.Nodes = append(m.Nodes, ns)
		}
		return nil
	})
}

func (ns *NodeStat) MarshalWire() []byte {
	var e rpc.Encoder
	e.String(1, ns.Name)
	e.String(2, ns.Addr)
	e.Bool(3, ns.Reachable)
	e.Uint(4, ns.Stat.TotalBytes)
	e.Uint(5, ns.Stat.TotalBlocks)
	e.String(6, ns.Err)
	return e.Out()
}

func (ns *NodeStat) UnmarshalWire(b []byte) error {
	return rpc.Decode(b, func(num protowire.Number, v rpc.Value) error {
		switch num {
		case 1:
			ns.Name = v.String()
		case 2:
			ns.Addr = v.String()
		case 3:
			ns.Reachable = v.Bool()
		case 4:
			ns.Stat.TotalBytes = v.Uint()
		case 5:
			ns.Stat.TotalBlocks = v.Uint()
		case 6:
			ns.Err = v.String()
		}
		return nil
	})
}

func (m *MetricsRequest) MarshalWire() []byte {
	var e rpc.Encoder
	e.Uint(1, m.From)
	e.Uint(2, m.PageSize)
	return e.Out()
}

func (m *MetricsRequest) UnmarshalWire(b []byte) error {
	return rpc.Decode(b, func(num protowire.Number, v rpc.Value) error {
		switch num {
		case 1:
			m.From = v.Uint()
		case 2:
			m.PageSize = v.Uint()
		}
		return nil
	})
}

func (m *MetricsResponse) MarshalWire() []byte {
	var e rpc.Encoder
	for i := range m.Records {
		e.Message(1, (*saveRecord)(&m.Records[i]))
	}
	return e.Out()
}

func (m *MetricsResponse) UnmarshalWire(b []byte) error {
	return rpc.Decode(b, func(num protowire.Number, v rpc.Value) error {
		if num != 1 {
			return nil
		}
		var r saveRecord
		if err := v.Sub(&r); err != nil {
			return err
		}
		m.Records = append(m.Records, index.SaveRecord(r))
		return nil
	})
}

type saveRecord index.SaveRecord

func (r *saveRecord) MarshalWire() []byte {
	var e rpc.Encoder
	e.Uint(1, r.Offset)
	e.Bytes(2, r.ID[:])
	e.Uint(3, r.Size)
	e.String(4, r.Node)
	e.Int(5, r.At.UnixNano())
	return e.Out()
}

func (r *saveRecord) UnmarshalWire(b []byte) error {
	return rpc.Decode(b, func(num protowire.Number, v rpc.Value) (err error) {
		switch num {
		case 1:
			r.Offset = v.Uint()
		case 2:
			r.ID, err = hbs.IDFromBytes(v.Bytes())
		case 3:
			r.Size = v.Uint()
		case 4:
			r.Node = v.String()
		case 5:
			r.At = time.Unix(0, v.Int()).UTC()
		}
		return err
	})
}

func (m *UploadRequest) MarshalWire() []byte {
	var e rpc.Encoder
	e.Uint(1, uint64(m.Kind))
	if m.Kind == UploadBegin {
		e.Bytes(2, m.ID[:])
	}
	e.Uint(3, m.Size)
	e.String(4, m.Session)
	if m.Kind == UploadData {
		e.Bytes(5, m.Data)
	}
	return e.Out()
}

func (m *UploadRequest) UnmarshalWire(b []byte) error {
	return rpc.Decode(b, func(num protowire.Number, v rpc.Value) (err error) {
		switch num {
		case 1:
			m.Kind = UploadRequestKind(v.Uint())
		case 2:
			m.ID, err = hbs.IDFromBytes(v.Bytes())
		case 3:
			m.Size = v.Uint()
		case 4:
			m.Session = v.String()
		case 5:
			m.Data = v.Bytes()
		}
		return err
	})
}

func (m *UploadResponse) MarshalWire() []byte {
	var e rpc.Encoder
	e.Uint(1, uint64(m.Kind))
	e.String(2, m.Session)
	e.Uint(3, m.Window)
	e.Uint(4, m.Seq)
	return e.Out()
}

func (m *UploadResponse) UnmarshalWire(b []byte) error {
	return rpc.Decode(b, func(num protowire.Number, v rpc.Value) error {
		switch num {
		case 1:
			m.Kind = UploadResponseKind(v.Uint())
		case 2:
			m.Session = v.String()
		case 3:
			m.Window = v.Uint()
		case 4:
			m.Seq = v.Uint()
		}
		return nil
	})
}
