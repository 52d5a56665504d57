package node

import (
	"context"
	stderrs "errors"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/bobg/hbs"
	"github.com/bobg/hbs/chunkstore"
	"github.com/bobg/hbs/rpc"
	"github.com/bobg/hbs/window"
)

var _ NodeServer = &Server{}

// Server serves one chunk store as the hbs.Node service.
type Server struct {
	UnimplementedNodeServer

	store   *chunkstore.Store
	cfg     Config
	metrics *metrics
}

// NewServer produces a Server for store.
// Only the transfer-shaping fields of cfg are used.
func NewServer(store *chunkstore.Store, cfg Config) *Server {
	cfg = cfg.withDefaults()
	return &Server{store: store, cfg: cfg, metrics: newMetrics(cfg.Registerer, cfg.Name)}
}

// Save commits the rows of the stream in batches.
// Each batch is atomic on its own:
// if the stream fails partway,
// batches committed before the failure stay committed.
func (s *Server) Save(stream Node_SaveServer) error {
	var (
		ctx   = stream.Context()
		batch = make([]hbs.Row, 0, s.cfg.SaveBatch)
		n     uint64
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.store.Save(ctx, batch); err != nil {
			return err
		}
		var size int
		for _, row := range batch {
			size += len(row.Data)
		}
		n += uint64(len(batch))
		s.metrics.savedRows.Add(float64(len(batch)))
		s.metrics.savedBytes.Add(float64(size))
		batch = batch[:0]
		return nil
	}

	err := window.Recv(ctx, s.cfg.StepTimeout, stream.Recv, func(req *SaveRequest) error {
		batch = append(batch, req.Row)
		if len(batch) < s.cfg.SaveBatch {
			return nil
		}
		return flush()
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Uint64("committed", n).Msg("save stream failed")
		return rpc.ToStatus(errors.Wrapf(err, "after committing %d rows", n))
	}
	return stream.SendAndClose(&SaveResponse{Rows: n})
}

// Load streams the chunks of one object in index order.
// Absent content produces an empty stream.
func (s *Server) Load(req *LoadRequest, stream Node_LoadServer) error {
	var (
		ctx = stream.Context()
		src = func(f func([]byte) error) error {
			return s.store.Load(ctx, req.ID, f)
		}
	)
	err := window.Send(ctx, s.cfg.Load, src, func(chunk []byte) error {
		s.metrics.loadedChunks.Inc()
		return stream.Send(&LoadResponse{Chunk: chunk})
	})
	return rpc.ToStatus(errors.Wrapf(err, "loading %s", req.ID))
}

// Stat reports the cumulative counters of the chunk store.
func (s *Server) Stat(ctx context.Context, _ *StatRequest) (*StatResponse, error) {
	stat, err := s.store.Stat(ctx)
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	return &StatResponse{Stat: stat}, nil
}

var errPageFull = stderrs.New("page full")

// Clone returns one page of the clone log starting at req.From.
// A page holds at most ClonePage rows,
// and no more than one block of chunk bytes
// unless its first row alone is that big.
func (s *Server) Clone(ctx context.Context, req *CloneRequest) (*CloneResponse, error) {
	var (
		resp CloneResponse
		size int
	)
	err := s.store.Clone(ctx, req.From, func(row hbs.CloneRow) error {
		if len(resp.Rows) > 0 && size+len(row.Data) > s.store.BlockSize() {
			return errPageFull
		}
		resp.Rows = append(resp.Rows, row)
		size += len(row.Data)
		if len(resp.Rows) >= s.cfg.ClonePage {
			return errPageFull
		}
		return nil
	})
	if err != nil && !stderrs.Is(err, errPageFull) {
		return nil, rpc.ToStatus(errors.Wrapf(err, "cloning from %d", req.From))
	}
	s.metrics.clonedRows.Add(float64(len(resp.Rows)))
	return &resp, nil
}

// Metrics streams the metrics log starting at req.From.
func (s *Server) Metrics(req *MetricsRequest, stream Node_MetricsServer) error {
	var (
		ctx = stream.Context()
		src = func(f func(hbs.MetricSample) error) error {
			return s.store.Metrics(ctx, req.From, f)
		}
	)
	err := window.Send(ctx, s.cfg.Metrics, src, func(sample hbs.MetricSample) error {
		return stream.Send(&MetricsResponse{Sample: sample})
	})
	return rpc.ToStatus(errors.Wrapf(err, "streaming metrics from %d", req.From))
}
