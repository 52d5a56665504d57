package router

import (
	"context"

	"google.golang.org/grpc"

	"github.com/bobg/hbs/rpc"
	"github.com/bobg/hbs/window"
)

var _ RouterServer = &Server{}

// Server serves a Router as the hbs.Router service.
type Server struct {
	UnimplementedRouterServer

	r *Router
}

// NewServer produces a Server for r.
func NewServer(r *Router) *Server {
	return &Server{r: r}
}

// Register registers a Server for r with s.
func (r *Router) Register(s grpc.ServiceRegistrar) {
	RegisterRouterServer(s, NewServer(r))
}

func (s *Server) Save(ctx context.Context, req *SaveRequest) (*SaveResponse, error) {
	n, err := s.r.Save(ctx, req.Blobs)
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	return &SaveResponse{Stored: uint64(n)}, nil
}

func (s *Server) Wants(ctx context.Context, req *WantsRequest) (*WantsResponse, error) {
	missing, err := s.r.Wants(ctx, req.IDs)
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	return &WantsResponse{Missing: missing}, nil
}

func (s *Server) Fetch(req *FetchRequest, stream Router_FetchServer) error {
	var (
		ctx = stream.Context()
		src = func(f func([]byte) error) error {
			return s.r.Fetch(ctx, req.ID, f)
		}
	)
	err := window.Send(ctx, s.r.cfg.Fetch, src, func(chunk []byte) error {
		return stream.Send(&FetchResponse{Chunk: chunk})
	})
	return rpc.ToStatus(err)
}

func (s *Server) Stat(ctx context.Context, _ *StatRequest) (*StatResponse, error) {
	istat, nodes, err := s.r.Stat(ctx)
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	return &StatResponse{Index: istat, Nodes: nodes}, nil
}

func (s *Server) Metrics(ctx context.Context, req *MetricsRequest) (*MetricsResponse, error) {
	records, err := s.r.Metrics(ctx, req.From, int(req.PageSize))
	if err != nil {
		return nil, rpc.ToStatus(err)
	}
	return &MetricsResponse{Records: records}, nil
}

func (s *Server) Upload(stream Router_UploadServer) error {
	return s.r.Upload(stream)
}
