package node

import (
	"context"
	stderrs "errors"
	"io"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"

	"github.com/bobg/hbs"
	"github.com/bobg/hbs/rpc"
	"github.com/bobg/hbs/window"
)

var _ Cloner = &Client{}

// Client talks to a storage node.
// Errors from the node come back as errors of the kinds in package hbs.
type Client struct {
	nc NodeClient

	// Timeout bounds each step of a streaming call.
	Timeout time.Duration
}

// NewClient produces a Client on cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{nc: NewNodeClient(cc), Timeout: DefaultClientTimeout}
}

// Save sends rows to the node in a single Save stream
// and returns the number of rows the node committed.
func (c *Client) Save(ctx context.Context, rows []hbs.Row) (uint64, error) {
	sess, err := c.OpenSave(ctx)
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		if err = sess.Send(row); err != nil {
			sess.Abort()
			return 0, err
		}
	}
	return sess.Close()
}

// SaveSession is an open Save stream.
// Rows sent on it are committed by the node in batches as they arrive.
type SaveSession struct {
	ctx     context.Context
	stream  Node_SaveClient
	cancel  context.CancelFunc
	timeout time.Duration
}

// OpenSave opens a Save stream.
// The caller must finish it with Close or Abort.
func (c *Client) OpenSave(ctx context.Context) (*SaveSession, error) {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := c.nc.Save(ctx)
	if err != nil {
		cancel()
		return nil, errors.Wrap(rpc.FromStatus(err), "opening save stream")
	}
	return &SaveSession{ctx: ctx, stream: stream, cancel: cancel, timeout: c.Timeout}, nil
}

// Send sends one row.
// The send must complete within the client's Timeout.
func (s *SaveSession) Send(row hbs.Row) error {
	err := window.Step(s.ctx, s.timeout, func() error {
		return s.stream.Send(&SaveRequest{Row: row})
	})
	if stderrs.Is(err, io.EOF) {
		// The server ended the stream. Its status says why.
		_, err = s.stream.CloseAndRecv()
	}
	return rpc.FromStatus(err)
}

// Close ends the stream and returns the number of rows the node committed.
// The node's reply must arrive within the client's Timeout.
func (s *SaveSession) Close() (uint64, error) {
	defer s.cancel()
	var resp *SaveResponse
	err := window.Step(s.ctx, s.timeout, func() error {
		var err error
		resp, err = s.stream.CloseAndRecv()
		return err
	})
	if err != nil {
		return 0, rpc.FromStatus(err)
	}
	return resp.Rows, nil
}

// Abort abandons the stream.
// Batches the node already committed stay committed.
func (s *SaveSession) Abort() {
	s.cancel()
}

// Load calls f with each chunk of id, in index order.
// If the node has nothing under id, f is not called.
func (c *Client) Load(ctx context.Context, id hbs.ContentID, f func([]byte) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.nc.Load(ctx, &LoadRequest{ID: id})
	if err != nil {
		return errors.Wrapf(rpc.FromStatus(err), "loading %s", id)
	}
	return rpc.FromStatus(window.Recv(ctx, c.Timeout, stream.Recv, func(resp *LoadResponse) error {
		return f(resp.Chunk)
	}))
}

// Stat gets the node's cumulative counters.
func (c *Client) Stat(ctx context.Context) (hbs.Stat, error) {
	resp, err := c.nc.Stat(ctx, &StatRequest{})
	if err != nil {
		return hbs.Stat{}, rpc.FromStatus(err)
	}
	return resp.Stat, nil
}

// Clone gets one page of the node's clone log, starting at offset from.
// An empty result means the caller is caught up.
func (c *Client) Clone(ctx context.Context, from uint64) ([]hbs.CloneRow, error) {
	resp, err := c.nc.Clone(ctx, &CloneRequest{From: from})
	if err != nil {
		return nil, rpc.FromStatus(err)
	}
	return resp.Rows, nil
}

// Metrics calls f with each entry of the node's metrics log at or after offset from.
func (c *Client) Metrics(ctx context.Context, from uint64, f func(hbs.MetricSample) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.nc.Metrics(ctx, &MetricsRequest{From: from})
	if err != nil {
		return rpc.FromStatus(err)
	}
	return rpc.FromStatus(window.Recv(ctx, c.Timeout, stream.Recv, func(resp *MetricsResponse) error {
		return f(resp.Sample)
	}))
}
