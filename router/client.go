package router

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"

	"github.com/bobg/hbs"
	"github.com/bobg/hbs/index"
	"github.com/bobg/hbs/rpc"
	"github.com/bobg/hbs/window"
)

// Client talks to a Router.
// Errors from the Router come back as errors of the kinds in package hbs.
type Client struct {
	rc RouterClient

	// Timeout bounds each receive on a streaming call.
	Timeout time.Duration
}

// NewClient produces a Client on cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{rc: NewRouterClient(cc), Timeout: DefaultStepTimeout}
}

// Save stores blobs and returns the number newly stored.
func (c *Client) Save(ctx context.Context, blobs [][]byte) (int, error) {
	resp, err := c.rc.Save(ctx, &SaveRequest{Blobs: blobs})
	if err != nil {
		return 0, rpc.FromStatus(err)
	}
	return int(resp.Stored), nil
}

// Wants returns those ids the Router does not have.
func (c *Client) Wants(ctx context.Context, ids []hbs.ContentID) ([]hbs.ContentID, error) {
	resp, err := c.rc.Wants(ctx, &WantsRequest{IDs: ids})
	if err != nil {
		return nil, rpc.FromStatus(err)
	}
	return resp.Missing, nil
}

// Fetch writes the content of id to w.
func (c *Client) Fetch(ctx context.Context, id hbs.ContentID, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.rc.Fetch(ctx, &FetchRequest{ID: id})
	if err != nil {
		return errors.Wrapf(rpc.FromStatus(err), "fetching %s", id)
	}
	return rpc.FromStatus(window.Recv(ctx, c.Timeout, stream.Recv, func(resp *FetchResponse) error {
		_, err := w.Write(resp.Chunk)
		return err
	}))
}

// Stat gets the Router's index summary and the state of its pool members.
func (c *Client) Stat(ctx context.Context) (index.Stat, []NodeStat, error) {
	resp, err := c.rc.Stat(ctx, &StatRequest{})
	if err != nil {
		return index.Stat{}, nil, rpc.FromStatus(err)
	}
	return resp.Index, resp.Nodes, nil
}

// Metrics gets one page of the Router's save history starting at offset from.
func (c *Client) Metrics(ctx context.Context, from uint64, pageSize int) ([]index.SaveRecord, error) {
	resp, err := c.rc.Metrics(ctx, &MetricsRequest{From: from, PageSize: uint64(pageSize)})
	if err != nil {
		return nil, rpc.FromStatus(err)
	}
	return resp.Records, nil
}

// Upload stores the size bytes read from r under id,
// which must be their SHA2-256 hash.
// It reports whether the content was newly stored;
// false means the Router already had it and r was not read.
func (c *Client) Upload(ctx context.Context, id hbs.ContentID, size uint64, r io.Reader) (bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.rc.Upload(ctx)
	if err != nil {
		return false, errors.Wrap(rpc.FromStatus(err), "opening upload stream")
	}

	recv := func(want UploadResponseKind) (*UploadResponse, error) {
		var resp *UploadResponse
		err := window.Step(ctx, c.Timeout, func() error {
			var err error
			resp, err = stream.Recv()
			return err
		})
		if err != nil {
			return nil, rpc.FromStatus(err)
		}
		if resp.Kind != want {
			return nil, fmt.Errorf("got upload response kind %d, want %d", resp.Kind, want)
		}
		return resp, nil
	}

	if err = stream.Send(&UploadRequest{Kind: UploadBegin, ID: id, Size: size}); err != nil {
		return false, uploadSendErr(stream, err)
	}

	var resp *UploadResponse
	err = window.Step(ctx, c.Timeout, func() error {
		var err error
		resp, err = stream.Recv()
		return err
	})
	if err != nil {
		return false, rpc.FromStatus(err)
	}
	switch resp.Kind {
	case UploadExists:
		return false, nil
	case UploadReady:
	default:
		return false, fmt.Errorf("got upload response kind %d, want ready", resp.Kind)
	}

	var (
		session = resp.Session
		buf     = make([]byte, resp.Window)
		sent    uint64
		seq     uint64
	)
	if len(buf) == 0 {
		return false, errors.New("router declared a zero upload window")
	}
	for sent < size {
		want := size - sent
		if want > uint64(len(buf)) {
			want = uint64(len(buf))
		}
		if _, err = io.ReadFull(r, buf[:want]); err != nil {
			return false, errors.Wrapf(err, "reading window %d", seq)
		}
		if err = stream.Send(&UploadRequest{Kind: UploadData, Session: session, Data: buf[:want]}); err != nil {
			return false, uploadSendErr(stream, err)
		}
		ack, err := recv(UploadAck)
		if err != nil {
			return false, errors.Wrapf(err, "awaiting ack of window %d", seq)
		}
		seq++
		if ack.Seq != seq {
			return false, fmt.Errorf("window %d acknowledged as %d", seq, ack.Seq)
		}
		sent += want
	}

	if err = stream.Send(&UploadRequest{Kind: UploadCommit, Session: session}); err != nil {
		return false, uploadSendErr(stream, err)
	}
	if _, err = recv(UploadDone); err != nil {
		return false, errors.Wrap(err, "awaiting commit")
	}
	return true, stream.CloseSend()
}

// uploadSendErr gets the real error behind a failed Send:
// when the server has ended the stream, Send reports io.EOF
// and the status comes from Recv.
func uploadSendErr(stream Router_UploadClient, err error) error {
	if err != io.EOF {
		return rpc.FromStatus(err)
	}
	for {
		if _, err = stream.Recv(); err != nil {
			return rpc.FromStatus(err)
		}
	}
}
