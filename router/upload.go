package router

import (
	"crypto/sha256"
	"fmt"
	"hash"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/bobg/hbs"
	"github.com/bobg/hbs/node"
	"github.com/bobg/hbs/rpc"
	"github.com/bobg/hbs/window"
)

// Upload runs the server side of an upload.
//
// The client begins by declaring the id and size of the object.
// If the index already has the id, the server replies Exists and the upload ends.
// Otherwise the server picks a node,
// opens a save stream to it,
// and replies Ready with a session id and a window size.
// The client then sends the object in Data messages of exactly that size
// (the last may be shorter)
// and the server acknowledges each one.
// Each window becomes one chunk on the node.
// Finally the client sends Commit.
// The server checks the size and hash of what it received,
// closes the node stream,
// and requires the node to confirm every chunk
// before recording the object in the index and replying Done.
func (r *Router) Upload(stream Router_UploadServer) error {
	err := r.upload(stream)
	switch {
	case err == nil:
	case errors.Is(err, errUploadExists):
		err = nil
	default:
		r.metrics.uploads.WithLabelValues("error").Inc()
	}
	return rpc.ToStatus(err)
}

var errUploadExists = errors.New("upload exists")

type uploadSession struct {
	r      *Router
	stream Router_UploadServer

	id      hbs.ContentID
	size    uint64
	session string

	node    string
	save    *node.SaveSession
	hasher  hash.Hash
	got     uint64
	windows uint64
}

func (r *Router) upload(stream Router_UploadServer) error {
	ctx := stream.Context()

	begin, err := r.recvUpload(stream)
	if err != nil {
		return errors.Wrap(err, "receiving begin")
	}
	if begin.Kind != UploadBegin {
		return rpc.Invalid(fmt.Errorf("upload began with message kind %d", begin.Kind))
	}

	has, err := r.idx.Has(ctx, begin.ID)
	if err != nil {
		return errors.Wrapf(err, "checking index for %s", begin.ID)
	}
	if has {
		r.metrics.dedupHits.Inc()
		r.metrics.uploads.WithLabelValues("exists").Inc()
		if err = stream.Send(&UploadResponse{Kind: UploadExists}); err != nil {
			return errors.Wrap(err, "sending exists")
		}
		return errUploadExists
	}

	name, c, err := r.pool.Pick(ctx)
	if err != nil {
		return err
	}
	c.Timeout = r.cfg.StepTimeout
	save, err := c.OpenSave(ctx)
	if err != nil {
		return errors.Wrapf(err, "opening save stream to %s", name)
	}

	u := &uploadSession{
		r:       r,
		stream:  stream,
		id:      begin.ID,
		size:    begin.Size,
		session: uuid.NewString(),
		node:    name,
		save:    save,
		hasher:  sha256.New(),
	}

	log := zerolog.Ctx(ctx).With().Str("session", u.session).Str("node", name).Stringer("id", u.id).Logger()
	log.Debug().Uint64("size", u.size).Msg("upload ready")

	if err = u.run(); err != nil {
		save.Abort()
		log.Debug().Err(err).Uint64("received", u.got).Msg("upload failed")
		return err
	}
	return nil
}

func (u *uploadSession) run() error {
	var (
		r   = u.r
		ctx = u.stream.Context()
	)

	err := u.stream.Send(&UploadResponse{Kind: UploadReady, Session: u.session, Window: uint64(r.cfg.UploadWindow)})
	if err != nil {
		return errors.Wrap(err, "sending ready")
	}

	for {
		req, err := r.recvUpload(u.stream)
		if err != nil {
			return errors.Wrapf(err, "receiving window %d", u.windows)
		}
		if req.Session != u.session {
			return rpc.Invalid(fmt.Errorf("message for session %q in session %s", req.Session, u.session))
		}

		switch req.Kind {
		case UploadData:
			if err = u.data(req.Data); err != nil {
				return err
			}

		case UploadCommit:
			if err = u.commit(); err != nil {
				return err
			}
			r.metrics.uploads.WithLabelValues("ok").Inc()
			r.metrics.storedBlobs.Inc()
			r.metrics.storedBytes.Add(float64(u.size))
			zerolog.Ctx(ctx).Debug().Str("session", u.session).Uint64("windows", u.windows).Msg("upload done")
			return u.stream.Send(&UploadResponse{Kind: UploadDone})

		default:
			return rpc.Invalid(fmt.Errorf("unexpected upload message kind %d", req.Kind))
		}
	}
}

func (u *uploadSession) data(b []byte) error {
	limit := uint64(u.r.cfg.UploadWindow)
	if uint64(len(b)) > limit {
		return rpc.Invalid(fmt.Errorf("window %d has %d bytes, limit %d", u.windows, len(b), limit))
	}
	if u.got%limit != 0 {
		return rpc.Invalid(fmt.Errorf("window %d follows a short window", u.windows))
	}
	if u.got+uint64(len(b)) > u.size {
		return rpc.Invalid(fmt.Errorf("upload exceeds declared size %d", u.size))
	}
	if len(b) == 0 {
		return rpc.Invalid(fmt.Errorf("window %d is empty", u.windows))
	}

	row := hbs.Row{Key: hbs.ChunkKey{ID: u.id, Index: u.windows}, Data: b}
	if err := u.save.Send(row); err != nil {
		return errors.Wrapf(err, "forwarding window %d to %s", u.windows, u.node)
	}
	u.hasher.Write(b)
	u.got += uint64(len(b))
	u.windows++
	u.r.metrics.uploadBytes.Add(float64(len(b)))

	return errors.Wrapf(u.stream.Send(&UploadResponse{Kind: UploadAck, Seq: u.windows}), "acknowledging window %d", u.windows-1)
}

func (u *uploadSession) commit() error {
	if u.got != u.size {
		return rpc.Invalid(fmt.Errorf("received %d bytes, declared %d", u.got, u.size))
	}
	var got hbs.ContentID
	u.hasher.Sum(got[:0])
	if got != u.id {
		return rpc.Invalid(fmt.Errorf("received content has id %s, declared %s", got, u.id))
	}

	if u.windows == 0 {
		// The empty object is stored as one empty chunk.
		if err := u.save.Send(hbs.Row{Key: hbs.ChunkKey{ID: u.id}, Data: []byte{}}); err != nil {
			return errors.Wrapf(err, "forwarding empty object to %s", u.node)
		}
		u.windows = 1
	}

	n, err := u.save.Close()
	if err != nil {
		return errors.Wrapf(err, "closing save stream to %s", u.node)
	}
	if n != u.windows {
		return hbs.IOError(errors.Errorf("node %s confirmed %d of %d chunks", u.node, n, u.windows))
	}

	ctx := u.stream.Context()
	return errors.Wrapf(u.r.idx.RecordSaved(ctx, u.id, u.size, u.node, u.r.now()), "recording %s", u.id)
}

func (r *Router) recvUpload(stream Router_UploadServer) (*UploadRequest, error) {
	var req *UploadRequest
	err := window.Step(stream.Context(), r.cfg.StepTimeout, func() error {
		var err error
		req, err = stream.Recv()
		return err
	})
	return req, err
}
