// Package router implements the front end of a blob store:
// it deduplicates saves against an index,
// chooses storage nodes from a pool,
// and relays fetches from whichever node holds the content.
package router

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/bobg/hbs"
	"github.com/bobg/hbs/index"
)

// Router brokers saves and fetches across a pool of storage nodes.
type Router struct {
	idx     index.Index
	pool    *Pool
	cfg     Config
	metrics *metrics
	now     func() time.Time
}

// New produces a Router on idx and pool.
// The Router does not take ownership of either.
func New(idx index.Index, pool *Pool, cfg Config) *Router {
	cfg = cfg.withDefaults()
	return &Router{
		idx:     idx,
		pool:    pool,
		cfg:     cfg,
		metrics: newMetrics(cfg.Registerer),
		now:     time.Now,
	}
}

// Save stores each blob the index does not already know,
// as a single chunk, on one node from the pool.
// It returns the number of blobs newly stored.
//
// If the node fails, nothing is recorded in the index,
// so retrying the call is safe.
func (r *Router) Save(ctx context.Context, blobs [][]byte) (int, error) {
	type pending struct {
		id   hbs.ContentID
		blob []byte
	}

	var (
		todo []pending
		seen = make(map[hbs.ContentID]bool)
	)
	for _, blob := range blobs {
		id := hbs.Hash(blob)
		if seen[id] {
			continue
		}
		seen[id] = true

		has, err := r.idx.Has(ctx, id)
		if err != nil {
			return 0, errors.Wrapf(err, "checking index for %s", id)
		}
		if has {
			r.metrics.dedupHits.Inc()
			continue
		}
		if len(blob) > r.cfg.BlockSize {
			return 0, errors.Wrapf(hbs.ErrTooLarge, "blob %s has %d bytes, limit %d", id, len(blob), r.cfg.BlockSize)
		}
		todo = append(todo, pending{id: id, blob: blob})
	}
	if len(todo) == 0 {
		return 0, nil
	}

	name, c, err := r.pool.Pick(ctx)
	if err != nil {
		return 0, err
	}
	c.Timeout = r.cfg.StepTimeout

	rows := make([]hbs.Row, 0, len(todo))
	for _, p := range todo {
		rows = append(rows, hbs.Row{Key: hbs.ChunkKey{ID: p.id}, Data: p.blob})
	}

	start := time.Now()
	n, err := c.Save(ctx, rows)
	r.metrics.saveDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, errors.Wrapf(err, "saving %d blobs to %s", len(rows), name)
	}
	if n != uint64(len(rows)) {
		return 0, hbs.IOError(errors.Errorf("node %s committed %d of %d blobs", name, n, len(rows)))
	}

	now := r.now()
	for _, p := range todo {
		if err = r.idx.RecordSaved(ctx, p.id, uint64(len(p.blob)), name, now); err != nil {
			return 0, errors.Wrapf(err, "recording %s", p.id)
		}
		r.metrics.storedBlobs.Inc()
		r.metrics.storedBytes.Add(float64(len(p.blob)))
	}

	zerolog.Ctx(ctx).Debug().Str("node", name).Int("stored", len(todo)).Int("offered", len(blobs)).Msg("saved blobs")

	return len(todo), nil
}

// Wants returns those ids the index does not have,
// in the order given and without repeats.
// It does not contact any storage node.
func (r *Router) Wants(ctx context.Context, ids []hbs.ContentID) ([]hbs.ContentID, error) {
	var (
		missing []hbs.ContentID
		seen    = make(map[hbs.ContentID]bool)
	)
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		has, err := r.idx.Has(ctx, id)
		if err != nil {
			return nil, errors.Wrapf(err, "checking index for %s", id)
		}
		if !has {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// Fetch calls f with the chunks of id, in order,
// as relayed from the first of its locations that can serve it.
//
// It fails with hbs.ErrNotFound if the index has no location for id
// and with hbs.ErrUnavailable if none of its locations is reachable.
// A node that fails before producing any bytes is skipped in favor of the next location.
// Once bytes have reached f, a failure ends the call.
func (r *Router) Fetch(ctx context.Context, id hbs.ContentID, f func([]byte) error) error {
	err := r.fetch(ctx, id, f)
	switch {
	case err == nil:
		r.metrics.fetches.WithLabelValues("ok").Inc()
	case errors.Is(err, hbs.ErrNotFound):
		r.metrics.fetches.WithLabelValues("not_found").Inc()
	case errors.Is(err, hbs.ErrUnavailable):
		r.metrics.fetches.WithLabelValues("unavailable").Inc()
	default:
		r.metrics.fetches.WithLabelValues("error").Inc()
	}
	return err
}

func (r *Router) fetch(ctx context.Context, id hbs.ContentID, f func([]byte) error) error {
	locs, err := r.idx.LocationsFor(ctx, id)
	if err != nil {
		return errors.Wrapf(err, "looking up locations of %s", id)
	}
	if len(locs) == 0 {
		return errors.Wrapf(hbs.ErrNotFound, "fetching %s", id)
	}
	size, _, err := r.idx.Size(ctx, id)
	if err != nil {
		return errors.Wrapf(err, "looking up size of %s", id)
	}

	log := zerolog.Ctx(ctx)

	var (
		lastErr error
		reached bool
	)
	for _, loc := range locs {
		c, err := r.pool.Connect(ctx, loc.Node)
		if err != nil {
			log.Debug().Err(err).Str("node", loc.Node).Msg("location unreachable")
			lastErr = err
			continue
		}
		reached = true
		c.Timeout = r.cfg.Fetch.Timeout

		var (
			chunks int
			sent   uint64
		)
		err = c.Load(ctx, id, func(chunk []byte) error {
			chunks++
			// Never relay more than the indexed size.
			if remain := size - sent; uint64(len(chunk)) > remain {
				chunk = chunk[:remain]
			}
			sent += uint64(len(chunk))
			return f(chunk)
		})
		if err == nil && chunks > 0 {
			return nil
		}
		if err == nil {
			log.Warn().Str("node", loc.Node).Stringer("id", id).Msg("indexed location has no chunks")
			lastErr = errors.Wrapf(hbs.ErrNotFound, "node %s has no chunks of %s", loc.Node, id)
			continue
		}
		if chunks > 0 {
			return errors.Wrapf(err, "relaying %s from %s", id, loc.Node)
		}
		log.Debug().Err(err).Str("node", loc.Node).Msg("location failed")
		lastErr = err
	}
	if !reached {
		return errors.Wrapf(hbs.ErrUnavailable, "none of %d locations of %s is reachable", len(locs), id)
	}
	return errors.Wrapf(lastErr, "fetching %s", id)
}

// Stat summarizes the index and probes every pool member.
func (r *Router) Stat(ctx context.Context) (index.Stat, []NodeStat, error) {
	s, err := r.idx.Stat(ctx)
	if err != nil {
		return index.Stat{}, nil, errors.Wrap(err, "getting index stat")
	}
	return s, r.pool.Probe(ctx), nil
}

// Metrics returns one page of the save history starting at offset from.
// A zero pageSize gets the default;
// pageSize is capped at MaxMetricsPageSize.
func (r *Router) Metrics(ctx context.Context, from uint64, pageSize int) ([]index.SaveRecord, error) {
	if pageSize <= 0 {
		pageSize = DefaultMetricsPageSize
	}
	if pageSize > MaxMetricsPageSize {
		pageSize = MaxMetricsPageSize
	}
	return r.idx.Saves(ctx, from, pageSize)
}
