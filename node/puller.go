package node

import (
	"context"
	stderrs "errors"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/bobg/hbs"
	"github.com/bobg/hbs/chunkstore"
)

// Cloner is the upstream of a Puller.
// Client implements it.
type Cloner interface {
	Clone(ctx context.Context, from uint64) ([]hbs.CloneRow, error)
}

// State is the state of a Puller.
type State int32

const (
	// Connecting means no pull has succeeded yet.
	Connecting State = iota

	// Pulling means the last pull returned rows,
	// so the next one follows immediately.
	Pulling

	// Idle means the last pull failed or found nothing new,
	// so the puller is waiting before trying again.
	Idle

	// Stopped means the puller's context was canceled.
	Stopped
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Pulling:
		return "pulling"
	case Idle:
		return "idle"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Puller pull-replicates an upstream node's clone log into a local chunk store.
// Delivery is at least once;
// re-applied rows are harmless.
type Puller struct {
	store    *chunkstore.Store
	upstream Cloner
	timeout  time.Duration
	interval time.Duration
	metrics  *metrics

	state int32 // atomic; holds a State
}

// NewPuller produces a Puller from upstream into store.
// It uses the CloneTimeout and PullInterval fields of cfg.
func NewPuller(store *chunkstore.Store, upstream Cloner, cfg Config) *Puller {
	cfg = cfg.withDefaults()
	return newPuller(store, upstream, cfg, newMetrics(cfg.Registerer, cfg.Name))
}

func newPuller(store *chunkstore.Store, upstream Cloner, cfg Config, m *metrics) *Puller {
	return &Puller{
		store:    store,
		upstream: upstream,
		timeout:  cfg.CloneTimeout,
		interval: cfg.PullInterval,
		metrics:  m,
	}
}

// State reports the puller's current state.
func (p *Puller) State() State {
	return State(atomic.LoadInt32(&p.state))
}

func (p *Puller) setState(s State) {
	atomic.StoreInt32(&p.state, int32(s))
	p.metrics.pullerState.Set(float64(s))
}

// Run pulls until ctx is canceled, then returns ctx.Err().
// Errors from the upstream or the local store are logged and retried.
func (p *Puller) Run(ctx context.Context) error {
	log := zerolog.Ctx(ctx)

	defer p.setState(Stopped)

	for {
		n, err := p.PullOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch {
		case stderrs.Is(err, hbs.ErrTimeout):
			log.Debug().Err(err).Msg("upstream clone timed out")
		case err != nil:
			log.Error().Err(err).Msg("pulling from upstream")
		}
		if err != nil {
			p.metrics.pullErrors.Inc()
		}

		if err == nil && n > 0 {
			p.setState(Pulling)
			continue
		}

		if err == nil || p.State() != Connecting {
			p.setState(Idle)
		}
		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// PullOnce performs one pull:
// it requests the clone log from the next offset not yet applied
// and applies whatever comes back.
// It returns the number of rows applied.
func (p *Puller) PullOnce(ctx context.Context) (int, error) {
	from, err := p.store.NextCloneOffset(ctx)
	if err != nil {
		return 0, err
	}

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	rows, err := p.upstream.Clone(cctx, from)
	if stderrs.Is(err, context.DeadlineExceeded) {
		err = hbs.ErrTimeout
	}
	if err != nil {
		return 0, errors.Wrapf(err, "cloning upstream from %d", from)
	}

	last, ok, err := p.store.ApplyClone(ctx, rows)
	if err != nil {
		return 0, errors.Wrapf(err, "applying %d rows from %d", len(rows), from)
	}
	if ok {
		zerolog.Ctx(ctx).Debug().Uint64("from", from).Uint64("last", last).Int("rows", len(rows)).Msg("applied clone rows")
	}
	p.metrics.pulledRows.Add(float64(len(rows)))
	return len(rows), nil
}
