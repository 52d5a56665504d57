// Package logging implements a Router index that delegates everything to a nested index,
// logging operations as they happen.
package logging

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/bobg/hbs"
	"github.com/bobg/hbs/index"
)

var _ index.Index = &Index{}

// Index logs each call to its nested index.
// Calls are logged to the zerolog.Logger in their context,
// or to the Index's own Logger if the context has none.
type Index struct {
	x   index.Index
	log zerolog.Logger
}

// New produces an Index wrapping x.
// Successful calls are logged at level,
// failed ones at error level.
func New(x index.Index, log zerolog.Logger, level zerolog.Level) *Index {
	return &Index{x: x, log: log.Level(level)}
}

func (x *Index) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &x.log
}

func (x *Index) event(ctx context.Context, err error) *zerolog.Event {
	log := x.logger(ctx)
	if err != nil {
		return log.Error().Err(err)
	}
	return log.WithLevel(x.log.GetLevel())
}

func (x *Index) Has(ctx context.Context, id hbs.ContentID) (bool, error) {
	has, err := x.x.Has(ctx, id)
	x.event(ctx, err).Stringer("id", id).Bool("has", has).Msg("Has")
	return has, err
}

func (x *Index) Size(ctx context.Context, id hbs.ContentID) (uint64, bool, error) {
	size, ok, err := x.x.Size(ctx, id)
	x.event(ctx, err).Stringer("id", id).Uint64("size", size).Bool("found", ok).Msg("Size")
	return size, ok, err
}

func (x *Index) RecordSaved(ctx context.Context, id hbs.ContentID, size uint64, node string, at time.Time) error {
	err := x.x.RecordSaved(ctx, id, size, node, at)
	x.event(ctx, err).Stringer("id", id).Uint64("size", size).Str("node", node).Time("at", at).Msg("RecordSaved")
	return err
}

func (x *Index) LocationsFor(ctx context.Context, id hbs.ContentID) ([]index.Location, error) {
	locs, err := x.x.LocationsFor(ctx, id)
	nodes := make([]string, 0, len(locs))
	for _, loc := range locs {
		nodes = append(nodes, loc.Node)
	}
	x.event(ctx, err).Stringer("id", id).Strs("nodes", nodes).Msg("LocationsFor")
	return locs, err
}

func (x *Index) Saves(ctx context.Context, from uint64, limit int) ([]index.SaveRecord, error) {
	saves, err := x.x.Saves(ctx, from, limit)
	x.event(ctx, err).Uint64("from", from).Int("limit", limit).Int("records", len(saves)).Msg("Saves")
	return saves, err
}

func (x *Index) Stat(ctx context.Context) (index.Stat, error) {
	s, err := x.x.Stat(ctx)
	x.event(ctx, err).Uint64("objects", s.Objects).Uint64("bytes", s.Bytes).Uint64("locations", s.Locations).Msg("Stat")
	return s, err
}

func (x *Index) Close() error {
	err := x.x.Close()
	if err != nil {
		x.log.Error().Err(err).Msg("Close")
	}
	return err
}

func init() {
	index.Register("logging", func(ctx context.Context, conf map[string]interface{}) (index.Index, error) {
		nested, err := index.CreateNested(ctx, conf)
		if err != nil {
			return nil, err
		}
		level := zerolog.DebugLevel
		if s, ok := conf["level"].(string); ok {
			if level, err = zerolog.ParseLevel(s); err != nil {
				return nil, err
			}
		}
		return New(nested, *zerolog.Ctx(ctx), level), nil
	})
}
