// Package lru implements a Router index that caches
// the membership and size records of a nested index.
package lru

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/bobg/hbs"
	"github.com/bobg/hbs/index"
)

var _ index.Index = &Index{}

// Index is a memory-based least-recently-used cache for a Router index.
// It caches only positive answers to Has and Size,
// which is safe because index records are never deleted.
// Writes and location queries pass through to the nested index.
type Index struct {
	c *lru.Cache // ContentID->size
	x index.Index
}

// New produces a new Index backed by `x` and caching up to `size` records.
func New(x index.Index, size int) (*Index, error) {
	c, err := lru.New(size)
	return &Index{x: x, c: c}, err
}

// Has tells whether id has been recorded.
func (x *Index) Has(ctx context.Context, id hbs.ContentID) (bool, error) {
	_, ok, err := x.Size(ctx, id)
	return ok, err
}

// Size returns the recorded size of id.
func (x *Index) Size(ctx context.Context, id hbs.ContentID) (uint64, bool, error) {
	if size, ok := x.c.Get(id); ok {
		return size.(uint64), true, nil
	}
	size, ok, err := x.x.Size(ctx, id)
	if err != nil || !ok {
		return 0, false, err
	}
	x.c.Add(id, size)
	return size, true, nil
}

// RecordSaved passes through to the nested index
// and caches the new size.
func (x *Index) RecordSaved(ctx context.Context, id hbs.ContentID, size uint64, node string, at time.Time) error {
	if err := x.x.RecordSaved(ctx, id, size, node, at); err != nil {
		return err
	}
	x.c.Add(id, size)
	return nil
}

// LocationsFor passes through to the nested index.
func (x *Index) LocationsFor(ctx context.Context, id hbs.ContentID) ([]index.Location, error) {
	return x.x.LocationsFor(ctx, id)
}

// Saves passes through to the nested index.
func (x *Index) Saves(ctx context.Context, from uint64, limit int) ([]index.SaveRecord, error) {
	return x.x.Saves(ctx, from, limit)
}

// Stat passes through to the nested index.
func (x *Index) Stat(ctx context.Context) (index.Stat, error) {
	return x.x.Stat(ctx)
}

// Close closes the nested index.
func (x *Index) Close() error {
	x.c.Purge()
	return x.x.Close()
}

func init() {
	index.Register("lru", func(ctx context.Context, conf map[string]interface{}) (index.Index, error) {
		size, ok := index.ConfInt(conf, "size")
		if !ok {
			return nil, errors.New(`missing "size" parameter`)
		}
		nestedIndex, err := index.CreateNested(ctx, conf)
		if err != nil {
			return nil, err
		}
		return New(nestedIndex, size)
	})
}
