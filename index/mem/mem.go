// Package mem implements an in-memory Router index.
package mem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bobg/hbs"
	"github.com/bobg/hbs/index"
)

var _ index.Index = &Index{}

// Index is a memory-based implementation of a Router index.
type Index struct {
	mu        sync.Mutex
	sizes     map[hbs.ContentID]uint64
	locations map[hbs.ContentID][]index.Location
	saves     []index.SaveRecord
}

// New produces a new Index.
func New() *Index {
	return &Index{
		sizes:     make(map[hbs.ContentID]uint64),
		locations: make(map[hbs.ContentID][]index.Location),
	}
}

// Has tells whether id has been recorded.
func (x *Index) Has(_ context.Context, id hbs.ContentID) (bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	_, ok := x.sizes[id]
	return ok, nil
}

// Size returns the recorded size of id.
func (x *Index) Size(_ context.Context, id hbs.ContentID) (uint64, bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	size, ok := x.sizes[id]
	return size, ok, nil
}

// RecordSaved records that node holds all size bytes of id.
func (x *Index) RecordSaved(_ context.Context, id hbs.ContentID, size uint64, node string, at time.Time) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.sizes[id] = size

	locs := x.locations[id]
	found := false
	for _, loc := range locs {
		if loc.Node == node {
			found = true
			break
		}
	}
	if !found {
		locs = append(locs, index.Location{Node: node, FirstSeen: at})
		sort.SliceStable(locs, func(i, j int) bool {
			if !locs[i].FirstSeen.Equal(locs[j].FirstSeen) {
				return locs[i].FirstSeen.Before(locs[j].FirstSeen)
			}
			return locs[i].Node < locs[j].Node
		})
		x.locations[id] = locs
	}

	x.saves = append(x.saves, index.SaveRecord{
		Offset: uint64(len(x.saves)),
		ID:     id,
		Size:   size,
		Node:   node,
		At:     at,
	})
	return nil
}

// LocationsFor lists the nodes holding id.
func (x *Index) LocationsFor(_ context.Context, id hbs.ContentID) ([]index.Location, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	return append([]index.Location(nil), x.locations[id]...), nil
}

// Saves returns a page of the save history.
func (x *Index) Saves(_ context.Context, from uint64, limit int) ([]index.SaveRecord, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if limit <= 0 || from >= uint64(len(x.saves)) {
		return nil, nil
	}
	end := len(x.saves)
	if int(from)+limit < end {
		end = int(from) + limit
	}
	return append([]index.SaveRecord(nil), x.saves[from:end]...), nil
}

// Stat summarizes the index.
func (x *Index) Stat(context.Context) (index.Stat, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	var s index.Stat
	for id, size := range x.sizes {
		s.Objects++
		s.Bytes += size
		s.Locations += uint64(len(x.locations[id]))
	}
	return s, nil
}

// Close implements index.Index.
func (x *Index) Close() error {
	return nil
}

func init() {
	index.Register("mem", func(context.Context, map[string]interface{}) (index.Index, error) {
		return New(), nil
	})
}
