package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/hbs"
	"github.com/bobg/hbs/index"
)

// Index exercises an empty index.Index implementation.
func Index(ctx context.Context, t *testing.T, x index.Index) {
	var (
		id1 = hbs.Hash([]byte("one"))
		id2 = hbs.Hash([]byte("two"))

		t1 = time.Date(1977, 8, 5, 12, 0, 0, 0, time.UTC)
		t2 = t1.Add(time.Hour)
	)

	has, err := x.Has(ctx, id1)
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Fatal("empty index has id1")
	}
	locs, err := x.LocationsFor(ctx, id1)
	if err != nil {
		t.Fatal(err)
	}
	if len(locs) != 0 {
		t.Fatalf("empty index has %d locations for id1", len(locs))
	}

	record := func(id hbs.ContentID, size uint64, node string, at time.Time) {
		t.Helper()
		if err := x.RecordSaved(ctx, id, size, node, at); err != nil {
			t.Fatal(err)
		}
	}

	record(id1, 3, "b", t2)
	record(id1, 3, "c", t1)
	record(id1, 3, "a", t2)
	record(id2, 7, "a", t1)

	// A repeated location keeps its first-seen time.
	record(id1, 3, "b", t1)

	size, ok, err := x.Size(ctx, id1)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || size != 3 {
		t.Errorf("got size %d ok %v for id1, want 3 true", size, ok)
	}

	if has, err = x.Has(ctx, id2); err != nil {
		t.Fatal(err)
	}
	if !has {
		t.Error("index lacks id2")
	}

	locs, err = x.LocationsFor(ctx, id1)
	if err != nil {
		t.Fatal(err)
	}
	var nodes []string
	for _, loc := range locs {
		nodes = append(nodes, loc.Node)
	}
	if diff := cmp.Diff([]string{"c", "a", "b"}, nodes); diff != "" {
		t.Errorf("locations mismatch (-want +got):\n%s", diff)
	}
	if len(locs) > 0 && !locs[0].FirstSeen.Equal(t1) {
		t.Errorf("got first-seen time %s, want %s", locs[0].FirstSeen, t1)
	}

	stat, err := x.Stat(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want := (index.Stat{Objects: 2, Bytes: 10, Locations: 4}); stat != want {
		t.Errorf("got stat %+v, want %+v", stat, want)
	}

	saves, err := x.Saves(ctx, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(saves) != 5 {
		t.Fatalf("got %d save records, want 5", len(saves))
	}
	for i, s := range saves {
		if s.Offset != uint64(i) {
			t.Errorf("save record %d has offset %d", i, s.Offset)
		}
	}
	if saves[3].ID != id2 || saves[3].Size != 7 || saves[3].Node != "a" || !saves[3].At.Equal(t1) {
		t.Errorf("unexpected save record %+v", saves[3])
	}

	page, err := x.Saves(ctx, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].Offset != 2 || page[1].Offset != 3 {
		t.Errorf("unexpected page %+v", page)
	}
	if page, err = x.Saves(ctx, 5, 10); err != nil || len(page) != 0 {
		t.Errorf("page past the end: %d records, err %v", len(page), err)
	}

	concurrentSaves(ctx, t, x, 5)
}

// concurrentSaves records from several goroutines at once
// while a reader pages through the save history,
// and checks that every offset the reader saw still names the same record.
// The index already holds prior save records.
func concurrentSaves(ctx context.Context, t *testing.T, x index.Index, prior int) {
	const (
		writers = 4
		each    = 10
	)

	var (
		seen    = make(map[uint64]hbs.ContentID)
		g, gctx = errgroup.WithContext(ctx)
		done    = make(chan struct{})
	)
	for w := 0; w < writers; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < each; i++ {
				id := hbs.Hash([]byte(fmt.Sprintf("writer %d record %d", w, i)))
				if err := x.RecordSaved(gctx, id, uint64(i), fmt.Sprintf("n%d", w), time.Now()); err != nil {
					return err
				}
			}
			return nil
		})
	}

	reader := make(chan error, 1)
	go func() {
		var from uint64
		for {
			page, err := x.Saves(ctx, from, 3)
			if err != nil {
				reader <- err
				return
			}
			for _, rec := range page {
				seen[rec.Offset] = rec.ID
				from = rec.Offset + 1
			}
			select {
			case <-done:
				reader <- nil
				return
			default:
			}
		}
	}()

	err := g.Wait()
	close(done)
	if err != nil {
		t.Fatal(err)
	}
	if err = <-reader; err != nil {
		t.Fatal(err)
	}

	all, err := x.Saves(ctx, 0, prior+writers*each+1)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != prior+writers*each {
		t.Fatalf("got %d save records, want %d", len(all), prior+writers*each)
	}
	for i, rec := range all {
		if rec.Offset != uint64(i) {
			t.Fatalf("save record %d has offset %d", i, rec.Offset)
		}
		if id, ok := seen[rec.Offset]; ok && id != rec.ID {
			t.Errorf("offset %d named %s while writers ran, %s afterward", rec.Offset, id, rec.ID)
		}
	}
}
