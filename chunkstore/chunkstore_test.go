package chunkstore

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/hbs"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "", Options{InMemory: true, BlockSize: 1024})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func rowsFor(id hbs.ContentID, chunks ...string) []hbs.Row {
	var rows []hbs.Row
	for i, c := range chunks {
		rows = append(rows, hbs.Row{Key: hbs.ChunkKey{ID: id, Index: uint64(i)}, Data: []byte(c)})
	}
	return rows
}

func loadAll(ctx context.Context, t *testing.T, s *Store, id hbs.ContentID) []string {
	t.Helper()
	var got []string
	err := s.Load(ctx, id, func(b []byte) error {
		got = append(got, string(b))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return got
}

func cloneAll(ctx context.Context, t *testing.T, s *Store, from uint64) []hbs.CloneRow {
	t.Helper()
	var got []hbs.CloneRow
	err := s.Clone(ctx, from, func(row hbs.CloneRow) error {
		got = append(got, row)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return got
}

func TestSaveLoad(t *testing.T) {
	var (
		ctx = context.Background()
		s   = newTestStore(t)
		id1 = hbs.Hash([]byte("one"))
		id2 = hbs.Hash([]byte("two"))
	)

	// Out-of-order indexes must still load in index order.
	rows := rowsFor(id1, "a", "b", "c")
	rows[0], rows[2] = rows[2], rows[0]
	if err := s.Save(ctx, rows); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, rowsFor(id2, "x")); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"a", "b", "c"}, loadAll(ctx, t, s, id1)); diff != "" {
		t.Errorf("id1 mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"x"}, loadAll(ctx, t, s, id2)); diff != "" {
		t.Errorf("id2 mismatch (-want +got):\n%s", diff)
	}
	if got := loadAll(ctx, t, s, hbs.Hash([]byte("absent"))); len(got) != 0 {
		t.Errorf("absent id loaded %v", got)
	}

	stat, err := s.Stat(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want := (hbs.Stat{TotalBytes: 4, TotalBlocks: 4}); stat != want {
		t.Errorf("got stat %+v, want %+v", stat, want)
	}
}

func TestCloneLog(t *testing.T) {
	var (
		ctx = context.Background()
		s   = newTestStore(t)
		id1 = hbs.Hash([]byte("one"))
		id2 = hbs.Hash([]byte("two"))
	)

	if err := s.Save(ctx, rowsFor(id1, "a", "b")); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, rowsFor(id2, "c")); err != nil {
		t.Fatal(err)
	}

	got := cloneAll(ctx, t, s, 0)
	want := []hbs.CloneRow{
		{Offset: 0, Row: rowsFor(id1, "a")[0]},
		{Offset: 1, Row: rowsFor(id1, "a", "b")[1]},
		{Offset: 2, Row: rowsFor(id2, "c")[0]},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(want[2:], cloneAll(ctx, t, s, 2)); diff != "" {
		t.Errorf("from 2 mismatch (-want +got):\n%s", diff)
	}
	if got := cloneAll(ctx, t, s, 3); len(got) != 0 {
		t.Errorf("from 3 got %d rows, want 0", len(got))
	}
}

func TestSaveIdempotent(t *testing.T) {
	var (
		ctx = context.Background()
		s   = newTestStore(t)
		id  = hbs.Hash([]byte("one"))
	)

	for i := 0; i < 2; i++ {
		if err := s.Save(ctx, rowsFor(id, "a", "b")); err != nil {
			t.Fatal(err)
		}
	}
	if n := s.CloneLogLen(); n != 2 {
		t.Errorf("clone log has %d entries, want 2", n)
	}
	stat, _ := s.Stat(ctx)
	if want := (hbs.Stat{TotalBytes: 2, TotalBlocks: 2}); stat != want {
		t.Errorf("got stat %+v, want %+v", stat, want)
	}

	var samples []hbs.MetricSample
	err := s.Metrics(ctx, 0, func(m hbs.MetricSample) error {
		samples = append(samples, m)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 2 {
		t.Fatalf("got %d metric samples, want 2", len(samples))
	}
	if samples[0].Bytes != 2 || samples[0].Blocks != 2 || samples[0].Time.IsZero() {
		t.Errorf("unexpected first sample %+v", samples[0])
	}
	// The repeat wrote nothing but is still sampled.
	if samples[1].Offset != 1 || samples[1].Bytes != 0 || samples[1].Blocks != 0 || samples[1].Time.IsZero() {
		t.Errorf("unexpected second sample %+v", samples[1])
	}
}

func TestInMemoryLargeChunks(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, "", Options{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if got := s.BlockSize(); got != MaxInMemoryBlockSize {
		t.Errorf("in-memory block size %d, want %d", got, MaxInMemoryBlockSize)
	}

	sizes := []int{1025, 64 << 10, MaxInMemoryBlockSize}
	for _, size := range sizes {
		id := hbs.Hash([]byte{byte(size), byte(size >> 8), byte(size >> 16)})
		data := bytes.Repeat([]byte{byte(size)}, size)
		if err = s.Save(ctx, []hbs.Row{{Key: hbs.ChunkKey{ID: id}, Data: data}}); err != nil {
			t.Fatalf("saving %d bytes: %s", size, err)
		}
		var got []byte
		err = s.Load(ctx, id, func(b []byte) error {
			got = append(got, b...)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("loaded %d bytes, want %d", len(got), size)
		}
	}
}

func TestInMemoryBlockSizeLimit(t *testing.T) {
	_, err := Open(context.Background(), "", Options{InMemory: true, BlockSize: MaxInMemoryBlockSize + 1})
	if err == nil {
		t.Fatal("opened an in-memory store with a block size over the limit")
	}
}

func TestSaveSplitsBigTransaction(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, "", Options{InMemory: true})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	// More full-size chunks than one BadgerDB transaction can carry.
	var (
		id   = hbs.Hash([]byte("many"))
		rows []hbs.Row
	)
	for i := 0; i < 12; i++ {
		rows = append(rows, hbs.Row{Key: hbs.ChunkKey{ID: id, Index: uint64(i)}, Data: bytes.Repeat([]byte{byte(i)}, MaxInMemoryBlockSize)})
	}
	if err = s.Save(ctx, rows); err != nil {
		t.Fatal(err)
	}

	var n int
	err = s.Load(ctx, id, func(b []byte) error {
		if len(b) != MaxInMemoryBlockSize || b[0] != byte(n) {
			t.Errorf("chunk %d: got %d bytes starting %d", n, len(b), b[0])
		}
		n++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != len(rows) {
		t.Errorf("loaded %d chunks, want %d", n, len(rows))
	}
	if got := s.CloneLogLen(); got != uint64(len(rows)) {
		t.Errorf("clone log has %d entries, want %d", got, len(rows))
	}
}

func TestStatDuringWrite(t *testing.T) {
	var (
		ctx = context.Background()
		s   = newTestStore(t)
	)
	if err := s.Save(ctx, rowsFor(hbs.Hash([]byte("x")), "abc")); err != nil {
		t.Fatal(err)
	}

	// Stand in for a writer in the middle of a transaction.
	s.mu.Lock()
	defer s.mu.Unlock()

	done := make(chan hbs.Stat)
	go func() {
		stat, _ := s.Stat(ctx)
		s.CloneLogLen()
		done <- stat
	}()

	select {
	case stat := <-done:
		if want := (hbs.Stat{TotalBytes: 3, TotalBlocks: 1}); stat != want {
			t.Errorf("got stat %+v, want %+v", stat, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stat waited for the writer")
	}
}

func TestSaveTooLarge(t *testing.T) {
	var (
		ctx = context.Background()
		s   = newTestStore(t)
		id  = hbs.Hash([]byte("big"))
	)
	rows := []hbs.Row{
		{Key: hbs.ChunkKey{ID: id}, Data: []byte("fine")},
		{Key: hbs.ChunkKey{ID: id, Index: 1}, Data: bytes.Repeat([]byte{'x'}, 1025)},
	}
	err := s.Save(ctx, rows)
	if !errors.Is(err, hbs.ErrTooLarge) {
		t.Fatalf("got %v, want ErrTooLarge", err)
	}
	if got := loadAll(ctx, t, s, id); len(got) != 0 {
		t.Errorf("failed save left %d chunks behind", len(got))
	}
	if n := s.CloneLogLen(); n != 0 {
		t.Errorf("failed save left %d clone log entries", n)
	}
}

func TestApplyClone(t *testing.T) {
	var (
		ctx = context.Background()
		src = newTestStore(t)
		dst = newTestStore(t)
		id1 = hbs.Hash([]byte("one"))
		id2 = hbs.Hash([]byte("two"))
	)

	if err := src.Save(ctx, rowsFor(id1, "a", "b")); err != nil {
		t.Fatal(err)
	}
	if err := src.Save(ctx, rowsFor(id2, "c")); err != nil {
		t.Fatal(err)
	}

	next, err := dst.NextCloneOffset(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if next != 0 {
		t.Fatalf("fresh store has next clone offset %d", next)
	}

	if _, ok, err := dst.ApplyClone(ctx, nil); err != nil || ok {
		t.Fatalf("empty apply: ok=%v err=%v", ok, err)
	}

	rows := cloneAll(ctx, t, src, 0)

	last, ok, err := dst.ApplyClone(ctx, rows[:2])
	if err != nil {
		t.Fatal(err)
	}
	if !ok || last != 1 {
		t.Fatalf("got last=%d ok=%v, want 1 true", last, ok)
	}
	if next, _ = dst.NextCloneOffset(ctx); next != 2 {
		t.Fatalf("next clone offset %d, want 2", next)
	}

	// Re-applying overlapping rows must not duplicate anything.
	if _, _, err = dst.ApplyClone(ctx, rows); err != nil {
		t.Fatal(err)
	}
	if n := dst.CloneLogLen(); n != 3 {
		t.Errorf("replica clone log has %d entries, want 3", n)
	}
	if next, _ = dst.NextCloneOffset(ctx); next != 3 {
		t.Errorf("next clone offset %d, want 3", next)
	}

	for _, id := range []hbs.ContentID{id1, id2} {
		if diff := cmp.Diff(loadAll(ctx, t, src, id), loadAll(ctx, t, dst, id)); diff != "" {
			t.Errorf("%s mismatch (-src +dst):\n%s", id, diff)
		}
	}

	srcStat, _ := src.Stat(ctx)
	dstStat, _ := dst.Stat(ctx)
	if srcStat != dstStat {
		t.Errorf("replica stat %+v differs from source %+v", dstStat, srcStat)
	}
}

func TestReopen(t *testing.T) {
	var (
		ctx = context.Background()
		dir = t.TempDir()
		id  = hbs.Hash([]byte("persist"))
	)

	s, err := Open(ctx, dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err = s.Save(ctx, rowsFor(id, "a", "b")); err != nil {
		t.Fatal(err)
	}
	if _, _, err = s.ApplyClone(ctx, []hbs.CloneRow{{Offset: 41, Row: rowsFor(hbs.Hash([]byte("up")), "u")[0]}}); err != nil {
		t.Fatal(err)
	}
	if err = s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(ctx, dir, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if n := s.CloneLogLen(); n != 3 {
		t.Errorf("reopened clone log has %d entries, want 3", n)
	}
	if next, _ := s.NextCloneOffset(ctx); next != 42 {
		t.Errorf("reopened next clone offset %d, want 42", next)
	}
	stat, _ := s.Stat(ctx)
	if want := (hbs.Stat{TotalBytes: 3, TotalBlocks: 3}); stat != want {
		t.Errorf("reopened stat %+v, want %+v", stat, want)
	}

	if err = s.Save(ctx, rowsFor(hbs.Hash([]byte("more")), "m")); err != nil {
		t.Fatal(err)
	}
	rows := cloneAll(ctx, t, s, 3)
	if len(rows) != 1 || rows[0].Offset != 3 {
		t.Errorf("clone log did not continue at offset 3: %+v", rows)
	}
}
