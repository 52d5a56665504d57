package router

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"testing"
	"testing/quick"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc"

	"github.com/bobg/hbs"
	"github.com/bobg/hbs/index"
	"github.com/bobg/hbs/index/mem"
	"github.com/bobg/hbs/node"
	"github.com/bobg/hbs/testutil"
)

type cluster struct {
	net     *testutil.Net
	idx     *mem.Index
	pool    *Pool
	router  *Router
	client  *Client
	nodes   map[string]*node.Node
	servers map[string]*grpc.Server
}

// newCluster serves a node for each of names,
// plus a Router whose pool holds those nodes and the extra members in unserved.
func newCluster(ctx context.Context, t *testing.T, cfg Config, names []string, unserved ...string) *cluster {
	t.Helper()

	c := &cluster{
		net:     testutil.NewNet(),
		idx:     mem.New(),
		nodes:   make(map[string]*node.Node),
		servers: make(map[string]*grpc.Server),
	}

	members := make(map[string]string)
	for _, name := range names {
		n, err := node.Open(ctx, node.Config{Name: name, InMemory: true, BlockSize: testutil.TestBlockSize})
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { n.Close() })
		c.nodes[name] = n
		c.servers[name] = c.net.Serve(t, name, func(s *grpc.Server) { n.Register(s) })
		members[name] = name
	}
	for _, name := range unserved {
		members[name] = name
	}

	c.pool = NewPool(members, time.Second, c.net.DialOptions()...)
	t.Cleanup(func() { c.pool.Close() })

	cfg.BlockSize = testutil.TestBlockSize
	c.router = New(c.idx, c.pool, cfg)
	c.net.Serve(t, "router", func(s *grpc.Server) { c.router.Register(s) })
	c.client = NewClient(c.net.ClientConn(t, "router"))

	return c
}

// put stores chunks of id directly on a node, bypassing the Router.
func (c *cluster) put(ctx context.Context, t *testing.T, name string, id hbs.ContentID, chunks ...[]byte) {
	t.Helper()
	var rows []hbs.Row
	for i, chunk := range chunks {
		rows = append(rows, hbs.Row{Key: hbs.ChunkKey{ID: id, Index: uint64(i)}, Data: chunk})
	}
	if err := c.nodes[name].Store().Save(ctx, rows); err != nil {
		t.Fatal(err)
	}
}

func (c *cluster) fetch(ctx context.Context, id hbs.ContentID) ([]byte, error) {
	buf := new(bytes.Buffer)
	err := c.client.Fetch(ctx, id, buf)
	return buf.Bytes(), err
}

func TestSaveFetch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newCluster(ctx, t, Config{}, []string{"a", "b"})

	blobs := [][]byte{[]byte("Four score and seven years ago"), []byte("our fathers brought forth"), {}}
	n, err := c.client.Save(ctx, blobs)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(blobs) {
		t.Errorf("stored %d blobs, want %d", n, len(blobs))
	}

	for _, blob := range blobs {
		got, err := c.fetch(ctx, hbs.Hash(blob))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, blob) {
			t.Errorf("got %q, want %q", got, blob)
		}
	}
}

func TestSaveDedup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newCluster(ctx, t, Config{}, []string{"a", "b"})

	blob := []byte("said once")

	// Repeats within one call count once.
	n, err := c.client.Save(ctx, [][]byte{blob, blob})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("first save stored %d, want 1", n)
	}

	n, err = c.client.Save(ctx, [][]byte{blob})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second save stored %d, want 0", n)
	}

	locs, err := c.idx.LocationsFor(ctx, hbs.Hash(blob))
	if err != nil {
		t.Fatal(err)
	}
	if len(locs) != 1 {
		t.Errorf("got %d locations, want 1", len(locs))
	}
}

func TestSaveFetchLarge(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newCluster(ctx, t, Config{}, []string{"a", "b"})

	var blobs [][]byte
	for i, size := range []int{1025, 4096, testutil.TestBlockSize - 1, testutil.TestBlockSize} {
		blob := make([]byte, size)
		for j := range blob {
			blob[j] = byte(i + j*13)
		}
		blobs = append(blobs, blob)
	}

	n, err := c.client.Save(ctx, blobs)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(blobs) {
		t.Errorf("stored %d blobs, want %d", n, len(blobs))
	}
	for _, blob := range blobs {
		got, err := c.fetch(ctx, hbs.Hash(blob))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, blob) {
			t.Errorf("fetched %d bytes, want %d", len(got), len(blob))
		}
	}

	if n, err = c.client.Save(ctx, blobs); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second save stored %d, want 0", n)
	}
}

// blobSet is a few random blobs of up to one test block each,
// sometimes with a repeat.
type blobSet [][]byte

func (blobSet) Generate(r *rand.Rand, _ int) reflect.Value {
	var set blobSet
	for i := r.Intn(5); i >= 0; i-- {
		blob := make([]byte, r.Intn(testutil.TestBlockSize+1))
		r.Read(blob)
		set = append(set, blob)
	}
	if r.Intn(3) == 0 {
		set = append(set, set[r.Intn(len(set))])
	}
	return reflect.ValueOf(set)
}

func TestSaveFetchProperty(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newCluster(ctx, t, Config{}, []string{"a", "b"})

	f := func(set blobSet) bool {
		fresh := make(map[hbs.ContentID]bool)
		for _, blob := range set {
			id := hbs.Hash(blob)
			has, err := c.idx.Has(ctx, id)
			if err != nil {
				t.Log(err)
				return false
			}
			if !has {
				fresh[id] = true
			}
		}

		n, err := c.client.Save(ctx, set)
		if err != nil {
			t.Log(err)
			return false
		}
		if n != len(fresh) {
			t.Logf("stored %d blobs, want %d", n, len(fresh))
			return false
		}

		for _, blob := range set {
			got, err := c.fetch(ctx, hbs.Hash(blob))
			if err != nil {
				t.Log(err)
				return false
			}
			if !bytes.Equal(got, blob) {
				t.Logf("fetched %d bytes, want %d", len(got), len(blob))
				return false
			}
		}

		n, err = c.client.Save(ctx, set)
		if err != nil {
			t.Log(err)
			return false
		}
		if n != 0 {
			t.Logf("repeat save stored %d blobs", n)
			return false
		}
		return true
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 20}); err != nil {
		t.Error(err)
	}
}

func TestSaveNothingPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The only pool member cannot be reached,
	// so any attempt to pick a node would fail.
	c := newCluster(ctx, t, Config{}, nil, "gone")

	n, err := c.client.Save(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("empty save stored %d", n)
	}

	blob := []byte("already known")
	if err = c.idx.RecordSaved(ctx, hbs.Hash(blob), uint64(len(blob)), "gone", time.Now()); err != nil {
		t.Fatal(err)
	}
	n, err = c.client.Save(ctx, [][]byte{blob})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("save of known blob stored %d", n)
	}
}

func TestSaveNoBackend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newCluster(ctx, t, Config{}, nil, "gone1", "gone2")

	blob := []byte("nowhere to go")
	_, err := c.client.Save(ctx, [][]byte{blob})
	if !errors.Is(err, hbs.ErrNoBackend) {
		t.Fatalf("got error %v, want %v", err, hbs.ErrNoBackend)
	}

	has, err := c.idx.Has(ctx, hbs.Hash(blob))
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Error("failed save was recorded in the index")
	}
}

func TestSaveTooLarge(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newCluster(ctx, t, Config{}, []string{"a"})

	big := [][]byte{make([]byte, testutil.TestBlockSize+1)}

	_, err := c.router.Save(ctx, big)
	if !errors.Is(err, hbs.ErrTooLarge) {
		t.Errorf("got error %v, want %v", err, hbs.ErrTooLarge)
	}

	_, err = c.client.Save(ctx, big)
	if !errors.Is(err, hbs.ErrTooLarge) {
		t.Errorf("through the client, got error %v, want %v", err, hbs.ErrTooLarge)
	}
}

func TestWants(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newCluster(ctx, t, Config{}, []string{"a"})

	var (
		b1 = []byte("blob one")
		b2 = []byte("blob two")
		b3 = []byte("blob 333")
	)
	if _, err := c.client.Save(ctx, [][]byte{b1, b2}); err != nil {
		t.Fatal(err)
	}

	got, err := c.client.Wants(ctx, []hbs.ContentID{hbs.Hash(b1), hbs.Hash(b2), hbs.Hash(b3), hbs.Hash(b3)})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]hbs.ContentID{hbs.Hash(b3)}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	got, err = c.client.Wants(ctx, []hbs.ContentID{hbs.Hash(b1)})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("got %d wanted ids, want 0", len(got))
	}
}

func TestFetchNotFound(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newCluster(ctx, t, Config{}, []string{"a"})

	_, err := c.fetch(ctx, hbs.Hash([]byte("never saved")))
	if !errors.Is(err, hbs.ErrNotFound) {
		t.Errorf("got error %v, want %v", err, hbs.ErrNotFound)
	}
}

func TestFetchUnavailable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newCluster(ctx, t, Config{}, []string{"a"}, "gone")

	blob := []byte("stranded")
	id := hbs.Hash(blob)
	if err := c.idx.RecordSaved(ctx, id, uint64(len(blob)), "gone", time.Now()); err != nil {
		t.Fatal(err)
	}
	// A location outside the pool is no more reachable.
	if err := c.idx.RecordSaved(ctx, id, uint64(len(blob)), "stranger", time.Now()); err != nil {
		t.Fatal(err)
	}

	_, err := c.fetch(ctx, id)
	if !errors.Is(err, hbs.ErrUnavailable) {
		t.Errorf("got error %v, want %v", err, hbs.ErrUnavailable)
	}
}

func TestFetchFallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newCluster(ctx, t, Config{}, []string{"a", "b", "c"})

	var (
		t1 = time.Date(1977, 8, 5, 12, 0, 0, 0, time.UTC)
		t2 = t1.Add(time.Minute)
	)

	cases := []struct {
		name  string
		first string
		blob  []byte
		setup func(t *testing.T, id hbs.ContentID)
	}{{
		// a is down; b has the content.
		name:  "unreachable",
		first: "a",
		blob:  []byte("first location is down"),
		setup: func(t *testing.T, id hbs.ContentID) {
			c.put(ctx, t, "b", id, []byte("first location "), []byte("is down"))
			c.net.Stop("a", c.servers["a"])
		},
	}, {
		// c is indexed first but holds nothing.
		name:  "empty",
		first: "c",
		blob:  []byte("first location is empty"),
		setup: func(t *testing.T, id hbs.ContentID) {
			c.put(ctx, t, "b", id, []byte("first location is empty"))
		},
	}}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id := hbs.Hash(tc.blob)
			if err := c.idx.RecordSaved(ctx, id, uint64(len(tc.blob)), tc.first, t1); err != nil {
				t.Fatal(err)
			}
			if err := c.idx.RecordSaved(ctx, id, uint64(len(tc.blob)), "b", t2); err != nil {
				t.Fatal(err)
			}
			tc.setup(t, id)

			got, err := c.fetch(ctx, id)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tc.blob) {
				t.Errorf("got %q, want %q", got, tc.blob)
			}
		})
	}
}

func TestFetchTruncates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newCluster(ctx, t, Config{}, []string{"a"})

	id := hbs.Hash([]byte("abc"))
	c.put(ctx, t, "a", id, []byte("ab"), []byte("cdef"))
	if err := c.idx.RecordSaved(ctx, id, 3, "a", time.Now()); err != nil {
		t.Fatal(err)
	}

	got, err := c.fetch(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "abc" {
		t.Errorf("got %q, want abc", got)
	}
}

func TestUpload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newCluster(ctx, t, Config{UploadWindow: 1000}, []string{"a", "b"})

	for _, size := range []int{0, 1, 999, 1000, 1001, 3500} {
		t.Run(fmt.Sprintf("size_%d", size), func(t *testing.T) {
			obj := make([]byte, size)
			for i := range obj {
				obj[i] = byte(i * 7)
			}
			// Distinguish the objects so none dedups against another.
			if size > 0 {
				obj[0] = byte(size)
			}
			id := hbs.Hash(obj)

			stored, err := c.client.Upload(ctx, id, uint64(size), bytes.NewReader(obj))
			if err != nil {
				t.Fatal(err)
			}
			if !stored {
				t.Fatal("upload reported existing content")
			}

			got, err := c.fetch(ctx, id)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, obj) {
				t.Errorf("fetched %d bytes, want %d", len(got), len(obj))
			}

			gotSize, ok, err := c.idx.Size(ctx, id)
			if err != nil {
				t.Fatal(err)
			}
			if !ok || gotSize != uint64(size) {
				t.Errorf("index has size %d (%v), want %d", gotSize, ok, size)
			}

			stored, err = c.client.Upload(ctx, id, uint64(size), bytes.NewReader(obj))
			if err != nil {
				t.Fatal(err)
			}
			if stored {
				t.Error("second upload stored content again")
			}
		})
	}
}

func TestUploadFullWindows(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The default upload window is capped at the block size.
	c := newCluster(ctx, t, Config{}, []string{"a"})

	obj := make([]byte, 3*testutil.TestBlockSize+17)
	for i := range obj {
		obj[i] = byte(i * 31)
	}
	id := hbs.Hash(obj)

	stored, err := c.client.Upload(ctx, id, uint64(len(obj)), bytes.NewReader(obj))
	if err != nil {
		t.Fatal(err)
	}
	if !stored {
		t.Fatal("upload reported existing content")
	}

	got, err := c.fetch(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, obj) {
		t.Errorf("fetched %d bytes, want %d", len(got), len(obj))
	}

	var sizes []int
	err = c.nodes["a"].Store().Load(ctx, id, func(chunk []byte) error {
		sizes = append(sizes, len(chunk))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []int{testutil.TestBlockSize, testutil.TestBlockSize, testutil.TestBlockSize, 17}
	if diff := cmp.Diff(want, sizes); diff != "" {
		t.Errorf("chunk sizes mismatch (-want +got):\n%s", diff)
	}
}

func TestUploadChunking(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newCluster(ctx, t, Config{UploadWindow: 1000}, []string{"a"})

	obj := bytes.Repeat([]byte("x"), 2500)
	id := hbs.Hash(obj)
	if _, err := c.client.Upload(ctx, id, uint64(len(obj)), bytes.NewReader(obj)); err != nil {
		t.Fatal(err)
	}

	var sizes []int
	err := c.nodes["a"].Store().Load(ctx, id, func(chunk []byte) error {
		sizes = append(sizes, len(chunk))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{1000, 1000, 500}, sizes); diff != "" {
		t.Errorf("chunk sizes mismatch (-want +got):\n%s", diff)
	}
}

func TestUploadRejected(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newCluster(ctx, t, Config{UploadWindow: 1000}, []string{"a"})

	obj := bytes.Repeat([]byte("y"), 1500)

	cases := []struct {
		name string
		id   hbs.ContentID
		size uint64
		r    *bytes.Reader
	}{
		{name: "hash_mismatch", id: hbs.Hash([]byte("something else")), size: uint64(len(obj)), r: bytes.NewReader(obj)},
		{name: "short_read", id: hbs.Hash(obj), size: uint64(len(obj)) + 10, r: bytes.NewReader(obj)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := c.client.Upload(ctx, tc.id, tc.size, tc.r); err == nil {
				t.Fatal("upload succeeded")
			}
			has, err := c.idx.Has(ctx, tc.id)
			if err != nil {
				t.Fatal(err)
			}
			if has {
				t.Error("rejected upload was recorded in the index")
			}
		})
	}
}

func TestUploadNoBackend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newCluster(ctx, t, Config{}, nil, "gone")

	obj := []byte("no home")
	_, err := c.client.Upload(ctx, hbs.Hash(obj), uint64(len(obj)), bytes.NewReader(obj))
	if !errors.Is(err, hbs.ErrNoBackend) {
		t.Errorf("got error %v, want %v", err, hbs.ErrNoBackend)
	}
}

func TestStatMetrics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newCluster(ctx, t, Config{}, []string{"a", "b"}, "gone")

	var (
		blobs [][]byte
		total uint64
	)
	for i := 0; i < 5; i++ {
		blob := []byte(fmt.Sprintf("blob number %d", i))
		blobs = append(blobs, blob)
		total += uint64(len(blob))
		// One blob per call, so round-robin reaches every live node.
		if _, err := c.client.Save(ctx, [][]byte{blob}); err != nil {
			t.Fatal(err)
		}
	}

	istat, nodes, err := c.client.Stat(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(index.Stat{Objects: 5, Bytes: total, Locations: 5}, istat); diff != "" {
		t.Errorf("index stat mismatch (-want +got):\n%s", diff)
	}

	if len(nodes) != 3 {
		t.Fatalf("got %d node stats, want 3", len(nodes))
	}
	var blocks uint64
	for _, ns := range nodes {
		switch ns.Name {
		case "a", "b":
			if !ns.Reachable {
				t.Errorf("node %s unreachable: %s", ns.Name, ns.Err)
			}
			blocks += ns.Stat.TotalBlocks
		case "gone":
			if ns.Reachable || ns.Err == "" {
				t.Errorf("node gone reported as %+v", ns)
			}
		default:
			t.Errorf("unexpected node %s", ns.Name)
		}
	}
	if blocks != 5 {
		t.Errorf("nodes hold %d blocks, want 5", blocks)
	}

	var records []index.SaveRecord
	for from := uint64(0); ; {
		page, err := c.client.Metrics(ctx, from, 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(page) == 0 {
			break
		}
		if len(page) > 2 {
			t.Fatalf("got page of %d records, want at most 2", len(page))
		}
		records = append(records, page...)
		from = page[len(page)-1].Offset + 1
	}
	if len(records) != len(blobs) {
		t.Fatalf("got %d save records, want %d", len(records), len(blobs))
	}
	for i, rec := range records {
		if rec.ID != hbs.Hash(blobs[i]) {
			t.Errorf("record %d has id %s, want %s", i, rec.ID, hbs.Hash(blobs[i]))
		}
		if rec.Offset != uint64(i) {
			t.Errorf("record %d has offset %d", i, rec.Offset)
		}
	}
}

func TestPool(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newCluster(ctx, t, Config{}, []string{"b", "a"}, "c")

	if diff := cmp.Diff([]string{"a", "b", "c"}, c.pool.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}

	// Round-robin over the ready members, skipping c.
	var picks []string
	for i := 0; i < 4; i++ {
		name, _, err := c.pool.Pick(ctx)
		if err != nil {
			t.Fatal(err)
		}
		picks = append(picks, name)
	}
	if diff := cmp.Diff([]string{"a", "b", "a", "a"}, picks); diff != "" {
		t.Errorf("picks mismatch (-want +got):\n%s", diff)
	}

	if _, err := c.pool.Connect(ctx, "c"); !errors.Is(err, hbs.ErrUnavailable) {
		t.Errorf("connecting to c: got error %v, want %v", err, hbs.ErrUnavailable)
	}
	if _, err := c.pool.Connect(ctx, "z"); !errors.Is(err, hbs.ErrUnavailable) {
		t.Errorf("connecting to z: got error %v, want %v", err, hbs.ErrUnavailable)
	}

	if err := c.pool.Close(); err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.pool.Pick(ctx); !errors.Is(err, hbs.ErrNoBackend) {
		t.Errorf("pick after close: got error %v, want %v", err, hbs.ErrNoBackend)
	}
}
