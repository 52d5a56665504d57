package sqlite3

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bobg/hbs"
	"github.com/bobg/hbs/index"
	"github.com/bobg/hbs/testutil"
)

func TestIndex(t *testing.T) {
	ctx := context.Background()
	x, err := Open(ctx, filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer x.Close()

	testutil.Index(ctx, t, x)
}

func TestReopen(t *testing.T) {
	var (
		ctx  = context.Background()
		conn = filepath.Join(t.TempDir(), "index.db")
		id   = hbs.Hash([]byte("persist"))
	)

	x, err := index.Create(ctx, "sqlite3", map[string]interface{}{"conn": conn})
	if err != nil {
		t.Fatal(err)
	}
	if err = x.RecordSaved(ctx, id, 7, "a", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err = x.Close(); err != nil {
		t.Fatal(err)
	}

	x, err = Open(ctx, conn)
	if err != nil {
		t.Fatal(err)
	}
	defer x.Close()

	size, ok, err := x.Size(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || size != 7 {
		t.Errorf("got size %d ok %v, want 7 true", size, ok)
	}
}
