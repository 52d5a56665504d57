package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/bobg/hbs"
	"github.com/bobg/hbs/index"
	"github.com/bobg/hbs/index/mem"
	"github.com/bobg/hbs/testutil"
)

func TestIndex(t *testing.T) {
	testutil.Index(context.Background(), t, New(mem.New(), zerolog.Nop(), zerolog.DebugLevel))
}

func TestLogs(t *testing.T) {
	var (
		buf = new(bytes.Buffer)
		x   = New(mem.New(), zerolog.New(buf), zerolog.InfoLevel)
		ctx = context.Background()
		id  = hbs.Hash([]byte("logged"))
	)

	if _, err := x.Has(ctx, id); err != nil {
		t.Fatal(err)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decoding %q: %s", buf.String(), err)
	}
	if entry["message"] != "Has" || entry["id"] != id.String() || entry["level"] != "info" {
		t.Errorf("unexpected log entry %v", entry)
	}

	// A logger in the context takes precedence.
	var ctxBuf bytes.Buffer
	ctx = zerolog.New(&ctxBuf).WithContext(ctx)
	buf.Reset()
	if _, err := x.Stat(ctx); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("own logger got %q", buf.String())
	}
	if !strings.Contains(ctxBuf.String(), `"message":"Stat"`) {
		t.Errorf("context logger got %q", ctxBuf.String())
	}
}

func TestCreate(t *testing.T) {
	conf := map[string]interface{}{
		"level":  "warn",
		"nested": map[string]interface{}{"type": "mem"},
	}
	x, err := index.Create(context.Background(), "logging", conf)
	if err != nil {
		t.Fatal(err)
	}
	li, ok := x.(*Index)
	if !ok {
		t.Fatalf("got %T, want *Index", x)
	}
	if li.log.GetLevel() != zerolog.WarnLevel {
		t.Errorf("got level %s, want warn", li.log.GetLevel())
	}

	if _, err = index.Create(context.Background(), "logging", map[string]interface{}{}); err == nil {
		t.Error("created logging index without a nested index")
	}
}
