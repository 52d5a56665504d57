package hbs

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/quick"

	perrors "github.com/pkg/errors"
)

func TestChunkKeyRoundTrip(t *testing.T) {
	f := func(id ContentID, index uint64) bool {
		k := ChunkKey{ID: id, Index: index}
		got, err := ChunkKeyFromBytes(k.Bytes())
		if err != nil {
			t.Log(err)
			return false
		}
		return got == k
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestChunkKeyOrder(t *testing.T) {
	id := Hash([]byte("yubnub"))
	var prev []byte
	for _, index := range []uint64{0, 1, 255, 256, 1 << 32} {
		b := ChunkKey{ID: id, Index: index}.Bytes()
		if prev != nil && bytes.Compare(prev, b) >= 0 {
			t.Errorf("key for index %d does not sort after its predecessor", index)
		}
		prev = b
	}
}

func TestIDFromHex(t *testing.T) {
	id := Hash([]byte("hello"))
	got, err := IDFromHex(id.String())
	if err != nil {
		t.Fatal(err)
	}
	if got != id {
		t.Errorf("got %s, want %s", got, id)
	}
	if _, err = IDFromHex("abcd"); err == nil {
		t.Error("expected error for short id")
	}
}

func TestIOError(t *testing.T) {
	err := perrors.Wrap(IOError(io.ErrUnexpectedEOF), "reading")
	if !errors.Is(err, ErrIO) {
		t.Error("wrapped IOError is not ErrIO")
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("wrapped IOError lost its cause")
	}
	if IOError(nil) != nil {
		t.Error("IOError(nil) should be nil")
	}
}
