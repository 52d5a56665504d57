package hbs

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

type (
	// ContentID identifies a stored object.
	// At the Router it is the SHA2-256 hash of the object's bytes.
	// A chunk store treats it as an opaque 32-byte value.
	ContentID [sha256.Size]byte

	// ChunkKey identifies one chunk of a stored object.
	ChunkKey struct {
		ID    ContentID
		Index uint64
	}

	// Row is a chunk key together with the chunk's bytes.
	Row struct {
		Key  ChunkKey
		Data []byte
	}

	// CloneRow is a Row tagged with its position in a node's clone log.
	CloneRow struct {
		Offset uint64
		Row
	}

	// MetricSample summarizes one write batch in a node's metrics log.
	MetricSample struct {
		Offset uint64
		Time   time.Time
		Bytes  uint64
		Blocks uint64
	}

	// Stat holds the cumulative write counters of a chunk store.
	Stat struct {
		TotalBytes  uint64
		TotalBlocks uint64
	}
)

// ChunkKeySize is the length of an encoded ChunkKey.
const ChunkKeySize = sha256.Size + 8

// Hash computes the ContentID of a blob.
func Hash(b []byte) ContentID {
	return sha256.Sum256(b)
}

// Zero is the zero value of a ContentID.
var Zero ContentID

func (id ContentID) String() string {
	return hex.EncodeToString(id[:])
}

// Less tells whether id sorts before other.
func (id ContentID) Less(other ContentID) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

// IDFromBytes converts a byte slice to a ContentID.
// The slice must have exactly the right length.
func IDFromBytes(b []byte) (ContentID, error) {
	var out ContentID
	if len(b) != len(out) {
		return out, fmt.Errorf("content id has length %d, want %d", len(b), len(out))
	}
	copy(out[:], b)
	return out, nil
}

// IDFromHex parses the hex encoding of a ContentID.
func IDFromHex(s string) (ContentID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Zero, errors.Wrapf(err, "decoding hex %s", s)
	}
	return IDFromBytes(b)
}

// Bytes encodes k as the content id followed by the big-endian chunk index.
// Encoded keys sort in (ID, Index) order.
func (k ChunkKey) Bytes() []byte {
	out := make([]byte, ChunkKeySize)
	copy(out, k.ID[:])
	binary.BigEndian.PutUint64(out[sha256.Size:], k.Index)
	return out
}

func (k ChunkKey) String() string {
	return fmt.Sprintf("%s/%d", k.ID, k.Index)
}

// ChunkKeyFromBytes is the inverse of ChunkKey.Bytes.
func ChunkKeyFromBytes(b []byte) (ChunkKey, error) {
	if len(b) != ChunkKeySize {
		return ChunkKey{}, fmt.Errorf("chunk key has length %d, want %d", len(b), ChunkKeySize)
	}
	var k ChunkKey
	copy(k.ID[:], b)
	k.Index = binary.BigEndian.Uint64(b[sha256.Size:])
	return k, nil
}
