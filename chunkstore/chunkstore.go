// Package chunkstore implements the local chunk store of a storage node
// on top of BadgerDB.
//
// A Store keeps three logical tables in one database,
// distinguished by key prefix:
// chunk bytes keyed by ChunkKey,
// the clone log (one entry per chunk write, keyed by offset),
// and the metrics log (one entry per write batch, keyed by offset).
// Running totals and the replication marker live under a fourth prefix.
//
// Writes are serialized by the Store.
// Reads run in their own read-only transactions
// and may proceed concurrently with writes and with each other.
package chunkstore

import (
	"bytes"
	"context"
	"encoding/binary"
	stderrs "errors"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/bobg/hbs"
)

const (
	// DefaultBlockSize is the largest chunk an on-disk Store accepts unless configured otherwise.
	DefaultBlockSize = 64 << 20

	// MaxInMemoryBlockSize is the largest chunk an in-memory Store can hold,
	// and its default block size.
	// BadgerDB keeps every in-memory value inline in its LSM tree,
	// which caps values at 1 MiB.
	MaxInMemoryBlockSize = 1 << 20
)

var (
	chunkPrefix  = []byte("c/")
	logPrefix    = []byte("l/")
	samplePrefix = []byte("s/")

	totalBytesKey  = []byte("meta/total-bytes")
	totalBlocksKey = []byte("meta/total-blocks")
	markerKey      = []byte("meta/last-applied-clone-offset")
)

// Options configure a Store.
type Options struct {
	// BlockSize is the largest chunk the Store accepts.
	// Default: DefaultBlockSize, or MaxInMemoryBlockSize when InMemory is set.
	BlockSize int

	// InMemory keeps everything in memory and ignores the directory.
	// BlockSize may not exceed MaxInMemoryBlockSize.
	InMemory bool

	// SyncWrites makes every commit wait for fsync.
	SyncWrites bool

	// Logger receives BadgerDB's own log output.
	Logger zerolog.Logger
}

// Store is a chunk store.
type Store struct {
	db        *badger.DB
	blockSize int

	mu         sync.Mutex // serializes writers
	nextSample uint64     // protected by mu

	// Written only under mu, in commit.
	// Readers take statMu alone, so they never wait for a write transaction.
	statMu  sync.RWMutex
	nextLog uint64
	stat    hbs.Stat
}

// Open opens (creating if necessary) the Store in dir.
func Open(ctx context.Context, dir string, opts Options) (*Store, error) {
	opts.BlockSize = DefaultBlockSizeFor(opts.BlockSize, opts.InMemory)

	bopts := badger.DefaultOptions(dir).WithValueThreshold(1 << 10)
	if opts.InMemory {
		if opts.BlockSize > MaxInMemoryBlockSize {
			return nil, errors.Errorf("block size %d exceeds the in-memory limit of %d", opts.BlockSize, MaxInMemoryBlockSize)
		}
		bopts = badger.DefaultOptions("").
			WithInMemory(true).
			WithValueThreshold(MaxInMemoryBlockSize)
	}
	bopts = bopts.
		WithSyncWrites(opts.SyncWrites).
		WithLogger(badgerLogger{opts.Logger})
	if vlog := int64(2*opts.BlockSize + 1<<20); vlog > bopts.ValueLogFileSize {
		bopts = bopts.WithValueLogFileSize(vlog)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, errors.Wrapf(hbs.IOError(err), "opening chunk store in %s", dir)
	}

	s := &Store{db: db, blockSize: opts.BlockSize}
	err = db.View(func(txn *badger.Txn) error {
		var err error
		if s.nextLog, err = nextSeq(txn, logPrefix); err != nil {
			return errors.Wrap(err, "finding end of clone log")
		}
		if s.nextSample, err = nextSeq(txn, samplePrefix); err != nil {
			return errors.Wrap(err, "finding end of metrics log")
		}
		if s.stat.TotalBytes, _, err = getUint(txn, totalBytesKey); err != nil {
			return errors.Wrap(err, "reading total bytes")
		}
		if s.stat.TotalBlocks, _, err = getUint(txn, totalBlocksKey); err != nil {
			return errors.Wrap(err, "reading total blocks")
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, hbs.IOError(err)
	}

	zerolog.Ctx(ctx).Debug().
		Str("dir", dir).
		Uint64("clone_log", s.nextLog).
		Uint64("metrics_log", s.nextSample).
		Uint64("total_bytes", s.stat.TotalBytes).
		Msg("opened chunk store")

	return s, nil
}

// DefaultBlockSizeFor is blockSize if it is positive,
// and otherwise the default block size for an in-memory or on-disk Store.
func DefaultBlockSizeFor(blockSize int, inMemory bool) int {
	switch {
	case blockSize > 0:
		return blockSize
	case inMemory:
		return MaxInMemoryBlockSize
	default:
		return DefaultBlockSize
	}
}

// Close flushes and closes the store.
func (s *Store) Close() error {
	return hbs.IOError(s.db.Close())
}

// BlockSize is the largest chunk s accepts.
func (s *Store) BlockSize() int {
	return s.blockSize
}

// Save writes rows atomically, in order.
// Each chunk actually written gets one clone-log entry,
// and the call as a whole gets one metrics-log entry,
// even when every row was already present.
// A row whose key already holds identical bytes is not rewritten.
//
// Rows too big for one BadgerDB transaction
// (possible only for an in-memory Store)
// are committed in parts, each with its own metrics-log entry.
func (s *Store) Save(ctx context.Context, rows []hbs.Row) error {
	if len(rows) == 0 {
		return nil
	}
	for _, row := range rows {
		if len(row.Data) > s.blockSize {
			return errors.Wrapf(hbs.ErrTooLarge, "chunk %s has %d bytes, limit %d", row.Key, len(row.Data), s.blockSize)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.save(rows)
}

// Caller must hold s.mu.
func (s *Store) save(rows []hbs.Row) error {
	w := s.newWrite()
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, row := range rows {
			if err := w.put(txn, row); err != nil {
				return err
			}
		}
		if err := w.finish(txn); err != nil {
			return err
		}
		return w.sample(txn, time.Now())
	})
	if stderrs.Is(err, badger.ErrTxnTooBig) && len(rows) > 1 {
		// Rewriting identical bytes is a no-op,
		// so a failure between the halves leaves a retry safe.
		mid := len(rows) / 2
		if err = s.save(rows[:mid]); err != nil {
			return err
		}
		return s.save(rows[mid:])
	}
	if err != nil {
		return errors.Wrapf(hbs.IOError(err), "saving %d chunks", len(rows))
	}
	s.commit(w)
	return nil
}

// Load calls f with each chunk of the object id, in chunk-index order.
// If nothing is stored under id, f is not called and Load returns nil.
func (s *Store) Load(ctx context.Context, id hbs.ContentID, f func([]byte) error) error {
	prefix := append(append([]byte{}, chunkPrefix...), id[:]...)
	return s.view(func(txn *badger.Txn) error {
		return scan(ctx, txn, prefix, prefix, true, func(_ []byte, item *badger.Item) error {
			val, err := item.ValueCopy(nil)
			if err != nil {
				return hbs.IOError(err)
			}
			return f(val)
		})
	})
}

// Clone calls f with each clone-log entry at or after offset from,
// together with the bytes of the chunk it names,
// in offset order.
func (s *Store) Clone(ctx context.Context, from uint64, f func(hbs.CloneRow) error) error {
	return s.view(func(txn *badger.Txn) error {
		return scan(ctx, txn, logPrefix, seqKey(logPrefix, from), true, func(key []byte, item *badger.Item) error {
			offset := binary.BigEndian.Uint64(key[len(logPrefix):])
			kb, err := item.ValueCopy(nil)
			if err != nil {
				return hbs.IOError(err)
			}
			ck, err := hbs.ChunkKeyFromBytes(kb)
			if err != nil {
				return hbs.IOError(errors.Wrapf(err, "decoding clone log entry %d", offset))
			}
			chunk, err := txn.Get(chunkKey(ck))
			if err != nil {
				return hbs.IOError(errors.Wrapf(err, "reading chunk %s for clone log entry %d", ck, offset))
			}
			data, err := chunk.ValueCopy(nil)
			if err != nil {
				return hbs.IOError(err)
			}
			return f(hbs.CloneRow{Offset: offset, Row: hbs.Row{Key: ck, Data: data}})
		})
	})
}

// ApplyClone writes rows pulled from an upstream store's clone log
// and records the offset of the last one as the replication marker.
// Rows whose chunks are already present with identical bytes are skipped,
// so applying the same rows again changes nothing.
//
// It returns the offset of the last row.
// If rows is empty it returns false and writes nothing.
func (s *Store) ApplyClone(ctx context.Context, rows []hbs.CloneRow) (uint64, bool, error) {
	if len(rows) == 0 {
		return 0, false, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.applyClone(rows); err != nil {
		return 0, false, err
	}
	return rows[len(rows)-1].Offset, true, nil
}

// Caller must hold s.mu.
func (s *Store) applyClone(rows []hbs.CloneRow) error {
	w := s.newWrite()
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, row := range rows {
			if err := w.put(txn, row.Row); err != nil {
				return err
			}
		}
		if err := w.finish(txn); err != nil {
			return err
		}
		if w.blocks > 0 {
			if err := w.sample(txn, time.Now()); err != nil {
				return err
			}
		}
		return txn.Set(markerKey, uint64Bytes(rows[len(rows)-1].Offset))
	})
	if stderrs.Is(err, badger.ErrTxnTooBig) && len(rows) > 1 {
		// Each half records its own marker,
		// so a failure between them only causes a re-pull.
		mid := len(rows) / 2
		if err = s.applyClone(rows[:mid]); err != nil {
			return err
		}
		return s.applyClone(rows[mid:])
	}
	if err != nil {
		return errors.Wrapf(hbs.IOError(err), "applying %d clone rows", len(rows))
	}
	s.commit(w)
	return nil
}

// NextCloneOffset is the upstream offset a puller should request next:
// one past the last applied offset, or zero if nothing was ever applied.
func (s *Store) NextCloneOffset(ctx context.Context) (uint64, error) {
	var (
		last uint64
		ok   bool
	)
	err := s.view(func(txn *badger.Txn) error {
		var err error
		last, ok, err = getUint(txn, markerKey)
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, "reading clone marker")
	}
	if !ok {
		return 0, nil
	}
	return last + 1, nil
}

// Stat reports the cumulative bytes and chunks written to s.
func (s *Store) Stat(context.Context) (hbs.Stat, error) {
	s.statMu.RLock()
	defer s.statMu.RUnlock()
	return s.stat, nil
}

// CloneLogLen is the number of entries in the clone log.
func (s *Store) CloneLogLen() uint64 {
	s.statMu.RLock()
	defer s.statMu.RUnlock()
	return s.nextLog
}

// Metrics calls f with each metrics-log entry at or after offset from, in order.
func (s *Store) Metrics(ctx context.Context, from uint64, f func(hbs.MetricSample) error) error {
	return s.view(func(txn *badger.Txn) error {
		return scan(ctx, txn, samplePrefix, seqKey(samplePrefix, from), true, func(key []byte, item *badger.Item) error {
			val, err := item.ValueCopy(nil)
			if err != nil {
				return hbs.IOError(err)
			}
			sample, err := decodeSample(val)
			if err != nil {
				return hbs.IOError(err)
			}
			sample.Offset = binary.BigEndian.Uint64(key[len(samplePrefix):])
			return f(sample)
		})
	})
}

func (s *Store) view(fn func(*badger.Txn) error) error {
	err := s.db.View(fn)
	if stderrs.Is(err, badger.ErrDBClosed) {
		return hbs.IOError(err)
	}
	return err
}

// write accumulates the effects of one write transaction
// until it commits.
type write struct {
	nextLog    uint64
	nextSample uint64
	stat       hbs.Stat
	bytes      uint64
	blocks     uint64
}

// Caller must hold s.mu.
func (s *Store) newWrite() *write {
	return &write{
		nextLog:    s.nextLog,
		nextSample: s.nextSample,
		stat:       s.stat,
	}
}

// Caller must hold s.mu.
func (s *Store) commit(w *write) {
	s.nextSample = w.nextSample

	s.statMu.Lock()
	s.nextLog = w.nextLog
	s.stat = w.stat
	s.statMu.Unlock()
}

func (w *write) put(txn *badger.Txn, row hbs.Row) error {
	key := chunkKey(row.Key)

	var oldLen uint64
	item, err := txn.Get(key)
	switch {
	case stderrs.Is(err, badger.ErrKeyNotFound):
		w.stat.TotalBlocks++
	case err != nil:
		return errors.Wrapf(err, "checking chunk %s", row.Key)
	default:
		old, err := item.ValueCopy(nil)
		if err != nil {
			return errors.Wrapf(err, "reading chunk %s", row.Key)
		}
		if bytes.Equal(old, row.Data) {
			return nil
		}
		oldLen = uint64(len(old))
	}

	if err = txn.Set(key, row.Data); err != nil {
		return errors.Wrapf(err, "writing chunk %s", row.Key)
	}
	if err = txn.Set(seqKey(logPrefix, w.nextLog), row.Key.Bytes()); err != nil {
		return errors.Wrapf(err, "appending clone log entry %d", w.nextLog)
	}
	w.nextLog++

	w.stat.TotalBytes = w.stat.TotalBytes - oldLen + uint64(len(row.Data))
	w.bytes += uint64(len(row.Data))
	w.blocks++
	return nil
}

// finish writes the totals if anything was written.
func (w *write) finish(txn *badger.Txn) error {
	if w.blocks == 0 {
		return nil
	}
	if err := txn.Set(totalBytesKey, uint64Bytes(w.stat.TotalBytes)); err != nil {
		return errors.Wrap(err, "updating total bytes")
	}
	if err := txn.Set(totalBlocksKey, uint64Bytes(w.stat.TotalBlocks)); err != nil {
		return errors.Wrap(err, "updating total blocks")
	}
	return nil
}

// sample appends one metrics sample covering the write.
func (w *write) sample(txn *badger.Txn, now time.Time) error {
	sample := hbs.MetricSample{Time: now, Bytes: w.bytes, Blocks: w.blocks}
	if err := txn.Set(seqKey(samplePrefix, w.nextSample), encodeSample(sample)); err != nil {
		return errors.Wrapf(err, "appending metrics log entry %d", w.nextSample)
	}
	w.nextSample++
	return nil
}

// scan iterates over the keys with the given prefix, starting at start.
// The key passed to f is only valid during the call.
func scan(ctx context.Context, txn *badger.Txn, prefix, start []byte, values bool, f func([]byte, *badger.Item) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = values
	opts.PrefetchSize = 10

	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := it.Item()
		if err := f(item.Key(), item); err != nil {
			return err
		}
	}
	return nil
}

func nextSeq(txn *badger.Txn, prefix []byte) (uint64, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	opts.Reverse = true

	it := txn.NewIterator(opts)
	defer it.Close()

	seek := append(append([]byte{}, prefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
	it.Seek(seek)
	if !it.ValidForPrefix(prefix) {
		return 0, nil
	}
	key := it.Item().Key()
	return binary.BigEndian.Uint64(key[len(prefix):]) + 1, nil
}

func getUint(txn *badger.Txn, key []byte) (uint64, bool, error) {
	item, err := txn.Get(key)
	if stderrs.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, hbs.IOError(err)
	}
	var out uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return errors.Errorf("value of %s has length %d", key, len(val))
		}
		out = binary.BigEndian.Uint64(val)
		return nil
	})
	return out, true, hbs.IOError(err)
}

func chunkKey(k hbs.ChunkKey) []byte {
	return append(append([]byte{}, chunkPrefix...), k.Bytes()...)
}

func seqKey(prefix []byte, seq uint64) []byte {
	return append(append([]byte{}, prefix...), uint64Bytes(seq)...)
}

func uint64Bytes(n uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return b[:]
}

func encodeSample(sample hbs.MetricSample) []byte {
	b := make([]byte, 24)
	binary.BigEndian.PutUint64(b, uint64(sample.Time.UnixNano()))
	binary.BigEndian.PutUint64(b[8:], sample.Bytes)
	binary.BigEndian.PutUint64(b[16:], sample.Blocks)
	return b
}

func decodeSample(b []byte) (hbs.MetricSample, error) {
	if len(b) != 24 {
		return hbs.MetricSample{}, errors.Errorf("metric sample has length %d, want 24", len(b))
	}
	return hbs.MetricSample{
		Time:   time.Unix(0, int64(binary.BigEndian.Uint64(b))),
		Bytes:  binary.BigEndian.Uint64(b[8:]),
		Blocks: binary.BigEndian.Uint64(b[16:]),
	}, nil
}
