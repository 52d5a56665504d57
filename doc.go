// Package hbs is a replicated, content-addressable blob store.
//
// Objects are stored as chunks on storage nodes.
// Each chunk is addressed by a ChunkKey:
// the object's ContentID followed by the chunk's index within the object.
// At the front end an object's ContentID is the SHA2-256 hash of its bytes,
// which makes saving the same object twice a no-op.
//
// The pieces are:
//
//   - package chunkstore, the local store of one node.
//     Besides chunk bytes it keeps an append-only clone log,
//     one entry per chunk write,
//     and an append-only metrics log,
//     one entry per write batch.
//   - package node, which serves a chunk store over gRPC
//     and can pull-replicate from an upstream node by reading its clone log.
//   - package index, which records which objects are known,
//     how big they are,
//     and which nodes hold them.
//     It never holds object bytes.
//   - package router, the front end.
//     It deduplicates saves against the index,
//     picks a node from its pool,
//     and relays fetches from whichever node holds the content.
//   - package window, the bounded, timeout-guarded streaming primitive
//     used for every bulk transfer.
//
// The index is never ahead of the nodes:
// a location is recorded only after a node acknowledges the bytes.
// It may lag behind them,
// in which case a retried save stores a harmless duplicate.
package hbs
