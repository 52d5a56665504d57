// Package node implements a storage node:
// one chunk store served over gRPC as the hbs.Node service,
// optionally pull-replicating from an upstream node.
package node

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/bobg/flock"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/bobg/hbs"
	"github.com/bobg/hbs/chunkstore"
	"github.com/bobg/hbs/rpc"
)

const lockFile = "node.lock"

// Node is a running storage node.
type Node struct {
	cfg     Config
	store   *chunkstore.Store
	server  *Server
	puller  *Puller
	cc      *grpc.ClientConn
	flocker flock.Locker

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open opens the node's chunk store
// and, if cfg.Upstream is set, starts its replication puller.
// The puller runs until Close is called or ctx is canceled.
func Open(ctx context.Context, cfg Config) (*Node, error) {
	cfg = cfg.withDefaults()
	n := &Node{cfg: cfg}

	if !cfg.InMemory {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, hbs.IOError(errors.Wrapf(err, "creating %s", cfg.Dir))
		}
		f, err := os.OpenFile(n.lockPath(), os.O_CREATE|os.O_RDWR, 0644)
		if err != nil {
			return nil, hbs.IOError(errors.Wrapf(err, "creating %s", n.lockPath()))
		}
		f.Close()
		if err = n.flocker.Lock(n.lockPath()); err != nil {
			return nil, errors.Wrapf(err, "locking %s", cfg.Dir)
		}
	}

	store, err := chunkstore.Open(ctx, filepath.Join(cfg.Dir, "chunks"), chunkstore.Options{
		BlockSize:  cfg.BlockSize,
		InMemory:   cfg.InMemory,
		SyncWrites: cfg.SyncWrites,
		Logger:     cfg.Logger,
	})
	if err != nil {
		n.unlock()
		return nil, err
	}
	n.store = store

	m := newMetrics(cfg.Registerer, cfg.Name)
	n.server = &Server{store: store, cfg: cfg, metrics: m}

	if cfg.Upstream != "" {
		opts := append(rpc.DialOptions(cfg.BlockSize), cfg.DialOptions...)
		cc, err := grpc.DialContext(ctx, cfg.Upstream, opts...)
		if err != nil {
			store.Close()
			n.unlock()
			return nil, errors.Wrapf(err, "dialing upstream %s", cfg.Upstream)
		}
		n.cc = cc
		n.puller = newPuller(store, NewClient(cc), cfg, m)

		log := zerolog.Ctx(ctx).With().Str("node", cfg.Name).Str("upstream", cfg.Upstream).Logger()
		pctx, cancel := context.WithCancel(log.WithContext(ctx))
		n.cancel = cancel
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.puller.Run(pctx)
			log.Info().Msg("puller stopped")
		}()
	}

	return n, nil
}

// Register registers the node's service with s.
func (n *Node) Register(s grpc.ServiceRegistrar) {
	RegisterNodeServer(s, n.server)
}

// Store is the node's chunk store.
func (n *Node) Store() *chunkstore.Store {
	return n.store
}

// Puller is the node's replication puller,
// or nil if it has no upstream.
func (n *Node) Puller() *Puller {
	return n.puller
}

// Close stops the puller and closes the chunk store.
func (n *Node) Close() error {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
	if n.cc != nil {
		n.cc.Close()
	}
	err := n.store.Close()
	n.unlock()
	return err
}

func (n *Node) lockPath() string {
	return filepath.Join(n.cfg.Dir, lockFile)
}

func (n *Node) unlock() {
	if !n.cfg.InMemory {
		n.flocker.Unlock(n.lockPath())
	}
}
