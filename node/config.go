package node

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"github.com/bobg/hbs/chunkstore"
	"github.com/bobg/hbs/window"
)

// Defaults for the fields of Config.
const (
	DefaultSaveBatch     = 10
	DefaultLoadBatch     = 10
	DefaultMetricsBatch  = 1000
	DefaultClonePage     = 1000
	DefaultStepTimeout   = 30 * time.Second
	DefaultCloneTimeout  = 60 * time.Second
	DefaultPullInterval  = time.Second
	DefaultClientTimeout = 30 * time.Second
)

// Config configures a storage node.
// Zero values get the defaults above.
type Config struct {
	// Name identifies the node in logs and metrics.
	Name string `json:"name"`

	// Dir holds the node's chunk store.
	Dir string `json:"dir"`

	// InMemory keeps the chunk store in memory. Dir is ignored.
	InMemory bool `json:"in_memory"`

	// BlockSize is the largest chunk the node accepts.
	// Default: chunkstore.DefaultBlockSize,
	// or chunkstore.MaxInMemoryBlockSize with InMemory.
	BlockSize int `json:"block_size"`

	// SyncWrites makes every chunk-store commit wait for fsync.
	SyncWrites bool `json:"sync_writes"`

	// Upstream, if set, is the address of a node to pull-replicate from.
	Upstream string `json:"upstream"`

	// DialOptions are added to the options for dialing Upstream.
	DialOptions []grpc.DialOption `json:"-"`

	// SaveBatch is the number of rows the Save handler commits at a time.
	SaveBatch int `json:"save_batch"`

	// Load and Metrics shape the windowed streams of the matching RPCs.
	Load    window.Config `json:"-"`
	Metrics window.Config `json:"-"`

	// StepTimeout bounds each receive of a Save stream.
	StepTimeout time.Duration `json:"-"`

	// ClonePage is the most rows a Clone call returns.
	ClonePage int `json:"clone_page"`

	// CloneTimeout bounds each upstream Clone call of the puller.
	CloneTimeout time.Duration `json:"-"`

	// PullInterval is how long the puller waits after a failed or empty pull.
	PullInterval time.Duration `json:"-"`

	// Registerer receives the node's Prometheus collectors.
	// If nil they are not registered.
	Registerer prometheus.Registerer `json:"-"`

	// Logger is for the chunk store's own log output.
	// Request logging uses the logger in each call's context.
	Logger zerolog.Logger `json:"-"`
}

func (cfg Config) withDefaults() Config {
	cfg.BlockSize = chunkstore.DefaultBlockSizeFor(cfg.BlockSize, cfg.InMemory)
	if cfg.SaveBatch <= 0 {
		cfg.SaveBatch = DefaultSaveBatch
	}
	if cfg.Load.Batch <= 0 {
		cfg.Load.Batch = DefaultLoadBatch
	}
	if cfg.Load.Timeout <= 0 {
		cfg.Load.Timeout = DefaultStepTimeout
	}
	if cfg.Metrics.Batch <= 0 {
		cfg.Metrics.Batch = DefaultMetricsBatch
	}
	if cfg.Metrics.Timeout <= 0 {
		cfg.Metrics.Timeout = DefaultStepTimeout
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}
	if cfg.ClonePage <= 0 {
		cfg.ClonePage = DefaultClonePage
	}
	if cfg.CloneTimeout <= 0 {
		cfg.CloneTimeout = DefaultCloneTimeout
	}
	if cfg.PullInterval <= 0 {
		cfg.PullInterval = DefaultPullInterval
	}
	return cfg
}
