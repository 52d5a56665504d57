package router

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bobg/hbs/chunkstore"
	"github.com/bobg/hbs/window"
)

// Defaults for the fields of Config.
const (
	DefaultFetchBatch      = 10
	DefaultStepTimeout     = 30 * time.Second
	DefaultUploadWindow    = 1 << 20
	DefaultMetricsPageSize = 100
	MaxMetricsPageSize     = 1000
)

// Config configures a Router.
// Zero values get the defaults above.
type Config struct {
	// BlockSize is the block size of the pool members.
	// Blobs saved through Save must fit in one block.
	// Default: chunkstore.DefaultBlockSize.
	BlockSize int `json:"block_size"`

	// Fetch shapes the stream a Fetch call relays to its caller.
	// Its Timeout also bounds each receive from the storage node.
	Fetch window.Config `json:"-"`

	// UploadWindow is the size of each window of an upload,
	// and so of each chunk an uploaded object is stored as.
	// It is capped at BlockSize.
	UploadWindow int `json:"upload_window"`

	// StepTimeout bounds each receive of an Upload stream
	// and each step of the Save stream to a storage node.
	StepTimeout time.Duration `json:"-"`

	// Registerer receives the Router's Prometheus collectors.
	// If nil they are not registered.
	Registerer prometheus.Registerer `json:"-"`
}

func (cfg Config) withDefaults() Config {
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = chunkstore.DefaultBlockSize
	}
	if cfg.Fetch.Batch <= 0 {
		cfg.Fetch.Batch = DefaultFetchBatch
	}
	if cfg.Fetch.Timeout <= 0 {
		cfg.Fetch.Timeout = DefaultStepTimeout
	}
	if cfg.UploadWindow <= 0 {
		cfg.UploadWindow = DefaultUploadWindow
	}
	if cfg.UploadWindow > cfg.BlockSize {
		cfg.UploadWindow = cfg.BlockSize
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}
	return cfg
}
