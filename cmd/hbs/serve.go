package main

import (
	"context"
	"net"
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/bobg/hbs/chunkstore"
	"github.com/bobg/hbs/index"
	"github.com/bobg/hbs/node"
	"github.com/bobg/hbs/router"
	"github.com/bobg/hbs/rpc"
)

func (c maincmd) node(ctx context.Context, addr string, _ []string) error {
	conf, err := c.loadConfig()
	if err != nil {
		return err
	}
	if conf.Node == nil {
		return errors.Errorf("config file %s has no node section", c.configFile)
	}
	nc := conf.Node
	if addr != "" {
		nc.Addr = addr
	}
	if nc.Addr == "" {
		nc.Addr = ":2970"
	}

	reg := prometheus.NewRegistry()
	nc.Config.Registerer = reg
	nc.Config.Logger = c.log

	log := c.log.With().Str("node", nc.Name).Logger()
	ctx = log.WithContext(ctx)

	n, err := node.Open(ctx, nc.Config)
	if err != nil {
		return errors.Wrapf(err, "opening node %s", nc.Name)
	}
	defer n.Close()

	return serve(ctx, log, nc.Addr, nc.MetricsAddr, reg, n.Store().BlockSize(), n.Register)
}

func (c maincmd) router(ctx context.Context, addr string, _ []string) error {
	conf, err := c.loadConfig()
	if err != nil {
		return err
	}
	if conf.Router == nil {
		return errors.Errorf("config file %s has no router section", c.configFile)
	}
	rc := conf.Router
	if addr != "" {
		rc.Addr = addr
	}
	if rc.Addr == "" {
		rc.Addr = ":2969"
	}
	if len(rc.Nodes) == 0 {
		return errors.Errorf("config file %s names no nodes", c.configFile)
	}
	connectTimeout, err := rc.connectTimeout()
	if err != nil {
		return err
	}

	typ, ok := rc.Index["type"].(string)
	if !ok {
		return errors.Errorf("router index config missing `type` parameter (known types: %v)", index.Types())
	}
	idx, err := index.Create(ctx, typ, rc.Index)
	if err != nil {
		return errors.Wrapf(err, "creating %s-type index", typ)
	}
	defer idx.Close()

	blockSize := rc.BlockSize
	if blockSize <= 0 {
		blockSize = chunkstore.DefaultBlockSize
	}

	pool := router.NewPool(rc.Nodes, connectTimeout, rpc.DialOptions(blockSize)...)
	defer pool.Close()

	reg := prometheus.NewRegistry()
	rc.Config.Registerer = reg
	r := router.New(idx, pool, rc.Config)

	log := c.log.With().Str("router", rc.Addr).Logger()
	log.Info().Str("index", typ).Strs("nodes", pool.Names()).Msg("starting router")

	return serve(log.WithContext(ctx), log, rc.Addr, rc.MetricsAddr, reg, blockSize, r.Register)
}

// serve runs a gRPC server on addr,
// and a Prometheus endpoint for reg on metricsAddr if it is not empty,
// until ctx is canceled.
func serve(ctx context.Context, log zerolog.Logger, addr, metricsAddr string, reg *prometheus.Registry, blockSize int, register func(grpc.ServiceRegistrar)) error {
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	gs := grpc.NewServer(rpc.ServerOptions(log, blockSize)...)
	register(gs)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", addr)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Stringer("addr", lis.Addr()).Msg("listening")
		return gs.Serve(lis)
	})

	var hs *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		hs = &http.Server{Addr: metricsAddr, Handler: mux}
		g.Go(func() error {
			log.Info().Str("addr", metricsAddr).Msg("serving metrics")
			if err := hs.ListenAndServe(); err != http.ErrServerClosed {
				return errors.Wrapf(err, "serving metrics on %s", metricsAddr)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		gs.GracefulStop()
		if hs != nil {
			hs.Close()
		}
		return nil
	})

	return g.Wait()
}
