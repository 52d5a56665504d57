// Command hbs runs the parts of a hashed blob store
// and talks to a running Router.
//
// Usage:
//
//	hbs [-config FILE] [-router ADDR] [-v] SUBCOMMAND [ARGS]
//
// The node and router subcommands start servers
// configured by the sections of the same names in the config file.
// The other subcommands are clients of the Router at -router.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/bobg/subcmd"
	"github.com/rs/zerolog"

	"github.com/bobg/hbs/router"

	_ "github.com/bobg/hbs/index/logging"
	_ "github.com/bobg/hbs/index/lru"
	_ "github.com/bobg/hbs/index/mem"
	_ "github.com/bobg/hbs/index/pg"
	_ "github.com/bobg/hbs/index/sqlite3"
)

type maincmd struct {
	configFile string
	routerAddr string
	log        zerolog.Logger
}

func main() {
	var (
		config  = flag.String("config", "hbs.json", "path to config file")
		raddr   = flag.String("router", "localhost:2969", "router address, for client subcommands")
		verbose = flag.Bool("v", false, "log at debug level")
	)
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).Level(level).With().Timestamp().Logger()

	ctx, cancel := context.WithCancel(log.WithContext(context.Background()))
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		sig := <-sigCh
		log.Info().Stringer("signal", sig).Msg("shutting down")
		cancel()
	}()

	c := maincmd{configFile: *config, routerAddr: *raddr, log: log}
	if err := subcmd.Run(ctx, c, flag.Args()); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func (c maincmd) Subcmds() subcmd.Map {
	addrParams := subcmd.Params(
		"addr", subcmd.String, "", "listen address (overrides config)",
	)
	return subcmd.Commands(
		"node", c.node, addrParams,
		"router", c.router, addrParams,
		"put", c.put, nil,
		"upload", c.upload, nil,
		"get", c.get, nil,
		"wants", c.wants, nil,
		"stat", c.stat, nil,
		"metrics", c.metrics, subcmd.Params(
			"from", subcmd.Uint64, uint64(0), "first save offset to show",
			"n", subcmd.Int, router.DefaultMetricsPageSize, "number of save records to show",
		),
	)
}
