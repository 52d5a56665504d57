package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/hbs/node"
	"github.com/bobg/hbs/router"
)

// config is the contents of the config file.
//
// Example:
//
//	{
//	  "node": {"name": "n1", "dir": "/var/hbs/n1", "addr": ":2970", "metrics_addr": ":9101"},
//	  "router": {
//	    "addr": ":2969",
//	    "metrics_addr": ":9100",
//	    "index": {"type": "lru", "size": 10000, "nested": {"type": "sqlite3", "conn": "/var/hbs/index.db"}},
//	    "nodes": {"n1": "localhost:2970", "n2": "localhost:2971"}
//	  }
//	}
type config struct {
	Node   *nodeConfig   `json:"node"`
	Router *routerConfig `json:"router"`
}

type nodeConfig struct {
	node.Config

	Addr        string `json:"addr"`
	MetricsAddr string `json:"metrics_addr"`
}

type routerConfig struct {
	router.Config

	Addr           string                 `json:"addr"`
	MetricsAddr    string                 `json:"metrics_addr"`
	Index          map[string]interface{} `json:"index"`
	Nodes          map[string]string      `json:"nodes"`
	ConnectTimeout string                 `json:"connect_timeout"`
}

func (r *routerConfig) connectTimeout() (time.Duration, error) {
	if r.ConnectTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(r.ConnectTimeout)
	return d, errors.Wrapf(err, "parsing connect_timeout %q", r.ConnectTimeout)
}

func (c maincmd) loadConfig() (*config, error) {
	f, err := os.Open(c.configFile)
	if err != nil {
		return nil, errors.Wrapf(err, "opening config file %s", c.configFile)
	}
	defer f.Close()

	var conf config
	dec := json.NewDecoder(f)
	dec.UseNumber()
	if err = dec.Decode(&conf); err != nil {
		return nil, errors.Wrapf(err, "decoding config file %s", c.configFile)
	}
	return &conf, nil
}
