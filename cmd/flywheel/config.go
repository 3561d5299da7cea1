package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/acksell/flywheel/ddbtype"
	"github.com/acksell/flywheel/engine"
	"github.com/acksell/flywheel/schema"
)

// options holds the flags shared by all commands. Flags that are set
// explicitly override flywheel.yaml.
type options struct {
	config    string
	schema    string
	db        string
	memory    bool
	endpoint  string
	region    string
	namespace string
	logLevel  string
}

func (o *options) register(fs *flag.FlagSet) {
	fs.StringVar(&o.config, "config", "", "config file (default: flywheel.yaml in this or a parent directory)")
	fs.StringVar(&o.schema, "schema", "schema.yaml", "YAML file declaring the models")
	fs.StringVar(&o.db, "db", "", "use the embedded store persisted in this directory")
	fs.BoolVar(&o.memory, "memory", false, "use an in-memory embedded store")
	fs.StringVar(&o.endpoint, "endpoint", "", "DynamoDB endpoint, e.g. for DynamoDB Local")
	fs.StringVar(&o.region, "region", "", "AWS region")
	fs.StringVar(&o.namespace, "namespace", "", "prefix for table names")
	fs.StringVar(&o.logLevel, "log-level", "", "log level")
}

// loadConfig reads the config file and applies the flags that were set.
func (o *options) loadConfig(fs *flag.FlagSet) (engine.Config, error) {
	path := o.config
	if path == "" {
		dir, err := os.Getwd()
		if err != nil {
			return engine.Config{}, err
		}
		path = engine.FindConfig(dir)
	}
	cfg := engine.DefaultConfig()
	cfg.Logging.Format = "console"
	if path != "" {
		var err error
		if cfg, err = engine.LoadConfig(path); err != nil {
			return cfg, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db":
			cfg.Store = engine.StoreConfig{Path: o.db}
		case "memory":
			cfg.Store = engine.StoreConfig{InMemory: o.memory}
		case "endpoint":
			cfg.Endpoint = o.endpoint
		case "region":
			cfg.Region = o.region
		case "namespace":
			cfg.Namespace = []string{o.namespace}
		case "log-level":
			cfg.Logging.Level = o.logLevel
		}
	})
	return cfg, cfg.Validate()
}

// open opens the engine and registers the models of the schema file.
func (o *options) open(ctx context.Context, fs *flag.FlagSet, withSchema bool) (*engine.Engine, error) {
	cfg, err := o.loadConfig(fs)
	if err != nil {
		return nil, err
	}
	e, err := engine.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if !withSchema {
		return e, nil
	}
	cfgs, err := schema.Load(o.schema, ddbtype.Builtins())
	if err != nil {
		e.Close()
		return nil, err
	}
	if _, err := e.Register(cfgs...); err != nil {
		e.Close()
		return nil, fmt.Errorf("%s: %w", o.schema, err)
	}
	return e, nil
}
