// Copyright 2024 The DocSQL Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package main

import (
	"context"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v2"

	"github.com/docsql/docsql/pkg/sql/flowinfra"
	"github.com/docsql/docsql/pkg/sql/physicalplan"
	"github.com/docsql/docsql/pkg/sql/sqlbase"
	"github.com/docsql/docsql/pkg/storage/segment"
	"github.com/docsql/docsql/pkg/util/humanizeutil"
)

// memoryLimitFlag backs the --memory-limit flag; when set it wins over the
// config file's memory_limit.
var memoryLimitFlag = humanizeutil.NewBytesValue(&cliFlags.memoryLimit)

type nodeConfig struct {
	ID string `yaml:"id"`
	// Store is the pebble directory for this node. Empty means in-memory.
	Store string `yaml:"store"`
}

type clusterConfig struct {
	Nodes       []nodeConfig `yaml:"nodes"`
	MemoryLimit string       `yaml:"memory_limit"`
	Concurrency int          `yaml:"concurrency"`
}

func loadClusterConfig(path string) (clusterConfig, error) {
	var cfg clusterConfig
	if path == "" {
		// Single ephemeral node; good enough to try things out.
		cfg.Nodes = []nodeConfig{{ID: "n1"}}
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing %s", path)
	}
	if len(cfg.Nodes) == 0 {
		return cfg, errors.Newf("%s: no nodes configured", path)
	}
	return cfg, nil
}

// env is an in-process cluster assembled from the config: one node per
// entry, each over its own pebble store.
type env struct {
	cluster *flowinfra.Cluster
	handler physicalplan.NodeID
	stores  []*segment.PebbleStore
}

func openEnv(cfgPath string) (*env, error) {
	cfg, err := loadClusterConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	var memoryLimit int64
	if cfg.MemoryLimit != "" {
		memoryLimit, err = humanizeutil.ParseBytes(cfg.MemoryLimit)
		if err != nil {
			return nil, errors.Wrap(err, "parsing memory_limit")
		}
	}
	if memoryLimitFlag.IsSet() {
		memoryLimit = cliFlags.memoryLimit
	}

	e := &env{cluster: flowinfra.NewCluster()}
	for i, nc := range cfg.Nodes {
		var store *segment.PebbleStore
		if nc.Store == "" {
			store, err = segment.OpenMemPebbleStore()
		} else {
			store, err = segment.OpenPebbleStore(nc.Store)
		}
		if err != nil {
			e.close(context.Background())
			return nil, errors.Wrapf(err, "opening store for node %s", nc.ID)
		}
		e.stores = append(e.stores, store)

		shard := i
		e.cluster.AddNode(flowinfra.NewNode(flowinfra.NodeConfig{
			ID:          physicalplan.NodeID(nc.ID),
			Store:       store,
			MemoryLimit: memoryLimit,
			Concurrency: cfg.Concurrency,
			NewDocSink: func(jobID physicalplan.JobID) physicalplan.DocSink {
				return segment.NewPebbleDocSink(store, shard, jobID.String())
			},
		}))
		if i == 0 {
			e.handler = physicalplan.NodeID(nc.ID)
		}
	}
	return e, nil
}

func (e *env) close(ctx context.Context) {
	e.cluster.Stop(ctx)
	for _, s := range e.stores {
		_ = s.Close()
	}
}

// routingFor builds the routing for a table from where its shards actually
// live.
func (e *env) routingFor(table string) (physicalplan.Routing, error) {
	routing := make(physicalplan.Routing)
	for _, id := range e.cluster.NodeIDs() {
		node, _ := e.cluster.Node(id)
		shards, err := node.Store().Shards(table)
		if err != nil {
			return nil, err
		}
		if len(shards) == 0 {
			continue
		}
		routing[id] = map[string][]int{table: shards}
	}
	if len(routing) == 0 {
		return nil, errors.Newf("table %q has no shards on any node", table)
	}
	return routing, nil
}

// parseColumns parses "name:string,n:int" into result columns.
func parseColumns(spec string) ([]sqlbase.ResultColumn, error) {
	if spec == "" {
		return nil, errors.New("no columns given")
	}
	var out []sqlbase.ResultColumn
	for _, part := range strings.Split(spec, ",") {
		name, kindName, found := strings.Cut(strings.TrimSpace(part), ":")
		if !found || name == "" {
			return nil, errors.Newf("invalid column spec %q, want name:kind", part)
		}
		var kind sqlbase.ColumnKind
		switch strings.ToLower(kindName) {
		case "int":
			kind = sqlbase.Int
		case "float":
			kind = sqlbase.Float
		case "string":
			kind = sqlbase.String
		case "bool":
			kind = sqlbase.Bool
		default:
			return nil, errors.Newf("unknown column kind %q", kindName)
		}
		out = append(out, sqlbase.ResultColumn{Name: name, Kind: kind})
	}
	return out, nil
}
