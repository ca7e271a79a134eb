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

// docsql is a demo shell around the distributed query core: it assembles an
// in-process cluster from a YAML config, one pebble store per node, and
// runs counts, scans, imports and exports against it.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/docsql/docsql/pkg/sql/copyplan"
	"github.com/docsql/docsql/pkg/sql/flowinfra"
	"github.com/docsql/docsql/pkg/sql/physicalplan"
	"github.com/docsql/docsql/pkg/sql/sqlbase"
	"github.com/docsql/docsql/pkg/util/log"
)

var cliFlags struct {
	config      string
	verbosity   int
	memoryLimit int64

	columns string
	filter  string
	limit   int64
	offset  int64

	gzip    bool
	shared  bool
	readers int
	dir     bool
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "docsql",
		Short:         "distributed queries over a sharded document store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			log.SetVerbosity(cliFlags.verbosity)
		},
	}
	root.PersistentFlags().StringVar(&cliFlags.config, "config", "", "cluster config file (yaml)")
	root.PersistentFlags().IntVar(&cliFlags.verbosity, "verbosity", 0, "log verbosity")
	root.PersistentFlags().Var(memoryLimitFlag, "memory-limit",
		"per-node budget for buffered rows, e.g. 64MiB; overrides the config file")
	root.AddCommand(countCmd(), scanCmd(), loadCmd(), exportCmd())
	return root
}

// withEnv opens the cluster, runs fn and tears everything down again.
func withEnv(fn func(ctx context.Context, e *env) error) error {
	ctx := context.Background()
	e, err := openEnv(cliFlags.config)
	if err != nil {
		return err
	}
	defer e.close(ctx)
	return fn(ctx, e)
}

func countCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count <table>",
		Short: "count the documents of a table across all shards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(func(ctx context.Context, e *env) error {
				routing, err := e.routingFor(args[0])
				if err != nil {
					return err
				}
				collect := physicalplan.NewCollectPhase(
					1, "count", routing, args[0], nil,
					[]physicalplan.Projection{
						physicalplan.CountAggregationProjection{Mode: physicalplan.CountPartial},
					},
					physicalplan.CountSchema)
				merge := physicalplan.LocalMerge(2,
					[]physicalplan.Projection{
						physicalplan.CountAggregationProjection{Mode: physicalplan.CountMerge},
					},
					routing.NumNodes(), physicalplan.CountSchema)
				plan := physicalplan.NewCollectAndMerge(uuid.New(), collect, merge)

				rows, err := flowinfra.NewCoordinator(e.cluster, e.handler).Run(ctx, plan)
				if err != nil {
					return err
				}
				printRows(physicalplan.CountSchema, rows)
				return nil
			})
		},
	}
}

func scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <table>",
		Short: "scan columns of a table, optionally filtered and limited",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cols, err := parseColumns(cliFlags.columns)
			if err != nil {
				return err
			}
			var projections []physicalplan.Projection
			if cliFlags.filter != "" {
				p, err := parseFilter(cliFlags.filter, cols)
				if err != nil {
					return err
				}
				projections = append(projections, p)
			}
			var mergeProjections []physicalplan.Projection
			if cliFlags.limit > 0 || cliFlags.offset > 0 {
				mergeProjections = append(mergeProjections,
					physicalplan.LimitProjection{Limit: cliFlags.limit, Offset: cliFlags.offset})
			}
			return withEnv(func(ctx context.Context, e *env) error {
				routing, err := e.routingFor(args[0])
				if err != nil {
					return err
				}
				schema := sqlbase.RowSchema(cols)
				collect := physicalplan.NewCollectPhase(
					1, "scan", routing, args[0], cols, projections, schema)
				merge := physicalplan.LocalMerge(2, mergeProjections, routing.NumNodes(), schema)
				plan := physicalplan.NewCollectAndMerge(uuid.New(), collect, merge)

				rows, err := flowinfra.NewCoordinator(e.cluster, e.handler).Run(ctx, plan)
				if err != nil {
					return err
				}
				printRows(schema, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&cliFlags.columns, "columns", "", "columns to scan, name:kind comma-separated")
	cmd.Flags().StringVar(&cliFlags.filter, "filter", "", "equality filter, col=value")
	cmd.Flags().Int64Var(&cliFlags.limit, "limit", 0, "maximum rows to return")
	cmd.Flags().Int64Var(&cliFlags.offset, "offset", 0, "rows to skip")
	return cmd
}

func loadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load <table> <uri>",
		Short: "import newline-delimited JSON documents into a table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(func(ctx context.Context, e *env) error {
				opts := copyplan.CopyFromOptions{
					Table:         args[0],
					URI:           args[1],
					SharedStorage: cliFlags.shared,
					NumReaders:    cliFlags.readers,
				}
				if cliFlags.gzip {
					opts.Compression = physicalplan.GzipCompression
				}
				plan, err := copyplan.PlanCopyFrom(uuid.New(), opts, e.cluster.NodeIDs())
				if err != nil {
					return err
				}
				rows, err := flowinfra.NewCoordinator(e.cluster, e.handler).Run(ctx, plan)
				if err != nil {
					return err
				}
				printRows(physicalplan.CountSchema, rows)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&cliFlags.gzip, "gzip", false, "source files are gzip-compressed")
	cmd.Flags().BoolVar(&cliFlags.shared, "shared", true, "source uri is visible to all nodes")
	cmd.Flags().IntVar(&cliFlags.readers, "readers", 0, "maximum nodes reading in parallel")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <table> <uri>",
		Short: "export a table as newline-delimited JSON, one file per node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cols, err := parseColumns(cliFlags.columns)
			if err != nil {
				return err
			}
			return withEnv(func(ctx context.Context, e *env) error {
				routing, err := e.routingFor(args[0])
				if err != nil {
					return err
				}
				opts := copyplan.CopyToOptions{
					Table:        args[0],
					Columns:      cols,
					URI:          args[1],
					DirectoryURI: cliFlags.dir,
				}
				if cliFlags.gzip {
					opts.Compression = physicalplan.GzipCompression
				}
				plan, err := copyplan.PlanCopyTo(uuid.New(), opts, routing)
				if err != nil {
					return err
				}
				rows, err := flowinfra.NewCoordinator(e.cluster, e.handler).Run(ctx, plan)
				if err != nil {
					return err
				}
				printRows(physicalplan.CountSchema, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&cliFlags.columns, "columns", "", "columns to export, name:kind comma-separated")
	cmd.Flags().BoolVar(&cliFlags.gzip, "gzip", false, "compress the output files")
	cmd.Flags().BoolVar(&cliFlags.dir, "dir", false, "treat the uri as a directory")
	return cmd
}

// parseFilter parses "col=value" against the scanned columns, coercing the
// value to the column's kind.
func parseFilter(spec string, cols []sqlbase.ResultColumn) (physicalplan.Projection, error) {
	name, raw, found := strings.Cut(spec, "=")
	if !found {
		return nil, errors.Newf("invalid filter %q, want col=value", spec)
	}
	for i, col := range cols {
		if col.Name != name {
			continue
		}
		var datum sqlbase.Datum
		switch col.Kind {
		case sqlbase.Int:
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "filter value for INT column %s", name)
			}
			datum = v
		case sqlbase.Float:
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "filter value for FLOAT column %s", name)
			}
			datum = v
		case sqlbase.Bool:
			v, err := strconv.ParseBool(raw)
			if err != nil {
				return nil, errors.Wrapf(err, "filter value for BOOL column %s", name)
			}
			datum = v
		default:
			datum = raw
		}
		return physicalplan.FilterProjection{Col: i, Equals: datum}, nil
	}
	return nil, errors.Newf("filter column %q is not among the scanned columns", name)
}

func printRows(schema sqlbase.RowSchema, rows []sqlbase.Row) {
	table := tablewriter.NewWriter(os.Stdout)
	header := make([]string, len(schema))
	for i, col := range schema {
		header[i] = col.Name
	}
	table.SetHeader(header)
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, d := range row {
			if d == nil {
				cells[i] = "NULL"
			} else {
				cells[i] = fmt.Sprintf("%v", d)
			}
		}
		table.Append(cells)
	}
	table.Render()
}
