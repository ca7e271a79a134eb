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

// Package copyplan builds the physical plans behind COPY FROM and COPY TO:
// a file or table collect whose projections do the writing, feeding a local
// merge that sums the per-node row counts into the single count the client
// sees.
package copyplan

import (
	"github.com/cockroachdb/errors"

	"github.com/docsql/docsql/pkg/sql/physicalplan"
	"github.com/docsql/docsql/pkg/sql/sqlbase"
)

// Phase ids within a copy plan.
const (
	copyCollectPhaseID physicalplan.PhaseID = 1
	copyMergePhaseID   physicalplan.PhaseID = 2
)

// CopyFromOptions parameterizes a COPY <table> FROM <uri> plan.
type CopyFromOptions struct {
	Table string
	// URI is the file:// source, optionally a glob.
	URI string
	// Compression is "" or physicalplan.GzipCompression.
	Compression string
	// SharedStorage marks the URI as visible to every node, so only one
	// node reads it.
	SharedStorage bool
	// NumReaders caps the nodes reading in parallel. Non-positive means all
	// candidates.
	NumReaders int
}

// PlanCopyFrom builds the import plan: the candidate nodes read documents
// from the URI and index them locally; the handler node sums the per-node
// import counts.
func PlanCopyFrom(
	jobID physicalplan.JobID, opts CopyFromOptions, candidates []physicalplan.NodeID,
) (*physicalplan.Plan, error) {
	if opts.Table == "" {
		return nil, errors.New("copy from: no target table")
	}
	if opts.URI == "" {
		return nil, errors.New("copy from: no source uri")
	}
	numReaders := opts.NumReaders
	if numReaders <= 0 {
		numReaders = len(candidates)
	}
	routing := physicalplan.GenerateRouting(candidates, numReaders)
	if routing.NumNodes() == 0 {
		return nil, errors.New("copy from: no nodes to read on")
	}

	collect := physicalplan.NewFileURICollectPhase(
		copyCollectPhaseID,
		"copyFrom",
		routing,
		opts.URI,
		[]sqlbase.ResultColumn{{Name: sqlbase.RawColumnName, Kind: sqlbase.String}},
		[]physicalplan.Projection{
			physicalplan.SourceWriterProjection{Table: opts.Table, RawCol: 0},
		},
		opts.Compression,
		opts.SharedStorage,
		physicalplan.CountSchema,
	)
	merge := physicalplan.LocalMerge(
		copyMergePhaseID,
		[]physicalplan.Projection{
			physicalplan.CountAggregationProjection{Mode: physicalplan.CountMerge},
		},
		routing.NumNodes(),
		physicalplan.CountSchema,
	)
	return physicalplan.NewCollectAndMerge(jobID, collect, merge), nil
}

// CopyToOptions parameterizes a COPY <table> TO <uri> plan.
type CopyToOptions struct {
	Table string
	// Columns are the exported columns, in output order.
	Columns []sqlbase.ResultColumn
	// URI is the file:// target. Each exporting node writes its own file.
	URI string
	// DirectoryURI marks URI as a directory target.
	DirectoryURI bool
	// Compression is "" or physicalplan.GzipCompression.
	Compression string
}

// PlanCopyTo builds the export plan: every node holding shards of the table
// writes its rows to its own output file; the handler node sums the
// per-node row counts.
func PlanCopyTo(
	jobID physicalplan.JobID, opts CopyToOptions, routing physicalplan.Routing,
) (*physicalplan.Plan, error) {
	if opts.Table == "" {
		return nil, errors.New("copy to: no source table")
	}
	if opts.URI == "" {
		return nil, errors.New("copy to: no target uri")
	}
	if len(opts.Columns) == 0 {
		return nil, errors.New("copy to: no columns to export")
	}
	if routing.NumNodes() == 0 {
		return nil, errors.New("copy to: empty routing")
	}

	names := make([]string, len(opts.Columns))
	for i, col := range opts.Columns {
		names[i] = col.Name
	}
	collect := physicalplan.NewCollectPhase(
		copyCollectPhaseID,
		"copyTo",
		routing,
		opts.Table,
		opts.Columns,
		[]physicalplan.Projection{
			physicalplan.WriterProjection{
				URI:          opts.URI,
				DirectoryURI: opts.DirectoryURI,
				Compression:  opts.Compression,
				ColumnNames:  names,
			},
		},
		physicalplan.CountSchema,
	)
	merge := physicalplan.LocalMerge(
		copyMergePhaseID,
		[]physicalplan.Projection{
			physicalplan.CountAggregationProjection{Mode: physicalplan.CountMerge},
		},
		routing.NumNodes(),
		physicalplan.CountSchema,
	)
	return physicalplan.NewCollectAndMerge(jobID, collect, merge), nil
}
