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

package physicalplan

import (
	"github.com/cockroachdb/errors"

	"github.com/docsql/docsql/pkg/sql/sqlbase"
)

// DocSink receives documents imported by a SourceWriterProjection. The
// executing node provides its local implementation.
type DocSink interface {
	WriteDocument(table string, doc map[string]interface{}) error
	Flush() error
}

// LocalState carries the node-local facilities a projection applier may
// need. It is supplied by the executor when instantiating appliers.
type LocalState struct {
	NodeID  NodeID
	DocSink DocSink
}

// Projection is a transform applied to the rows flowing through a phase.
// Projections themselves are immutable plan data; per-execution state lives
// in the Applier instances they create.
type Projection interface {
	Name() string
	NewApplier(local LocalState) (Applier, error)
}

// Applier applies a projection to a stream of rows. Apply maps one input
// row to zero or more output rows; Finish flushes whatever the applier
// buffered (aggregates, writers) once the input is exhausted.
type Applier interface {
	Apply(row sqlbase.Row) ([]sqlbase.Row, error)
	Finish() ([]sqlbase.Row, error)
}

// InputColumnsProjection reorders or narrows rows to the given column
// indices.
type InputColumnsProjection struct {
	Cols []int
}

var _ Projection = InputColumnsProjection{}

// Name implements Projection.
func (InputColumnsProjection) Name() string { return "inputColumns" }

// NewApplier implements Projection.
func (p InputColumnsProjection) NewApplier(LocalState) (Applier, error) {
	return &inputColumnsApplier{cols: p.Cols}, nil
}

type inputColumnsApplier struct {
	cols []int
}

func (a *inputColumnsApplier) Apply(row sqlbase.Row) ([]sqlbase.Row, error) {
	out := make(sqlbase.Row, len(a.cols))
	for i, c := range a.cols {
		if c < 0 || c >= len(row) {
			return nil, errors.AssertionFailedf("input column %d out of range for row of width %d", c, len(row))
		}
		out[i] = row[c]
	}
	return []sqlbase.Row{out}, nil
}

func (a *inputColumnsApplier) Finish() ([]sqlbase.Row, error) { return nil, nil }

// FilterProjection keeps rows whose column Col equals the given datum.
type FilterProjection struct {
	Col    int
	Equals sqlbase.Datum
}

var _ Projection = FilterProjection{}

// Name implements Projection.
func (FilterProjection) Name() string { return "filter" }

// NewApplier implements Projection.
func (p FilterProjection) NewApplier(LocalState) (Applier, error) {
	return &filterApplier{col: p.Col, equals: p.Equals}, nil
}

type filterApplier struct {
	col    int
	equals sqlbase.Datum
}

func (a *filterApplier) Apply(row sqlbase.Row) ([]sqlbase.Row, error) {
	if a.col < 0 || a.col >= len(row) {
		return nil, errors.AssertionFailedf("filter column %d out of range for row of width %d", a.col, len(row))
	}
	if row[a.col] == a.equals {
		return []sqlbase.Row{row}, nil
	}
	return nil, nil
}

func (a *filterApplier) Finish() ([]sqlbase.Row, error) { return nil, nil }

// LimitProjection passes through at most Limit rows after skipping Offset
// rows.
type LimitProjection struct {
	Limit  int64
	Offset int64
}

var _ Projection = LimitProjection{}

// Name implements Projection.
func (LimitProjection) Name() string { return "limit" }

// NewApplier implements Projection.
func (p LimitProjection) NewApplier(LocalState) (Applier, error) {
	return &limitApplier{remainingOffset: p.Offset, remaining: p.Limit}, nil
}

type limitApplier struct {
	remainingOffset int64
	remaining       int64
}

func (a *limitApplier) Apply(row sqlbase.Row) ([]sqlbase.Row, error) {
	if a.remainingOffset > 0 {
		a.remainingOffset--
		return nil, nil
	}
	if a.remaining <= 0 {
		return nil, nil
	}
	a.remaining--
	return []sqlbase.Row{row}, nil
}

func (a *limitApplier) Finish() ([]sqlbase.Row, error) { return nil, nil }

// CountAggregationMode selects between the partial and merging halves of a
// distributed count.
type CountAggregationMode int

const (
	// CountPartial counts input rows; used on collect nodes.
	CountPartial CountAggregationMode = iota
	// CountMerge sums the partial counts arriving in column 0; used on the
	// merging node.
	CountMerge
)

// CountAggregationProjection implements the distributed row count: collect
// phases attach the partial mode, the downstream merge sums the partials.
type CountAggregationProjection struct {
	Mode CountAggregationMode
}

var _ Projection = CountAggregationProjection{}

// Name implements Projection.
func (p CountAggregationProjection) Name() string {
	if p.Mode == CountPartial {
		return "count(partial)"
	}
	return "count(merge)"
}

// NewApplier implements Projection.
func (p CountAggregationProjection) NewApplier(LocalState) (Applier, error) {
	return &countApplier{mode: p.Mode}, nil
}

type countApplier struct {
	mode  CountAggregationMode
	count int64
}

func (a *countApplier) Apply(row sqlbase.Row) ([]sqlbase.Row, error) {
	if a.mode == CountPartial {
		a.count++
		return nil, nil
	}
	if len(row) == 0 {
		return nil, errors.AssertionFailedf("count merge received an empty row")
	}
	v, ok := row[0].(int64)
	if !ok {
		return nil, errors.AssertionFailedf("count merge received non-integer partial %T", row[0])
	}
	a.count += v
	return nil, nil
}

func (a *countApplier) Finish() ([]sqlbase.Row, error) {
	return []sqlbase.Row{{a.count}}, nil
}

// CountSchema is the output schema of a count aggregation.
var CountSchema = sqlbase.RowSchema{{Name: "count", Kind: sqlbase.Int}}
