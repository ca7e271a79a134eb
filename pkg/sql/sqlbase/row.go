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

// Package sqlbase holds the row and schema types shared by planning and
// execution.
package sqlbase

import (
	"fmt"
	"strings"
)

// RawColumnName is the pseudo column holding a document's raw JSON source.
// File collects expose it so that import pipelines can re-index documents
// without a round trip through typed columns.
const RawColumnName = "_raw"

// Datum is a single column value. A nil Datum is SQL NULL. The concrete
// types used are int64, float64, string and bool; the storage layer and the
// column fetchers only ever produce these.
type Datum interface{}

// Row is one row flowing through a phase.
type Row []Datum

// ColumnKind identifies the type of a column.
type ColumnKind int

// The supported column kinds.
const (
	Null ColumnKind = iota
	Int
	Float
	String
	Bool
)

func (k ColumnKind) String() string {
	switch k {
	case Int:
		return "INT"
	case Float:
		return "FLOAT"
	case String:
		return "STRING"
	case Bool:
		return "BOOL"
	default:
		return "NULL"
	}
}

// ResultColumn describes one column of a phase's output schema.
type ResultColumn struct {
	Name string
	Kind ColumnKind
}

// RowSchema is the ordered output schema of a phase.
type RowSchema []ResultColumn

func (s RowSchema) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, c := range s {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s %s", c.Name, c.Kind)
	}
	sb.WriteByte(')')
	return sb.String()
}

// Sizes used by Row.Size. The per-row and per-string overheads approximate
// the slice and string headers.
const (
	rowOverhead    = 24
	stringOverhead = 16
)

// Size estimates the memory footprint of the row in bytes. The estimate is
// used for accounting, not allocation, so it errs on the side of charging
// header overheads.
func (r Row) Size() int64 {
	size := int64(rowOverhead)
	for _, d := range r {
		switch v := d.(type) {
		case nil:
			// NULL carries no payload.
		case int64:
			size += 8
		case float64:
			size += 8
		case bool:
			size++
		case string:
			size += stringOverhead + int64(len(v))
		default:
			// Unknown datum types are charged a pointer's worth; they should
			// not occur in practice.
			size += 8
		}
	}
	return size
}

// Copy returns a deep enough copy of the row: the slice is fresh, datums are
// immutable values.
func (r Row) Copy() Row {
	out := make(Row, len(r))
	copy(out, r)
	return out
}
