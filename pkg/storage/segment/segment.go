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

// Package segment defines the boundary between query execution and the
// columnar document store. A table shard is a sequence of immutable
// segments; each segment holds a dense range of document ids and exposes
// per-column value lookups. Collectors obtain a Reader per segment and walk
// documents in increasing doc id order.
package segment

import (
	"sort"

	"github.com/docsql/docsql/pkg/sql/sqlbase"
)

// Values is a cursor over one column's values within a segment. After
// SeekDoc, Count and ValueAt describe the values stored for that document.
// A document may have zero, one or several values for a column.
type Values interface {
	// SeekDoc positions the cursor on a document. Documents must be visited
	// in increasing doc id order.
	SeekDoc(docID int)
	// Count returns the number of values for the current document.
	Count() int
	// ValueAt returns the i-th value for the current document, i < Count().
	ValueAt(i int) sqlbase.Datum
}

// Reader is a handle onto one storage segment.
type Reader interface {
	// ID identifies the segment within its shard.
	ID() string
	// DocCount returns the number of documents in the segment. Doc ids are
	// dense in [0, DocCount).
	DocCount() int
	// Column returns the value cursor for a column. A column with no stored
	// values yields a cursor that reports zero values for every document.
	Column(name string) (Values, error)
}

// Store enumerates the segments of a table shard in a stable order.
type Store interface {
	Segments(table string, shard int) ([]Reader, error)
	// Shards returns the shard indices present for a table, sorted.
	Shards(table string) ([]int, error)
}

// emptyValues is the cursor for columns absent from a segment.
type emptyValues struct{}

func (emptyValues) SeekDoc(int)               {}
func (emptyValues) Count() int                { return 0 }
func (emptyValues) ValueAt(int) sqlbase.Datum { return nil }

// MemSegment is an in-memory segment, used in tests and by the demo loader.
type MemSegment struct {
	SegID string
	Docs  int
	// Cols maps column name -> per-document value lists.
	Cols map[string][][]sqlbase.Datum

	cursorDoc int
}

var _ Reader = &MemSegment{}

// ID implements Reader.
func (s *MemSegment) ID() string { return s.SegID }

// DocCount implements Reader.
func (s *MemSegment) DocCount() int { return s.Docs }

// Column implements Reader.
func (s *MemSegment) Column(name string) (Values, error) {
	vals, ok := s.Cols[name]
	if !ok {
		return emptyValues{}, nil
	}
	return &memValues{perDoc: vals}, nil
}

type memValues struct {
	perDoc [][]sqlbase.Datum
	cur    []sqlbase.Datum
}

func (v *memValues) SeekDoc(docID int) {
	if docID < len(v.perDoc) {
		v.cur = v.perDoc[docID]
	} else {
		v.cur = nil
	}
}

func (v *memValues) Count() int { return len(v.cur) }

func (v *memValues) ValueAt(i int) sqlbase.Datum { return v.cur[i] }

// MemStore is an in-memory Store.
type MemStore struct {
	// tables maps table -> shard -> segments in insertion order.
	tables map[string]map[int][]*MemSegment
}

var _ Store = &MemStore{}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{tables: make(map[string]map[int][]*MemSegment)}
}

// AddSegment appends a segment to a table shard.
func (m *MemStore) AddSegment(table string, shard int, seg *MemSegment) {
	shards, ok := m.tables[table]
	if !ok {
		shards = make(map[int][]*MemSegment)
		m.tables[table] = shards
	}
	shards[shard] = append(shards[shard], seg)
}

// Segments implements Store.
func (m *MemStore) Segments(table string, shard int) ([]Reader, error) {
	segs := m.tables[table][shard]
	out := make([]Reader, len(segs))
	for i, s := range segs {
		out[i] = s
	}
	return out, nil
}

// Shards implements Store.
func (m *MemStore) Shards(table string) ([]int, error) {
	var out []int
	for shard := range m.tables[table] {
		out = append(out, shard)
	}
	sort.Ints(out)
	return out, nil
}

// DocsToSegment builds a MemSegment from documents represented as field
// maps. Scalar fields become single values; slice fields become multi-value
// columns.
func DocsToSegment(segID string, docs []map[string]interface{}) *MemSegment {
	seg := &MemSegment{
		SegID: segID,
		Docs:  len(docs),
		Cols:  make(map[string][][]sqlbase.Datum),
	}
	ensure := func(col string) [][]sqlbase.Datum {
		if _, ok := seg.Cols[col]; !ok {
			seg.Cols[col] = make([][]sqlbase.Datum, len(docs))
		}
		return seg.Cols[col]
	}
	for docID, doc := range docs {
		for col, raw := range doc {
			vals := ensure(col)
			switch v := raw.(type) {
			case []interface{}:
				for _, e := range v {
					vals[docID] = append(vals[docID], NormalizeDatum(e))
				}
			case nil:
				// Absent value; leave the doc's list empty.
			default:
				vals[docID] = []sqlbase.Datum{NormalizeDatum(v)}
			}
		}
	}
	return seg
}

// NormalizeDatum maps arbitrary decoded values onto the supported datum
// types. JSON decoding produces float64 for all numbers; integral floats are
// narrowed to int64 so that typed column references line up.
func NormalizeDatum(v interface{}) sqlbase.Datum {
	switch t := v.(type) {
	case nil:
		return nil
	case bool:
		return t
	case string:
		return t
	case int:
		return int64(t)
	case int64:
		return t
	case float64:
		if t == float64(int64(t)) {
			return int64(t)
		}
		return t
	default:
		return t
	}
}
