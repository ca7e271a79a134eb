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

package colfetcher

import (
	"github.com/docsql/docsql/pkg/sql/sqlbase"
	"github.com/docsql/docsql/pkg/storage/segment"
)

// Fetcher materializes rows from a segment, one ref per output column.
// StartSegment rebinds every ref; NextRow walks the documents in doc id
// order. A Fetcher is reused across the segments of a collect.
type Fetcher struct {
	refs []ColumnRef

	docCount int
	nextDoc  int
}

// NewFetcher creates a Fetcher producing rows with the given columns, in
// order.
func NewFetcher(cols []sqlbase.ResultColumn) *Fetcher {
	refs := make([]ColumnRef, len(cols))
	for i, col := range cols {
		refs[i] = NewColumnRef(col)
	}
	return &Fetcher{refs: refs}
}

// StartSegment binds the fetcher to a segment and rewinds to its first
// document.
func (f *Fetcher) StartSegment(r segment.Reader) error {
	for _, ref := range f.refs {
		if err := ref.SetNextReader(r); err != nil {
			return err
		}
	}
	f.docCount = r.DocCount()
	f.nextDoc = 0
	return nil
}

// NextRow returns the next document's row, or ok=false when the segment is
// exhausted.
func (f *Fetcher) NextRow() (_ sqlbase.Row, ok bool, _ error) {
	if f.nextDoc >= f.docCount {
		return nil, false, nil
	}
	docID := f.nextDoc
	f.nextDoc++

	row := make(sqlbase.Row, len(f.refs))
	for i, ref := range f.refs {
		ref.SetNextDocID(docID)
		d, err := ref.Value()
		if err != nil {
			return nil, false, err
		}
		row[i] = d
	}
	return row, true, nil
}
