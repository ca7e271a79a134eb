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

// Package colfetcher reads column values out of storage segments during a
// collect. A ColumnRef is the per-column cursor: it is bound to successive
// segments, positioned on successive documents, and asked for the current
// value. Typed variants enforce the declared column kind at read time.
package colfetcher

import (
	"github.com/cockroachdb/errors"

	"github.com/docsql/docsql/pkg/sql/sqlbase"
	"github.com/docsql/docsql/pkg/storage/segment"
)

// ErrUnsupportedMultiValue is the mark carried when a single-valued read
// hits a document storing several values for the column. Array columns must
// be read through operations prepared for multiple values.
var ErrUnsupportedMultiValue = errors.New("cannot read a single value from a multi-valued column")

// IsUnsupportedMultiValue returns true if err stems from reading a
// multi-valued column as a scalar.
func IsUnsupportedMultiValue(err error) bool {
	return errors.Is(err, ErrUnsupportedMultiValue)
}

// ColumnRef is a cursor over one column across the segments of a collect.
// The lifecycle is strict: SetNextReader binds the ref to a segment,
// SetNextDocID positions it on a document, and only then may Value be
// called. Re-binding to the next segment resets the document position.
type ColumnRef interface {
	// Column returns the column name the ref reads.
	Column() string
	// SetNextReader binds the ref to a segment's column cursor.
	SetNextReader(r segment.Reader) error
	// SetNextDocID positions the ref on a document of the bound segment.
	// Documents must be visited in increasing doc id order.
	SetNextDocID(docID int)
	// Value returns the current document's value, nil for a document with
	// no stored value, or an error marked ErrUnsupportedMultiValue when the
	// document stores several.
	Value() (sqlbase.Datum, error)
}

type refState int

const (
	refUnbound refState = iota
	refSegmentBound
	refDocPositioned
)

// columnRefBase carries the state machine shared by the typed refs. Two
// refs are interchangeable iff they read the same column; the kind only
// changes how values are checked, not what is read.
type columnRefBase struct {
	column string
	state  refState
	values segment.Values
}

func (r *columnRefBase) Column() string { return r.column }

func (r *columnRefBase) SetNextReader(reader segment.Reader) error {
	values, err := reader.Column(r.column)
	if err != nil {
		return err
	}
	r.values = values
	r.state = refSegmentBound
	return nil
}

func (r *columnRefBase) SetNextDocID(docID int) {
	r.values.SeekDoc(docID)
	r.state = refDocPositioned
}

// rawValue returns the positioned document's single value, applying the
// zero/one/many rule.
func (r *columnRefBase) rawValue() (sqlbase.Datum, error) {
	switch r.state {
	case refUnbound:
		return nil, errors.AssertionFailedf("column ref %q read before binding a segment", r.column)
	case refSegmentBound:
		return nil, errors.AssertionFailedf("column ref %q read before positioning a document", r.column)
	}
	switch n := r.values.Count(); n {
	case 0:
		return nil, nil
	case 1:
		return r.values.ValueAt(0), nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedMultiValue, "column %q holds %d values", r.column, n)
	}
}

// Int64ColumnRef reads an INT column.
type Int64ColumnRef struct {
	columnRefBase
}

// Value implements ColumnRef.
func (r *Int64ColumnRef) Value() (sqlbase.Datum, error) {
	d, err := r.rawValue()
	if err != nil || d == nil {
		return nil, err
	}
	v, ok := d.(int64)
	if !ok {
		return nil, errors.AssertionFailedf("column %q: expected INT, stored %T", r.column, d)
	}
	return v, nil
}

// Float64ColumnRef reads a FLOAT column. Stored integers widen to float64.
type Float64ColumnRef struct {
	columnRefBase
}

// Value implements ColumnRef.
func (r *Float64ColumnRef) Value() (sqlbase.Datum, error) {
	d, err := r.rawValue()
	if err != nil || d == nil {
		return nil, err
	}
	switch v := d.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	default:
		return nil, errors.AssertionFailedf("column %q: expected FLOAT, stored %T", r.column, d)
	}
}

// StringColumnRef reads a STRING column.
type StringColumnRef struct {
	columnRefBase
}

// Value implements ColumnRef.
func (r *StringColumnRef) Value() (sqlbase.Datum, error) {
	d, err := r.rawValue()
	if err != nil || d == nil {
		return nil, err
	}
	v, ok := d.(string)
	if !ok {
		return nil, errors.AssertionFailedf("column %q: expected STRING, stored %T", r.column, d)
	}
	return v, nil
}

// BoolColumnRef reads a BOOL column.
type BoolColumnRef struct {
	columnRefBase
}

// Value implements ColumnRef.
func (r *BoolColumnRef) Value() (sqlbase.Datum, error) {
	d, err := r.rawValue()
	if err != nil || d == nil {
		return nil, err
	}
	v, ok := d.(bool)
	if !ok {
		return nil, errors.AssertionFailedf("column %q: expected BOOL, stored %T", r.column, d)
	}
	return v, nil
}

// untypedColumnRef reads a column without a kind check; used for NULL-kind
// result columns.
type untypedColumnRef struct {
	columnRefBase
}

func (r *untypedColumnRef) Value() (sqlbase.Datum, error) {
	return r.rawValue()
}

// NewColumnRef builds the ref variant matching the column's declared kind.
func NewColumnRef(col sqlbase.ResultColumn) ColumnRef {
	base := columnRefBase{column: col.Name}
	switch col.Kind {
	case sqlbase.Int:
		return &Int64ColumnRef{columnRefBase: base}
	case sqlbase.Float:
		return &Float64ColumnRef{columnRefBase: base}
	case sqlbase.String:
		return &StringColumnRef{columnRefBase: base}
	case sqlbase.Bool:
		return &BoolColumnRef{columnRefBase: base}
	default:
		return &untypedColumnRef{columnRefBase: base}
	}
}

// RefsEqual reports whether two refs read the same column. The kind does
// not participate; a collect never carries two refs of different kinds for
// one column.
func RefsEqual(a, b ColumnRef) bool {
	return a.Column() == b.Column()
}
