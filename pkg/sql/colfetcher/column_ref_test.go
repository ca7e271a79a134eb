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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docsql/docsql/pkg/sql/sqlbase"
	"github.com/docsql/docsql/pkg/storage/segment"
)

// testSegment has one INT column "n" with zero, one and two values across
// three documents.
func testSegment() *segment.MemSegment {
	return &segment.MemSegment{
		SegID: "s0",
		Docs:  3,
		Cols: map[string][][]sqlbase.Datum{
			"n": {
				nil,
				{int64(7)},
				{int64(1), int64(2)},
			},
		},
	}
}

func TestColumnRefZeroOneMany(t *testing.T) {
	ref := NewColumnRef(sqlbase.ResultColumn{Name: "n", Kind: sqlbase.Int})
	require.NoError(t, ref.SetNextReader(testSegment()))

	ref.SetNextDocID(0)
	d, err := ref.Value()
	require.NoError(t, err)
	require.Nil(t, d)

	ref.SetNextDocID(1)
	d, err = ref.Value()
	require.NoError(t, err)
	require.Equal(t, int64(7), d)

	ref.SetNextDocID(2)
	_, err = ref.Value()
	require.Error(t, err)
	require.True(t, IsUnsupportedMultiValue(err))
}

func TestColumnRefReadBeforePositioning(t *testing.T) {
	ref := NewColumnRef(sqlbase.ResultColumn{Name: "n", Kind: sqlbase.Int})
	_, err := ref.Value()
	require.Error(t, err)

	require.NoError(t, ref.SetNextReader(testSegment()))
	_, err = ref.Value()
	require.Error(t, err)

	ref.SetNextDocID(1)
	_, err = ref.Value()
	require.NoError(t, err)
}

func TestColumnRefMissingColumn(t *testing.T) {
	ref := NewColumnRef(sqlbase.ResultColumn{Name: "absent", Kind: sqlbase.String})
	require.NoError(t, ref.SetNextReader(testSegment()))
	ref.SetNextDocID(0)
	d, err := ref.Value()
	require.NoError(t, err)
	require.Nil(t, d)
}

func TestFloatRefWidensInt(t *testing.T) {
	ref := NewColumnRef(sqlbase.ResultColumn{Name: "n", Kind: sqlbase.Float})
	require.NoError(t, ref.SetNextReader(testSegment()))
	ref.SetNextDocID(1)
	d, err := ref.Value()
	require.NoError(t, err)
	require.Equal(t, float64(7), d)
}

func TestRefsEqualByColumn(t *testing.T) {
	a := NewColumnRef(sqlbase.ResultColumn{Name: "n", Kind: sqlbase.Int})
	b := NewColumnRef(sqlbase.ResultColumn{Name: "n", Kind: sqlbase.Float})
	c := NewColumnRef(sqlbase.ResultColumn{Name: "m", Kind: sqlbase.Int})
	require.True(t, RefsEqual(a, b))
	require.False(t, RefsEqual(a, c))
}

func TestFetcherWalksSegments(t *testing.T) {
	first := segment.DocsToSegment("s0", []map[string]interface{}{
		{"name": "a", "n": 1},
		{"name": "b"},
	})
	second := segment.DocsToSegment("s1", []map[string]interface{}{
		{"name": "c", "n": 3},
	})

	f := NewFetcher([]sqlbase.ResultColumn{
		{Name: "name", Kind: sqlbase.String},
		{Name: "n", Kind: sqlbase.Int},
	})

	var rows []sqlbase.Row
	for _, seg := range []*segment.MemSegment{first, second} {
		require.NoError(t, f.StartSegment(seg))
		for {
			row, ok, err := f.NextRow()
			require.NoError(t, err)
			if !ok {
				break
			}
			rows = append(rows, row)
		}
	}
	require.Equal(t, []sqlbase.Row{
		{"a", int64(1)},
		{"b", nil},
		{"c", int64(3)},
	}, rows)
}
