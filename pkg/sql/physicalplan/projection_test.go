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
	"bufio"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docsql/docsql/pkg/sql/sqlbase"
)

func applyAll(t *testing.T, p Projection, local LocalState, rows []sqlbase.Row) []sqlbase.Row {
	t.Helper()
	a, err := p.NewApplier(local)
	require.NoError(t, err)
	var out []sqlbase.Row
	for _, row := range rows {
		produced, err := a.Apply(row)
		require.NoError(t, err)
		out = append(out, produced...)
	}
	flushed, err := a.Finish()
	require.NoError(t, err)
	return append(out, flushed...)
}

func TestInputColumnsProjection(t *testing.T) {
	out := applyAll(t, InputColumnsProjection{Cols: []int{2, 0}}, LocalState{},
		[]sqlbase.Row{{int64(1), "a", true}})
	require.Equal(t, []sqlbase.Row{{true, int64(1)}}, out)
}

func TestFilterProjection(t *testing.T) {
	rows := []sqlbase.Row{{"a", int64(1)}, {"b", int64(2)}, {"a", int64(3)}}
	out := applyAll(t, FilterProjection{Col: 0, Equals: "a"}, LocalState{}, rows)
	require.Equal(t, []sqlbase.Row{{"a", int64(1)}, {"a", int64(3)}}, out)
}

func TestLimitProjection(t *testing.T) {
	rows := []sqlbase.Row{{int64(0)}, {int64(1)}, {int64(2)}, {int64(3)}}
	out := applyAll(t, LimitProjection{Limit: 2, Offset: 1}, LocalState{}, rows)
	require.Equal(t, []sqlbase.Row{{int64(1)}, {int64(2)}}, out)
}

func TestCountAggregationProjection(t *testing.T) {
	partial := applyAll(t, CountAggregationProjection{Mode: CountPartial}, LocalState{},
		[]sqlbase.Row{{"x"}, {"y"}, {"z"}})
	require.Equal(t, []sqlbase.Row{{int64(3)}}, partial)

	merged := applyAll(t, CountAggregationProjection{Mode: CountMerge}, LocalState{},
		[]sqlbase.Row{{int64(3)}, {int64(4)}})
	require.Equal(t, []sqlbase.Row{{int64(7)}}, merged)
}

func TestWriterProjection(t *testing.T) {
	dir := t.TempDir()
	p := WriterProjection{
		URI:         "file://" + filepath.Join(dir, "out.json"),
		ColumnNames: []string{"name", "n"},
	}
	out := applyAll(t, p, LocalState{NodeID: "n1"},
		[]sqlbase.Row{{"a", int64(1)}, {"b", int64(2)}})
	require.Equal(t, []sqlbase.Row{{int64(2)}}, out)

	data, err := os.ReadFile(filepath.Join(dir, "out_n1.json"))
	require.NoError(t, err)
	require.Contains(t, string(data), `"name":"a"`)
	require.Contains(t, string(data), `"n":2`)
}

func TestWriterProjectionGzip(t *testing.T) {
	dir := t.TempDir()
	p := WriterProjection{
		URI:         filepath.Join(dir, "out.json"),
		Compression: GzipCompression,
		ColumnNames: []string{"v"},
	}
	out := applyAll(t, p, LocalState{NodeID: "n2"}, []sqlbase.Row{{int64(7)}})
	require.Equal(t, []sqlbase.Row{{int64(1)}}, out)

	f, err := os.Open(filepath.Join(dir, "out_n2.json.gz"))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	line, err := bufio.NewReader(gz).ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line, `"v":7`)
}
