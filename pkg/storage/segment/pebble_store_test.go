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

package segment

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docsql/docsql/pkg/sql/sqlbase"
)

func TestPebbleStoreRoundTrip(t *testing.T) {
	store, err := OpenMemPebbleStore()
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	b := store.NewSegmentBuilder("users", 0, "seg-0001")
	b.AddDocument(map[string]interface{}{"name": "ada", "age": int64(36)})
	b.AddDocument(map[string]interface{}{"name": "grace", "age": int64(45), "tags": []interface{}{"x", "y"}})
	b.AddDocument(map[string]interface{}{"name": "alan"})
	require.NoError(t, b.Finish())

	segs, err := store.Segments("users", 0)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	seg := segs[0]
	require.Equal(t, "seg-0001", seg.ID())
	require.Equal(t, 3, seg.DocCount())

	ages, err := seg.Column("age")
	require.NoError(t, err)
	ages.SeekDoc(0)
	require.Equal(t, 1, ages.Count())
	require.Equal(t, sqlbase.Datum(int64(36)), ages.ValueAt(0))
	ages.SeekDoc(2)
	require.Equal(t, 0, ages.Count())

	tags, err := seg.Column("tags")
	require.NoError(t, err)
	tags.SeekDoc(1)
	require.Equal(t, 2, tags.Count())
	require.Equal(t, sqlbase.Datum("x"), tags.ValueAt(0))

	// Missing columns read as all-empty.
	missing, err := seg.Column("nope")
	require.NoError(t, err)
	missing.SeekDoc(0)
	require.Equal(t, 0, missing.Count())
}

func TestPebbleStoreSegmentOrderStable(t *testing.T) {
	store, err := OpenMemPebbleStore()
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	for _, segID := range []string{"seg-0002", "seg-0001", "seg-0003"} {
		b := store.NewSegmentBuilder("t", 3, segID)
		b.AddDocument(map[string]interface{}{"v": int64(1)})
		require.NoError(t, b.Finish())
	}

	for i := 0; i < 2; i++ {
		segs, err := store.Segments("t", 3)
		require.NoError(t, err)
		require.Len(t, segs, 3)
		require.Equal(t, "seg-0001", segs[0].ID())
		require.Equal(t, "seg-0002", segs[1].ID())
		require.Equal(t, "seg-0003", segs[2].ID())
	}

	shards, err := store.Shards("t")
	require.NoError(t, err)
	require.Equal(t, []int{3}, shards)
}
