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
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/docsql/docsql/pkg/sql/sqlbase"
)

// Key layout, all under readable prefixes so that debugging with a raw
// iterator stays sane:
//
//	seg/<table>/<shard>/<segID>          -> segMeta (JSON)
//	col/<table>/<shard>/<segID>/<column>/<docID> -> value list (JSON)
//
// docID is fixed-width decimal so that lexicographic order equals numeric
// order within a column.

type segMeta struct {
	DocCount int `json:"doc_count"`
}

func segMetaKey(table string, shard int, segID string) []byte {
	return []byte(fmt.Sprintf("seg/%s/%05d/%s", table, shard, segID))
}

func segMetaPrefix(table string, shard int) []byte {
	return []byte(fmt.Sprintf("seg/%s/%05d/", table, shard))
}

func colValueKey(table string, shard int, segID, column string, docID int) []byte {
	return []byte(fmt.Sprintf("col/%s/%05d/%s/%s/%010d", table, shard, segID, column, docID))
}

func colPrefix(table string, shard int, segID, column string) []byte {
	return []byte(fmt.Sprintf("col/%s/%05d/%s/%s/", table, shard, segID, column))
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix.
func prefixUpperBound(prefix []byte) []byte {
	ub := append([]byte(nil), prefix...)
	for i := len(ub) - 1; i >= 0; i-- {
		ub[i]++
		if ub[i] != 0 {
			return ub[:i+1]
		}
	}
	return nil
}

// PebbleStore is a Store backed by a pebble key-value instance.
type PebbleStore struct {
	db *pebble.DB
}

var _ Store = &PebbleStore{}

// OpenPebbleStore opens (or creates) a store at the given directory.
func OpenPebbleStore(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "opening segment store")
	}
	return &PebbleStore{db: db}, nil
}

// OpenMemPebbleStore opens a store backed by an in-memory filesystem. Used
// in tests and by the demo binary.
func OpenMemPebbleStore() (*PebbleStore, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, errors.Wrap(err, "opening in-memory segment store")
	}
	return &PebbleStore{db: db}, nil
}

// Close closes the underlying pebble instance.
func (p *PebbleStore) Close() error {
	return p.db.Close()
}

// Segments implements Store. Segment order follows the key order of the
// metadata records, which is stable across calls.
func (p *PebbleStore) Segments(table string, shard int) ([]Reader, error) {
	prefix := segMetaPrefix(table, shard)
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = iter.Close() }()

	var out []Reader
	for iter.First(); iter.Valid(); iter.Next() {
		var meta segMeta
		if err := json.Unmarshal(iter.Value(), &meta); err != nil {
			return nil, errors.Wrapf(err, "corrupt segment metadata at %q", iter.Key())
		}
		segID := string(iter.Key()[len(prefix):])
		out = append(out, &pebbleSegment{
			store: p,
			table: table,
			shard: shard,
			segID: segID,
			docs:  meta.DocCount,
		})
	}
	return out, iter.Error()
}

// Shards implements Store.
func (p *PebbleStore) Shards(table string) ([]int, error) {
	prefix := []byte(fmt.Sprintf("seg/%s/", table))
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = iter.Close() }()

	seen := make(map[int]struct{})
	for iter.First(); iter.Valid(); iter.Next() {
		rest := string(iter.Key()[len(prefix):])
		sep := strings.IndexByte(rest, '/')
		if sep < 0 {
			continue
		}
		var shard int
		if _, err := fmt.Sscanf(rest[:sep], "%d", &shard); err != nil {
			continue
		}
		seen[shard] = struct{}{}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	out := make([]int, 0, len(seen))
	for shard := range seen {
		out = append(out, shard)
	}
	sort.Ints(out)
	return out, nil
}

// pebbleSegment lazily loads column data on first access, mirroring how
// field data is loaded per segment rather than per document.
type pebbleSegment struct {
	store *PebbleStore
	table string
	shard int
	segID string
	docs  int
}

var _ Reader = &pebbleSegment{}

func (s *pebbleSegment) ID() string { return s.segID }

func (s *pebbleSegment) DocCount() int { return s.docs }

func (s *pebbleSegment) Column(name string) (Values, error) {
	prefix := colPrefix(s.table, s.shard, s.segID, name)
	iter, err := s.store.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = iter.Close() }()

	perDoc := make([][]sqlbase.Datum, s.docs)
	for iter.First(); iter.Valid(); iter.Next() {
		var docID int
		if _, err := fmt.Sscanf(string(iter.Key()[len(prefix):]), "%d", &docID); err != nil {
			return nil, errors.Wrapf(err, "corrupt column key %q", iter.Key())
		}
		vals, err := decodeValueList(iter.Value())
		if err != nil {
			return nil, errors.Wrapf(err, "corrupt column value at %q", iter.Key())
		}
		if docID >= 0 && docID < s.docs {
			perDoc[docID] = vals
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return &memValues{perDoc: perDoc}, nil
}

func decodeValueList(raw []byte) ([]sqlbase.Datum, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var list []interface{}
	if err := dec.Decode(&list); err != nil {
		return nil, err
	}
	out := make([]sqlbase.Datum, len(list))
	for i, v := range list {
		if num, ok := v.(json.Number); ok {
			if iv, err := num.Int64(); err == nil {
				out[i] = iv
				continue
			}
			fv, err := num.Float64()
			if err != nil {
				return nil, err
			}
			out[i] = fv
			continue
		}
		out[i] = NormalizeDatum(v)
	}
	return out, nil
}

// SegmentBuilder accumulates documents and flushes them as a new immutable
// segment.
type SegmentBuilder struct {
	store *PebbleStore
	table string
	shard int
	segID string
	docs  []map[string]interface{}
}

// NewSegmentBuilder starts a new segment for a table shard.
func (p *PebbleStore) NewSegmentBuilder(table string, shard int, segID string) *SegmentBuilder {
	return &SegmentBuilder{store: p, table: table, shard: shard, segID: segID}
}

// AddDocument appends a document; its doc id is the insertion index.
func (b *SegmentBuilder) AddDocument(doc map[string]interface{}) {
	b.docs = append(b.docs, doc)
}

// DocCount returns the number of buffered documents.
func (b *SegmentBuilder) DocCount() int { return len(b.docs) }

// Finish writes the segment atomically. A builder with zero documents
// writes nothing.
func (b *SegmentBuilder) Finish() error {
	if len(b.docs) == 0 {
		return nil
	}
	batch := b.store.db.NewBatch()
	defer func() { _ = batch.Close() }()

	for docID, doc := range b.docs {
		for col, raw := range doc {
			var list []interface{}
			if multi, ok := raw.([]interface{}); ok {
				list = multi
			} else if raw != nil {
				list = []interface{}{raw}
			} else {
				continue
			}
			encoded, err := json.Marshal(list)
			if err != nil {
				return errors.Wrapf(err, "encoding column %s of doc %d", col, docID)
			}
			key := colValueKey(b.table, b.shard, b.segID, col, docID)
			if err := batch.Set(key, encoded, nil); err != nil {
				return err
			}
		}
	}
	meta, err := json.Marshal(segMeta{DocCount: len(b.docs)})
	if err != nil {
		return err
	}
	if err := batch.Set(segMetaKey(b.table, b.shard, b.segID), meta, nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}
