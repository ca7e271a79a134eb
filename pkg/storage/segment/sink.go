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
	"fmt"
	"sort"
)

// MemDocSink buffers ingested documents and flushes them into a MemStore,
// one new segment per table per flush. Not safe for concurrent use; each
// importing operation owns its own sink.
type MemDocSink struct {
	store     *MemStore
	shard     int
	segPrefix string
	seq       int
	buf       map[string][]map[string]interface{}
}

// NewMemDocSink creates a sink writing into the given shard. segPrefix
// distinguishes the segments of concurrent imports; a job id works well.
func NewMemDocSink(store *MemStore, shard int, segPrefix string) *MemDocSink {
	return &MemDocSink{
		store:     store,
		shard:     shard,
		segPrefix: segPrefix,
		buf:       make(map[string][]map[string]interface{}),
	}
}

// WriteDocument buffers one document for a table.
func (s *MemDocSink) WriteDocument(table string, doc map[string]interface{}) error {
	s.buf[table] = append(s.buf[table], doc)
	return nil
}

// Flush turns the buffered documents into segments. Tables are flushed in
// sorted order so segment ids are reproducible.
func (s *MemDocSink) Flush() error {
	tables := make([]string, 0, len(s.buf))
	for table := range s.buf {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, table := range tables {
		segID := fmt.Sprintf("%s-%04d", s.segPrefix, s.seq)
		s.seq++
		s.store.AddSegment(table, s.shard, DocsToSegment(segID, s.buf[table]))
	}
	s.buf = make(map[string][]map[string]interface{})
	return nil
}

// PebbleDocSink buffers ingested documents into SegmentBuilders and commits
// one segment per table per flush. Not safe for concurrent use.
type PebbleDocSink struct {
	store     *PebbleStore
	shard     int
	segPrefix string
	seq       int
	builders  map[string]*SegmentBuilder
}

// NewPebbleDocSink creates a sink writing into the given shard of a
// PebbleStore.
func NewPebbleDocSink(store *PebbleStore, shard int, segPrefix string) *PebbleDocSink {
	return &PebbleDocSink{
		store:     store,
		shard:     shard,
		segPrefix: segPrefix,
		builders:  make(map[string]*SegmentBuilder),
	}
}

// WriteDocument buffers one document for a table.
func (s *PebbleDocSink) WriteDocument(table string, doc map[string]interface{}) error {
	b, ok := s.builders[table]
	if !ok {
		segID := fmt.Sprintf("%s-%04d", s.segPrefix, s.seq)
		s.seq++
		b = s.store.NewSegmentBuilder(table, s.shard, segID)
		s.builders[table] = b
	}
	b.AddDocument(doc)
	return nil
}

// Flush commits the buffered segments in sorted table order.
func (s *PebbleDocSink) Flush() error {
	tables := make([]string, 0, len(s.builders))
	for table := range s.builders {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, table := range tables {
		if err := s.builders[table].Finish(); err != nil {
			return err
		}
	}
	s.builders = make(map[string]*SegmentBuilder)
	return nil
}
