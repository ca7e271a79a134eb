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
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	pgzip "github.com/klauspost/pgzip"

	"github.com/docsql/docsql/pkg/sql/sqlbase"
)

// GzipCompression is the accepted value for projection and phase
// compression settings.
const GzipCompression = "gzip"

// SourceWriterProjection indexes collected raw documents into the local
// store. It consumes its input entirely and emits a single row with the
// number of documents written, the partial count an importing merge phase
// sums up.
type SourceWriterProjection struct {
	Table string
	// RawCol is the index of the column holding the raw JSON document.
	RawCol int
}

var _ Projection = SourceWriterProjection{}

// Name implements Projection.
func (SourceWriterProjection) Name() string { return "sourceWriter" }

// NewApplier implements Projection.
func (p SourceWriterProjection) NewApplier(local LocalState) (Applier, error) {
	if local.DocSink == nil {
		return nil, errors.AssertionFailedf("sourceWriter projection requires a document sink")
	}
	return &sourceWriterApplier{table: p.Table, rawCol: p.RawCol, sink: local.DocSink}, nil
}

type sourceWriterApplier struct {
	table  string
	rawCol int
	sink   DocSink
	count  int64
}

func (a *sourceWriterApplier) Apply(row sqlbase.Row) ([]sqlbase.Row, error) {
	if a.rawCol < 0 || a.rawCol >= len(row) {
		return nil, errors.AssertionFailedf("raw column %d out of range for row of width %d", a.rawCol, len(row))
	}
	raw, ok := row[a.rawCol].(string)
	if !ok {
		return nil, errors.Newf("raw document column holds %T, expected string", row[a.rawCol])
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, errors.Wrap(err, "parsing raw document")
	}
	if err := a.sink.WriteDocument(a.table, doc); err != nil {
		return nil, err
	}
	a.count++
	return nil, nil
}

func (a *sourceWriterApplier) Finish() ([]sqlbase.Row, error) {
	if err := a.sink.Flush(); err != nil {
		return nil, err
	}
	return []sqlbase.Row{{a.count}}, nil
}

// WriterProjection exports the rows flowing through a phase as
// newline-delimited JSON objects to a file:// target. Each executing node
// writes its own output file; the projection emits a single row with the
// number of rows written.
type WriterProjection struct {
	URI string
	// DirectoryURI marks URI as a directory; each node writes
	// <dir>/<node>.json[.gz]. Otherwise nodes write <path>_<node> siblings.
	DirectoryURI bool
	// Compression is "" or GzipCompression.
	Compression string
	// ColumnNames label the row columns in the emitted objects.
	ColumnNames []string
}

var _ Projection = WriterProjection{}

// Name implements Projection.
func (WriterProjection) Name() string { return "writer" }

// NewApplier implements Projection.
func (p WriterProjection) NewApplier(local LocalState) (Applier, error) {
	path, err := writerTargetPath(p, local.NodeID)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "creating export target %s", path)
	}
	a := &writerApplier{cols: p.ColumnNames, file: f}
	if p.Compression == GzipCompression {
		gz := pgzip.NewWriter(f)
		a.gz = gz
		a.out = bufio.NewWriter(gz)
	} else {
		a.out = bufio.NewWriter(f)
	}
	return a, nil
}

func writerTargetPath(p WriterProjection, node NodeID) (string, error) {
	u, err := url.Parse(p.URI)
	if err != nil {
		return "", errors.Wrapf(err, "invalid writer uri %s", p.URI)
	}
	if u.Scheme != "" && u.Scheme != "file" {
		return "", errors.Newf("unsupported writer uri scheme %q", u.Scheme)
	}
	path := u.Path
	if path == "" {
		path = p.URI
	}
	suffix := ""
	if p.Compression == GzipCompression && !strings.HasSuffix(path, ".gz") {
		suffix = ".gz"
	}
	if p.DirectoryURI {
		return filepath.Join(path, string(node)+".json"+suffix), nil
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	return base + "_" + string(node) + ext + suffix, nil
}

type writerApplier struct {
	cols  []string
	file  *os.File
	gz    *pgzip.Writer
	out   *bufio.Writer
	count int64
}

func (a *writerApplier) Apply(row sqlbase.Row) ([]sqlbase.Row, error) {
	obj := make(map[string]interface{}, len(row))
	for i, d := range row {
		name := fmt.Sprintf("col%d", i)
		if i < len(a.cols) {
			name = a.cols[i]
		}
		obj[name] = d
	}
	encoded, err := json.Marshal(obj)
	if err != nil {
		return nil, errors.Wrap(err, "encoding export row")
	}
	if _, err := a.out.Write(encoded); err != nil {
		return nil, err
	}
	if err := a.out.WriteByte('\n'); err != nil {
		return nil, err
	}
	a.count++
	return nil, nil
}

func (a *writerApplier) Finish() ([]sqlbase.Row, error) {
	if err := a.out.Flush(); err != nil {
		return nil, err
	}
	if a.gz != nil {
		if err := a.gz.Close(); err != nil {
			return nil, err
		}
	}
	if err := a.file.Close(); err != nil {
		return nil, err
	}
	return []sqlbase.Row{{a.count}}, nil
}
