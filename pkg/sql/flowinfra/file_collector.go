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

package flowinfra

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	pgzip "github.com/klauspost/pgzip"

	"github.com/docsql/docsql/pkg/sql/physicalplan"
	"github.com/docsql/docsql/pkg/sql/sqlbase"
	"github.com/docsql/docsql/pkg/storage/segment"
	"github.com/docsql/docsql/pkg/util/log"
)

// fileCollector reads newline-delimited JSON documents from a file:// URI,
// optionally glob-expanded and gzip-compressed, and turns the requested
// fields into rows. On shared storage only the first routed node reads the
// files; the other routed operations produce no rows but still run their
// projection chain so that partial aggregates are emitted.
type fileCollector struct {
	phase *physicalplan.FileURICollectPhase
	local physicalplan.LocalState
	out   *outbox
}

func (c *fileCollector) run(ctx context.Context) error {
	chain, err := newProjectionChain(c.phase.Projections(), c.local)
	if err != nil {
		return err
	}
	if c.phase.SharedStorage && !c.isFirstRoutedNode() {
		log.VEventf(ctx, 2, "file collect phase %d: shared storage, skipping read on %s",
			c.phase.ID(), c.local.NodeID)
		return chain.finish(ctx, c.out.send)
	}

	paths, err := expandFileURI(c.phase.URI)
	if err != nil {
		return err
	}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.collectFile(ctx, path, chain); err != nil {
			return errors.Wrapf(err, "reading %s", path)
		}
	}
	return chain.finish(ctx, c.out.send)
}

func (c *fileCollector) isFirstRoutedNode() bool {
	nodes := c.phase.Routing.Nodes()
	return len(nodes) > 0 && nodes[0] == c.local.NodeID
}

func (c *fileCollector) collectFile(
	ctx context.Context, path string, chain *projectionChain,
) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	var in io.Reader = f
	if c.phase.Compression == physicalplan.GzipCompression || strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return err
		}
		defer func() { _ = gz.Close() }()
		in = gz
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		row, err := c.rowFromLine(line)
		if err != nil {
			return err
		}
		if err := chain.apply(ctx, 0, row, c.out.send); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// rowFromLine maps one document line onto the collected columns. The
// document is only parsed when a typed field is requested; a raw-only
// collect, the COPY FROM shape, passes lines through untouched.
func (c *fileCollector) rowFromLine(line string) (sqlbase.Row, error) {
	row := make(sqlbase.Row, len(c.phase.ToCollect))
	var doc map[string]interface{}
	for i, col := range c.phase.ToCollect {
		if col.Name == sqlbase.RawColumnName {
			row[i] = line
			continue
		}
		if doc == nil {
			if err := json.Unmarshal([]byte(line), &doc); err != nil {
				return nil, errors.Wrap(err, "parsing document")
			}
		}
		row[i] = segment.NormalizeDatum(doc[col.Name])
	}
	return row, nil
}

// expandFileURI resolves a file:// URI with optional glob into the sorted
// list of matching paths. A non-glob URI naming a missing file is an error;
// a glob matching nothing is empty input.
func expandFileURI(uri string) ([]string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid source uri %s", uri)
	}
	if u.Scheme != "" && u.Scheme != "file" {
		return nil, errors.Newf("unsupported source uri scheme %q", u.Scheme)
	}
	path := u.Path
	if path == "" {
		path = uri
	}
	if !strings.ContainsAny(path, "*?[") {
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
		return []string{path}, nil
	}
	matches, err := filepath.Glob(path)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid glob %s", path)
	}
	return matches, nil
}
