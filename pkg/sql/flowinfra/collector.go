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
	"context"

	"github.com/cockroachdb/errors"

	"github.com/docsql/docsql/pkg/sql/colfetcher"
	"github.com/docsql/docsql/pkg/sql/physicalplan"
	"github.com/docsql/docsql/pkg/storage/segment"
	"github.com/docsql/docsql/pkg/util/log"
)

// tableCollector scans the shards routed to this node, fetches the
// requested columns document by document and feeds the rows through the
// phase's projection chain into the outbox.
type tableCollector struct {
	phase *physicalplan.CollectPhase
	store segment.Store
	local physicalplan.LocalState
	out   *outbox
}

func (c *tableCollector) run(ctx context.Context) error {
	locations, ok := c.phase.Routing[c.local.NodeID]
	if !ok {
		return errors.AssertionFailedf("collect phase %d routed to %s without a shard assignment",
			c.phase.ID(), c.local.NodeID)
	}
	chain, err := newProjectionChain(c.phase.Projections(), c.local)
	if err != nil {
		return err
	}

	fetcher := colfetcher.NewFetcher(c.phase.ToCollect)
	shards := locations[c.phase.Table]
	for _, shard := range shards {
		if err := ctx.Err(); err != nil {
			return err
		}
		readers, err := c.store.Segments(c.phase.Table, shard)
		if err != nil {
			return errors.Wrapf(err, "opening shard %d of %s", shard, c.phase.Table)
		}
		for _, reader := range readers {
			if err := c.collectSegment(ctx, fetcher, reader, chain); err != nil {
				return err
			}
		}
	}
	log.VEventf(ctx, 2, "collect phase %d done on %s: %d shards", c.phase.ID(), c.local.NodeID, len(shards))
	return chain.finish(ctx, c.out.send)
}

func (c *tableCollector) collectSegment(
	ctx context.Context, fetcher *colfetcher.Fetcher, reader segment.Reader, chain *projectionChain,
) error {
	if err := fetcher.StartSegment(reader); err != nil {
		return err
	}
	for {
		row, ok, err := fetcher.NextRow()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := chain.apply(ctx, 0, row, c.out.send); err != nil {
			return err
		}
	}
}
