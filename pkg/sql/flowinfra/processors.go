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

	"github.com/docsql/docsql/pkg/sql/physicalplan"
	"github.com/docsql/docsql/pkg/sql/sqlbase"
)

// outbox fans one operation's output out over the downstream nodes' inbound
// queues, one row at a time round-robin. With a single downstream node this
// degenerates to a plain send.
type outbox struct {
	queues []*RowQueue
	next   int
}

func (o *outbox) send(ctx context.Context, row sqlbase.Row) error {
	q := o.queues[o.next%len(o.queues)]
	o.next++
	return q.Offer(ctx, row)
}

// producerDone signals completion to every downstream queue.
func (o *outbox) producerDone(err error) {
	for _, q := range o.queues {
		q.ProducerDone(err)
	}
}

// projectionChain instantiates a phase's projections and threads rows
// through them. Appliers are stateful, so a chain belongs to exactly one
// operation execution.
type projectionChain struct {
	appliers []physicalplan.Applier
}

func newProjectionChain(
	projections []physicalplan.Projection, local physicalplan.LocalState,
) (*projectionChain, error) {
	c := &projectionChain{appliers: make([]physicalplan.Applier, len(projections))}
	for i, p := range projections {
		a, err := p.NewApplier(local)
		if err != nil {
			return nil, err
		}
		c.appliers[i] = a
	}
	return c, nil
}

// apply feeds one row through the chain starting at applier from, emitting
// every resulting row.
func (c *projectionChain) apply(
	ctx context.Context, from int, row sqlbase.Row, emit func(context.Context, sqlbase.Row) error,
) error {
	if from >= len(c.appliers) {
		return emit(ctx, row)
	}
	produced, err := c.appliers[from].Apply(row)
	if err != nil {
		return err
	}
	for _, out := range produced {
		if err := c.apply(ctx, from+1, out, emit); err != nil {
			return err
		}
	}
	return nil
}

// finish flushes the appliers front to back; rows flushed by one applier
// still pass through the rest of the chain.
func (c *projectionChain) finish(
	ctx context.Context, emit func(context.Context, sqlbase.Row) error,
) error {
	for i, a := range c.appliers {
		flushed, err := a.Finish()
		if err != nil {
			return err
		}
		for _, out := range flushed {
			if err := c.apply(ctx, i+1, out, emit); err != nil {
				return err
			}
		}
	}
	return nil
}
