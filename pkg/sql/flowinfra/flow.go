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
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/docsql/docsql/pkg/sql/execplan"
	"github.com/docsql/docsql/pkg/sql/physicalplan"
	"github.com/docsql/docsql/pkg/util/ctxgroup"
	"github.com/docsql/docsql/pkg/util/stop"
)

type queueKey struct {
	phaseID physicalplan.PhaseID
	slot    int
}

// Flow is one node's share of a job: the local operations plus the inbound
// queues feeding the merges among them. The coordinator sets up one flow
// per participating node and wires outboxes to the inbound queues of the
// downstream flows.
type Flow struct {
	node *Node
	octx *execplan.NodeOperationCtx

	inbound map[queueKey]*RowQueue
}

func newFlow(node *Node, octx *execplan.NodeOperationCtx, settings JobSettings) *Flow {
	f := &Flow{node: node, octx: octx, inbound: make(map[queueKey]*RowQueue)}
	capacity := node.cfg.QueueCapacity
	if settings.QueueCapacity > 0 {
		capacity = settings.QueueCapacity
	}
	for _, op := range octx.LocalOperations() {
		if _, ok := op.Phase.(*physicalplan.MergePhase); !ok {
			continue
		}
		id := op.Phase.ID()
		for slot := 0; slot < octx.NumInputSlots(id); slot++ {
			producers := octx.ProducerCount(id, slot)
			var q *RowQueue
			if settings.AccountingEnabled {
				q = NewRowQueue(node.monitor, capacity, producers)
			} else {
				q = NewUnaccountedRowQueue(capacity, producers)
			}
			f.inbound[queueKey{id, slot}] = q
		}
	}
	return f
}

func (f *Flow) inboundQueue(id physicalplan.PhaseID, slot int) (*RowQueue, error) {
	q, ok := f.inbound[queueKey{id, slot}]
	if !ok {
		return nil, errors.AssertionFailedf("node %s has no inbound queue for phase %d slot %d",
			f.node.ID(), id, slot)
	}
	return q, nil
}

// run starts one goroutine per local operation. route resolves an
// operation's outbox; on completion the outbox is always notified so that
// downstream consumers never wait on a dead producer.
func (f *Flow) run(g ctxgroup.Group, route func(execplan.NodeOperation) (*outbox, error)) {
	for _, op := range f.octx.LocalOperations() {
		op := op
		g.GoCtx(func(ctx context.Context) error {
			ctx = f.node.AnnotateCtx(ctx)
			out, err := route(op)
			if err != nil {
				return err
			}
			err = f.runOperation(ctx, op, out)
			out.producerDone(err)
			return err
		})
	}
}

func (f *Flow) runOperation(ctx context.Context, op execplan.NodeOperation, out *outbox) error {
	taskName := fmt.Sprintf("flow %s phase %d", f.octx.JobID(), op.Phase.ID())
	err := f.node.Stopper().RunTaskWithErr(ctx, taskName, func(ctx context.Context) error {
		local := physicalplan.LocalState{
			NodeID:  f.node.ID(),
			DocSink: f.node.newDocSink(f.octx.JobID()),
		}
		switch phase := op.Phase.(type) {
		case *physicalplan.CollectPhase:
			return f.runThrottled(ctx, func(ctx context.Context) error {
				c := &tableCollector{phase: phase, store: f.node.Store(), local: local, out: out}
				return c.run(ctx)
			})
		case *physicalplan.FileURICollectPhase:
			return f.runThrottled(ctx, func(ctx context.Context) error {
				c := &fileCollector{phase: phase, local: local, out: out}
				return c.run(ctx)
			})
		case *physicalplan.MergePhase:
			inputs := make([]*RowQueue, f.octx.NumInputSlots(phase.ID()))
			for slot := range inputs {
				q, err := f.inboundQueue(phase.ID(), slot)
				if err != nil {
					return err
				}
				inputs[slot] = q
			}
			m := &merger{phase: phase, inputs: inputs, local: local, out: out}
			return m.run(ctx)
		default:
			return errors.AssertionFailedf("unknown phase variant %T", op.Phase)
		}
	})
	if errors.Is(err, stop.ErrUnavailable) {
		err = errors.Mark(err, ErrNodeUnavailable)
	}
	return err
}

// runThrottled gates source operations through the node's scan semaphore.
// Merges are deliberately not throttled: a pipeline must always be able to
// drain its producers.
func (f *Flow) runThrottled(ctx context.Context, fn func(context.Context) error) error {
	if err := f.node.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer f.node.sem.Release(1)
	return fn(ctx)
}

// close releases whatever the inbound queues still hold.
func (f *Flow) close(ctx context.Context) {
	for _, q := range f.inbound {
		q.Close(ctx)
	}
}
