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

	"github.com/docsql/docsql/pkg/sql/execplan"
	"github.com/docsql/docsql/pkg/sql/physicalplan"
	"github.com/docsql/docsql/pkg/sql/sqlbase"
	"github.com/docsql/docsql/pkg/util/ctxgroup"
	"github.com/docsql/docsql/pkg/util/log"
	"github.com/docsql/docsql/pkg/util/mon"
	"github.com/docsql/docsql/pkg/util/stop"
	"github.com/docsql/docsql/pkg/util/syncutil"
	"github.com/docsql/docsql/pkg/util/timeutil"
)

// ErrNodeUnavailable is the mark carried when a job cannot run because a
// participating node is missing or shutting down.
var ErrNodeUnavailable = errors.New("node unavailable")

// IsNodeUnavailable returns true if err stems from a missing or quiescing
// node.
func IsNodeUnavailable(err error) bool {
	return errors.Is(err, ErrNodeUnavailable) || errors.Is(err, stop.ErrUnavailable)
}

// Cluster is the set of execution nodes a coordinator can dispatch to.
type Cluster struct {
	mu struct {
		syncutil.Mutex
		nodes map[physicalplan.NodeID]*Node
	}
}

// NewCluster creates an empty cluster.
func NewCluster() *Cluster {
	c := &Cluster{}
	c.mu.nodes = make(map[physicalplan.NodeID]*Node)
	return c
}

// AddNode adds a node to the cluster.
func (c *Cluster) AddNode(n *Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mu.nodes[n.ID()] = n
}

// Node returns the node with the given id.
func (c *Cluster) Node(id physicalplan.NodeID) (*Node, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.mu.nodes[id]
	return n, ok
}

// NodeIDs returns the cluster's node ids, sorted.
func (c *Cluster) NodeIDs() []physicalplan.NodeID {
	c.mu.Lock()
	defer c.mu.Unlock()
	routing := make(physicalplan.Routing, len(c.mu.nodes))
	for id := range c.mu.nodes {
		routing[id] = nil
	}
	return routing.Nodes()
}

// Stop shuts down every node: stoppers quiesce, monitors report leaks.
func (c *Cluster) Stop(ctx context.Context) {
	c.mu.Lock()
	nodes := make([]*Node, 0, len(c.mu.nodes))
	for _, n := range c.mu.nodes {
		nodes = append(nodes, n)
	}
	c.mu.Unlock()
	for _, n := range nodes {
		n.Stopper().Stop(ctx)
		n.Monitor().Stop(ctx)
	}
}

// JobSettings are the per-job execution knobs the coordinator threads into
// every flow it sets up.
type JobSettings struct {
	// AccountingEnabled charges buffered rows against the consumer node's
	// memory budget. Disabled, the queues never refuse a row.
	AccountingEnabled bool
	// QueueCapacity overrides the node default when positive.
	QueueCapacity int
}

// DefaultJobSettings returns the settings jobs run with unless overridden.
func DefaultJobSettings() JobSettings {
	return JobSettings{AccountingEnabled: true}
}

// Coordinator compiles plans into node operation trees and drives their
// execution across the cluster. The coordinator's node is the handler node:
// merges without a pinned node set run there and the final result surfaces
// there.
type Coordinator struct {
	cluster *Cluster
	local   physicalplan.NodeID

	// Settings applies to every job this coordinator runs. Mutate before the
	// first Run.
	Settings JobSettings
}

// NewCoordinator creates a coordinator dispatching from the given node.
func NewCoordinator(cluster *Cluster, local physicalplan.NodeID) *Coordinator {
	return &Coordinator{cluster: cluster, local: local, Settings: DefaultJobSettings()}
}

// Run executes the plan and returns the job's result rows. The first
// terminal error cancels the whole job on every participating node; the
// returned error carries the node-unavailable or budget-exceeded mark when
// that was the cause.
func (co *Coordinator) Run(ctx context.Context, plan *physicalplan.Plan) ([]sqlbase.Row, error) {
	handler, ok := co.cluster.Node(co.local)
	if !ok {
		return nil, errors.Wrapf(ErrNodeUnavailable, "handler node %s", co.local)
	}
	metrics := handler.cfg.Metrics

	tree, err := execplan.GenerateNodeOperationTree(plan, co.local)
	if err != nil {
		return nil, err
	}

	flows := make(map[physicalplan.NodeID]*Flow)
	for _, id := range tree.ParticipatingNodes() {
		node, ok := co.cluster.Node(id)
		if !ok {
			return nil, errors.Wrapf(ErrNodeUnavailable, "node %s", id)
		}
		flows[id] = newFlow(node, execplan.NewNodeOperationCtx(id, tree), co.Settings)
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	// The unwind runs even when registration fails partway through;
	// UnregisterFlow is idempotent, so never-registered flows are a no-op.
	defer func() {
		for _, f := range flows {
			f.node.Registry().UnregisterFlow(tree.JobID())
			f.close(ctx)
		}
	}()
	for id, f := range flows {
		if err := f.node.Registry().RegisterFlow(tree.JobID(), cancel); err != nil {
			return nil, errors.Wrapf(err, "registering flow on %s", id)
		}
	}

	rootOps := 0
	for _, op := range tree.Operations() {
		if op.DownstreamPhaseID == execplan.NoDownstream {
			rootOps++
		}
	}
	resultQueue := NewUnaccountedRowQueue(handler.cfg.QueueCapacity, rootOps)

	route := func(op execplan.NodeOperation) (*outbox, error) {
		if op.DownstreamPhaseID == execplan.NoDownstream {
			return &outbox{queues: []*RowQueue{resultQueue}}, nil
		}
		queues := make([]*RowQueue, len(op.DownstreamNodes))
		for i, dn := range op.DownstreamNodes {
			df, ok := flows[dn]
			if !ok {
				return nil, errors.Wrapf(ErrNodeUnavailable, "downstream node %s", dn)
			}
			q, err := df.inboundQueue(op.DownstreamPhaseID, op.InputSlot)
			if err != nil {
				return nil, err
			}
			queues[i] = q
		}
		return &outbox{queues: queues}, nil
	}

	start := timeutil.Now()
	log.VEventf(ctx, 1, "job %s: dispatching %d operations to %d nodes",
		tree.JobID(), len(tree.Operations()), len(flows))
	metrics.FlowsActive.Add(float64(len(flows)))
	defer metrics.FlowsActive.Sub(float64(len(flows)))

	g := ctxgroup.WithContext(jobCtx)
	for _, f := range flows {
		f.run(g, route)
	}

	var result []sqlbase.Row
	g.GoCtx(func(ctx context.Context) error {
		for {
			row, ok, err := resultQueue.Next(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			result = append(result, row)
		}
	})

	if err := g.Wait(); err != nil {
		if mon.IsMemoryBudgetExceeded(err) {
			metrics.BudgetRefusals.Inc()
		}
		metrics.JobsTotal.WithLabelValues("error").Inc()
		log.Errorf(ctx, "job %s failed after %s: %v", tree.JobID(), timeutil.Since(start), err)
		return nil, err
	}
	metrics.JobsTotal.WithLabelValues("success").Inc()
	metrics.RowsEmitted.Add(float64(len(result)))
	log.VEventf(ctx, 1, "job %s: %d result rows in %s", tree.JobID(), len(result), timeutil.Since(start))
	return result, nil
}

// CancelJob cancels a running job from any node that is executing part of
// it. Returns whether a flow was found.
func (c *Cluster) CancelJob(jobID physicalplan.JobID) bool {
	c.mu.Lock()
	nodes := make([]*Node, 0, len(c.mu.nodes))
	for _, n := range c.mu.nodes {
		nodes = append(nodes, n)
	}
	c.mu.Unlock()
	found := false
	for _, n := range nodes {
		if n.Registry().CancelFlow(jobID) {
			found = true
		}
	}
	return found
}
