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

package execplan

import (
	"github.com/docsql/docsql/pkg/sql/physicalplan"
)

// NodeOperationCtx indexes a job's node operations for one node's local
// execution: which operations are leaves (no upstream producer, start
// immediately) and how to look operations up by phase for downstream
// wiring. The underlying operation set is immutable, so the index is
// computed once and reused across dispatch retries.
type NodeOperationCtx struct {
	jobID     physicalplan.JobID
	localNode physicalplan.NodeID
	ops       []NodeOperation

	byPhase map[physicalplan.PhaseID][]NodeOperation

	// leafs memoizes FindLeafs; computed lazily since not every lookup
	// needs it.
	leafs []NodeOperation
}

// NewNodeOperationCtx indexes the operations of tree for the given node.
func NewNodeOperationCtx(
	localNode physicalplan.NodeID, tree *NodeOperationTree,
) *NodeOperationCtx {
	ops := tree.Operations()
	byPhase := make(map[physicalplan.PhaseID][]NodeOperation)
	for _, op := range ops {
		byPhase[op.Phase.ID()] = append(byPhase[op.Phase.ID()], op)
	}
	return &NodeOperationCtx{
		jobID:     tree.JobID(),
		localNode: localNode,
		ops:       ops,
		byPhase:   byPhase,
	}
}

// JobID returns the job this context belongs to.
func (c *NodeOperationCtx) JobID() physicalplan.JobID { return c.jobID }

// FindLeafs returns the operations with no upstream producer: those whose
// phase id never appears as another operation's downstream phase id. These
// are the entry points an executor starts immediately on receipt of the
// job. Two passes over the operation set; the result is memoized.
//
// A single-phase tree falls out naturally: the referenced set is empty, so
// the lone phase is both leaf and root.
func (c *NodeOperationCtx) FindLeafs() []NodeOperation {
	if c.leafs != nil {
		return c.leafs
	}
	referenced := make(map[physicalplan.PhaseID]struct{}, len(c.ops))
	for _, op := range c.ops {
		if op.DownstreamPhaseID != NoDownstream {
			referenced[op.DownstreamPhaseID] = struct{}{}
		}
	}
	leafs := make([]NodeOperation, 0, len(c.ops))
	for _, op := range c.ops {
		if _, ok := referenced[op.Phase.ID()]; !ok {
			leafs = append(leafs, op)
		}
	}
	c.leafs = leafs
	return c.leafs
}

// LocalOperations returns the operations addressed to this node.
func (c *NodeOperationCtx) LocalOperations() []NodeOperation {
	var out []NodeOperation
	for _, op := range c.ops {
		if op.NodeID == c.localNode {
			out = append(out, op)
		}
	}
	return out
}

// LocalLeafs returns the leaf operations addressed to this node.
func (c *NodeOperationCtx) LocalLeafs() []NodeOperation {
	var out []NodeOperation
	for _, op := range c.FindLeafs() {
		if op.NodeID == c.localNode {
			out = append(out, op)
		}
	}
	return out
}

// OperationsForPhase returns all operations executing the given phase.
func (c *NodeOperationCtx) OperationsForPhase(id physicalplan.PhaseID) []NodeOperation {
	return c.byPhase[id]
}

// ProducerCount returns the number of operations feeding the given phase's
// input slot. A merge executor waits for this many producers to finish
// before closing the slot's queue.
func (c *NodeOperationCtx) ProducerCount(id physicalplan.PhaseID, slot int) int {
	n := 0
	for _, op := range c.ops {
		if op.DownstreamPhaseID == id && op.InputSlot == slot {
			n++
		}
	}
	return n
}

// NumInputSlots returns the number of distinct input slots feeding the
// given phase.
func (c *NodeOperationCtx) NumInputSlots(id physicalplan.PhaseID) int {
	maxSlot := -1
	for _, op := range c.ops {
		if op.DownstreamPhaseID == id && op.InputSlot > maxSlot {
			maxSlot = op.InputSlot
		}
	}
	return maxSlot + 1
}
