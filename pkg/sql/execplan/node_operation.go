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

// Package execplan compiles a physical plan into the per-node operations
// dispatched across the cluster. A NodeOperationTree is the complete,
// immutable operation graph for one job; a NodeOperationCtx indexes it for
// one node's local execution.
package execplan

import (
	"fmt"

	"github.com/docsql/docsql/pkg/sql/physicalplan"
)

// NoDownstream is the sentinel downstream phase id marking an operation
// whose output is the job's final result.
const NoDownstream physicalplan.PhaseID = -1

// NodeOperation binds one phase to the node that will run it, plus the
// downstream phase and input slot that receive its output. It is the unit
// sent to a node for execution. Immutable once created.
type NodeOperation struct {
	Phase  physicalplan.Phase
	NodeID physicalplan.NodeID

	// DownstreamPhaseID is the phase consuming this operation's output, or
	// NoDownstream for the root.
	DownstreamPhaseID physicalplan.PhaseID
	// DownstreamNodes are the nodes executing the downstream phase.
	DownstreamNodes []physicalplan.NodeID
	// InputSlot disambiguates which upstream input of a multi-input merge
	// this operation feeds. Operations of the same upstream phase share a
	// slot.
	InputSlot int
}

func (op NodeOperation) String() string {
	return fmt.Sprintf("phase %d (%s) on %s -> phase %d slot %d",
		op.Phase.ID(), op.Phase.Name(), op.NodeID, op.DownstreamPhaseID, op.InputSlot)
}

// NodeOperationTree is the complete set of node operations for one job plus
// the phase whose output is the job's final result. The set is unordered
// and contains no duplicate (phase, node) pairs; the downstream edges form
// an acyclic graph.
type NodeOperationTree struct {
	jobID         physicalplan.JobID
	ops           []NodeOperation
	resultPhaseID physicalplan.PhaseID
}

// JobID returns the job the tree belongs to.
func (t *NodeOperationTree) JobID() physicalplan.JobID { return t.jobID }

// Operations returns all node operations. Callers must not mutate the
// returned slice.
func (t *NodeOperationTree) Operations() []NodeOperation { return t.ops }

// ResultPhaseID returns the phase id whose output is the job result.
func (t *NodeOperationTree) ResultPhaseID() physicalplan.PhaseID { return t.resultPhaseID }

// ParticipatingNodes returns the distinct nodes with at least one
// operation, sorted.
func (t *NodeOperationTree) ParticipatingNodes() []physicalplan.NodeID {
	seen := make(map[physicalplan.NodeID]struct{})
	for _, op := range t.ops {
		seen[op.NodeID] = struct{}{}
	}
	routing := make(physicalplan.Routing, len(seen))
	for n := range seen {
		routing[n] = nil
	}
	return routing.Nodes()
}
