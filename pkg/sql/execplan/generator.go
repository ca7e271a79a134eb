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
	"github.com/cockroachdb/errors"

	"github.com/docsql/docsql/pkg/sql/physicalplan"
)

// ErrInvalidPlan is the mark carried by plan compilation errors. Such
// errors are reported immediately, before anything is dispatched.
var ErrInvalidPlan = errors.New("invalid plan")

// IsInvalidPlan returns true if err stems from plan compilation.
func IsInvalidPlan(err error) bool {
	return errors.Is(err, ErrInvalidPlan)
}

// GenerateNodeOperationTree compiles a physical plan into the node
// operations to dispatch. localNode is the handler node coordinating the
// job; merge phases without a pinned node set execute there.
//
// The phase tree is walked post-order. Every phase fans out to one
// operation per execution node; the downstream target of those operations
// is the phase's parent in the logical tree, or the final-result sentinel
// at the root. Upstream phases of a multi-input merge are assigned
// increasing input slots in child order.
func GenerateNodeOperationTree(
	plan *physicalplan.Plan, localNode physicalplan.NodeID,
) (*NodeOperationTree, error) {
	if plan == nil || plan.Root == nil {
		return nil, errors.Wrap(ErrInvalidPlan, "empty plan")
	}
	g := &treeGenerator{
		localNode: localNode,
		visited:   make(map[physicalplan.PhaseID]struct{}),
	}
	rootNodes, err := g.executionNodes(plan.Root.Phase)
	if err != nil {
		return nil, err
	}
	if err := g.walk(plan.Root, rootNodes); err != nil {
		return nil, err
	}
	// The root has no parent; its operations carry the final-result
	// sentinel.
	for _, node := range rootNodes {
		g.ops = append(g.ops, NodeOperation{
			Phase:             plan.Root.Phase,
			NodeID:            node,
			DownstreamPhaseID: NoDownstream,
		})
	}
	return &NodeOperationTree{
		jobID:         plan.JobID,
		ops:           g.ops,
		resultPhaseID: plan.Root.Phase.ID(),
	}, nil
}

type treeGenerator struct {
	localNode physicalplan.NodeID
	visited   map[physicalplan.PhaseID]struct{}
	ops       []NodeOperation
}

// walk emits the operations for the subtree rooted at n. execNodes is the
// already-resolved execution node set for n's phase.
func (g *treeGenerator) walk(n *physicalplan.PlanNode, execNodes []physicalplan.NodeID) error {
	phase := n.Phase
	if _, ok := g.visited[phase.ID()]; ok {
		return errors.Wrapf(ErrInvalidPlan, "cycle: phase %d (%s) appears twice", phase.ID(), phase.Name())
	}
	g.visited[phase.ID()] = struct{}{}

	numUpstream := 0
	for slot, input := range n.Inputs {
		childNodes, err := g.executionNodes(input.Phase)
		if err != nil {
			return err
		}
		if err := g.walk(input, childNodes); err != nil {
			return err
		}
		for _, childNode := range childNodes {
			g.ops = append(g.ops, NodeOperation{
				Phase:             input.Phase,
				NodeID:            childNode,
				DownstreamPhaseID: phase.ID(),
				DownstreamNodes:   execNodes,
				InputSlot:         slot,
			})
			numUpstream++
		}
	}

	if merge, ok := phase.(*physicalplan.MergePhase); ok {
		if merge.NumUpstreams != numUpstream {
			return errors.Wrapf(ErrInvalidPlan,
				"merge phase %d (%s) expects %d upstream inputs, plan provides %d",
				merge.ID(), merge.Name(), merge.NumUpstreams, numUpstream)
		}
	}

	return nil
}

// executionNodes resolves the node set a phase runs on, applying the
// local-merge default and validating that every phase resolves to at least
// one node. A zero-node phase would produce a job with no operations to
// ever close the result stream, so it is rejected at compile time.
func (g *treeGenerator) executionNodes(phase physicalplan.Phase) ([]physicalplan.NodeID, error) {
	switch p := phase.(type) {
	case *physicalplan.CollectPhase:
		if p.Routing == nil {
			return nil, errors.Wrapf(ErrInvalidPlan, "collect phase %d (%s) has no routing", p.ID(), p.Name())
		}
		if p.Routing.NumNodes() == 0 {
			return nil, errors.Wrapf(ErrInvalidPlan, "collect phase %d (%s) has zero execution nodes", p.ID(), p.Name())
		}
		return p.Routing.Nodes(), nil
	case *physicalplan.FileURICollectPhase:
		if p.Routing == nil {
			return nil, errors.Wrapf(ErrInvalidPlan, "file collect phase %d (%s) has no routing", p.ID(), p.Name())
		}
		if p.Routing.NumNodes() == 0 {
			return nil, errors.Wrapf(ErrInvalidPlan, "file collect phase %d (%s) has zero execution nodes", p.ID(), p.Name())
		}
		return p.Routing.Nodes(), nil
	case *physicalplan.MergePhase:
		if len(p.Nodes) == 0 {
			if g.localNode == "" {
				return nil, errors.Wrapf(ErrInvalidPlan,
					"merge phase %d (%s) has no execution nodes and no handler node is set", p.ID(), p.Name())
			}
			return []physicalplan.NodeID{g.localNode}, nil
		}
		return p.Nodes, nil
	default:
		return nil, errors.Wrapf(ErrInvalidPlan, "unknown phase variant %T", phase)
	}
}
