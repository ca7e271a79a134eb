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
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/docsql/docsql/pkg/sql/physicalplan"
	"github.com/docsql/docsql/pkg/sql/sqlbase"
)

var testSchema = sqlbase.RowSchema{{Name: "v", Kind: sqlbase.Int}}

func collectOn(id physicalplan.PhaseID, nodes ...physicalplan.NodeID) *physicalplan.CollectPhase {
	return physicalplan.NewCollectPhase(
		id, "collect", physicalplan.GenerateRouting(nodes, len(nodes)), "t",
		[]sqlbase.ResultColumn{{Name: "v", Kind: sqlbase.Int}}, nil, testSchema)
}

func mergeOn(id physicalplan.PhaseID, numUpstreams int, nodes ...physicalplan.NodeID) *physicalplan.MergePhase {
	return physicalplan.NewMergePhase(id, "merge", numUpstreams, nodes, nil, testSchema)
}

func TestGenerateSinglePhase(t *testing.T) {
	collect := collectOn(1, "n1")
	plan := physicalplan.NewSinglePhase(uuid.New(), collect)

	tree, err := GenerateNodeOperationTree(plan, "n1")
	require.NoError(t, err)
	require.Len(t, tree.Operations(), 1)
	op := tree.Operations()[0]
	require.Equal(t, physicalplan.PhaseID(1), op.Phase.ID())
	require.Equal(t, NoDownstream, op.DownstreamPhaseID)
	require.Equal(t, physicalplan.PhaseID(1), tree.ResultPhaseID())

	// The lone phase is its own leaf and root.
	ctx := NewNodeOperationCtx("n1", tree)
	leafs := ctx.FindLeafs()
	require.Len(t, leafs, 1)
	require.Equal(t, op, leafs[0])
}

func TestGenerateCollectAndMerge(t *testing.T) {
	collect := collectOn(1, "n1", "n2")
	merge := physicalplan.LocalMerge(2, nil, 2, testSchema)
	plan := physicalplan.NewCollectAndMerge(uuid.New(), collect, merge)

	tree, err := GenerateNodeOperationTree(plan, "n1")
	require.NoError(t, err)
	require.Len(t, tree.Operations(), 3)
	require.Equal(t, physicalplan.PhaseID(2), tree.ResultPhaseID())
	require.Equal(t, []physicalplan.NodeID{"n1", "n2"}, tree.ParticipatingNodes())

	var collectOps, mergeOps []NodeOperation
	for _, op := range tree.Operations() {
		if op.Phase.ID() == 1 {
			collectOps = append(collectOps, op)
		} else {
			mergeOps = append(mergeOps, op)
		}
	}
	require.Len(t, collectOps, 2)
	for _, op := range collectOps {
		require.Equal(t, physicalplan.PhaseID(2), op.DownstreamPhaseID)
		require.Equal(t, []physicalplan.NodeID{"n1"}, op.DownstreamNodes)
		require.Equal(t, 0, op.InputSlot)
	}
	// The local merge defaulted onto the handler node.
	require.Len(t, mergeOps, 1)
	require.Equal(t, physicalplan.NodeID("n1"), mergeOps[0].NodeID)
	require.Equal(t, NoDownstream, mergeOps[0].DownstreamPhaseID)
}

func TestGenerateUnionAssignsInputSlots(t *testing.T) {
	left := collectOn(1, "n1", "n2")
	right := collectOn(2, "n2")
	merge := mergeOn(3, 3, "n1")
	plan := &physicalplan.Plan{
		JobID: uuid.New(),
		Root: &physicalplan.PlanNode{
			Phase: merge,
			Inputs: []*physicalplan.PlanNode{
				{Phase: left},
				{Phase: right},
			},
		},
	}

	tree, err := GenerateNodeOperationTree(plan, "n1")
	require.NoError(t, err)

	slots := make(map[physicalplan.PhaseID]int)
	for _, op := range tree.Operations() {
		if op.DownstreamPhaseID == 3 {
			slots[op.Phase.ID()] = op.InputSlot
		}
	}
	require.Equal(t, map[physicalplan.PhaseID]int{1: 0, 2: 1}, slots)

	ctx := NewNodeOperationCtx("n1", tree)
	require.Equal(t, 2, ctx.NumInputSlots(3))
	require.Equal(t, 2, ctx.ProducerCount(3, 0))
	require.Equal(t, 1, ctx.ProducerCount(3, 1))
}

func TestGenerateDetectsCycle(t *testing.T) {
	collect := collectOn(1, "n1")
	merge := mergeOn(2, 1, "n1")
	mergeNode := &physicalplan.PlanNode{Phase: merge}
	collectNode := &physicalplan.PlanNode{Phase: collect, Inputs: []*physicalplan.PlanNode{mergeNode}}
	mergeNode.Inputs = []*physicalplan.PlanNode{collectNode}

	_, err := GenerateNodeOperationTree(
		&physicalplan.Plan{JobID: uuid.New(), Root: mergeNode}, "n1")
	require.Error(t, err)
	require.True(t, IsInvalidPlan(err))
}

func TestGenerateMissingRouting(t *testing.T) {
	collect := physicalplan.NewCollectPhase(
		1, "collect", nil, "t", nil, nil, testSchema)
	_, err := GenerateNodeOperationTree(
		physicalplan.NewSinglePhase(uuid.New(), collect), "n1")
	require.Error(t, err)
	require.True(t, IsInvalidPlan(err))
}

func TestGenerateZeroExecutionNodes(t *testing.T) {
	// An empty (but non-nil) routing is a legal data structure, but a phase
	// resolving to zero nodes would emit no operations at all and the job
	// could never complete; it must fail plan compilation instead.
	collect := physicalplan.NewCollectPhase(
		1, "collect", physicalplan.Routing{}, "t", nil, nil, testSchema)
	_, err := GenerateNodeOperationTree(
		physicalplan.NewSinglePhase(uuid.New(), collect), "n1")
	require.Error(t, err)
	require.True(t, IsInvalidPlan(err))

	// Same through a merge parent: the child is resolved during the walk.
	merge := physicalplan.LocalMerge(2, nil, 0, testSchema)
	_, err = GenerateNodeOperationTree(
		physicalplan.NewCollectAndMerge(uuid.New(), collect, merge), "n1")
	require.Error(t, err)
	require.True(t, IsInvalidPlan(err))

	fileCollect := physicalplan.NewFileURICollectPhase(
		1, "fileCollect", physicalplan.Routing{}, "file:///x", nil, nil, "", false, testSchema)
	_, err = GenerateNodeOperationTree(
		physicalplan.NewSinglePhase(uuid.New(), fileCollect), "n1")
	require.Error(t, err)
	require.True(t, IsInvalidPlan(err))
}

func TestGenerateUpstreamCountMismatch(t *testing.T) {
	collect := collectOn(1, "n1", "n2")
	merge := mergeOn(2, 1 /* expects one upstream, gets two */, "n1")
	plan := physicalplan.NewCollectAndMerge(uuid.New(), collect, merge)

	_, err := GenerateNodeOperationTree(plan, "n1")
	require.Error(t, err)
	require.True(t, IsInvalidPlan(err))
}

func TestFindLeafsIdempotent(t *testing.T) {
	collect := collectOn(1, "n1", "n2", "n3")
	merge := physicalplan.LocalMerge(2, nil, 3, testSchema)
	tree, err := GenerateNodeOperationTree(
		physicalplan.NewCollectAndMerge(uuid.New(), collect, merge), "n2")
	require.NoError(t, err)

	ctx := NewNodeOperationCtx("n2", tree)
	first := ctx.FindLeafs()
	second := ctx.FindLeafs()
	require.Equal(t, first, second)

	// No leaf phase appears as any operation's downstream target.
	downstream := make(map[physicalplan.PhaseID]struct{})
	for _, op := range tree.Operations() {
		if op.DownstreamPhaseID != NoDownstream {
			downstream[op.DownstreamPhaseID] = struct{}{}
		}
	}
	for _, leaf := range first {
		_, ok := downstream[leaf.Phase.ID()]
		require.False(t, ok)
	}

	// Local filtering only keeps this node's operations.
	for _, op := range ctx.LocalLeafs() {
		require.Equal(t, physicalplan.NodeID("n2"), op.NodeID)
	}
	require.Len(t, ctx.LocalOperations(), 2) // collect + merge on n2
}
