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

// PlanNode is one node of the logical phase tree. Inputs are the upstream
// phases feeding this one; their order determines input slot assignment for
// multi-input merges.
type PlanNode struct {
	Phase  Phase
	Inputs []*PlanNode
}

// Plan is a compiled phase tree for one job. The root phase produces the
// job's final result.
type Plan struct {
	JobID JobID
	Root  *PlanNode
}

// NewCollectAndMerge builds the common two-phase plan shape: one source
// phase feeding one merge phase.
func NewCollectAndMerge(jobID JobID, collect Phase, merge *MergePhase) *Plan {
	return &Plan{
		JobID: jobID,
		Root: &PlanNode{
			Phase:  merge,
			Inputs: []*PlanNode{{Phase: collect}},
		},
	}
}

// NewSinglePhase builds a plan with a lone source phase whose output is the
// job result.
func NewSinglePhase(jobID JobID, phase Phase) *Plan {
	return &Plan{JobID: jobID, Root: &PlanNode{Phase: phase}}
}
