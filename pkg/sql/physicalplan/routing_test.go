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

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateRouting(t *testing.T) {
	candidates := []NodeID{"n3", "n1", "n2"}

	testCases := []struct {
		maxNodes int
		expected []NodeID
	}{
		{maxNodes: 0, expected: nil},
		{maxNodes: 1, expected: []NodeID{"n1"}},
		{maxNodes: 2, expected: []NodeID{"n1", "n2"}},
		{maxNodes: 3, expected: []NodeID{"n1", "n2", "n3"}},
		// maxNodes beyond the candidate set is clamped.
		{maxNodes: 10, expected: []NodeID{"n1", "n2", "n3"}},
	}
	for _, tc := range testCases {
		routing := GenerateRouting(candidates, tc.maxNodes)
		require.Equal(t, tc.expected, func() []NodeID {
			if len(routing) == 0 {
				return nil
			}
			return routing.Nodes()
		}())
		for _, locations := range routing {
			require.Empty(t, locations)
		}
	}
}

func TestGenerateRoutingDeterministic(t *testing.T) {
	candidates := []NodeID{"b", "d", "a", "c", "e"}
	first := GenerateRouting(candidates, 3)
	second := GenerateRouting([]NodeID{"e", "c", "a", "d", "b"}, 3)
	require.Equal(t, first, second)
}

func TestAllocateShardRouting(t *testing.T) {
	candidates := []NodeID{"n2", "n1"}
	routing := AllocateShardRouting("users", []int{4, 0, 2, 1, 3}, candidates, 2)

	require.Equal(t, []NodeID{"n1", "n2"}, routing.Nodes())
	require.Equal(t, []int{0, 2, 4}, routing["n1"]["users"])
	require.Equal(t, []int{1, 3}, routing["n2"]["users"])

	// Repeated allocation with a shuffled input yields the same assignment.
	again := AllocateShardRouting("users", []int{0, 1, 2, 3, 4}, []NodeID{"n1", "n2"}, 2)
	require.Equal(t, routing, again)
}

func TestAllocateShardRoutingNoCandidates(t *testing.T) {
	routing := AllocateShardRouting("t", []int{0, 1}, nil, 3)
	require.Zero(t, routing.NumNodes())
}
