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

import "sort"

// NodeID identifies a cluster node.
type NodeID string

// Routing assigns the data locations a phase reads to the nodes that will
// read them: node -> shard group (usually a table) -> ordered shard indices.
// A Routing is built once at plan time and never mutated afterwards. An
// empty Routing is legal and means the phase has nothing to do.
type Routing map[NodeID]map[string][]int

// Nodes returns the participating nodes in sorted order.
func (r Routing) Nodes() []NodeID {
	out := make([]NodeID, 0, len(r))
	for n := range r {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NumNodes returns the number of participating nodes.
func (r Routing) NumNodes() int { return len(r) }

// GenerateRouting assigns at most maxNodes of the candidate nodes, visiting
// candidates in sorted node id order so that planning is reproducible. The
// shard listings are left empty; this is the form used by phases that are
// not tied to stored shards, such as external file collects. maxNodes values
// larger than the candidate set are clamped.
func GenerateRouting(candidates []NodeID, maxNodes int) Routing {
	sorted := append([]NodeID(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	routing := make(Routing)
	for _, node := range sorted {
		if maxNodes <= 0 {
			break
		}
		maxNodes--
		routing[node] = map[string][]int{}
	}
	return routing
}

// AllocateShardRouting distributes the shards of a shard group over at most
// maxNodes candidate nodes, round-robin in sorted node order. Deterministic
// for identical inputs.
func AllocateShardRouting(
	shardGroup string, shards []int, candidates []NodeID, maxNodes int,
) Routing {
	chosen := GenerateRouting(candidates, maxNodes).Nodes()
	routing := make(Routing, len(chosen))
	if len(chosen) == 0 {
		return routing
	}
	ordered := append([]int(nil), shards...)
	sort.Ints(ordered)
	for i, shard := range ordered {
		node := chosen[i%len(chosen)]
		locations, ok := routing[node]
		if !ok {
			locations = map[string][]int{}
			routing[node] = locations
		}
		locations[shardGroup] = append(locations[shardGroup], shard)
	}
	return routing
}
