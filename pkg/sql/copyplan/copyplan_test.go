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

package copyplan

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/docsql/docsql/pkg/sql/physicalplan"
	"github.com/docsql/docsql/pkg/sql/sqlbase"
)

func TestPlanCopyFromShape(t *testing.T) {
	plan, err := PlanCopyFrom(uuid.New(), CopyFromOptions{
		Table: "docs",
		URI:   "file:///data/docs*.json",
	}, []physicalplan.NodeID{"n2", "n1", "n3"})
	require.NoError(t, err)

	merge, ok := plan.Root.Phase.(*physicalplan.MergePhase)
	require.True(t, ok)
	require.Equal(t, 3, merge.NumUpstreams)
	require.Nil(t, merge.Nodes) // runs on the handler node

	require.Len(t, plan.Root.Inputs, 1)
	collect, ok := plan.Root.Inputs[0].Phase.(*physicalplan.FileURICollectPhase)
	require.True(t, ok)
	require.Equal(t, []physicalplan.NodeID{"n1", "n2", "n3"}, collect.Routing.Nodes())
	require.Equal(t, sqlbase.RawColumnName, collect.ToCollect[0].Name)
	require.Len(t, collect.Projections(), 1)
}

func TestPlanCopyFromLimitsReaders(t *testing.T) {
	plan, err := PlanCopyFrom(uuid.New(), CopyFromOptions{
		Table:      "docs",
		URI:        "file:///data/docs.json",
		NumReaders: 2,
	}, []physicalplan.NodeID{"n2", "n1", "n3"})
	require.NoError(t, err)

	collect := plan.Root.Inputs[0].Phase.(*physicalplan.FileURICollectPhase)
	require.Equal(t, []physicalplan.NodeID{"n1", "n2"}, collect.Routing.Nodes())
	require.Equal(t, 2, plan.Root.Phase.(*physicalplan.MergePhase).NumUpstreams)
}

func TestPlanCopyFromValidation(t *testing.T) {
	_, err := PlanCopyFrom(uuid.New(), CopyFromOptions{URI: "file:///x"}, []physicalplan.NodeID{"n1"})
	require.Error(t, err)
	_, err = PlanCopyFrom(uuid.New(), CopyFromOptions{Table: "t"}, []physicalplan.NodeID{"n1"})
	require.Error(t, err)
	_, err = PlanCopyFrom(uuid.New(), CopyFromOptions{Table: "t", URI: "file:///x"}, nil)
	require.Error(t, err)
}

func TestPlanCopyToShape(t *testing.T) {
	routing := physicalplan.AllocateShardRouting(
		"events", []int{0, 1, 2, 3}, []physicalplan.NodeID{"n1", "n2"}, 2)
	plan, err := PlanCopyTo(uuid.New(), CopyToOptions{
		Table:       "events",
		Columns:     []sqlbase.ResultColumn{{Name: "name", Kind: sqlbase.String}},
		URI:         "file:///out/events.json",
		Compression: physicalplan.GzipCompression,
	}, routing)
	require.NoError(t, err)

	collect, ok := plan.Root.Inputs[0].Phase.(*physicalplan.CollectPhase)
	require.True(t, ok)
	require.Equal(t, "events", collect.Table)
	require.Equal(t, 2, plan.Root.Phase.(*physicalplan.MergePhase).NumUpstreams)

	w, ok := collect.Projections()[0].(physicalplan.WriterProjection)
	require.True(t, ok)
	require.Equal(t, physicalplan.GzipCompression, w.Compression)
	require.Equal(t, []string{"name"}, w.ColumnNames)
}

func TestPlanCopyToValidation(t *testing.T) {
	routing := physicalplan.GenerateRouting([]physicalplan.NodeID{"n1"}, 1)
	cols := []sqlbase.ResultColumn{{Name: "v", Kind: sqlbase.Int}}
	_, err := PlanCopyTo(uuid.New(), CopyToOptions{URI: "file:///x", Columns: cols}, routing)
	require.Error(t, err)
	_, err = PlanCopyTo(uuid.New(), CopyToOptions{Table: "t", Columns: cols}, routing)
	require.Error(t, err)
	_, err = PlanCopyTo(uuid.New(), CopyToOptions{Table: "t", URI: "file:///x"}, routing)
	require.Error(t, err)
	_, err = PlanCopyTo(uuid.New(), CopyToOptions{Table: "t", URI: "file:///x", Columns: cols}, physicalplan.Routing{})
	require.Error(t, err)
}
