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

	"github.com/docsql/docsql/pkg/sql/physicalplan"
	"github.com/docsql/docsql/pkg/util/log"
)

// merger drains a merge phase's input queues slot by slot, feeds the rows
// through the projection chain and sends the result downstream. Slots are
// consumed in order; within a slot rows arrive in whatever order the
// producers interleaved.
type merger struct {
	phase  *physicalplan.MergePhase
	inputs []*RowQueue
	local  physicalplan.LocalState
	out    *outbox
}

func (m *merger) run(ctx context.Context) error {
	chain, err := newProjectionChain(m.phase.Projections(), m.local)
	if err != nil {
		return err
	}
	rows := 0
	for _, in := range m.inputs {
		for {
			row, ok, err := in.Next(ctx)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			rows++
			if err := chain.apply(ctx, 0, row, m.out.send); err != nil {
				return err
			}
		}
	}
	log.VEventf(ctx, 2, "merge phase %d on %s: %d input rows", m.phase.ID(), m.local.NodeID, rows)
	return chain.finish(ctx, m.out.send)
}
