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

// Package physicalplan models the physically routable form of a query: a
// tree of phases, each a named unit of work with an output schema, a
// projection chain and the set of nodes it executes on. Source phases carry
// a Routing; merge phases carry the number of upstream inputs they combine.
package physicalplan

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/docsql/docsql/pkg/sql/sqlbase"
)

// JobID identifies one job; all phases of a plan share it.
type JobID = uuid.UUID

// PhaseID identifies a phase within a job.
type PhaseID int32

// PhaseKind tags the concrete phase variant.
type PhaseKind int

// The phase kinds.
const (
	// CollectKind scans stored table shards.
	CollectKind PhaseKind = iota
	// FileURICollectKind scans external files.
	FileURICollectKind
	// MergeKind combines the outputs of upstream phases.
	MergeKind
)

func (k PhaseKind) String() string {
	switch k {
	case CollectKind:
		return "collect"
	case FileURICollectKind:
		return "file-uri-collect"
	case MergeKind:
		return "merge"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Phase is a named, identified unit of query work. Implementations are
// immutable once constructed; they are freely shared across goroutines and
// nodes.
type Phase interface {
	ID() PhaseID
	Name() string
	Kind() PhaseKind
	// Schema is the output row schema of the phase, after its projections.
	Schema() sqlbase.RowSchema
	Projections() []Projection
	// ExecutionNodes returns the nodes the phase runs on, sorted. A merge
	// phase may return nil, meaning it runs on the handler node.
	ExecutionNodes() []NodeID
}

type phaseBase struct {
	id          PhaseID
	name        string
	schema      sqlbase.RowSchema
	projections []Projection
}

func (p *phaseBase) ID() PhaseID               { return p.id }
func (p *phaseBase) Name() string              { return p.name }
func (p *phaseBase) Schema() sqlbase.RowSchema { return p.schema }
func (p *phaseBase) Projections() []Projection { return p.projections }

// CollectPhase scans the shards of a table according to its Routing and
// feeds the collected columns through its projection chain.
type CollectPhase struct {
	phaseBase
	// Routing must be non-nil; an empty Routing means nothing to scan.
	Routing Routing
	Table   string
	// ToCollect names the columns read from storage, in row order. The
	// column kinds select the typed value references used while scanning.
	ToCollect []sqlbase.ResultColumn
}

var _ Phase = &CollectPhase{}

// NewCollectPhase creates a CollectPhase.
func NewCollectPhase(
	id PhaseID,
	name string,
	routing Routing,
	table string,
	toCollect []sqlbase.ResultColumn,
	projections []Projection,
	schema sqlbase.RowSchema,
) *CollectPhase {
	return &CollectPhase{
		phaseBase: phaseBase{id: id, name: name, schema: schema, projections: projections},
		Routing:   routing,
		Table:     table,
		ToCollect: toCollect,
	}
}

// Kind implements Phase.
func (p *CollectPhase) Kind() PhaseKind { return CollectKind }

// ExecutionNodes implements Phase.
func (p *CollectPhase) ExecutionNodes() []NodeID { return p.Routing.Nodes() }

// FileURICollectPhase scans documents from external files instead of stored
// shards. Its Routing carries only the participating nodes; the shard
// listings are placeholders.
type FileURICollectPhase struct {
	phaseBase
	Routing Routing
	// URI locates the input, file:// with optional glob.
	URI string
	// Compression is "" or "gzip".
	Compression string
	// SharedStorage marks the URI as visible to every node; only the first
	// routed node scans it then, to avoid duplicate reads.
	SharedStorage bool
	// ToCollect names the document fields extracted into rows.
	ToCollect []sqlbase.ResultColumn
}

var _ Phase = &FileURICollectPhase{}

// NewFileURICollectPhase creates a FileURICollectPhase.
func NewFileURICollectPhase(
	id PhaseID,
	name string,
	routing Routing,
	uri string,
	toCollect []sqlbase.ResultColumn,
	projections []Projection,
	compression string,
	sharedStorage bool,
	schema sqlbase.RowSchema,
) *FileURICollectPhase {
	return &FileURICollectPhase{
		phaseBase:     phaseBase{id: id, name: name, schema: schema, projections: projections},
		Routing:       routing,
		URI:           uri,
		Compression:   compression,
		SharedStorage: sharedStorage,
		ToCollect:     toCollect,
	}
}

// Kind implements Phase.
func (p *FileURICollectPhase) Kind() PhaseKind { return FileURICollectKind }

// ExecutionNodes implements Phase.
func (p *FileURICollectPhase) ExecutionNodes() []NodeID { return p.Routing.Nodes() }

// MergePhase combines the outputs of its upstream phases. NumUpstreams is
// the total number of upstream node operations feeding the phase, summed
// across its input slots; each slot is fed by all the node operations of
// one upstream phase.
type MergePhase struct {
	phaseBase
	NumUpstreams int
	// Nodes is the execution node set. nil means "run on the handler node";
	// the generator resolves it when compiling the plan.
	Nodes []NodeID
}

var _ Phase = &MergePhase{}

// NewMergePhase creates a MergePhase pinned to specific nodes.
func NewMergePhase(
	id PhaseID,
	name string,
	numUpstreams int,
	nodes []NodeID,
	projections []Projection,
	schema sqlbase.RowSchema,
) *MergePhase {
	return &MergePhase{
		phaseBase:    phaseBase{id: id, name: name, schema: schema, projections: projections},
		NumUpstreams: numUpstreams,
		Nodes:        nodes,
	}
}

// LocalMerge creates a MergePhase that runs on the handler node.
func LocalMerge(
	id PhaseID, projections []Projection, numUpstreams int, schema sqlbase.RowSchema,
) *MergePhase {
	return &MergePhase{
		phaseBase:    phaseBase{id: id, name: "localMerge", schema: schema, projections: projections},
		NumUpstreams: numUpstreams,
	}
}

// Kind implements Phase.
func (p *MergePhase) Kind() PhaseKind { return MergeKind }

// ExecutionNodes implements Phase.
func (p *MergePhase) ExecutionNodes() []NodeID { return p.Nodes }
