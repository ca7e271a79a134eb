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

	"github.com/marusama/semaphore"

	"github.com/docsql/docsql/pkg/sql/physicalplan"
	"github.com/docsql/docsql/pkg/storage/segment"
	"github.com/docsql/docsql/pkg/util/log"
	"github.com/docsql/docsql/pkg/util/mon"
	"github.com/docsql/docsql/pkg/util/stop"
)

// Defaults for NodeConfig fields left zero.
const (
	defaultConcurrency   = 4
	defaultQueueCapacity = 64
)

// NodeConfig configures one execution node.
type NodeConfig struct {
	ID    physicalplan.NodeID
	Store segment.Store
	// MemoryLimit bounds the bytes buffered in this node's row queues.
	// Non-positive means unlimited.
	MemoryLimit int64
	// Concurrency bounds the source operations scanning at once.
	Concurrency int
	// QueueCapacity is the row capacity of each inbound queue.
	QueueCapacity int
	// NewDocSink supplies the document sink import operations write into.
	// nil on nodes that never ingest.
	NewDocSink func(jobID physicalplan.JobID) physicalplan.DocSink
	Metrics    *Metrics
	AmbientCtx log.AmbientContext
	Stopper    *stop.Stopper
}

// Node is one member of an execution cluster: a store, a memory budget, a
// concurrency gate for scans and the registry of flows it is running.
type Node struct {
	cfg      NodeConfig
	monitor  *mon.BytesMonitor
	registry *FlowRegistry
	sem      semaphore.Semaphore
}

// NewNode creates a node from cfg, filling in defaults.
func NewNode(cfg NodeConfig) *Node {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaultQueueCapacity
	}
	if cfg.Stopper == nil {
		cfg.Stopper = stop.NewStopper()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = MakeMetrics(nil)
	}
	cfg.AmbientCtx.AddLogTag("node", string(cfg.ID))
	n := &Node{
		cfg:      cfg,
		monitor:  mon.NewMonitor("node="+string(cfg.ID), cfg.MemoryLimit),
		registry: NewFlowRegistry(),
		sem:      semaphore.New(cfg.Concurrency),
	}
	// On shutdown, cancel whatever flows are still registered so their
	// goroutines unwind before the stopper finishes draining.
	ctx := n.AnnotateCtx(context.Background())
	if err := cfg.Stopper.RunAsyncTask(ctx, "flow-drain", func(ctx context.Context) {
		<-cfg.Stopper.ShouldQuiesce()
		if num := n.registry.NumFlows(); num > 0 {
			log.VEventf(ctx, 1, "quiescing: canceling %d flows", num)
		}
		n.registry.CancelAll()
	}); err != nil {
		// The stopper was handed to us already stopped; nothing to drain.
		log.VEventf(ctx, 1, "flow drain task not started: %v", err)
	}
	return n
}

// ID returns the node's id.
func (n *Node) ID() physicalplan.NodeID { return n.cfg.ID }

// Store returns the node's segment store.
func (n *Node) Store() segment.Store { return n.cfg.Store }

// Monitor returns the node's memory monitor.
func (n *Node) Monitor() *mon.BytesMonitor { return n.monitor }

// Registry returns the node's flow registry.
func (n *Node) Registry() *FlowRegistry { return n.registry }

// Stopper returns the node's stopper.
func (n *Node) Stopper() *stop.Stopper { return n.cfg.Stopper }

// AnnotateCtx tags ctx with the node's log tags.
func (n *Node) AnnotateCtx(ctx context.Context) context.Context {
	return n.cfg.AmbientCtx.AnnotateCtx(ctx)
}

func (n *Node) newDocSink(jobID physicalplan.JobID) physicalplan.DocSink {
	if n.cfg.NewDocSink == nil {
		return nil
	}
	return n.cfg.NewDocSink(jobID)
}
