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
	"github.com/cockroachdb/errors"

	"github.com/docsql/docsql/pkg/sql/physicalplan"
	"github.com/docsql/docsql/pkg/util/syncutil"
)

// FlowRegistry tracks the flows running on one node, keyed by job id, so
// that a job can be canceled from outside its own call chain. One registry
// per node.
type FlowRegistry struct {
	mu struct {
		syncutil.Mutex
		flows map[physicalplan.JobID]func()
	}
}

// NewFlowRegistry creates an empty registry.
func NewFlowRegistry() *FlowRegistry {
	fr := &FlowRegistry{}
	fr.mu.flows = make(map[physicalplan.JobID]func())
	return fr
}

// RegisterFlow associates a cancel function with a job. Registering the
// same job twice is an error; one node runs at most one flow per job.
func (fr *FlowRegistry) RegisterFlow(jobID physicalplan.JobID, cancel func()) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if _, ok := fr.mu.flows[jobID]; ok {
		return errors.AssertionFailedf("flow for job %s already registered", jobID)
	}
	fr.mu.flows[jobID] = cancel
	return nil
}

// UnregisterFlow removes a job's entry. Idempotent.
func (fr *FlowRegistry) UnregisterFlow(jobID physicalplan.JobID) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	delete(fr.mu.flows, jobID)
}

// CancelFlow cancels the job's flow if it is still running. Returns whether
// a flow was found.
func (fr *FlowRegistry) CancelFlow(jobID physicalplan.JobID) bool {
	fr.mu.Lock()
	cancel, ok := fr.mu.flows[jobID]
	fr.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// CancelAll cancels every registered flow. Used when the node quiesces;
// the cancel functions run outside the registry lock.
func (fr *FlowRegistry) CancelAll() {
	fr.mu.Lock()
	cancels := make([]func(), 0, len(fr.mu.flows))
	for _, cancel := range fr.mu.flows {
		cancels = append(cancels, cancel)
	}
	fr.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// NumFlows returns the number of registered flows.
func (fr *FlowRegistry) NumFlows() int {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return len(fr.mu.flows)
}
