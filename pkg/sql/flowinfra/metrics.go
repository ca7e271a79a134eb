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
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks job execution on one node.
type Metrics struct {
	FlowsActive    prometheus.Gauge
	JobsTotal      *prometheus.CounterVec
	RowsEmitted    prometheus.Counter
	BudgetRefusals prometheus.Counter
}

// MakeMetrics creates the metric set and registers it with reg when reg is
// non-nil.
func MakeMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FlowsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docsql_flows_active",
			Help: "Number of flows currently executing on this node.",
		}),
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docsql_jobs_total",
			Help: "Jobs coordinated by this node, by outcome.",
		}, []string{"outcome"}),
		RowsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docsql_result_rows_total",
			Help: "Result rows delivered to clients.",
		}),
		BudgetRefusals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docsql_memory_budget_refusals_total",
			Help: "Jobs failed because a memory reservation was refused.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.FlowsActive, m.JobsTotal, m.RowsEmitted, m.BudgetRefusals)
	}
	return m
}
