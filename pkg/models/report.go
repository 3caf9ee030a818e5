/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

import "time"

// NodeState is the per-node state within a single retrieval run.
type NodeState string

const (
	NodeStatePending    NodeState = "pending"
	NodeStateFetching   NodeState = "fetching"
	NodeStateMerging    NodeState = "merging"
	NodeStateCommitting NodeState = "committing"
	NodeStateSucceeded  NodeState = "succeeded"
	NodeStateFailed     NodeState = "failed"
)

// NodeResult is the terminal outcome for one node in one run.
type NodeResult struct {
	NodeID           string    `json:"node_id"`
	State            NodeState `json:"state"`
	RecordsFetched   int       `json:"records_fetched"`
	RecordsCommitted int       `json:"records_committed"`
	RecordsDropped   int       `json:"records_dropped"`
	Error            string        `json:"error,omitempty"`
	Elapsed          time.Duration `json:"elapsed"`
}

// RunReport summarizes one orchestration run. It is ephemeral: the report
// exists for logging and observability only and is never persisted.
type RunReport struct {
	RunID    string                 `json:"run_id"`
	Started  time.Time              `json:"started"`
	Finished time.Time              `json:"finished"`
	Nodes    map[string]*NodeResult `json:"nodes"`
}

// Succeeded reports how many nodes reached the Succeeded state.
func (r *RunReport) Succeeded() int {
	return r.countState(NodeStateSucceeded)
}

// Failed reports how many nodes reached the Failed state.
func (r *RunReport) Failed() int {
	return r.countState(NodeStateFailed)
}

// TotalCommitted sums the committed record counts across all nodes.
func (r *RunReport) TotalCommitted() int {
	total := 0
	for _, n := range r.Nodes {
		total += n.RecordsCommitted
	}

	return total
}

func (r *RunReport) countState(state NodeState) int {
	count := 0

	for _, n := range r.Nodes {
		if n.State == state {
			count++
		}
	}

	return count
}
