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

package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/homesense/harvester/pkg/merger"
	"github.com/homesense/harvester/pkg/models"
)

// RunOnce executes a single retrieval run across all enabled nodes and
// returns the run report. The run never fails wholesale: every node ends
// in a terminal state and every per-node error is folded into the report.
// Returns ErrRunInProgress if another run is still in flight.
func (o *Orchestrator) RunOnce(ctx context.Context) (*models.RunReport, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer o.running.Store(false)

	report := &models.RunReport{
		RunID:   uuid.New().String(),
		Started: o.clock.Now(),
		Nodes:   make(map[string]*models.NodeResult),
	}

	nodes := o.nodes.List()

	o.logger.Info().
		Str("run_id", report.RunID).
		Int("nodes", len(nodes)).
		Msg("Starting retrieval run")

	var mu sync.Mutex

	g, runCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.MaxConcurrency)

	for i := range nodes {
		node := nodes[i]

		g.Go(func() error {
			result := o.processNode(runCtx, &node)

			mu.Lock()
			report.Nodes[node.ID] = result
			mu.Unlock()

			// Per-node failures stay in the report; returning an error
			// here would cancel the sibling nodes.
			return nil
		})
	}

	_ = g.Wait()

	report.Finished = o.clock.Now()

	return report, nil
}

// processNode walks one node through the per-tick state machine:
// Pending -> Fetching -> Merging -> Committing -> Succeeded, or Failed at
// any step. The watermark moves only after the commit is confirmed.
func (o *Orchestrator) processNode(ctx context.Context, node *models.Node) *models.NodeResult {
	started := o.clock.Now()

	result := &models.NodeResult{
		NodeID: node.ID,
		State:  models.NodeStatePending,
	}

	defer func() {
		result.Elapsed = o.clock.Now().Sub(started)
	}()

	fail := func(err error) *models.NodeResult {
		result.State = models.NodeStateFailed
		result.Error = err.Error()

		return result
	}

	since, err := o.fetchLowerBound(ctx, node)
	if err != nil {
		return fail(err)
	}

	result.State = models.NodeStateFetching

	fetchCtx, cancel := context.WithTimeout(ctx, time.Duration(o.config.NodeTimeout))
	defer cancel()

	readings, err := o.fetcher.Fetch(fetchCtx, node, since)
	if err != nil {
		return fail(err)
	}

	result.RecordsFetched = len(readings)

	if len(readings) == 0 {
		result.State = models.NodeStateSucceeded
		return result
	}

	result.State = models.NodeStateMerging

	records, drops, err := merger.Normalize(node, readings)
	if err != nil {
		return fail(err)
	}

	result.RecordsDropped = len(drops)

	for _, drop := range drops {
		o.logger.Debug().
			Str("node_id", node.ID).
			Str("channel_id", drop.Reading.ChannelID).
			Time("timestamp", drop.Reading.Timestamp).
			Str("reason", string(drop.Reason)).
			Msg("Dropped reading")
	}

	if len(records) == 0 {
		result.State = models.NodeStateSucceeded
		return result
	}

	result.State = models.NodeStateCommitting

	// A hung store connection must fail the node, not wedge the run: while
	// a run is in flight every later tick is skipped, so an unbounded
	// commit would stall ingestion for the whole fleet.
	commitCtx, commitCancel := context.WithTimeout(ctx, time.Duration(o.config.CommitTimeout))
	defer commitCancel()

	inserted, err := o.store.UpsertReadings(commitCtx, records)
	if err != nil {
		return fail(err)
	}

	result.RecordsCommitted = int(inserted)

	if err := o.advanceWatermarks(commitCtx, node.ID, records); err != nil {
		return fail(err)
	}

	result.State = models.NodeStateSucceeded

	return result
}

// fetchLowerBound picks the since value for a node fetch: the earliest
// watermark across the node's configured channels, so no channel's data
// is skipped. Channels never ingested pull the bound down to zero time,
// requesting the node's full buffer.
func (o *Orchestrator) fetchLowerBound(ctx context.Context, node *models.Node) (time.Time, error) {
	marks, err := o.store.NodeWatermarks(ctx, node.ID)
	if err != nil {
		return time.Time{}, err
	}

	var since time.Time

	for i, channel := range node.Channels {
		mark := marks[channel.ID]

		if i == 0 || mark.Before(since) {
			since = mark
		}
	}

	return since, nil
}

// advanceWatermarks raises each channel's watermark to the max committed
// timestamp in this batch. Called only after UpsertReadings succeeded.
func (o *Orchestrator) advanceWatermarks(ctx context.Context, nodeID string, records []*models.CanonicalRecord) error {
	maxByChannel := make(map[string]time.Time)

	for _, record := range records {
		if record.Timestamp.After(maxByChannel[record.ChannelID]) {
			maxByChannel[record.ChannelID] = record.Timestamp
		}
	}

	for channelID, ts := range maxByChannel {
		if err := o.store.AdvanceWatermark(ctx, nodeID, channelID, ts); err != nil {
			return err
		}
	}

	return nil
}
