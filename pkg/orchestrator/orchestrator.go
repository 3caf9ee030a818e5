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

// Package orchestrator drives the retrieval pipeline: it fans fetches out
// across the node fleet, merges the results, and commits them to the
// central store, advancing watermarks only after confirmed persistence.
package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/homesense/harvester/pkg/db"
	"github.com/homesense/harvester/pkg/logger"
	"github.com/homesense/harvester/pkg/models"
)

// Orchestrator runs one retrieval pass per tick. It implements
// lifecycle.Service.
type Orchestrator struct {
	config  Config
	nodes   NodeSource
	fetcher Fetcher
	store   db.Service
	clock   Clock
	logger  logger.Logger

	ticker    Ticker
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// running serializes runs: a tick that fires while the previous run
	// is still in flight is skipped, never queued.
	running atomic.Bool
}

// New creates an orchestrator. A nil clock defaults to the real clock.
func New(config *Config, nodes NodeSource, fetcher Fetcher, store db.Service, clock Clock, log logger.Logger) *Orchestrator {
	if clock == nil {
		clock = realClock{}
	}

	return &Orchestrator{
		config:  *config,
		nodes:   nodes,
		fetcher: fetcher,
		store:   store,
		clock:   clock,
		logger:  log,
		done:    make(chan struct{}),
	}
}

// Start implements the lifecycle.Service interface: it runs one retrieval
// pass immediately and then once per poll interval until stopped.
func (o *Orchestrator) Start(ctx context.Context) error {
	interval := time.Duration(o.config.PollInterval)
	o.ticker = o.clock.Ticker(interval)

	defer o.ticker.Stop()

	o.logger.Info().
		Dur("interval", interval).
		Int("max_concurrency", o.config.MaxConcurrency).
		Msg("Starting retrieval orchestrator")

	o.wg.Add(1)
	defer o.wg.Done()

	o.runTick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.done:
			return nil
		case <-o.ticker.Chan():
			o.wg.Add(1)

			go func() {
				defer o.wg.Done()

				o.runTick(ctx)
			}()
		}
	}
}

// Stop implements the lifecycle.Service interface. Any node not yet
// succeeded in an in-flight run is abandoned safely: watermarks advance
// only after confirmed commits, so shutdown cannot corrupt them.
func (o *Orchestrator) Stop(_ context.Context) error {
	o.closeOnce.Do(func() {
		close(o.done)
	})

	o.wg.Wait()

	return nil
}

// runTick performs one scheduled run, skipping if one is already active.
func (o *Orchestrator) runTick(ctx context.Context) {
	report, err := o.RunOnce(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("Skipping tick")
		return
	}

	o.logReport(report)
}

func (o *Orchestrator) logReport(report *models.RunReport) {
	for _, result := range report.Nodes {
		event := o.logger.Info()
		if result.State == models.NodeStateFailed {
			event = o.logger.Warn()
		}

		event.
			Str("run_id", report.RunID).
			Str("node_id", result.NodeID).
			Str("state", string(result.State)).
			Int("fetched", result.RecordsFetched).
			Int("committed", result.RecordsCommitted).
			Int("dropped", result.RecordsDropped).
			Dur("elapsed", result.Elapsed).
			Str("error", result.Error).
			Msg("Node retrieval finished")
	}

	o.logger.Info().
		Str("run_id", report.RunID).
		Int("nodes", len(report.Nodes)).
		Int("succeeded", report.Succeeded()).
		Int("failed", report.Failed()).
		Int("records_committed", report.TotalCommitted()).
		Dur("elapsed", report.Finished.Sub(report.Started)).
		Msg("Retrieval run completed")
}
