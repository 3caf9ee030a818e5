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
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homesense/harvester/pkg/db"
	"github.com/homesense/harvester/pkg/logger"
	"github.com/homesense/harvester/pkg/models"
)

type staticNodes []models.Node

func (s staticNodes) List() []models.Node { return s }

// fetcherFunc adapts a function to the Fetcher interface.
type fetcherFunc func(ctx context.Context, node *models.Node, since time.Time) ([]models.Reading, error)

func (f fetcherFunc) Fetch(ctx context.Context, node *models.Node, since time.Time) ([]models.Reading, error) {
	return f(ctx, node, since)
}

func testConfig(nodes []models.Node) *Config {
	return &Config{
		Nodes:          nodes,
		PollInterval:   models.Duration(5 * time.Minute),
		MaxConcurrency: 4,
		NodeTimeout:    models.Duration(30 * time.Second),
		CommitTimeout:  models.Duration(30 * time.Second),
	}
}

// faultyStore wraps a Service and fails selected operations, for driving
// the commit-failure paths.
type faultyStore struct {
	db.Service

	upsertErr  error
	advanceErr error
}

func (f *faultyStore) UpsertReadings(ctx context.Context, records []*models.CanonicalRecord) (int64, error) {
	if f.upsertErr != nil {
		return 0, f.upsertErr
	}

	return f.Service.UpsertReadings(ctx, records)
}

func (f *faultyStore) AdvanceWatermark(ctx context.Context, nodeID, channelID string, ts time.Time) error {
	if f.advanceErr != nil {
		return f.advanceErr
	}

	return f.Service.AdvanceWatermark(ctx, nodeID, channelID, ts)
}

// stalledStore blocks every upsert until its context expires, as a stuck
// store connection would.
type stalledStore struct {
	db.Service
}

func (s *stalledStore) UpsertReadings(ctx context.Context, _ []*models.CanonicalRecord) (int64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func tempNode(id string) models.Node {
	return models.Node{
		ID:      id,
		Address: "http://" + id + ".local:8080",
		Enabled: true,
		Channels: []models.Channel{
			{ID: "temperature", Kind: "temperature", Unit: "C", Min: -40, Max: 85},
			{ID: "humidity", Kind: "humidity", Unit: "%", Min: 0, Max: 100},
		},
	}
}

func newTestOrchestrator(nodes []models.Node, fetcher Fetcher, store db.Service) *Orchestrator {
	return New(testConfig(nodes), staticNodes(nodes), fetcher, store, nil, logger.NewTestLogger())
}

func TestRunOnceCommitsAndAdvancesWatermarks(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	node := tempNode("attic")
	store := db.NewMemStore()

	fetcher := fetcherFunc(func(_ context.Context, n *models.Node, since time.Time) ([]models.Reading, error) {
		assert.True(t, since.IsZero(), "first run should request the full buffer")

		return []models.Reading{
			{NodeID: n.ID, ChannelID: "temperature", Timestamp: base.Add(1 * time.Minute), Value: 21.5},
			{NodeID: n.ID, ChannelID: "temperature", Timestamp: base.Add(2 * time.Minute), Value: 21.7},
			{NodeID: n.ID, ChannelID: "temperature", Timestamp: base.Add(3 * time.Minute), Value: 21.9},
			{NodeID: n.ID, ChannelID: "humidity", Timestamp: base.Add(2 * time.Minute), Value: 55},
		}, nil
	})

	o := newTestOrchestrator([]models.Node{node}, fetcher, store)

	report, err := o.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, report.RunID)
	require.Contains(t, report.Nodes, "attic")

	result := report.Nodes["attic"]
	assert.Equal(t, models.NodeStateSucceeded, result.State)
	assert.Equal(t, 4, result.RecordsFetched)
	assert.Equal(t, 4, result.RecordsCommitted)
	assert.Equal(t, 0, result.RecordsDropped)
	assert.Empty(t, result.Error)

	assert.Equal(t, 4, store.Count())

	tempMark, err := store.GetWatermark(context.Background(), "attic", "temperature")
	require.NoError(t, err)
	assert.Equal(t, base.Add(3*time.Minute), tempMark)

	humMark, err := store.GetWatermark(context.Background(), "attic", "humidity")
	require.NoError(t, err)
	assert.Equal(t, base.Add(2*time.Minute), humMark)
}

func TestRunOnceUsesMinimumWatermarkAsLowerBound(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	node := tempNode("attic")
	store := db.NewMemStore()

	require.NoError(t, store.AdvanceWatermark(context.Background(), "attic", "temperature", base.Add(10*time.Minute)))
	require.NoError(t, store.AdvanceWatermark(context.Background(), "attic", "humidity", base.Add(4*time.Minute)))

	var gotSince time.Time

	fetcher := fetcherFunc(func(_ context.Context, _ *models.Node, since time.Time) ([]models.Reading, error) {
		gotSince = since
		return nil, nil
	})

	o := newTestOrchestrator([]models.Node{node}, fetcher, store)

	_, err := o.RunOnce(context.Background())
	require.NoError(t, err)

	// The lagging channel dictates the bound so its data is not skipped.
	assert.Equal(t, base.Add(4*time.Minute), gotSince)
}

func TestRunOnceFaultIsolation(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	nodes := []models.Node{tempNode("attic"), tempNode("cellar"), tempNode("garage")}
	store := db.NewMemStore()

	fetcher := fetcherFunc(func(_ context.Context, n *models.Node, _ time.Time) ([]models.Reading, error) {
		if n.ID == "cellar" {
			return nil, errors.New("connection refused")
		}

		return []models.Reading{
			{NodeID: n.ID, ChannelID: "temperature", Timestamp: base, Value: 20},
		}, nil
	})

	o := newTestOrchestrator(nodes, fetcher, store)

	report, err := o.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Nodes, 3)

	assert.Equal(t, models.NodeStateSucceeded, report.Nodes["attic"].State)
	assert.Equal(t, models.NodeStateSucceeded, report.Nodes["garage"].State)
	assert.Equal(t, models.NodeStateFailed, report.Nodes["cellar"].State)
	assert.Contains(t, report.Nodes["cellar"].Error, "connection refused")

	assert.Equal(t, 2, report.Succeeded())
	assert.Equal(t, 1, report.Failed())
	assert.Equal(t, 2, store.Count())
}

func TestRunOnceWatermarkUnchangedOnFailure(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	node := tempNode("attic")
	store := db.NewMemStore()

	require.NoError(t, store.AdvanceWatermark(context.Background(), "attic", "temperature", base))

	fetcher := fetcherFunc(func(_ context.Context, _ *models.Node, _ time.Time) ([]models.Reading, error) {
		return nil, errors.New("timeout")
	})

	o := newTestOrchestrator([]models.Node{node}, fetcher, store)

	report, err := o.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.NodeStateFailed, report.Nodes["attic"].State)

	mark, err := store.GetWatermark(context.Background(), "attic", "temperature")
	require.NoError(t, err)
	assert.Equal(t, base, mark, "watermark must not move on a failed run")
}

func TestRunOnceCommitFailureLeavesWatermarkUntouched(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	node := tempNode("attic")
	mem := db.NewMemStore()

	require.NoError(t, mem.AdvanceWatermark(context.Background(), "attic", "temperature", base))

	store := &faultyStore{Service: mem, upsertErr: errors.New("store unavailable")}

	fetcher := fetcherFunc(func(_ context.Context, n *models.Node, _ time.Time) ([]models.Reading, error) {
		return []models.Reading{
			{NodeID: n.ID, ChannelID: "temperature", Timestamp: base.Add(time.Minute), Value: 21.5},
		}, nil
	})

	o := newTestOrchestrator([]models.Node{node}, fetcher, store)

	report, err := o.RunOnce(context.Background())
	require.NoError(t, err)

	result := report.Nodes["attic"]
	assert.Equal(t, models.NodeStateFailed, result.State)
	assert.Contains(t, result.Error, "store unavailable")
	assert.Equal(t, 0, result.RecordsCommitted)
	assert.Equal(t, 0, mem.Count())

	mark, err := mem.GetWatermark(context.Background(), "attic", "temperature")
	require.NoError(t, err)
	assert.Equal(t, base, mark, "watermark must not move on a failed commit")
}

func TestRunOnceAdvanceFailureFailsNode(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	node := tempNode("attic")
	mem := db.NewMemStore()
	store := &faultyStore{Service: mem, advanceErr: errors.New("watermark write failed")}

	fetcher := fetcherFunc(func(_ context.Context, n *models.Node, _ time.Time) ([]models.Reading, error) {
		return []models.Reading{
			{NodeID: n.ID, ChannelID: "temperature", Timestamp: base.Add(time.Minute), Value: 21.5},
		}, nil
	})

	o := newTestOrchestrator([]models.Node{node}, fetcher, store)

	report, err := o.RunOnce(context.Background())
	require.NoError(t, err)

	result := report.Nodes["attic"]
	assert.Equal(t, models.NodeStateFailed, result.State)
	assert.Contains(t, result.Error, "watermark write failed")

	// The records are durable; the next tick re-fetches the overlap and
	// upsert idempotency absorbs it.
	assert.Equal(t, 1, mem.Count())

	mark, err := mem.GetWatermark(context.Background(), "attic", "temperature")
	require.NoError(t, err)
	assert.True(t, mark.IsZero())
}

func TestRunOnceHungCommitFailsNodeAndReleasesRun(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	node := tempNode("attic")
	store := &stalledStore{Service: db.NewMemStore()}

	fetcher := fetcherFunc(func(_ context.Context, n *models.Node, _ time.Time) ([]models.Reading, error) {
		return []models.Reading{
			{NodeID: n.ID, ChannelID: "temperature", Timestamp: base.Add(time.Minute), Value: 21.5},
		}, nil
	})

	config := testConfig([]models.Node{node})
	config.CommitTimeout = models.Duration(50 * time.Millisecond)

	o := New(config, staticNodes([]models.Node{node}), fetcher, store, nil, logger.NewTestLogger())

	report, err := o.RunOnce(context.Background())
	require.NoError(t, err)

	result := report.Nodes["attic"]
	assert.Equal(t, models.NodeStateFailed, result.State)
	assert.Contains(t, result.Error, context.DeadlineExceeded.Error())

	// The run slot is free again; a stuck store must not wedge all
	// subsequent ticks.
	_, err = o.RunOnce(context.Background())
	assert.NoError(t, err)
}

func TestRunOnceRedeliveryIsIdempotent(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	node := tempNode("attic")
	store := db.NewMemStore()

	// The node resends its whole buffer on every fetch, as a node that
	// ignores the since parameter would.
	fetcher := fetcherFunc(func(_ context.Context, n *models.Node, _ time.Time) ([]models.Reading, error) {
		return []models.Reading{
			{NodeID: n.ID, ChannelID: "temperature", Timestamp: base.Add(1 * time.Minute), Value: 21.5},
			{NodeID: n.ID, ChannelID: "temperature", Timestamp: base.Add(2 * time.Minute), Value: 21.7},
		}, nil
	})

	o := newTestOrchestrator([]models.Node{node}, fetcher, store)

	first, err := o.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Nodes["attic"].RecordsCommitted)

	second, err := o.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.NodeStateSucceeded, second.Nodes["attic"].State)
	assert.Equal(t, 2, second.Nodes["attic"].RecordsFetched)
	assert.Equal(t, 0, second.Nodes["attic"].RecordsCommitted, "redelivered records must not double-count")

	assert.Equal(t, 2, store.Count())
}

func TestRunOnceEmptyFetchSucceeds(t *testing.T) {
	node := tempNode("attic")
	store := db.NewMemStore()

	fetcher := fetcherFunc(func(_ context.Context, _ *models.Node, _ time.Time) ([]models.Reading, error) {
		return []models.Reading{}, nil
	})

	o := newTestOrchestrator([]models.Node{node}, fetcher, store)

	report, err := o.RunOnce(context.Background())
	require.NoError(t, err)

	result := report.Nodes["attic"]
	assert.Equal(t, models.NodeStateSucceeded, result.State)
	assert.Equal(t, 0, result.RecordsFetched)
	assert.Equal(t, 0, result.RecordsCommitted)
}

func TestRunOnceAllReadingsDroppedSucceeds(t *testing.T) {
	node := tempNode("attic")
	store := db.NewMemStore()

	fetcher := fetcherFunc(func(_ context.Context, n *models.Node, _ time.Time) ([]models.Reading, error) {
		return []models.Reading{
			{NodeID: n.ID, ChannelID: "pressure", Timestamp: time.Now(), Value: 1013}, // unknown channel
			{NodeID: n.ID, ChannelID: "temperature", Value: 20},                       // zero timestamp
		}, nil
	})

	o := newTestOrchestrator([]models.Node{node}, fetcher, store)

	report, err := o.RunOnce(context.Background())
	require.NoError(t, err)

	result := report.Nodes["attic"]
	assert.Equal(t, models.NodeStateSucceeded, result.State)
	assert.Equal(t, 2, result.RecordsFetched)
	assert.Equal(t, 2, result.RecordsDropped)
	assert.Equal(t, 0, result.RecordsCommitted)
	assert.Equal(t, 0, store.Count())

	mark, err := store.GetWatermark(context.Background(), "attic", "temperature")
	require.NoError(t, err)
	assert.True(t, mark.IsZero(), "no commit means no watermark movement")
}

func TestRunOnceSkipsWhenRunInProgress(t *testing.T) {
	node := tempNode("attic")
	store := db.NewMemStore()

	started := make(chan struct{})
	release := make(chan struct{})

	var startedOnce sync.Once

	fetcher := fetcherFunc(func(_ context.Context, _ *models.Node, _ time.Time) ([]models.Reading, error) {
		startedOnce.Do(func() { close(started) })
		<-release

		return nil, nil
	})

	o := newTestOrchestrator([]models.Node{node}, fetcher, store)

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		_, err := o.RunOnce(context.Background())
		assert.NoError(t, err)
	}()

	<-started

	_, err := o.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(release)
	wg.Wait()

	// With the first run finished a new run proceeds normally.
	_, err = o.RunOnce(context.Background())
	assert.NoError(t, err)
}

func TestRunOnceBoundsConcurrency(t *testing.T) {
	nodes := make([]models.Node, 8)
	for i := range nodes {
		nodes[i] = tempNode(string(rune('a' + i)))
	}

	var active, peak atomic.Int32

	fetcher := fetcherFunc(func(_ context.Context, _ *models.Node, _ time.Time) ([]models.Reading, error) {
		n := active.Add(1)

		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}

		time.Sleep(10 * time.Millisecond)
		active.Add(-1)

		return nil, nil
	})

	config := testConfig(nodes)
	config.MaxConcurrency = 2

	o := New(config, staticNodes(nodes), fetcher, db.NewMemStore(), nil, logger.NewTestLogger())

	report, err := o.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Nodes, 8)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunOnceCrashRecoveryViaReconcile(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	node := tempNode("attic")
	store := db.NewMemStore()

	// Simulate a crash between commit and watermark advance: readings are
	// durable but the watermark was never moved.
	_, err := store.UpsertReadings(context.Background(), []*models.CanonicalRecord{
		{NodeID: "attic", ChannelID: "temperature", Timestamp: base.Add(2 * time.Minute), Value: 21.7, Unit: "C"},
	})
	require.NoError(t, err)

	repaired, err := store.ReconcileWatermarks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	var gotSince time.Time

	fetcher := fetcherFunc(func(_ context.Context, _ *models.Node, since time.Time) ([]models.Reading, error) {
		gotSince = since
		return nil, nil
	})

	o := newTestOrchestrator([]models.Node{node}, fetcher, store)

	_, err = o.RunOnce(context.Background())
	require.NoError(t, err)

	// humidity was never ingested so the node is still fetched from zero,
	// and the redelivered temperature rows dedup on commit.
	assert.True(t, gotSince.IsZero())
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	node := tempNode("attic")
	store := db.NewMemStore()

	var fetches atomic.Int32

	fetcher := fetcherFunc(func(_ context.Context, _ *models.Node, _ time.Time) ([]models.Reading, error) {
		fetches.Add(1)
		return nil, nil
	})

	o := newTestOrchestrator([]models.Node{node}, fetcher, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)

	go func() {
		errCh <- o.Start(ctx)
	}()

	require.Eventually(t, func() bool {
		return fetches.Load() >= 1
	}, time.Second, 10*time.Millisecond, "first run should fire without waiting a full interval")

	require.NoError(t, o.Stop(context.Background()))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
