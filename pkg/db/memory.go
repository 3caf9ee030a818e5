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

package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/homesense/harvester/pkg/models"
)

// MemStore is an in-memory Service implementation with the same
// idempotency and monotonicity semantics as the Postgres store. It backs
// tests and diskless development runs.
type MemStore struct {
	mu         sync.RWMutex
	records    map[models.RecordKey]*models.CanonicalRecord
	watermarks map[models.ChannelKey]time.Time
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		records:    make(map[models.RecordKey]*models.CanonicalRecord),
		watermarks: make(map[models.ChannelKey]time.Time),
	}
}

func (s *MemStore) UpsertReadings(_ context.Context, records []*models.CanonicalRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var inserted int64

	for _, record := range records {
		if record == nil {
			return 0, ErrRecordNil
		}

		if record.NodeID == "" || record.ChannelID == "" || record.Timestamp.IsZero() {
			return 0, fmt.Errorf("%w: %+v", ErrRecordKeyMissing, record)
		}

		key := record.Key()
		if _, exists := s.records[key]; exists {
			continue
		}

		clone := *record
		clone.Timestamp = clone.Timestamp.UTC()
		s.records[key] = &clone
		inserted++
	}

	return inserted, nil
}

func (s *MemStore) MaxTimestamps(_ context.Context) (map[models.ChannelKey]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[models.ChannelKey]time.Time)

	for key, record := range s.records {
		ck := models.ChannelKey{NodeID: key.NodeID, ChannelID: key.ChannelID}
		if record.Timestamp.After(result[ck]) {
			result[ck] = record.Timestamp
		}
	}

	return result, nil
}

func (s *MemStore) ReadingsSince(_ context.Context, since time.Time) ([]*models.CanonicalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []*models.CanonicalRecord

	for _, record := range s.records {
		if !record.Timestamp.Before(since) {
			clone := *record
			records = append(records, &clone)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})

	return records, nil
}

func (s *MemStore) LatestReading(_ context.Context, nodeID, channelID string) (*models.CanonicalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.CanonicalRecord

	for _, record := range s.records {
		if record.NodeID != nodeID || record.ChannelID != channelID {
			continue
		}

		if latest == nil || record.Timestamp.After(latest.Timestamp) {
			latest = record
		}
	}

	if latest == nil {
		return nil, nil
	}

	clone := *latest

	return &clone, nil
}

func (s *MemStore) GetWatermark(_ context.Context, nodeID, channelID string) (time.Time, error) {
	if nodeID == "" || channelID == "" {
		return time.Time{}, ErrWatermarkKeyMissing
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.watermarks[models.ChannelKey{NodeID: nodeID, ChannelID: channelID}], nil
}

func (s *MemStore) NodeWatermarks(_ context.Context, nodeID string) (map[string]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]time.Time)

	for key, ts := range s.watermarks {
		if key.NodeID == nodeID {
			result[key.ChannelID] = ts
		}
	}

	return result, nil
}

func (s *MemStore) AdvanceWatermark(_ context.Context, nodeID, channelID string, ts time.Time) error {
	if nodeID == "" || channelID == "" {
		return ErrWatermarkKeyMissing
	}

	if ts.IsZero() {
		return ErrWatermarkZeroTimestamp
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.ChannelKey{NodeID: nodeID, ChannelID: channelID}
	if ts.UTC().After(s.watermarks[key]) {
		s.watermarks[key] = ts.UTC()
	}

	return nil
}

func (s *MemStore) ReconcileWatermarks(ctx context.Context) (int, error) {
	maxTimestamps, err := s.MaxTimestamps(ctx)
	if err != nil {
		return 0, err
	}

	repaired := 0

	for key, maxTS := range maxTimestamps {
		current, err := s.GetWatermark(ctx, key.NodeID, key.ChannelID)
		if err != nil {
			return repaired, err
		}

		if !maxTS.After(current) {
			continue
		}

		if err := s.AdvanceWatermark(ctx, key.NodeID, key.ChannelID, maxTS); err != nil {
			return repaired, err
		}

		repaired++
	}

	return repaired, nil
}

// Count returns the number of committed records.
func (s *MemStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records)
}

func (*MemStore) Close() {}
