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
	"time"

	"github.com/homesense/harvester/pkg/models"
)

// CentralStore is the durable home of canonical records. Upserts are
// idempotent: re-submitting an already-present key is a silent no-op,
// never a duplicate row and never an error.
type CentralStore interface {
	// UpsertReadings commits a batch and returns how many rows were newly
	// inserted; records whose key already existed are excluded from the
	// count.
	UpsertReadings(ctx context.Context, records []*models.CanonicalRecord) (int64, error)

	// MaxTimestamps returns the highest committed timestamp per
	// (node, channel), the consistency cross-check against the watermark
	// store after crash recovery.
	MaxTimestamps(ctx context.Context) (map[models.ChannelKey]time.Time, error)

	// ReadingsSince returns committed records at or after since, ordered
	// by timestamp. Read by the downstream web/API layer.
	ReadingsSince(ctx context.Context, since time.Time) ([]*models.CanonicalRecord, error)

	// LatestReading returns the most recent committed record for a
	// (node, channel), or nil if none exists.
	LatestReading(ctx context.Context, nodeID, channelID string) (*models.CanonicalRecord, error)
}

// WatermarkStore persists the last ingested position per (node, channel).
// A watermark advances only after the corresponding records are durably
// committed, and it never regresses.
type WatermarkStore interface {
	// GetWatermark returns the watermark for a (node, channel), or the
	// zero time if none has been recorded yet — the beginning-of-time
	// sentinel, so a first-ever fetch does not skip historical data.
	GetWatermark(ctx context.Context, nodeID, channelID string) (time.Time, error)

	// NodeWatermarks returns every recorded channel watermark for a node.
	NodeWatermarks(ctx context.Context, nodeID string) (map[string]time.Time, error)

	// AdvanceWatermark raises the watermark for a (node, channel) to ts.
	// Advancing to a value at or below the current watermark is a no-op.
	AdvanceWatermark(ctx context.Context, nodeID, channelID string, ts time.Time) error
}

// Service is the full store surface used by the orchestrator.
type Service interface {
	CentralStore
	WatermarkStore

	// ReconcileWatermarks raises any watermark that lags the committed
	// data, repairing the gap left by a crash between commit and advance.
	// Returns the number of watermarks repaired.
	ReconcileWatermarks(ctx context.Context) (int, error)

	Close()
}
