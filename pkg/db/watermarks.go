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
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// advanceWatermarkSQL is monotone: GREATEST keeps the row from ever
// regressing, even under a stale or reordered advance.
const advanceWatermarkSQL = `
	INSERT INTO watermarks (node_id, channel_id, last_ingested, updated_at)
	VALUES ($1, $2, $3, now())
	ON CONFLICT (node_id, channel_id) DO UPDATE
	SET last_ingested = GREATEST(watermarks.last_ingested, EXCLUDED.last_ingested),
	    updated_at = now()`

// GetWatermark returns the recorded watermark for a (node, channel) or the
// zero time when none exists yet.
func (db *DB) GetWatermark(ctx context.Context, nodeID, channelID string) (time.Time, error) {
	if nodeID == "" || channelID == "" {
		return time.Time{}, ErrWatermarkKeyMissing
	}

	var ts time.Time

	err := db.pool.QueryRow(ctx, `
		SELECT last_ingested FROM watermarks
		WHERE node_id = $1 AND channel_id = $2`, nodeID, channelID).Scan(&ts)

	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}

	if err != nil {
		return time.Time{}, fmt.Errorf("%w: watermark: %w", ErrFailedToQuery, err)
	}

	return ts.UTC(), nil
}

// NodeWatermarks returns every recorded channel watermark for a node.
func (db *DB) NodeWatermarks(ctx context.Context, nodeID string) (map[string]time.Time, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT channel_id, last_ingested FROM watermarks
		WHERE node_id = $1`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("%w: node watermarks: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	result := make(map[string]time.Time)

	for rows.Next() {
		var (
			channelID string
			ts        time.Time
		)

		if err := rows.Scan(&channelID, &ts); err != nil {
			return nil, fmt.Errorf("%w: node watermarks: %w", ErrFailedToScan, err)
		}

		result[channelID] = ts.UTC()
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: node watermarks: %w", ErrFailedToQuery, err)
	}

	return result, nil
}

// AdvanceWatermark raises the watermark for a (node, channel). Must only
// be called after the corresponding records are durably committed.
func (db *DB) AdvanceWatermark(ctx context.Context, nodeID, channelID string, ts time.Time) error {
	if nodeID == "" || channelID == "" {
		return ErrWatermarkKeyMissing
	}

	if ts.IsZero() {
		return ErrWatermarkZeroTimestamp
	}

	if _, err := db.pool.Exec(ctx, advanceWatermarkSQL, nodeID, channelID, ts.UTC()); err != nil {
		return fmt.Errorf("failed to advance watermark for %s/%s: %w", nodeID, channelID, err)
	}

	return nil
}

// ReconcileWatermarks raises any watermark that lags the committed data.
// A crash after commit but before advance leaves the watermark behind; the
// committed rows are the source of truth, so raising the watermark here
// only trims the overlap the next run would otherwise re-fetch.
func (db *DB) ReconcileWatermarks(ctx context.Context) (int, error) {
	maxTimestamps, err := db.MaxTimestamps(ctx)
	if err != nil {
		return 0, err
	}

	repaired := 0

	for key, maxTS := range maxTimestamps {
		current, err := db.GetWatermark(ctx, key.NodeID, key.ChannelID)
		if err != nil {
			return repaired, err
		}

		if !maxTS.After(current) {
			continue
		}

		if err := db.AdvanceWatermark(ctx, key.NodeID, key.ChannelID, maxTS); err != nil {
			return repaired, err
		}

		db.logger.Warn().
			Str("node_id", key.NodeID).
			Str("channel_id", key.ChannelID).
			Time("was", current).
			Time("now", maxTS).
			Msg("Repaired lagging watermark from committed data")

		repaired++
	}

	return repaired, nil
}
