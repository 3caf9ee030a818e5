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

	"github.com/homesense/harvester/pkg/models"
)

const upsertReadingSQL = `
	INSERT INTO readings (node_id, channel_id, recorded_at, value, unit)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (node_id, channel_id, recorded_at) DO NOTHING`

// UpsertReadings commits a batch of canonical records. Records whose key
// already exists are silently skipped and excluded from the returned count.
func (db *DB) UpsertReadings(ctx context.Context, records []*models.CanonicalRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}

	for _, record := range records {
		if record == nil {
			return 0, ErrRecordNil
		}

		if record.NodeID == "" || record.ChannelID == "" || record.Timestamp.IsZero() {
			return 0, fmt.Errorf("%w: %+v", ErrRecordKeyMissing, record)
		}

		batch.Queue(upsertReadingSQL,
			record.NodeID, record.ChannelID, record.Timestamp.UTC(), record.Value, record.Unit)
	}

	inserted, err := sendBatchCountInserted(ctx, db.pool.SendBatch, batch, "readings upsert")
	if err != nil {
		return 0, err
	}

	db.logger.Debug().
		Int("batch_size", len(records)).
		Int64("inserted", inserted).
		Msg("Upserted readings batch")

	return inserted, nil
}

// MaxTimestamps returns the highest committed timestamp per (node, channel).
func (db *DB) MaxTimestamps(ctx context.Context) (map[models.ChannelKey]time.Time, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT node_id, channel_id, max(recorded_at)
		FROM readings
		GROUP BY node_id, channel_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: max timestamps: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	result := make(map[models.ChannelKey]time.Time)

	for rows.Next() {
		var (
			key models.ChannelKey
			ts  time.Time
		)

		if err := rows.Scan(&key.NodeID, &key.ChannelID, &ts); err != nil {
			return nil, fmt.Errorf("%w: max timestamps: %w", ErrFailedToScan, err)
		}

		result[key] = ts.UTC()
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: max timestamps: %w", ErrFailedToQuery, err)
	}

	return result, nil
}

// ReadingsSince returns committed records at or after since, oldest first.
func (db *DB) ReadingsSince(ctx context.Context, since time.Time) ([]*models.CanonicalRecord, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT node_id, channel_id, recorded_at, value, unit
		FROM readings
		WHERE recorded_at >= $1
		ORDER BY recorded_at`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: readings since: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// LatestReading returns the most recent committed record for a
// (node, channel), or nil when none exists.
func (db *DB) LatestReading(ctx context.Context, nodeID, channelID string) (*models.CanonicalRecord, error) {
	record := &models.CanonicalRecord{}

	err := db.pool.QueryRow(ctx, `
		SELECT node_id, channel_id, recorded_at, value, unit
		FROM readings
		WHERE node_id = $1 AND channel_id = $2
		ORDER BY recorded_at DESC
		LIMIT 1`, nodeID, channelID).
		Scan(&record.NodeID, &record.ChannelID, &record.Timestamp, &record.Value, &record.Unit)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w: latest reading: %w", ErrFailedToQuery, err)
	}

	record.Timestamp = record.Timestamp.UTC()

	return record, nil
}

func scanRecords(rows pgx.Rows) ([]*models.CanonicalRecord, error) {
	var records []*models.CanonicalRecord

	for rows.Next() {
		record := &models.CanonicalRecord{}

		if err := rows.Scan(&record.NodeID, &record.ChannelID, &record.Timestamp,
			&record.Value, &record.Unit); err != nil {
			return nil, fmt.Errorf("%w: reading row: %w", ErrFailedToScan, err)
		}

		record.Timestamp = record.Timestamp.UTC()
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading rows: %w", ErrFailedToQuery, err)
	}

	return records, nil
}
