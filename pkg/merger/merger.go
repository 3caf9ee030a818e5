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

// Package merger normalizes raw node readings into canonical records.
//
// Normalize is a pure function: no I/O, deterministic for identical input.
// Invalid readings are dropped and reported individually instead of
// failing the batch; a misbehaving node that returns overlapping pages is
// deduplicated here before anything reaches the central store.
package merger

import (
	"errors"
	"sort"

	"github.com/homesense/harvester/pkg/models"
)

var ErrNilNode = errors.New("node is required")

// DropReason explains why a reading was excluded from the merged batch.
type DropReason string

const (
	DropMissingChannel DropReason = "missing_channel"
	DropUnknownChannel DropReason = "unknown_channel"
	DropForeignNode    DropReason = "foreign_node"
	DropZeroTimestamp  DropReason = "zero_timestamp"
	DropOutOfRange     DropReason = "out_of_range"
	DropDuplicate      DropReason = "duplicate"
)

// Drop records a single rejected reading.
type Drop struct {
	Reading models.Reading
	Reason  DropReason
}

// Normalize validates a batch of raw readings from a single node and
// returns canonical records keyed for idempotent upsert, plus the readings
// that were dropped and why. Output is sorted by (channel, timestamp);
// in-batch duplicates keep the first occurrence.
func Normalize(node *models.Node, readings []models.Reading) ([]*models.CanonicalRecord, []Drop, error) {
	if node == nil {
		return nil, nil, ErrNilNode
	}

	records := make([]*models.CanonicalRecord, 0, len(readings))
	drops := make([]Drop, 0)
	seen := make(map[models.RecordKey]struct{}, len(readings))

	for _, reading := range readings {
		if reason, ok := rejectReason(node, &reading); ok {
			drops = append(drops, Drop{Reading: reading, Reason: reason})
			continue
		}

		channel := node.Channel(reading.ChannelID)

		unit := reading.Unit
		if unit == "" {
			unit = channel.Unit
		}

		record := &models.CanonicalRecord{
			NodeID:    node.ID,
			ChannelID: reading.ChannelID,
			Timestamp: reading.Timestamp.UTC(),
			Value:     reading.Value,
			Unit:      unit,
		}

		if _, dup := seen[record.Key()]; dup {
			drops = append(drops, Drop{Reading: reading, Reason: DropDuplicate})
			continue
		}

		seen[record.Key()] = struct{}{}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].ChannelID != records[j].ChannelID {
			return records[i].ChannelID < records[j].ChannelID
		}

		return records[i].Timestamp.Before(records[j].Timestamp)
	})

	return records, drops, nil
}

func rejectReason(node *models.Node, reading *models.Reading) (DropReason, bool) {
	if reading.ChannelID == "" {
		return DropMissingChannel, true
	}

	if reading.NodeID != "" && reading.NodeID != node.ID {
		return DropForeignNode, true
	}

	channel := node.Channel(reading.ChannelID)
	if channel == nil {
		return DropUnknownChannel, true
	}

	if reading.Timestamp.IsZero() {
		return DropZeroTimestamp, true
	}

	if reading.Value < channel.Min || reading.Value > channel.Max {
		return DropOutOfRange, true
	}

	return "", false
}
