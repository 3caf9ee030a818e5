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

package merger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homesense/harvester/pkg/models"
)

var t0 = time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)

func atticNode() *models.Node {
	return &models.Node{
		ID:      "attic",
		Name:    "attic",
		Address: "http://attic.local:5003",
		Enabled: true,
		Channels: []models.Channel{
			{ID: "temp", Kind: "temperature", Unit: "C", Min: -40, Max: 85},
			{ID: "humidity", Kind: "humidity", Unit: "%", Min: 0, Max: 100},
		},
	}
}

func reading(channel string, ts time.Time, value float64) models.Reading {
	return models.Reading{NodeID: "attic", ChannelID: channel, Timestamp: ts, Value: value}
}

func TestNormalize_ValidBatch(t *testing.T) {
	readings := []models.Reading{
		reading("temp", t0.Add(2*time.Minute), 21.8),
		reading("humidity", t0.Add(time.Minute), 48.0),
		reading("temp", t0.Add(time.Minute), 21.5),
	}

	records, drops, err := Normalize(atticNode(), readings)
	require.NoError(t, err)
	assert.Empty(t, drops)
	require.Len(t, records, 3)

	// Sorted by (channel, timestamp).
	assert.Equal(t, "humidity", records[0].ChannelID)
	assert.Equal(t, "temp", records[1].ChannelID)
	assert.True(t, records[1].Timestamp.Before(records[2].Timestamp))

	// Unit defaults from the channel config.
	assert.Equal(t, "%", records[0].Unit)
	assert.Equal(t, "C", records[1].Unit)
}

func TestNormalize_NilNode(t *testing.T) {
	_, _, err := Normalize(nil, nil)
	require.ErrorIs(t, err, ErrNilNode)
}

func TestNormalize_DropsInvalidReadingsKeepsSiblings(t *testing.T) {
	readings := []models.Reading{
		reading("temp", t0, 21.5),                      // valid
		reading("", t0.Add(time.Minute), 21.6),         // missing channel
		reading("co2", t0.Add(time.Minute), 400),       // not configured on node
		reading("temp", time.Time{}, 21.7),             // zero timestamp
		reading("temp", t0.Add(2*time.Minute), 1200.0), // out of range
		reading("humidity", t0.Add(time.Minute), 48.0), // valid
	}

	records, drops, err := Normalize(atticNode(), readings)
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, "humidity", records[0].ChannelID)
	assert.Equal(t, "temp", records[1].ChannelID)

	require.Len(t, drops, 4)

	reasons := make(map[DropReason]int)
	for _, d := range drops {
		reasons[d.Reason]++
	}

	assert.Equal(t, 1, reasons[DropMissingChannel])
	assert.Equal(t, 1, reasons[DropUnknownChannel])
	assert.Equal(t, 1, reasons[DropZeroTimestamp])
	assert.Equal(t, 1, reasons[DropOutOfRange])
}

func TestNormalize_BoundaryValuesAreValid(t *testing.T) {
	readings := []models.Reading{
		reading("humidity", t0, 0),
		reading("humidity", t0.Add(time.Minute), 100),
	}

	records, drops, err := Normalize(atticNode(), readings)
	require.NoError(t, err)
	assert.Empty(t, drops)
	assert.Len(t, records, 2)
}

func TestNormalize_DeduplicatesWithinBatch(t *testing.T) {
	// A node returning overlapping pages repeats the same (channel, ts) key.
	readings := []models.Reading{
		reading("temp", t0, 21.5),
		reading("temp", t0.Add(time.Minute), 21.6),
		reading("temp", t0, 99.0), // same key as first, different value
	}

	records, drops, err := Normalize(atticNode(), readings)
	require.NoError(t, err)

	require.Len(t, records, 2)
	require.Len(t, drops, 1)
	assert.Equal(t, DropDuplicate, drops[0].Reason)

	// First occurrence wins.
	assert.InDelta(t, 21.5, records[0].Value, 0.0001)
}

func TestNormalize_ForeignNodeReadingDropped(t *testing.T) {
	readings := []models.Reading{
		{NodeID: "cellar", ChannelID: "temp", Timestamp: t0, Value: 18.0},
		reading("temp", t0, 21.5),
	}

	records, drops, err := Normalize(atticNode(), readings)
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, "attic", records[0].NodeID)

	require.Len(t, drops, 1)
	assert.Equal(t, DropForeignNode, drops[0].Reason)
}

func TestNormalize_TimestampsNormalizedToUTC(t *testing.T) {
	cet := time.FixedZone("CET", 3600)

	records, drops, err := Normalize(atticNode(), []models.Reading{
		reading("temp", t0.In(cet), 21.5),
	})
	require.NoError(t, err)
	assert.Empty(t, drops)
	require.Len(t, records, 1)
	assert.Equal(t, time.UTC, records[0].Timestamp.Location())
	assert.True(t, records[0].Timestamp.Equal(t0))
}

func TestNormalize_Deterministic(t *testing.T) {
	readings := []models.Reading{
		reading("temp", t0.Add(3*time.Minute), 21.9),
		reading("humidity", t0, 50),
		reading("temp", t0, 21.5),
		reading("temp", t0, 30), // duplicate key
	}

	first, firstDrops, err := Normalize(atticNode(), readings)
	require.NoError(t, err)

	second, secondDrops, err := Normalize(atticNode(), readings)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, firstDrops, secondDrops)
}

func TestNormalize_EmptyBatch(t *testing.T) {
	records, drops, err := Normalize(atticNode(), nil)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Empty(t, drops)
}
