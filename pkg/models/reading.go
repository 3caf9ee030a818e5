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

// Reading is a raw measurement as returned by a node's retrieval API.
// Timestamps come from the node's local clock and are treated as untrusted.
type Reading struct {
	NodeID    string    `json:"node_id"`
	ChannelID string    `json:"channel_id"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit,omitempty"`
}

// RecordKey is the composite dedup/idempotency key for a canonical record.
type RecordKey struct {
	NodeID    string
	ChannelID string
	Timestamp time.Time
}

// ChannelKey identifies a (node, channel) pair, the granularity at which
// watermarks are tracked.
type ChannelKey struct {
	NodeID    string
	ChannelID string
}

// CanonicalRecord is the normalized central-store representation of a
// reading. Its key is unique in the central store; re-ingesting a key that
// is already present is a no-op.
type CanonicalRecord struct {
	NodeID    string    `json:"node_id"`
	ChannelID string    `json:"channel_id"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
}

// Key returns the record's dedup key. Timestamps are normalized to UTC so
// that the same instant always produces the same key.
func (r *CanonicalRecord) Key() RecordKey {
	return RecordKey{
		NodeID:    r.NodeID,
		ChannelID: r.ChannelID,
		Timestamp: r.Timestamp.UTC(),
	}
}
