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

// Package models defines the shared data types for the harvester pipeline.
package models

// Node describes one remote sensor logger and how to reach it. Nodes are
// pure configuration: the retrieval pipeline never mutates them.
type Node struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	AuthToken string    `json:"auth_token,omitempty"`
	Enabled   bool      `json:"enabled"`
	Channels  []Channel `json:"channels"`
}

// Channel describes a single sensor channel on a node, including the
// acceptable value range used to reject implausible readings.
type Channel struct {
	ID   string  `json:"id"`
	Kind string  `json:"kind"`
	Unit string  `json:"unit,omitempty"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Channel returns the channel with the given id, or nil if the node does
// not carry it.
func (n *Node) Channel(id string) *Channel {
	for i := range n.Channels {
		if n.Channels[i].ID == id {
			return &n.Channels[i]
		}
	}

	return nil
}
