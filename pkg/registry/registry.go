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

// Package registry holds the configured set of remote sensor nodes.
package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/homesense/harvester/pkg/models"
)

// NodeRegistry is the read-only set of known nodes. It is built once from
// configuration and never mutated by the retrieval pipeline.
type NodeRegistry struct {
	nodes map[string]models.Node
	order []string
}

// New validates the configured nodes and builds a registry. Malformed
// entries fail construction rather than being skipped.
func New(nodes []models.Node) (*NodeRegistry, error) {
	r := &NodeRegistry{
		nodes: make(map[string]models.Node, len(nodes)),
	}

	for i := range nodes {
		node := nodes[i]

		if err := validateNode(&node); err != nil {
			return nil, err
		}

		if _, exists := r.nodes[node.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNodeID, node.ID)
		}

		r.nodes[node.ID] = node
	}

	for id := range r.nodes {
		r.order = append(r.order, id)
	}

	sort.Strings(r.order)

	return r, nil
}

// List returns all enabled nodes in stable (id-sorted) order.
func (r *NodeRegistry) List() []models.Node {
	nodes := make([]models.Node, 0, len(r.order))

	for _, id := range r.order {
		if node := r.nodes[id]; node.Enabled {
			nodes = append(nodes, node)
		}
	}

	return nodes
}

// Get returns the node with the given id, enabled or not.
func (r *NodeRegistry) Get(id string) (models.Node, error) {
	node, ok := r.nodes[id]
	if !ok {
		return models.Node{}, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	return node, nil
}

func validateNode(node *models.Node) error {
	if node.ID == "" {
		return ErrNodeIDRequired
	}

	if node.Address == "" {
		return fmt.Errorf("%w: node %s", ErrNodeAddressRequired, node.ID)
	}

	if !strings.HasPrefix(node.Address, "http://") && !strings.HasPrefix(node.Address, "https://") {
		return fmt.Errorf("%w: node %s has address %q", ErrNodeAddressInvalid, node.ID, node.Address)
	}

	if len(node.Channels) == 0 {
		return fmt.Errorf("%w: node %s", ErrNodeChannelsRequired, node.ID)
	}

	seen := make(map[string]struct{}, len(node.Channels))

	for i := range node.Channels {
		ch := &node.Channels[i]

		if ch.ID == "" {
			return fmt.Errorf("%w: node %s", ErrChannelIDRequired, node.ID)
		}

		if _, dup := seen[ch.ID]; dup {
			return fmt.Errorf("%w: node %s channel %s", ErrDuplicateChannelID, node.ID, ch.ID)
		}

		seen[ch.ID] = struct{}{}

		if ch.Min >= ch.Max {
			return fmt.Errorf("%w: node %s channel %s has bounds [%v, %v]",
				ErrChannelBoundsInvalid, node.ID, ch.ID, ch.Min, ch.Max)
		}
	}

	return nil
}
