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
	"time"

	"github.com/homesense/harvester/pkg/models"
)

// Clock abstracts time-related operations.
type Clock interface {
	Now() time.Time
	Ticker(d time.Duration) Ticker
}

// Ticker abstracts the ticker behavior.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// Fetcher retrieves readings newer than since from one remote node.
// Implemented by nodeclient.Client; faked in tests.
type Fetcher interface {
	Fetch(ctx context.Context, node *models.Node, since time.Time) ([]models.Reading, error)
}

// NodeSource enumerates the nodes to poll. Implemented by
// registry.NodeRegistry.
type NodeSource interface {
	List() []models.Node
}
