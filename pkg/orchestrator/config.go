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
	"time"

	"github.com/homesense/harvester/pkg/logger"
	"github.com/homesense/harvester/pkg/models"
)

const (
	// defaultPollInterval matches the original deployment cadence; the
	// authoritative value is whatever the config says.
	defaultPollInterval = 5 * time.Minute

	// defaultMaxConcurrency keeps the fan-out gentle on both the local
	// network and Pi-class remote nodes.
	defaultMaxConcurrency = 4

	defaultNodeTimeout = 30 * time.Second

	defaultCommitTimeout = 30 * time.Second
)

// Config is the harvester service configuration.
type Config struct {
	Nodes          []models.Node    `json:"nodes"`
	PollInterval   models.Duration  `json:"poll_interval"`
	MaxConcurrency int              `json:"max_concurrency"`
	NodeTimeout    models.Duration  `json:"node_timeout"`
	CommitTimeout  models.Duration  `json:"commit_timeout"`
	Database       *models.DBConfig `json:"database"`
	Logging        *logger.Config   `json:"logging,omitempty"`
}

// Validate implements config.Validator and applies defaults.
func (c *Config) Validate() error {
	if len(c.Nodes) == 0 {
		return errNodesRequired
	}

	if c.Database == nil {
		return errDatabaseRequired
	}

	if c.Database.Host == "" {
		return errDatabaseHostRequired
	}

	if c.Database.Database == "" {
		return errDatabaseNameRequired
	}

	if time.Duration(c.PollInterval) == 0 {
		c.PollInterval = models.Duration(defaultPollInterval)
	}

	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = defaultMaxConcurrency
	}

	if time.Duration(c.NodeTimeout) == 0 {
		c.NodeTimeout = models.Duration(defaultNodeTimeout)
	}

	if time.Duration(c.CommitTimeout) == 0 {
		c.CommitTimeout = models.Duration(defaultCommitTimeout)
	}

	return nil
}
