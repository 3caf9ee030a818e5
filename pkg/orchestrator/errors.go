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

import "errors"

var (
	// ErrRunInProgress is returned when a run is requested while another
	// run is still in flight. Concurrent runs over the same watermarks
	// are never allowed; the caller should simply wait for the next tick.
	ErrRunInProgress = errors.New("a retrieval run is already in progress")

	errNodesRequired        = errors.New("at least one node is required")
	errDatabaseRequired     = errors.New("database configuration is required")
	errDatabaseHostRequired = errors.New("database host is required")
	errDatabaseNameRequired = errors.New("database name is required")
)
