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

import "errors"

var (

	// Core database errors.

	ErrFailedOpenDB  = errors.New("failed to open database")
	ErrFailedToQuery = errors.New("failed to query")
	ErrFailedToScan  = errors.New("failed to scan")

	// Validation errors for incoming records.

	ErrRecordNil              = errors.New("canonical record is nil")
	ErrRecordKeyMissing       = errors.New("node id, channel id, and timestamp are required")
	ErrWatermarkKeyMissing    = errors.New("node id and channel id are required")
	ErrWatermarkZeroTimestamp = errors.New("watermark timestamp must not be zero")
)
