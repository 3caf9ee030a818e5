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

package registry

import "errors"

var (
	ErrNodeNotFound         = errors.New("node not found")
	ErrNodeIDRequired       = errors.New("node id is required")
	ErrNodeAddressRequired  = errors.New("node address is required")
	ErrNodeAddressInvalid   = errors.New("node address must be an http(s) URL")
	ErrNodeChannelsRequired = errors.New("node must declare at least one channel")
	ErrDuplicateNodeID      = errors.New("duplicate node id")
	ErrChannelIDRequired    = errors.New("channel id is required")
	ErrDuplicateChannelID   = errors.New("duplicate channel id")
	ErrChannelBoundsInvalid = errors.New("channel bounds invalid: min must be below max")
)
