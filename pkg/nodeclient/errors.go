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

package nodeclient

import (
	"errors"
	"fmt"
)

// FetchKind classifies a failed fetch against a remote node.
type FetchKind string

const (
	FetchTimeout           FetchKind = "timeout"
	FetchUnreachable       FetchKind = "unreachable"
	FetchAuthFailed        FetchKind = "auth_failed"
	FetchMalformedResponse FetchKind = "malformed_response"
)

// FetchError is the typed failure returned by Fetch. It always carries the
// node it belongs to so the orchestrator can fold it into the run report.
type FetchError struct {
	NodeID string
	Kind   FetchKind
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch from node %s failed: %s", e.NodeID, e.Kind)
	}

	return fmt.Sprintf("fetch from node %s failed (%s): %v", e.NodeID, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// AsFetchError unwraps err into a *FetchError if it is one.
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}

	return nil, false
}
