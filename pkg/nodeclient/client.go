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

// Package nodeclient fetches readings from a remote node's retrieval API.
package nodeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/homesense/harvester/pkg/logger"
	"github.com/homesense/harvester/pkg/models"
)

const (
	defaultFetchTimeout = 30 * time.Second
	readingsPath        = "/api/readings"

	// maxResponseBytes caps how much of a node response we are willing to
	// read; Pi-class loggers buffer at most a few days of data.
	maxResponseBytes = 16 << 20
)

// wireReading is the JSON shape the node retrieval API returns. Timestamps
// are epoch milliseconds from the node's local clock.
type wireReading struct {
	Channel     string  `json:"channel"`
	TimestampMs int64   `json:"timestamp_ms"`
	Value       float64 `json:"value"`
	Unit        string  `json:"unit,omitempty"`
}

// Client performs single fetches against remote node retrieval APIs. One
// unresponsive node cannot stall a run: every fetch runs under a bounded
// timeout. The client never retries; retry policy belongs to the caller.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the per-fetch timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New creates a node client.
func New(log logger.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		timeout:    defaultFetchTimeout,
		logger:     log,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Fetch retrieves all readings from the node strictly newer than since.
// A zero since requests the node's full buffer (first-ever fetch must not
// skip historical data). Errors are always *FetchError.
func (c *Client) Fetch(ctx context.Context, node *models.Node, since time.Time) ([]models.Reading, error) {
	reqURL, err := c.buildURL(node, since)
	if err != nil {
		return nil, &FetchError{NodeID: node.ID, Kind: FetchUnreachable, Err: err}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, &FetchError{NodeID: node.ID, Kind: FetchUnreachable, Err: err}
	}

	req.Header.Set("Accept", "application/json")

	if node.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+node.AuthToken)
	}

	c.logger.Debug().
		Str("node_id", node.ID).
		Str("url", reqURL).
		Time("since", since).
		Msg("Fetching readings from node")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classifyTransportError(node.ID, err)
	}

	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn().Err(closeErr).Str("node_id", node.ID).Msg("Failed to close response body")
		}
	}()

	if kind, ok := classifyStatus(resp.StatusCode); ok {
		return nil, &FetchError{
			NodeID: node.ID,
			Kind:   kind,
			Err:    fmt.Errorf("node returned status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, c.classifyTransportError(node.ID, err)
	}

	return c.decodeReadings(node, body)
}

func (c *Client) buildURL(node *models.Node, since time.Time) (string, error) {
	base, err := url.Parse(strings.TrimSuffix(node.Address, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid node address %q: %w", node.Address, err)
	}

	base.Path += readingsPath

	if !since.IsZero() {
		q := base.Query()
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
		base.RawQuery = q.Encode()
	}

	return base.String(), nil
}

// decodeReadings parses the response body. On any structural problem the
// whole batch is rejected; the orchestrator will re-fetch the same range
// next tick, and upsert idempotency absorbs the overlap.
func (c *Client) decodeReadings(node *models.Node, body []byte) ([]models.Reading, error) {
	var wire []wireReading

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&wire); err != nil {
		return nil, &FetchError{NodeID: node.ID, Kind: FetchMalformedResponse, Err: err}
	}

	readings := make([]models.Reading, 0, len(wire))

	for _, w := range wire {
		var ts time.Time
		if w.TimestampMs > 0 {
			ts = time.UnixMilli(w.TimestampMs).UTC()
		}

		readings = append(readings, models.Reading{
			NodeID:    node.ID,
			ChannelID: w.Channel,
			Timestamp: ts,
			Value:     w.Value,
			Unit:      w.Unit,
		})
	}

	c.logger.Debug().
		Str("node_id", node.ID).
		Int("readings", len(readings)).
		Msg("Decoded node response")

	return readings, nil
}

func (c *Client) classifyTransportError(nodeID string, err error) *FetchError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{NodeID: nodeID, Kind: FetchTimeout, Err: err}
	}

	// url.Error wraps the deadline error on client timeouts.
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return &FetchError{NodeID: nodeID, Kind: FetchTimeout, Err: err}
	}

	return &FetchError{NodeID: nodeID, Kind: FetchUnreachable, Err: err}
}

func classifyStatus(code int) (FetchKind, bool) {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return FetchAuthFailed, true
	case code >= 200 && code < 300:
		return "", false
	default:
		return FetchUnreachable, true
	}
}
