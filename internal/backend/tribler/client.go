// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package tribler drives a Tribler core through its REST API.
package tribler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/dlfiles/internal/backend"
)

const (
	apiKeyHeader   = "X-Api-Key"
	defaultTimeout = 30 * time.Second
)

// Config holds the connection settings of a Tribler core.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Client implements backend.Service and backend.TrackerManager.
type Client struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
}

var (
	_ backend.Service        = (*Client)(nil)
	_ backend.TrackerManager = (*Client)(nil)
	_ backend.Pinger         = (*Client)(nil)
)

func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		return nil, errors.New("tribler url is required")
	}
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid tribler url")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("invalid tribler url %q", raw)
	}
	if !strings.HasSuffix(u.Path, "/api") {
		u.Path += "/api"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL: u,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) Name() string { return "tribler" }

// Connect pings the core until it answers or attempts run out.
func (c *Client) Connect(ctx context.Context, attempts uint) error {
	if attempts == 0 {
		attempts = 1
	}
	return retry.Do(
		func() error { return c.Ping(ctx) },
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, backend.ErrUnreachable)
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Err(err).Uint("attempt", n+1).Str("url", c.baseURL.String()).Msg("Tribler not reachable, retrying")
		}),
	)
}

func (c *Client) Ping(ctx context.Context) error {
	var out settingsResponse
	return c.do(ctx, http.MethodGet, "/settings", nil, nil, &out)
}

type settingsResponse struct {
	Settings json.RawMessage `json:"settings"`
}

type errorResponse struct {
	Error *struct {
		Handled bool   `json:"handled"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do performs one request. A missing response is reported as
// backend.ErrUnreachable and an error payload as *backend.ApplicationError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return backend.Unreachable(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return backend.Unreachable(err)
	}

	var errResp errorResponse
	if json.Unmarshal(data, &errResp) == nil && errResp.Error != nil {
		return &backend.ApplicationError{Message: errResp.Error.Message, Handled: errResp.Error.Handled}
	}

	if resp.StatusCode == http.StatusNotFound {
		return backend.ErrJobNotFound
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return &backend.ApplicationError{Message: fmt.Sprintf("tribler returned %s", resp.Status)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "decode %s %s", method, path)
	}
	return nil
}

func escape(infohash string) string {
	return "/downloads/" + url.PathEscape(strings.ToLower(strings.TrimSpace(infohash)))
}
