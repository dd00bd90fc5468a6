// Package pfs talks to the path-finding service's HTTP API.
package pfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Route is one candidate path, an ordered list of node addresses.
type Route struct {
	Path         []string `json:"path"`
	EstimatedFee uint64   `json:"estimated_fee"`
}

// HistoryEntry is one logged past request: the id the service assigned and
// the route it answered with.
type HistoryEntry struct {
	RequestID string   `json:"request_id"`
	Route     []string `json:"route"`
}

// Client queries one path-finding service instance.
type Client struct {
	base string
	http *http.Client
}

// New creates a Client for the service at base, e.g. "http://pfs:6000".
func New(base string) *Client {
	return &Client{
		base: base,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

type routesRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Value    uint64 `json:"value"`
	MaxPaths int    `json:"max_paths"`
}

type routesResponse struct {
	Result []Route `json:"result"`
}

// Routes asks the service for up to maxPaths candidate routes from source to
// target carrying the given amount. An empty result is not an error; the
// caller decides whether to retry.
func (c *Client) Routes(ctx context.Context, source, target string, amount uint64, maxPaths int) ([]Route, error) {
	body, err := json.Marshal(routesRequest{From: source, To: target, Value: amount, MaxPaths: maxPaths})
	if err != nil {
		return nil, fmt.Errorf("pfs routes: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/paths", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("pfs routes: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pfs routes: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pfs routes: unexpected status %d", resp.StatusCode)
	}
	var out routesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("pfs routes: decode: %w", err)
	}
	return out.Result, nil
}

// History returns the service's log of past route requests issued by source
// for target, most recent last.
func (c *Client) History(ctx context.Context, source, target string) ([]HistoryEntry, error) {
	q := url.Values{}
	q.Set("source", source)
	q.Set("target", target)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/v1/routes?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("pfs history: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pfs history: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pfs history: unexpected status %d", resp.StatusCode)
	}
	var out []HistoryEntry
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("pfs history: decode: %w", err)
	}
	return out, nil
}
