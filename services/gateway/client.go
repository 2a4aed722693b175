// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway is the client for the hosted-database REST gateway.
//
// Table reads use the gateway's column=op.value filter encoding, counts
// come back in the content-range response header, and arbitrary read-only
// SQL goes through the /rpc/run_sql endpoint. All requests carry both the
// apikey header and a bearer token, which is what the gateway expects.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// FilterOps are the comparison operators the gateway accepts in
// column=op.value query parameters.
var FilterOps = map[string]bool{
	"eq": true, "ilike": true, "like": true,
	"gt": true, "gte": true, "lt": true, "lte": true, "in": true,
}

// Filter is one column comparison applied to a table read.
type Filter struct {
	// Column is the column name. Must exist in the schema snapshot.
	Column string

	// Op is one of the FilterOps keys.
	Op string

	// Value is the right-hand side, already formatted for the gateway
	// (ilike patterns keep their % wildcards).
	Value string
}

// QueryOptions shape a table read.
type QueryOptions struct {
	// Select is the comma-separated column list; empty selects *.
	Select string

	// Filters are ANDed column comparisons.
	Filters []Filter

	// Order is a column name, optionally suffixed ".desc".
	Order string

	// Limit caps the row count. Zero applies the gateway default.
	Limit int
}

// RPCError is a non-2xx response from the gateway.
//
// The orchestrator's rewrite-on-error pass matches substrings of Body
// against known failure signatures, so Body carries the raw gateway
// message. Secrets never appear there; the gateway does not echo headers.
type RPCError struct {
	Status int
	Body   string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("gateway: status %d: %s", e.Status, e.Body)
}

// Client talks to the database gateway.
//
// Thread Safety: Client is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient creates a gateway client.
//
// Outputs:
//   - *Client: The configured client.
//   - error: Non-nil if the base URL is missing.
func NewClient(baseURL, apiKey string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("gateway: base URL is missing")
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
	}, nil
}

// setAuth attaches the gateway credential headers.
func (c *Client) setAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// Query reads rows from a public table.
//
// Inputs:
//   - ctx: Context for cancellation and timeout.
//   - table: Table name; the caller validates it against the schema.
//   - opts: Select list, filters, order, and limit.
//
// Outputs:
//   - []map[string]any: Decoded rows.
//   - error: *RPCError for non-2xx responses, transport errors otherwise.
//
// Thread Safety: This method is safe for concurrent use.
func (c *Client) Query(ctx context.Context, table string, opts QueryOptions) ([]map[string]any, error) {
	params := url.Values{}
	if opts.Select != "" {
		params.Set("select", opts.Select)
	}
	for _, f := range opts.Filters {
		if !FilterOps[f.Op] {
			return nil, fmt.Errorf("gateway: unsupported filter operator %q", f.Op)
		}
		params.Add(f.Column, f.Op+"."+f.Value)
	}
	if opts.Order != "" {
		params.Set("order", opts.Order)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	endpoint := c.baseURL + "/" + url.PathEscape(table)
	if encoded := params.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: creating request: %w", err)
	}
	c.setAuth(req)

	body, _, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var rows []map[string]any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("gateway: decoding rows from %s: %w", table, err)
	}
	return rows, nil
}

// Count returns the number of rows matching the filters.
//
// Description:
//
//	Issues a HEAD-style read with Prefer: count=exact and parses the
//	total from the content-range header ("0-24/3573" → 3573).
func (c *Client) Count(ctx context.Context, table string, filters []Filter) (int, error) {
	params := url.Values{}
	params.Set("select", "*")
	for _, f := range filters {
		if !FilterOps[f.Op] {
			return 0, fmt.Errorf("gateway: unsupported filter operator %q", f.Op)
		}
		params.Add(f.Column, f.Op+"."+f.Value)
	}
	params.Set("limit", "1")

	endpoint := c.baseURL + "/" + url.PathEscape(table) + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("gateway: creating request: %w", err)
	}
	c.setAuth(req)
	req.Header.Set("Prefer", "count=exact")

	_, header, err := c.do(req)
	if err != nil {
		return 0, err
	}

	contentRange := header.Get("content-range")
	slash := strings.LastIndex(contentRange, "/")
	if slash < 0 || slash == len(contentRange)-1 {
		return 0, fmt.Errorf("gateway: missing count in content-range %q", contentRange)
	}
	total, err := strconv.Atoi(contentRange[slash+1:])
	if err != nil {
		return 0, fmt.Errorf("gateway: parsing content-range %q: %w", contentRange, err)
	}
	return total, nil
}

// Aggregate computes sum/avg/min/max of a column over matching rows.
//
// Description:
//
//	The gateway has no aggregate endpoint, so the client reads the single
//	column (bounded by limit) and folds locally. Good enough for the tool
//	surface; heavy aggregation goes through RunSQL.
func (c *Client) Aggregate(ctx context.Context, table, column, operation string, filters []Filter, limit int) (float64, error) {
	switch operation {
	case "sum", "avg", "min", "max":
	default:
		return 0, fmt.Errorf("gateway: unsupported aggregate operation %q", operation)
	}
	if limit <= 0 {
		limit = 10000
	}

	rows, err := c.Query(ctx, table, QueryOptions{
		Select:  column,
		Filters: filters,
		Limit:   limit,
	})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	var sum, minV, maxV float64
	count := 0
	for _, row := range rows {
		v, ok := toFloat(row[column])
		if !ok {
			continue
		}
		if count == 0 {
			minV, maxV = v, v
		}
		sum += v
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
		count++
	}
	if count == 0 {
		return 0, nil
	}

	switch operation {
	case "sum":
		return sum, nil
	case "avg":
		return sum / float64(count), nil
	case "min":
		return minV, nil
	default:
		return maxV, nil
	}
}

// RunSQL executes arbitrary read-only SQL through the gateway RPC.
//
// Description:
//
//	POSTs {query} to /rpc/run_sql. Multi-statement input is rejected
//	before the request is made; the gateway would reject it anyway, but
//	failing locally gives a clearer message and saves a round trip.
//
// Outputs:
//   - []map[string]any: Result rows (nil for empty results).
//   - error: *RPCError carrying the gateway's message for non-2xx.
func (c *Client) RunSQL(ctx context.Context, query string) ([]map[string]any, error) {
	if strings.Contains(query, ";") {
		return nil, fmt.Errorf("gateway: multi-statement SQL is not allowed")
	}

	payload, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, fmt.Errorf("gateway: marshaling RPC payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc/run_sql", bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("gateway: creating RPC request: %w", err)
	}
	c.setAuth(req)
	req.Header.Set("Content-Type", "application/json")

	slog.Debug("Executing gateway SQL RPC", slog.Int("query_len", len(query)))

	body, _, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var rows []map[string]any
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("gateway: decoding RPC rows: %w", err)
	}
	return rows, nil
}

// do runs the request and returns body + headers, mapping non-2xx to RPCError.
func (c *Client) do(req *http.Request) ([]byte, http.Header, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("gateway: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("gateway: reading response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &RPCError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, resp.Header, nil
}

// toFloat coerces the JSON number representations the gateway produces.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
