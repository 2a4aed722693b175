// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package render is the client for the chart rendering service.
//
// The renderer is an opaque mplsoccer-based image service: it accepts a
// chart payload and returns a base64 PNG. The drawing algorithm is out of
// scope here; this package only owns the wire contract and its
// per-chart-type validation rules.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Pitch chart types draw over a football pitch and need positional data;
// the statistical types need metrics/values instead.
const (
	ChartShotMap     = "shot_map"
	ChartPassMap     = "pass_map"
	ChartHeatmap     = "heatmap"
	ChartPitchPlot   = "pitch_plot"
	ChartPassNetwork = "pass_network"
	ChartRadar       = "radar"
	ChartPizza       = "pizza"
	ChartBumpy       = "bumpy"
)

// statisticalCharts need metrics instead of positional rows.
var statisticalCharts = map[string]bool{
	ChartRadar: true, ChartPizza: true, ChartBumpy: true,
}

// KnownChartType reports whether the renderer supports the chart type.
func KnownChartType(chartType string) bool {
	switch strings.ToLower(chartType) {
	case ChartShotMap, ChartPassMap, ChartHeatmap, ChartPitchPlot,
		ChartPassNetwork, ChartRadar, ChartPizza, ChartBumpy:
		return true
	}
	return false
}

// Series is one labeled data series on a chart.
type Series struct {
	Label  string           `json:"label"`
	Color  string           `json:"color,omitempty"`
	Data   []map[string]any `json:"data,omitempty"`
	Values []float64        `json:"values,omitempty"`
}

// Rule is a marker or highlight override passed through to the renderer.
type Rule map[string]any

// Request is the renderer's POST /render payload.
type Request struct {
	ChartType      string           `json:"chart_type"`
	Title          string           `json:"title,omitempty"`
	Subtitle       string           `json:"subtitle,omitempty"`
	XField         string           `json:"x_field,omitempty"`
	YField         string           `json:"y_field,omitempty"`
	EndXField      string           `json:"end_x_field,omitempty"`
	EndYField      string           `json:"end_y_field,omitempty"`
	Data           []map[string]any `json:"data"`
	Orientation    string           `json:"orientation,omitempty"`
	Half           bool             `json:"half,omitempty"`
	Metrics        []string         `json:"metrics,omitempty"`
	Values         []float64        `json:"values,omitempty"`
	ValuesCompare  []float64        `json:"values_compare,omitempty"`
	Series         []Series         `json:"series,omitempty"`
	MarkerRules    []Rule           `json:"marker_rules,omitempty"`
	HighlightRules []Rule           `json:"highlight_rules,omitempty"`
}

// Validate checks the per-chart-type required fields before the wire call.
//
// Description:
//
//	Mirrors the renderer's own 400 responses so bad payloads fail with a
//	local message instead of a round trip: radar and pizza need metrics
//	and values, bumpy needs metrics and series, pitch charts need data
//	or series.
func (r *Request) Validate() error {
	ct := strings.ToLower(r.ChartType)
	if !KnownChartType(ct) {
		return fmt.Errorf("render: unsupported chart type %q", r.ChartType)
	}
	if statisticalCharts[ct] {
		if len(r.Metrics) == 0 {
			return fmt.Errorf("render: %s requires metrics", ct)
		}
		if ct == ChartBumpy {
			if len(r.Series) == 0 {
				return fmt.Errorf("render: bumpy requires series")
			}
		} else if len(r.Values) == 0 {
			return fmt.Errorf("render: %s requires values", ct)
		}
		return nil
	}
	if len(r.Data) == 0 && len(r.Series) == 0 {
		return fmt.Errorf("render: %s requires data or series", ct)
	}
	return nil
}

// Result is the rendered image.
type Result struct {
	ImageBase64 string `json:"image_base64"`
	Mime        string `json:"mime"`
}

// Client calls the chart rendering service.
//
// Thread Safety: Client is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a renderer client.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("render: base URL is missing")
	}
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// Render posts the chart payload and returns the image.
//
// Outputs:
//   - *Result: Base64 image and mime type.
//   - error: Validation errors locally, upstream errors verbatim.
//
// Thread Safety: This method is safe for concurrent use.
func (c *Client) Render(ctx context.Context, req *Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("render: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/render", bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("render: creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	slog.Debug("Rendering chart",
		slog.String("chart_type", req.ChartType),
		slog.Int("rows", len(req.Data)),
		slog.Int("series", len(req.Series)),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("render: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("render: reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("render: service returned status %d: %s", resp.StatusCode, string(body))
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("render: decoding response: %w", err)
	}
	if result.ImageBase64 == "" {
		return nil, fmt.Errorf("render: service returned an empty image")
	}
	return &result, nil
}

// Health checks the renderer's /health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("render: creating health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("render: health check failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("render: health returned status %d", resp.StatusCode)
	}
	return nil
}
