// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package render

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRequestValidate(t *testing.T) {
	rows := []map[string]any{{"x": 12.0, "y": 34.0}}
	tests := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{"shot map with data", Request{ChartType: ChartShotMap, Data: rows}, false},
		{"shot map without data", Request{ChartType: ChartShotMap}, true},
		{"pass map via series", Request{ChartType: ChartPassMap, Series: []Series{{Label: "a", Data: rows}}}, false},
		{"radar with metrics and values", Request{ChartType: ChartRadar, Metrics: []string{"Goals"}, Values: []float64{3}}, false},
		{"radar missing values", Request{ChartType: ChartRadar, Metrics: []string{"Goals"}}, true},
		{"pizza missing metrics", Request{ChartType: ChartPizza, Values: []float64{1}}, true},
		{"bumpy with series", Request{ChartType: ChartBumpy, Metrics: []string{"Week 1"}, Series: []Series{{Label: "a", Values: []float64{1}}}}, false},
		{"bumpy missing series", Request{ChartType: ChartBumpy, Metrics: []string{"Week 1"}}, true},
		{"unknown type", Request{ChartType: "scatter3d", Data: rows}, true},
		{"case insensitive type", Request{ChartType: "Shot_Map", Data: rows}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestKnownChartType(t *testing.T) {
	for _, ct := range []string{ChartShotMap, ChartPassMap, ChartHeatmap, ChartPitchPlot, ChartPassNetwork, ChartRadar, ChartPizza, ChartBumpy} {
		if !KnownChartType(ct) {
			t.Errorf("KnownChartType(%q) = false, want true", ct)
		}
	}
	if KnownChartType("bar") {
		t.Error("KnownChartType(\"bar\") = true, want false")
	}
}

func TestClientRender(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/render" {
			t.Errorf("path = %q, want /render", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(Result{ImageBase64: "aGVsbG8=", Mime: "image/png"})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	res, err := c.Render(context.Background(), &Request{
		ChartType: ChartShotMap,
		Title:     "Arsenal shots",
		XField:    "x",
		YField:    "y",
		Data:      []map[string]any{{"x": 99.1, "y": 40.2}},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if res.ImageBase64 != "aGVsbG8=" || res.Mime != "image/png" {
		t.Errorf("unexpected result: %+v", res)
	}
	if got.ChartType != ChartShotMap || got.Title != "Arsenal shots" {
		t.Errorf("server saw wrong payload: %+v", got)
	}
}

func TestClientRenderUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"radar requires metrics"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, 5*time.Second)
	_, err := c.Render(context.Background(), &Request{
		ChartType: ChartHeatmap,
		Data:      []map[string]any{{"x": 1.0, "y": 2.0}},
	})
	if err == nil {
		t.Fatal("expected error on 400 response")
	}
}

func TestClientRenderEmptyImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Result{})
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, 5*time.Second)
	_, err := c.Render(context.Background(), &Request{
		ChartType: ChartHeatmap,
		Data:      []map[string]any{{"x": 1.0}},
	})
	if err == nil {
		t.Fatal("expected error on empty image")
	}
}
