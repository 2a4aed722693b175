// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/AleutianAI/pitchside/services/gateway"
	"github.com/AleutianAI/pitchside/services/render"
)

func TestValidateRestrictedSQL(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, &scriptedCompleter{}, &fakeBackend{})
	ctx := context.Background()

	tests := []struct {
		name    string
		query   string
		wantErr string
	}{
		{"star select", "SELECT * FROM viz_match_events", ""},
		{"plain columns", "SELECT team_name, x FROM viz_match_events WHERE team_name = 'Arsenal' LIMIT 10", ""},
		{"count star", "SELECT COUNT(*) FROM viz_match_events", ""},
		{"sum with group", "SELECT team_name, SUM(x) FROM viz_match_events GROUP BY team_name", ""},
		{"trailing semicolon ok", "SELECT * FROM viz_match_events;", ""},
		{"unknown table", "SELECT * FROM secrets", `unknown table "secrets"`},
		{"unknown column", "SELECT salary FROM viz_match_events", `unknown column "salary"`},
		{"expression rejected", "SELECT x + y FROM viz_match_events", "not allowed"},
		{"subquery rejected", "SELECT * FROM (SELECT 1) q", "does not match"},
		{"multi statement", "SELECT * FROM viz_teams; DROP TABLE viz_teams", "single statement"},
		{"not a select", "DELETE FROM viz_match_events", "does not match"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := o.validateRestrictedSQL(ctx, tt.query)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseFilters(t *testing.T) {
	got := parseFilters(map[string]string{
		"team_name":  "ilike.%arsenal%",
		"event_type": "Shot",
		"x":          "gte.80",
	})
	want := []gateway.Filter{
		{Column: "event_type", Op: "eq", Value: "Shot"},
		{Column: "team_name", Op: "ilike", Value: "%arsenal%"},
		{Column: "x", Op: "gte", Value: "80"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseFilters = %+v, want %+v", got, want)
	}
}

func TestParseFilters_DotInValueWithoutOp(t *testing.T) {
	// "2023.2024" starts with something that is not a known op, so the
	// whole value stays intact under eq.
	got := parseFilters(map[string]string{"season_name": "2023.2024"})
	if len(got) != 1 || got[0].Op != "eq" || got[0].Value != "2023.2024" {
		t.Errorf("parseFilters = %+v", got)
	}
}

func TestBuildRenderRequest_RadarDerivation(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, &scriptedCompleter{}, &fakeBackend{})
	rows := []map[string]any{
		{"player_name": "Saka", "goals": 14.0, "assists": 9.0},
		{"player_name": "Salah", "goals": 18.0, "assists": 10.0},
	}
	req, err := o.buildRenderRequest(&renderArgs{ChartType: render.ChartRadar}, rows)
	if err != nil {
		t.Fatalf("buildRenderRequest: %v", err)
	}
	if !reflect.DeepEqual(req.Metrics, []string{"assists", "goals"}) {
		t.Errorf("Metrics = %v", req.Metrics)
	}
	if !reflect.DeepEqual(req.Values, []float64{9, 14}) {
		t.Errorf("Values = %v", req.Values)
	}
	if !reflect.DeepEqual(req.ValuesCompare, []float64{10, 18}) {
		t.Errorf("ValuesCompare = %v", req.ValuesCompare)
	}
}

func TestBuildRenderRequest_BumpyDerivation(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, &scriptedCompleter{}, &fakeBackend{})
	rows := []map[string]any{
		{"player_name": "Haaland", "season_name": "2022/2023", "rank": 1.0},
		{"player_name": "Haaland", "season_name": "2023/2024", "rank": 2.0},
		{"player_name": "Kane", "season_name": "2022/2023", "rank": 2.0},
		{"player_name": "Kane", "season_name": "2023/2024", "rank": 1.0},
	}
	req, err := o.buildRenderRequest(&renderArgs{ChartType: render.ChartBumpy}, rows)
	if err != nil {
		t.Fatalf("buildRenderRequest: %v", err)
	}
	if !reflect.DeepEqual(req.Metrics, []string{"2022/2023", "2023/2024"}) {
		t.Errorf("Metrics = %v", req.Metrics)
	}
	if len(req.Series) != 2 {
		t.Fatalf("Series = %d", len(req.Series))
	}
	if req.Series[0].Label != "Haaland" || !reflect.DeepEqual(req.Series[0].Values, []float64{1, 2}) {
		t.Errorf("Haaland series = %+v", req.Series[0])
	}
	if req.Series[1].Label != "Kane" || !reflect.DeepEqual(req.Series[1].Values, []float64{2, 1}) {
		t.Errorf("Kane series = %+v", req.Series[1])
	}
}

func TestBuildRenderRequest_PassMapEndFields(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, &scriptedCompleter{}, &fakeBackend{})
	rows := []map[string]any{{"x": 10.0, "y": 20.0, "end_x": 30.0, "end_y": 40.0}}
	req, err := o.buildRenderRequest(&renderArgs{ChartType: render.ChartPassMap}, rows)
	if err != nil {
		t.Fatalf("buildRenderRequest: %v", err)
	}
	if req.EndXField != "end_x" || req.EndYField != "end_y" {
		t.Errorf("end fields = %q %q", req.EndXField, req.EndYField)
	}
}

func TestSanitizeAnalysis(t *testing.T) {
	in := "The data shows a clear trend. ![chart](data:image/png;base64,AAAA) Most shots were central. " +
		"```sql\nSELECT 1\n```" +
		"Al Ahly dominated. Pyramids sat deep. A fifth sentence that should be dropped."
	got := sanitizeAnalysis(in, false)
	if strings.Contains(got, "![") || strings.Contains(got, "```") || strings.Contains(got, "data:image") {
		t.Errorf("markup survived: %q", got)
	}
	if strings.Contains(got, "fifth sentence") {
		t.Errorf("sentence cap not applied: %q", got)
	}
	if !strings.Contains(got, "clear trend") {
		t.Errorf("content lost: %q", got)
	}
}

func TestSanitizeAnalysis_DeepKeepsLength(t *testing.T) {
	in := "One. Two. Three. Four. Five. Six."
	if got := sanitizeAnalysis(in, true); got != in {
		t.Errorf("deep analysis truncated: %q", got)
	}
}

func TestCapSentences(t *testing.T) {
	if got := capSentences("Only one sentence here", 4); got != "Only one sentence here" {
		t.Errorf("got %q", got)
	}
	if got := capSentences("A. B. C. D. E.", 2); got != "A. B." {
		t.Errorf("got %q", got)
	}
}

func TestChartNounAndCaption(t *testing.T) {
	if chartNoun("mystery") != "chart" {
		t.Errorf("unknown chart types fall back to a generic noun")
	}
	if got := chartNoun(render.ChartPassNetwork); got != "pass network" {
		t.Errorf("noun = %q", got)
	}
}
