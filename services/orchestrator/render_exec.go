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
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/pitchside/services/llm"
	"github.com/AleutianAI/pitchside/services/memory"
	"github.com/AleutianAI/pitchside/services/nlu"
	"github.com/AleutianAI/pitchside/services/planner"
	"github.com/AleutianAI/pitchside/services/render"
	"github.com/AleutianAI/pitchside/services/sqlgen"
)

// ScopeRecorder is the slice of the memory store the orchestrator uses to
// persist follow-up scopes after a successful render.
type ScopeRecorder interface {
	Mutate(ctx context.Context, fn func(*memory.ConversationMemory) error) error
}

// renderArgs mirrors the render_mplsoccer tool schema.
type renderArgs struct {
	ChartType        string            `json:"chart_type"`
	Title            string            `json:"title"`
	Subtitle         string            `json:"subtitle"`
	Query            string            `json:"query"`
	Template         string            `json:"template"`
	TemplateVars     map[string]string `json:"template_vars"`
	XField           string            `json:"x_field"`
	YField           string            `json:"y_field"`
	EndXField        string            `json:"end_x_field"`
	EndYField        string            `json:"end_y_field"`
	Orientation      string            `json:"orientation"`
	Half             bool              `json:"half"`
	Metrics          []string          `json:"metrics"`
	Values           []float64         `json:"values"`
	ValuesCompare    []float64         `json:"values_compare"`
	Series           []render.Series   `json:"series"`
	SeriesSplitField string            `json:"series_split_field"`
	MarkerRules      []render.Rule     `json:"marker_rules"`
	HighlightRules   []render.Rule     `json:"highlight_rules"`
}

// ============================================================================
// Render decision shortcut
// ============================================================================

// executeRenderDecision renders a chart from the planner's matched template
// without any LLM involvement.
func (o *Orchestrator) executeRenderDecision(ctx context.Context, d *planner.Decision) (*Reply, error) {
	query, err := sqlgen.FillTemplate(d.Template.QueryTemplate, d.Params)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: filling template %s: %w", d.Template.Name, err)
	}
	query = sqlgen.Repair(query, d.Prompt, d.Params)

	rows, err := o.runSQLWithRepair(ctx, query)
	if err != nil {
		renders.WithLabelValues(d.ChartType, "error").Inc()
		return nil, fmt.Errorf("orchestrator: template %s: %w", d.Template.Name, err)
	}
	if len(rows) == 0 {
		renders.WithLabelValues(d.ChartType, "empty").Inc()
		return &Reply{Text: "I ran the query but it returned no data for that selection. Maybe a different season or spelling?"}, nil
	}

	args := &renderArgs{
		ChartType:        d.ChartType,
		Title:            renderTitle(d.ChartType, d.Params),
		SeriesSplitField: d.SeriesSplitField,
	}
	req, err := o.buildRenderRequest(args, rows)
	if err != nil {
		renders.WithLabelValues(d.ChartType, "error").Inc()
		return nil, err
	}
	result, err := o.renderer.Render(ctx, req)
	if err != nil {
		renders.WithLabelValues(d.ChartType, "error").Inc()
		return nil, fmt.Errorf("orchestrator: rendering %s: %w", d.ChartType, err)
	}
	renders.WithLabelValues(d.ChartType, "ok").Inc()

	o.recordRenderScope(ctx, d.ChartType, d.Params)

	text := renderCaption(d.ChartType, d.Params)
	if analysis := o.analyze(ctx, d.Prompt, rows); analysis != "" {
		text += "\n\n" + analysis
	}
	return &Reply{Text: text, ImageBase64: result.ImageBase64, Mime: result.Mime}, nil
}

// ============================================================================
// Render tool call (inside the tool loop)
// ============================================================================

// executeRenderCall handles a render_mplsoccer call issued by the model. When
// the call names neither a query nor a template, the arguments are back-filled
// from the deterministic parse of the prompt.
func (o *Orchestrator) executeRenderCall(ctx context.Context, d *planner.Decision, call *llm.ToolCallResponse) (*Reply, error) {
	var args renderArgs
	if err := decodeArgs(call, &args); err != nil {
		return nil, err
	}
	if !render.KnownChartType(args.ChartType) {
		return nil, fmt.Errorf("orchestrator: unknown chart type %q", args.ChartType)
	}

	params := d.Params
	literal := args.Query != ""

	query := args.Query
	if query == "" && args.Template != "" {
		tpl, err := o.findTemplate(ctx, args.Template)
		if err != nil {
			return nil, err
		}
		if len(args.TemplateVars) > 0 {
			params = paramsFromVars(args.TemplateVars)
		}
		query, err = sqlgen.FillTemplate(tpl.QueryTemplate, params)
		if err != nil {
			return nil, err
		}
	}
	if query == "" {
		// Neither query nor template: fall back to the same deterministic
		// matching the shortcut path uses.
		tpl, ok := sqlgen.MatchBuiltin(nlu.Normalize(d.Prompt), params)
		if !ok {
			return nil, fmt.Errorf("orchestrator: render_mplsoccer needs a query or a template, and no built-in matches the request")
		}
		var err error
		query, err = sqlgen.FillTemplate(tpl.QueryTemplate, params)
		if err != nil {
			return nil, err
		}
		if params.IsComparison() && args.SeriesSplitField == "" {
			args.SeriesSplitField = "team_name"
		}
		literal = false
	}
	query = sqlgen.Repair(query, d.Prompt, params)

	var rows []map[string]any
	needsData := args.Metrics == nil && args.Series == nil || isPitchChart(args.ChartType)
	if needsData {
		var err error
		rows, err = o.runSQLWithRepair(ctx, query)
		if err != nil {
			renders.WithLabelValues(args.ChartType, "error").Inc()
			return nil, err
		}
		if len(rows) == 0 {
			renders.WithLabelValues(args.ChartType, "empty").Inc()
			return &Reply{Text: "That chart query returned no data. Try a different season or check the team name."}, nil
		}
	}

	req, err := o.buildRenderRequest(&args, rows)
	if err != nil {
		renders.WithLabelValues(args.ChartType, "error").Inc()
		return nil, err
	}
	result, err := o.renderer.Render(ctx, req)
	if err != nil {
		renders.WithLabelValues(args.ChartType, "error").Inc()
		return nil, fmt.Errorf("orchestrator: rendering %s: %w", args.ChartType, err)
	}
	renders.WithLabelValues(args.ChartType, "ok").Inc()

	// A literal query that rendered successfully is worth remembering.
	if literal && o.templates != nil {
		if _, err := o.templates.Learn(ctx, args.ChartType, args.Query, d.Prompt, params); err != nil {
			o.logger.Warn("orchestrator: template learning failed", "error", err)
		}
	}
	o.recordRenderScope(ctx, args.ChartType, params)

	text := renderCaption(args.ChartType, params)
	if analysis := o.analyze(ctx, d.Prompt, rows); analysis != "" {
		text += "\n\n" + analysis
	}
	return &Reply{Text: text, ImageBase64: result.ImageBase64, Mime: result.Mime}, nil
}

// findTemplate resolves a template name against the built-ins and the
// learned store.
func (o *Orchestrator) findTemplate(ctx context.Context, name string) (*sqlgen.QueryTemplate, error) {
	for _, tpl := range sqlgen.Builtins() {
		if tpl.Name == name {
			t := tpl
			return &t, nil
		}
	}
	if o.templates != nil {
		learned, err := o.templates.All(ctx)
		if err != nil {
			return nil, err
		}
		for _, tpl := range learned {
			if tpl.Name == name {
				return tpl, nil
			}
		}
	}
	return nil, fmt.Errorf("orchestrator: unknown template %q", name)
}

func paramsFromVars(vars map[string]string) nlu.Params {
	var p nlu.Params
	p.Team = vars["team"]
	p.TeamA = vars["team_a"]
	p.TeamB = vars["team_b"]
	p.Season = vars["season"]
	if n, err := strconv.Atoi(vars["last_n"]); err == nil {
		p.LastN = n
	}
	return p
}

// ============================================================================
// SQL execution with repair
// ============================================================================

// runSQLWithRepair runs a query through the gateway RPC, attempting one
// error-driven rewrite before giving up.
func (o *Orchestrator) runSQLWithRepair(ctx context.Context, query string) ([]map[string]any, error) {
	rows, err := o.gateway.RunSQL(ctx, query)
	if err == nil {
		return rows, nil
	}
	rewritten, ok := sqlgen.RewriteOnError(query, err.Error())
	if !ok {
		return nil, fmt.Errorf("orchestrator: sql execution: %w", err)
	}
	sqlRepairs.WithLabelValues("error_rewrite").Inc()
	o.logger.Info("orchestrator: retrying rewritten query", "error", err)
	rows, err = o.gateway.RunSQL(ctx, rewritten)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: sql execution after rewrite: %w", err)
	}
	return rows, nil
}

// ============================================================================
// Request assembly
// ============================================================================

func isPitchChart(chartType string) bool {
	switch chartType {
	case render.ChartShotMap, render.ChartPassMap, render.ChartHeatmap, render.ChartPitchPlot, render.ChartPassNetwork:
		return true
	}
	return false
}

// buildRenderRequest maps query rows onto the renderer's request shape,
// defaulting the coordinate fields and deriving stat-chart values when the
// model did not supply them.
func (o *Orchestrator) buildRenderRequest(args *renderArgs, rows []map[string]any) (*render.Request, error) {
	req := &render.Request{
		ChartType:      args.ChartType,
		Title:          args.Title,
		Subtitle:       args.Subtitle,
		XField:         args.XField,
		YField:         args.YField,
		EndXField:      args.EndXField,
		EndYField:      args.EndYField,
		Orientation:    args.Orientation,
		Half:           args.Half,
		Metrics:        args.Metrics,
		Values:         args.Values,
		ValuesCompare:  args.ValuesCompare,
		Series:         args.Series,
		MarkerRules:    args.MarkerRules,
		HighlightRules: args.HighlightRules,
	}

	if isPitchChart(args.ChartType) {
		if req.XField == "" {
			req.XField = "x"
		}
		if req.YField == "" {
			req.YField = "y"
		}
		if args.ChartType == render.ChartPassMap || args.ChartType == render.ChartPassNetwork {
			if req.EndXField == "" {
				req.EndXField = "end_x"
			}
			if req.EndYField == "" {
				req.EndYField = "end_y"
			}
		}
		if args.SeriesSplitField != "" {
			req.Series = splitSeries(rows, args.SeriesSplitField)
		} else {
			req.Data = rows
		}
	} else if len(req.Metrics) == 0 {
		switch args.ChartType {
		case render.ChartRadar, render.ChartPizza:
			deriveMetricValues(req, rows)
		case render.ChartBumpy:
			deriveBumpySeries(req, rows)
		}
	}

	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	return req, nil
}

// splitSeries groups rows by the split column, one series per distinct value,
// ordered by first appearance.
func splitSeries(rows []map[string]any, column string) []render.Series {
	index := make(map[string]int)
	var out []render.Series
	for _, row := range rows {
		label := fmt.Sprintf("%v", row[column])
		i, ok := index[label]
		if !ok {
			i = len(out)
			index[label] = i
			out = append(out, render.Series{Label: label})
		}
		out[i].Data = append(out[i].Data, row)
	}
	return out
}

// deriveMetricValues builds radar/pizza metrics from the numeric columns of
// the first row; a second row becomes the comparison values.
func deriveMetricValues(req *render.Request, rows []map[string]any) {
	if len(rows) == 0 {
		return
	}
	var metrics []string
	for col, v := range rows[0] {
		if _, ok := toFloat(v); ok {
			metrics = append(metrics, col)
		}
	}
	sort.Strings(metrics)

	values := make([]float64, len(metrics))
	for i, m := range metrics {
		values[i], _ = toFloat(rows[0][m])
	}
	req.Metrics = metrics
	req.Values = values

	if len(rows) > 1 {
		compare := make([]float64, len(metrics))
		for i, m := range metrics {
			compare[i], _ = toFloat(rows[1][m])
		}
		req.ValuesCompare = compare
	}
}

// deriveBumpySeries turns (entity, period, rank) rows into one series per
// entity with rank values aligned to the sorted distinct periods.
func deriveBumpySeries(req *render.Request, rows []map[string]any) {
	if len(rows) == 0 {
		return
	}
	entityCol, periodCol, rankCol := bumpyColumns(rows[0])
	if entityCol == "" {
		return
	}

	periodSet := make(map[string]bool)
	for _, row := range rows {
		periodSet[fmt.Sprintf("%v", row[periodCol])] = true
	}
	periods := make([]string, 0, len(periodSet))
	for p := range periodSet {
		periods = append(periods, p)
	}
	sort.Strings(periods)
	periodIndex := make(map[string]int, len(periods))
	for i, p := range periods {
		periodIndex[p] = i
	}

	index := make(map[string]int)
	var series []render.Series
	for _, row := range rows {
		label := fmt.Sprintf("%v", row[entityCol])
		i, ok := index[label]
		if !ok {
			i = len(series)
			index[label] = i
			series = append(series, render.Series{Label: label, Values: make([]float64, len(periods))})
		}
		if rank, ok := toFloat(row[rankCol]); ok {
			series[i].Values[periodIndex[fmt.Sprintf("%v", row[periodCol])]] = rank
		}
	}
	req.Metrics = periods
	req.Series = series
}

// bumpyColumns guesses the shape of a bumpy-chart result set. The period is
// the season column, the rank is the numeric column, the entity is whatever
// text column remains.
func bumpyColumns(row map[string]any) (entity, period, rank string) {
	for col, v := range row {
		lower := strings.ToLower(col)
		switch {
		case strings.Contains(lower, "season") || strings.Contains(lower, "period"):
			period = col
		case func() bool { _, ok := toFloat(v); return ok }():
			if rank == "" {
				rank = col
			}
		default:
			if entity == "" {
				entity = col
			}
		}
	}
	if period == "" || rank == "" {
		return "", "", ""
	}
	return entity, period, rank
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// ============================================================================
// Captions and scopes
// ============================================================================

var chartNouns = map[string]string{
	render.ChartShotMap:     "shot map",
	render.ChartPassMap:     "pass map",
	render.ChartHeatmap:     "heatmap",
	render.ChartPitchPlot:   "pitch plot",
	render.ChartPassNetwork: "pass network",
	render.ChartRadar:       "radar chart",
	render.ChartPizza:       "pizza chart",
	render.ChartBumpy:       "bumpy chart",
}

func chartNoun(chartType string) string {
	if noun, ok := chartNouns[chartType]; ok {
		return noun
	}
	return "chart"
}

func renderTitle(chartType string, params nlu.Params) string {
	noun := chartNoun(chartType)
	switch {
	case params.IsComparison():
		return fmt.Sprintf("%s vs %s: %s", params.TeamA, params.TeamB, noun)
	case params.Team != "" && params.Season != "":
		return fmt.Sprintf("%s: %s (%s)", params.Team, noun, params.Season)
	case params.Team != "":
		return fmt.Sprintf("%s: %s", params.Team, noun)
	default:
		return strings.ToUpper(noun[:1]) + noun[1:]
	}
}

func renderCaption(chartType string, params nlu.Params) string {
	noun := chartNoun(chartType)
	switch {
	case params.IsComparison():
		return fmt.Sprintf("Here's the %s comparing %s and %s.", noun, params.TeamA, params.TeamB)
	case params.Team != "":
		return fmt.Sprintf("Here's the %s for %s.", noun, params.Team)
	default:
		return fmt.Sprintf("Here's the %s you asked for.", noun)
	}
}

// recordRenderScope persists follow-up context after a successful render.
// Best effort; a failed write never fails the reply.
func (o *Orchestrator) recordRenderScope(ctx context.Context, chartType string, params nlu.Params) {
	if o.memory == nil {
		return
	}
	err := o.memory.Mutate(ctx, func(m *memory.ConversationMemory) error {
		if params.IsComparison() {
			m.Scopes.LastTeams = &memory.TeamPair{TeamA: params.TeamA, TeamB: params.TeamB}
		} else if params.Team != "" {
			m.Scopes.LastEntity = params.Team
		}
		if params.Season != "" {
			m.Scopes.LastSeason = params.Season
		}
		if chartType == render.ChartPassMap && params.Team != "" {
			m.Scopes.LastPassMap = &memory.PassMapScope{Team: params.Team, SavedAt: time.Now().UTC()}
		}
		return nil
	})
	if err != nil {
		o.logger.Warn("orchestrator: recording render scope failed", "error", err)
	}
}
