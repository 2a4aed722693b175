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
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/AleutianAI/pitchside/services/gateway"
	"github.com/AleutianAI/pitchside/services/llm"
)

// Tool names in the schema handed to the completion API.
const (
	toolGetSchema       = "get_schema"
	toolGetHints        = "get_semantic_hints"
	toolQueryTable      = "query_public_table"
	toolCountTable      = "count_public_table"
	toolAggregateTable  = "aggregate_public_table"
	toolRunSQL          = "run_sql"
	toolRunSQLRPC       = "run_sql_rpc"
	toolRenderMplsoccer = "render_mplsoccer"
)

// toolDefs is the fixed tool schema. Built once; the slice is shared.
var toolDefs = buildToolDefs()

func buildToolDefs() []llm.ToolDef {
	filtersParam := llm.ToolParamDef{
		Type:        "object",
		Description: "Column filters as {column: \"op.value\"}; ops: eq, ilike, like, gt, gte, lt, lte, in.",
	}

	return []llm.ToolDef{
		llm.NewToolDef(toolGetSchema,
			"Describe the available database tables and their columns. Pass a table name to narrow the output.",
			map[string]llm.ToolParamDef{
				"table": {Type: "string", Description: "Optional table name."},
				"limit": {Type: "integer", Description: "Max tables to describe."},
			}, nil),
		llm.NewToolDef(toolGetHints,
			"Get the football-domain glossary: what each table holds, how metrics are computed, and phrasing conventions.",
			nil, nil),
		llm.NewToolDef(toolQueryTable,
			"Read rows from a public table through the database gateway.",
			map[string]llm.ToolParamDef{
				"table":   {Type: "string", Description: "Table name."},
				"select":  {Type: "string", Description: "Comma-separated column list; defaults to *."},
				"filters": filtersParam,
				"limit":   {Type: "integer", Description: "Max rows; defaults to 100."},
				"order":   {Type: "string", Description: "Order clause, e.g. date_time.desc."},
			}, []string{"table"}),
		llm.NewToolDef(toolCountTable,
			"Count rows in a public table.",
			map[string]llm.ToolParamDef{
				"table":   {Type: "string", Description: "Table name."},
				"filters": filtersParam,
			}, []string{"table"}),
		llm.NewToolDef(toolAggregateTable,
			"Aggregate a numeric column of a public table.",
			map[string]llm.ToolParamDef{
				"table":     {Type: "string", Description: "Table name."},
				"column":    {Type: "string", Description: "Numeric column to aggregate."},
				"operation": {Type: "string", Description: "Aggregation.", Enum: []any{"sum", "avg", "min", "max"}},
				"filters":   filtersParam,
				"limit":     {Type: "integer", Description: "Max rows fetched for the aggregation."},
			}, []string{"table", "column", "operation"}),
		llm.NewToolDef(toolRunSQL,
			"Run a simple read-only query. Grammar: SELECT cols|COUNT(*)|SUM(col) FROM table [WHERE ...] [GROUP BY col] [LIMIT n]. For anything more complex use run_sql_rpc.",
			map[string]llm.ToolParamDef{
				"query": {Type: "string", Description: "The SQL query."},
			}, []string{"query"}),
		llm.NewToolDef(toolRunSQLRPC,
			"Run arbitrary read-only SQL through the gateway RPC. Single statement only; semicolons are rejected.",
			map[string]llm.ToolParamDef{
				"query": {Type: "string", Description: "The SQL query."},
			}, []string{"query"}),
		llm.NewToolDef(toolRenderMplsoccer,
			"Render a football chart from query results. Provide either a SQL query or a known template name with template_vars.",
			map[string]llm.ToolParamDef{
				"chart_type":         {Type: "string", Description: "Chart type.", Enum: []any{"shot_map", "pass_map", "heatmap", "pitch_plot", "pass_network", "radar", "pizza", "bumpy"}},
				"title":              {Type: "string"},
				"subtitle":           {Type: "string"},
				"query":              {Type: "string", Description: "Literal SQL producing the chart data."},
				"template":           {Type: "string", Description: "Known template name instead of a query."},
				"template_vars":      {Type: "object", Description: "Values for the template placeholders."},
				"x_field":            {Type: "string"},
				"y_field":            {Type: "string"},
				"end_x_field":        {Type: "string"},
				"end_y_field":        {Type: "string"},
				"orientation":        {Type: "string", Enum: []any{"horizontal", "vertical"}},
				"half":               {Type: "boolean", Description: "Draw half a pitch."},
				"metrics":            {Type: "array", Items: &llm.ToolParamDef{Type: "string"}},
				"values":             {Type: "array", Items: &llm.ToolParamDef{Type: "number"}},
				"values_compare":     {Type: "array", Items: &llm.ToolParamDef{Type: "number"}},
				"series":             {Type: "array", Items: &llm.ToolParamDef{Type: "object"}},
				"series_split_field": {Type: "string", Description: "Column to split rows into colored series."},
				"marker_rules":       {Type: "array", Items: &llm.ToolParamDef{Type: "object"}},
				"highlight_rules":    {Type: "array", Items: &llm.ToolParamDef{Type: "object"}},
			}, []string{"chart_type"}),
	}
}

// ============================================================================
// Argument decoding
// ============================================================================

func decodeArgs(call *llm.ToolCallResponse, out any) error {
	if err := json.Unmarshal([]byte(call.ArgumentsString()), out); err != nil {
		return fmt.Errorf("orchestrator: %s: malformed arguments: %w", call.Name, err)
	}
	return nil
}

// parseFilters turns the {column: "op.value"} object into gateway filters.
// A value without an op prefix defaults to eq.
func parseFilters(raw map[string]string) []gateway.Filter {
	cols := make([]string, 0, len(raw))
	for c := range raw {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	var out []gateway.Filter
	for _, col := range cols {
		v := raw[col]
		op := "eq"
		if idx := strings.Index(v, "."); idx > 0 {
			if _, known := gateway.FilterOps[v[:idx]]; known {
				op = v[:idx]
				v = v[idx+1:]
			}
		}
		out = append(out, gateway.Filter{Column: col, Op: op, Value: v})
	}
	return out
}

// ============================================================================
// Simple tool execution
// ============================================================================

// executeDataTool runs every tool except render_mplsoccer and returns the
// JSON payload that becomes the tool-result message.
func (o *Orchestrator) executeDataTool(ctx context.Context, call *llm.ToolCallResponse) (string, error) {
	switch call.Name {
	case toolGetSchema:
		var args struct {
			Table string `json:"table"`
			Limit int    `json:"limit"`
		}
		if err := decodeArgs(call, &args); err != nil {
			return "", err
		}
		snap, err := o.schema.Snapshot(ctx)
		if err != nil {
			return "", err
		}
		tables := snap.Describe(args.Table)
		if args.Limit > 0 && len(tables) > args.Limit {
			tables = tables[:args.Limit]
		}
		return marshalResult(tables)

	case toolGetHints:
		return marshalResult(o.hints.Current())

	case toolQueryTable:
		var args struct {
			Table   string            `json:"table"`
			Select  string            `json:"select"`
			Filters map[string]string `json:"filters"`
			Limit   int               `json:"limit"`
			Order   string            `json:"order"`
		}
		if err := decodeArgs(call, &args); err != nil {
			return "", err
		}
		if err := o.validateTable(ctx, args.Table); err != nil {
			return "", err
		}
		if args.Limit <= 0 {
			args.Limit = 100
		}
		rows, err := o.gateway.Query(ctx, args.Table, gateway.QueryOptions{
			Select:  args.Select,
			Filters: parseFilters(args.Filters),
			Order:   args.Order,
			Limit:   args.Limit,
		})
		if err != nil {
			return "", err
		}
		return marshalResult(rows)

	case toolCountTable:
		var args struct {
			Table   string            `json:"table"`
			Filters map[string]string `json:"filters"`
		}
		if err := decodeArgs(call, &args); err != nil {
			return "", err
		}
		if err := o.validateTable(ctx, args.Table); err != nil {
			return "", err
		}
		n, err := o.gateway.Count(ctx, args.Table, parseFilters(args.Filters))
		if err != nil {
			return "", err
		}
		return marshalResult(map[string]int{"count": n})

	case toolAggregateTable:
		var args struct {
			Table     string            `json:"table"`
			Column    string            `json:"column"`
			Operation string            `json:"operation"`
			Filters   map[string]string `json:"filters"`
			Limit     int               `json:"limit"`
		}
		if err := decodeArgs(call, &args); err != nil {
			return "", err
		}
		if err := o.validateTable(ctx, args.Table); err != nil {
			return "", err
		}
		v, err := o.gateway.Aggregate(ctx, args.Table, args.Column, args.Operation, parseFilters(args.Filters), args.Limit)
		if err != nil {
			return "", err
		}
		return marshalResult(map[string]float64{args.Operation: v})

	case toolRunSQL:
		var args struct {
			Query string `json:"query"`
		}
		if err := decodeArgs(call, &args); err != nil {
			return "", err
		}
		if err := o.validateRestrictedSQL(ctx, args.Query); err != nil {
			return "", err
		}
		rows, err := o.runSQLWithRepair(ctx, args.Query)
		if err != nil {
			return "", err
		}
		return marshalResult(rows)

	case toolRunSQLRPC:
		var args struct {
			Query string `json:"query"`
		}
		if err := decodeArgs(call, &args); err != nil {
			return "", err
		}
		rows, err := o.runSQLWithRepair(ctx, args.Query)
		if err != nil {
			return "", err
		}
		return marshalResult(rows)

	default:
		return "", fmt.Errorf("orchestrator: unknown tool %q", call.Name)
	}
}

func marshalResult(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("orchestrator: encoding tool result: %w", err)
	}
	return string(raw), nil
}

// ============================================================================
// SQL validation
// ============================================================================

// restrictedSQLPattern is the run_sql grammar:
// SELECT cols|COUNT(*)|SUM(col) FROM table [WHERE ...] [GROUP BY col] [LIMIT n]
var restrictedSQLPattern = regexp.MustCompile(
	`(?is)^\s*SELECT\s+(.+?)\s+FROM\s+([A-Za-z_]\w*)\s*` +
		`(?:WHERE\s+.+?)?\s*` +
		`(?:GROUP\s+BY\s+[A-Za-z_]\w*\s*)?` +
		`(?:LIMIT\s+\d+\s*)?$`)

var selectItemPattern = regexp.MustCompile(`(?i)^(?:[A-Za-z_]\w*|COUNT\(\*\)|SUM\([A-Za-z_]\w*\))$`)

// validateRestrictedSQL enforces the run_sql grammar and checks every
// referenced table and plain column against the schema snapshot.
func (o *Orchestrator) validateRestrictedSQL(ctx context.Context, query string) error {
	q := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(query), ";"))
	if strings.Contains(q, ";") {
		return fmt.Errorf("orchestrator: run_sql accepts a single statement")
	}
	m := restrictedSQLPattern.FindStringSubmatch(q)
	if m == nil {
		return fmt.Errorf("orchestrator: query does not match the run_sql grammar: SELECT cols|COUNT(*)|SUM(col) FROM table [WHERE ...] [GROUP BY col] [LIMIT n]")
	}
	selectList, table := m[1], m[2]

	snap, err := o.schema.Snapshot(ctx)
	if err != nil {
		return err
	}
	if !snap.HasTable(table) {
		return fmt.Errorf("orchestrator: unknown table %q", table)
	}
	if strings.TrimSpace(selectList) == "*" {
		return nil
	}
	for _, item := range strings.Split(selectList, ",") {
		item = strings.TrimSpace(item)
		if !selectItemPattern.MatchString(item) {
			return fmt.Errorf("orchestrator: select item %q is not allowed by the run_sql grammar", item)
		}
		col := item
		if open := strings.Index(item, "("); open >= 0 {
			col = strings.TrimSuffix(item[open+1:], ")")
		}
		if col == "*" {
			continue
		}
		if !snap.HasColumn(table, col) {
			return fmt.Errorf("orchestrator: unknown column %q on table %q", col, table)
		}
	}
	return nil
}

// validateTable checks the table against the schema snapshot.
func (o *Orchestrator) validateTable(ctx context.Context, table string) error {
	if table == "" {
		return fmt.Errorf("orchestrator: table argument is required")
	}
	snap, err := o.schema.Snapshot(ctx)
	if err != nil {
		return err
	}
	if !snap.HasTable(table) {
		return fmt.Errorf("orchestrator: unknown table %q", table)
	}
	return nil
}
