// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sqlgen

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/AleutianAI/pitchside/services/nlu"
)

// safeLimit replaces a rejected LIMIT clause and caps timed-out queries.
const safeLimit = 500

var (
	limitClausePattern  = regexp.MustCompile(`(?i)\s+LIMIT\s+\S+\s*$`)
	windowFuncPattern   = regexp.MustCompile(`(?i)\b(?:row_number|rank|dense_rank)\s*\(\s*\)\s+OVER\b`)
	seasonNamePattern   = regexp.MustCompile(`(?i)\bseason_name\b`)
	matchEventsPattern  = regexp.MustCompile(`(?i)\bviz_match_events\b`)
	lastNEventsPattern  = regexp.MustCompile(`(?i)\blast\s+(\d{1,3})\s+(?:shots|passes)\b`)
	selectListPattern   = regexp.MustCompile(`(?i)^(\s*SELECT\s+)(.+?)(\s+FROM\s)`)
	endCoordColPattern  = regexp.MustCompile(`(?i)\bend_[xy]\b`)
	concededTextPattern = regexp.MustCompile(`(?i)\b(?:conceded|against)\b`)
)

// ============================================================================
// Pre-execution repairs
// ============================================================================

// Repair applies the pre-execution heuristics to a query about to run.
//
// Description:
//
//	Four independent fixes, each a no-op when its precondition does not
//	hold: rewrite the raw events table to its joined view when
//	season_name is referenced; ensure the series grouping column is in
//	the select list for comparison prompts; wrap a "last N shots/passes"
//	prompt in a per-team recency window when the query has no LIMIT or
//	window function of its own; and add an opponent-exclusion clause to
//	conceded queries that forgot one.
func Repair(query, prompt string, params nlu.Params) string {
	q := RewriteEventsView(query)
	if params.IsComparison() {
		q = EnsureSeriesColumn(q, "team_name")
	}
	if m := lastNEventsPattern.FindStringSubmatch(prompt); m != nil {
		q = InjectLastNWindow(q, m[1])
	}
	if concededTextPattern.MatchString(prompt) && params.Team != "" {
		q = ExcludeOpponent(q, params.Team)
	}
	return q
}

// RewriteEventsView swaps viz_match_events for its joined view when the
// query references season_name, which only exists on the view.
func RewriteEventsView(query string) string {
	if !seasonNamePattern.MatchString(query) {
		return query
	}
	if strings.Contains(strings.ToLower(query), "viz_match_events_joined") {
		return query
	}
	return matchEventsPattern.ReplaceAllLiteralString(query, "viz_match_events_joined")
}

// EnsureSeriesColumn adds the grouping column to the select list when it
// is missing, so multi-entity charts can color per series. SELECT * and
// queries already carrying the column are untouched.
func EnsureSeriesColumn(query, column string) string {
	m := selectListPattern.FindStringSubmatch(query)
	if m == nil {
		return query
	}
	list := m[2]
	if strings.Contains(list, "*") {
		return query
	}
	colPattern := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(column) + `\b`)
	if colPattern.MatchString(list) {
		return query
	}
	return selectListPattern.ReplaceAllString(query, "${1}"+column+", ${2}${3}")
}

// InjectLastNWindow caps a query at N rows per team ordered by recency.
//
// Description:
//
//	Used when the prompt asks for the "last N shots" or "last N passes"
//	and the query neither limits itself nor already uses a window
//	function. The original query becomes a subselect ranked by
//	row_number() over team_name partitions in descending date_time
//	order, filtered to rn <= N.
func InjectLastNWindow(query, n string) string {
	if limitClausePattern.MatchString(query) || windowFuncPattern.MatchString(query) {
		return query
	}
	inner := EnsureSeriesColumn(query, "team_name")
	inner = EnsureSeriesColumn(inner, "date_time")
	return fmt.Sprintf(
		"SELECT * FROM (SELECT ranked_events.*, row_number() OVER (PARTITION BY team_name ORDER BY date_time DESC) AS rn FROM (%s) ranked_events) windowed WHERE windowed.rn <= %s",
		strings.TrimRight(strings.TrimSpace(inner), ";"), n,
	)
}

// ExcludeOpponent appends a clause that drops the subject team's own rows
// from a conceded-shots/goals query. No-op when the query already
// excludes the team.
func ExcludeOpponent(query, team string) string {
	escaped := EscapeLiteral(team)
	exclusion := fmt.Sprintf("team_name <> '%s'", escaped)
	if strings.Contains(query, exclusion) {
		return query
	}
	trimmed := strings.TrimRight(strings.TrimSpace(query), ";")
	// Keep a trailing LIMIT after the new predicate.
	limit := ""
	if m := limitClausePattern.FindString(trimmed); m != "" {
		limit = m
		trimmed = limitClausePattern.ReplaceAllString(trimmed, "")
	}
	joiner := " WHERE "
	if regexp.MustCompile(`(?i)\bWHERE\b`).MatchString(trimmed) {
		joiner = " AND "
	}
	return trimmed + joiner + exclusion + limit
}

// ============================================================================
// Rewrite-on-error
// ============================================================================

// RewriteOnError proposes a one-shot rewrite of a query that the gateway
// rejected, matched against the error text.
//
// Outputs:
//   - string: The rewritten query. Meaningless when ok is false.
//   - bool: Whether a rewrite applies. False means surface the raw error.
func RewriteOnError(query, errText string) (string, bool) {
	lower := strings.ToLower(errText)

	switch {
	case strings.Contains(lower, "limit"):
		// A malformed or oversized trailing LIMIT: strip it and use the
		// fixed safe limit instead.
		stripped := limitClausePattern.ReplaceAllString(strings.TrimRight(strings.TrimSpace(query), ";"), "")
		return fmt.Sprintf("%s LIMIT %d", stripped, safeLimit), true

	case strings.Contains(lower, "timeout") || strings.Contains(lower, "canceling statement"):
		if limitClausePattern.MatchString(query) {
			return "", false
		}
		return fmt.Sprintf("%s LIMIT %d", strings.TrimRight(strings.TrimSpace(query), ";"), safeLimit), true

	case endCoordColPattern.MatchString(lower) && strings.Contains(lower, "does not exist"):
		rewritten, changed := dropEndCoords(query)
		return rewritten, changed

	default:
		return "", false
	}
}

// dropEndCoords removes end_x/end_y entries from the select list, for
// tables that only carry start coordinates.
func dropEndCoords(query string) (string, bool) {
	m := selectListPattern.FindStringSubmatch(query)
	if m == nil {
		return query, false
	}
	cols := strings.Split(m[2], ",")
	var kept []string
	for _, c := range cols {
		if endCoordColPattern.MatchString(c) {
			continue
		}
		kept = append(kept, strings.TrimSpace(c))
	}
	if len(kept) == len(cols) || len(kept) == 0 {
		return query, false
	}
	return selectListPattern.ReplaceAllString(query, "${1}"+strings.Join(kept, ", ")+"${3}"), true
}
