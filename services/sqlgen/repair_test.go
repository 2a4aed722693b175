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
	"strings"
	"testing"

	"github.com/AleutianAI/pitchside/services/nlu"
)

func TestRewriteEventsView(t *testing.T) {
	q := "SELECT x FROM viz_match_events WHERE season_name = '2023/2024'"
	got := RewriteEventsView(q)
	if !strings.Contains(got, "viz_match_events_joined") {
		t.Errorf("view not rewritten: %q", got)
	}

	// No season_name reference: leave the base table alone.
	q2 := "SELECT x FROM viz_match_events WHERE team_name = 'Arsenal'"
	if got := RewriteEventsView(q2); got != q2 {
		t.Errorf("query without season_name was rewritten: %q", got)
	}

	// Already on the view: no double rewrite.
	q3 := "SELECT x FROM viz_match_events_joined WHERE season_name = 'x'"
	if got := RewriteEventsView(q3); got != q3 {
		t.Errorf("joined view was rewritten again: %q", got)
	}
}

func TestEnsureSeriesColumn(t *testing.T) {
	q := "SELECT x, y FROM t WHERE team_name IN ('A', 'B')"
	got := EnsureSeriesColumn(q, "team_name")
	if !strings.HasPrefix(got, "SELECT team_name, x, y FROM") {
		t.Errorf("column not added: %q", got)
	}

	// Already present: untouched.
	q2 := "SELECT team_name, x FROM t"
	if got := EnsureSeriesColumn(q2, "team_name"); got != q2 {
		t.Errorf("column duplicated: %q", got)
	}

	// SELECT *: untouched.
	q3 := "SELECT * FROM t"
	if got := EnsureSeriesColumn(q3, "team_name"); got != q3 {
		t.Errorf("SELECT * was modified: %q", got)
	}
}

func TestInjectLastNWindow(t *testing.T) {
	q := "SELECT x, y FROM viz_match_events WHERE team_name = 'Arsenal' AND event_type = 'Shot'"
	got := InjectLastNWindow(q, "10")
	if !strings.Contains(got, "row_number() OVER (PARTITION BY team_name ORDER BY date_time DESC)") {
		t.Errorf("window not injected: %q", got)
	}
	if !strings.Contains(got, "windowed.rn <= 10") {
		t.Errorf("rank filter missing: %q", got)
	}

	// Existing LIMIT: untouched.
	q2 := "SELECT x FROM t LIMIT 50"
	if got := InjectLastNWindow(q2, "10"); got != q2 {
		t.Errorf("query with LIMIT was wrapped: %q", got)
	}

	// Existing window function: untouched.
	q3 := "SELECT x, row_number() OVER (ORDER BY d) AS rn FROM t"
	if got := InjectLastNWindow(q3, "10"); got != q3 {
		t.Errorf("query with window was wrapped: %q", got)
	}
}

func TestExcludeOpponent(t *testing.T) {
	q := "SELECT x FROM t WHERE event_type = 'Shot'"
	got := ExcludeOpponent(q, "Arsenal")
	if !strings.HasSuffix(got, "AND team_name <> 'Arsenal'") {
		t.Errorf("exclusion not appended: %q", got)
	}

	// No WHERE yet: starts one.
	got = ExcludeOpponent("SELECT x FROM t", "Arsenal")
	if !strings.HasSuffix(got, "WHERE team_name <> 'Arsenal'") {
		t.Errorf("WHERE not started: %q", got)
	}

	// Trailing LIMIT survives after the predicate.
	got = ExcludeOpponent("SELECT x FROM t WHERE a = 1 LIMIT 10", "Arsenal")
	if !strings.Contains(got, "team_name <> 'Arsenal'") || !strings.HasSuffix(got, "LIMIT 10") {
		t.Errorf("LIMIT misplaced: %q", got)
	}

	// Idempotent.
	once := ExcludeOpponent(q, "Arsenal")
	if twice := ExcludeOpponent(once, "Arsenal"); twice != once {
		t.Errorf("exclusion duplicated: %q", twice)
	}

	// Team names with quotes are escaped.
	got = ExcludeOpponent("SELECT x FROM t", "Newell's Old Boys")
	if !strings.Contains(got, "team_name <> 'Newell''s Old Boys'") {
		t.Errorf("quote not escaped: %q", got)
	}
}

func TestRepairCombined(t *testing.T) {
	q := "SELECT x, y FROM viz_match_events WHERE team_name IN ('Arsenal', 'Chelsea') AND season_name = '2023/2024'"
	got := Repair(q, "compare shot maps arsenal vs chelsea in 2023/2024", nlu.Params{TeamA: "Arsenal", TeamB: "Chelsea", Season: "2023/2024"})
	if !strings.Contains(got, "viz_match_events_joined") {
		t.Errorf("view not rewritten: %q", got)
	}
	if !strings.HasPrefix(got, "SELECT team_name,") {
		t.Errorf("series column missing: %q", got)
	}
}

func TestRewriteOnErrorLimit(t *testing.T) {
	q := "SELECT x FROM t LIMIT 99999999"
	got, ok := RewriteOnError(q, `syntax error near "LIMIT"`)
	if !ok {
		t.Fatal("expected a rewrite")
	}
	if !strings.HasSuffix(got, "LIMIT 500") || strings.Contains(got, "99999999") {
		t.Errorf("rewrite = %q", got)
	}
}

func TestRewriteOnErrorTimeout(t *testing.T) {
	got, ok := RewriteOnError("SELECT x FROM huge_table", "canceling statement due to statement timeout")
	if !ok || !strings.HasSuffix(got, "LIMIT 500") {
		t.Errorf("rewrite = %q, ok = %v", got, ok)
	}

	// Already limited: nothing left to try.
	if _, ok := RewriteOnError("SELECT x FROM t LIMIT 10", "timeout"); ok {
		t.Error("rewrite offered for an already-limited query")
	}
}

func TestRewriteOnErrorEndCoords(t *testing.T) {
	q := "SELECT x, y, end_x, end_y FROM viz_match_events WHERE team_name = 'A'"
	got, ok := RewriteOnError(q, `column "end_x" does not exist`)
	if !ok {
		t.Fatal("expected a rewrite")
	}
	if strings.Contains(got, "end_x") || strings.Contains(got, "end_y") {
		t.Errorf("end coords not dropped: %q", got)
	}
	if !strings.Contains(got, "SELECT x, y FROM") {
		t.Errorf("surviving columns wrong: %q", got)
	}
}

func TestRewriteOnErrorUnknown(t *testing.T) {
	if _, ok := RewriteOnError("SELECT x FROM t", "permission denied for table t"); ok {
		t.Error("rewrite offered for an unrepairable error")
	}
}
