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

	"github.com/AleutianAI/pitchside/services/nlu"
)

// The built-in library covers the chart shapes users ask for most. The
// per-player templates reuse the {{team}} placeholder as a generic entity
// slot; the param extraction upstream already resolved player names the
// same way.
//
// All queries read viz_match_events_joined (the events view with
// season_name attached) or viz_player_season_stats.
var builtins = []QueryTemplate{
	{
		Name:           "builtin_team_shot_map",
		ChartType:      "shot_map",
		QueryTemplate:  "SELECT x, y, player_name, outcome FROM viz_match_events_joined WHERE team_name = '{{team}}' AND event_type = 'Shot' AND season_name = '{{season}}'",
		ParamNames:     []string{"team", "season"},
		IntentKeywords: []string{"shot map"},
		SourcePrompt:   "shot map for {team} in {season}",
	},
	{
		Name:           "shots_by_team",
		ChartType:      "shot_map",
		QueryTemplate:  "SELECT x, y, team_name, player_name, outcome FROM viz_match_events_joined WHERE team_name IN ('{{team_a}}', '{{team_b}}') AND event_type = 'Shot'",
		ParamNames:     []string{"team_a", "team_b"},
		IntentKeywords: []string{"shot map"},
		SourcePrompt:   "shot map {teamA} vs {teamB}",
	},
	{
		Name:           "builtin_team_pass_map",
		ChartType:      "pass_map",
		QueryTemplate:  "SELECT x, y, end_x, end_y, player_name, outcome FROM viz_match_events_joined WHERE team_name = '{{team}}' AND event_type = 'Pass' AND season_name = '{{season}}'",
		ParamNames:     []string{"team", "season"},
		IntentKeywords: []string{"pass map"},
		SourcePrompt:   "pass map for {team} in {season}",
	},
	{
		Name:           "builtin_team_heatmap",
		ChartType:      "heatmap",
		QueryTemplate:  "SELECT x, y FROM viz_match_events_joined WHERE team_name = '{{team}}' AND season_name = '{{season}}'",
		ParamNames:     []string{"team", "season"},
		IntentKeywords: []string{"heatmap"},
		SourcePrompt:   "heatmap for {team} in {season}",
	},
	{
		Name:           "builtin_player_season_metrics",
		ChartType:      "radar",
		QueryTemplate:  "SELECT goals, assists, shots, key_passes, tackles, interceptions FROM viz_player_season_stats WHERE player_name = '{{team}}' AND season_name = '{{season}}'",
		ParamNames:     []string{"team", "season"},
		IntentKeywords: []string{"radar"},
		SourcePrompt:   "radar for {player} in {season}",
	},
	{
		Name:           "builtin_two_player_metrics",
		ChartType:      "radar",
		QueryTemplate:  "SELECT player_name, goals, assists, shots, key_passes, tackles, interceptions FROM viz_player_season_stats WHERE player_name IN ('{{team_a}}', '{{team_b}}') AND season_name = '{{season}}'",
		ParamNames:     []string{"team_a", "team_b", "season"},
		IntentKeywords: []string{"compare", "radar"},
		SourcePrompt:   "compare {playerA} and {playerB} radar in {season}",
	},
	{
		Name:           "builtin_conceded_shots",
		ChartType:      "shot_map",
		QueryTemplate:  "SELECT x, y, team_name, player_name FROM viz_match_events_joined WHERE event_type = 'Shot' AND team_name <> '{{team}}' AND season_name = '{{season}}' AND match_id IN (SELECT DISTINCT match_id FROM viz_match_events_joined WHERE team_name = '{{team}}')",
		ParamNames:     []string{"team", "season"},
		IntentKeywords: []string{"conceded"},
		SourcePrompt:   "shots conceded by {team} in {season}",
	},
	{
		Name:           "builtin_conceded_shots_last_n",
		ChartType:      "shot_map",
		QueryTemplate:  "SELECT x, y, team_name, player_name FROM viz_match_events_joined WHERE event_type = 'Shot' AND team_name <> '{{team}}' AND match_id IN (SELECT match_id FROM (SELECT match_id, row_number() OVER (ORDER BY max(date_time) DESC) AS rn FROM viz_match_events_joined WHERE team_name = '{{team}}' GROUP BY match_id) recent WHERE recent.rn <= {{last_n}})",
		ParamNames:     []string{"team", "last_n"},
		IntentKeywords: []string{"conceded", "last"},
		SourcePrompt:   "shots conceded by {team} in the last {n} matches",
	},
	{
		Name:           "builtin_top_scorers_bumpy",
		ChartType:      "bumpy",
		QueryTemplate:  "SELECT player_name, season_name, rank FROM (SELECT player_name, season_name, dense_rank() OVER (PARTITION BY season_name ORDER BY goals DESC) AS rank FROM viz_player_season_stats) ranked WHERE ranked.rank <= 10 ORDER BY season_name, rank",
		ParamNames:     nil,
		IntentKeywords: []string{"top scorers"},
		SourcePrompt:   "top scorers by season",
	},
}

// Builtins returns the built-in template library. Callers must not mutate
// the returned slice.
func Builtins() []QueryTemplate {
	return builtins
}

// MatchBuiltin finds the first built-in whose intent keywords all appear
// in the normalized prompt and whose parameters the extracted params can
// fill. More specific templates (more keywords, more params) are listed
// before their general variants, so ordering resolves overlap.
func MatchBuiltin(normalizedPrompt string, params nlu.Params) (*QueryTemplate, bool) {
	lower := strings.ToLower(normalizedPrompt)
	var best *QueryTemplate
	bestKeywords := -1
	for i := range builtins {
		t := &builtins[i]
		if !keywordsPresent(t.IntentKeywords, lower) {
			continue
		}
		if !ParamsCover(t.ParamNames, params) {
			continue
		}
		if len(t.IntentKeywords) > bestKeywords {
			best = t
			bestKeywords = len(t.IntentKeywords)
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

func keywordsPresent(keywords []string, lowerPrompt string) bool {
	if len(keywords) == 0 {
		return false
	}
	for _, kw := range keywords {
		if !strings.Contains(lowerPrompt, kw) {
			return false
		}
	}
	return true
}
