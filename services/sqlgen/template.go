// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlgen owns everything between a prompt's extracted parameters
// and an executable read-only SQL string: literal escaping, the
// placeholder template mechanism, a built-in template library, repair
// heuristics, and the learned-template cache.
package sqlgen

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/pitchside/services/nlu"
)

// Placeholder tokens. Case-sensitive by convention; templates are always
// produced by this package so no case variants exist.
const (
	PlaceholderTeam   = "{{team}}"
	PlaceholderTeamA  = "{{team_a}}"
	PlaceholderTeamB  = "{{team_b}}"
	PlaceholderSeason = "{{season}}"
	PlaceholderLastN  = "{{last_n}}"
)

// QueryTemplate is a reusable parameterized query learned from (or shipped
// with) the system. Immutable once created.
type QueryTemplate struct {
	Name           string    `json:"name"`
	ChartType      string    `json:"chartType"`
	QueryTemplate  string    `json:"queryTemplate"`
	ParamNames     []string  `json:"paramNames"`
	IntentKeywords []string  `json:"intentKeywords"`
	SourcePrompt   string    `json:"sourcePrompt"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
}

// EscapeLiteral doubles single quotes so user-controlled text is safe to
// interpolate into a SQL string literal. Every literal that reaches a
// query goes through here; there are no exceptions.
func EscapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// ErrOneSidedTemplate is returned when a two-team prompt generalizes into
// a template that only parameterized one side. Such templates over-match
// later prompts and are rejected outright.
var ErrOneSidedTemplate = fmt.Errorf("sqlgen: comparison template is missing a team placeholder")

// BuildTemplate generalizes a literal query by replacing each present
// parameter's escaped value with its placeholder token.
//
// Description:
//
//	Replacement is case-insensitive on the literal value. For prompts
//	that extracted both teamA and teamB the resulting template must
//	contain both team placeholders, otherwise ErrOneSidedTemplate is
//	returned: a template where one side stayed literal would silently
//	pin every future comparison to that team.
//
// Outputs:
//   - string: The template with placeholders substituted.
//   - []string: Names of the parameters that were substituted.
//   - error: ErrOneSidedTemplate, or nil.
func BuildTemplate(literalQuery string, params nlu.Params) (string, []string, error) {
	tpl := literalQuery
	var names []string

	substitute := func(value, placeholder, name string) {
		if value == "" {
			return
		}
		escaped := EscapeLiteral(value)
		replaced := replaceInsensitive(tpl, escaped, placeholder)
		if replaced != tpl {
			tpl = replaced
			names = append(names, name)
		}
	}

	substitute(params.TeamA, PlaceholderTeamA, "team_a")
	substitute(params.TeamB, PlaceholderTeamB, "team_b")
	substitute(params.Team, PlaceholderTeam, "team")
	substitute(params.Season, PlaceholderSeason, "season")
	if params.LastN > 0 {
		replaced := replaceBareInt(tpl, params.LastN, PlaceholderLastN)
		if replaced != tpl {
			tpl = replaced
			names = append(names, "last_n")
		}
	}

	if params.IsComparison() {
		if !strings.Contains(tpl, PlaceholderTeamA) || !strings.Contains(tpl, PlaceholderTeamB) {
			return "", nil, ErrOneSidedTemplate
		}
	}
	return tpl, names, nil
}

// FillTemplate substitutes placeholders with escaped literal values.
//
// Description:
//
//	Team and season values are escaped; last_n is substituted as a bare
//	integer and is never quoted. A placeholder present in the template
//	with no corresponding parameter is an error: executing a query with
//	a literal "{{team}}" in it fails confusingly downstream.
func FillTemplate(template string, params nlu.Params) (string, error) {
	q := template
	fill := func(placeholder, value string) error {
		if !strings.Contains(q, placeholder) {
			return nil
		}
		if value == "" {
			return fmt.Errorf("sqlgen: template requires %s but no value was extracted", placeholder)
		}
		q = strings.ReplaceAll(q, placeholder, EscapeLiteral(value))
		return nil
	}

	if err := fill(PlaceholderTeamA, params.TeamA); err != nil {
		return "", err
	}
	if err := fill(PlaceholderTeamB, params.TeamB); err != nil {
		return "", err
	}
	if err := fill(PlaceholderTeam, params.Team); err != nil {
		return "", err
	}
	if err := fill(PlaceholderSeason, params.Season); err != nil {
		return "", err
	}
	if strings.Contains(q, PlaceholderLastN) {
		if params.LastN <= 0 {
			return "", fmt.Errorf("sqlgen: template requires %s but no value was extracted", PlaceholderLastN)
		}
		q = strings.ReplaceAll(q, PlaceholderLastN, strconv.Itoa(params.LastN))
	}
	return q, nil
}

// ParamsCover reports whether params can fill every named parameter.
func ParamsCover(paramNames []string, params nlu.Params) bool {
	for _, name := range paramNames {
		switch name {
		case "team":
			if params.Team == "" {
				return false
			}
		case "team_a":
			if params.TeamA == "" {
				return false
			}
		case "team_b":
			if params.TeamB == "" {
				return false
			}
		case "season":
			if params.Season == "" {
				return false
			}
		case "last_n":
			if params.LastN <= 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// replaceInsensitive replaces every case-insensitive occurrence of old
// with new. old is treated literally, not as a pattern.
func replaceInsensitive(s, old, new string) string {
	if old == "" {
		return s
	}
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(old))
	return re.ReplaceAllLiteralString(s, new)
}

// replaceBareInt replaces the integer n only where it stands alone, so a
// lastN of 5 does not corrupt "2015" or "50.5".
func replaceBareInt(s string, n int, new string) string {
	re := regexp.MustCompile(`(^|[^0-9.])` + strconv.Itoa(n) + `([^0-9.]|$)`)
	return re.ReplaceAllString(s, "${1}"+new+"${2}")
}
