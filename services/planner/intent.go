// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package planner

import (
	"regexp"
	"strings"
)

// Intent is the coarse classification of one user turn.
type Intent string

const (
	// IntentVisual asks for a chart.
	IntentVisual Intent = "visual"
	// IntentDatabase asks a stats question answerable from the database.
	IntentDatabase Intent = "database"
	// IntentGeneral is everything else: small talk, meta questions.
	IntentGeneral Intent = "general"
)

// Classification is the classifier's verdict on one prompt.
type Classification struct {
	Intent    Intent
	ChartType string
}

// chartVocabulary maps visualization phrases to renderer chart types.
// Ordered: more specific phrases first, so "pass network" is not
// swallowed by "pass map".
var chartVocabulary = []struct {
	phrase    string
	chartType string
}{
	{"pass network", "pass_network"},
	{"pass map", "pass_map"},
	{"passing map", "pass_map"},
	{"shot map", "shot_map"},
	{"shot chart", "shot_map"},
	{"heatmap", "heatmap"},
	{"heat map", "heatmap"},
	{"pitch plot", "pitch_plot"},
	{"radar", "radar"},
	{"pizza", "pizza"},
	{"bumpy", "bumpy"},
	{"top scorers", "bumpy"},
}

var visualVerbPattern = regexp.MustCompile(`(?i)\b(?:plot|draw|visuali[sz]e|chart|graph|map)\b`)

// databaseVocabulary are the analytics nouns that mark a stats question.
var databaseVocabulary = []string{
	"goal", "shot", "pass", "assist", "card", "tackle", "interception",
	"save", "foul", "corner", "offside", "xg", "clean sheet", "scorer",
	"score", "conceded", "possession", "minutes",
}

// newQuestionPattern marks a turn as a fresh question rather than an
// answer to a pending clarification.
var newQuestionPattern = regexp.MustCompile(`(?i)\b(?:show|plot|draw|render|display|compare|map|chart|heatmap|radar|how many|how much|what|which|who|when|where|top|list|give me)\b`)

// Classify decides the intent of a normalized prompt.
//
// Description:
//
//	Visual triggers on chart vocabulary or a drawing verb. Database
//	triggers on analytics nouns; visual intent implies database-backed
//	data, so visual prompts are never classified general. Everything
//	else is general conversation.
func Classify(prompt string) Classification {
	lower := strings.ToLower(prompt)

	for _, v := range chartVocabulary {
		if strings.Contains(lower, v.phrase) {
			return Classification{Intent: IntentVisual, ChartType: v.chartType}
		}
	}
	if visualVerbPattern.MatchString(lower) {
		return Classification{Intent: IntentVisual}
	}
	for _, noun := range databaseVocabulary {
		if strings.Contains(lower, noun) {
			return Classification{Intent: IntentDatabase}
		}
	}
	return Classification{Intent: IntentGeneral}
}

// LooksLikeNewQuestion reports whether a turn reads as a fresh question.
// Used to discard a pending clarification instead of treating the turn
// as its answer.
func LooksLikeNewQuestion(prompt string) bool {
	return newQuestionPattern.MatchString(prompt)
}
