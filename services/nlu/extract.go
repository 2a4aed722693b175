// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package nlu

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/pitchside/services/memory"
)

// Params are the structured entities pulled out of one prompt. Zero
// values mean "not present".
type Params struct {
	Team   string
	TeamA  string
	TeamB  string
	Season string
	LastN  int
}

// IsComparison reports whether both sides of a two-team prompt resolved.
func (p Params) IsComparison() bool { return p.TeamA != "" && p.TeamB != "" }

// Empty reports whether nothing was extracted.
func (p Params) Empty() bool {
	return p.Team == "" && p.TeamA == "" && p.TeamB == "" && p.Season == "" && p.LastN == 0
}

// ============================================================================
// Patterns
// ============================================================================

var (
	lastNPattern  = regexp.MustCompile(`(?i)\blast\s+(\d{1,3})\s+(?:matches|games|fixtures|shots|passes)\b`)
	seasonPattern = regexp.MustCompile(`\b(\d{4})\s*/\s*(\d{4})\b`)

	// A comparison side runs until a connective or the end of the clause.
	betweenPattern   = regexp.MustCompile(`(?i)\bbetween\s+(.+?)\s+and\s+(.+?)(?:\s+(?:in|for|during|over|across)\b|[,.?!]|$)`)
	comparingPattern = regexp.MustCompile(`(?i)\bcompar(?:e|ing)\s+(.+?)\s+(?:and|with|to)\s+(.+?)(?:\s+(?:in|for|during|over|across)\b|[,.?!]|$)`)
	versusPattern    = regexp.MustCompile(`(?i)\b(.+?)\s+(?:vs\.?|versus|against)\s+(.+?)(?:\s+(?:in|for|during|over|across)\b|[,.?!]|$)`)

	// The name portion is deliberately case-sensitive: only capitalized
	// words can start it, so verb debris ("plot Sociedad") never leaks in.
	concededPattern = regexp.MustCompile(`\b([A-Z][\w.']*?(?:\s+[A-Z][\w.']*?)*)(?:'s)?\s+(?i:shots?|goals?)\s+(?i:conceded)\b`)

	// Leading verb/prefix debris on a comparison side, e.g.
	// "compare shots for Arsenal vs Chelsea".
	sidePrefixPattern = regexp.MustCompile(`(?i)^(?:show|display|plot|draw|render|compare|me|a|an|the|shot ?maps?|pass ?maps?|heat ?maps?|shots?|passes|goals?|stats?|for|of|by)\s+`)
)

// cleanSide strips leading verbs and chart nouns from a comparison side
// until a stable token remains.
func cleanSide(s string) string {
	s = strings.TrimSpace(s)
	for {
		trimmed := sidePrefixPattern.ReplaceAllString(s, "")
		if trimmed == s {
			break
		}
		s = trimmed
	}
	return strings.TrimRight(strings.TrimSpace(s), " .?!,")
}

// ============================================================================
// Extraction
// ============================================================================

// ExtractParams pulls structured entities out of a prompt.
//
// Description:
//
//	Matchers run in a fixed order so more specific shapes win: the
//	last-N window, then the season, then the two-team comparison
//	("between X and Y", "X vs Y"), then memory-assisted single-team
//	lookup, then the possessive "X's shots conceded" shape. Comparison
//	sides are resolved through the alias map when a binding exists.
//
// Inputs:
//   - prompt: Raw or normalized user text.
//   - mem: Conversation memory for alias and known-team resolution. May be nil.
//
// Outputs:
//   - Params: Extracted entities; zero-valued fields were not found.
func ExtractParams(prompt string, mem *memory.ConversationMemory) Params {
	var p Params
	text := StripGreeting(Normalize(prompt))

	if m := lastNPattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			p.LastN = n
		}
	}

	if m := seasonPattern.FindStringSubmatch(text); m != nil {
		p.Season = m[1] + "/" + m[2]
	}

	if a, b, ok := extractComparison(text); ok {
		p.TeamA = resolveTeam(a, mem)
		p.TeamB = resolveTeam(b, mem)
		if p.TeamA != "" && p.TeamB != "" {
			return p
		}
		// One unresolvable side means this was not a real comparison;
		// fall through to single-team extraction.
		p.TeamA, p.TeamB = "", ""
	}

	if team := findKnownTeam(text, mem); team != "" {
		p.Team = team
		return p
	}

	if m := concededPattern.FindStringSubmatch(text); m != nil {
		p.Team = resolveOrKeep(strings.TrimSpace(m[1]), mem)
	}

	return p
}

// extractComparison finds a "between X and Y" or "X vs Y" pair.
func extractComparison(text string) (a, b string, ok bool) {
	if m := betweenPattern.FindStringSubmatch(text); m != nil {
		a, b = cleanSide(m[1]), cleanSide(m[2])
		return a, b, a != "" && b != ""
	}
	if m := comparingPattern.FindStringSubmatch(text); m != nil {
		a, b = cleanSide(m[1]), cleanSide(m[2])
		return a, b, a != "" && b != ""
	}
	if m := versusPattern.FindStringSubmatch(text); m != nil {
		a, b = cleanSide(m[1]), cleanSide(m[2])
		return a, b, a != "" && b != ""
	}
	return "", "", false
}

// resolveTeam maps a side through the alias map; only team-kind bindings
// or memory-known team names count. Unknown sides resolve to "".
func resolveTeam(name string, mem *memory.ConversationMemory) string {
	if name == "" {
		return ""
	}
	if mem != nil {
		if a, ok := mem.ResolveAlias(name); ok && a.IsTeam() {
			return a.Value
		}
		for _, t := range mem.KnownTeams() {
			if strings.EqualFold(t, name) {
				return t
			}
		}
	}
	// A capitalized multi-word or single proper-noun side is accepted
	// literally; the database lookup downstream confirms it.
	if looksLikeProperNoun(name) {
		return name
	}
	return ""
}

// resolveOrKeep is resolveTeam but keeps the literal when nothing matches.
func resolveOrKeep(name string, mem *memory.ConversationMemory) string {
	if r := resolveTeam(name, mem); r != "" {
		return r
	}
	return name
}

// findKnownTeam scans the prompt for any team memory already knows about.
func findKnownTeam(text string, mem *memory.ConversationMemory) string {
	if mem == nil {
		return ""
	}
	lower := strings.ToLower(text)
	for key, a := range mem.Aliases {
		if !a.IsTeam() {
			continue
		}
		if strings.Contains(lower, strings.ToLower(key)) || strings.Contains(lower, strings.ToLower(a.Value)) {
			return a.Value
		}
	}
	return ""
}

// looksLikeProperNoun accepts names where every word is capitalized, up to
// four words ("Real Sociedad", "Borussia Monchengladbach").
func looksLikeProperNoun(s string) bool {
	words := strings.Fields(s)
	if len(words) == 0 || len(words) > 4 {
		return false
	}
	for _, w := range words {
		r := rune(w[0])
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
