// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package nlu turns raw user text into normalized prompts and structured
// query parameters: team names, comparison pairs, seasons, and last-N
// windows. Extraction is pattern-driven with memory-assisted lookup; the
// LLM is never consulted here.
package nlu

import (
	"regexp"
	"strings"
)

// greetingPattern matches leading pleasantries so "hi, can you show me X"
// extracts the same entities as "show me X". Voice transcripts produce
// these constantly.
var greetingPattern = regexp.MustCompile(`(?i)^\s*(?:hi|hey|hello|yo|good (?:morning|afternoon|evening)|please|ok(?:ay)?|thanks?|thank you)[,.!\s]+`)

var whitespacePattern = regexp.MustCompile(`\s+`)

// Normalize collapses repeated whitespace and strips trailing punctuation.
//
// Normalized prompts are the keys for learned-template lookup, so this
// must be stable: the same utterance with different spacing or a trailing
// question mark lands on the same template.
func Normalize(text string) string {
	s := whitespacePattern.ReplaceAllString(strings.TrimSpace(text), " ")
	return strings.TrimRight(s, " \t.?!,;:")
}

// StripGreeting removes leading greeting clauses before extraction.
// Repeated greetings ("hi, hey, show me...") are all removed.
func StripGreeting(text string) string {
	s := text
	for {
		trimmed := greetingPattern.ReplaceAllString(s, "")
		if trimmed == s {
			return strings.TrimSpace(s)
		}
		s = trimmed
	}
}
