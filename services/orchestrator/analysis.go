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
	"strings"

	"github.com/AleutianAI/pitchside/services/llm"
)

const analysisSystemPrompt = `You are a football analyst. Given a question and a JSON sample of the data behind a chart that was already rendered, write a short factual commentary on what the data shows. Plain prose only: no markdown, no images, no code, no chart re-descriptions. Do not invent numbers.`

var (
	markdownImagePattern = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	dataURIPattern       = regexp.MustCompile(`data:[\w/+.-]+;base64,[A-Za-z0-9+/=]+`)
	codeFencePattern     = regexp.MustCompile("(?s)```.*?```")
	sentenceEndPattern   = regexp.MustCompile(`[.!?](?:\s|$)`)
)

// analyze produces a short commentary on the rows behind a rendered chart.
// Best effort: any failure returns an empty string and the chart ships
// without commentary.
func (o *Orchestrator) analyze(ctx context.Context, prompt string, rows []map[string]any) string {
	if len(rows) == 0 {
		return ""
	}
	sample := rows
	if len(sample) > o.cfg.AnalysisMaxRows {
		sample = sample[:o.cfg.AnalysisMaxRows]
	}
	raw, err := json.Marshal(sample)
	if err != nil {
		return ""
	}
	preview := string(raw)
	if len(preview) > o.cfg.AnalysisMaxChars {
		preview = preview[:o.cfg.AnalysisMaxChars]
	}

	deep := strings.Contains(strings.ToLower(prompt), "deep analysis")
	userMsg := fmt.Sprintf("Question: %s\n\nData sample (%d of %d rows):\n%s", prompt, len(sample), len(rows), preview)

	text, err := o.completer.Chat(ctx, []llm.ChatMessage{
		{Role: "system", Content: analysisSystemPrompt},
		{Role: "user", Content: userMsg},
	}, llm.GenerationParams{})
	if err != nil {
		o.logger.Warn("orchestrator: analysis pass failed", "error", err)
		return ""
	}
	return sanitizeAnalysis(text, deep)
}

// sanitizeAnalysis strips anything that could corrupt the reply rendering
// and caps the commentary length unless deep analysis was requested.
func sanitizeAnalysis(text string, deep bool) string {
	text = markdownImagePattern.ReplaceAllString(text, "")
	text = dataURIPattern.ReplaceAllString(text, "")
	text = codeFencePattern.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)
	if text == "" || deep {
		return text
	}
	return capSentences(text, 4)
}

// capSentences truncates text after n sentence boundaries.
func capSentences(text string, n int) string {
	ends := sentenceEndPattern.FindAllStringIndex(text, -1)
	if len(ends) <= n {
		return text
	}
	return strings.TrimSpace(text[:ends[n-1][1]])
}
