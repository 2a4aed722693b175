// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package planner decides what to do with one user turn: answer it with a
// deterministic rule, render from a known SQL template, ask a
// clarification question, or hand it to the tool-calling loop. Shortcuts
// run in order of specificity, so the expensive LLM path is the fallback,
// not the default.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/pitchside/services/gateway"
	"github.com/AleutianAI/pitchside/services/memory"
	"github.com/AleutianAI/pitchside/services/nlu"
	"github.com/AleutianAI/pitchside/services/sqlgen"
)

// DecisionKind names the planner's possible outcomes.
type DecisionKind int

const (
	// DecideAnswer resolves the turn with a text answer; no LLM call.
	DecideAnswer DecisionKind = iota
	// DecideClarify asks a question and persists the pending slot.
	DecideClarify
	// DecideRender renders a chart from a known template; no LLM call.
	DecideRender
	// DecideToolLoop hands the turn to the orchestrator.
	DecideToolLoop
)

func (k DecisionKind) String() string {
	switch k {
	case DecideAnswer:
		return "answer"
	case DecideClarify:
		return "clarify"
	case DecideRender:
		return "render"
	case DecideToolLoop:
		return "tool_loop"
	default:
		return "unknown"
	}
}

// Decision is the planner's instruction to the caller.
type Decision struct {
	Kind   DecisionKind
	Intent Intent

	// Text is the answer (DecideAnswer) or the question (DecideClarify).
	Text string

	// Prompt is the effective prompt after clarification replay; the
	// orchestrator uses it instead of the raw turn.
	Prompt string

	// Render shortcut fields (DecideRender).
	ChartType        string
	Template         *sqlgen.QueryTemplate
	Params           nlu.Params
	SeriesSplitField string

	// ForceTool names the tool the orchestrator must call first
	// (DecideToolLoop); empty means the model chooses.
	ForceTool string
}

// Vars returns the template variables for the render call, keyed by
// placeholder name.
func (d *Decision) Vars() map[string]string {
	vars := make(map[string]string)
	if d.Params.Team != "" {
		vars["team"] = d.Params.Team
	}
	if d.Params.TeamA != "" {
		vars["team_a"] = d.Params.TeamA
	}
	if d.Params.TeamB != "" {
		vars["team_b"] = d.Params.TeamB
	}
	if d.Params.Season != "" {
		vars["season"] = d.Params.Season
	}
	if d.Params.LastN > 0 {
		vars["last_n"] = strconv.Itoa(d.Params.LastN)
	}
	return vars
}

// StatsCounter is the slice of the gateway the direct-answer path needs.
type StatsCounter interface {
	Count(ctx context.Context, table string, filters []gateway.Filter) (int, error)
}

// EntityResolver runs the transcript entity pass. Optional.
type EntityResolver interface {
	ResolveTranscriptEntities(ctx context.Context, text string, mem *memory.ConversationMemory) (*memory.ConversationMemory, error)
}

// Planner routes user turns.
//
// Thread Safety: Planner is safe for concurrent use; all mutable state
// lives in the memory store.
type Planner struct {
	store     *memory.Store
	templates *sqlgen.TemplateStore
	resolver  EntityResolver
	counter   StatsCounter
	logger    *slog.Logger
}

// New creates a Planner. resolver and counter may be nil; the
// corresponding shortcuts are skipped.
func New(store *memory.Store, templates *sqlgen.TemplateStore, resolver EntityResolver, counter StatsCounter, logger *slog.Logger) *Planner {
	if store == nil || templates == nil {
		panic("planner.New: store and templates must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{store: store, templates: templates, resolver: resolver, counter: counter, logger: logger}
}

// maxReplayDepth bounds clarification replay so a pathological pending
// chain cannot recurse.
const maxReplayDepth = 2

// Plan routes one user turn.
//
// Outputs:
//   - *Decision: Never nil on success.
//   - error: Non-nil on storage or gateway failure.
func (p *Planner) Plan(ctx context.Context, rawPrompt string) (*Decision, error) {
	return p.plan(ctx, rawPrompt, 0)
}

func (p *Planner) plan(ctx context.Context, rawPrompt string, depth int) (*Decision, error) {
	prompt := nlu.Normalize(rawPrompt)

	if depth == 0 {
		pending, err := p.store.LoadPending(ctx)
		if err != nil {
			return nil, err
		}
		if pending != nil {
			if LooksLikeNewQuestion(prompt) {
				p.logger.Info("planner: discarding pending clarification, turn looks like a new question",
					slog.String("pending_kind", string(pending.Kind)))
				if err := p.store.ClearPending(ctx); err != nil {
					return nil, err
				}
			} else {
				return p.resolvePending(ctx, pending, prompt, depth)
			}
		}
	}

	mem, err := p.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if p.resolver != nil {
		if mem, err = p.resolver.ResolveTranscriptEntities(ctx, prompt, mem); err != nil {
			return nil, err
		}
	}

	params := nlu.ExtractParams(prompt, mem)
	applyScopes(&params, prompt, mem)
	cls := Classify(prompt)

	if d, ok, err := p.directAnswer(ctx, prompt); err != nil {
		return nil, err
	} else if ok {
		return d, nil
	}

	if d, err := p.templateShortcut(ctx, prompt, params, cls, mem); err != nil {
		return nil, err
	} else if d != nil {
		return d, nil
	}

	if cls.Intent == IntentVisual {
		if d, err := p.maybeClarify(ctx, prompt, params, mem); err != nil {
			return nil, err
		} else if d != nil {
			return d, nil
		}
		return &Decision{
			Kind:      DecideToolLoop,
			Intent:    IntentVisual,
			Prompt:    prompt,
			ChartType: cls.ChartType,
			Params:    params,
			ForceTool: "render_mplsoccer",
		}, nil
	}

	return &Decision{Kind: DecideToolLoop, Intent: cls.Intent, Prompt: prompt, Params: params}, nil
}

// Continuation phrases that refer back to remembered subjects. The
// comparison form is checked first: "them" after a comparison means the
// remembered pair, not the single last entity.
var (
	pairPronounPattern     = regexp.MustCompile(`(?i)\b(?:them|those two|both(?:\s+teams)?|the\s+two)\b`)
	singularPronounPattern = regexp.MustCompile(`(?i)\b(?:that\s+team|they|their|them)\b`)
	halfFollowUpPattern    = regexp.MustCompile(`(?i)\b(?:first|second)\s+half\b`)
)

// applyScopes fills missing params from remembered context. The season
// carries over implicitly; teams only flow through explicit continuation
// phrases ("compare them", "that team", "now the second half"), since
// carrying the subject team into an unrelated prompt produced confusing
// charts.
func applyScopes(params *nlu.Params, prompt string, mem *memory.ConversationMemory) {
	if params.Season == "" {
		params.Season = mem.Scopes.LastSeason
	}
	if params.Team != "" || params.IsComparison() {
		return
	}
	if mem.Scopes.LastTeams != nil && pairPronounPattern.MatchString(prompt) {
		params.TeamA = mem.Scopes.LastTeams.TeamA
		params.TeamB = mem.Scopes.LastTeams.TeamB
		return
	}
	if mem.Scopes.LastPassMap != nil && halfFollowUpPattern.MatchString(prompt) {
		params.Team = mem.Scopes.LastPassMap.Team
		return
	}
	if mem.Scopes.LastEntity != "" && singularPronounPattern.MatchString(prompt) {
		params.Team = mem.Scopes.LastEntity
	}
}

// ============================================================================
// Direct-answer shortcut
// ============================================================================

var goalsQuestionPattern = regexp.MustCompile(`(?i)\bhow many goals (?:did|has|have)\s+(.+?)\s+(?:score|scored|got)\b`)

// directAnswer resolves "how many goals did X score?" with a single
// gateway count, bypassing the tool loop entirely.
func (p *Planner) directAnswer(ctx context.Context, prompt string) (*Decision, bool, error) {
	if p.counter == nil {
		return nil, false, nil
	}
	m := goalsQuestionPattern.FindStringSubmatch(prompt)
	if m == nil {
		return nil, false, nil
	}
	player := strings.TrimSpace(m[1])

	n, err := p.counter.Count(ctx, "viz_match_events", []gateway.Filter{
		{Column: "player_name", Op: "ilike", Value: player},
		{Column: "event_type", Op: "eq", Value: "Shot"},
		{Column: "outcome", Op: "eq", Value: "Goal"},
	})
	if err != nil {
		return nil, false, fmt.Errorf("planner: counting goals for %q: %w", player, err)
	}

	if err := p.store.Mutate(ctx, func(mm *memory.ConversationMemory) error {
		mm.Scopes.LastEntity = player
		return nil
	}); err != nil {
		return nil, false, err
	}

	return &Decision{
		Kind:   DecideAnswer,
		Intent: IntentDatabase,
		Prompt: prompt,
		Text:   fmt.Sprintf("%s has scored %d goals in the database.", player, n),
	}, true, nil
}

// ============================================================================
// Template shortcut
// ============================================================================

// templateShortcut checks learned templates first, then the built-in
// library. A hit becomes a render decision with no LLM involvement.
func (p *Planner) templateShortcut(ctx context.Context, prompt string, params nlu.Params, cls Classification, mem *memory.ConversationMemory) (*Decision, error) {
	tpl, err := p.templates.Lookup(ctx, prompt, params)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		if built, ok := sqlgen.MatchBuiltin(prompt, params); ok {
			tpl = built
		}
	}
	if tpl == nil {
		return nil, nil
	}

	d := &Decision{
		Kind:      DecideRender,
		Intent:    IntentVisual,
		Prompt:    prompt,
		ChartType: tpl.ChartType,
		Template:  tpl,
		Params:    params,
	}
	if params.IsComparison() {
		d.SeriesSplitField = "team_name"
	}
	p.logger.Info("planner: template shortcut",
		slog.String("template", tpl.Name),
		slog.String("chart_type", tpl.ChartType),
	)

	if err := p.store.Mutate(ctx, func(mm *memory.ConversationMemory) error {
		rememberParams(mm, params)
		return nil
	}); err != nil {
		return nil, err
	}
	return d, nil
}

// rememberParams writes the turn's extracted entities into the scopes.
func rememberParams(mm *memory.ConversationMemory, params nlu.Params) {
	if params.IsComparison() {
		mm.Scopes.LastTeams = &memory.TeamPair{TeamA: params.TeamA, TeamB: params.TeamB}
		mm.Scopes.LastEntity = params.TeamA
	} else if params.Team != "" {
		mm.Scopes.LastEntity = params.Team
	}
	if params.Season != "" {
		mm.Scopes.LastSeason = params.Season
	}
}
