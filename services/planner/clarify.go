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
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/AleutianAI/pitchside/services/memory"
	"github.com/AleutianAI/pitchside/services/nlu"
)

// Scope keys used by the clarification flow.
const (
	scopeKeyMatch = "match"
)

var (
	aliasTeamAnswer     = regexp.MustCompile(`(?i)\bteam\b`)
	aliasNicknameAnswer = regexp.MustCompile(`(?i)\bnick(?:name)?\b`)
	aliasPlayerAnswer   = regexp.MustCompile(`(?i)\bplayer\b`)

	seasonAnswerPattern = regexp.MustCompile(`\b(\d{4})\s*/\s*(\d{4})\b`)

	// "for X" where X is a run of up to three capitalized words.
	forEntityPattern = regexp.MustCompile(`\bfor\s+([A-Z][\w.']*(?:\s+[A-Z][\w.']*){0,2})`)
)

// ============================================================================
// Creating clarifications
// ============================================================================

// maybeClarify decides whether a visual prompt is missing something it
// cannot proceed without.
//
// Description:
//
//	Two flows, alias first: an entity phrase with no alias binding asks
//	"team, player, or nickname?". A prompt with a subject but neither a
//	season nor a match/opponent reference asks for the season, then the
//	opponent (remaining=2). Prompts that already carry enough context
//	return nil and take the tool-loop path.
func (p *Planner) maybeClarify(ctx context.Context, prompt string, params nlu.Params, mem *memory.ConversationMemory) (*Decision, error) {
	if params.Team == "" && !params.IsComparison() {
		if candidate := unknownEntity(prompt, mem); candidate != "" {
			pending := &memory.PendingClarification{
				Kind:           memory.ClarifyAlias,
				Key:            candidate,
				OriginalPrompt: prompt,
			}
			if err := p.store.SavePending(ctx, pending); err != nil {
				return nil, err
			}
			return &Decision{
				Kind:   DecideClarify,
				Intent: IntentVisual,
				Prompt: prompt,
				Text:   fmt.Sprintf("I don't recognize %q - is that a team, a player, or a nickname?", candidate),
			}, nil
		}
	}

	needsScope := params.Season == "" &&
		!params.IsComparison() &&
		params.LastN == 0 &&
		mem.Scopes.LastMatch == nil &&
		strings.Contains(strings.ToLower(prompt), "match")
	if needsScope {
		pending := &memory.PendingClarification{
			Kind:           memory.ClarifyScope,
			ScopeKey:       scopeKeyMatch,
			OriginalPrompt: prompt,
			Remaining:      2,
			Asking:         "season",
		}
		if err := p.store.SavePending(ctx, pending); err != nil {
			return nil, err
		}
		return &Decision{
			Kind:   DecideClarify,
			Intent: IntentVisual,
			Prompt: prompt,
			Text:   "Which season is that match from? (e.g. 2023/2024)",
		}, nil
	}

	return nil, nil
}

// unknownEntity finds a "for X" phrase whose subject has no alias.
func unknownEntity(prompt string, mem *memory.ConversationMemory) string {
	m := forEntityPattern.FindStringSubmatch(prompt)
	if m == nil {
		return ""
	}
	candidate := strings.TrimRight(strings.TrimSpace(m[1]), " .?!,")
	if candidate == "" {
		return ""
	}
	if _, known := mem.ResolveAlias(candidate); known {
		return ""
	}
	return candidate
}

// ============================================================================
// Resolving clarifications
// ============================================================================

// resolvePending consumes the user's turn as the answer to the pending
// question.
func (p *Planner) resolvePending(ctx context.Context, pending *memory.PendingClarification, answer string, depth int) (*Decision, error) {
	switch pending.Kind {
	case memory.ClarifyAlias:
		return p.resolveAliasAnswer(ctx, pending, answer, depth)
	case memory.ClarifyScope:
		return p.resolveScopeAnswer(ctx, pending, answer, depth)
	default:
		// Unknown kind in the slot, most likely from a newer version.
		// Drop it rather than wedge the conversation.
		p.logger.Warn("planner: unknown pending kind, discarding", slog.String("kind", string(pending.Kind)))
		if err := p.store.ClearPending(ctx); err != nil {
			return nil, err
		}
		return p.plan(ctx, answer, depth)
	}
}

// resolveAliasAnswer classifies "team/player/nickname", records the
// alias, and replays the original prompt.
func (p *Planner) resolveAliasAnswer(ctx context.Context, pending *memory.PendingClarification, answer string, depth int) (*Decision, error) {
	var kind memory.AliasKind
	switch {
	case aliasTeamAnswer.MatchString(answer):
		kind = memory.KindTeamName
	case aliasNicknameAnswer.MatchString(answer):
		kind = memory.KindPlayerNickname
	case aliasPlayerAnswer.MatchString(answer):
		kind = memory.KindPlayerName
	default:
		// Not an answer we can classify; ask again, slot unchanged.
		return &Decision{
			Kind:   DecideClarify,
			Intent: IntentGeneral,
			Prompt: pending.OriginalPrompt,
			Text:   fmt.Sprintf("Sorry - is %q a team, a player, or a nickname?", pending.Key),
		}, nil
	}

	if err := p.store.Mutate(ctx, func(mm *memory.ConversationMemory) error {
		mm.SetAlias(pending.Key, kind, pending.Key)
		return nil
	}); err != nil {
		return nil, err
	}
	if err := p.store.ClearPending(ctx); err != nil {
		return nil, err
	}
	p.logger.Info("planner: alias clarified",
		slog.String("key", pending.Key), slog.String("kind", string(kind)))

	return p.replay(ctx, pending.OriginalPrompt, depth)
}

// resolveScopeAnswer records the answered scope value, asks the next
// question while remaining > 1, and replays the original prompt when the
// scope is complete.
func (p *Planner) resolveScopeAnswer(ctx context.Context, pending *memory.PendingClarification, answer string, depth int) (*Decision, error) {
	switch pending.Asking {
	case "season":
		season := answer
		if m := seasonAnswerPattern.FindStringSubmatch(answer); m != nil {
			season = m[1] + "/" + m[2]
		}
		if err := p.store.Mutate(ctx, func(mm *memory.ConversationMemory) error {
			mm.Scopes.LastSeason = season
			return nil
		}); err != nil {
			return nil, err
		}
	default:
		opponent := strings.TrimRight(strings.TrimSpace(answer), " .?!,")
		if err := p.store.Mutate(ctx, func(mm *memory.ConversationMemory) error {
			mm.Scopes.LastMatch = &memory.MatchScope{Teams: []string{opponent}}
			return nil
		}); err != nil {
			return nil, err
		}
	}

	pending.Remaining--
	if pending.Remaining > 0 {
		pending.Asking = "opponent"
		if err := p.store.SavePending(ctx, pending); err != nil {
			return nil, err
		}
		return &Decision{
			Kind:   DecideClarify,
			Intent: IntentVisual,
			Prompt: pending.OriginalPrompt,
			Text:   "And which opponent was it against (or was it home/away)?",
		}, nil
	}

	if err := p.store.ClearPending(ctx); err != nil {
		return nil, err
	}
	return p.replay(ctx, pending.OriginalPrompt, depth)
}

// replay re-plans the original prompt with the new context applied.
func (p *Planner) replay(ctx context.Context, originalPrompt string, depth int) (*Decision, error) {
	if depth+1 >= maxReplayDepth {
		// Give the turn to the tool loop rather than recurse again.
		return &Decision{Kind: DecideToolLoop, Intent: IntentGeneral, Prompt: originalPrompt}, nil
	}
	return p.plan(ctx, originalPrompt, depth+1)
}
