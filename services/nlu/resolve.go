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
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/pitchside/services/gateway"
	"github.com/AleutianAI/pitchside/services/memory"
)

// EntityLookup confirms candidate names against the database. The gateway
// implementation is the production one; tests substitute a fake.
type EntityLookup interface {
	// FindTeam resolves a candidate to a canonical team name.
	// Returns ("", false, nil) when no team matches.
	FindTeam(ctx context.Context, name string) (string, bool, error)

	// FindPlayer resolves a candidate to a canonical player name.
	FindPlayer(ctx context.Context, name string) (string, bool, error)
}

// stopWords are tokens that can never start or be an entity candidate.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "me": true, "my": true, "i": true,
	"show": true, "display": true, "plot": true, "draw": true, "render": true,
	"make": true, "give": true, "get": true, "can": true, "you": true,
	"what": true, "which": true, "who": true, "how": true, "many": true,
	"shot": true, "shots": true, "pass": true, "passes": true, "goal": true,
	"goals": true, "map": true, "maps": true, "heatmap": true, "chart": true,
	"please": true, "for": true, "of": true, "in": true, "on": true,
	"and": true, "or": true, "vs": true, "versus": true, "against": true,
	"between": true, "last": true, "season": true, "match": true,
	"matches": true, "game": true, "games": true, "team": true, "player": true,
	"from": true, "with": true, "that": true, "this": true, "it": true,
	"is": true, "was": true, "to": true, "by": true, "all": true,
}

// Resolver runs the memory-assisted entity resolution pass over a
// transcript, persisting every confirmed name as an alias.
//
// Thread Safety: Resolver is safe for concurrent use.
type Resolver struct {
	lookup EntityLookup
	store  *memory.Store
	logger *slog.Logger
}

// NewResolver creates a Resolver. store may be nil, in which case
// confirmed entities are returned but not persisted.
func NewResolver(lookup EntityLookup, store *memory.Store, logger *slog.Logger) *Resolver {
	if lookup == nil {
		panic("nlu.NewResolver: lookup must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{lookup: lookup, store: store, logger: logger}
}

// ResolveTranscriptEntities scans a transcript for candidate phrases and
// confirms them against the team and player tables.
//
// Description:
//
//	Candidates are 1-3 word runs not containing stop words. Phrases
//	memory already knows are skipped. Each remaining candidate is
//	checked as a team first, then as a player; a hit is written into
//	the alias map immediately so later turns resolve without a lookup.
//	Lookup failures are logged and skipped, never fatal: a transcript
//	pass must not take the request down.
//
// Outputs:
//   - *memory.ConversationMemory: Memory after any alias writes. Never nil.
//   - error: Non-nil only when memory itself cannot be read.
func (r *Resolver) ResolveTranscriptEntities(ctx context.Context, text string, mem *memory.ConversationMemory) (*memory.ConversationMemory, error) {
	if mem == nil {
		mem = memory.NewConversationMemory()
	}

	for _, candidate := range candidatePhrases(text) {
		if _, known := mem.ResolveAlias(candidate); known {
			continue
		}

		if canonical, ok, err := r.lookup.FindTeam(ctx, candidate); err != nil {
			r.logger.Warn("nlu: team lookup failed",
				slog.String("candidate", candidate), slog.String("error", err.Error()))
		} else if ok {
			r.recordAlias(ctx, mem, candidate, memory.KindTeamName, canonical)
			continue
		}

		if canonical, ok, err := r.lookup.FindPlayer(ctx, candidate); err != nil {
			r.logger.Warn("nlu: player lookup failed",
				slog.String("candidate", candidate), slog.String("error", err.Error()))
		} else if ok {
			r.recordAlias(ctx, mem, candidate, memory.KindPlayerName, canonical)
		}
	}

	return mem, nil
}

// recordAlias writes the binding into the in-request memory and persists it.
func (r *Resolver) recordAlias(ctx context.Context, mem *memory.ConversationMemory, name string, kind memory.AliasKind, value string) {
	mem.SetAlias(name, kind, value)
	r.logger.Info("nlu: learned alias",
		slog.String("name", name),
		slog.String("kind", string(kind)),
		slog.String("value", value),
	)
	if r.store == nil {
		return
	}
	if err := r.store.Mutate(ctx, func(m *memory.ConversationMemory) error {
		m.SetAlias(name, kind, value)
		return nil
	}); err != nil {
		r.logger.Warn("nlu: persisting alias failed", slog.String("error", err.Error()))
	}
}

// candidatePhrases returns the 1-3 word runs worth checking, longest
// first so "Real Sociedad" is confirmed before "Real" or "Sociedad".
func candidatePhrases(text string) []string {
	words := strings.Fields(StripGreeting(Normalize(text)))
	type span struct{ start, length int }
	var spans []span
	for length := 3; length >= 1; length-- {
		for start := 0; start+length <= len(words); start++ {
			spans = append(spans, span{start, length})
		}
	}

	seen := make(map[string]bool)
	var out []string
	for _, sp := range spans {
		phrase := strings.Join(words[sp.start:sp.start+sp.length], " ")
		phrase = strings.Trim(phrase, ".,!?;:'\"")
		if phrase == "" {
			continue
		}
		if containsStopWord(words[sp.start : sp.start+sp.length]) {
			continue
		}
		key := strings.ToLower(phrase)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, phrase)
	}
	return out
}

func containsStopWord(words []string) bool {
	for _, w := range words {
		if stopWords[strings.ToLower(strings.Trim(w, ".,!?;:'\""))] {
			return true
		}
	}
	return false
}

// ============================================================================
// Gateway-backed lookup
// ============================================================================

// GatewayLookup implements EntityLookup against the database gateway's
// team and player tables.
type GatewayLookup struct {
	client      *gateway.Client
	teamTable   string
	teamCol     string
	playerTable string
	playerCol   string
}

// NewGatewayLookup creates a lookup over viz_teams/viz_players.
func NewGatewayLookup(client *gateway.Client) *GatewayLookup {
	return &GatewayLookup{
		client:      client,
		teamTable:   "viz_teams",
		teamCol:     "team_name",
		playerTable: "viz_players",
		playerCol:   "player_name",
	}
}

// FindTeam tries an exact ILIKE first, then a letter-interspersed fuzzy
// pattern ("%s%a%k%a%") that tolerates transcription artifacts.
func (g *GatewayLookup) FindTeam(ctx context.Context, name string) (string, bool, error) {
	return g.find(ctx, g.teamTable, g.teamCol, name)
}

// FindPlayer is FindTeam over the player table.
func (g *GatewayLookup) FindPlayer(ctx context.Context, name string) (string, bool, error) {
	return g.find(ctx, g.playerTable, g.playerCol, name)
}

func (g *GatewayLookup) find(ctx context.Context, table, column, name string) (string, bool, error) {
	for _, pattern := range []string{name, fuzzyPattern(name)} {
		rows, err := g.client.Query(ctx, table, gateway.QueryOptions{
			Select:  column,
			Filters: []gateway.Filter{{Column: column, Op: "ilike", Value: pattern}},
			Limit:   1,
		})
		if err != nil {
			return "", false, fmt.Errorf("nlu: looking up %q in %s: %w", name, table, err)
		}
		if len(rows) > 0 {
			if v, ok := rows[0][column].(string); ok && v != "" {
				return v, true, nil
			}
		}
	}
	return "", false, nil
}

// fuzzyPattern interleaves % between the letters of the candidate, so
// "sociedad" matches "Real Sociedad" and minor mishearings still land.
func fuzzyPattern(name string) string {
	var b strings.Builder
	b.WriteByte('%')
	for _, r := range strings.ToLower(name) {
		if r == ' ' {
			continue
		}
		b.WriteRune(r)
		b.WriteByte('%')
	}
	return b.String()
}
