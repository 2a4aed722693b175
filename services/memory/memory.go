// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory holds durable conversational state: the alias map,
// contextual scopes, and the single pending-clarification slot. State is
// persisted in BadgerDB and mutated transactionally, so concurrent requests
// never lose writes to a whole-document overwrite.
package memory

import (
	"strings"
	"time"
)

// =============================================================================
// Aliases
// =============================================================================

// AliasKind classifies what a user-introduced short name refers to.
type AliasKind string

const (
	KindTeamName       AliasKind = "TeamName"
	KindPlayerName     AliasKind = "PlayerName"
	KindPlayerNickname AliasKind = "PlayerNickname"
)

// Alias binds a short name to a canonical team or player identity.
type Alias struct {
	Kind  AliasKind `json:"kind"`
	Value string    `json:"value"`
}

// IsTeam reports whether the alias names a team.
func (a Alias) IsTeam() bool { return a.Kind == KindTeamName }

// =============================================================================
// Scopes
// =============================================================================

// TeamPair records the two sides of the most recent comparison prompt.
type TeamPair struct {
	TeamA string `json:"teamA"`
	TeamB string `json:"teamB"`
}

// MatchScope records the most recently discussed match.
type MatchScope struct {
	MatchID string   `json:"matchId"`
	Teams   []string `json:"teams,omitempty"`
}

// PassMapScope records the last pass-map render, so follow-up turns like
// "now the second half" can reuse its subject.
type PassMapScope struct {
	Team    string    `json:"team"`
	MatchID string    `json:"matchId,omitempty"`
	SavedAt time.Time `json:"savedAt"`
}

// Scopes is the contextual carry-over between turns. Every field is
// optional; a nil/empty field means that scope has never been set.
type Scopes struct {
	LastEntity  string        `json:"lastEntity,omitempty"`
	LastSeason  string        `json:"lastSeason,omitempty"`
	LastTeams   *TeamPair     `json:"lastTeams,omitempty"`
	LastMatch   *MatchScope   `json:"lastMatch,omitempty"`
	LastPassMap *PassMapScope `json:"lastPassMap,omitempty"`
}

// =============================================================================
// ConversationMemory
// =============================================================================

// ConversationMemory is the full persisted conversational state. It is
// loaded fresh per request and written back through Store.Mutate; aliases
// are never deleted except by an explicit reset.
type ConversationMemory struct {
	Aliases map[string]Alias `json:"aliases"`
	Scopes  Scopes           `json:"scopes"`
}

// NewConversationMemory returns an empty memory with an initialized alias map.
func NewConversationMemory() *ConversationMemory {
	return &ConversationMemory{Aliases: make(map[string]Alias)}
}

// ResolveAlias looks up a name case-insensitively in the alias map.
//
// Outputs:
//   - Alias: The binding, zero-valued when not found.
//   - bool: Whether a binding exists.
func (m *ConversationMemory) ResolveAlias(name string) (Alias, bool) {
	if m == nil || len(m.Aliases) == 0 {
		return Alias{}, false
	}
	needle := strings.ToLower(strings.TrimSpace(name))
	if a, ok := m.Aliases[needle]; ok {
		return a, true
	}
	for k, a := range m.Aliases {
		if strings.ToLower(k) == needle {
			return a, true
		}
	}
	return Alias{}, false
}

// SetAlias records a binding under the lowercased key.
func (m *ConversationMemory) SetAlias(name string, kind AliasKind, value string) {
	if m.Aliases == nil {
		m.Aliases = make(map[string]Alias)
	}
	m.Aliases[strings.ToLower(strings.TrimSpace(name))] = Alias{Kind: kind, Value: value}
}

// KnownTeams returns every distinct team name present in the alias map,
// both canonical values and team-kind keys.
func (m *ConversationMemory) KnownTeams() []string {
	if m == nil {
		return nil
	}
	seen := make(map[string]bool)
	var teams []string
	for _, a := range m.Aliases {
		if a.IsTeam() && a.Value != "" && !seen[strings.ToLower(a.Value)] {
			seen[strings.ToLower(a.Value)] = true
			teams = append(teams, a.Value)
		}
	}
	return teams
}

// =============================================================================
// PendingClarification
// =============================================================================

// ClarificationKind distinguishes the two clarification flows.
type ClarificationKind string

const (
	// ClarifyAlias asks what kind of entity an unknown name is.
	ClarifyAlias ClarificationKind = "Alias"
	// ClarifyScope asks for missing scope values (season, then opponent).
	ClarifyScope ClarificationKind = "Scope"
)

// PendingClarification is the single outstanding question to the user. At
// most one instance is live; creating a new one overwrites the old.
type PendingClarification struct {
	Kind           ClarificationKind `json:"kind"`
	Key            string            `json:"key,omitempty"`
	OriginalPrompt string            `json:"originalPrompt"`
	ScopeKey       string            `json:"scopeKey,omitempty"`
	Remaining      int               `json:"remaining,omitempty"`
	Asking         string            `json:"asking,omitempty"`
}
