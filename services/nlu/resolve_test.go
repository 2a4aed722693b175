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
	"errors"
	"strings"
	"testing"

	"github.com/AleutianAI/pitchside/services/memory"
)

type fakeLookup struct {
	teams   map[string]string
	players map[string]string
	calls   []string
	failOn  string
}

func (f *fakeLookup) FindTeam(ctx context.Context, name string) (string, bool, error) {
	f.calls = append(f.calls, "team:"+name)
	if name == f.failOn {
		return "", false, errors.New("gateway unavailable")
	}
	v, ok := f.teams[strings.ToLower(name)]
	return v, ok, nil
}

func (f *fakeLookup) FindPlayer(ctx context.Context, name string) (string, bool, error) {
	f.calls = append(f.calls, "player:"+name)
	v, ok := f.players[strings.ToLower(name)]
	return v, ok, nil
}

func TestResolveTranscriptEntities(t *testing.T) {
	lookup := &fakeLookup{
		teams:   map[string]string{"sociedad": "Real Sociedad"},
		players: map[string]string{"saka": "Bukayo Saka"},
	}
	r := NewResolver(lookup, nil, nil)

	mem, err := r.ResolveTranscriptEntities(context.Background(), "show me Sociedad shots by Saka", memory.NewConversationMemory())
	if err != nil {
		t.Fatalf("ResolveTranscriptEntities: %v", err)
	}
	if a, ok := mem.ResolveAlias("Sociedad"); !ok || a.Value != "Real Sociedad" || a.Kind != memory.KindTeamName {
		t.Errorf("Sociedad alias = %+v, %v", a, ok)
	}
	if a, ok := mem.ResolveAlias("saka"); !ok || a.Value != "Bukayo Saka" || a.Kind != memory.KindPlayerName {
		t.Errorf("saka alias = %+v, %v", a, ok)
	}
}

func TestResolveSkipsKnownAliases(t *testing.T) {
	lookup := &fakeLookup{teams: map[string]string{}}
	r := NewResolver(lookup, nil, nil)
	mem := memory.NewConversationMemory()
	mem.SetAlias("sociedad", memory.KindTeamName, "Real Sociedad")

	_, err := r.ResolveTranscriptEntities(context.Background(), "Sociedad", mem)
	if err != nil {
		t.Fatalf("ResolveTranscriptEntities: %v", err)
	}
	for _, c := range lookup.calls {
		if strings.Contains(c, "Sociedad") {
			t.Errorf("known alias was looked up anyway: %v", lookup.calls)
		}
	}
}

func TestResolveLookupFailureIsNonFatal(t *testing.T) {
	lookup := &fakeLookup{
		teams:  map[string]string{},
		failOn: "Sociedad",
	}
	r := NewResolver(lookup, nil, nil)
	_, err := r.ResolveTranscriptEntities(context.Background(), "Sociedad", memory.NewConversationMemory())
	if err != nil {
		t.Fatalf("lookup failure must not fail the pass: %v", err)
	}
}

func TestCandidatePhrases(t *testing.T) {
	got := candidatePhrases("show me Real Sociedad shots")
	// Stop-word-bearing spans are excluded; longest spans come first.
	for _, phrase := range got {
		for _, w := range strings.Fields(phrase) {
			if stopWords[strings.ToLower(w)] {
				t.Errorf("candidate %q contains stop word %q", phrase, w)
			}
		}
	}
	found := false
	for _, phrase := range got {
		if phrase == "Real Sociedad" {
			found = true
		}
	}
	if !found {
		t.Errorf("candidates %v missing \"Real Sociedad\"", got)
	}
}

func TestFuzzyPattern(t *testing.T) {
	if got := fuzzyPattern("Saka"); got != "%s%a%k%a%" {
		t.Errorf("fuzzyPattern(Saka) = %q", got)
	}
}
