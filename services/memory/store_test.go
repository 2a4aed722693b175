// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	badgerstore "github.com/AleutianAI/pitchside/services/storage/badger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := badgerstore.DefaultConfig()
	cfg.Path = t.TempDir()
	cfg.SyncWrites = false
	cfg.GCInterval = 0
	db, err := badgerstore.OpenDB(cfg)
	if err != nil {
		t.Fatalf("opening badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db, nil)
}

func TestLoadEmptyMemory(t *testing.T) {
	s := newTestStore(t)
	mem, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if mem == nil || mem.Aliases == nil {
		t.Fatal("Load returned nil memory or nil alias map")
	}
	if len(mem.Aliases) != 0 {
		t.Errorf("fresh store has %d aliases, want 0", len(mem.Aliases))
	}
}

func TestMutatePersistsAliases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Mutate(ctx, func(m *ConversationMemory) error {
		m.SetAlias("the gunners", KindTeamName, "Arsenal")
		m.SetAlias("Saka", KindPlayerName, "Bukayo Saka")
		m.Scopes.LastEntity = "Arsenal"
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	mem, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	a, ok := mem.ResolveAlias("The Gunners")
	if !ok || a.Value != "Arsenal" || a.Kind != KindTeamName {
		t.Errorf("ResolveAlias(\"The Gunners\") = %+v, %v", a, ok)
	}
	if mem.Scopes.LastEntity != "Arsenal" {
		t.Errorf("LastEntity = %q, want Arsenal", mem.Scopes.LastEntity)
	}
}

func TestMutateConcurrentWritersLoseNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	done := make(chan error, 2)
	go func() {
		done <- s.Mutate(ctx, func(m *ConversationMemory) error {
			m.SetAlias("gunners", KindTeamName, "Arsenal")
			return nil
		})
	}()
	go func() {
		done <- s.Mutate(ctx, func(m *ConversationMemory) error {
			m.SetAlias("spurs", KindTeamName, "Tottenham Hotspur")
			return nil
		})
	}()
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent Mutate: %v", err)
		}
	}

	mem, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := mem.ResolveAlias("gunners"); !ok {
		t.Error("alias from first writer was lost")
	}
	if _, ok := mem.ResolveAlias("spurs"); !ok {
		t.Error("alias from second writer was lost")
	}
}

func TestPendingSlotLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.LoadPending(ctx)
	if err != nil {
		t.Fatalf("LoadPending: %v", err)
	}
	if p != nil {
		t.Fatalf("empty slot returned %+v", p)
	}

	first := &PendingClarification{
		Kind:           ClarifyAlias,
		Key:            "sociedad",
		OriginalPrompt: "show me a shot map for Sociedad",
	}
	if err := s.SavePending(ctx, first); err != nil {
		t.Fatalf("SavePending: %v", err)
	}

	// A second clarification overwrites the first rather than queueing.
	second := &PendingClarification{
		Kind:           ClarifyScope,
		ScopeKey:       "season",
		OriginalPrompt: "pass map for Arsenal in that match",
		Remaining:      2,
		Asking:         "season",
	}
	if err := s.SavePending(ctx, second); err != nil {
		t.Fatalf("SavePending overwrite: %v", err)
	}

	got, err := s.LoadPending(ctx)
	if err != nil {
		t.Fatalf("LoadPending: %v", err)
	}
	if got == nil || got.Kind != ClarifyScope || got.Remaining != 2 {
		t.Errorf("slot = %+v, want the second clarification", got)
	}

	if err := s.ClearPending(ctx); err != nil {
		t.Fatalf("ClearPending: %v", err)
	}
	got, err = s.LoadPending(ctx)
	if err != nil {
		t.Fatalf("LoadPending after clear: %v", err)
	}
	if got != nil {
		t.Errorf("slot after clear = %+v, want nil", got)
	}
	// Clearing twice is a no-op, not an error.
	if err := s.ClearPending(ctx); err != nil {
		t.Errorf("second ClearPending: %v", err)
	}
}

func TestSavePendingSamePromptAdvances(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// A multi-part scope clarification re-saves the slot for the same
	// prompt as each answer arrives: season first, then opponent.
	prompt := "pass map for Arsenal in that match"
	if err := s.SavePending(ctx, &PendingClarification{
		Kind:           ClarifyScope,
		ScopeKey:       "match",
		OriginalPrompt: prompt,
		Remaining:      2,
		Asking:         "season",
	}); err != nil {
		t.Fatalf("SavePending: %v", err)
	}
	if err := s.SavePending(ctx, &PendingClarification{
		Kind:           ClarifyScope,
		ScopeKey:       "match",
		OriginalPrompt: prompt,
		Remaining:      1,
		Asking:         "opponent",
	}); err != nil {
		t.Fatalf("SavePending advance: %v", err)
	}

	got, err := s.LoadPending(ctx)
	if err != nil {
		t.Fatalf("LoadPending: %v", err)
	}
	if got == nil || got.Asking != "opponent" || got.Remaining != 1 {
		t.Errorf("slot = %+v, want asking=opponent remaining=1", got)
	}
}

func TestReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Mutate(ctx, func(m *ConversationMemory) error {
		m.SetAlias("gunners", KindTeamName, "Arsenal")
		return nil
	}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if err := s.SavePending(ctx, &PendingClarification{Kind: ClarifyAlias, Key: "x", OriginalPrompt: "y"}); err != nil {
		t.Fatalf("SavePending: %v", err)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	mem, _ := s.Load(ctx)
	if len(mem.Aliases) != 0 {
		t.Errorf("aliases after reset = %d, want 0", len(mem.Aliases))
	}
	p, _ := s.LoadPending(ctx)
	if p != nil {
		t.Errorf("pending after reset = %+v, want nil", p)
	}
}

func TestImportLegacy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()

	legacyMem := map[string]any{
		"aliases": map[string]any{
			"gunners": map[string]string{"kind": "TeamName", "value": "Arsenal"},
			"saka":    map[string]string{"kind": "PlayerName", "value": "Bukayo Saka"},
		},
		"scopes": map[string]any{"lastEntity": "Arsenal"},
	}
	raw, _ := json.Marshal(legacyMem)
	if err := os.WriteFile(filepath.Join(dir, "memory.json"), raw, 0o644); err != nil {
		t.Fatal(err)
	}
	rawPending, _ := json.Marshal(PendingClarification{
		Kind: ClarifyAlias, Key: "sociedad", OriginalPrompt: "shot map for Sociedad",
	})
	if err := os.WriteFile(filepath.Join(dir, "pending.json"), rawPending, 0o644); err != nil {
		t.Fatal(err)
	}

	// Pre-existing aliases win over the file.
	if err := s.Mutate(ctx, func(m *ConversationMemory) error {
		m.SetAlias("saka", KindPlayerNickname, "B. Saka")
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := s.ImportLegacy(ctx, dir); err != nil {
		t.Fatalf("ImportLegacy: %v", err)
	}

	mem, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if a, _ := mem.ResolveAlias("gunners"); a.Value != "Arsenal" {
		t.Errorf("gunners = %+v, want Arsenal", a)
	}
	if a, _ := mem.ResolveAlias("saka"); a.Value != "B. Saka" {
		t.Errorf("saka = %+v, want the pre-existing binding to win", a)
	}
	if mem.Scopes.LastEntity != "Arsenal" {
		t.Errorf("LastEntity = %q", mem.Scopes.LastEntity)
	}
	p, err := s.LoadPending(ctx)
	if err != nil || p == nil || p.Key != "sociedad" {
		t.Errorf("pending = %+v, err %v", p, err)
	}

	// Files are renamed so the import never runs twice.
	if _, err := os.Stat(filepath.Join(dir, "memory.json")); !os.IsNotExist(err) {
		t.Error("memory.json still present after import")
	}
	if _, err := os.Stat(filepath.Join(dir, "memory.json.imported")); err != nil {
		t.Errorf("memory.json.imported missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "pending.json.imported")); err != nil {
		t.Errorf("pending.json.imported missing: %v", err)
	}
}

func TestKnownTeams(t *testing.T) {
	m := NewConversationMemory()
	m.SetAlias("gunners", KindTeamName, "Arsenal")
	m.SetAlias("arsenal", KindTeamName, "Arsenal")
	m.SetAlias("saka", KindPlayerName, "Bukayo Saka")
	teams := m.KnownTeams()
	if len(teams) != 1 || teams[0] != "Arsenal" {
		t.Errorf("KnownTeams = %v, want [Arsenal]", teams)
	}
}
