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
	"strings"
	"testing"

	"github.com/AleutianAI/pitchside/services/gateway"
	"github.com/AleutianAI/pitchside/services/memory"
	"github.com/AleutianAI/pitchside/services/sqlgen"
	badgerstore "github.com/AleutianAI/pitchside/services/storage/badger"
)

type fakeCounter struct {
	n       int
	filters []gateway.Filter
}

func (f *fakeCounter) Count(ctx context.Context, table string, filters []gateway.Filter) (int, error) {
	f.filters = filters
	return f.n, nil
}

func newTestPlanner(t *testing.T) (*Planner, *memory.Store, *fakeCounter) {
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

	store := memory.NewStore(db, nil)
	templates := sqlgen.NewTemplateStore(db, nil)
	counter := &fakeCounter{}
	return New(store, templates, nil, counter, nil), store, counter
}

func TestClassify(t *testing.T) {
	tests := []struct {
		prompt string
		intent Intent
		chart  string
	}{
		{"show me a shot map for Arsenal", IntentVisual, "shot_map"},
		{"pass network for Chelsea", IntentVisual, "pass_network"},
		{"top scorers by season", IntentVisual, "bumpy"},
		{"how many assists does Saka have", IntentDatabase, ""},
		{"hello, what can you do", IntentGeneral, ""},
	}
	for _, tt := range tests {
		cls := Classify(tt.prompt)
		if cls.Intent != tt.intent || cls.ChartType != tt.chart {
			t.Errorf("Classify(%q) = %+v, want %s/%s", tt.prompt, cls, tt.intent, tt.chart)
		}
	}
}

func TestLooksLikeNewQuestion(t *testing.T) {
	if !LooksLikeNewQuestion("show me a pass map instead") {
		t.Error("visualization verb not recognized as new question")
	}
	if LooksLikeNewQuestion("2023/2024") {
		t.Error("season answer misread as new question")
	}
	if LooksLikeNewQuestion("it's a team") {
		t.Error("alias answer misread as new question")
	}
}

func TestDirectAnswerPath(t *testing.T) {
	p, _, counter := newTestPlanner(t)
	counter.n = 42

	d, err := p.Plan(context.Background(), "how many goals did Mohamed Salah score?")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if d.Kind != DecideAnswer {
		t.Fatalf("kind = %v, want DecideAnswer", d.Kind)
	}
	if d.Text != "Mohamed Salah has scored 42 goals in the database." {
		t.Errorf("text = %q", d.Text)
	}
	// The count must look at goal events for the player.
	var sawPlayer, sawGoal bool
	for _, f := range counter.filters {
		if f.Column == "player_name" && f.Value == "Mohamed Salah" {
			sawPlayer = true
		}
		if f.Column == "outcome" && f.Value == "Goal" {
			sawGoal = true
		}
	}
	if !sawPlayer || !sawGoal {
		t.Errorf("count filters = %+v", counter.filters)
	}
}

func TestComparisonRenderShortcut(t *testing.T) {
	p, _, _ := newTestPlanner(t)

	d, err := p.Plan(context.Background(), "show a shot map comparing Al Ahly and Pyramids")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if d.Kind != DecideRender {
		t.Fatalf("kind = %v, want DecideRender", d.Kind)
	}
	if d.Intent != IntentVisual || d.ChartType != "shot_map" {
		t.Errorf("intent/chart = %s/%s", d.Intent, d.ChartType)
	}
	if d.Template == nil || d.Template.Name != "shots_by_team" {
		t.Errorf("template = %+v", d.Template)
	}
	vars := d.Vars()
	if vars["team_a"] != "Al Ahly" || vars["team_b"] != "Pyramids" {
		t.Errorf("vars = %+v", vars)
	}
	if d.SeriesSplitField != "team_name" {
		t.Errorf("series split = %q", d.SeriesSplitField)
	}
}

func TestContinuationPronounResolvesLastTeams(t *testing.T) {
	p, store, _ := newTestPlanner(t)
	ctx := context.Background()

	if err := store.Mutate(ctx, func(m *memory.ConversationMemory) error {
		m.Scopes.LastTeams = &memory.TeamPair{TeamA: "Al Ahly", TeamB: "Pyramids"}
		return nil
	}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	d, err := p.Plan(ctx, "show a shot map comparing them")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if d.Kind != DecideRender {
		t.Fatalf("kind = %v, want DecideRender", d.Kind)
	}
	vars := d.Vars()
	if vars["team_a"] != "Al Ahly" || vars["team_b"] != "Pyramids" {
		t.Errorf("vars = %+v, want the remembered pair", vars)
	}
	if d.SeriesSplitField != "team_name" {
		t.Errorf("series split = %q", d.SeriesSplitField)
	}
}

func TestContinuationPronounResolvesLastEntity(t *testing.T) {
	p, store, _ := newTestPlanner(t)
	ctx := context.Background()

	if err := store.Mutate(ctx, func(m *memory.ConversationMemory) error {
		m.Scopes.LastEntity = "Arsenal"
		m.Scopes.LastSeason = "2023/2024"
		return nil
	}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	d, err := p.Plan(ctx, "show a heatmap for that team")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if d.Kind != DecideRender {
		t.Fatalf("kind = %v, want DecideRender", d.Kind)
	}
	vars := d.Vars()
	if vars["team"] != "Arsenal" || vars["season"] != "2023/2024" {
		t.Errorf("vars = %+v, want the remembered entity and season", vars)
	}
}

func TestContinuationHalfFollowUpReusesPassMapScope(t *testing.T) {
	p, store, _ := newTestPlanner(t)
	ctx := context.Background()

	if err := store.Mutate(ctx, func(m *memory.ConversationMemory) error {
		m.Scopes.LastPassMap = &memory.PassMapScope{Team: "Arsenal"}
		m.Scopes.LastSeason = "2023/2024"
		return nil
	}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	d, err := p.Plan(ctx, "now the second half of that pass map")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if d.Kind != DecideRender {
		t.Fatalf("kind = %v, want DecideRender", d.Kind)
	}
	if vars := d.Vars(); vars["team"] != "Arsenal" {
		t.Errorf("vars = %+v, want the pass-map subject", vars)
	}
}

func TestScopeClarificationTwoSteps(t *testing.T) {
	p, store, _ := newTestPlanner(t)
	ctx := context.Background()

	// The planner has to know Arsenal, otherwise it asks about the name.
	if err := store.Mutate(ctx, func(m *memory.ConversationMemory) error {
		m.SetAlias("arsenal", memory.KindTeamName, "Arsenal")
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	d, err := p.Plan(ctx, "show a heatmap for Arsenal in that match")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if d.Kind != DecideClarify || !strings.Contains(strings.ToLower(d.Text), "season") {
		t.Fatalf("first step = %+v", d)
	}

	d, err = p.Plan(ctx, "2023/2024")
	if err != nil {
		t.Fatalf("season answer: %v", err)
	}
	if d.Kind != DecideClarify || !strings.Contains(strings.ToLower(d.Text), "opponent") {
		t.Fatalf("second step = %+v", d)
	}

	d, err = p.Plan(ctx, "Chelsea")
	if err != nil {
		t.Fatalf("opponent answer: %v", err)
	}
	// Replay of the original prompt with the season applied hits the
	// built-in heatmap template.
	if d.Kind != DecideRender || d.ChartType != "heatmap" {
		t.Fatalf("replay = %+v", d)
	}

	// State machine is back in Idle with both values recorded.
	pending, err := store.LoadPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if pending != nil {
		t.Errorf("pending not cleared: %+v", pending)
	}
	mem, _ := store.Load(ctx)
	if mem.Scopes.LastSeason != "2023/2024" {
		t.Errorf("season scope = %q", mem.Scopes.LastSeason)
	}
	if mem.Scopes.LastMatch == nil || len(mem.Scopes.LastMatch.Teams) != 1 || mem.Scopes.LastMatch.Teams[0] != "Chelsea" {
		t.Errorf("match scope = %+v", mem.Scopes.LastMatch)
	}
}

func TestAliasClarification(t *testing.T) {
	p, store, _ := newTestPlanner(t)
	ctx := context.Background()

	d, err := p.Plan(ctx, "show a shot map for Sociedad")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if d.Kind != DecideClarify || !strings.Contains(d.Text, "Sociedad") {
		t.Fatalf("clarification = %+v", d)
	}

	d, err = p.Plan(ctx, "it's a team")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	// With the alias recorded but no season, the turn goes to the tool
	// loop with the renderer forced.
	if d.Kind != DecideToolLoop || d.ForceTool != "render_mplsoccer" {
		t.Fatalf("replay = %+v", d)
	}

	mem, _ := store.Load(ctx)
	if a, ok := mem.ResolveAlias("Sociedad"); !ok || a.Kind != memory.KindTeamName {
		t.Errorf("alias = %+v, %v", a, ok)
	}
}

func TestNewQuestionDiscardsPending(t *testing.T) {
	p, store, _ := newTestPlanner(t)
	ctx := context.Background()

	if err := store.SavePending(ctx, &memory.PendingClarification{
		Kind: memory.ClarifyAlias, Key: "sociedad", OriginalPrompt: "shot map for Sociedad",
	}); err != nil {
		t.Fatal(err)
	}

	d, err := p.Plan(ctx, "how many goals did Mohamed Salah score?")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if d.Kind != DecideAnswer {
		t.Fatalf("kind = %v, want the new question answered", d.Kind)
	}
	pending, _ := store.LoadPending(ctx)
	if pending != nil {
		t.Errorf("pending survived a new question: %+v", pending)
	}
}

func TestUnclassifiableAliasAnswerAsksAgain(t *testing.T) {
	p, store, _ := newTestPlanner(t)
	ctx := context.Background()

	if err := store.SavePending(ctx, &memory.PendingClarification{
		Kind: memory.ClarifyAlias, Key: "sociedad", OriginalPrompt: "shot map for Sociedad",
	}); err != nil {
		t.Fatal(err)
	}

	d, err := p.Plan(ctx, "hmm, not sure")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if d.Kind != DecideClarify {
		t.Fatalf("kind = %v, want a repeat question", d.Kind)
	}
	pending, _ := store.LoadPending(ctx)
	if pending == nil {
		t.Error("pending slot was cleared by an unusable answer")
	}
}

func TestGeneralPromptGoesToToolLoop(t *testing.T) {
	p, _, _ := newTestPlanner(t)

	d, err := p.Plan(context.Background(), "hello, what can you do")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if d.Kind != DecideToolLoop || d.Intent != IntentGeneral || d.ForceTool != "" {
		t.Errorf("decision = %+v", d)
	}
}
