// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/pitchside/services/llm"
	"github.com/AleutianAI/pitchside/services/orchestrator"
	"github.com/AleutianAI/pitchside/services/planner"
)

type fakePlanner struct {
	decision *planner.Decision
	err      error
	prompt   string
}

func (f *fakePlanner) Plan(_ context.Context, prompt string) (*planner.Decision, error) {
	f.prompt = prompt
	return f.decision, f.err
}

type fakeExecutor struct {
	reply   *orchestrator.Reply
	err     error
	history []llm.ChatMessage
}

func (f *fakeExecutor) Execute(_ context.Context, _ *planner.Decision, history []llm.ChatMessage) (*orchestrator.Reply, error) {
	f.history = history
	return f.reply, f.err
}

func newTestRouter(p Planner, e Executor) (*gin.Engine, *Handlers) {
	gin.SetMode(gin.TestMode)
	h := NewHandlers(p, e, nil, nil, nil)
	router := gin.New()
	RegisterRoutes(router.Group("/v1"), h)
	return router, h
}

func postChat(t *testing.T, router *gin.Engine, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestHandleChatCompletions_TextReply(t *testing.T) {
	p := &fakePlanner{decision: &planner.Decision{Kind: planner.DecideAnswer, Text: "42 goals"}}
	e := &fakeExecutor{reply: &orchestrator.Reply{Text: "42 goals"}}
	router, _ := newTestRouter(p, e)

	w := postChat(t, router, ChatRequest{
		Messages: []ChatTurn{
			{Role: "system", Content: "ignored"},
			{Role: "user", Content: "how many goals has Saka scored"},
			{Role: "assistant", Content: "checking"},
			{Role: "user", Content: "  and this season?  "},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp ChatResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "42 goals" {
		t.Errorf("choices = %+v", resp.Choices)
	}
	if resp.Image != nil {
		t.Errorf("unexpected image")
	}
	if p.prompt != "and this season?" {
		t.Errorf("prompt = %q, want trailing user message trimmed", p.prompt)
	}
	// History excludes the system turn and the trailing user message.
	if len(e.history) != 2 || e.history[0].Content != "how many goals has Saka scored" {
		t.Errorf("history = %+v", e.history)
	}
}

func TestHandleChatCompletions_ImageReply(t *testing.T) {
	p := &fakePlanner{decision: &planner.Decision{Kind: planner.DecideToolLoop}}
	e := &fakeExecutor{reply: &orchestrator.Reply{
		Text:        "Here's the shot map for Arsenal.\n\nMost shots were central.",
		ImageBase64: "aW1n",
		Mime:        "image/png",
	}}
	router, h := newTestRouter(p, e)

	events := h.Broadcaster().Subscribe()
	defer h.Broadcaster().Unsubscribe(events)

	w := postChat(t, router, ChatRequest{
		Messages: []ChatTurn{{Role: "user", Content: "shot map for Arsenal"}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp ChatResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Image == nil || resp.Image.Base64 != "aW1n" || resp.Image.Mime != "image/png" {
		t.Fatalf("image = %+v", resp.Image)
	}

	// thinking then chart, with the caption's first line as the spoken cue.
	first := <-events
	if first.Type != "thinking" {
		t.Errorf("first event = %+v", first)
	}
	second := <-events
	if second.Type != "chart" || second.Text != "Here's the shot map for Arsenal." {
		t.Errorf("second event = %+v", second)
	}
}

func TestHandleChatCompletions_Degradation(t *testing.T) {
	p := &fakePlanner{decision: &planner.Decision{Kind: planner.DecideToolLoop}}
	e := &fakeExecutor{err: fmt.Errorf("orchestrator: completion round 1: boom")}
	router, _ := newTestRouter(p, e)

	w := postChat(t, router, ChatRequest{
		Messages: []ChatTurn{{Role: "user", Content: "anything"}},
	})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var resp ChatResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content == "" {
		t.Errorf("degraded reply must still carry user-visible text: %+v", resp)
	}
	// The raw upstream error never leaks into the reply text.
	if resp.Choices[0].Message.Content == e.err.Error() {
		t.Errorf("upstream error leaked verbatim")
	}
}

func TestHandleChatCompletions_BadRequests(t *testing.T) {
	router, _ := newTestRouter(&fakePlanner{}, &fakeExecutor{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader([]byte("{not json")))
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d", w.Code)
	}

	w = postChat(t, router, ChatRequest{Messages: []ChatTurn{{Role: "assistant", Content: "no user turn"}}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing user turn: status = %d", w.Code)
	}
	var errResp ErrorResponse
	json.Unmarshal(w.Body.Bytes(), &errResp)
	if errResp.Code != "MISSING_PROMPT" {
		t.Errorf("code = %q", errResp.Code)
	}
}

func TestHandleReady(t *testing.T) {
	failing := []ReadyCheck{
		{Name: "renderer", Probe: func(context.Context) error { return nil }},
		{Name: "gateway", Probe: func(context.Context) error { return fmt.Errorf("down") }},
	}
	gin.SetMode(gin.TestMode)
	h := NewHandlers(&fakePlanner{}, &fakeExecutor{}, nil, failing, nil)
	router := gin.New()
	RegisterRoutes(router.Group("/v1"), h)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]string
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["dependency"] != "gateway" {
		t.Errorf("failing dependency = %q", body["dependency"])
	}

	h2 := NewHandlers(&fakePlanner{}, &fakeExecutor{}, nil, nil, nil)
	router2 := gin.New()
	RegisterRoutes(router2.Group("/v1"), h2)
	w2 := httptest.NewRecorder()
	router2.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))
	if w2.Code != http.StatusOK {
		t.Errorf("no checks: status = %d", w2.Code)
	}
}

func TestBroadcaster_DropsSlowSubscribers(t *testing.T) {
	b := NewBroadcaster(nil)
	fast := b.Subscribe()
	slow := b.Subscribe()
	defer b.Unsubscribe(fast)

	// Fill the slow subscriber's buffer, then keep publishing.
	for i := 0; i < 20; i++ {
		b.Publish(Event{Type: "reply", Text: "x"})
		// Drain fast so it never blocks the publisher either.
		select {
		case <-fast:
		default:
		}
	}

	drained := 0
	for {
		select {
		case <-slow:
			drained++
			continue
		default:
		}
		break
	}
	if drained == 0 || drained > 8 {
		t.Errorf("slow subscriber drained %d events, want its buffer size at most", drained)
	}
	b.Unsubscribe(slow)
	if b.Subscribers() != 1 {
		t.Errorf("subscribers = %d", b.Subscribers())
	}
}
