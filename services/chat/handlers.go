// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chat is the inbound HTTP surface: the OpenAI-compatible chat
// endpoint the UI and voice bridge post to, the voice-event SSE stream, and
// the health probes.
package chat

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/pitchside/services/llm"
	"github.com/AleutianAI/pitchside/services/orchestrator"
	"github.com/AleutianAI/pitchside/services/planner"
)

// Planner plans one prompt into a decision.
type Planner interface {
	Plan(ctx context.Context, prompt string) (*planner.Decision, error)
}

// Executor carries out a planner decision.
type Executor interface {
	Execute(ctx context.Context, d *planner.Decision, history []llm.ChatMessage) (*orchestrator.Reply, error)
}

// ChatRequest is the OpenAI-compatible inbound body.
type ChatRequest struct {
	Model       string     `json:"model"`
	Temperature float64    `json:"temperature"`
	MaxTokens   int        `json:"max_tokens"`
	Messages    []ChatTurn `json:"messages"`
	Source      string     `json:"source,omitempty"`
}

// ChatTurn is one message in the inbound conversation.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse mirrors the completion-API response shape the UI expects,
// plus the rendered image when there is one.
type ChatResponse struct {
	Choices []Choice `json:"choices"`
	Image   *Image   `json:"image,omitempty"`
}

// Choice wraps the assistant message.
type Choice struct {
	Message ChatTurn `json:"message"`
}

// Image is a rendered chart attached to the reply.
type Image struct {
	Base64 string `json:"base64"`
	Mime   string `json:"mime"`
}

// ErrorResponse is the error body for rejected requests.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ReadyCheck probes one downstream dependency.
type ReadyCheck struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Handlers holds the chat endpoint dependencies.
//
// Thread Safety: Handlers is safe for concurrent use.
type Handlers struct {
	planner     Planner
	executor    Executor
	broadcaster *Broadcaster
	readyChecks []ReadyCheck
	logger      *slog.Logger
}

// NewHandlers wires the chat handlers. planner and executor are required.
func NewHandlers(p Planner, e Executor, b *Broadcaster, checks []ReadyCheck, logger *slog.Logger) *Handlers {
	if p == nil || e == nil {
		panic("chat.NewHandlers: planner and executor are required")
	}
	if b == nil {
		b = NewBroadcaster(logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{planner: p, executor: e, broadcaster: b, readyChecks: checks, logger: logger}
}

// Broadcaster exposes the voice-event broadcaster for callers that publish
// their own events.
func (h *Handlers) Broadcaster() *Broadcaster { return h.broadcaster }

// HandleChatCompletions handles POST /v1/chat/completions.
//
// Description:
//
//	Takes the trailing user message as the prompt, hands the prior turns to
//	the tool loop as history, and returns the reply in the completion-API
//	response shape. Any failure past request validation degrades to a
//	user-visible apology with a 500 status; the process never dies on a
//	request-level error.
func (h *Handlers) HandleChatCompletions(c *gin.Context) {
	requestID := uuid.NewString()
	logger := h.logger.With("request_id", requestID, "handler", "HandleChatCompletions")

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed request body: " + err.Error(), Code: "BAD_REQUEST"})
		return
	}
	prompt, history := splitPrompt(req.Messages)
	if prompt == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "no user message in request", Code: "MISSING_PROMPT"})
		return
	}
	logger.Info("Chat request received",
		slog.String("source", req.Source), slog.Int("history", len(history)))

	h.broadcaster.Publish(Event{Type: "thinking"})

	ctx := c.Request.Context()
	decision, err := h.planner.Plan(ctx, prompt)
	if err != nil {
		h.degrade(c, logger, "planning", err)
		return
	}
	reply, err := h.executor.Execute(ctx, decision, history)
	if err != nil {
		h.degrade(c, logger, "execution", err)
		return
	}

	resp := ChatResponse{
		Choices: []Choice{{Message: ChatTurn{Role: "assistant", Content: reply.Text}}},
	}
	if reply.ImageBase64 != "" {
		resp.Image = &Image{Base64: reply.ImageBase64, Mime: reply.Mime}
		h.broadcaster.Publish(Event{Type: "chart", Text: firstLine(reply.Text)})
	} else {
		h.broadcaster.Publish(Event{Type: "reply", Text: reply.Text})
	}
	c.JSON(http.StatusOK, resp)
}

// degrade turns a request-level failure into a spoken-friendly reply with an
// error status.
func (h *Handlers) degrade(c *gin.Context, logger *slog.Logger, stage string, err error) {
	logger.Error("Chat request failed", slog.String("stage", stage), slog.String("error", err.Error()))
	text := "Sorry, something went wrong handling that. Please try again."
	h.broadcaster.Publish(Event{Type: "reply", Text: text})
	c.JSON(http.StatusInternalServerError, ChatResponse{
		Choices: []Choice{{Message: ChatTurn{Role: "assistant", Content: text}}},
	})
}

// splitPrompt returns the trailing user message and the prior turns as
// completion-API history. System turns from the caller are dropped; the
// orchestrator supplies its own system prompt.
func splitPrompt(messages []ChatTurn) (string, []llm.ChatMessage) {
	last := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			last = i
			break
		}
	}
	if last < 0 {
		return "", nil
	}
	var history []llm.ChatMessage
	for _, m := range messages[:last] {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		history = append(history, llm.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return strings.TrimSpace(messages[last].Content), history
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// HandleHealth handles GET /v1/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleReady handles GET /v1/ready.
//
// Description:
//
//	Probes each configured dependency; any failure reports 503 with the
//	failing dependency named.
func (h *Handlers) HandleReady(c *gin.Context) {
	for _, check := range h.readyChecks {
		if err := check.Probe(c.Request.Context()); err != nil {
			h.logger.Warn("Readiness probe failed",
				slog.String("dependency", check.Name), slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "dependency": check.Name})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
