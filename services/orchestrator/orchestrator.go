// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator executes planner decisions: it runs the bounded
// tool-calling loop against the completion API, dispatches tool calls to the
// database gateway and the chart renderer, and turns render results into
// replies with a short analysis of the underlying data.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/pitchside/services/gateway"
	"github.com/AleutianAI/pitchside/services/llm"
	"github.com/AleutianAI/pitchside/services/nlu"
	"github.com/AleutianAI/pitchside/services/planner"
	"github.com/AleutianAI/pitchside/services/render"
	"github.com/AleutianAI/pitchside/services/semantics"
	"github.com/AleutianAI/pitchside/services/sqlgen"
)

const systemPrompt = `You are a football analytics assistant with read-only access to a match-event database.
Answer questions about teams, players, matches, and seasons using the tools.
Call get_schema and get_semantic_hints before writing SQL against unfamiliar tables.
Pitch coordinates are on a 0-100 scale. Use render_mplsoccer for any chart request.
Keep text answers grounded in tool results; never invent numbers.`

// Completer is the slice of the completion client the orchestrator uses.
type Completer interface {
	Chat(ctx context.Context, messages []llm.ChatMessage, params llm.GenerationParams) (string, error)
	ChatWithTools(ctx context.Context, messages []llm.ChatMessage, params llm.GenerationParams, tools []llm.ToolDef, choice *llm.ToolChoice) (*llm.ChatWithToolsResult, error)
}

// TemplateLearner is the slice of the template store the orchestrator uses to
// look up templates by name and to learn from successful literal-query renders.
type TemplateLearner interface {
	All(ctx context.Context) ([]*sqlgen.QueryTemplate, error)
	Learn(ctx context.Context, chartType, literalQuery, sourcePrompt string, params nlu.Params) (*sqlgen.QueryTemplate, error)
}

// Config bounds the loop and the analysis pass.
type Config struct {
	MaxToolRounds    int
	AnalysisMaxRows  int
	AnalysisMaxChars int
}

// Reply is the orchestrator's answer to one prompt.
type Reply struct {
	// Text is the conversational answer, including the caption and the
	// analysis paragraph when a chart was rendered.
	Text string

	// ImageBase64 holds the rendered chart when one was produced.
	ImageBase64 string

	// Mime is the image MIME type; empty when ImageBase64 is empty.
	Mime string
}

// Orchestrator runs tool loops and render shortcuts.
//
// Thread Safety: Orchestrator is safe for concurrent use; per-request state
// lives on the stack.
type Orchestrator struct {
	completer Completer
	gateway   *gateway.Client
	schema    *gateway.SchemaCache
	renderer  *render.Client
	hints     *semantics.Provider
	templates TemplateLearner
	memory    ScopeRecorder
	cfg       Config
	logger    *slog.Logger
}

// New wires an orchestrator. completer, gw, schema, renderer, and hints are
// required; templates and mem may be nil, which disables template learning
// and scope recording respectively.
func New(completer Completer, gw *gateway.Client, schema *gateway.SchemaCache, renderer *render.Client, hints *semantics.Provider, templates TemplateLearner, mem ScopeRecorder, cfg Config, logger *slog.Logger) *Orchestrator {
	if completer == nil || gw == nil || schema == nil || renderer == nil || hints == nil {
		panic("orchestrator.New: completer, gateway, schema, renderer, and hints are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 6
	}
	if cfg.AnalysisMaxRows <= 0 {
		cfg.AnalysisMaxRows = 200
	}
	if cfg.AnalysisMaxChars <= 0 {
		cfg.AnalysisMaxChars = 6000
	}
	return &Orchestrator{
		completer: completer,
		gateway:   gw,
		schema:    schema,
		renderer:  renderer,
		hints:     hints,
		templates: templates,
		memory:    mem,
		cfg:       cfg,
		logger:    logger,
	}
}

// Execute carries out a planner decision. DecideAnswer and DecideClarify
// pass through unchanged; DecideRender runs the deterministic render path;
// DecideToolLoop runs the bounded tool-calling loop.
func (o *Orchestrator) Execute(ctx context.Context, d *planner.Decision, history []llm.ChatMessage) (*Reply, error) {
	ctx, span := otel.Tracer("pitchside/orchestrator").Start(ctx, "orchestrator.Execute",
		trace.WithAttributes(attribute.String("decision.kind", d.Kind.String())))
	defer span.End()

	switch d.Kind {
	case planner.DecideAnswer, planner.DecideClarify:
		return &Reply{Text: d.Text}, nil
	case planner.DecideRender:
		return o.executeRenderDecision(ctx, d)
	case planner.DecideToolLoop:
		return o.runToolLoop(ctx, d, history)
	default:
		return nil, fmt.Errorf("orchestrator: unknown decision kind %q", d.Kind)
	}
}

// ============================================================================
// Tool loop
// ============================================================================

func (o *Orchestrator) runToolLoop(ctx context.Context, d *planner.Decision, history []llm.ChatMessage) (*Reply, error) {
	messages := make([]llm.ChatMessage, 0, len(history)+2)
	messages = append(messages, llm.ChatMessage{Role: "system", Content: systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, llm.ChatMessage{Role: "user", Content: d.Prompt})

	// A forced tool applies to the first round only; after that the model
	// decides for itself.
	var choice *llm.ToolChoice
	if d.ForceTool != "" {
		choice = &llm.ToolChoice{Name: d.ForceTool}
	}

	var lastContent string
	for round := 0; round < o.cfg.MaxToolRounds; round++ {
		result, err := o.completer.ChatWithTools(ctx, messages, llm.GenerationParams{}, toolDefs, choice)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: completion round %d: %w", round+1, err)
		}
		choice = nil

		if len(result.ToolCalls) == 0 {
			toolRounds.Observe(float64(round))
			return &Reply{Text: strings.TrimSpace(result.Content)}, nil
		}
		lastContent = result.Content

		messages = append(messages, llm.ChatMessage{
			Role:      "assistant",
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		})

		for i := range result.ToolCalls {
			call := &result.ToolCalls[i]
			if call.Name == toolRenderMplsoccer {
				reply, err := o.executeRenderCall(ctx, d, call)
				if err != nil {
					toolCalls.WithLabelValues(call.Name, "error").Inc()
					messages = append(messages, toolResult(call, "render failed: "+err.Error()))
					continue
				}
				toolCalls.WithLabelValues(call.Name, "ok").Inc()
				toolRounds.Observe(float64(round + 1))
				return reply, nil
			}

			payload, err := o.executeDataTool(ctx, call)
			if err != nil {
				toolCalls.WithLabelValues(call.Name, "error").Inc()
				o.logger.Warn("orchestrator: tool call failed",
					"tool", call.Name, "error", err)
				payload = "error: " + err.Error()
			} else {
				toolCalls.WithLabelValues(call.Name, "ok").Inc()
			}
			messages = append(messages, toolResult(call, payload))
		}
	}

	toolRounds.Observe(float64(o.cfg.MaxToolRounds))
	o.logger.Warn("orchestrator: tool loop exhausted", "rounds", o.cfg.MaxToolRounds, "prompt", d.Prompt)
	if strings.TrimSpace(lastContent) != "" {
		return &Reply{Text: strings.TrimSpace(lastContent)}, nil
	}
	return &Reply{Text: "I couldn't finish answering that within the allowed number of lookups. Could you narrow the question down?"}, nil
}

func toolResult(call *llm.ToolCallResponse, payload string) llm.ChatMessage {
	return llm.ChatMessage{Role: "tool", ToolCallID: call.ID, Content: payload}
}
