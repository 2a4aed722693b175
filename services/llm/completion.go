// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm is the client for the external completion API.
//
// The client speaks the OpenAI chat-completions wire format directly over
// net/http. Failure policy (mirrored by the orchestrator's tests):
//
//   - request timeout: retried exactly once
//   - 5xx or 429: one-shot failover to the configured fallback model,
//     unless the request was already on the fallback
//   - anything else: propagated to the caller as an error string; the
//     request boundary turns it into a user-visible message
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// Wire Types
// =============================================================================

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Tools       []ToolDef     `json:"tools,omitempty"`
	ToolChoice  any           `json:"tool_choice,omitempty"`
}

type completionResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Choices []completionChoice `json:"choices"`
	Error   *completionError   `json:"error,omitempty"`
}

type completionChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type completionError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// wireToolChoice serializes a forced ToolChoice into the OpenAI shape.
func wireToolChoice(choice *ToolChoice) any {
	if choice == nil {
		return nil
	}
	return map[string]any{
		"type":     "function",
		"function": map[string]string{"name": choice.Name},
	}
}

// =============================================================================
// Client
// =============================================================================

// GenerationParams are per-call generation knobs.
type GenerationParams struct {
	// Temperature controls randomness. Nil uses the provider default.
	Temperature *float64

	// MaxTokens limits the response length. Nil uses the provider default.
	MaxTokens *int

	// ModelOverride replaces the configured model for this call only.
	ModelOverride string
}

// Config configures a Client.
type Config struct {
	// BaseURL is the chat-completions endpoint.
	BaseURL string

	// APIKey is sent as a bearer token.
	APIKey string

	// Model is the primary model.
	Model string

	// FallbackModel is tried once on 5xx/429. Empty disables failover.
	FallbackModel string

	// Timeout is the hard per-request timeout; it aborts the connection.
	Timeout time.Duration

	// RequestsPerMinute rate-limits outbound calls. Zero disables.
	RequestsPerMinute int
}

// Client calls the completion API.
//
// Thread Safety: Client is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	cfg        Config
	limiter    *rate.Limiter
}

// NewClient creates a completion API client.
//
// Outputs:
//   - *Client: The configured client.
//   - error: Non-nil if the base URL or API key is missing.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("llm: completion base URL is missing")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: completion API key is missing")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.RequestsPerMinute)
	}

	slog.Info("Initializing completion client",
		slog.String("model", cfg.Model),
		slog.String("fallback_model", cfg.FallbackModel),
	)
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		limiter:    limiter,
	}, nil
}

// Model returns the configured primary model name.
func (c *Client) Model() string { return c.cfg.Model }

// Chat sends a plain (tool-free) chat completion request.
//
// Description:
//
//	Used by the post-hoc analysis pass, which needs a short text answer
//	over a capped data preview. Applies the same timeout-retry and
//	fallback policy as ChatWithTools.
//
// Outputs:
//   - string: The assistant's text response.
//   - error: Non-nil if the request fails after retry/failover.
func (c *Client) Chat(ctx context.Context, messages []ChatMessage, params GenerationParams) (string, error) {
	result, err := c.ChatWithTools(ctx, messages, params, nil, nil)
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

// ChatWithTools sends a chat completion request with tool definitions.
//
// Inputs:
//   - ctx: Context for cancellation. The client adds its own hard timeout.
//   - messages: Conversation history including tool results.
//   - params: Generation parameters.
//   - tools: Tool definitions; nil for a plain chat call.
//   - choice: Non-nil to force a specific tool, nil for auto.
//
// Outputs:
//   - *ChatWithToolsResult: Content and/or tool calls.
//   - error: Non-nil on failure after the retry/failover policy.
//
// Thread Safety: This method is safe for concurrent use.
func (c *Client) ChatWithTools(ctx context.Context, messages []ChatMessage,
	params GenerationParams, tools []ToolDef, choice *ToolChoice) (*ChatWithToolsResult, error) {

	model := c.cfg.Model
	if params.ModelOverride != "" {
		model = params.ModelOverride
	}

	result, err := c.send(ctx, model, messages, params, tools, choice)
	if err == nil {
		return result, nil
	}

	// Single retry on request-timeout abort.
	if isTimeout(err) {
		slog.Warn("Completion request timed out, retrying once",
			slog.String("model", model))
		result, err = c.send(ctx, model, messages, params, tools, choice)
		if err == nil {
			return result, nil
		}
	}

	// One-shot failover to the fallback model on 5xx/429, unless this
	// call was already running on the fallback.
	var upstream *upstreamError
	if errors.As(err, &upstream) && upstream.Retryable() &&
		c.cfg.FallbackModel != "" && model != c.cfg.FallbackModel {
		slog.Warn("Completion API degraded, failing over to fallback model",
			slog.Int("status", upstream.Status),
			slog.String("model", model),
			slog.String("fallback", c.cfg.FallbackModel),
		)
		recordFallback(model, c.cfg.FallbackModel)
		return c.send(ctx, c.cfg.FallbackModel, messages, params, tools, choice)
	}

	return nil, err
}

// upstreamError is a non-2xx response from the completion API.
type upstreamError struct {
	Status int
	Body   string
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("llm: completion API returned status %d: %s", e.Status, SafeLogString(e.Body))
}

// Retryable reports whether the status qualifies for model failover.
func (e *upstreamError) Retryable() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// isTimeout reports whether err is the hard request timeout firing.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

// send performs one wire round trip with no retry logic.
func (c *Client) send(ctx context.Context, model string, messages []ChatMessage,
	params GenerationParams, tools []ToolDef, choice *ToolChoice) (*ChatWithToolsResult, error) {

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("llm: rate limiter: %w", err)
		}
	}

	reqPayload := completionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		Tools:       tools,
	}
	if tc := wireToolChoice(choice); tc != nil {
		reqPayload.ToolChoice = tc
	}

	reqBody, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("llm: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("llm: creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	slog.Debug("Sending completion request",
		slog.String("model", model),
		slog.Int("messages", len(messages)),
		slog.Int("tools", len(tools)),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		recordCompletionCall(model, "transport_error", time.Since(start))
		return nil, fmt.Errorf("llm: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		recordCompletionCall(model, "read_error", time.Since(start))
		return nil, fmt.Errorf("llm: reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		recordCompletionCall(model, fmt.Sprintf("http_%d", resp.StatusCode), time.Since(start))
		return nil, &upstreamError{Status: resp.StatusCode, Body: string(bodyBytes)}
	}

	var apiResp completionResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		recordCompletionCall(model, "parse_error", time.Since(start))
		return nil, fmt.Errorf("llm: parsing response JSON: %w", err)
	}
	if apiResp.Error != nil {
		recordCompletionCall(model, "api_error", time.Since(start))
		return nil, fmt.Errorf("llm: API error: %s - %s", apiResp.Error.Type, SafeLogString(apiResp.Error.Message))
	}
	if len(apiResp.Choices) == 0 {
		recordCompletionCall(model, "no_choices", time.Since(start))
		return nil, fmt.Errorf("llm: completion API returned no choices")
	}

	recordCompletionCall(model, "success", time.Since(start))

	choiceMsg := apiResp.Choices[0]
	result := &ChatWithToolsResult{
		Content:   choiceMsg.Message.Content,
		ToolCalls: choiceMsg.Message.ToolCalls,
		Model:     model,
	}
	if len(result.ToolCalls) > 0 {
		result.StopReason = "tool_use"
	} else {
		result.StopReason = "end"
	}

	slog.Debug("Received completion response",
		slog.String("finish_reason", choiceMsg.FinishReason),
		slog.Int("tool_calls", len(result.ToolCalls)),
		slog.Int("response_len", len(result.Content)),
	)
	return result, nil
}
