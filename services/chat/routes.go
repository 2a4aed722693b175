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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the chat routes with the router group.
//
// Endpoints:
//
//	POST /v1/chat/completions - Chat turn (OpenAI-compatible)
//	GET  /v1/voice/events - Voice event SSE stream
//	GET  /v1/health - Health check
//	GET  /v1/ready - Readiness check
//
// Example:
//
//	handlers := chat.NewHandlers(p, o, nil, checks, logger)
//	v1 := router.Group("/v1")
//	chat.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	rg.POST("/chat/completions", handlers.HandleChatCompletions)
	rg.GET("/voice/events", handlers.HandleVoiceEvents)
	rg.GET("/health", handlers.HandleHealth)
	rg.GET("/ready", handlers.HandleReady)
}
