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
	"io"
	"log/slog"
	"sync"

	"github.com/gin-gonic/gin"
)

// Event is one voice-bridge notification.
type Event struct {
	// Type is "thinking", "chart", or "reply".
	Type string `json:"type"`

	// Text carries the caption or reply text, when any.
	Text string `json:"text,omitempty"`
}

// Broadcaster fans events out to SSE subscribers.
//
// Description:
//
//	Delivery is best effort: a subscriber whose buffer is full misses the
//	event rather than blocking the publisher. The voice bridge treats the
//	stream as advisory, so dropped events only cost a spoken cue.
//
// Thread Safety: Broadcaster is safe for concurrent use.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[chan Event]bool
	logger *slog.Logger
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{subs: make(map[chan Event]bool), logger: logger}
}

// Subscribe registers a new subscriber and returns its event channel.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, 8)
	b.mu.Lock()
	b.subs[ch] = true
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if b.subs[ch] {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish sends the event to every subscriber, dropping it for any
// subscriber that cannot keep up.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("chat: voice event dropped for slow subscriber", "type", ev.Type)
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// HandleVoiceEvents handles GET /v1/voice/events.
//
// Description:
//
//	Streams voice events as server-sent events until the client goes away.
func (h *Handlers) HandleVoiceEvents(c *gin.Context) {
	ch := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(ch)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(_ io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Type, ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
