// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// =============================================================================
// Schema Snapshot
// =============================================================================

// Column is one column of a public table.
type Column struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Format string `json:"format"`
}

// Table is one public table and its columns.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// SchemaSnapshot is a read-only view of the gateway's table metadata.
//
// Every table or column name used in a hand-assembled query must appear
// here before the query is allowed to execute.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type SchemaSnapshot struct {
	Tables []Table `json:"tables"`

	tableIndex map[string]map[string]bool
}

// index builds the lookup maps. Called once after fetch/decode.
func (s *SchemaSnapshot) index() {
	s.tableIndex = make(map[string]map[string]bool, len(s.Tables))
	for _, t := range s.Tables {
		cols := make(map[string]bool, len(t.Columns))
		for _, c := range t.Columns {
			cols[strings.ToLower(c.Name)] = true
		}
		s.tableIndex[strings.ToLower(t.Name)] = cols
	}
}

// HasTable reports whether the table exists.
func (s *SchemaSnapshot) HasTable(table string) bool {
	_, ok := s.tableIndex[strings.ToLower(table)]
	return ok
}

// HasColumn reports whether the column exists on the table.
func (s *SchemaSnapshot) HasColumn(table, column string) bool {
	cols, ok := s.tableIndex[strings.ToLower(table)]
	return ok && cols[strings.ToLower(column)]
}

// TableNames returns all table names in snapshot order.
func (s *SchemaSnapshot) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		names = append(names, t.Name)
	}
	return names
}

// Describe returns the named table, or all tables when name is empty.
func (s *SchemaSnapshot) Describe(name string) []Table {
	if name == "" {
		return s.Tables
	}
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, name) {
			return []Table{t}
		}
	}
	return nil
}

// =============================================================================
// Schema Cache
// =============================================================================

// SchemaCache memoizes the gateway's schema with TTL invalidation.
//
// Description:
//
//	The gateway exposes its OpenAPI description at the base URL; the
//	cache fetches it, flattens it into a SchemaSnapshot, and serves the
//	memoized value until the TTL lapses. Concurrent refreshes after
//	expiry collapse into a single fetch via singleflight, so a burst of
//	requests at the TTL boundary produces one gateway call and every
//	caller sees the same snapshot.
//
// Thread Safety: SchemaCache is safe for concurrent use.
type SchemaCache struct {
	client *Client
	ttl    time.Duration

	mu        sync.RWMutex
	snapshot  *SchemaSnapshot
	fetchedAt time.Time

	group singleflight.Group
}

// NewSchemaCache creates a schema cache over the gateway client.
func NewSchemaCache(client *Client, ttl time.Duration) *SchemaCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &SchemaCache{client: client, ttl: ttl}
}

// Snapshot returns the current schema, refreshing if stale.
//
// Outputs:
//   - *SchemaSnapshot: The fresh-or-cached snapshot.
//   - error: Non-nil only when no snapshot exists and the fetch fails;
//     a stale snapshot is served when a refresh fails.
func (sc *SchemaCache) Snapshot(ctx context.Context) (*SchemaSnapshot, error) {
	sc.mu.RLock()
	snap, fetchedAt := sc.snapshot, sc.fetchedAt
	sc.mu.RUnlock()

	if snap != nil && time.Since(fetchedAt) < sc.ttl {
		return snap, nil
	}

	fresh, err, _ := sc.group.Do("schema", func() (any, error) {
		// Re-check under the flight: another caller may have refreshed
		// while this one waited for the group slot.
		sc.mu.RLock()
		cur, at := sc.snapshot, sc.fetchedAt
		sc.mu.RUnlock()
		if cur != nil && time.Since(at) < sc.ttl {
			return cur, nil
		}

		fetched, fetchErr := sc.fetch(ctx)
		if fetchErr != nil {
			return nil, fetchErr
		}
		sc.mu.Lock()
		sc.snapshot = fetched
		sc.fetchedAt = time.Now()
		sc.mu.Unlock()
		slog.Info("Schema snapshot refreshed", slog.Int("tables", len(fetched.Tables)))
		return fetched, nil
	})
	if err != nil {
		if snap != nil {
			slog.Warn("Schema refresh failed, serving stale snapshot",
				slog.String("error", err.Error()))
			return snap, nil
		}
		return nil, err
	}
	return fresh.(*SchemaSnapshot), nil
}

// Invalidate drops the cached snapshot, forcing a refresh on next use.
func (sc *SchemaCache) Invalidate() {
	sc.mu.Lock()
	sc.snapshot = nil
	sc.mu.Unlock()
}

// openAPIDocument is the subset of the gateway's OpenAPI description the
// cache cares about.
type openAPIDocument struct {
	Definitions map[string]struct {
		Properties map[string]struct {
			Type   string `json:"type"`
			Format string `json:"format"`
		} `json:"properties"`
	} `json:"definitions"`
}

// fetch pulls the gateway's OpenAPI description and flattens it.
func (sc *SchemaCache) fetch(ctx context.Context) (*SchemaSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sc.client.baseURL+"/", nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: creating schema request: %w", err)
	}
	sc.client.setAuth(req)

	resp, err := sc.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: schema fetch failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gateway: reading schema body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RPCError{Status: resp.StatusCode, Body: string(body)}
	}

	var doc openAPIDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("gateway: decoding schema document: %w", err)
	}

	snap := &SchemaSnapshot{}
	for name, def := range doc.Definitions {
		table := Table{Name: name}
		for colName, prop := range def.Properties {
			table.Columns = append(table.Columns, Column{
				Name:   colName,
				Type:   prop.Type,
				Format: prop.Format,
			})
		}
		sort.Slice(table.Columns, func(i, j int) bool {
			return table.Columns[i].Name < table.Columns[j].Name
		})
		snap.Tables = append(snap.Tables, table)
	}
	sort.Slice(snap.Tables, func(i, j int) bool {
		return snap.Tables[i].Name < snap.Tables[j].Name
	})
	snap.index()
	return snap, nil
}
