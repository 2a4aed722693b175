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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ImportLegacy migrates whole-file JSON documents (memory.json and
// pending.json) from earlier deployments into BadgerDB.
//
// # Description
//
// Each file that exists and parses is merged into the store, then renamed
// with an .imported suffix so the migration never runs twice. Aliases from
// the file never overwrite aliases already in the store; the file is the
// older source. A file that fails to parse is left in place and reported,
// so the operator can inspect it.
//
// # Inputs
//   - ctx: Context for cancellation.
//   - dir: Directory previously holding the JSON documents.
//
// # Outputs
//   - error: Non-nil when a parseable file could not be stored or renamed.
func (s *Store) ImportLegacy(ctx context.Context, dir string) error {
	if dir == "" {
		return nil
	}

	memPath := filepath.Join(dir, "memory.json")
	if raw, err := os.ReadFile(memPath); err == nil {
		var legacy ConversationMemory
		if err := json.Unmarshal(raw, &legacy); err != nil {
			s.logger.Warn("memory: legacy memory.json is unreadable, skipping",
				slog.String("path", memPath), slog.String("error", err.Error()))
		} else {
			err := s.Mutate(ctx, func(m *ConversationMemory) error {
				for k, a := range legacy.Aliases {
					if _, exists := m.Aliases[k]; !exists {
						m.Aliases[k] = a
					}
				}
				mergeScopes(&m.Scopes, &legacy.Scopes)
				return nil
			})
			if err != nil {
				return fmt.Errorf("memory: importing %s: %w", memPath, err)
			}
			if err := os.Rename(memPath, memPath+".imported"); err != nil {
				return fmt.Errorf("memory: renaming %s: %w", memPath, err)
			}
			s.logger.Info("memory: imported legacy memory.json",
				slog.Int("aliases", len(legacy.Aliases)))
		}
	}

	pendingPath := filepath.Join(dir, "pending.json")
	if raw, err := os.ReadFile(pendingPath); err == nil {
		var p PendingClarification
		if err := json.Unmarshal(raw, &p); err != nil {
			s.logger.Warn("memory: legacy pending.json is unreadable, skipping",
				slog.String("path", pendingPath), slog.String("error", err.Error()))
		} else {
			if err := s.SavePending(ctx, &p); err != nil {
				return fmt.Errorf("memory: importing %s: %w", pendingPath, err)
			}
			if err := os.Rename(pendingPath, pendingPath+".imported"); err != nil {
				return fmt.Errorf("memory: renaming %s: %w", pendingPath, err)
			}
			s.logger.Info("memory: imported legacy pending.json",
				slog.String("kind", string(p.Kind)))
		}
	}

	return nil
}

// mergeScopes fills only the scope fields the store does not already have.
func mergeScopes(dst, src *Scopes) {
	if dst.LastEntity == "" {
		dst.LastEntity = src.LastEntity
	}
	if dst.LastSeason == "" {
		dst.LastSeason = src.LastSeason
	}
	if dst.LastTeams == nil {
		dst.LastTeams = src.LastTeams
	}
	if dst.LastMatch == nil {
		dst.LastMatch = src.LastMatch
	}
	if dst.LastPassMap == nil {
		dst.LastPassMap = src.LastPassMap
	}
}
