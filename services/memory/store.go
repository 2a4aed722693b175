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
	"errors"
	"fmt"
	"log/slog"

	dgbadger "github.com/dgraph-io/badger/v4"

	badgerstore "github.com/AleutianAI/pitchside/services/storage/badger"
)

// Storage layout:
//
//	memory/v1/conversation  →  JSON-encoded ConversationMemory
//	memory/v1/pending       →  JSON-encoded PendingClarification
//
// Both documents are small (aliases grow by a handful of entries per
// conversation); JSON keeps them inspectable with `pitchside memory dump`.
const (
	keyConversation = "memory/v1/conversation"
	keyPending      = "memory/v1/pending"
)

// errNotFound distinguishes an absent document from a storage failure.
var errNotFound = errors.New("not found")

// Store persists ConversationMemory and the pending-clarification slot.
//
// # Description
//
// All mutations run inside a single BadgerDB read-modify-write transaction
// via Mutate, which serializes concurrent writers through Badger's conflict
// detection and retries on conflict. This replaces whole-file-overwrite
// persistence, where two interleaved requests could silently drop each
// other's alias writes.
//
// # Thread Safety
//
// Safe for concurrent use. BadgerDB transactions are per-goroutine.
type Store struct {
	db     *badgerstore.DB
	logger *slog.Logger
}

// NewStore creates a Store backed by the given DB instance.
//
// The DB must be opened by the caller (typically in main) and must outlive
// the store; the store does not own the DB lifecycle.
func NewStore(db *badgerstore.DB, logger *slog.Logger) *Store {
	if db == nil {
		panic("memory.NewStore: db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// =============================================================================
// ConversationMemory
// =============================================================================

// Load retrieves the current conversation memory.
//
// Outputs:
//   - *ConversationMemory: Never nil; an empty memory when none is stored.
//   - error: Non-nil only on storage or decode failure.
func (s *Store) Load(ctx context.Context) (*ConversationMemory, error) {
	var mem ConversationMemory
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		return getJSON(txn, keyConversation, &mem)
	})
	if errors.Is(err, errNotFound) {
		return NewConversationMemory(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory: loading conversation state: %w", err)
	}
	if mem.Aliases == nil {
		mem.Aliases = make(map[string]Alias)
	}
	return &mem, nil
}

// Mutate loads the memory, applies fn, and writes the result back, all
// inside one transaction. On a Badger write conflict the whole
// read-modify-write is retried once.
//
// Thread Safety: Safe for concurrent use; conflicting writers serialize.
func (s *Store) Mutate(ctx context.Context, fn func(m *ConversationMemory) error) error {
	attempt := func() error {
		return s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
			var mem ConversationMemory
			err := getJSON(txn, keyConversation, &mem)
			if errors.Is(err, errNotFound) {
				mem = *NewConversationMemory()
			} else if err != nil {
				return err
			}
			if mem.Aliases == nil {
				mem.Aliases = make(map[string]Alias)
			}
			if err := fn(&mem); err != nil {
				return err
			}
			return setJSON(txn, keyConversation, &mem)
		})
	}

	err := attempt()
	if errors.Is(err, dgbadger.ErrConflict) {
		s.logger.Debug("memory: write conflict, retrying mutation")
		err = attempt()
	}
	if err != nil {
		return fmt.Errorf("memory: mutating conversation state: %w", err)
	}
	return nil
}

// Reset deletes all conversational state, including any pending
// clarification. Used by the memory CLI and tests only.
func (s *Store) Reset(ctx context.Context) error {
	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		if err := txn.Delete([]byte(keyConversation)); err != nil {
			return err
		}
		return txn.Delete([]byte(keyPending))
	})
	if err != nil {
		return fmt.Errorf("memory: resetting state: %w", err)
	}
	s.logger.Info("memory: conversational state reset")
	return nil
}

// =============================================================================
// PendingClarification
// =============================================================================

// LoadPending retrieves the outstanding clarification, or nil when the
// slot is empty.
func (s *Store) LoadPending(ctx context.Context) (*PendingClarification, error) {
	var p PendingClarification
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		return getJSON(txn, keyPending, &p)
	})
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory: loading pending clarification: %w", err)
	}
	return &p, nil
}

// SavePending fills the clarification slot. Only one item may be live at a
// time; an existing item is overwritten with a warning, since the newer
// question supersedes a question the user never answered.
func (s *Store) SavePending(ctx context.Context, p *PendingClarification) error {
	if p == nil {
		return fmt.Errorf("memory: pending clarification must not be nil")
	}
	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		var old PendingClarification
		if err := getJSON(txn, keyPending, &old); err != nil {
			if !errors.Is(err, errNotFound) {
				return err
			}
		} else if old.OriginalPrompt != p.OriginalPrompt {
			s.logger.Warn("memory: overwriting unanswered clarification",
				slog.String("old_kind", string(old.Kind)),
				slog.String("old_prompt", old.OriginalPrompt),
				slog.String("new_kind", string(p.Kind)),
			)
		}
		return setJSON(txn, keyPending, p)
	})
	if err != nil {
		return fmt.Errorf("memory: saving pending clarification: %w", err)
	}
	return nil
}

// ClearPending empties the clarification slot. Clearing an already-empty
// slot is not an error.
func (s *Store) ClearPending(ctx context.Context) error {
	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Delete([]byte(keyPending))
	})
	if err != nil {
		return fmt.Errorf("memory: clearing pending clarification: %w", err)
	}
	return nil
}

// =============================================================================
// Transaction helpers
// =============================================================================

func getJSON(txn *dgbadger.Txn, key string, out any) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, dgbadger.ErrKeyNotFound) {
		return errNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return fmt.Errorf("copy %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func setJSON(txn *dgbadger.Txn, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set([]byte(key), raw)
}
