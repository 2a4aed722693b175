// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sqlgen

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/pitchside/services/nlu"
	badgerstore "github.com/AleutianAI/pitchside/services/storage/badger"
)

// Storage layout:
//
//	sqlgen/tpl/v1/{name}  →  JSON-encoded QueryTemplate
//
// Entries are immutable once written; the name is a content hash, so a
// re-learn of the same prompt/query pair is a no-op.
const templateKeyPrefix = "sqlgen/tpl/v1/"

// fillerWords are prompt tokens that carry no intent: stripping them
// leaves the chart/stat vocabulary that makes a prompt recognizable.
var fillerWords = map[string]bool{
	"a": true, "an": true, "the": true, "me": true, "my": true, "i": true,
	"show": true, "display": true, "plot": true, "draw": true, "render": true,
	"make": true, "give": true, "get": true, "can": true, "you": true,
	"please": true, "for": true, "of": true, "in": true, "on": true, "to": true,
	"and": true, "with": true, "that": true, "this": true, "it": true,
	"is": true, "was": true, "by": true, "from": true, "over": true,
	"their": true, "his": true, "her": true, "all": true,
}

// TemplateStore is the learned-template cache.
//
// # Description
//
// On every successful chart render from a literal query, Learn derives a
// placeholder template and persists it. Later prompts hit the cache either
// by exact normalized-prompt match or by intent-keyword match, skipping
// the whole LLM round trip.
//
// # Thread Safety
//
// Safe for concurrent use.
type TemplateStore struct {
	db     *badgerstore.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewTemplateStore creates a TemplateStore backed by the given DB. The
// caller owns the DB lifecycle.
func NewTemplateStore(db *badgerstore.DB, logger *slog.Logger) *TemplateStore {
	if db == nil {
		panic("sqlgen.NewTemplateStore: db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TemplateStore{db: db, logger: logger, now: time.Now}
}

// ============================================================================
// Learn
// ============================================================================

// Learn derives a template from a successfully rendered literal query and
// persists it.
//
// Description:
//
//	The template name is a hash of (chart type, normalized prompt,
//	template text), so learning the same shape twice is idempotent. A
//	comparison prompt whose query failed to generalize both team sides
//	is skipped entirely: storing it would pin future comparisons to one
//	literal team.
//
// Outputs:
//   - *QueryTemplate: The stored (or pre-existing) entry; nil when the
//     template was rejected as one-sided.
//   - error: Non-nil on storage failure.
func (s *TemplateStore) Learn(ctx context.Context, chartType, literalQuery, sourcePrompt string, params nlu.Params) (*QueryTemplate, error) {
	normalized := nlu.Normalize(sourcePrompt)

	tplText, paramNames, err := BuildTemplate(literalQuery, params)
	if errors.Is(err, ErrOneSidedTemplate) {
		s.logger.Debug("sqlgen: skipping one-sided template", slog.String("prompt", normalized))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entry := QueryTemplate{
		Name:           templateName(chartType, normalized, tplText),
		ChartType:      chartType,
		QueryTemplate:  tplText,
		ParamNames:     paramNames,
		IntentKeywords: deriveKeywords(normalized, params),
		SourcePrompt:   normalized,
		CreatedAt:      s.now().UTC(),
	}

	stored, err := s.put(ctx, &entry)
	if err != nil {
		return nil, err
	}
	if stored {
		s.logger.Info("sqlgen: learned template",
			slog.String("name", entry.Name),
			slog.String("chart_type", chartType),
			slog.Any("params", paramNames),
		)
	}
	return &entry, nil
}

// put writes the entry unless a template with the same name exists.
// Returns whether a write happened.
func (s *TemplateStore) put(ctx context.Context, entry *QueryTemplate) (bool, error) {
	key := []byte(templateKeyPrefix + entry.Name)
	wrote := false
	err := s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return nil
		} else if !errors.Is(err, dgbadger.ErrKeyNotFound) {
			return err
		}
		raw, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		wrote = true
		return txn.Set(key, raw)
	})
	if err != nil {
		return false, fmt.Errorf("sqlgen: storing template %s: %w", entry.Name, err)
	}
	return wrote, nil
}

// templateName hashes the identity triple into a stable short name.
func templateName(chartType, normalizedPrompt, template string) string {
	h := sha256.Sum256([]byte(chartType + "\x00" + strings.ToLower(normalizedPrompt) + "\x00" + template))
	return "learned_" + hex.EncodeToString(h[:])[:12]
}

// deriveKeywords keeps the intent-bearing words of the prompt: filler
// words and the extracted literal values are dropped, so the keywords
// describe the shape of the question, not its subject.
func deriveKeywords(normalizedPrompt string, params nlu.Params) []string {
	literals := make(map[string]bool)
	for _, v := range []string{params.Team, params.TeamA, params.TeamB, params.Season} {
		for _, w := range strings.Fields(strings.ToLower(v)) {
			literals[w] = true
		}
	}
	if params.LastN > 0 {
		literals[fmt.Sprintf("%d", params.LastN)] = true
	}

	var out []string
	for _, w := range strings.Fields(strings.ToLower(normalizedPrompt)) {
		w = strings.Trim(w, ".,!?;:'\"")
		if w == "" || fillerWords[w] || literals[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}

// ============================================================================
// Lookup
// ============================================================================

// Lookup finds a stored template for a new prompt.
//
// Description:
//
//	Exact match first: a template whose normalized source prompt equals
//	the normalized incoming prompt, passing the compatibility check.
//	Then keyword match: every one of a template's intent keywords is a
//	substring of the normalized prompt, the template is compatible, and
//	every declared parameter is fillable from the extracted params.
//	Keyword ties break toward the template with the most keywords, then
//	the most recently learned.
//
// Outputs:
//   - *QueryTemplate: The match, or nil when nothing applies.
//   - error: Non-nil on storage failure only.
func (s *TemplateStore) Lookup(ctx context.Context, prompt string, params nlu.Params) (*QueryTemplate, error) {
	normalized := strings.ToLower(nlu.Normalize(prompt))

	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}

	for _, t := range all {
		if strings.ToLower(t.SourcePrompt) == normalized && compatible(t, params) {
			return t, nil
		}
	}

	var best *QueryTemplate
	for _, t := range all {
		if len(t.IntentKeywords) == 0 || !keywordsPresent(t.IntentKeywords, normalized) {
			continue
		}
		if !compatible(t, params) || !ParamsCover(t.ParamNames, params) {
			continue
		}
		if best == nil ||
			len(t.IntentKeywords) > len(best.IntentKeywords) ||
			(len(t.IntentKeywords) == len(best.IntentKeywords) && t.CreatedAt.After(best.CreatedAt)) {
			best = t
		}
	}
	return best, nil
}

// compatible rejects a template for a comparison prompt unless it still
// carries both team placeholders or mentions both literal team names.
func compatible(t *QueryTemplate, params nlu.Params) bool {
	if !params.IsComparison() {
		return true
	}
	if strings.Contains(t.QueryTemplate, PlaceholderTeamA) && strings.Contains(t.QueryTemplate, PlaceholderTeamB) {
		return true
	}
	lower := strings.ToLower(t.QueryTemplate)
	return strings.Contains(lower, strings.ToLower(params.TeamA)) &&
		strings.Contains(lower, strings.ToLower(params.TeamB))
}

// All returns every stored template. Order is key order (by name).
func (s *TemplateStore) All(ctx context.Context) ([]*QueryTemplate, error) {
	var out []*QueryTemplate
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = []byte(templateKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var t QueryTemplate
			if err := json.Unmarshal(raw, &t); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, &t)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sqlgen: listing templates: %w", err)
	}
	return out, nil
}

// ============================================================================
// Legacy import
// ============================================================================

// legacySemanticDoc is the shape of the whole-file semantic.json document
// from earlier deployments. Only learned_templates is migrated; the
// schema cache fields are rebuilt from the gateway on first use.
type legacySemanticDoc struct {
	LearnedTemplates []QueryTemplate `json:"learned_templates"`
}

// ImportLegacy migrates learned templates out of a semantic.json file,
// then renames it with an .imported suffix so the migration runs once.
func (s *TemplateStore) ImportLegacy(ctx context.Context, dir string) error {
	if dir == "" {
		return nil
	}
	path := filepath.Join(dir, "semantic.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var doc legacySemanticDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.logger.Warn("sqlgen: legacy semantic.json is unreadable, skipping",
			slog.String("path", path), slog.String("error", err.Error()))
		return nil
	}

	imported := 0
	for i := range doc.LearnedTemplates {
		t := &doc.LearnedTemplates[i]
		if t.Name == "" || t.QueryTemplate == "" {
			continue
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = s.now().UTC()
		}
		wrote, err := s.put(ctx, t)
		if err != nil {
			return fmt.Errorf("sqlgen: importing %s: %w", path, err)
		}
		if wrote {
			imported++
		}
	}

	if err := os.Rename(path, path+".imported"); err != nil {
		return fmt.Errorf("sqlgen: renaming %s: %w", path, err)
	}
	s.logger.Info("sqlgen: imported legacy semantic.json",
		slog.Int("templates", imported),
		slog.Int("skipped", len(doc.LearnedTemplates)-imported),
	)
	return nil
}
