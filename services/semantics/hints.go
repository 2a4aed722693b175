// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package semantics serves the domain-hints document: the glossary of
// tables, metrics, and phrasing conventions handed to the model through
// the get_semantic_hints tool. Hints ship embedded and can be overridden
// by an operator-edited YAML file that hot-reloads on change.
package semantics

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultHintsYAML []byte

// Hints is the domain glossary document.
type Hints struct {
	// Tables maps table names to a one-line description of what they hold.
	Tables map[string]string `yaml:"tables" json:"tables"`

	// Metrics maps metric names to how they are computed.
	Metrics map[string]string `yaml:"metrics" json:"metrics"`

	// Phrasings maps user vocabulary to the canonical column or concept
	// it refers to ("conceded" -> "events by the opposing team").
	Phrasings map[string]string `yaml:"phrasings" json:"phrasings"`

	// Notes are free-form guidance lines appended verbatim.
	Notes []string `yaml:"notes" json:"notes"`
}

// Provider serves the current hints document.
//
// # Description
//
// The embedded defaults always load. When a hints path is configured and
// the file exists, it replaces the defaults, and an fsnotify watcher
// reloads it on every write. A file that fails to parse leaves the
// previous document in place.
//
// # Thread Safety
//
// Safe for concurrent use.
type Provider struct {
	mu      sync.RWMutex
	current *Hints

	path    string
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// NewProvider loads the hints document and starts the file watcher.
//
// Inputs:
//   - path: Optional operator override file. Empty means embedded only.
//   - logger: May be nil.
//
// Outputs:
//   - *Provider: Ready provider; Close must be called when a path was given.
//   - error: Non-nil when the embedded defaults are malformed (a build
//     defect) or the watcher cannot start.
func NewProvider(path string, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	defaults, err := parseHints(defaultHintsYAML)
	if err != nil {
		return nil, fmt.Errorf("semantics: embedded defaults are malformed: %w", err)
	}

	p := &Provider{current: defaults, path: path, logger: logger}
	if path == "" {
		return p, nil
	}

	p.loadFile()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("semantics: starting watcher: %w", err)
	}
	p.watcher = watcher
	// Watch the directory, not the file: editors replace files on save
	// and a file watch dies with the old inode.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("semantics: watching %s: %w", filepath.Dir(path), err)
	}
	go p.watch()
	return p, nil
}

// Current returns the active hints document. The caller must not mutate it.
func (p *Provider) Current() *Hints {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Close stops the file watcher. Safe to call when no watcher is running.
func (p *Provider) Close() error {
	if p.watcher == nil {
		return nil
	}
	return p.watcher.Close()
}

func (p *Provider) watch() {
	for {
		select {
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if event.Name != p.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			p.logger.Info("semantics: hints file changed, reloading", slog.String("path", p.path))
			p.loadFile()
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("semantics: watcher error", slog.String("error", err.Error()))
		}
	}
}

// loadFile swaps in the override file if it exists and parses; otherwise
// the current document stays.
func (p *Provider) loadFile() {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		if !os.IsNotExist(err) {
			p.logger.Warn("semantics: reading hints file", slog.String("error", err.Error()))
		}
		return
	}
	hints, err := parseHints(raw)
	if err != nil {
		p.logger.Warn("semantics: hints file is malformed, keeping previous document",
			slog.String("path", p.path), slog.String("error", err.Error()))
		return
	}
	p.mu.Lock()
	p.current = hints
	p.mu.Unlock()
}

func parseHints(raw []byte) (*Hints, error) {
	var h Hints
	if err := yaml.Unmarshal(raw, &h); err != nil {
		return nil, err
	}
	return &h, nil
}
