// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/pitchside/services/config"
	"github.com/AleutianAI/pitchside/services/memory"
	"github.com/AleutianAI/pitchside/services/sqlgen"
	badgerstore "github.com/AleutianAI/pitchside/services/storage/badger"
)

func newMemoryCommand() *cobra.Command {
	var dataDir string

	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect or reset the conversation state store",
	}
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (overrides config)")

	cmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Print aliases, scopes, pending clarification, and learned templates",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withStateStore(dataDir, dumpMemory)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Delete all conversation memory (learned templates are kept)",
		RunE: func(_ *cobra.Command, _ []string) error {
			return withStateStore(dataDir, resetMemory)
		},
	})
	return cmd
}

// withStateStore opens the badger store the server uses and hands it to fn.
// GC is disabled; these commands are short-lived.
func withStateStore(dataDir string, fn func(ctx context.Context, db *badgerstore.DB) error) error {
	if dataDir == "" {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		dataDir = cfg.Memory.DataDir
	}
	bc := badgerstore.DefaultConfig()
	bc.Path = filepath.Join(dataDir, "badger")
	bc.GCInterval = 0
	db, err := badgerstore.OpenDB(bc)
	if err != nil {
		return fmt.Errorf("memory: opening %s: %w", bc.Path, err)
	}
	defer db.Close()
	return fn(context.Background(), db)
}

func dumpMemory(ctx context.Context, db *badgerstore.DB) error {
	store := memory.NewStore(db, nil)
	mem, err := store.Load(ctx)
	if err != nil {
		return err
	}
	pending, err := store.LoadPending(ctx)
	if err != nil {
		return err
	}
	templates, err := sqlgen.NewTemplateStore(db, nil).All(ctx)
	if err != nil {
		return err
	}

	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")

	fmt.Println("=== Conversation memory ===")
	if err := out.Encode(mem); err != nil {
		return err
	}

	fmt.Println("=== Pending clarification ===")
	if pending == nil {
		fmt.Println("(none)")
	} else if err := out.Encode(pending); err != nil {
		return err
	}

	fmt.Printf("=== Learned templates (%d) ===\n", len(templates))
	for _, tpl := range templates {
		fmt.Printf("%s  chart=%s  keywords=%v\n  %s\n", tpl.Name, tpl.ChartType, tpl.IntentKeywords, tpl.QueryTemplate)
	}
	return nil
}

func resetMemory(ctx context.Context, db *badgerstore.DB) error {
	store := memory.NewStore(db, nil)
	if err := store.Reset(ctx); err != nil {
		return err
	}
	if err := store.ClearPending(ctx); err != nil {
		return err
	}
	fmt.Println("Conversation memory cleared.")
	return nil
}
