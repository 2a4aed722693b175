// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command pitchside runs the football-analytics chat server.
//
// The server answers natural-language questions about match events, players,
// and seasons: text answers for stat questions, rendered charts for visual
// requests, and clarification questions when a prompt is ambiguous.
//
// Usage:
//
//	pitchside serve
//	pitchside serve --port 9090
//	pitchside memory dump
//	pitchside memory reset
//	pitchside version
//
// Configuration is read from pitchside.yaml (or $PITCHSIDE_CONFIG) with
// environment overrides for secrets; see services/config.
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8090/v1/health
//
//	# Chat turn
//	curl -X POST http://localhost:8090/v1/chat/completions \
//	  -H "Content-Type: application/json" \
//	  -d '{"messages":[{"role":"user","content":"show me a shot map for Arsenal"}]}'
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "pitchside",
		Short: "Football-analytics chat server",
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newMemoryCommand())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pitchside %s\n", version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
