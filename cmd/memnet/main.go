// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command memnet loads, queries and serves a concept memory graph.
//
// Usage:
//
//	memnet load kitchen.json
//	memnet query object --tier stm --filters '{"object-filters": {"utterances": ["glass"]}}'
//	memnet render action --format mermaid --filters '{"action-filters": {"utterances": ["pour"]}}'
//	memnet serve --watch kitchen.gml
//
// With storage.path set (or --store), every command restores the graph from
// the named snapshot and mutating commands save it back.
package main

import (
	"fmt"
	"os"
)

func main() {
	rootCmd, a := newRootCmd()
	err := rootCmd.Execute()
	if closeErr := a.close(); closeErr != nil {
		fmt.Fprintln(os.Stderr, "Error:", closeErr)
		err = closeErr
	}
	if err != nil {
		os.Exit(1)
	}
}
