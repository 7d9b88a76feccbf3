// Command swatch scores product listings against the attribute taxonomy.
//
// Usage:
//
//	swatch [flags] <command> [args]
//
// Commands:
//
//	classify  - score one listing from labels, description and title
//	analyze   - detect labels for an image, then classify
//	batch     - classify items from a connector into an output
//	taxonomy  - print the categories or the default attribute record
//	version   - print the build version
//
// Configuration is read from swatch.yaml (or --config) and SWATCH_
// environment variables. Logs go to stderr, results to stdout.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
