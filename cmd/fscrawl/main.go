// Package main provides the entry point for the fscrawl CLI.
//
// fscrawl walks a FamilySearch family tree breadth-first from a set of
// seed persons and stores the resulting genealogy graph in a SQLite
// database that survives pause, resume, and crash restarts.
//
// Usage:
//
//	fscrawl run --session <fssessionid> [pid ...]
//	fscrawl resume --session <fssessionid>
//
// See --help for all available options.
package main

// main is the entry point for fscrawl.
func main() {
	Execute()
}
