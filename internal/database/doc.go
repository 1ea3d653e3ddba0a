// Package database provides the SQLite-backed crawl state store.
//
// One file, <outdir>/<basename>.db, holds:
//   - VERTEX and EDGE: the discovered parent/child graph
//   - FRONTIER_QUEUE and PROCESSING_QUEUE: the BFS bookkeeping
//   - LOG: one row per completed iteration
//   - JOB_METADATA: seeds, throttle profile, run status, checkpoints
//
// Design decision: We use SQLite (via modernc.org/sqlite) because:
//  1. No external dependencies - the database is a single file
//  2. CGO-free implementation allows easy cross-compilation
//  3. WAL mode gives crash-safe commits and concurrent readers
//
// The connection pool is capped at one connection, so every method is
// a serialized single-writer transaction. The disjointness of the
// vertex/processing/frontier partitions, edge endpoint integrity, and
// iteration-log contiguity hold at every commit boundary; crash
// recovery is "open the file and keep going".
package database
