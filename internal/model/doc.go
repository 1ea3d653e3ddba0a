// Package model defines the core data structures shared across the
// crawl engine.
//
// This package contains the following main types:
//   - PID: an opaque FamilySearch person identifier
//   - Individual: a resolved person (a graph vertex)
//   - Edge: a directed parent→child or couple edge
//   - RelationshipType: edge classification plus merge precedence
//
// Design decision: We separate models into their own package to avoid
// circular dependencies. The database, fsapi, and engine packages all
// need these types, so centralizing them prevents import cycles.
package model
