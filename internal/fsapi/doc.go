// Package fsapi is the FamilySearch tree API client for the crawl.
//
// It builds persons and child-and-parents requests, partitions pid
// sets into service-sized batches, dispatches them concurrently under
// the rate controller, and parses the GedcomX payloads into the model
// types the store accepts. Retry policy lives here; classification of
// individual responses lives in the session package.
package fsapi
