// Package report renders human-facing summaries of a crawl database.
// The database itself is the machine-facing artifact; everything here
// is derived and disposable.
package report
