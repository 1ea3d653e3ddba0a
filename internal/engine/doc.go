// Package engine is the crawl's conductor. It owns no state of its
// own: every decision reads from the store and every effect writes
// back to it, so a run can stop at any committed boundary and a later
// process can continue from exactly there.
package engine
