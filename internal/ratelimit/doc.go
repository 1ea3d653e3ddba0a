// Package ratelimit paces outbound HTTP traffic for the crawl.
//
// One Controller is shared by the person and relationship phases. It
// enforces an aggregate token-bucket rate, independent per-phase
// concurrency caps, and adaptive backoff driven by caller reports of
// throttling. Pause/stop integration arrives through an injected gate
// function rather than a dependency on the control package, keeping
// this package leaf-level.
package ratelimit
