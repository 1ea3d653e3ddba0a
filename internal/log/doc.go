// Package log provides logging with automatic masking of credentials,
// built on top of the standard slog package.
//
// The crawler authenticates every request with a long-lived session
// cookie, and request URLs, headers, and config snapshots flow through
// log attributes constantly. The SecureHandler masks attribute values
// that look like or are keyed as credentials, so a shared log file
// never contains a usable session.
package log
