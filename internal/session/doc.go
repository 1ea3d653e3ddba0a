// Package session wraps an authenticated FamilySearch HTTP session.
//
// The wrapper does exactly three things: issue GETs with the session
// cookie, classify every outcome into the retry taxonomy (auth
// expired, throttled, permanent, transient), and count requests. Retry
// policy itself lives with the rate controller; login lives outside
// the program entirely.
package session
