// Package config holds crawl run configuration: defaults, validation,
// and the YAML throttle profile loader.
//
// Configuration flows in one direction: CLI flags (plus an optional
// profile file) build a Config, Validate() runs once, and the struct is
// passed down by dependency injection. Nothing in this package reads
// global state after startup.
package config
