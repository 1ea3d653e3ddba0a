// Package control is the crawl's operator interface while it runs:
// signal handling, the optional pause-file protocol, and the gate the
// rate controller consults before every outbound request.
package control
