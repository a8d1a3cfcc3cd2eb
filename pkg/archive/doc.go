// Package archive tracks delivered asset identifiers across runs.
//
// The archive is a newline-delimited text file, hydrated once at open and
// append-only afterwards. Adds flush immediately, so an interrupted run
// never loses a confirmed entry and re-running skips everything already
// delivered.
package archive
