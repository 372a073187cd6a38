// Package cmd implements the quotemail command line: serve runs the HTTP
// relay, send delivers a single quote and version prints build information.
package cmd
