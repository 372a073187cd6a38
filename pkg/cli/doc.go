// Package cli defines the process-level flags shared by the quotemail
// commands, with environment variable fallbacks for every flag.
package cli
