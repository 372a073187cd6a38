// Package system holds process-wide plumbing: logger construction,
// request-scoped logging for gin and build information.
package system
