// Package api implements the Gin HTTP server that hosts the relay endpoints
// together with health, readiness, version and Prometheus metrics routes.
package api
