// Package ratelimit keeps one token bucket per client IP in front of the
// quote send endpoints and forgets clients that have gone quiet.
package ratelimit
