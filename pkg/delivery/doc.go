// Package delivery sends composed quote messages over pooled SMTP sessions.
//
// A Queue accepts jobs without blocking and hands them to a fixed number of
// worker goroutines. Each goroutine is bound to one slot of the session pool
// for its lifetime. A Worker makes up to three attempts per job, probing the
// session before every send and waiting attempt × unit between attempts.
// Every terminal outcome is written to an outcome.Sink.
package delivery
