// Package smtppool keeps authenticated SMTP sessions keyed by worker slot.
// Each slot owns at most one session; a session is probed with NOOP before
// it is handed out and replaced when the probe fails.
package smtppool
