// Package outcome records the terminal result of every background delivery.
// Once a request has been acknowledged there is no caller left to notify, so
// sinks (structured log, Kafka topic) are the only place an outcome surfaces.
package outcome
