/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package outcome

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/americaro/quotemail/pkg/metrics"
)

// Sink defines the interface for delivery outcome destinations.
type Sink interface {
	// Write records one terminal outcome.
	Write(ctx context.Context, record *Record) error

	// Close releases any resources held by the sink.
	Close() error

	// Name returns the sink's identifier.
	Name() string
}

// LogSink writes outcomes to a structured logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a new LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("delivery-outcome")}
}

// Write logs the outcome. Failures are logged at error level.
func (s *LogSink) Write(_ context.Context, record *Record) error {
	fields := []zap.Field{
		zap.String("job_id", record.JobID),
		zap.String("origin", record.Origin),
		zap.String("recipient", record.Recipient),
		zap.String("subject", record.Subject),
		zap.String("filename", record.Filename),
		zap.Int("attempts", record.Attempts),
		zap.Duration("duration", record.Duration),
		zap.Time("timestamp", record.Timestamp),
	}
	if record.Success {
		s.logger.Info("delivery_succeeded", fields...)
		return nil
	}
	fields = append(fields, zap.String("error", record.Error))
	s.logger.Error("delivery_failed", fields...)
	return nil
}

// Close is a no-op for LogSink.
func (s *LogSink) Close() error {
	return nil
}

// Name returns the sink identifier.
func (s *LogSink) Name() string {
	return "log"
}

// MultiSink fans an outcome out to several sinks.
type MultiSink struct {
	sinks  []Sink
	logger *zap.Logger
}

// NewMultiSink creates a sink that writes to multiple destinations.
func NewMultiSink(sinks []Sink, logger *zap.Logger) *MultiSink {
	return &MultiSink{
		sinks:  sinks,
		logger: logger,
	}
}

// Write sends the outcome to all sinks. A failing sink does not stop the others.
func (s *MultiSink) Write(ctx context.Context, record *Record) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Write(ctx, record); err != nil {
			metrics.OutcomeSinkErrors.WithLabelValues(sink.Name()).Inc()
			s.logger.Warn("outcome sink write failed",
				zap.String("sink", sink.Name()),
				zap.String("job_id", record.JobID),
				zap.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all sinks.
func (s *MultiSink) Close() error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Name returns the sink identifier.
func (s *MultiSink) Name() string {
	return "multi"
}
