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

package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/americaro/quotemail/pkg/message"
	"github.com/americaro/quotemail/pkg/metrics"
	"github.com/americaro/quotemail/pkg/smtppool"
)

// SessionPool is the part of smtppool.Pool the delivery layer relies on.
type SessionPool interface {
	NewSlot() smtppool.SlotID
	WithSession(ctx context.Context, slot smtppool.SlotID, fn func(*smtppool.Session) error) error
	Healthy(s *smtppool.Session) bool
	Host() string
	Close() error
}

// Signer adds a signature to a fully rendered message.
type Signer interface {
	Sign(msg []byte, from string) ([]byte, error)
}

// Job is one message waiting for delivery.
type Job struct {
	ID         string
	Message    *message.OutgoingMessage
	EnqueuedAt time.Time

	// done receives the terminal error (nil on success) when the submitter waits for it.
	done chan error
}

// NewJob wraps msg into a job with a fresh id.
func NewJob(msg *message.OutgoingMessage) *Job {
	return &Job{
		ID:         uuid.NewString(),
		Message:    msg,
		EnqueuedAt: time.Now(),
	}
}

// Worker delivers jobs over the session of a single pool slot, retrying
// failed attempts according to its RetryPolicy.
type Worker struct {
	pool   SessionPool
	policy RetryPolicy
	signer Signer
	log    *zap.SugaredLogger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewWorker(pool SessionPool, policy RetryPolicy, log *zap.SugaredLogger) *Worker {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Worker{
		pool:   pool,
		policy: policy.normalize(),
		log:    log.Named("delivery"),
		sleep:  sleepContext,
	}
}

// WithSigner makes the worker sign every message before it is sent.
func (w *Worker) WithSigner(s Signer) *Worker {
	w.signer = s
	return w
}

// Deliver sends the job's message over slot's session. It returns the number
// of attempts made. After the last failed attempt the error wraps both
// ErrRetriesExhausted and the final attempt's error.
func (w *Worker) Deliver(ctx context.Context, slot smtppool.SlotID, job *Job) (int, error) {
	host := w.pool.Host()
	start := time.Now()
	gm := job.Message.Gomail()

	var lastErr error
	for attempt := 1; attempt <= w.policy.MaxAttempts; attempt++ {
		err := w.attempt(ctx, slot, attempt, gm)
		if err == nil {
			metrics.DeliveryAttempts.WithLabelValues(host, "success").Inc()
			w.log.Infow("Quote mail delivered",
				"job", job.ID,
				"slot", slot,
				"attempt", attempt,
				"to", job.Message.To,
				"duration", time.Since(start).String())
			return attempt, nil
		}
		lastErr = err
		metrics.DeliveryAttempts.WithLabelValues(host, "failure").Inc()

		if errors.Is(err, smtppool.ErrPoolClosed) {
			return attempt, err
		}

		remaining := w.policy.MaxAttempts - attempt
		if remaining == 0 {
			break
		}
		wait := w.policy.Backoff(attempt)
		w.log.Warnw("Delivery attempt failed, retrying",
			"job", job.ID,
			"slot", slot,
			"attempt", attempt,
			"remaining", remaining,
			"retryIn", wait.String(),
			"error", err)
		if err := w.sleep(ctx, wait); err != nil {
			return attempt, fmt.Errorf("delivery interrupted after %d attempts: %w", attempt, errors.Join(err, lastErr))
		}
	}

	w.log.Errorw("Delivery failed after all attempts",
		"job", job.ID,
		"slot", slot,
		"attempts", w.policy.MaxAttempts,
		"to", job.Message.To,
		"error", lastErr)
	return w.policy.MaxAttempts, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, w.policy.MaxAttempts, lastErr)
}

func (w *Worker) attempt(ctx context.Context, slot smtppool.SlotID, attempt int, gm *gomail.Message) error {
	err := w.pool.WithSession(ctx, slot, func(s *smtppool.Session) error {
		if !w.pool.Healthy(s) {
			return &TransientSendError{Op: "probe", Attempt: attempt, Err: ErrProbeFailed}
		}
		var sender gomail.Sender = s
		if w.signer != nil {
			sender = &signingSender{next: s, signer: w.signer}
		}
		if err := gomail.Send(sender, gm); err != nil {
			return &TransientSendError{Op: "send", Attempt: attempt, Err: err}
		}
		return nil
	})
	if err == nil || errors.Is(err, smtppool.ErrPoolClosed) {
		return err
	}
	var sendErr *TransientSendError
	if errors.As(err, &sendErr) {
		return err
	}
	return &TransientSendError{Op: "connect", Attempt: attempt, Err: err}
}

// signingSender renders the message, signs it and hands the signed bytes to next.
type signingSender struct {
	next   gomail.Sender
	signer Signer
}

func (s *signingSender) Send(from string, to []string, msg io.WriterTo) error {
	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		return fmt.Errorf("render message: %w", err)
	}
	signed, err := s.signer.Sign(buf.Bytes(), from)
	if err != nil {
		return err
	}
	return s.next.Send(from, to, bytes.NewReader(signed))
}
