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
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/americaro/quotemail/pkg/metrics"
	"github.com/americaro/quotemail/pkg/outcome"
	"github.com/americaro/quotemail/pkg/smtppool"
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 100

	sinkWriteTimeout = 5 * time.Second

	// DefaultStopGrace bounds how long Stop waits, after its context expired
	// and pending retries were cancelled, for transactions already on the wire.
	DefaultStopGrace = 5 * time.Second
)

// Queue is a bounded in-memory job queue served by a fixed set of workers.
// Each worker goroutine owns one pool slot for its whole lifetime, so two
// deliveries never share a session.
type Queue struct {
	worker  *Worker
	pool    SessionPool
	sink    outcome.Sink
	log     *zap.SugaredLogger
	workers int
	size    int

	jobs chan *Job
	wg   sync.WaitGroup

	// ctx is cancelled when Stop times out; it interrupts backoff sleeps.
	ctx    context.Context
	cancel context.CancelFunc

	// drained is closed once every worker has exited and the pool is closed.
	drained chan struct{}
	// stopGrace is how long a timed-out Stop still waits for in-flight sends.
	stopGrace time.Duration

	// mu guards started and closed against concurrent Submit and Stop.
	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewQueue creates a queue that delivers with worker and reports terminal
// outcomes to sink. A nil sink discards outcomes.
func NewQueue(worker *Worker, sink outcome.Sink, workers, size int, log *zap.SugaredLogger) *Queue {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if size <= 0 {
		size = DefaultQueueSize
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	log.Infow("Initializing delivery queue",
		"workers", workers,
		"queueSize", size,
		"maxAttempts", worker.policy.MaxAttempts,
		"backoffUnit", worker.policy.Unit.String())

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		worker:  worker,
		pool:    worker.pool,
		sink:    sink,
		log:     log.Named("delivery-queue"),
		workers: workers,
		size:    size,
		jobs:    make(chan *Job, size),
		ctx:     ctx,
		cancel:  cancel,

		drained:   make(chan struct{}),
		stopGrace: DefaultStopGrace,
	}
}

// Start launches the worker goroutines. Calling Start more than once has no effect.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	for i := 0; i < q.workers; i++ {
		slot := q.pool.NewSlot()
		q.wg.Add(1)
		go q.run(slot)
	}
	q.log.Infow("Delivery workers started", "workers", q.workers)
}

// Submit enqueues job without blocking.
func (q *Queue) Submit(job *Job) error {
	host := q.pool.Host()

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		metrics.DeliveryQueueDropped.WithLabelValues(host, "closed").Inc()
		q.log.Warnw("Cannot enqueue, delivery queue is shutting down", "job", job.ID)
		return ErrQueueClosed
	}

	select {
	case q.jobs <- job:
		metrics.DeliveryQueued.WithLabelValues(host).Inc()
		metrics.DeliveryQueueDepth.WithLabelValues(host).Set(float64(len(q.jobs)))
		q.log.Debugw("Delivery job queued",
			"job", job.ID,
			"origin", job.Message.Origin,
			"depth", len(q.jobs))
		return nil
	default:
		metrics.DeliveryQueueDropped.WithLabelValues(host, "full").Inc()
		q.log.Errorw("Delivery queue is full, rejecting job",
			"job", job.ID,
			"queueSize", q.size)
		return fmt.Errorf("%w (capacity: %d)", ErrQueueFull, q.size)
	}
}

// SubmitAndWait enqueues job and blocks until it reaches a terminal outcome
// or ctx is done. In the latter case delivery still continues in the background.
func (q *Queue) SubmitAndWait(ctx context.Context, job *Job) error {
	job.done = make(chan error, 1)
	if err := q.Submit(job); err != nil {
		return err
	}
	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Accepting reports whether Submit can currently succeed (ignoring capacity).
func (q *Queue) Accepting() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.started && !q.closed
}

// Length returns the current number of jobs waiting for a worker.
func (q *Queue) Length() int {
	return len(q.jobs)
}

// Stop closes intake, lets the workers drain the queued jobs and then closes
// the pool. If ctx expires first, pending backoff waits are cancelled and
// ctx.Err() is returned. A session is never closed while its worker is still
// inside a transaction: when workers do not exit within the stop grace, the
// pool is closed in the background once they do (see Drained).
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.log.Infow("Stopping delivery queue", "pending", len(q.jobs))

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.log.Info("Delivery queue drained")
		q.cancel()
		q.closePool()
		return nil
	case <-ctx.Done():
	}

	q.log.Warnw("Delivery queue shutdown timeout, cancelling pending retries", "pending", len(q.jobs))
	q.cancel()

	grace := time.NewTimer(q.stopGrace)
	defer grace.Stop()
	select {
	case <-done:
		q.closePool()
	case <-grace.C:
		q.log.Warnw("Delivery workers still inside a transaction, closing pool once they exit",
			"grace", q.stopGrace.String())
		go func() {
			<-done
			q.closePool()
		}()
	}
	return ctx.Err()
}

// Drained is closed after every worker has exited and the pool is closed.
// Nothing touches the outcome sink after that.
func (q *Queue) Drained() <-chan struct{} {
	return q.drained
}

func (q *Queue) closePool() {
	if err := q.pool.Close(); err != nil {
		q.log.Warnw("Failed to close SMTP pool", "error", err)
	}
	close(q.drained)
}

func (q *Queue) run(slot smtppool.SlotID) {
	defer q.wg.Done()
	q.log.Debugw("Delivery worker running", "slot", slot)
	for job := range q.jobs {
		metrics.DeliveryQueueDepth.WithLabelValues(q.pool.Host()).Set(float64(len(q.jobs)))
		q.process(slot, job)
	}
}

func (q *Queue) process(slot smtppool.SlotID, job *Job) {
	host := q.pool.Host()
	start := time.Now()

	attempts, err := q.deliverSafely(slot, job)
	elapsed := time.Since(start)

	metrics.DeliveryDuration.WithLabelValues(host).Observe(elapsed.Seconds())
	if err != nil {
		metrics.DeliveryFailed.WithLabelValues(host).Inc()
	} else {
		metrics.DeliverySucceeded.WithLabelValues(host).Inc()
	}

	if q.sink != nil {
		rec := &outcome.Record{
			JobID:     job.ID,
			Origin:    string(job.Message.Origin),
			Recipient: job.Message.To,
			Subject:   job.Message.Subject,
			Filename:  job.Message.Filename,
			Attempts:  attempts,
			Success:   err == nil,
			Duration:  elapsed,
			Timestamp: time.Now(),
		}
		if err != nil {
			rec.Error = err.Error()
		}
		ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
		if serr := q.sink.Write(ctx, rec); serr != nil {
			q.log.Warnw("Failed to record delivery outcome", "job", job.ID, "error", serr)
		}
		cancel()
	}

	if job.done != nil {
		job.done <- err
	}
}

// deliverSafely turns a panic inside a delivery into a failed outcome so the
// worker keeps serving its slot.
func (q *Queue) deliverSafely(slot smtppool.SlotID, job *Job) (attempts int, err error) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Errorw("panic in delivery worker recovered",
				"job", job.ID,
				"slot", slot,
				"panic", r)
			err = fmt.Errorf("panic during delivery: %v", r)
		}
	}()
	return q.worker.Deliver(q.ctx, slot, job)
}
