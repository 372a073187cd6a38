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

package smtppool

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/americaro/quotemail/pkg/metrics"
)

// SlotID identifies the worker a session belongs to. Slots are handed out
// by Pool.NewSlot and are never reused within a pool.
type SlotID uint64

// Transport is one open, authenticated connection to the relay.
type Transport interface {
	// Noop issues a zero-effect command to check that the connection is alive.
	Noop() error
	// Send runs one mail transaction (MAIL, RCPT, DATA).
	Send(from string, to []string, msg io.WriterTo) error
	// Close ends the connection.
	Close() error
}

// Dialer opens new transports to the relay.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// DialFunc adapts a function to the Dialer interface.
type DialFunc func(ctx context.Context) (Transport, error)

func (f DialFunc) Dial(ctx context.Context) (Transport, error) {
	return f(ctx)
}

// Session is a pooled SMTP connection owned by a single slot.
// It implements gomail.Sender so messages can be handed to gomail.Send.
type Session struct {
	// ID is unique per opened connection.
	ID        string
	Slot      SlotID
	CreatedAt time.Time

	transport Transport
}

// Send forwards one mail transaction to the underlying transport.
func (s *Session) Send(from string, to []string, msg io.WriterTo) error {
	return s.transport.Send(from, to, msg)
}

// Pool maps slots to live sessions.
type Pool struct {
	dialer Dialer
	host   string
	log    *zap.SugaredLogger
	now    func() time.Time

	nextSlot atomic.Uint64

	// mu guards sessions, slotLocks and closed. Network I/O never happens under mu.
	mu        sync.Mutex
	sessions  map[SlotID]*Session
	slotLocks map[SlotID]*sync.Mutex
	closed    bool
}

// New creates an empty pool. host is only used as a metrics/log label.
func New(dialer Dialer, host string, log *zap.SugaredLogger) *Pool {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Pool{
		dialer:    dialer,
		host:      host,
		log:       log.Named("smtp-pool"),
		now:       time.Now,
		sessions:  make(map[SlotID]*Session),
		slotLocks: make(map[SlotID]*sync.Mutex),
	}
}

// Host returns the relay host label of the pool.
func (p *Pool) Host() string {
	return p.host
}

// NewSlot assigns a fresh slot identity.
func (p *Pool) NewSlot() SlotID {
	return SlotID(p.nextSlot.Add(1))
}

// Acquire returns a usable session for slot, opening one lazily and
// replacing the existing one when it fails the liveness probe.
func (p *Pool) Acquire(ctx context.Context, slot SlotID) (*Session, error) {
	lock, err := p.slotLock(slot)
	if err != nil {
		return nil, err
	}
	// Probe-and-replace is atomic for acquirers of the same slot.
	lock.Lock()
	defer lock.Unlock()

	if s := p.lookup(slot); s != nil {
		if p.Healthy(s) {
			return s, nil
		}
		p.log.Infow("Pooled SMTP session failed liveness probe, replacing",
			"slot", slot,
			"session", s.ID,
			"age", p.now().Sub(s.CreatedAt).String())
		return p.replaceLocked(ctx, slot)
	}
	return p.open(ctx, slot)
}

// WithSession acquires the slot's session for the duration of fn. When fn
// returns an error or panics the session is discarded so the next Acquire
// reconnects. Panics are re-raised after the discard.
func (p *Pool) WithSession(ctx context.Context, slot SlotID, fn func(*Session) error) error {
	s, err := p.Acquire(ctx, slot)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			p.log.Warnw("Discarding SMTP session after panic", "slot", slot, "session", s.ID, "panic", r)
			p.Discard(slot)
			panic(r)
		}
	}()
	if err := fn(s); err != nil {
		p.Discard(slot)
		return err
	}
	return nil
}

// Healthy reports whether the session answers a NOOP.
func (p *Pool) Healthy(s *Session) bool {
	if s == nil || s.transport == nil {
		return false
	}
	if err := s.transport.Noop(); err != nil {
		metrics.SMTPProbeFailures.WithLabelValues(p.host).Inc()
		p.log.Debugw("SMTP liveness probe failed", "slot", s.Slot, "session", s.ID, "error", err)
		return false
	}
	return true
}

// Replace discards the slot's session, if any, and opens a new one.
func (p *Pool) Replace(ctx context.Context, slot SlotID) (*Session, error) {
	lock, err := p.slotLock(slot)
	if err != nil {
		return nil, err
	}
	lock.Lock()
	defer lock.Unlock()
	return p.replaceLocked(ctx, slot)
}

// Discard removes the slot's session and closes it, ignoring close errors.
func (p *Pool) Discard(slot SlotID) {
	p.mu.Lock()
	s, ok := p.sessions[slot]
	if ok {
		delete(p.sessions, slot)
		metrics.SMTPSessionsLive.WithLabelValues(p.host).Set(float64(len(p.sessions)))
	}
	p.mu.Unlock()

	if !ok {
		return
	}
	metrics.SMTPSessionsDiscarded.WithLabelValues(p.host).Inc()
	p.closeQuietly(s)
}

// Len returns the number of live sessions (for testing/metrics).
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Close shuts the pool down and closes every session it holds.
// Close errors are logged and otherwise ignored.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	sessions := make([]*Session, 0, len(p.sessions))
	for slot, s := range p.sessions {
		sessions = append(sessions, s)
		delete(p.sessions, slot)
	}
	metrics.SMTPSessionsLive.WithLabelValues(p.host).Set(0)
	p.mu.Unlock()

	p.log.Infow("Closing SMTP pool", "sessions", len(sessions))
	for _, s := range sessions {
		p.closeQuietly(s)
	}
	return nil
}

func (p *Pool) replaceLocked(ctx context.Context, slot SlotID) (*Session, error) {
	p.Discard(slot)
	return p.open(ctx, slot)
}

func (p *Pool) open(ctx context.Context, slot SlotID) (*Session, error) {
	transport, err := p.dialer.Dial(ctx)
	if err != nil {
		reason := "connect"
		var authErr *AuthError
		if errors.As(err, &authErr) {
			reason = "auth"
		}
		metrics.SMTPSessionDialFailures.WithLabelValues(p.host, reason).Inc()
		p.log.Warnw("Failed to open SMTP session", "slot", slot, "reason", reason, "error", err)
		return nil, err
	}

	s := &Session{
		ID:        uuid.NewString(),
		Slot:      slot,
		CreatedAt: p.now(),
		transport: transport,
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.closeQuietly(s)
		return nil, ErrPoolClosed
	}
	p.sessions[slot] = s
	live := len(p.sessions)
	p.mu.Unlock()

	metrics.SMTPSessionsOpened.WithLabelValues(p.host).Inc()
	metrics.SMTPSessionsLive.WithLabelValues(p.host).Set(float64(live))
	p.log.Debugw("Opened SMTP session", "slot", slot, "session", s.ID)
	return s, nil
}

func (p *Pool) lookup(slot SlotID) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[slot]
}

func (p *Pool) slotLock(slot SlotID) (*sync.Mutex, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	l, ok := p.slotLocks[slot]
	if !ok {
		l = &sync.Mutex{}
		p.slotLocks[slot] = l
	}
	return l, nil
}

func (p *Pool) closeQuietly(s *Session) {
	if err := s.transport.Close(); err != nil {
		p.log.Debugw("Ignoring error while closing SMTP session", "slot", s.Slot, "session", s.ID, "error", err)
	}
}
