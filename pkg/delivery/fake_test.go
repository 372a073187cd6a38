package delivery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/americaro/quotemail/pkg/message"
	"github.com/americaro/quotemail/pkg/smtppool"
)

// fakeRelay scripts the behaviour of every transport it dials. Each scripted
// error is consumed once; an exhausted script means success.
type fakeRelay struct {
	mu       sync.Mutex
	dialErrs []error
	noopErrs []error
	sendErrs []error
	panicOn  int // panic on the n-th send (1-based), 0 disables

	sendDelay time.Duration

	dials      int
	sends      int
	sent       [][]byte
	closed     int
	overlapped atomic.Bool // one transport used by two sends at once
	closedBusy atomic.Bool // a transport closed while a send was in flight
}

func (r *fakeRelay) Dial(context.Context) (smtppool.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dials++
	if len(r.dialErrs) > 0 {
		err := r.dialErrs[0]
		r.dialErrs = r.dialErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &fakeTransport{relay: r}, nil
}

func (r *fakeRelay) pop(list *[]error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(*list) == 0 {
		return nil
	}
	err := (*list)[0]
	*list = (*list)[1:]
	return err
}

func (r *fakeRelay) snapshot() (dials, sends, closed int, sent [][]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dials, r.sends, r.closed, append([][]byte(nil), r.sent...)
}

type fakeTransport struct {
	relay  *fakeRelay
	inUse  atomic.Bool
	closed bool
}

func (t *fakeTransport) Noop() error {
	return t.relay.pop(&t.relay.noopErrs)
}

func (t *fakeTransport) Send(_ string, _ []string, msg io.WriterTo) error {
	r := t.relay
	if !t.inUse.CompareAndSwap(false, true) {
		r.overlapped.Store(true)
	}
	defer t.inUse.Store(false)

	if r.sendDelay > 0 {
		time.Sleep(r.sendDelay)
	}

	r.mu.Lock()
	r.sends++
	n := r.sends
	r.mu.Unlock()
	if r.panicOn == n {
		panic("relay exploded")
	}

	if err := r.pop(&r.sendErrs); err != nil {
		return err
	}
	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		return err
	}
	r.mu.Lock()
	r.sent = append(r.sent, buf.Bytes())
	r.mu.Unlock()
	return nil
}

func (t *fakeTransport) Close() error {
	if t.inUse.Load() {
		t.relay.closedBusy.Store(true)
	}
	t.relay.mu.Lock()
	defer t.relay.mu.Unlock()
	t.closed = true
	t.relay.closed++
	return errors.New("use of closed network connection")
}

func newTestPool(relay *fakeRelay) *smtppool.Pool {
	return smtppool.New(relay, "relay.test", zap.NewNop().Sugar())
}

func testMessage() *message.OutgoingMessage {
	return &message.OutgoingMessage{
		From:       "relay@americaro.co.kr",
		To:         "abc@americaro.co.kr",
		Subject:    "견적서 발송 - Acme | a@b.com",
		Body:       "Acme 고객님이 견적서를 요청하셨습니다.",
		Attachment: []byte("%PDF-1.4"),
		Filename:   "견적서_Acme.pdf",
		Origin:     message.OriginBase64,
	}
}

// sleepRecorder replaces the worker's backoff sleep.
type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
	err    error
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeps = append(s.sleeps, d)
	return s.err
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}
