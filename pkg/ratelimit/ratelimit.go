package ratelimit

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/americaro/quotemail/pkg/apiresponses"
	"github.com/americaro/quotemail/pkg/config"
	"github.com/americaro/quotemail/pkg/metrics"
)

const (
	defaultSweepEvery = time.Minute
	defaultIdleAfter  = 5 * time.Minute
)

// Limits describes the token bucket given to every client of the send endpoints.
type Limits struct {
	PerSecond rate.Limit
	Burst     int
	// IdleAfter is how long a client may stay silent before its bucket is forgotten.
	IdleAfter time.Duration
	// SweepEvery is the interval of the background sweep for idle buckets.
	SweepEvery time.Duration
}

// SendLimits turns the rateLimit config section into bucket limits. Unset
// values fall back to the config package defaults.
func SendLimits(rl config.RateLimit) Limits {
	l := Limits{
		PerSecond: rate.Limit(config.DefaultRateLimit),
		Burst:     config.DefaultRateBurst,
	}
	if rl.Rate > 0 {
		l.PerSecond = rate.Limit(rl.Rate)
	}
	if rl.Burst > 0 {
		l.Burst = rl.Burst
	}
	return l
}

// retryAfter is the whole number of seconds until a drained bucket holds one token again.
func (l Limits) retryAfter() int {
	if l.PerSecond <= 0 {
		return 1
	}
	return max(1, int(math.Ceil(1/float64(l.PerSecond))))
}

type bucket struct {
	tokens   *rate.Limiter
	lastSeen time.Time
}

// ClientLimiter keeps one token bucket per client IP and forgets idle clients
// in the background.
type ClientLimiter struct {
	limits Limits
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	quit     chan struct{}
	quitOnce sync.Once
}

// NewClientLimiter starts the idle sweep; Stop ends it.
func NewClientLimiter(l Limits) *ClientLimiter {
	return newClientLimiter(l, time.Now)
}

func newClientLimiter(l Limits, now func() time.Time) *ClientLimiter {
	if l.SweepEvery <= 0 {
		l.SweepEvery = defaultSweepEvery
	}
	if l.IdleAfter <= 0 {
		l.IdleAfter = defaultIdleAfter
	}
	cl := &ClientLimiter{
		limits:  l,
		now:     now,
		buckets: map[string]*bucket{},
		quit:    make(chan struct{}),
	}
	go cl.sweepLoop()
	return cl
}

// allowClient takes one token from the client's bucket, creating it on first use.
func (cl *ClientLimiter) allowClient(client string) bool {
	now := cl.now()

	cl.mu.Lock()
	defer cl.mu.Unlock()
	b, ok := cl.buckets[client]
	if !ok {
		b = &bucket{tokens: rate.NewLimiter(cl.limits.PerSecond, cl.limits.Burst)}
		cl.buckets[client] = b
	}
	b.lastSeen = now
	return b.tokens.AllowN(now, 1)
}

// Middleware answers 429 with a Retry-After header once a client has spent its burst.
func (cl *ClientLimiter) Middleware() gin.HandlerFunc {
	retryAfter := strconv.Itoa(cl.limits.retryAfter())
	return func(c *gin.Context) {
		if cl.allowClient(c.ClientIP()) {
			c.Next()
			return
		}
		metrics.RelayRateLimited.WithLabelValues(c.FullPath()).Inc()
		c.Header("Retry-After", retryAfter)
		apiresponses.RespondTooManyRequests(c)
		c.Abort()
	}
}

func (cl *ClientLimiter) sweepLoop() {
	t := time.NewTicker(cl.limits.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-cl.quit:
			return
		case <-t.C:
			cl.sweep()
		}
	}
}

// sweep drops buckets idle for longer than IdleAfter and reports how many went.
func (cl *ClientLimiter) sweep() int {
	cutoff := cl.now().Add(-cl.limits.IdleAfter)

	cl.mu.Lock()
	defer cl.mu.Unlock()
	dropped := 0
	for client, b := range cl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(cl.buckets, client)
			dropped++
		}
	}
	return dropped
}

// Stop ends the idle sweep. Repeated calls are no-ops.
func (cl *ClientLimiter) Stop() {
	cl.quitOnce.Do(func() { close(cl.quit) })
}

// Tracked is the number of clients that currently hold a bucket.
func (cl *ClientLimiter) Tracked() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.buckets)
}

func (cl *ClientLimiter) Limits() Limits {
	return cl.limits
}
