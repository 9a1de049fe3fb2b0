// Package ratelimit throttles plugin uploads and removals per client IP.
//
// State lives in process memory and is not shared between instances. It
// bounds how often one address can make the server buffer a package and
// rewrite the registry document; it does nothing against many addresses
// acting together, and request bodies are already read off the wire by the
// time a limit is checked.
package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-plugins/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/log"
)

const (
	DefaultPerSecond   = 0.5
	DefaultBurst       = 10
	DefaultIdleTTL     = 10 * time.Minute
	DefaultMaxVisitors = 100_000
)

// Metrics is implemented by the metrics package.
type Metrics interface {
	IncRateLimitDenied()
	IncRateLimitCapacity()
}

type Options struct {
	// PerSecond is the refill rate and Burst the bucket size of each
	// client's token bucket.
	PerSecond float64
	Burst     int

	// IdleTTL is how long a client may stay quiet before its bucket is
	// dropped.
	IdleTTL time.Duration

	// MaxVisitors caps tracked clients. Unknown clients are refused while
	// the table is full. Negative disables the cap.
	MaxVisitors int

	Logger  log.Logger
	Metrics Metrics

	// Now defaults to time.Now.
	Now func() time.Time
}

func (o *Options) setDefaults() {
	if o.PerSecond <= 0 {
		o.PerSecond = DefaultPerSecond
	}
	if o.Burst <= 0 {
		o.Burst = DefaultBurst
	}
	if o.IdleTTL <= 0 {
		o.IdleTTL = DefaultIdleTTL
	}
	if o.MaxVisitors == 0 {
		o.MaxVisitors = DefaultMaxVisitors
	}
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.Metrics == nil {
		o.Metrics = nopMetrics{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type nopMetrics struct{}

func (nopMetrics) IncRateLimitDenied()   {}
func (nopMetrics) IncRateLimitCapacity() {}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
	// warned is set after the first refusal is logged
	warned bool
}

// Limiter holds one token bucket per client IP.
type Limiter struct {
	opts       Options
	retryAfter string

	mu      sync.Mutex
	buckets map[string]*bucket
	full    bool
}

// New returns a Limiter whose idle buckets are swept until ctx is done.
func New(ctx context.Context, opts Options) *Limiter {
	opts.setDefaults()
	l := &Limiter{
		opts:    opts,
		buckets: make(map[string]*bucket),
		// time for one token to come back
		retryAfter: strconv.Itoa(int(math.Ceil(1 / opts.PerSecond))),
	}
	go l.sweepLoop(ctx)
	return l
}

// decision is the outcome of one check, acted on outside the lock.
type decision int

const (
	allowed decision = iota
	refused
	refusedFirst
	refusedFull
	refusedFullFirst
)

func (l *Limiter) check(ip string) decision {
	now := l.opts.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[ip]
	if !ok {
		if l.opts.MaxVisitors > 0 && len(l.buckets) >= l.opts.MaxVisitors {
			if l.full {
				return refusedFull
			}
			l.full = true
			return refusedFullFirst
		}
		b = &bucket{lim: rate.NewLimiter(rate.Limit(l.opts.PerSecond), l.opts.Burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = now
	if b.lim.AllowN(now, 1) {
		return allowed
	}
	if b.warned {
		return refused
	}
	b.warned = true
	return refusedFirst
}

// Allow reports whether ip may proceed, recording refusals.
func (l *Limiter) Allow(ctx context.Context, ip string) bool {
	d := l.check(ip)
	if d == allowed {
		return true
	}
	l.opts.Metrics.IncRateLimitDenied()
	switch d {
	case refusedFirst:
		// once per bucket lifetime, so a flood produces one line
		l.opts.Logger.Warn(ctx, "client rate limited", "client_ip", ip)
	case refusedFullFirst:
		l.opts.Metrics.IncRateLimitCapacity()
		l.opts.Logger.Warn(ctx, "rate limiter table full, refusing new clients",
			"max_visitors", l.opts.MaxVisitors)
	}
	return false
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// sweep drops buckets idle longer than IdleTTL as of now.
func (l *Limiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.opts.IdleTTL {
			delete(l.buckets, ip)
		}
	}
	if l.opts.MaxVisitors <= 0 || len(l.buckets) < l.opts.MaxVisitors {
		l.full = false
	}
}

func (l *Limiter) sweepLoop(ctx context.Context) {
	t := time.NewTicker(l.opts.IdleTTL / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.sweep(l.opts.Now())
		}
	}
}

// Middleware answers 429 once the client address resolved by
// httpmw.ClientIPWithOptions runs out of tokens.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Allow(r.Context(), httpmw.ClientIPFromContext(r.Context())) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Retry-After", l.retryAfter)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"too many requests","kind":"rate_limited"}` + "\n"))
	})
}
