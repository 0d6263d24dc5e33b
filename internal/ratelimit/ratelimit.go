package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/pagesite/internal/httpmw"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// denied is set on the first rejection and cleared by eviction
	denied bool
}

type IPLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	perSecond   rate.Limit
	burst       int
	ttl         time.Duration
	maxVisitors int

	// onFirstDenied runs once per visitor, onDenied on every rejection,
	// onCapacity when a new client arrives at a full table. All run
	// without the lock held.
	onFirstDenied func(ip string)
	onDenied      func(ip string)
	onCapacity    func()
}

type Option func(*IPLimiter)

// WithRate refills perSecond tokens a second into a bucket of burst.
func WithRate(perSecond float64, burst int) Option {
	return func(l *IPLimiter) {
		l.perSecond = rate.Limit(perSecond)
		l.burst = burst
	}
}

// WithTTL is how long an idle client is remembered.
func WithTTL(d time.Duration) Option { return func(l *IPLimiter) { l.ttl = d } }

// WithMaxVisitors caps the table. New clients past the cap are denied
// until eviction frees room.
func WithMaxVisitors(n int) Option { return func(l *IPLimiter) { l.maxVisitors = n } }

func WithOnFirstDenied(fn func(ip string)) Option { return func(l *IPLimiter) { l.onFirstDenied = fn } }
func WithOnDenied(fn func(ip string)) Option      { return func(l *IPLimiter) { l.onDenied = fn } }
func WithOnCapacity(fn func()) Option             { return func(l *IPLimiter) { l.onCapacity = fn } }

// New starts the eviction loop, which stops with ctx.
func New(ctx context.Context, opts ...Option) *IPLimiter {
	l := &IPLimiter{
		visitors:    make(map[string]*visitor),
		perSecond:   10,
		burst:       30,
		ttl:         5 * time.Minute,
		maxVisitors: 100_000,
	}
	for _, o := range opts {
		o(l)
	}
	go l.evictLoop(ctx)
	return l
}

type verdict int

const (
	allowed verdict = iota
	denied
	deniedFirst
	full
)

func (l *IPLimiter) check(ip string, now time.Time) verdict {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[ip]
	if !ok {
		if l.maxVisitors > 0 && len(l.visitors) >= l.maxVisitors {
			return full
		}
		v = &visitor{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	if v.limiter.AllowN(now, 1) {
		return allowed
	}
	if !v.denied {
		v.denied = true
		return deniedFirst
	}
	return denied
}

// Allow reports whether ip may make a request now.
func (l *IPLimiter) Allow(ip string) bool {
	switch l.check(ip, time.Now()) {
	case allowed:
		return true
	case full:
		if l.onCapacity != nil {
			l.onCapacity()
		}
	case deniedFirst:
		if l.onFirstDenied != nil {
			l.onFirstDenied(ip)
		}
		fallthrough
	case denied:
		if l.onDenied != nil {
			l.onDenied(ip)
		}
	}
	return false
}

func (l *IPLimiter) evictLoop(ctx context.Context) {
	t := time.NewTicker(max(l.ttl/2, time.Millisecond))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			l.evict(now)
		}
	}
}

func (l *IPLimiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.ttl {
			delete(l.visitors, ip)
		}
	}
}

func (l *IPLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// Middleware answers 429 for clients over their rate. It keys on the
// address resolved by httpmw.ClientIP, so it must run inside it.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(httpmw.ClientIPFromContext(r.Context())) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte("too many requests\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
