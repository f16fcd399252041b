// Package limiter provides request throttling: a waiting limiter for
// outbound client calls and a per-key limiter for the stub backend.
package limiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter blocks until a request may proceed or ctx is done.
type Limiter interface {
	Wait(ctx context.Context) error
}

// New returns a token-bucket limiter; perSecond <= 0 disables throttling.
func New(perSecond float64, burst int) Limiter {
	if perSecond <= 0 {
		return Unlimited{}
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Unlimited never blocks.
type Unlimited struct{}

// Wait only reports ctx cancellation.
func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }

type keyEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// PerKey keeps one token bucket per key (user id or remote address).
type PerKey struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	keys    map[string]*keyEntry
	now     func() time.Time
}

// NewPerKey allows perMinute requests per key with the given burst.
// Entries idle longer than idleTTL are dropped on the next Allow.
func NewPerKey(perMinute float64, burst int, idleTTL time.Duration) *PerKey {
	if burst < 1 {
		burst = 1
	}
	return &PerKey{
		limit:   rate.Limit(perMinute / 60),
		burst:   burst,
		idleTTL: idleTTL,
		keys:    make(map[string]*keyEntry),
		now:     time.Now,
	}
}

// Allow reports whether key may make a request now and consumes a token if so.
func (p *PerKey) Allow(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.idleTTL > 0 {
		for k, e := range p.keys {
			if now.Sub(e.lastSeen) > p.idleTTL {
				delete(p.keys, k)
			}
		}
	}
	e, ok := p.keys[key]
	if !ok {
		e = &keyEntry{lim: rate.NewLimiter(p.limit, p.burst)}
		p.keys[key] = e
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (p *PerKey) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}
