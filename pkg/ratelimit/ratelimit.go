// Package ratelimit gatekeeps inbound events per connection. Command traffic
// (room joins, steward actions) is sized for human interaction; telemetry
// streams run on a separate far more generous bucket so a 60 Hz uplink is
// never starved by the command tier.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Class separates the two traffic classes. One bucket is never shared
// across both classes for the same connection.
type Class int

const (
	ClassCommand Class = iota
	ClassStream
)

func (c Class) String() string {
	if c == ClassStream {
		return "stream"
	}
	return "command"
}

// Tier is a named rate class. Resolved once per connection from the
// entitlement context, immutable afterwards.
type Tier struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Command tier limits, strictly increasing from anonymous to admin.
var (
	TierAnonymous = Tier{Name: "anonymous", Limit: 20, Window: time.Minute}
	TierBasic     = Tier{Name: "entitled-basic", Limit: 60, Window: time.Minute}
	TierMid       = Tier{Name: "entitled-mid", Limit: 120, Window: time.Minute}
	TierBundle    = Tier{Name: "entitled-bundle", Limit: 240, Window: time.Minute}
	TierAdmin     = Tier{Name: "admin", Limit: 600, Window: time.Minute}

	// streamTier covers high frequency telemetry for all tiers alike.
	streamTier = Tier{Name: "stream", Limit: 6000, Window: 10 * time.Second}
)

// Resolve maps an entitlement context string to its command tier.
// Unknown values fall back to anonymous.
func Resolve(name string) Tier {
	switch name {
	case TierBasic.Name:
		return TierBasic
	case TierMid.Name:
		return TierMid
	case TierBundle.Name:
		return TierBundle
	case TierAdmin.Name:
		return TierAdmin
	default:
		return TierAnonymous
	}
}

type bucketKey struct {
	connID string
	class  Class
}

// Limiter holds one token bucket per (connection, class). Buckets are
// created lazily on first use and removed on Cleanup to keep memory bounded
// across connection churn.
type Limiter struct {
	mu      sync.Mutex
	buckets map[bucketKey]*rate.Limiter
	now     func() time.Time
}

type Option func(*Limiter)

// WithClock replaces the wall clock, used by tests to simulate refill.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

func NewLimiter(opts ...Option) *Limiter {
	ret := &Limiter{
		buckets: make(map[bucketKey]*rate.Limiter),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Allow deducts one token from the connection's bucket for the given class.
// The first call initializes a full bucket. Refill is continuous with
// fractional accumulation (rate = limit/window), capped at the tier limit.
func (l *Limiter) Allow(connID string, class Class, tier Tier) bool {
	if class == ClassStream {
		tier = streamTier
	}
	l.mu.Lock()
	key := bucketKey{connID: connID, class: class}
	lim, ok := l.buckets[key]
	if !ok {
		lim = rate.NewLimiter(
			rate.Limit(float64(tier.Limit)/tier.Window.Seconds()),
			tier.Limit)
		l.buckets[key] = lim
	}
	l.mu.Unlock()
	return lim.AllowN(l.now(), 1)
}

// Cleanup drops all buckets of a connection. Must be called on disconnect.
func (l *Limiter) Cleanup(connID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, bucketKey{connID: connID, class: ClassCommand})
	delete(l.buckets, bucketKey{connID: connID, class: ClassStream})
}

// Size returns the number of live buckets, exposed for the info endpoint.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
