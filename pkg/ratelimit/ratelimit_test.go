package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time          { return f.now }
func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestLimiter() (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewLimiter(WithClock(clock.Now)), clock
}

func TestInstantaneousBurst(t *testing.T) {
	tests := []struct {
		tier  Tier
		calls int
	}{
		{TierAnonymous, 50},
		{TierBasic, 100},
		{TierAdmin, 700},
	}
	for _, tt := range tests {
		t.Run(tt.tier.Name, func(t *testing.T) {
			l, _ := newTestLimiter()
			allowed := 0
			for i := 0; i < tt.calls; i++ {
				if l.Allow("conn-1", ClassCommand, tt.tier) {
					allowed++
				}
			}
			assert.Equal(t, tt.tier.Limit, allowed,
				"exactly limit calls pass with no elapsed time")
		})
	}
}

func TestFullRefillAfterWindow(t *testing.T) {
	l, clock := newTestLimiter()
	tier := TierAnonymous

	for i := 0; i < tier.Limit; i++ {
		assert.True(t, l.Allow("c", ClassCommand, tier))
	}
	assert.False(t, l.Allow("c", ClassCommand, tier))

	clock.Advance(tier.Window + time.Second)
	allowed := 0
	for i := 0; i < 3*tier.Limit; i++ {
		if l.Allow("c", ClassCommand, tier) {
			allowed++
		}
	}
	assert.Equal(t, tier.Limit, allowed, "refill is capped at the limit")
}

func TestIdleNeverOverfills(t *testing.T) {
	l, clock := newTestLimiter()
	tier := TierBasic

	assert.True(t, l.Allow("c", ClassCommand, tier))
	clock.Advance(24 * time.Hour)
	allowed := 0
	for i := 0; i < 2*tier.Limit; i++ {
		if l.Allow("c", ClassCommand, tier) {
			allowed++
		}
	}
	assert.Equal(t, tier.Limit, allowed)
}

func TestFractionalRefill(t *testing.T) {
	l, clock := newTestLimiter()
	tier := TierAnonymous // 20 per minute -> one token every 3s

	for i := 0; i < tier.Limit; i++ {
		l.Allow("c", ClassCommand, tier)
	}
	assert.False(t, l.Allow("c", ClassCommand, tier))

	// 1.5s accumulates half a token, not truncated to zero
	clock.Advance(1500 * time.Millisecond)
	assert.False(t, l.Allow("c", ClassCommand, tier))
	clock.Advance(1600 * time.Millisecond)
	assert.True(t, l.Allow("c", ClassCommand, tier))
}

func TestStreamClassIsSeparate(t *testing.T) {
	l, _ := newTestLimiter()
	tier := TierAnonymous

	for i := 0; i < tier.Limit; i++ {
		l.Allow("c", ClassCommand, tier)
	}
	assert.False(t, l.Allow("c", ClassCommand, tier),
		"command bucket exhausted")

	// telemetry keeps flowing on its own bucket
	for i := 0; i < 1000; i++ {
		assert.True(t, l.Allow("c", ClassStream, tier))
	}
}

func TestBucketsPerConnection(t *testing.T) {
	l, _ := newTestLimiter()
	tier := TierAnonymous

	for i := 0; i < tier.Limit; i++ {
		l.Allow("a", ClassCommand, tier)
	}
	assert.False(t, l.Allow("a", ClassCommand, tier))
	assert.True(t, l.Allow("b", ClassCommand, tier),
		"no sharing across connections")
}

func TestCleanup(t *testing.T) {
	l, _ := newTestLimiter()
	for i := 0; i < 5; i++ {
		l.Allow(fmt.Sprintf("conn-%d", i), ClassCommand, TierAnonymous)
		l.Allow(fmt.Sprintf("conn-%d", i), ClassStream, TierAnonymous)
	}
	assert.Equal(t, 10, l.Size())
	for i := 0; i < 5; i++ {
		l.Cleanup(fmt.Sprintf("conn-%d", i))
	}
	assert.Equal(t, 0, l.Size())
}

func TestTierOrdering(t *testing.T) {
	ordered := []Tier{TierAnonymous, TierBasic, TierMid, TierBundle, TierAdmin}
	for i := 1; i < len(ordered); i++ {
		assert.Greater(t, ordered[i].Limit, ordered[i-1].Limit)
	}
}

func TestResolve(t *testing.T) {
	assert.Equal(t, TierAdmin, Resolve("admin"))
	assert.Equal(t, TierBundle, Resolve("entitled-bundle"))
	assert.Equal(t, TierAnonymous, Resolve(""))
	assert.Equal(t, TierAnonymous, Resolve("no-such-tier"))
}
