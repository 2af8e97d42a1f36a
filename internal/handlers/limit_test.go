package handlers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientLimiterAllow(t *testing.T) {
	l := newClientLimiter(60, 2)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.2"), "clients have separate buckets")

	now = now.Add(time.Second)
	assert.True(t, l.allow("10.0.0.1"))
}

func TestClientLimiterEvictsIdle(t *testing.T) {
	l := newClientLimiter(60, 2)
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	now := start
	l.now = func() time.Time { return now }

	l.allow("10.0.0.1")
	l.allow("10.0.0.2")
	assert.Len(t, l.limiters, 2)

	now = start.Add(5 * time.Minute)
	l.allow("10.0.0.2")
	assert.Len(t, l.limiters, 2, "no sweep before the idle time has passed")

	now = start.Add(11 * time.Minute)
	l.allow("10.0.0.3")
	assert.Len(t, l.limiters, 2)
	assert.NotContains(t, l.limiters, "10.0.0.1")
	assert.Contains(t, l.limiters, "10.0.0.2")
	assert.Contains(t, l.limiters, "10.0.0.3")

	assert.True(t, l.allow("10.0.0.1"), "an evicted client starts with a full bucket")
}

func TestClientLimiterIdleCoversRefill(t *testing.T) {
	assert.Equal(t, limiterIdle, newClientLimiter(20, 5).idle)
	assert.Equal(t, 30*time.Minute, newClientLimiter(1, 30).idle)
}
