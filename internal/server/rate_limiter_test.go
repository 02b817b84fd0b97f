package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_Burst_Then_Refill(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Burst: 3, RefillInterval: 3 * time.Second})
	start := rl.last

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allowAt(start), "token %d", i)
	}
	assert.False(t, rl.allowAt(start))

	// One token per second
	assert.False(t, rl.allowAt(start.Add(500*time.Millisecond)))
	assert.True(t, rl.allowAt(start.Add(time.Second)))
	assert.False(t, rl.allowAt(start.Add(time.Second)))
}

func TestRateLimiter_Caps_At_Capacity(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Burst: 2, RefillInterval: time.Second})
	later := rl.last.Add(time.Hour)

	assert.True(t, rl.allowAt(later))
	assert.True(t, rl.allowAt(later))
	assert.False(t, rl.allowAt(later))
}

func TestRateLimiter_Invalid_Config_Allows_One(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{})
	assert.True(t, rl.allowAt(rl.last))
	assert.False(t, rl.allowAt(rl.last))
}
