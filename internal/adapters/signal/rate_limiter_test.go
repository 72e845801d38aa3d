package signal

import (
	"testing"
	"time"

	"github.com/dkeye/Space/internal/core"
	"github.com/stretchr/testify/assert"
)

func TestRoomRateLimiterWindow(t *testing.T) {
	rl := NewRoomRateLimiter(2, time.Second)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "limits are per session")

	now = now.Add(1100 * time.Millisecond)
	assert.True(t, rl.Allow("a"))
}

func TestRoomRateLimiterForget(t *testing.T) {
	rl := NewRoomRateLimiter(1, time.Minute)
	sid := core.SessionID("a")
	assert.True(t, rl.Allow(sid))
	assert.False(t, rl.Allow(sid))
	rl.Forget(sid)
	assert.True(t, rl.Allow(sid))
}
