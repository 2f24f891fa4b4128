package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/amirk1998/quicknotes/pkg/errors"
)

func TestCheckLimit_Burst(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 3)
	rl.now = func() time.Time { return now }

	key := UserKey(1, "create")
	for i := 0; i < 3; i++ {
		assert.NoError(t, rl.CheckLimit(key))
	}
	assert.ErrorIs(t, rl.CheckLimit(key), errors.ErrRateLimitExceeded)

	// Buckets are independent per key.
	assert.NoError(t, rl.CheckLimit(UserKey(2, "create")))
	assert.NoError(t, rl.CheckLimit(UserKey(1, "list")))

	now = now.Add(time.Second)
	assert.NoError(t, rl.CheckLimit(key))
}

func TestCleanup_DropsIdleBuckets(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(10, 10)
	rl.now = func() time.Time { return now }

	rl.Allow(SubjectKey("a@x.com", "sign_up"))
	now = now.Add(20 * time.Minute)
	rl.Allow(UserKey(1, "list"))

	rl.Cleanup()
	assert.Equal(t, 1, rl.Len())
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "user:5:delete", UserKey(5, "delete"))
	assert.Equal(t, "subject:a@x.com:sign_up", SubjectKey("a@x.com", "sign_up"))
}
