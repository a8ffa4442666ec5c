// pkg/utils/backoff_test.go

package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffBoundsAttempts(t *testing.T) {
	b := Backoff{Initial: time.Nanosecond, Multiplier: 2, Cap: time.Microsecond, MaxAttempts: 3}
	s := b.Start()

	var n int
	for s.Next() {
		n++
	}
	assert.Equal(t, 3, n)
	assert.Equal(t, uint(3), s.Attempts())

	// once exhausted it stays exhausted
	assert.False(t, s.Next())
}

func TestBackoffZeroAttempts(t *testing.T) {
	s := Backoff{Initial: time.Nanosecond, Multiplier: 2}.Start()
	assert.False(t, s.Next())
}

func TestBackoffFirstAttemptIsImmediate(t *testing.T) {
	b := Backoff{Initial: time.Hour, Multiplier: 2, MaxAttempts: 1}
	s := b.Start()
	start := time.Now()
	assert.True(t, s.Next())
	assert.Less(t, time.Since(start), time.Second)
}

func TestBackoffSleepIsCapped(t *testing.T) {
	b := Backoff{Initial: time.Nanosecond, Multiplier: 1000, Cap: time.Millisecond, MaxAttempts: 6}
	s := b.Start()
	start := time.Now()
	for s.Next() {
	}
	assert.Less(t, time.Since(start), time.Second)
}
