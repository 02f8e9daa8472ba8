package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestBreaker(timeout time.Duration) *Breaker {
	return New(Config{
		FailThreshold:    3,
		SuccessThreshold: 2,
		Timeout:          timeout,
	})
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := newTestBreaker(time.Hour)

	b.Record(false)
	b.Record(false)
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())

	b.Record(false)
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := newTestBreaker(time.Hour)

	b.Record(false)
	b.Record(false)
	b.Record(true)
	b.Record(false)
	b.Record(false)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenAfterCooloff(t *testing.T) {
	b := newTestBreaker(10 * time.Millisecond)

	for i := 0; i < 3; i++ {
		b.Record(false)
	}
	assert.False(t, b.Allow())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_ClosesAfterHalfOpenSuccesses(t *testing.T) {
	b := newTestBreaker(time.Millisecond)

	for i := 0; i < 3; i++ {
		b.Record(false)
	}
	time.Sleep(5 * time.Millisecond)
	assert.True(t, b.Allow())

	b.Record(true)
	assert.Equal(t, StateHalfOpen, b.State())
	b.Record(true)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := newTestBreaker(time.Millisecond)

	for i := 0; i < 3; i++ {
		b.Record(false)
	}
	time.Sleep(5 * time.Millisecond)
	assert.True(t, b.Allow())

	b.Record(false)
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreaker_Reset(t *testing.T) {
	b := newTestBreaker(time.Hour)
	for i := 0; i < 3; i++ {
		b.Record(false)
	}
	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}
