// Package ratelimit wraps golang.org/x/time/rate with a global limiter plus
// named buckets, so order placement can be throttled independently of
// market-data requests.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Limiter provides a global request limit and lazily created named buckets.
type Limiter struct {
	global   *rate.Limiter
	buckets  sync.Map
	requests int
	period   time.Duration

	waited atomic.Int64
	denied atomic.Int64
}

// New creates a Limiter allowing requests per period, with burst equal to
// the request count.
func New(requests int, period time.Duration) *Limiter {
	return &Limiter{
		global:   rate.NewLimiter(perSecond(requests, period), requests),
		requests: requests,
		period:   period,
	}
}

// Wait blocks until the global limiter admits a request or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.global.Wait(ctx); err != nil {
		l.denied.Add(1)
		return err
	}
	l.waited.Add(1)
	return nil
}

// WaitBucket blocks on the named bucket's limiter. Buckets are created on
// demand with the limiter's default rate.
func (l *Limiter) WaitBucket(ctx context.Context, bucket string) error {
	if err := l.getBucket(bucket).Wait(ctx); err != nil {
		l.denied.Add(1)
		return err
	}
	l.waited.Add(1)
	return nil
}

// Allow reports whether the global limiter admits a request immediately.
func (l *Limiter) Allow() bool {
	ok := l.global.Allow()
	if ok {
		l.waited.Add(1)
	} else {
		l.denied.Add(1)
	}
	return ok
}

// SetBucketLimit overrides the rate and burst for a named bucket, creating
// it if needed. Burst tracks the request count: a lazily created bucket
// keeps the default burst otherwise, which would admit a full default
// window before the new rate takes effect.
func (l *Limiter) SetBucketLimit(bucket string, requests int, period time.Duration) {
	b := l.getBucket(bucket)
	b.SetLimit(perSecond(requests, period))
	b.SetBurst(requests)
}

// Stats returns the number of admitted and denied requests so far.
func (l *Limiter) Stats() (admitted, denied int64) {
	return l.waited.Load(), l.denied.Load()
}

func (l *Limiter) getBucket(bucket string) *rate.Limiter {
	if v, ok := l.buckets.Load(bucket); ok {
		return v.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(perSecond(l.requests, l.period), l.requests)
	actual, _ := l.buckets.LoadOrStore(bucket, limiter)
	return actual.(*rate.Limiter)
}

func perSecond(requests int, period time.Duration) rate.Limit {
	return rate.Limit(float64(requests) / period.Seconds())
}
