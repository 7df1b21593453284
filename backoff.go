package crmclient

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Tunable constants governing retry, batching, and windowing behavior.
// These match the server's documented admission policy exactly.
const (
	// MaxBatchSize is the maximum number of sub-commands per multicall.
	MaxBatchSize = 50

	// MaxURLLength is the server's URL-length ceiling in bytes.
	MaxURLLength = 5820

	// MaxRequestRunningTime is the sliding window's max cumulative
	// server-side processing seconds per method.
	MaxRequestRunningTime = 480 * time.Second

	// MeasurementPeriod is the sliding window's measurement period.
	MeasurementPeriod = 600 * time.Second

	// MaxRetries is the retry ceiling: the number of retries after the
	// initial attempt. Once 1+MaxRetries consecutive attempts have failed
	// with retriable errors, the operation fails with an ExhaustionError.
	MaxRetries = 10

	// RestoreConnectionsFactor grows the concurrency limit after a
	// success streak.
	RestoreConnectionsFactor = 1.3

	// DecreaseConnectionsFactor shrinks the concurrency limit after a
	// failure streak.
	DecreaseConnectionsFactor = 3.0

	// InitialTimeout is the base of the exponential backoff delay.
	InitialTimeout = 500 * time.Millisecond

	// BackoffFactor is the exponential backoff's growth base.
	BackoffFactor = 1.5

	// NumFailuresNoTimeout is the number of consecutive failures
	// tolerated before any sleep is introduced (the "grace" period).
	NumFailuresNoTimeout = 3

	// DefaultPageSize is the server's list-endpoint page size.
	DefaultPageSize = 50
)

// schedulerBackOff implements backoff.BackOff for the autothrottle's
// exponential-after-grace delay: no sleep while the failure streak is
// within the grace period, then 0.5 * 1.5^(-successive-4). The delay is
// computed from the Scheduler's live successive-failure streak rather
// than an internal attempt tally, so concurrent operations back off
// together once the server starts rejecting. Driven by backoff.Retry in
// the Scheduler's retry loop.
type schedulerBackOff struct {
	scheduler *Scheduler
}

var _ backoff.BackOff = (*schedulerBackOff)(nil)

func (b *schedulerBackOff) Reset() {}

func (b *schedulerBackOff) NextBackOff() time.Duration {
	return delayForSuccessiveFailures(b.scheduler.successiveResults())
}

// delayForSuccessiveFailures computes the autothrottle sleep for a given
// (negative) successive-failure count:
//
//	successive < -NumFailuresNoTimeout: sleep 0.5 * 1.5^(-successive-4)
//	otherwise: no sleep (still within the grace period)
func delayForSuccessiveFailures(successive int) time.Duration {
	if successive >= -NumFailuresNoTimeout {
		return 0
	}
	power := float64(-successive - NumFailuresNoTimeout - 1)
	seconds := InitialTimeout.Seconds() * math.Pow(BackoffFactor, power)
	return time.Duration(seconds * float64(time.Second))
}
