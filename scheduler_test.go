package crmclient

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, client HTTPClient) *Scheduler {
	t.Helper()
	s, err := NewScheduler(
		WithWebhook("https://portal.bitrix24.com/rest/1/xxxx/"),
		WithHTTPClient(client),
		WithPoolSize(1000),
		WithRequestsPerSecond(1000),
		WithVelocityPolicy(false),
	)
	require.NoError(t, err)
	return s
}

func TestScheduler_SingleRequest_RetriesTransientFailuresThenSucceeds(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	transport := newMockTransport(func(_ string, _ any) (int, map[string]any, error) {
		n := attempts.Add(1)
		if n <= 4 {
			return 503, nil, &HTTPStatusError{Status: 503}
		}
		return 200, map[string]any{"result": []any{"ok"}}, nil
	})

	scheduler := newTestScheduler(t, transport)

	start := time.Now()
	env, err := scheduler.SingleRequest(context.Background(), "crm.lead.list", Params{"filter": Params{}})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, []any{"ok"}, env["result"])
	assert.Equal(t, int32(5), attempts.Load(), "4 failures then a success is exactly 5 attempts")

	// the 4th consecutive failure crosses the grace boundary and should
	// introduce the initial 0.5s autothrottle sleep before the 5th attempt.
	assert.GreaterOrEqual(t, elapsed, InitialTimeout)
}

func TestScheduler_SingleRequest_NonRetriableFailsImmediately(t *testing.T) {
	t.Parallel()

	transport := newMockTransport(func(_ string, _ any) (int, map[string]any, error) {
		return 400, nil, &HTTPStatusError{Status: 400}
	})
	scheduler := newTestScheduler(t, transport)

	_, err := scheduler.SingleRequest(context.Background(), "crm.lead.list", nil)
	require.Error(t, err)
	assert.Equal(t, 1, transport.callCount())
}

func TestScheduler_SingleRequest_ExhaustsAfterMaxRetries(t *testing.T) {
	t.Parallel()

	transport := newMockTransport(func(_ string, _ any) (int, map[string]any, error) {
		return 503, nil, &HTTPStatusError{Status: 503}
	})
	scheduler := newTestScheduler(t, transport)

	_, err := scheduler.SingleRequest(context.Background(), "crm.lead.list", nil)
	require.Error(t, err)

	var exhaustion *ExhaustionError
	require.ErrorAs(t, err, &exhaustion)
	assert.Equal(t, MaxRetries+1, exhaustion.Attempts)
}

func TestScheduler_Autothrottle_ShrinksConcurrencyOnFailureStreak(t *testing.T) {
	t.Parallel()

	transport := newMockTransport(func(_ string, _ any) (int, map[string]any, error) {
		return 503, nil, &HTTPStatusError{Status: 503}
	})
	scheduler := newTestScheduler(t, transport)
	before := scheduler.ConcurrencyLimit()

	_, _ = scheduler.SingleRequest(context.Background(), "crm.lead.list", nil)

	after := scheduler.ConcurrencyLimit()
	assert.Less(t, after, before, "a run of failures should shrink the concurrency ceiling")
}

func TestScheduler_SingleRequest_CoalescesIdenticalInFlightRequests(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	release := make(chan struct{})
	transport := newMockTransport(func(_ string, _ any) (int, map[string]any, error) {
		calls.Add(1)
		<-release
		return 200, map[string]any{"result": []any{"ok"}}, nil
	})
	scheduler := newTestScheduler(t, transport)

	const n = 5
	var wg sync.WaitGroup
	results := make([]Envelope, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			env, err := scheduler.SingleRequest(context.Background(), "crm.lead.list", Params{"filter": Params{"ID": 1}})
			results[idx] = env
			errs[idx] = err
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []any{"ok"}, results[i]["result"])
	}
	assert.Equal(t, int32(1), calls.Load(), "identical concurrent requests should coalesce into one call")
}

func TestScheduler_NeverClosesCallerSuppliedClient(t *testing.T) {
	t.Parallel()

	transport := newMockTransport(func(_ string, _ any) (int, map[string]any, error) {
		return 200, map[string]any{"result": []any{"ok"}}, nil
	})
	scheduler := newTestScheduler(t, transport)

	_, err := scheduler.SingleRequest(context.Background(), "crm.lead.list", nil)
	require.NoError(t, err)

	transport.mu.Lock()
	closed := transport.closed
	transport.mu.Unlock()
	assert.False(t, closed, "a caller-supplied client must never be closed by the Scheduler")
}

func TestScheduler_ClosesOwnedClientWhenLastOperationEnds(t *testing.T) {
	t.Parallel()

	transport := newMockTransport(func(_ string, _ any) (int, map[string]any, error) {
		return 200, map[string]any{"result": []any{"ok"}}, nil
	})
	webhook, err := NewWebhook("https://portal.bitrix24.com/rest/1/xxxx/")
	require.NoError(t, err)

	scheduler := &Scheduler{
		webhook:                webhook,
		client:                 transport,
		clientProvidedByCaller: false,
		concurrency:            NewConcurrencyLimiter(50),
		tokens:                 NewTokenBucket(1000, 1000),
		windows:                newSlidingWindowRegistry(MaxRequestRunningTime, MeasurementPeriod),
		logger:                 zerolog.Nop(),
	}

	_, err = scheduler.SingleRequest(context.Background(), "crm.lead.list", nil)
	require.NoError(t, err)

	transport.mu.Lock()
	closed := transport.closed
	transport.mu.Unlock()
	assert.True(t, closed, "the Scheduler's own client is closed once the last operation ends")
}

func TestScheduler_Slow_ClampsInFlightRequests(t *testing.T) {
	t.Parallel()

	var current, maxObserved atomic.Int32
	transport := newMockTransport(func(_ string, _ any) (int, map[string]any, error) {
		n := current.Add(1)
		for {
			prev := maxObserved.Load()
			if n <= prev || maxObserved.CompareAndSwap(prev, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		current.Add(-1)
		return 200, map[string]any{"result": []any{"ok"}}, nil
	})
	scheduler := newTestScheduler(t, transport)
	prior := scheduler.ConcurrencyLimit()

	err := scheduler.Slow(1, func() error {
		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				_, _ = scheduler.SingleRequest(context.Background(), "crm.lead.list", Params{"filter": Params{"ID": idx}})
			}(i)
		}
		wg.Wait()
		return nil
	})

	require.NoError(t, err)
	assert.LessOrEqual(t, maxObserved.Load(), int32(1), "under Slow(1) at most one request is in flight at any instant")
	assert.Equal(t, prior, scheduler.ConcurrencyLimit(), "the prior cap is restored once the scope exits")
}

func TestScheduler_Slow_RestoresPriorLimitOnExit(t *testing.T) {
	t.Parallel()

	transport := newMockTransport(func(_ string, _ any) (int, map[string]any, error) {
		return 200, map[string]any{"result": []any{}}, nil
	})
	scheduler := newTestScheduler(t, transport)
	scheduler.concurrency.SetLimit(10)

	var observed float64
	err := scheduler.Slow(2, func() error {
		observed = scheduler.ConcurrencyLimit()
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, float64(2), observed)
	assert.Equal(t, float64(10), scheduler.ConcurrencyLimit())
}
