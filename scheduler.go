package crmclient

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// maxConcurrency is the hard ceiling the autothrottle never grows past,
// matching the server's documented maximum simultaneous request quota.
const maxConcurrency = 50

// Scheduler composes the concurrency limiter, token bucket, and (when
// enabled) per-method sliding windows with an adaptive-backoff retry loop,
// and dispatches requests through an HTTPClient.
type Scheduler struct {
	webhook                Webhook
	client                 HTTPClient
	clientProvidedByCaller bool

	respectVelocityPolicy bool

	concurrency *ConcurrencyLimiter
	tokens      *TokenBucket
	windows     *slidingWindowRegistry

	group singleflight.Group

	mu         sync.Mutex
	successive int
	activeRuns int

	slowMu    sync.Mutex
	slowStack []float64

	logger zerolog.Logger
}

// NewScheduler constructs a Scheduler per the Option configuration. See
// options.go for the recognised knobs.
func NewScheduler(opts ...Option) (*Scheduler, error) {
	cfg := newConfig(opts...)

	webhook, err := NewWebhook(cfg.Webhook)
	if err != nil {
		return nil, err
	}

	client := cfg.Client
	providedByCaller := client != nil
	if client == nil {
		client = newDefaultHTTPClient(cfg.SSL, cfg.timeout)
	}

	logger := zerolog.Nop()
	if cfg.Verbose {
		logger = newDebugLogger()
	}

	return &Scheduler{
		webhook:                webhook,
		client:                 client,
		clientProvidedByCaller: providedByCaller,
		respectVelocityPolicy:  cfg.RespectVelocityPolicy,
		concurrency:            NewConcurrencyLimiter(maxConcurrency),
		tokens:                 NewTokenBucket(cfg.RequestPoolSize, cfg.RequestsPerSecond),
		windows:                newSlidingWindowRegistry(MaxRequestRunningTime, MeasurementPeriod),
		logger:                 logger,
	}, nil
}

// SingleRequest dispatches one logical request (method + params) with
// full gating, retry, and adaptive backoff. It is the building block
// every higher-level operation (Call, GetByID, GetAll, CallBatch) and the
// Batcher/Paginator use to talk to the server.
func (s *Scheduler) SingleRequest(ctx context.Context, method string, params Params) (Envelope, error) {
	return s.dispatch(ctx, method, params)
}

// RawRequest dispatches body verbatim as the POST payload, bypassing the
// Params model entirely. This is the escape hatch legacy methods that
// expect a list body (or null-valued fields that must survive untouched)
// need; it still runs through every gate and the retry loop.
func (s *Scheduler) RawRequest(ctx context.Context, method string, body any) (Envelope, error) {
	return s.dispatch(ctx, method, body)
}

func (s *Scheduler) dispatch(ctx context.Context, method string, body any) (Envelope, error) {
	s.beginOperation()
	defer s.endOperation()

	key := requestIdentityKey(method, body)
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.singleRequestUncoalesced(ctx, method, body)
	})
	if err != nil {
		return nil, err
	}
	return v.(Envelope), nil
}

func (s *Scheduler) singleRequestUncoalesced(ctx context.Context, method string, body any) (Envelope, error) {
	env, err := backoff.Retry(ctx, func() (Envelope, error) {
		env, err := s.attempt(ctx, method, body)
		if err == nil {
			s.recordSuccess()
			return env, nil
		}

		if !isRetriable(err) {
			return nil, backoff.Permanent(err)
		}

		s.recordFailure()
		return nil, err
	},
		backoff.WithBackOff(&schedulerBackOff{scheduler: s}),
		backoff.WithMaxTries(MaxRetries+1), // +1 because the initial attempt is counted
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Debug().Str("method", method).Dur("delay", next).Err(err).Msg("retrying after transient failure")
		}),
	)
	if err != nil {
		if isRetriable(err) {
			return nil, &ExhaustionError{Attempts: MaxRetries + 1, Cause: err}
		}
		return nil, err
	}
	return env, nil
}

// attempt runs the three gates in order, dispatches one HTTP POST, and
// (when enabled) credits the sliding window with observed server time.
func (s *Scheduler) attempt(ctx context.Context, method string, body any) (Envelope, error) {
	s.autothrottle()

	if err := s.concurrency.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.concurrency.Release()

	if err := s.tokens.Acquire(ctx); err != nil {
		return nil, err
	}

	if s.respectVelocityPolicy {
		window := s.windows.forMethod(method)
		if err := window.Acquire(ctx); err != nil {
			return nil, err
		}
	}

	attemptID := uuid.NewString()
	s.logger.Debug().Str("method", method).Str("attempt_id", attemptID).Msg("requesting")

	start := time.Now()
	_, decoded, err := s.client.Post(ctx, s.webhook.RequestURL(method), body)
	elapsed := time.Since(start)

	if err != nil {
		s.logger.Debug().Str("method", method).Str("attempt_id", attemptID).Err(err).Msg("request failed")
		return nil, err
	}

	env := Envelope(decoded)
	s.logger.Debug().Str("method", method).Str("attempt_id", attemptID).Dur("elapsed", elapsed).Msg("response")

	if s.respectVelocityPolicy {
		s.creditServerTime(env, method, elapsed, body)
	}

	return env, nil
}

// creditServerTime walks the response's time accounting: for
// a batch reply, each sub-command's own method is credited with its
// reported operating duration; for a non-batch reply, method itself is
// credited.
func (s *Scheduler) creditServerTime(env Envelope, method string, elapsed time.Duration, outgoing any) {
	if method != "batch" {
		d := operatingDuration(env["time"], elapsed)
		s.windows.forMethod(method).Record(d)
		return
	}

	resultTime, _ := nestedMap(env, "time", "result_time")
	params, _ := outgoing.(Params)
	cmd, _ := params["cmd"].(map[string]any)

	for label, rawCmd := range cmd {
		cmdStr, ok := rawCmd.(string)
		if !ok {
			continue
		}
		subMethod := subMethodFromCmd(cmdStr)

		var perLabel any
		if resultTime != nil {
			perLabel = resultTime[label]
		}
		d := operatingDuration(perLabel, elapsed)
		s.windows.forMethod(subMethod).Record(d)
	}
}

// subMethodFromCmd extracts "crm.lead.list" out of "crm.lead.list?filter...".
func subMethodFromCmd(cmd string) string {
	method, _, _ := strings.Cut(cmd, "?")
	return method
}

// nestedMap walks env[path[0]][path[1]]... returning the final
// map[string]any, or nil if any step isn't a map.
func nestedMap(env Envelope, path ...string) (map[string]any, bool) {
	cur := map[string]any(env)
	for _, key := range path {
		next, ok := cur[key].(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// operatingDuration reads the "operating" seconds field the server
// reports, falling back to the wall-clock elapsed time if absent.
func operatingDuration(timeInfo any, elapsed time.Duration) time.Duration {
	m, ok := timeInfo.(map[string]any)
	if !ok {
		return elapsed
	}
	op, ok := asFloat(m["operating"])
	if !ok {
		return elapsed
	}
	return time.Duration(op * float64(time.Second))
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// autothrottle applies the adaptive concurrency adjustment: a failure
// streak divides the limit, a success streak multiplies it back up. The
// streak-driven retry delay itself lives in schedulerBackOff, applied by
// backoff.Retry between attempts.
func (s *Scheduler) autothrottle() {
	s.mu.Lock()
	successive := s.successive
	limit := s.concurrency.Limit()

	switch {
	case successive < 0:
		limit = math.Max(limit/DecreaseConnectionsFactor, 1)
	case successive > 0:
		limit = math.Min(limit*RestoreConnectionsFactor, maxConcurrency)
	}
	s.mu.Unlock()

	// while a Slow scope is active its cap is authoritative; the adaptive
	// adjustment resumes once the scope pops.
	s.slowMu.Lock()
	slowed := len(s.slowStack) > 0
	s.slowMu.Unlock()
	if !slowed {
		s.concurrency.SetLimit(limit)
	}
}

// recordSuccess bumps the scheduler-wide success streak, never resetting
// it to anything but 1 right after a run of failures.
func (s *Scheduler) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.successive+1 > 1 {
		s.successive++
	} else {
		s.successive = 1
	}
}

// successiveResults reads the scheduler-wide streak: positive counts
// consecutive successes, negative counts consecutive failures.
func (s *Scheduler) successiveResults() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.successive
}

// recordFailure decrements the scheduler-wide streak, never resetting it
// to anything but -1 right after a run of successes.
func (s *Scheduler) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.successive-1 < -1 {
		s.successive--
	} else {
		s.successive = -1
	}
}

// beginOperation/endOperation implement session refcounting: the
// underlying transport's idle connections are only torn down once the
// last active top-level operation completes, and never if the caller
// supplied their own HTTPClient. Counts nest — each high-level operation
// (Call, GetByID, GetAll, CallBatch) holds one reference for its whole
// lifetime, and every dispatched request briefly holds another, so a
// paginated fetch keeps the session open between its pages.
func (s *Scheduler) beginOperation() {
	s.mu.Lock()
	s.activeRuns++
	s.mu.Unlock()
}

func (s *Scheduler) endOperation() {
	s.mu.Lock()
	s.activeRuns--
	done := s.activeRuns == 0
	s.mu.Unlock()

	if done && !s.clientProvidedByCaller {
		_ = s.client.Close()
	}
}

// Slow temporarily lowers the concurrency ceiling to max for the
// duration of fn, restoring the prior cap on return. Both
// Slow and SlowContext push onto the same mutex-guarded stack, so nested
// or concurrent scopes restore correctly in LIFO order.
func (s *Scheduler) Slow(max int, fn func() error) error {
	s.pushSlow(float64(max))
	defer s.popSlow()
	return fn()
}

// SlowContext is the asynchronous entry form: fn receives ctx and may
// itself launch concurrent work bounded by the lowered cap.
func (s *Scheduler) SlowContext(ctx context.Context, max int, fn func(context.Context) error) error {
	s.pushSlow(float64(max))
	defer s.popSlow()
	return fn(ctx)
}

func (s *Scheduler) pushSlow(max float64) {
	s.slowMu.Lock()
	defer s.slowMu.Unlock()

	s.slowStack = append(s.slowStack, s.concurrency.Limit())
	s.concurrency.SetLimit(max)
}

func (s *Scheduler) popSlow() {
	s.slowMu.Lock()
	defer s.slowMu.Unlock()

	n := len(s.slowStack)
	if n == 0 {
		return
	}
	prior := s.slowStack[n-1]
	s.slowStack = s.slowStack[:n-1]
	s.concurrency.SetLimit(prior)
}

// ConcurrencyLimit exposes the current adaptive concurrency ceiling, for
// diagnostics and tests.
func (s *Scheduler) ConcurrencyLimit() float64 {
	return s.concurrency.Limit()
}

// InFlight exposes the current number of admitted, unreleased requests.
func (s *Scheduler) InFlight() int {
	return s.concurrency.InFlight()
}
