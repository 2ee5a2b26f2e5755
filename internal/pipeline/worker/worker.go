// Package worker runs a processor over a batch of items with a bounded
// pool, a global rate limit, and retry-with-backoff for transient errors.
// Results land in index-addressed slots so output order always matches
// input order regardless of completion order.
package worker

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/crowdsift/attendee-pipeline/internal/pipeline/core"
	"golang.org/x/time/rate"
)

type Options struct {
	Workers        int
	MaxRetries     int
	RequestTimeout time.Duration

	// RateLimitRPS is a global limit shared by all workers, injected here
	// rather than held as ambient state. Set to <=0 to disable.
	RateLimitRPS float64

	// FailFast cancels the whole run on the first item error. The default
	// keeps going and records errors per item.
	FailFast bool

	// BackoffInitial is the initial sleep before retrying a transient
	// failure; BackoffMax caps the exponential growth and
	// BackoffJitterFrac applies +/- jitter (0.2 = +/-20%).
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BackoffJitterFrac float64
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 200 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 2 * time.Second
	}
	if o.BackoffJitterFrac <= 0 {
		o.BackoffJitterFrac = 0.2
	}
	return o
}

// Result holds the outcome for one input item.
type Result[Out any] struct {
	Index    int
	Output   Out
	Err      error
	Attempts int
}

// Run processes every item and returns results in input order. When the
// run is cancelled or fails fast, the results collected so far are
// returned alongside the error; slots never reached have Attempts == 0.
func Run[In any, Out any](
	ctx context.Context,
	items []In,
	fn func(context.Context, In) (Out, error),
	opts Options,
) ([]Result[Out], error) {
	return RunWithProgress(ctx, items, fn, nil, opts)
}

// RunWithProgress is Run with a completion callback. onDone observes
// results in completion order, from the collector goroutine only; the
// returned slice is still input-ordered.
func RunWithProgress[In any, Out any](
	ctx context.Context,
	items []In,
	fn func(context.Context, In) (Out, error),
	onDone func(Result[Out]),
	opts Options,
) ([]Result[Out], error) {
	opts = opts.withDefaults()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var limiter *rate.Limiter
	if opts.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1)
	}

	out := make([]Result[Out], len(items))

	type job struct {
		idx int
		in  In
	}

	jobs := make(chan job)
	done := make(chan Result[Out], opts.Workers)

	var wg sync.WaitGroup

	var mu sync.Mutex
	var firstErr error
	fail := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if runCtx.Err() != nil {
					return
				}
				res := runOne(runCtx, j.idx, j.in, fn, limiter, opts)
				select {
				case done <- res:
				case <-runCtx.Done():
					return
				}
				if res.Err != nil && opts.FailFast {
					fail(res.Err)
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, item := range items {
			select {
			case jobs <- job{idx: i, in: item}:
			case <-runCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	for res := range done {
		out[res.Index] = res
		if onDone != nil {
			onDone(res)
		}
	}

	// Completed slots come back even on cancellation or fail-fast so the
	// caller can salvage partial output. Untouched slots have Attempts 0.
	mu.Lock()
	err := firstErr
	mu.Unlock()
	if err != nil {
		return out, err
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func runOne[In any, Out any](
	ctx context.Context,
	idx int,
	item In,
	fn func(context.Context, In) (Out, error),
	limiter *rate.Limiter,
	opts Options,
) Result[Out] {
	var lastOut Out
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result[Out]{Index: idx, Output: lastOut, Err: err, Attempts: attempt}
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return Result[Out]{Index: idx, Output: lastOut, Err: err, Attempts: attempt}
			}
		}

		reqCtx := ctx
		var cancel context.CancelFunc
		if opts.RequestTimeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, opts.RequestTimeout)
		}
		result, err := fn(reqCtx, item)
		lastOut = result
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return Result[Out]{Index: idx, Output: result, Attempts: attempt + 1}
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return Result[Out]{Index: idx, Output: lastOut, Err: ctx.Err(), Attempts: attempt + 1}
		}
		if !isTransient(err) || attempt >= retryBudget(opts.MaxRetries, err) {
			return Result[Out]{Index: idx, Output: lastOut, Err: err, Attempts: attempt + 1}
		}

		sleep := backoffSleep(opts.BackoffInitial, opts.BackoffMax, opts.BackoffJitterFrac, attempt)
		t := time.NewTimer(sleep)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return Result[Out]{Index: idx, Output: lastOut, Err: ctx.Err(), Attempts: attempt + 1}
		}
	}
}

type retryCap interface {
	MaxExtraRetries() int
}

func retryBudget(defaultRetries int, err error) int {
	if defaultRetries < 0 {
		defaultRetries = 0
	}
	var capErr retryCap
	if errors.As(err, &capErr) {
		limited := capErr.MaxExtraRetries()
		if limited < 0 {
			limited = 0
		}
		if limited < defaultRetries {
			return limited
		}
	}
	return defaultRetries
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *core.TransientError
	if errors.As(err, &te) {
		return true
	}
	var lte *core.LimitedTransientError
	if errors.As(err, &lte) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

func backoffSleep(initial, max time.Duration, jitterFrac float64, attempt int) time.Duration {
	sleep := initial
	for i := 0; i < attempt && sleep < max; i++ {
		sleep *= 2
		if sleep > max {
			sleep = max
			break
		}
	}
	if jitterFrac <= 0 {
		return sleep
	}
	j := 1 + (rand.Float64()*2-1)*jitterFrac
	return time.Duration(float64(sleep) * j)
}
