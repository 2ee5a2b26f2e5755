package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crowdsift/attendee-pipeline/internal/pipeline/core"
	"github.com/crowdsift/attendee-pipeline/internal/pipeline/worker"
)

func TestRun_RetriesTransient(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := 0
	failUntil := 2

	fn := func(_ context.Context, _ string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= failUntil {
			return "", &core.TransientError{Err: errors.New("try again")}
		}
		return "ok", nil
	}

	out, err := worker.Run(context.Background(), []string{"jane"}, fn, worker.Options{
		Workers:           1,
		MaxRetries:        3,
		RequestTimeout:    time.Second,
		BackoffInitial:    time.Millisecond,
		BackoffMax:        2 * time.Millisecond,
		BackoffJitterFrac: 0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].Err != nil || out[0].Output != "ok" {
		t.Fatalf("unexpected output: %#v", out)
	}
	if out[0].Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", out[0].Attempts)
	}
}

func TestRun_DoesNotRetryPermanent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	fn := func(_ context.Context, _ string) (string, error) {
		calls.Add(1)
		return "", errors.New("permanent")
	}

	out, err := worker.Run(context.Background(), []string{"jane"}, fn, worker.Options{
		Workers:           1,
		MaxRetries:        10,
		BackoffInitial:    time.Millisecond,
		BackoffMax:        time.Millisecond,
		BackoffJitterFrac: 0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Err == nil || out[0].Err.Error() != "permanent" {
		t.Fatalf("unexpected output: %#v", out[0])
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}
}

func TestRun_RespectsPerErrorRetryCap(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	fn := func(_ context.Context, _ string) (string, error) {
		calls.Add(1)
		return "", &core.LimitedTransientError{Err: errors.New("slow down"), ExtraRetries: 1}
	}

	_, err := worker.Run(context.Background(), []string{"jane"}, fn, worker.Options{
		Workers:           1,
		MaxRetries:        10,
		BackoffInitial:    time.Millisecond,
		BackoffMax:        time.Millisecond,
		BackoffJitterFrac: 0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls (1 + 1 extra retry), got %d", calls.Load())
	}
}

func TestRun_PreservesInputOrder(t *testing.T) {
	t.Parallel()

	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}

	fn := func(_ context.Context, n int) (int, error) {
		// Reverse the natural completion order.
		time.Sleep(time.Duration(50-n) * time.Millisecond / 10)
		return n * 2, nil
	}

	out, err := worker.Run(context.Background(), items, fn, worker.Options{Workers: 8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, res := range out {
		if res.Output != i*2 {
			t.Fatalf("slot %d holds result %d", i, res.Output)
		}
	}
}

func TestRun_OneFailureDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	fn := func(_ context.Context, n int) (string, error) {
		if n == 1 {
			return "", errors.New("boom")
		}
		return fmt.Sprintf("ok-%d", n), nil
	}

	out, err := worker.Run(context.Background(), []int{0, 1, 2}, fn, worker.Options{Workers: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Err != nil || out[2].Err != nil {
		t.Fatalf("healthy items failed: %#v", out)
	}
	if out[1].Err == nil {
		t.Fatal("expected error for item 1")
	}
}

func TestRun_FailFastCancelsRun(t *testing.T) {
	t.Parallel()

	fn := func(ctx context.Context, n int) (string, error) {
		if n == 0 {
			return "", errors.New("boom")
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
			return "late", nil
		}
	}

	items := []int{0, 1, 2, 3}
	_, err := worker.Run(context.Background(), items, fn, worker.Options{
		Workers:  2,
		FailFast: true,
	})
	if err == nil {
		t.Fatal("expected run error in fail-fast mode")
	}
}

func TestRun_CancellationStopsNewWork(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	var started atomic.Int64
	fn := func(_ context.Context, n int) (int, error) {
		started.Add(1)
		if n == 0 {
			cancel()
		}
		return n, nil
	}

	items := make([]int, 100)
	for i := range items {
		items[i] = i
	}
	_, err := worker.Run(ctx, items, fn, worker.Options{Workers: 1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if started.Load() == int64(len(items)) {
		t.Fatal("expected cancellation to stop issuing new work")
	}
}

func TestRun_CancellationRetainsCompletedResults(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	fn := func(_ context.Context, n int) (int, error) {
		if n == 2 {
			cancel()
		}
		return n * 10, nil
	}

	items := []int{0, 1, 2, 3, 4, 5, 6, 7}
	out, err := worker.Run(ctx, items, fn, worker.Options{Workers: 1})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(out) != len(items) {
		t.Fatalf("expected %d result slots, got %d", len(items), len(out))
	}
	// Items finished before the cancel keep their results.
	for i := 0; i < 2; i++ {
		if out[i].Attempts == 0 || out[i].Err != nil || out[i].Output != i*10 {
			t.Fatalf("slot %d lost its result: %#v", i, out[i])
		}
	}
	// Items never started are left untouched.
	for i := 3; i < len(items); i++ {
		if out[i].Attempts != 0 {
			t.Fatalf("slot %d was processed after cancellation: %#v", i, out[i])
		}
	}
}

func TestRun_ProgressCallbackSeesEveryItem(t *testing.T) {
	t.Parallel()

	var seen atomic.Int64
	fn := func(_ context.Context, n int) (int, error) { return n, nil }

	out, err := worker.RunWithProgress(context.Background(), []int{1, 2, 3, 4}, fn, func(worker.Result[int]) {
		seen.Add(1)
	}, worker.Options{Workers: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 4 || seen.Load() != 4 {
		t.Fatalf("expected 4 results and 4 callbacks, got %d/%d", len(out), seen.Load())
	}
}
