package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDefaultConcurrency(t *testing.T) {
	n := DefaultConcurrency()
	if n < 1 || n > MaxConcurrency {
		t.Errorf("DefaultConcurrency() = %d, want within [1, %d]", n, MaxConcurrency)
	}
}

func TestClampWorkers(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{-1, 1},
		{0, 1},
		{1, 1},
		{3, 3},
		{4, 4},
		{16, 4},
	}
	for _, tt := range tests {
		if got := clampWorkers(tt.in); got != tt.want {
			t.Errorf("clampWorkers(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRun_ResultsInInputOrder(t *testing.T) {
	items := []int{5, 1, 4, 2, 3}

	results, err := Run(context.Background(), items, Config{Workers: 3}, func(ctx context.Context, n int) (int, error) {
		time.Sleep(time.Duration(n) * time.Millisecond)
		return n * 10, nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for i, n := range items {
		if results[i] != n*10 {
			t.Errorf("results[%d] = %d, want %d", i, results[i], n*10)
		}
	}
}

func TestRun_RespectsCeilingAndProcessesEachOnce(t *testing.T) {
	const total = 40
	const ceiling = 3

	items := make([]int, total)
	for i := range items {
		items[i] = i
	}

	var inFlight, peak atomic.Int32
	var mu sync.Mutex
	seen := make(map[int]int)

	_, err := Run(context.Background(), items, Config{Workers: ceiling}, func(ctx context.Context, n int) (struct{}, error) {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		mu.Lock()
		seen[n]++
		mu.Unlock()
		inFlight.Add(-1)
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if p := peak.Load(); p > ceiling {
		t.Errorf("peak concurrency = %d, want <= %d", p, ceiling)
	}
	if len(seen) != total {
		t.Errorf("processed %d distinct items, want %d", len(seen), total)
	}
	for n, c := range seen {
		if c != 1 {
			t.Errorf("item %d processed %d times", n, c)
		}
	}
}

func TestRun_Progress(t *testing.T) {
	items := []string{"a", "b", "c", "d"}
	var calls []int

	_, err := Run(context.Background(), items, Config{
		Workers: 2,
		OnProgress: func(completed, total int) {
			if total != len(items) {
				t.Errorf("total = %d, want %d", total, len(items))
			}
			calls = append(calls, completed)
		},
	}, func(ctx context.Context, s string) (string, error) {
		return s, nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(calls) != len(items) {
		t.Fatalf("progress calls = %v, want %d calls", calls, len(items))
	}
	for i, c := range calls {
		if c != i+1 {
			t.Errorf("calls[%d] = %d, want %d", i, c, i+1)
		}
	}
}

func TestRun_FailFast(t *testing.T) {
	boom := errors.New("boom")
	items := make([]int, 100)
	for i := range items {
		items[i] = i
	}

	var started atomic.Int32
	results, err := Run(context.Background(), items, Config{Workers: 2}, func(ctx context.Context, n int) (int, error) {
		started.Add(1)
		if n == 3 {
			return 0, boom
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Millisecond):
		}
		return n, nil
	})

	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if results != nil {
		t.Error("results should be nil on failure")
	}
	if s := started.Load(); s >= int32(len(items)) {
		t.Errorf("started %d fetches, want the pool to stop early", s)
	}
}

func TestRun_Empty(t *testing.T) {
	called := false
	results, err := Run(context.Background(), []int(nil), Config{}, func(ctx context.Context, n int) (int, error) {
		called = true
		return n, nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 0 || called {
		t.Error("empty input should not invoke fetch")
	}
}

func TestRun_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, []int{1, 2, 3}, Config{Workers: 2}, func(ctx context.Context, n int) (int, error) {
		return n, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestRun_ExplicitWorkersCapped(t *testing.T) {
	items := make([]int, 12)
	var inFlight, peak atomic.Int32

	_, err := Run(context.Background(), items, Config{Workers: 12}, func(ctx context.Context, n int) (int, error) {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return n, nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := peak.Load(); got > MaxConcurrency {
		t.Errorf("peak in-flight = %d, want at most %d", got, MaxConcurrency)
	}
}

func TestRun_CancelAfterLastItemKeepsResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	items := []int{1, 2}
	results, err := Run(ctx, items, Config{Workers: 1}, func(ctx context.Context, n int) (int, error) {
		if n == len(items) {
			cancel()
		}
		return n * 10, nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(results) != 2 || results[0] != 10 || results[1] != 20 {
		t.Errorf("results = %v, want [10 20]", results)
	}
}
