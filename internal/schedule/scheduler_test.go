package schedule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/feedsync/internal/pipeline"
)

type mockRunner struct {
	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	runFn    func(n int32) (*pipeline.Result, error)
}

func (m *mockRunner) Run(ctx context.Context, opts pipeline.Options) (*pipeline.Result, error) {
	cur := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		old := m.maxSeen.Load()
		if cur <= old || m.maxSeen.CompareAndSwap(old, cur) {
			break
		}
	}
	n := m.calls.Add(1)
	if opts.DryRun {
		return nil, errors.New("scheduled run must not be a dry run")
	}
	if m.runFn != nil {
		return m.runFn(n)
	}
	return &pipeline.Result{Outcome: pipeline.OutcomeNoFeed}, nil
}

// manualClock releases one tick per send on ticks.
type manualClock struct {
	mu    sync.Mutex
	waits []time.Duration
	ticks chan time.Time
}

func newManualClock() *manualClock {
	return &manualClock{ticks: make(chan time.Time)}
}

func (c *manualClock) after(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.mu.Unlock()
	return c.ticks
}

func TestNew_DefaultInterval(t *testing.T) {
	s := New(&mockRunner{}, 0)
	if s.Interval() != DefaultInterval {
		t.Errorf("Interval() = %v, want %v", s.Interval(), DefaultInterval)
	}
}

func TestRun_RunsImmediatelyThenPerInterval(t *testing.T) {
	runner := &mockRunner{}
	clock := newManualClock()
	s := New(runner, time.Hour)
	s.after = clock.after

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return runner.calls.Load() == 1 })
	clock.ticks <- time.Now()
	waitFor(t, func() bool { return runner.calls.Load() == 2 })
	clock.ticks <- time.Now()
	waitFor(t, func() bool { return runner.calls.Load() == 3 })

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if got := runner.maxSeen.Load(); got != 1 {
		t.Errorf("max concurrent runs = %d, want 1", got)
	}
	clock.mu.Lock()
	defer clock.mu.Unlock()
	for _, d := range clock.waits {
		if d != time.Hour {
			t.Errorf("waited %v, want 1h", d)
		}
	}
}

func TestRun_FailuresDoNotStopLoop(t *testing.T) {
	runner := &mockRunner{runFn: func(n int32) (*pipeline.Result, error) {
		if n == 1 {
			return &pipeline.Result{Outcome: pipeline.OutcomeFailed}, errors.New("gmail unavailable")
		}
		return &pipeline.Result{Outcome: pipeline.OutcomeCommitted}, nil
	}}
	s := New(runner, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return runner.calls.Load() >= 3 })
	cancel()
	<-done
}

func TestRun_CancelledContextSkipsRun(t *testing.T) {
	runner := &mockRunner{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	New(runner, time.Millisecond).Run(ctx)
	if n := runner.calls.Load(); n != 0 {
		t.Errorf("calls = %d, want 0", n)
	}
}

func TestRunOnce_ReportsOutcome(t *testing.T) {
	runner := &mockRunner{runFn: func(int32) (*pipeline.Result, error) {
		return &pipeline.Result{Outcome: pipeline.OutcomeDuplicate}, nil
	}}
	outcome, err := New(runner, time.Hour).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if outcome != pipeline.OutcomeDuplicate {
		t.Errorf("outcome = %q, want %q", outcome, pipeline.OutcomeDuplicate)
	}

	want := errors.New("boom")
	runner.runFn = func(int32) (*pipeline.Result, error) { return nil, want }
	if _, err := New(runner, time.Hour).RunOnce(context.Background()); !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(time.Millisecond)
	}
}
