package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recordingPolicy(attempts int, slept *[]time.Duration) Policy {
	return Policy{
		Attempts: attempts,
		Initial:  500 * time.Millisecond,
		Max:      time.Second,
		sleep: func(_ context.Context, d time.Duration) error {
			*slept = append(*slept, d)
			return nil
		},
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	var slept []time.Duration
	p := recordingPolicy(3, &slept)

	calls := 0
	err := p.Do(context.Background(), "list", func(context.Context) error {
		calls++
		if calls < 3 {
			return Transient(errors.New("503"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(slept) != 2 || slept[0] != 500*time.Millisecond || slept[1] != time.Second {
		t.Errorf("slept = %v, want [500ms 1s]", slept)
	}
}

func TestDo_BackoffCappedAtMax(t *testing.T) {
	var slept []time.Duration
	p := recordingPolicy(5, &slept)

	_ = p.Do(context.Background(), "op", func(context.Context) error {
		return Transient(errors.New("timeout"))
	})
	for i, d := range slept {
		if d > time.Second {
			t.Errorf("slept[%d] = %v, exceeds max", i, d)
		}
	}
	if len(slept) != 4 {
		t.Errorf("len(slept) = %d, want 4", len(slept))
	}
}

func TestDo_PermanentErrorNotRetried(t *testing.T) {
	var slept []time.Duration
	p := recordingPolicy(3, &slept)
	permanent := errors.New("403 forbidden")

	calls := 0
	err := p.Do(context.Background(), "fetch", func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("err = %v, want %v", err, permanent)
	}
	if calls != 1 || len(slept) != 0 {
		t.Errorf("calls = %d slept = %v, want a single attempt", calls, slept)
	}
}

func TestDo_Exhausted(t *testing.T) {
	var slept []time.Duration
	p := recordingPolicy(3, &slept)
	cause := errors.New("connection reset")

	err := p.Do(context.Background(), "write sheet", func(context.Context) error {
		return Transient(cause)
	})

	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("err = %v, want *ExhaustedError", err)
	}
	if ex.Attempts != 3 || ex.Op != "write sheet" {
		t.Errorf("ExhaustedError = %+v", ex)
	}
	if !errors.Is(err, cause) {
		t.Error("ExhaustedError does not unwrap to the cause")
	}
}

func TestDo_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := DefaultPolicy().Do(ctx, "op", func(context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}

func TestValue(t *testing.T) {
	var slept []time.Duration
	p := recordingPolicy(2, &slept)

	calls := 0
	got, err := Value(context.Background(), p, "get", func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", Transient(errors.New("429"))
		}
		return "payload", nil
	})
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if got != "payload" {
		t.Errorf("got %q, want payload", got)
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(nil) {
		t.Error("IsTransient(nil) = true")
	}
	if IsTransient(errors.New("plain")) {
		t.Error("plain error reported transient")
	}
	if !IsTransient(Transient(errors.New("x"))) {
		t.Error("TransientError not reported transient")
	}
	wrapped := errors.Join(errors.New("ctx"), Transient(errors.New("x")))
	if !IsTransient(wrapped) {
		t.Error("wrapped TransientError not reported transient")
	}
	if Transient(nil) != nil {
		t.Error("Transient(nil) != nil")
	}
}
