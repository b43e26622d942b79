package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Factor:       2.0,
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	res := Do(context.Background(), fastConfig(3), func() error {
		calls++
		return nil
	})
	if res.Err != nil || res.Attempts != 1 || calls != 1 {
		t.Fatalf("res = %+v, calls = %d", res, calls)
	}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	res := Do(context.Background(), fastConfig(4), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if res.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", res.Attempts)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	sentinel := errors.New("still broken")
	res := Do(context.Background(), fastConfig(3), func() error { return sentinel })
	if !errors.Is(res.Err, sentinel) {
		t.Fatalf("err = %v", res.Err)
	}
	if res.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", res.Attempts)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	sentinel := errors.New("bad request")
	res := Do(context.Background(), fastConfig(5), func() error {
		calls++
		return Permanent(sentinel)
	})
	if calls != 1 {
		t.Fatalf("permanent error retried %d times", calls)
	}
	if !errors.Is(res.Err, sentinel) {
		t.Fatalf("err = %v, want wrapped sentinel", res.Err)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	res := Do(ctx, fastConfig(5), func() error {
		calls++
		return errors.New("transient")
	})
	if calls != 0 {
		t.Fatalf("canceled context still ran op %d times", calls)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", res.Err)
	}
}

func TestDoValueReturnsValue(t *testing.T) {
	calls := 0
	v, res := DoValue(context.Background(), fastConfig(3), func() (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("transient")
		}
		return "payload", nil
	})
	if res.Err != nil || v != "payload" {
		t.Fatalf("v = %q, res = %+v", v, res)
	}
}

func TestIsPermanent(t *testing.T) {
	if IsPermanent(errors.New("plain")) {
		t.Fatal("plain error classified permanent")
	}
	wrapped := Permanent(errors.New("no key"))
	if !IsPermanent(wrapped) {
		t.Fatal("wrapped error not classified permanent")
	}
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) must be nil")
	}
}
