package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("test error")

func quickConfig(maxAttempts int) Config {
	return Config{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), quickConfig(3), func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("expected no error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got: %d", attempts)
	}
}

func TestDo_SucceedsAfterRetry(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), quickConfig(3), func() error {
		attempts++
		if attempts < 3 {
			return errTest
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected no error, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got: %d", attempts)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), quickConfig(2), func() error {
		attempts++
		return errTest
	})

	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if !errors.Is(err, errTest) {
		t.Errorf("expected wrapped original error, got: %v", err)
	}
	if attempts != 3 { // first attempt + 2 retries
		t.Errorf("expected 3 attempts, got: %d", attempts)
	}
}

func TestDo_NonRetryable(t *testing.T) {
	cfg := quickConfig(3)
	cfg.ShouldRetry = func(err error) bool { return !errors.Is(err, errTest) }

	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		return errTest
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt for non-retryable error, got: %d", attempts)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, quickConfig(3), func() error { return errTest })
	if err == nil || !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
}

func TestOnce(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Once(), func() error {
		attempts++
		return errTest
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 2 { // initial attempt + exactly one retry
		t.Errorf("expected 2 attempts, got: %d", attempts)
	}
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	got, err := DoWithResult(context.Background(), quickConfig(2), func() (int, error) {
		attempts++
		if attempts < 2 {
			return 0, errTest
		}
		return 42, nil
	})

	if err != nil {
		t.Errorf("expected no error, got: %v", err)
	}
	if got != 42 {
		t.Errorf("expected 42, got: %d", got)
	}
}
