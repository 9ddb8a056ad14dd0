package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithTimeout_FastCallPasses(t *testing.T) {
	v, err := WithTimeout(context.Background(), time.Second, func(context.Context) (int, error) {
		return 7, nil
	})
	if err != nil || v != 7 {
		t.Errorf("got %d, %v", v, err)
	}
}

func TestWithTimeout_StopsWaiting(t *testing.T) {
	start := time.Now()
	_, err := WithTimeout(context.Background(), 30*time.Millisecond, func(context.Context) (int, error) {
		select {}
	}, "mx lookup timed out")

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if te.Error() != "mx lookup timed out" {
		t.Errorf("expected custom message, got %q", te.Error())
	}
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Errorf("timed out too late: %v", elapsed)
	}
}

func TestWithTimeout_CooperativeCalleeReportsTimeout(t *testing.T) {
	_, err := WithTimeout(context.Background(), 20*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestWithTimeout_CallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := WithTimeout(ctx, time.Second, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestWithTimeout_RecoversPanic(t *testing.T) {
	_, err := WithTimeout(context.Background(), time.Second, func(context.Context) (int, error) {
		panic("kaboom")
	})
	if err == nil || err.Error() != "panic: kaboom" {
		t.Errorf("expected recovered panic, got %v", err)
	}
}

func TestWithTimeout_ZeroDurationCallsDirectly(t *testing.T) {
	v, err := WithTimeout(context.Background(), 0, func(context.Context) (string, error) { return "x", nil })
	if err != nil || v != "x" {
		t.Errorf("got %q, %v", v, err)
	}
}

func TestWithFallback(t *testing.T) {
	ctx := context.Background()
	var reported error

	v, err := WithFallback(ctx,
		func(context.Context) (string, error) { return "", errDependency },
		func(context.Context) (string, error) { return "cached", nil },
		func(err error) { reported = err },
	)
	if err != nil || v != "cached" {
		t.Fatalf("got %q, %v", v, err)
	}
	if !errors.Is(reported, errDependency) {
		t.Errorf("onFallback should receive the primary error, got %v", reported)
	}

	fbErr := errors.New("fallback broke")
	_, err = WithFallback(ctx,
		func(context.Context) (string, error) { return "", errDependency },
		func(context.Context) (string, error) { return "", fbErr },
		nil,
	)
	if err != fbErr {
		t.Errorf("fallback error should propagate unwrapped, got %v", err)
	}

	v, err = WithFallback(ctx,
		func(context.Context) (string, error) { return "live", nil },
		func(context.Context) (string, error) { t.Error("fallback should not run"); return "", nil },
		nil,
	)
	if err != nil || v != "live" {
		t.Errorf("got %q, %v", v, err)
	}
}
