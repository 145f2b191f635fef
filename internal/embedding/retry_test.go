package embedding

import (
	"context"
	"errors"
	"testing"
)

func TestWithRetrySucceedsWithoutRetryingOnFirstSuccess(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 call on immediate success, got %d", calls)
	}
}

func TestWithRetryGivesUpImmediatelyOnPermanentError(t *testing.T) {
	calls := 0
	permanent := &Error{Provider: "fake", Retryable: false, Err: errors.New("bad request")}
	err := withRetry(context.Background(), func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) && err != permanent {
		t.Errorf("expected the permanent error to be returned, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected no retries for a permanent error, got %d calls", calls)
	}
}

func TestWithRetryRetriesRetryableErrorUpToMaxAttempts(t *testing.T) {
	calls := 0
	retryable := &Error{Provider: "fake", Retryable: true, Err: errors.New("rate limited")}
	err := withRetry(context.Background(), func() error {
		calls++
		return retryable
	})
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if calls != maxAttempts {
		t.Errorf("expected %d attempts, got %d", maxAttempts, calls)
	}
}

func TestWithRetryRecoversAfterTransientFailure(t *testing.T) {
	calls := 0
	retryable := &Error{Provider: "fake", Retryable: true, Err: errors.New("timeout")}
	err := withRetry(context.Background(), func() error {
		calls++
		if calls < 2 {
			return retryable
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected exactly 2 attempts before success, got %d", calls)
	}
}

func TestWithRetryAbortsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	retryable := &Error{Provider: "fake", Retryable: true, Err: errors.New("rate limited")}
	calls := 0
	err := withRetry(ctx, func() error {
		calls++
		return retryable
	})
	if err == nil {
		t.Fatal("expected a context-cancellation error")
	}
}
