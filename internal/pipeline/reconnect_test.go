package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastReconnect(retries int) ReconnectConfig {
	return ReconnectConfig{MaxRetries: retries, RetryDelay: time.Millisecond}
}

func TestRunWithReconnectFirstTry(t *testing.T) {
	calls := 0
	err := RunWithReconnect(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	}, fastReconnect(5), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 attempt, got %d", calls)
	}
}

func TestRunWithReconnectRecoversWithinBudget(t *testing.T) {
	calls := 0
	attempts := 0
	err := RunWithReconnect(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("stream gone")
		}
		return nil
	}, fastReconnect(5), nil, func() { attempts++ })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if attempts != 2 {
		t.Errorf("expected 2 retry callbacks, got %d", attempts)
	}
}

func TestRunWithReconnectBudgetSpent(t *testing.T) {
	cause := errors.New("stream gone")
	calls := 0
	err := RunWithReconnect(context.Background(), func(ctx context.Context) error {
		calls++
		return cause
	}, fastReconnect(3), nil, nil)
	if err == nil {
		t.Fatal("expected terminal error")
	}
	if !errors.Is(err, cause) {
		t.Errorf("terminal error does not wrap the last failure: %v", err)
	}
	if calls != 4 {
		t.Errorf("expected 4 attempts (1 initial + 3 retries), got %d", calls)
	}
}

func TestRunWithReconnectCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RunWithReconnect(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("stream gone")
	}, ReconnectConfig{MaxRetries: 5, RetryDelay: time.Minute}, nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 attempt before cancellation, got %d", calls)
	}
}
