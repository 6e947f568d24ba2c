package retry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/wildfs/wildfs/pkg/errors"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
		RetryableErrors: []errors.ErrorCode{
			errors.ErrCodeBackendUnavailable,
		},
	}
}

func TestRetryer_Success(t *testing.T) {
	attempts := 0
	err := New(fastConfig(3)).Do(context.Background(), func(context.Context) error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_RetryableError(t *testing.T) {
	attempts := 0
	err := New(fastConfig(3)).Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.NewError(errors.ErrCodeBackendUnavailable, "backend unavailable")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryer_NonRetryableError(t *testing.T) {
	attempts := 0
	err := New(fastConfig(3)).Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.NoSuchPath("/missing")
	})

	if !errors.HasCode(err, errors.ErrCodeNoSuchPath) {
		t.Errorf("Expected NO_SUCH_PATH, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt (no retry), got %d", attempts)
	}
}

func TestRetryer_MaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := New(fastConfig(2)).Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.NewError(errors.ErrCodeBackendUnavailable, "still down")
	})

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestRetryer_Classifier(t *testing.T) {
	tests := []struct {
		name       string
		classifier func(error) bool
		want       int
	}{
		{"no classifier", nil, 1},
		{"transient", func(error) bool { return true }, 3},
		{"permanent", func(error) bool { return false }, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			_ = New(fastConfig(3)).WithClassifier(tt.classifier).Do(context.Background(),
				func(context.Context) error {
					attempts++
					return fmt.Errorf("throttled")
				})
			if attempts != tt.want {
				t.Errorf("attempts = %d, want %d", attempts, tt.want)
			}
		})
	}
}

func TestRetryer_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := fastConfig(5)
	config.InitialDelay = time.Second
	config.MaxDelay = time.Second

	attempts := 0
	err := New(config).WithOnRetry(func(int, error, time.Duration) { cancel() }).Do(ctx,
		func(context.Context) error {
			attempts++
			return errors.NewError(errors.ErrCodeBackendUnavailable, "down")
		})

	if err == nil {
		t.Fatal("Expected cancellation error")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt before cancellation, got %d", attempts)
	}
}

func TestRetryer_ExponentialBackoff(t *testing.T) {
	r := New(Config{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2})

	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 50 * time.Millisecond}
	for i, w := range want {
		if got := r.calculateDelay(i + 1); got != w {
			t.Errorf("calculateDelay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestRetryer_JitterBounds(t *testing.T) {
	r := New(Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, Jitter: true})

	for i := 0; i < 50; i++ {
		d := r.calculateDelay(1)
		if d < 80*time.Millisecond || d > 120*time.Millisecond {
			t.Fatalf("jittered delay %v outside ±20%%", d)
		}
	}
}
