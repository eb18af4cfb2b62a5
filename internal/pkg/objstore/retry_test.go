package objstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 3, func() error {
		calls++
		return &Error{Kind: KindNotFound, Op: "fetch", Err: errors.New("no such key")}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("op called %d times, want 1", calls)
	}
}

func TestWithRetryRetriesTransient(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 3, func() error {
		calls++
		if calls < 3 {
			return &Error{Kind: KindTransient, Op: "store", Err: errors.New("timeout")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withRetry: %v", err)
	}
	if calls != 3 {
		t.Fatalf("op called %d times, want 3", calls)
	}
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	wantErr := &Error{Kind: KindTransient, Op: "fetch", Err: errors.New("timeout")}
	err := withRetry(context.Background(), 3, func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want %v", err, wantErr)
	}
	if calls != 3 {
		t.Fatalf("op called %d times, want 3", calls)
	}
}

func TestWithRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := withRetry(ctx, 3, func() error {
		return &Error{Kind: KindTransient, Op: "fetch", Err: errors.New("timeout")}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestClampTTL(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, defaultPresignTTL},
		{10 * time.Second, minPresignTTL},
		{5 * time.Minute, 5 * time.Minute},
		{2 * time.Hour, maxPresignTTL},
	}
	for _, tt := range tests {
		if got := clampTTL(tt.in); got != tt.want {
			t.Fatalf("clampTTL(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCheckSigned(t *testing.T) {
	signed := "http://localhost:9000/bucket/key?X-Amz-Algorithm=AWS4-HMAC-SHA256&X-Amz-Signature=abc"
	if err := checkSigned(signed); err != nil {
		t.Fatalf("checkSigned(signed): %v", err)
	}
	if err := checkSigned("http://localhost:9000/bucket/key"); err == nil {
		t.Fatal("unsigned URL must be rejected")
	}
}
