package domain

import (
	"errors"
	"testing"
	"time"
)

func TestNewRetryPolicy_Validation(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		fixed    int
		exp      int
		jitter   float64
		max      int
		wantErr  bool
	}{
		{name: "zero policy", wantErr: false},
		{name: "typical", attempts: 3, fixed: 5, jitter: 0.2, max: 60},
		{name: "negative attempts", attempts: -1, wantErr: true},
		{name: "negative fixed delay", fixed: -1, wantErr: true},
		{name: "negative backoff", exp: -5, wantErr: true},
		{name: "jitter above one", jitter: 1.5, wantErr: true},
		{name: "negative jitter", jitter: -0.1, wantErr: true},
		{name: "negative max delay", max: -1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRetryPolicy(tt.attempts, tt.fixed, tt.exp, tt.jitter, tt.max)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRetryPolicy) {
					t.Errorf("expected ErrInvalidRetryPolicy, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestRetryPolicy_DelayForAttempt_Fixed(t *testing.T) {
	p := RetryPolicy{Attempts: 2, FixedDelaySeconds: 5}

	for n := 1; n <= 3; n++ {
		d, err := p.DelayForAttempt(n)
		if err != nil {
			t.Fatalf("attempt %d: %v", n, err)
		}
		if d != 5*time.Second {
			t.Errorf("attempt %d: got %v, want 5s", n, d)
		}
	}
}

func TestRetryPolicy_DelayForAttempt_ExponentialClamped(t *testing.T) {
	p := RetryPolicy{ExponentialBackoffSeconds: 5, MaxDelaySeconds: 12}

	want := []time.Duration{5 * time.Second, 10 * time.Second, 12 * time.Second}
	for i, w := range want {
		d, err := p.DelayForAttempt(i + 1)
		if err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if d != w {
			t.Errorf("attempt %d: got %v, want %v", i+1, d, w)
		}
	}
}

func TestRetryPolicy_DelayForAttempt_ExponentialIgnoresFixed(t *testing.T) {
	p := RetryPolicy{FixedDelaySeconds: 100, ExponentialBackoffSeconds: 1}

	d, err := p.DelayForAttempt(4)
	if err != nil {
		t.Fatal(err)
	}
	if d != 8*time.Second {
		t.Errorf("got %v, want 8s", d)
	}
}

func TestRetryPolicy_DelayForAttempt_Jitter(t *testing.T) {
	p := RetryPolicy{FixedDelaySeconds: 10, JitterFactor: 0.5}

	d, err := p.delayForAttempt(1, func() float64 { return 1 })
	if err != nil {
		t.Fatal(err)
	}
	if d != 15*time.Second {
		t.Errorf("max jitter: got %v, want 15s", d)
	}

	d, err = p.delayForAttempt(1, func() float64 { return 0 })
	if err != nil {
		t.Fatal(err)
	}
	if d != 10*time.Second {
		t.Errorf("zero jitter: got %v, want 10s", d)
	}

	for i := 0; i < 100; i++ {
		d, err := p.DelayForAttempt(1)
		if err != nil {
			t.Fatal(err)
		}
		if d < 10*time.Second || d > 15*time.Second {
			t.Fatalf("delay %v outside [10s, 15s]", d)
		}
	}
}

func TestRetryPolicy_DelayForAttempt_InvalidAttempt(t *testing.T) {
	p := RetryPolicy{FixedDelaySeconds: 1}

	for _, n := range []int{0, -1} {
		if _, err := p.DelayForAttempt(n); !errors.Is(err, ErrInvalidAttempt) {
			t.Errorf("attempt %d: expected ErrInvalidAttempt, got %v", n, err)
		}
	}
}

func TestRetryPolicy_CanRetry(t *testing.T) {
	p := RetryPolicy{Attempts: 2}

	if !p.CanRetry(1) || !p.CanRetry(2) {
		t.Error("attempts 1 and 2 should be retryable")
	}
	if p.CanRetry(3) {
		t.Error("attempt 3 should not be retryable")
	}
}
