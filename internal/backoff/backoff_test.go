package backoff

import (
	"context"
	"testing"
	"time"
)

func TestExponentialDelay(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: time.Second, Factor: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second}, // clamped at max
		{0, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := p.delay(tt.attempt, 0); got != tt.want {
			t.Errorf("delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestLinearDelay(t *testing.T) {
	p := Linear(50*time.Millisecond, 200*time.Millisecond)
	if got := p.delay(2, 0); got != 100*time.Millisecond {
		t.Errorf("delay(2) = %v", got)
	}
	if got := p.delay(10, 0); got != 200*time.Millisecond {
		t.Errorf("delay(10) = %v, want clamp at max", got)
	}
}

func TestJitterBounds(t *testing.T) {
	p := Policy{Initial: 100 * time.Millisecond, Max: time.Minute, Factor: 2, Jitter: 0.1}
	base := 100 * time.Millisecond
	if got := p.delay(1, 0); got != base {
		t.Errorf("zero random should give base, got %v", got)
	}
	if got := p.delay(1, 1); got != base+base/10 {
		t.Errorf("full random should add 10%%, got %v", got)
	}
}

func TestSleepHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Exponential(time.Minute, time.Hour)
	start := time.Now()
	if err := Sleep(ctx, p, 1); err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("sleep did not return promptly on cancel")
	}
}
