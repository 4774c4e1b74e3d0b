package queue

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second}

	cases := []struct {
		n    int
		want time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{30, 10 * time.Second},
	}
	for _, c := range cases {
		if got := p.Backoff(c.n); got != c.want {
			t.Errorf("Backoff(%d) = %s, want %s", c.n, got, c.want)
		}
	}
}

func TestRetryPolicy_Uncapped(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second}
	if got := p.Backoff(5); got != 16*time.Second {
		t.Errorf("expected 16s, got %s", got)
	}
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3}
	boom := errors.New("connection refused")

	if !p.ShouldRetry(Task{Attempt: 0}, boom) {
		t.Error("first failure should be retried")
	}
	if !p.ShouldRetry(Task{Attempt: 2}, boom) {
		t.Error("third failure should be retried")
	}
	if p.ShouldRetry(Task{Attempt: 3}, boom) {
		t.Error("retries beyond MaxRetries must stop")
	}
	if p.ShouldRetry(Task{}, Permanent(boom)) {
		t.Error("permanent errors must not be retried")
	}
	if p.ShouldRetry(Task{}, nil) {
		t.Error("success must not be retried")
	}
}

func TestPermanent(t *testing.T) {
	base := errors.New("bad request")
	err := fmt.Errorf("handle task: %w", Permanent(base))

	if !IsPermanent(err) {
		t.Error("expected wrapped permanent error to be detected")
	}
	if !errors.Is(err, base) {
		t.Error("expected permanent error to unwrap to its cause")
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) must be nil")
	}
	if IsPermanent(base) {
		t.Error("plain errors are not permanent")
	}
}
