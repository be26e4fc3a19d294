package ratelimit

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestParseRate(t *testing.T) {
	tests := []struct {
		in      string
		want    Rate
		wantErr bool
	}{
		{in: "100/minute", want: Rate{Limit: 100, Window: time.Minute}},
		{in: "100 per minute", want: Rate{Limit: 100, Window: time.Minute}},
		{in: " 10 PER Second ", want: Rate{Limit: 10, Window: time.Second}},
		{in: "2/s", want: Rate{Limit: 2, Window: time.Second}},
		{in: "50 per 5 minutes", want: Rate{Limit: 50, Window: 5 * time.Minute}},
		{in: "1000/day", want: Rate{Limit: 1000, Window: 24 * time.Hour}},
		{in: "5/hour", want: Rate{Limit: 5, Window: time.Hour}},
		{in: "", wantErr: true},
		{in: "100", wantErr: true},
		{in: "abc/minute", wantErr: true},
		{in: "0/minute", wantErr: true},
		{in: "-1/minute", wantErr: true},
		{in: "10/fortnight", wantErr: true},
		{in: "10 per", wantErr: true},
		{in: "10 per 0 minutes", wantErr: true},
		{in: "10 per a b c", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseRate(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseRate(%q) = %+v, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRate(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRate(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(limit int, window time.Duration) (*FixedWindow, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := NewFixedWindow(Rate{Limit: limit, Window: window})
	l.now = clock.Now
	return l, clock
}

func TestFixedWindow_AllowsUpToLimit(t *testing.T) {
	l, _ := newTestLimiter(2, time.Minute)

	if err := l.Allow("echo:default"); err != nil {
		t.Fatalf("first hit: %v", err)
	}
	if err := l.Allow("echo:default"); err != nil {
		t.Fatalf("second hit: %v", err)
	}
	if err := l.Allow("echo:default"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("third hit: got %v, want ErrRateLimited", err)
	}
	if got := l.Remaining("echo:default"); got != 0 {
		t.Errorf("Remaining = %d, want 0", got)
	}
}

func TestFixedWindow_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	if err := l.Allow("echo:alice"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("echo:bob"); err != nil {
		t.Errorf("bob should not share alice's window: %v", err)
	}
	if err := l.Allow("read_file:alice"); err != nil {
		t.Errorf("different operation should have its own window: %v", err)
	}
	if err := l.Allow("echo:alice"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("alice second hit: got %v", err)
	}
}

func TestFixedWindow_ResetsAtBoundary(t *testing.T) {
	l, clock := newTestLimiter(1, time.Minute)

	// 12:00:59, one second before the boundary.
	clock.Advance(59 * time.Second)
	if err := l.Allow("k"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("k"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rejection in same window, got %v", err)
	}

	clock.Advance(time.Second)
	if err := l.Allow("k"); err != nil {
		t.Errorf("expected reset at window boundary, got %v", err)
	}
	if got := l.Remaining("k"); got != 0 {
		t.Errorf("Remaining = %d, want 0", got)
	}
}

func TestFixedWindow_RejectionsCount(t *testing.T) {
	l, _ := newTestLimiter(2, time.Minute)

	for range 5 {
		_ = l.Allow("k")
	}
	if got := l.windows["k"].count; got != 5 {
		t.Errorf("count = %d, want 5", got)
	}
}

func TestFixedWindow_EvictsExpiredWindows(t *testing.T) {
	l, clock := newTestLimiter(10, time.Minute)

	_ = l.Allow("a")
	_ = l.Allow("b")
	clock.Advance(2 * time.Minute)
	_ = l.Allow("c")

	if _, ok := l.windows["a"]; ok {
		t.Error("expected expired window for a to be evicted")
	}
	if len(l.windows) != 1 {
		t.Errorf("windows = %d, want 1", len(l.windows))
	}
}

func TestFixedWindow_Concurrent(t *testing.T) {
	l, _ := newTestLimiter(50, time.Hour)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("shared") == nil {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 50 {
		t.Errorf("allowed = %d, want exactly 50", got)
	}
}

func TestUnlimited(t *testing.T) {
	var l Limiter = Unlimited{}
	for range 10_000 {
		if err := l.Allow("k"); err != nil {
			t.Fatalf("Unlimited rejected: %v", err)
		}
	}
}
