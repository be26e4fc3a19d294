// Package ratelimit implements a per-key fixed-window rate limiter.
// Thread-safe. No background goroutines: windows roll over lazily on each Allow call.
package ratelimit

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrRateLimited is returned when a key has exhausted its window.
var ErrRateLimited = errors.New("rate limit exceeded")

// Limiter decides whether a hit for key is permitted.
type Limiter interface {
	Allow(key string) error
}

// Rate is a parsed limit such as "100/minute": Limit hits per Window.
type Rate struct {
	Limit  int
	Window time.Duration
}

func (r Rate) String() string {
	return fmt.Sprintf("%d per %s", r.Limit, r.Window)
}

var units = map[string]time.Duration{
	"s": time.Second, "sec": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": 24 * time.Hour, "day": 24 * time.Hour, "days": 24 * time.Hour,
}

// ParseRate parses rate strings of the form "N/unit", "N per unit" or
// "N per M units" (e.g. "100/minute", "10 per second", "50 per 5 minutes").
func ParseRate(s string) (Rate, error) {
	in := strings.ToLower(strings.TrimSpace(s))
	var count, period string
	if i := strings.Index(in, "/"); i >= 0 {
		count, period = in[:i], in[i+1:]
	} else if i := strings.Index(in, " per "); i >= 0 {
		count, period = in[:i], in[i+len(" per "):]
	} else {
		return Rate{}, fmt.Errorf("invalid rate %q: expected \"N/unit\" or \"N per unit\"", s)
	}

	limit, err := strconv.Atoi(strings.TrimSpace(count))
	if err != nil || limit <= 0 {
		return Rate{}, fmt.Errorf("invalid rate %q: count must be a positive integer", s)
	}

	fields := strings.Fields(period)
	multiplier := 1
	switch len(fields) {
	case 1:
	case 2:
		multiplier, err = strconv.Atoi(fields[0])
		if err != nil || multiplier <= 0 {
			return Rate{}, fmt.Errorf("invalid rate %q: bad window multiplier", s)
		}
		fields = fields[1:]
	default:
		return Rate{}, fmt.Errorf("invalid rate %q: missing window unit", s)
	}

	unit, ok := units[fields[0]]
	if !ok {
		return Rate{}, fmt.Errorf("invalid rate %q: unknown unit %q", s, fields[0])
	}
	return Rate{Limit: limit, Window: time.Duration(multiplier) * unit}, nil
}

// FixedWindow is a per-key fixed-window counter. Windows are aligned to
// multiples of the window length, so every key rolls over
// at the same boundaries. A hit is allowed iff the post-increment count is
// within the limit; rejected hits still count toward the window.
type FixedWindow struct {
	mu      sync.Mutex
	rate    Rate
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	start time.Time
	count int
}

// NewFixedWindow creates a limiter that permits rate.Limit hits per key per window.
func NewFixedWindow(rate Rate) *FixedWindow {
	return &FixedWindow{
		rate:    rate,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow records a hit for key. Returns ErrRateLimited if the window is exhausted.
func (l *FixedWindow) Allow(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := l.now().Truncate(l.rate.Window)
	w, ok := l.windows[key]
	if !ok || !w.start.Equal(start) {
		if len(l.windows) > 0 {
			l.evict(start)
		}
		w = &window{start: start}
		l.windows[key] = w
	}

	w.count++
	if w.count > l.rate.Limit {
		return ErrRateLimited
	}
	return nil
}

// Remaining reports how many hits key has left in the current window.
func (l *FixedWindow) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !w.start.Equal(l.now().Truncate(l.rate.Window)) {
		return l.rate.Limit
	}
	return max(l.rate.Limit-w.count, 0)
}

// evict drops windows that ended before current. Caller holds mu.
func (l *FixedWindow) evict(current time.Time) {
	for k, w := range l.windows {
		if w.start.Before(current) {
			delete(l.windows, k)
		}
	}
}

// Unlimited always permits. Used when rate limiting is disabled.
type Unlimited struct{}

// Allow always succeeds.
func (Unlimited) Allow(string) error { return nil }
