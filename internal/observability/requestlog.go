package observability

import (
	"sync"
	"time"
)

// DefaultRequestLogSize is the number of records kept for local inspection.
const DefaultRequestLogSize = 1000

// RequestRecord describes one operation invocation.
type RequestRecord struct {
	ID        string        `json:"id"`
	Operation string        `json:"operation"`
	ClientID  string        `json:"client_id"`
	Start     time.Time     `json:"start"`
	Duration  time.Duration `json:"duration"`
	Outcome   string        `json:"outcome"`              // success, error or rate_limited
	ErrorKind string        `json:"error_kind,omitempty"` // toolerr kind when Outcome is error
}

// RequestStats is a point-in-time summary of the request log.
type RequestStats struct {
	Total       int64         `json:"total"`
	Active      int64         `json:"active"`
	Errors      int64         `json:"errors"`
	RateLimited int64         `json:"rate_limited"`
	Recent      int           `json:"recent"`       // Records inside the window.
	ErrorRate   float64       `json:"error_rate"`   // Fraction of recent records that errored.
	AvgDuration time.Duration `json:"avg_duration"` // Mean over recent successful and failed records.
}

// RequestLog is a bounded ring buffer of RequestRecords with lifetime counters.
// Safe for concurrent use.
type RequestLog struct {
	mu      sync.Mutex
	records []RequestRecord
	next    int
	full    bool

	total       int64
	active      int64
	errors      int64
	rateLimited int64

	now func() time.Time
}

// NewRequestLog creates a request log holding at most size records.
func NewRequestLog(size int) *RequestLog {
	if size <= 0 {
		size = DefaultRequestLogSize
	}
	return &RequestLog{
		records: make([]RequestRecord, size),
		now:     time.Now,
	}
}

// Begin marks an invocation as in flight.
func (l *RequestLog) Begin() {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.active++
	l.mu.Unlock()
}

// Finish records a completed invocation started with Begin.
func (l *RequestLog) Finish(rec RequestRecord) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active--
	l.appendLocked(rec)
}

// Reject records an invocation that never started executing.
func (l *RequestLog) Reject(rec RequestRecord) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appendLocked(rec)
}

func (l *RequestLog) appendLocked(rec RequestRecord) {
	l.total++
	switch rec.Outcome {
	case OutcomeError:
		l.errors++
	case OutcomeRateLimited:
		l.rateLimited++
	}

	l.records[l.next] = rec
	l.next = (l.next + 1) % len(l.records)
	if l.next == 0 {
		l.full = true
	}
}

// Recent returns the retained records, oldest first.
func (l *RequestLog) Recent() []RequestRecord {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *RequestLog) snapshotLocked() []RequestRecord {
	if !l.full {
		return append([]RequestRecord(nil), l.records[:l.next]...)
	}
	out := make([]RequestRecord, 0, len(l.records))
	out = append(out, l.records[l.next:]...)
	return append(out, l.records[:l.next]...)
}

// Stats summarizes the log. Recent figures cover records that started within window.
func (l *RequestLog) Stats(window time.Duration) RequestStats {
	if l == nil {
		return RequestStats{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := RequestStats{
		Total:       l.total,
		Active:      l.active,
		Errors:      l.errors,
		RateLimited: l.rateLimited,
	}

	cutoff := l.now().Add(-window)
	var errs, timed int
	var sum time.Duration
	for _, r := range l.snapshotLocked() {
		if r.Start.Before(cutoff) {
			continue
		}
		stats.Recent++
		switch r.Outcome {
		case OutcomeError:
			errs++
			sum += r.Duration
			timed++
		case OutcomeSuccess:
			sum += r.Duration
			timed++
		}
	}
	if stats.Recent > 0 {
		stats.ErrorRate = float64(errs) / float64(stats.Recent)
	}
	if timed > 0 {
		stats.AvgDuration = sum / time.Duration(timed)
	}
	return stats
}
