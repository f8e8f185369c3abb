package hls

import (
	"sync"

	"github.com/ManuGH/chanstream/internal/metrics"
)

// DefaultWorkAheadLimit is the number of sessions allowed to transcode
// faster than realtime at once when none is configured.
const DefaultWorkAheadLimit = 1

// WorkAheadLimiter bounds how many sessions work ahead of realtime at once.
type WorkAheadLimiter struct {
	mu     sync.Mutex
	limit  int
	active int
}

// NewWorkAheadLimiter returns a limiter. limit <= 0 selects the default.
func NewWorkAheadLimiter(limit int) *WorkAheadLimiter {
	if limit <= 0 {
		limit = DefaultWorkAheadLimit
	}
	return &WorkAheadLimiter{limit: limit}
}

// Available reports whether a slot is free right now.
func (l *WorkAheadLimiter) Available() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active < l.limit
}

// TryAcquire takes a slot if one is free. Every successful call must be
// paired with Release.
func (l *WorkAheadLimiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active >= l.limit {
		return false
	}
	l.active++
	metrics.WorkAheadSessions.Inc()
	return true
}

// Release returns a slot.
func (l *WorkAheadLimiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active == 0 {
		return
	}
	l.active--
	metrics.WorkAheadSessions.Dec()
}

// Active returns the number of sessions working ahead.
func (l *WorkAheadLimiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}
