// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package probe

import "sync"

type channelStatus struct {
	workAhead bool
	speed     float64
}

// StatusTracker remembers the latest speed report of each channel's
// transcoder. It implements StatusSource.
type StatusTracker struct {
	mu       sync.RWMutex
	channels map[string]channelStatus
}

// NewStatusTracker returns an empty tracker.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{channels: make(map[string]channelStatus)}
}

// Observe records a speed report.
func (t *StatusTracker) Observe(channel string, workAhead bool, speed float64) {
	t.mu.Lock()
	t.channels[channel] = channelStatus{workAhead: workAhead, speed: speed}
	t.mu.Unlock()
}

// Forget drops a channel once its session has ended.
func (t *StatusTracker) Forget(channel string) {
	t.mu.Lock()
	delete(t.channels, channel)
	t.mu.Unlock()
}

// ChannelStatus returns the latest report for channel.
func (t *StatusTracker) ChannelStatus(channel string) (bool, float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.channels[channel]
	return s.workAhead, s.speed, ok
}
