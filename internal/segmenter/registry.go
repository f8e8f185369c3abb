// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package segmenter

import (
	"context"
	"sort"
	"sync"

	"github.com/ManuGH/chanstream/internal/log"
	"github.com/ManuGH/chanstream/internal/metrics"
)

// Process is a live segmenter owned by one channel.
type Process interface {
	Channel() string
	Stop(ctx context.Context) error
}

// Registry tracks the one segmenter allowed per channel.
type Registry struct {
	processes sync.Map // map[string]Process
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// ProcessExistsForChannel reports whether channel has a registered segmenter.
func (r *Registry) ProcessExistsForChannel(channel string) bool {
	_, ok := r.processes.Load(channel)
	return ok
}

// TryStart registers p for channel unless another process got there first.
// Exactly one of any number of concurrent callers wins.
func (r *Registry) TryStart(channel string, p Process) bool {
	if _, loaded := r.processes.LoadOrStore(channel, p); loaded {
		return false
	}
	metrics.SegmenterSessions.Inc()
	return true
}

// Get returns the segmenter registered for channel.
func (r *Registry) Get(channel string) (Process, bool) {
	v, ok := r.processes.Load(channel)
	if !ok {
		return nil, false
	}
	return v.(Process), true
}

// Remove drops the entry for channel without stopping it.
func (r *Registry) Remove(channel string) {
	if _, ok := r.processes.LoadAndDelete(channel); ok {
		metrics.SegmenterSessions.Dec()
	}
}

// CompareAndRemove drops the entry for channel only if it is still p, so an
// exiting process never removes its replacement.
func (r *Registry) CompareAndRemove(channel string, p Process) bool {
	if !r.processes.CompareAndDelete(channel, p) {
		return false
	}
	metrics.SegmenterSessions.Dec()
	return true
}

// Channels returns the registered channel numbers in order.
func (r *Registry) Channels() []string {
	var channels []string
	r.processes.Range(func(key, _ any) bool {
		channels = append(channels, key.(string))
		return true
	})
	sort.Strings(channels)
	return channels
}

// KillAll stops every registered segmenter. Failures are logged and do not
// stop the sweep.
func (r *Registry) KillAll(ctx context.Context) {
	logger := log.WithComponentFromContext(ctx, "segmenter")
	r.processes.Range(func(key, value any) bool {
		channel := key.(string)
		p := value.(Process)
		if err := p.Stop(ctx); err != nil {
			logger.Info().Err(err).Str(log.FieldChannel, channel).Msg("failed to kill segmenter process")
		}
		r.CompareAndRemove(channel, p)
		return true
	})
}
