// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package lineup serves channels and their looping schedules from a YAML
// document. It backs the transcoder's channel and playout lookups.
package lineup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ManuGH/chanstream/internal/domain/media"
	"github.com/ManuGH/chanstream/internal/log"
	"github.com/ManuGH/chanstream/internal/transcoder"
)

const reloadDebounce = 250 * time.Millisecond

type scheduledItem struct {
	doc      ItemDoc
	offset   time.Duration
	duration time.Duration
}

type schedule struct {
	channel media.Channel
	items   []scheduledItem
	cycle   time.Duration
}

// Lineup implements transcoder.Channels and transcoder.Playout.
type Lineup struct {
	path   string
	prober *Prober

	vaapiDriver  media.VaapiDriver
	vaapiDevice  string
	subtitlesDir string

	mu        sync.RWMutex
	epoch     time.Time
	schedules map[string]*schedule
}

var (
	_ transcoder.Channels = (*Lineup)(nil)
	_ transcoder.Playout  = (*Lineup)(nil)
)

// Option customizes a Lineup.
type Option func(*Lineup)

// WithVaapiDefaults fills the VAAPI driver and device of channel profiles
// that leave them unset.
func WithVaapiDefaults(driver media.VaapiDriver, device string) Option {
	return func(l *Lineup) {
		l.vaapiDriver = driver
		l.vaapiDevice = device
	}
}

// WithSubtitlesDir resolves relative sidecar subtitle paths against dir.
func WithSubtitlesDir(dir string) Option {
	return func(l *Lineup) { l.subtitlesDir = dir }
}

// Load reads the lineup at path. Items without a configured duration are
// probed now so the schedule is fixed before the first request.
func Load(ctx context.Context, path string, prober *Prober, opts ...Option) (*Lineup, error) {
	l := &Lineup{path: path, prober: prober}
	for _, opt := range opts {
		opt(l)
	}
	if err := l.Reload(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Reload re-reads the document and swaps the schedules atomically. Cached
// probe results of the listed files are dropped.
func (l *Lineup) Reload(ctx context.Context) error {
	_, err := l.reload(ctx)
	return err
}

func (l *Lineup) reload(ctx context.Context) ([]string, error) {
	// #nosec G304 -- lineup path is operator configuration
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read lineup: %w", err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, err
	}

	for _, ch := range doc.Channels {
		for _, it := range ch.Items {
			l.prober.Forget(it.Path)
		}
	}
	schedules := make(map[string]*schedule, len(doc.Channels))
	for _, ch := range doc.Channels {
		s, err := l.build(ctx, ch)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", ch.Number, err)
		}
		schedules[ch.Number] = s
	}

	l.mu.Lock()
	changed := changedChannels(l.schedules, schedules)
	if !l.epoch.Equal(doc.Epoch) {
		changed = sortedKeys(schedules)
	}
	l.epoch = doc.Epoch
	l.schedules = schedules
	l.mu.Unlock()

	logger := log.WithComponent("lineup")
	logger.Info().
		Str(log.FieldPath, l.path).
		Int("channels", len(schedules)).
		Strs("changed", changed).
		Msg("lineup loaded")
	return changed, nil
}

func (l *Lineup) build(ctx context.Context, doc ChannelDoc) (*schedule, error) {
	s := &schedule{channel: doc.channel()}
	if s.channel.Profile.VaapiDriver == media.VaapiDriverDefault {
		s.channel.Profile.VaapiDriver = l.vaapiDriver
	}
	if s.channel.Profile.VaapiDevice == "" {
		s.channel.Profile.VaapiDevice = l.vaapiDevice
	}
	for _, it := range doc.Items {
		end := it.OutPoint
		if end == 0 {
			end = it.Duration
		}
		if end == 0 {
			probed, err := l.prober.Probe(ctx, it.Path)
			if err != nil {
				return nil, fmt.Errorf("item %s has no duration: %w", it.Path, err)
			}
			end = probed.Version.Duration
		}
		d := end - it.InPoint
		if d <= 0 {
			return nil, fmt.Errorf("item %s: empty play range", it.Path)
		}
		s.items = append(s.items, scheduledItem{doc: it, offset: s.cycle, duration: d})
		s.cycle += d
	}
	return s, nil
}

// Channel returns the channel with number.
func (l *Lineup) Channel(_ context.Context, number string) (media.Channel, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.schedules[number]
	if !ok {
		return media.Channel{}, fmt.Errorf("%w: %s", transcoder.ErrChannelNotFound, number)
	}
	return s.channel, nil
}

// Channels returns every channel ordered by number.
func (l *Lineup) Channels() []media.Channel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]media.Channel, 0, len(l.schedules))
	for _, n := range sortedKeys(l.schedules) {
		out = append(out, l.schedules[n].channel)
	}
	return out
}

// ItemAt returns the item playing on channel at t.
func (l *Lineup) ItemAt(ctx context.Context, channel string, t time.Time) (transcoder.Item, error) {
	l.mu.RLock()
	s, ok := l.schedules[channel]
	epoch := l.epoch
	l.mu.RUnlock()
	if !ok {
		return transcoder.Item{}, fmt.Errorf("%w: %s", transcoder.ErrChannelNotFound, channel)
	}
	it, start, ok := s.at(epoch, t)
	if !ok {
		return transcoder.Item{}, transcoder.ErrNoPlayoutItem
	}

	item := transcoder.Item{
		Title:     it.doc.Title,
		Watermark: it.doc.Watermark.watermark(),
		Start:     start,
		Finish:    start.Add(it.duration),
		InPoint:   it.doc.InPoint,
		OutPoint:  it.doc.InPoint + it.duration,
	}
	if item.Title == "" {
		item.Title = filepath.Base(it.doc.Path)
	}

	probed, err := l.prober.Probe(ctx, it.doc.Path)
	switch {
	case err == nil:
		item.Version = probed.Version
		item.Subtitles = slices.Clone(probed.Subtitles)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return transcoder.Item{}, err
	default:
		// missing or unreadable files play as an error screen downstream
		logger := log.WithComponent("lineup")
		logger.Warn().Err(err).
			Str(log.FieldChannel, channel).
			Str(log.FieldPath, it.doc.Path).
			Msg("failed to probe playout item")
		item.Version = media.Version{Path: it.doc.Path, Duration: it.duration}
	}
	for _, sc := range it.doc.Subtitles {
		sub := sc.subtitle()
		if l.subtitlesDir != "" && !filepath.IsAbs(sub.Path) {
			sub.Path = filepath.Join(l.subtitlesDir, sub.Path)
		}
		item.Subtitles = append(item.Subtitles, sub)
	}
	return item, nil
}

// NextStart returns when the first item after t starts.
func (l *Lineup) NextStart(_ context.Context, channel string, t time.Time) (time.Time, bool) {
	l.mu.RLock()
	s, ok := l.schedules[channel]
	epoch := l.epoch
	l.mu.RUnlock()
	if !ok || s.cycle <= 0 {
		return time.Time{}, false
	}
	if t.Before(epoch) {
		return epoch, true
	}
	it, start, _ := s.at(epoch, t)
	return start.Add(it.duration), true
}

// at finds the item covering t.
func (s *schedule) at(epoch, t time.Time) (scheduledItem, time.Time, bool) {
	if s.cycle <= 0 || t.Before(epoch) {
		return scheduledItem{}, time.Time{}, false
	}
	elapsed := t.Sub(epoch)
	loops := elapsed / s.cycle
	pos := elapsed % s.cycle
	i := sort.Search(len(s.items), func(i int) bool {
		return s.items[i].offset+s.items[i].duration > pos
	})
	it := s.items[i]
	return it, epoch.Add(loops*s.cycle + it.offset), true
}

// Watch reloads the lineup when its file changes and reports the affected
// channels to onChange. It blocks until ctx is done.
func (l *Lineup) Watch(ctx context.Context, onChange func(channels []string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()
	// editors replace files by rename, so watch the directory
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(l.path), err)
	}

	logger := log.WithComponent("lineup")
	name := filepath.Base(l.path)
	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name || !(event.Has(fsnotify.Create) || event.Has(fsnotify.Write)) {
				continue
			}
			debounce = time.After(reloadDebounce)
		case <-debounce:
			debounce = nil
			changed, err := l.reload(ctx)
			if err != nil {
				logger.Error().Err(err).Str(log.FieldPath, l.path).Msg("lineup reload failed; keeping previous lineup")
				continue
			}
			if len(changed) > 0 && onChange != nil {
				onChange(changed)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("fsnotify watcher error")
		}
	}
}

func changedChannels(prev, next map[string]*schedule) []string {
	var changed []string
	for n, s := range next {
		if p, ok := prev[n]; !ok || !p.equal(s) {
			changed = append(changed, n)
		}
	}
	for n := range prev {
		if _, ok := next[n]; !ok {
			changed = append(changed, n)
		}
	}
	sort.Strings(changed)
	return changed
}

func (s *schedule) equal(o *schedule) bool {
	if s.cycle != o.cycle || len(s.items) != len(o.items) {
		return false
	}
	for i := range s.items {
		a, b := s.items[i], o.items[i]
		if a.doc.Path != b.doc.Path || a.offset != b.offset || a.duration != b.duration || a.doc.InPoint != b.doc.InPoint {
			return false
		}
	}
	return channelEqual(s.channel, o.channel)
}

func channelEqual(a, b media.Channel) bool {
	wa, wb := a.Watermark, b.Watermark
	a.Watermark, b.Watermark = nil, nil
	if a != b {
		return false
	}
	if wa == nil || wb == nil {
		return wa == wb
	}
	return *wa == *wb
}

func sortedKeys(m map[string]*schedule) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
