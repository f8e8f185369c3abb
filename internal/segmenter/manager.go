// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package segmenter

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/chanstream/internal/hls"
	"github.com/ManuGH/chanstream/internal/log"
)

// ErrProcessExists is returned when a channel already has a segmenter that is
// not an HLS session.
var ErrProcessExists = errors.New("segmenter: process exists for channel")

// SessionFactory builds the session for a channel.
type SessionFactory func(channel string) (*hls.Session, error)

// DefaultInitialSegments is how many segments a new session must produce
// before its playlist is served.
const DefaultInitialSegments = 3

// Manager starts HLS sessions on demand and keeps them in a Registry.
type Manager struct {
	base            context.Context
	registry        *Registry
	newSession      SessionFactory
	initialSegments int

	// OnSessionExit, if set, is called after a session has exited and left
	// the registry.
	OnSessionExit func(channel string)
}

// NewManager returns a manager whose sessions live until base is done or
// they stop on their own.
func NewManager(base context.Context, registry *Registry, factory SessionFactory, initialSegments int) *Manager {
	if initialSegments <= 0 {
		initialSegments = DefaultInitialSegments
	}
	return &Manager{
		base:            base,
		registry:        registry,
		newSession:      factory,
		initialSegments: initialSegments,
	}
}

// Registry returns the registry the manager populates.
func (m *Manager) Registry() *Registry { return m.registry }

// Session returns the running session for channel, starting one if needed.
// A newly started session is returned once its playlist holds the initial
// segments or the wait gives up.
func (m *Manager) Session(ctx context.Context, channel string) (*hls.Session, error) {
	if s, ok, err := m.existing(channel); ok || err != nil {
		return s, err
	}

	s, err := m.newSession(channel)
	if err != nil {
		return nil, fmt.Errorf("create session for channel %s: %w", channel, err)
	}
	if !m.registry.TryStart(channel, s) {
		// lost the race, the winner is starting it
		if s, ok, err := m.existing(channel); ok || err != nil {
			if ok {
				err = s.WaitForPlaylistSegments(ctx, m.initialSegments)
			}
			return s, err
		}
		return m.Session(ctx, channel)
	}

	logger := log.WithComponentFromContext(ctx, "segmenter")
	logger.Info().Str(log.FieldChannel, channel).Str(log.FieldSessionID, s.ID).Msg("starting segmenter session")

	s.Start(m.base)
	go func() {
		<-s.Done()
		m.registry.CompareAndRemove(channel, s)
		if err := s.Err(); err != nil {
			exitLogger := log.WithComponent("segmenter")
			exitLogger.Warn().Err(err).Str(log.FieldChannel, channel).Msg("segmenter session failed")
		}
		if m.OnSessionExit != nil {
			m.OnSessionExit(channel)
		}
	}()

	if err := s.WaitForPlaylistSegments(ctx, m.initialSegments); err != nil {
		return nil, err
	}
	return s, nil
}

// Lookup returns the running session for channel without starting one.
func (m *Manager) Lookup(channel string) (*hls.Session, bool) {
	s, ok, err := m.existing(channel)
	return s, ok && err == nil
}

func (m *Manager) existing(channel string) (*hls.Session, bool, error) {
	p, ok := m.registry.Get(channel)
	if !ok {
		return nil, false, nil
	}
	s, ok := p.(*hls.Session)
	if !ok {
		return nil, false, ErrProcessExists
	}
	select {
	case <-s.Done():
		// exited, the watcher removes it shortly
		m.registry.CompareAndRemove(channel, s)
		return nil, false, nil
	default:
	}
	return s, true, nil
}

// Shutdown stops every session.
func (m *Manager) Shutdown(ctx context.Context) {
	m.registry.KillAll(ctx)
}
