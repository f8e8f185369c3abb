// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package hardware decides whether a requested acceleration backend can be
// used on this host.
//
// Two tiers:
//
//  1. Device check: the render node (or the NVIDIA control device) exists.
//     Cheap, but only proves the node is there.
//
//  2. Preflight: a real five-frame encode through the backend. Once a
//     preflight result is recorded it overrides the device check.
package hardware

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/chanstream/internal/domain/media"
	"github.com/ManuGH/chanstream/internal/log"
)

const (
	DefaultRenderDevice = "/dev/dri/renderD128"
	nvidiaControlDevice = "/dev/nvidiactl"

	preflightTimeout = 10 * time.Second
)

// Gate caches preflight results. The zero value is not usable; use NewGate.
type Gate struct {
	stat func(string) (os.FileInfo, error)

	mu        sync.RWMutex
	preflight map[media.HardwareAccel]bool
}

// NewGate returns a gate that checks device nodes on the local filesystem.
func NewGate() *Gate {
	return &Gate{
		stat:      os.Stat,
		preflight: make(map[media.HardwareAccel]bool),
	}
}

// SetPreflightResult records the outcome of a real encode test.
func (g *Gate) SetPreflightResult(accel media.HardwareAccel, passed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.preflight[accel] = passed
}

// Available reports whether accel can be used with device. Backends without
// a device node on this platform are always reported available; ffmpeg
// rejects them at runtime when missing.
func (g *Gate) Available(accel media.HardwareAccel, device string) bool {
	g.mu.RLock()
	passed, checked := g.preflight[accel]
	g.mu.RUnlock()
	if checked {
		return passed
	}

	switch accel {
	case media.HardwareAccelVAAPI, media.HardwareAccelQSV:
		if device == "" {
			device = DefaultRenderDevice
		}
		_, err := g.stat(device)
		return err == nil
	case media.HardwareAccelNVENC:
		_, err := g.stat(nvidiaControlDevice)
		return err == nil
	default:
		return true
	}
}

// HasVAAPI checks if the VAAPI render device exists.
func HasVAAPI(device string) bool {
	if device == "" {
		device = DefaultRenderDevice
	}
	_, err := os.Stat(device)
	return err == nil
}

// PreflightVAAPI runs a five-frame encode through device and records the
// result for VAAPI.
func (g *Gate) PreflightVAAPI(ctx context.Context, ffmpegBin, device string) error {
	if device == "" {
		device = DefaultRenderDevice
	}
	logger := log.WithComponentFromContext(ctx, "hardware")

	if _, err := g.stat(device); err != nil {
		g.SetPreflightResult(media.HardwareAccelVAAPI, false)
		return fmt.Errorf("vaapi device not accessible: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, preflightTimeout)
	defer cancel()
	// #nosec G204 -- binary path and device come from validated configuration
	cmd := exec.CommandContext(ctx, ffmpegBin,
		"-hide_banner", "-loglevel", "error",
		"-vaapi_device", device,
		"-f", "lavfi",
		"-i", "testsrc=duration=0.2:size=1280x720:rate=25",
		"-vf", "format=nv12,hwupload",
		"-c:v", "h264_vaapi",
		"-frames:v", "5",
		"-f", "null", "-",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		g.SetPreflightResult(media.HardwareAccelVAAPI, false)
		logger.Warn().Err(err).Str(log.FieldDevice, device).
			Str("output", strings.TrimSpace(string(out))).
			Msg("vaapi preflight failed")
		return fmt.Errorf("vaapi preflight: %w", err)
	}

	g.SetPreflightResult(media.HardwareAccelVAAPI, true)
	logger.Info().Str(log.FieldDevice, device).Msg("vaapi preflight passed")
	return nil
}
