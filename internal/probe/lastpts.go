// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package probe inspects the output of running segmenters.
package probe

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/chanstream/internal/log"
	"github.com/ManuGH/chanstream/internal/metrics"
	"github.com/ManuGH/chanstream/internal/tempfile"
)

var (
	// ErrNoSegment is returned when the channel folder holds no MPEG-TS segment.
	ErrNoSegment = errors.New("probe: no segment to probe")
	// ErrBadProbeOutput is returned when ffprobe printed something other
	// than pts|duration.
	ErrBadProbeOutput = errors.New("probe: unparseable ffprobe output")
)

const probeTimeout = 10 * time.Second

// ErrorReporter receives failures that are logged but not returned.
type ErrorReporter interface {
	Report(err error)
}

// StatusSource reports whether a channel is working ahead and at what speed
// its transcoder currently runs.
type StatusSource interface {
	ChannelStatus(channel string) (workAhead bool, speed float64, ok bool)
}

// Prober finds where the last segment of a channel ends.
type Prober struct {
	FFprobeBin   string
	TranscodeDir string
	Pool         *tempfile.Pool
	Reporter     ErrorReporter
	Status       StatusSource

	group singleflight.Group
}

// New returns a prober for channel folders below transcodeDir.
func New(ffprobeBin, transcodeDir string, pool *tempfile.Pool) *Prober {
	return &Prober{FFprobeBin: ffprobeBin, TranscodeDir: transcodeDir, Pool: pool}
}

// LastPTS returns the end of the newest MPEG-TS segment of channel: the
// larger of the video and audio stream's last pts plus its duration.
// Streams ffprobe cannot read count as zero. Concurrent calls for the same
// channel share one probe.
func (p *Prober) LastPTS(ctx context.Context, channel string) (time.Duration, error) {
	ch := p.group.DoChan(channel, func() (any, error) {
		// the shared probe outlives a caller that gives up
		probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), probeTimeout)
		defer cancel()
		return p.lastPTS(probeCtx, channel)
	})
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(time.Duration), nil
	}
}

func (p *Prober) lastPTS(ctx context.Context, channel string) (time.Duration, error) {
	dir := filepath.Join(p.TranscodeDir, channel)
	segment, err := lastSegment(dir)
	if err != nil {
		metrics.RecordLastPTSProbe("no_segment")
		return 0, fmt.Errorf("last pts for channel %s: %w", channel, err)
	}

	var best time.Duration
	for _, stream := range []string{"v", "a"} {
		pts, err := p.probeStream(ctx, channel, segment, stream)
		if err != nil {
			metrics.RecordLastPTSProbe("parse_error")
			return 0, err
		}
		if pts > best {
			best = pts
		}
	}
	metrics.RecordLastPTSProbe("ok")
	return best, nil
}

// lastSegment returns the MPEG-TS segment with the highest name.
func lastSegment(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoSegment
		}
		return "", err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".ts") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", ErrNoSegment
	}
	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1]), nil
}

func (p *Prober) probeStream(ctx context.Context, channel, segment, stream string) (time.Duration, error) {
	args := []string{
		"-v", "0",
		"-select_streams", stream + ":0",
		"-show_entries", "packet=pts_time,duration_time",
		"-of", "compact=p=0:nk=1",
		segment,
	}
	// #nosec G204 - binary comes from validated config; args are fixed
	cmd := exec.CommandContext(ctx, p.FFprobeBin, args...)
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		p.logProbeFailure(channel, segment, stream, err)
		metrics.RecordLastPTSProbe("probe_failed")
		return 0, nil
	}

	line := lastLine(out)
	pts, err := parsePTS(line)
	if err != nil {
		p.saveDiagnostics(channel, string(out))
		return 0, fmt.Errorf("probe %s stream of %s: %w", stream, filepath.Base(segment), err)
	}
	return pts, nil
}

// logProbeFailure is loud only when a work-ahead transcoder is already
// slower than realtime, which means the buffer is draining.
func (p *Prober) logProbeFailure(channel, segment, stream string, err error) {
	logger := log.WithComponent("probe")
	level := zerolog.WarnLevel
	var speed float64
	if p.Status != nil {
		if workAhead, s, ok := p.Status.ChannelStatus(channel); ok {
			speed = s
			if workAhead && s < 1.0 {
				level = zerolog.ErrorLevel
			}
		}
	}
	logger.WithLevel(level).
		Err(err).
		Str(log.FieldChannel, channel).
		Str(log.FieldSegment, filepath.Base(segment)).
		Str("stream", stream).
		Float64("speed", speed).
		Msg("ffprobe failed to read last pts")
}

func lastLine(out []byte) string {
	var last string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			last = line
		}
	}
	return last
}

// parsePTS reads a "pts|duration" line in seconds. An empty line means the
// stream had no packets.
func parsePTS(line string) (time.Duration, error) {
	if line == "" {
		return 0, nil
	}
	ptsPart, durPart, ok := strings.Cut(line, "|")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrBadProbeOutput, line)
	}
	pts, err := strconv.ParseFloat(ptsPart, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadProbeOutput, line)
	}
	dur, err := strconv.ParseFloat(durPart, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadProbeOutput, line)
	}
	return time.Duration(math.Round((pts+dur)*1e6)) * time.Microsecond, nil
}
