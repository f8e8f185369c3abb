// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/ManuGH/chanstream/internal/validate"
)

// ReadProgress reads -progress output from r and calls onSpeed for every
// parseable speed=<n>x line. It returns when r is exhausted or ctx is done.
func ReadProgress(ctx context.Context, r io.Reader, onSpeed func(float64)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if speed, ok := ParseSpeed(scanner.Text()); ok && onSpeed != nil {
			onSpeed(speed)
		}
	}
	return scanner.Err()
}

// ParseSpeed parses a "speed=1.23x" progress line.
func ParseSpeed(line string) (float64, bool) {
	value, ok := strings.CutPrefix(strings.TrimSpace(line), "speed=")
	if !ok {
		return 0, false
	}
	value = strings.TrimSuffix(strings.TrimSpace(value), "x")
	speed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}
	return speed, true
}

// ValidateBinaries checks that both tools exist and are executable before
// any process is spawned. The error is a validate.ValidationError.
func ValidateBinaries(ffmpegBin, ffprobeBin string) error {
	v := validate.New()
	v.Executable("ffmpeg", ffmpegBin)
	v.Executable("ffprobe", ffprobeBin)
	return v.Err()
}
