// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"time"

	"golang.org/x/text/language"

	"github.com/ManuGH/chanstream/internal/validate"
)

var logLevels = []string{"trace", "debug", "info", "warn", "error"}

// Validate checks cfg. Missing writable directories are created; all
// problems are collected into a single validate.ValidationError.
func Validate(cfg Config) error {
	v := validate.New()

	v.Executable("ffmpeg.bin", cfg.FFmpeg.Bin)
	v.Executable("ffmpeg.ffprobe_bin", cfg.FFmpeg.FFprobeBin)
	v.Custom("ffmpeg.kill_timeout", cfg.FFmpeg.KillTimeout, positiveDuration)

	v.Directory("paths.data", cfg.Paths.Data, false)
	v.Directory("paths.transcode", cfg.Paths.Transcode, false)
	v.Directory("paths.temp", cfg.Paths.Temp, false)
	v.Directory("paths.subtitles", cfg.Paths.Subtitles, false)
	v.Directory("paths.fonts", cfg.Paths.Fonts, false)
	v.Directory("paths.policies", cfg.Paths.Policies, false)
	if cfg.FFmpeg.SaveReports {
		v.Directory("paths.reports", cfg.Paths.Reports, false)
	}
	v.Directory("paths.resources", cfg.Paths.Resources, true)

	v.ListenAddr("listen", cfg.Listen)
	v.OneOf("log_level", cfg.LogLevel, logLevels)
	v.Positive("temp_pool_size", cfg.TempPoolSize)

	v.Range("hls.segment_seconds", cfg.HLS.SegmentSeconds, 1, 30)
	v.Range("hls.window_segments", cfg.HLS.WindowSegments, 3, 100)
	v.NonNegative("hls.work_ahead_limit", cfg.HLS.WorkAheadLimit)
	v.Custom("hls.idle_timeout", cfg.HLS.IdleTimeout, positiveDuration)

	v.Custom("audio.default_language", cfg.Audio.DefaultLanguage, func(val interface{}) error {
		_, err := language.Parse(val.(string))
		return err
	})

	return v.Err()
}

func positiveDuration(val interface{}) error {
	if d := val.(time.Duration); d <= 0 {
		return fmt.Errorf("duration must be positive, got %s", d)
	}
	return nil
}
