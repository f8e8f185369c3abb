// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"net"
	"path/filepath"
	"strconv"
	"time"
)

// Config is the effective daemon configuration.
type Config struct {
	Version string

	FFmpeg FFmpegConfig
	Paths  PathsConfig
	HLS    HLSConfig
	Audio  AudioConfig

	Listen       string
	LogLevel     string
	TempPoolSize int
	// Lineup is the channel lineup document.
	Lineup string
}

// FFmpegConfig holds the transcoder binaries and process settings.
type FFmpegConfig struct {
	Bin         string
	FFprobeBin  string
	KillTimeout time.Duration
	SaveReports bool
	VaapiDriver string
	VaapiDevice string
}

// PathsConfig lists the directories the daemon reads and writes.
type PathsConfig struct {
	Data      string
	Transcode string
	Resources string
	Subtitles string
	Fonts     string
	Reports   string
	Temp      string
	Policies  string
}

// HLSConfig controls the segmenter sessions.
type HLSConfig struct {
	SegmentSeconds int
	WindowSegments int
	// WorkAheadLimit caps how many channels may transcode faster than
	// realtime at once. Zero selects the default of one.
	WorkAheadLimit int
	IdleTimeout    time.Duration
}

// AudioConfig holds the global audio language preference.
type AudioConfig struct {
	DefaultLanguage string
}

// Port returns the numeric port of Listen, used when ffmpeg reads back from
// the daemon over localhost.
func (c Config) Port() int {
	_, port, err := net.SplitHostPort(c.Listen)
	if err != nil {
		return 0
	}
	p, _ := strconv.Atoi(port)
	return p
}

func defaults() Config {
	return Config{
		FFmpeg: FFmpegConfig{
			Bin:         "ffmpeg",
			KillTimeout: 5 * time.Second,
		},
		Paths: PathsConfig{
			Data: "data",
		},
		HLS: HLSConfig{
			SegmentSeconds: 4,
			WindowSegments: 10,
			WorkAheadLimit: 1,
			IdleTimeout:    time.Minute,
		},
		Audio: AudioConfig{
			DefaultLanguage: "eng",
		},
		Listen:       ":8409",
		LogLevel:     "info",
		TempPoolSize: 10,
	}
}

// deriveDirs fills unset directories from the data directory.
func (c *Config) deriveDirs() {
	sub := func(p *string, name string) {
		if *p == "" {
			*p = filepath.Join(c.Paths.Data, name)
		}
	}
	sub(&c.Paths.Transcode, "transcode")
	sub(&c.Paths.Resources, "resources")
	sub(&c.Paths.Subtitles, "subtitles")
	sub(&c.Paths.Fonts, "fonts")
	sub(&c.Paths.Reports, "reports")
	sub(&c.Paths.Temp, "temp")
	sub(&c.Paths.Policies, "policies")
	if c.Lineup == "" {
		c.Lineup = filepath.Join(c.Paths.Data, "lineup.yaml")
	}
}
