// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML document. Pointer fields distinguish "unset" from
// zero values so only present keys override the defaults.
type FileConfig struct {
	FFmpeg struct {
		Bin         *string `yaml:"bin"`
		FFprobeBin  *string `yaml:"ffprobe_bin"`
		KillTimeout *string `yaml:"kill_timeout"`
		SaveReports *bool   `yaml:"save_reports"`
		VaapiDriver *string `yaml:"vaapi_driver"`
		VaapiDevice *string `yaml:"vaapi_device"`
	} `yaml:"ffmpeg"`
	Paths struct {
		Data      *string `yaml:"data"`
		Transcode *string `yaml:"transcode"`
		Resources *string `yaml:"resources"`
		Subtitles *string `yaml:"subtitles"`
		Fonts     *string `yaml:"fonts"`
		Reports   *string `yaml:"reports"`
		Temp      *string `yaml:"temp"`
		Policies  *string `yaml:"policies"`
	} `yaml:"paths"`
	HLS struct {
		SegmentSeconds *int    `yaml:"segment_seconds"`
		WindowSegments *int    `yaml:"window_segments"`
		WorkAheadLimit *int    `yaml:"work_ahead_limit"`
		IdleTimeout    *string `yaml:"idle_timeout"`
	} `yaml:"hls"`
	Audio struct {
		DefaultLanguage *string `yaml:"default_language"`
	} `yaml:"audio"`
	Listen       *string `yaml:"listen"`
	LogLevel     *string `yaml:"log_level"`
	TempPoolSize *int    `yaml:"temp_pool_size"`
	Lineup       *string `yaml:"lineup"`
}

// Loader resolves the configuration from defaults, file and environment.
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a loader. configPath may be empty.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Load builds the effective configuration and validates it. Binaries are
// resolved before validation so a bad path fails here rather than at the
// first spawn.
func (l *Loader) Load() (Config, error) {
	cfg := defaults()

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := mergeFile(&cfg, fileCfg); err != nil {
			return cfg, fmt.Errorf("merge file config: %w", err)
		}
	}

	mergeEnv(&cfg)

	if abs, err := filepath.Abs(cfg.Paths.Data); err == nil {
		cfg.Paths.Data = abs
	}
	cfg.deriveDirs()
	cfg.Version = l.version

	if err := ResolveBinaries(&cfg); err != nil {
		return cfg, fmt.Errorf("resolve binaries: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile parses the YAML file strictly; unknown keys are fatal.
func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fileCfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return &fileCfg, nil
}

func mergeFile(cfg *Config, f *FileConfig) error {
	setString(&cfg.FFmpeg.Bin, f.FFmpeg.Bin)
	setString(&cfg.FFmpeg.FFprobeBin, f.FFmpeg.FFprobeBin)
	setString(&cfg.FFmpeg.VaapiDriver, f.FFmpeg.VaapiDriver)
	setString(&cfg.FFmpeg.VaapiDevice, f.FFmpeg.VaapiDevice)
	if f.FFmpeg.SaveReports != nil {
		cfg.FFmpeg.SaveReports = *f.FFmpeg.SaveReports
	}
	if err := setDuration(&cfg.FFmpeg.KillTimeout, f.FFmpeg.KillTimeout, "ffmpeg.kill_timeout"); err != nil {
		return err
	}

	setString(&cfg.Paths.Data, f.Paths.Data)
	setString(&cfg.Paths.Transcode, f.Paths.Transcode)
	setString(&cfg.Paths.Resources, f.Paths.Resources)
	setString(&cfg.Paths.Subtitles, f.Paths.Subtitles)
	setString(&cfg.Paths.Fonts, f.Paths.Fonts)
	setString(&cfg.Paths.Reports, f.Paths.Reports)
	setString(&cfg.Paths.Temp, f.Paths.Temp)
	setString(&cfg.Paths.Policies, f.Paths.Policies)

	setInt(&cfg.HLS.SegmentSeconds, f.HLS.SegmentSeconds)
	setInt(&cfg.HLS.WindowSegments, f.HLS.WindowSegments)
	setInt(&cfg.HLS.WorkAheadLimit, f.HLS.WorkAheadLimit)
	if err := setDuration(&cfg.HLS.IdleTimeout, f.HLS.IdleTimeout, "hls.idle_timeout"); err != nil {
		return err
	}

	setString(&cfg.Audio.DefaultLanguage, f.Audio.DefaultLanguage)
	setString(&cfg.Listen, f.Listen)
	setString(&cfg.LogLevel, f.LogLevel)
	setInt(&cfg.TempPoolSize, f.TempPoolSize)
	setString(&cfg.Lineup, f.Lineup)
	return nil
}

func mergeEnv(cfg *Config) {
	key := func(name string) string { return EnvPrefix + name }

	cfg.FFmpeg.Bin = ParseString(key("FFMPEG_BIN"), cfg.FFmpeg.Bin)
	cfg.FFmpeg.FFprobeBin = ParseString(key("FFPROBE_BIN"), cfg.FFmpeg.FFprobeBin)
	cfg.FFmpeg.KillTimeout = ParseDuration(key("KILL_TIMEOUT"), cfg.FFmpeg.KillTimeout)
	cfg.FFmpeg.SaveReports = ParseBool(key("SAVE_REPORTS"), cfg.FFmpeg.SaveReports)
	cfg.FFmpeg.VaapiDriver = ParseString(key("VAAPI_DRIVER"), cfg.FFmpeg.VaapiDriver)
	cfg.FFmpeg.VaapiDevice = ParseString(key("VAAPI_DEVICE"), cfg.FFmpeg.VaapiDevice)

	cfg.Paths.Data = ParseString(key("DATA_DIR"), cfg.Paths.Data)
	cfg.Paths.Transcode = ParseString(key("TRANSCODE_DIR"), cfg.Paths.Transcode)
	cfg.Paths.Resources = ParseString(key("RESOURCES_DIR"), cfg.Paths.Resources)
	cfg.Paths.Subtitles = ParseString(key("SUBTITLES_DIR"), cfg.Paths.Subtitles)
	cfg.Paths.Fonts = ParseString(key("FONTS_DIR"), cfg.Paths.Fonts)
	cfg.Paths.Reports = ParseString(key("REPORTS_DIR"), cfg.Paths.Reports)
	cfg.Paths.Temp = ParseString(key("TEMP_DIR"), cfg.Paths.Temp)
	cfg.Paths.Policies = ParseString(key("POLICIES_DIR"), cfg.Paths.Policies)

	cfg.HLS.SegmentSeconds = ParseInt(key("HLS_SEGMENT_SECONDS"), cfg.HLS.SegmentSeconds)
	cfg.HLS.WindowSegments = ParseInt(key("HLS_WINDOW_SEGMENTS"), cfg.HLS.WindowSegments)
	cfg.HLS.WorkAheadLimit = ParseInt(key("WORK_AHEAD_LIMIT"), cfg.HLS.WorkAheadLimit)
	cfg.HLS.IdleTimeout = ParseDuration(key("HLS_IDLE_TIMEOUT"), cfg.HLS.IdleTimeout)

	cfg.Audio.DefaultLanguage = ParseString(key("DEFAULT_AUDIO_LANGUAGE"), cfg.Audio.DefaultLanguage)
	cfg.Listen = ParseString(key("LISTEN"), cfg.Listen)
	cfg.LogLevel = ParseString(key("LOG_LEVEL"), cfg.LogLevel)
	cfg.TempPoolSize = ParseInt(key("TEMP_POOL_SIZE"), cfg.TempPoolSize)
	cfg.Lineup = ParseString(key("LINEUP"), cfg.Lineup)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *string, field string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(*v))
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	*dst = d
	return nil
}
