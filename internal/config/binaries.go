// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	"github.com/ManuGH/chanstream/internal/log"
)

// BinaryStateFile is the file in the data directory that remembers the
// last resolved ffmpeg and ffprobe paths.
const BinaryStateFile = "binaries.yaml"

// ErrBinaryNotFound is returned when a binary cannot be located anywhere.
var ErrBinaryNotFound = errors.New("binary not found")

type binaryState struct {
	FFmpeg  string `yaml:"ffmpeg"`
	FFprobe string `yaml:"ffprobe"`
}

// ResolveBinaries replaces cfg.FFmpeg.Bin and cfg.FFmpeg.FFprobeBin with
// absolute paths of existing executables and persists them to the state
// file when they changed.
//
// Each binary is looked up in order: the configured value if it exists on
// disk, the remembered value, a path derived from ffmpeg (ffprobe only), and
// finally a PATH search for the configured name.
func ResolveBinaries(cfg *Config) error {
	logger := log.WithComponent("config")
	statePath := filepath.Join(cfg.Paths.Data, BinaryStateFile)
	state, err := readBinaryState(statePath)
	if err != nil {
		logger.Warn().Err(err).Str(log.FieldPath, statePath).Msg("ignoring unreadable binary state")
	}

	ffmpeg, err := resolveBinary("ffmpeg", cfg.FFmpeg.Bin, state.FFmpeg, "")
	if err != nil {
		return err
	}
	ffprobe, err := resolveBinary("ffprobe", cfg.FFmpeg.FFprobeBin, state.FFprobe, siblingFFprobe(ffmpeg))
	if err != nil {
		return err
	}
	cfg.FFmpeg.Bin, cfg.FFmpeg.FFprobeBin = ffmpeg, ffprobe

	next := binaryState{FFmpeg: ffmpeg, FFprobe: ffprobe}
	if next == state {
		return nil
	}
	if err := writeBinaryState(statePath, next); err != nil {
		// Resolution succeeded; a read-only data dir only costs a lookup next start.
		logger.Warn().Err(err).Str(log.FieldPath, statePath).Msg("failed to persist binary state")
		return nil
	}
	logger.Info().Str("ffmpeg", ffmpeg).Str("ffprobe", ffprobe).Msg("resolved transcoder binaries")
	return nil
}

func resolveBinary(name, configured, remembered, derived string) (string, error) {
	configured = strings.TrimSpace(configured)
	for _, candidate := range []string{configured, remembered, derived} {
		if isFile(candidate) {
			return filepath.Abs(candidate)
		}
	}

	search := name
	if configured != "" && !strings.ContainsRune(configured, filepath.Separator) {
		search = configured
	}
	path, err := exec.LookPath(search)
	if err != nil {
		return "", fmt.Errorf("%w: %s (configured %q): %v", ErrBinaryNotFound, name, configured, err)
	}
	return filepath.Abs(path)
}

// siblingFFprobe returns the ffprobe next to a concrete ffmpeg path, or "".
// A bare "ffmpeg" resolved through PATH is already absolute here.
func siblingFFprobe(ffmpeg string) string {
	if filepath.Base(ffmpeg) != "ffmpeg" {
		return ""
	}
	candidate := filepath.Join(filepath.Dir(ffmpeg), "ffprobe")
	if !isFile(candidate) {
		return ""
	}
	return candidate
}

func isFile(path string) bool {
	if path == "" || !strings.ContainsRune(path, filepath.Separator) {
		return false
	}
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

func readBinaryState(path string) (binaryState, error) {
	var state binaryState
	// #nosec G304 -- path is inside the operator-configured data directory
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return state, nil
	}
	if err != nil {
		return state, err
	}
	if err := yaml.Unmarshal(data, &state); err != nil {
		return binaryState{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return state, nil
}

func writeBinaryState(path string, state binaryState) error {
	data, err := yaml.Marshal(state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0o600)
}
