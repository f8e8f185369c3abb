// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package probe

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/chanstream/internal/hls"
	"github.com/ManuGH/chanstream/internal/log"
	"github.com/ManuGH/chanstream/internal/metrics"
	"github.com/ManuGH/chanstream/internal/tempfile"
)

// FileInfo describes one file of a transcode folder snapshot.
type FileInfo struct {
	FileName         string    `json:"file_name"`
	Bytes            int64     `json:"bytes"`
	LastWriteTimeUTC time.Time `json:"last_write_time_utc"`
}

// Snapshot is the troubleshooting bundle saved when a transcode folder is in
// a state the prober cannot make sense of.
type Snapshot struct {
	Files              []FileInfo `json:"files"`
	EncodedPlaylist    string     `json:"encoded_playlist"`
	EncodedProbeOutput string     `json:"encoded_probe_output"`
}

// TakeSnapshot lists dir and captures its playlist with the probe output.
func TakeSnapshot(dir, probeOutput string) (Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read transcode folder: %w", err)
	}

	snap := Snapshot{Files: make([]FileInfo, 0, len(entries))}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed while listing
			continue
		}
		snap.Files = append(snap.Files, FileInfo{
			FileName:         filepath.Join(dir, e.Name()),
			Bytes:            info.Size(),
			LastWriteTimeUTC: info.ModTime().UTC(),
		})
	}

	playlist, err := os.ReadFile(filepath.Join(dir, hls.PlaylistName))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, fmt.Errorf("read playlist: %w", err)
	}
	snap.EncodedPlaylist = base64.StdEncoding.EncodeToString(playlist)
	snap.EncodedProbeOutput = base64.StdEncoding.EncodeToString([]byte(probeOutput))
	return snap, nil
}

// SaveSnapshot writes the bundle to the next troubleshooting slot of pool.
func SaveSnapshot(pool *tempfile.Pool, snap Snapshot) (string, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.MkdirAll(pool.Dir(), 0o750); err != nil {
		return "", fmt.Errorf("create temp pool dir: %w", err)
	}
	path := pool.Next(tempfile.CategoryBadTranscodeFolder)
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}

// saveDiagnostics records the folder state after a parse failure. It never
// fails the caller; problems go to the reporter.
func (p *Prober) saveDiagnostics(channel, probeOutput string) {
	logger := log.WithComponent("probe").With().Str(log.FieldChannel, channel).Logger()
	if p.Pool == nil {
		return
	}

	snap, err := TakeSnapshot(filepath.Join(p.TranscodeDir, channel), probeOutput)
	if err == nil {
		var path string
		path, err = SaveSnapshot(p.Pool, snap)
		if err == nil {
			metrics.RecordDiagnosticsSnapshot(true)
			logger.Warn().Str(log.FieldPath, path).Msg("transcode folder is in bad state; troubleshooting info saved")
			return
		}
	}

	metrics.RecordDiagnosticsSnapshot(false)
	logger.Debug().Err(err).Msg("failed to save troubleshooting info")
	if p.Reporter != nil {
		p.Reporter.Report(fmt.Errorf("save troubleshooting info for channel %s: %w", channel, err))
	}
}
