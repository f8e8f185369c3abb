// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package tempfile hands out paths from a small rotating pool of scratch
// files. Each category owns a fixed number of slots that are reused in order,
// so the pool never grows on disk.
package tempfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/chanstream/internal/log"
	"github.com/ManuGH/chanstream/internal/metrics"
)

// DefaultItemsPerCategory is the slot count used when none is configured.
const DefaultItemsPerCategory = 10

// Category groups slots of the same kind of scratch file.
type Category string

const (
	CategorySubtitle           Category = "subtitle"
	CategoryImage              Category = "image"
	CategoryBadPlaylist        Category = "bad_playlist"
	CategoryBadTranscodeFolder Category = "bad_transcode_folder"
	CategorySongBackground     Category = "song_background"
)

var extensions = map[Category]string{
	CategorySubtitle:           ".ass",
	CategoryImage:              ".png",
	CategoryBadPlaylist:        ".m3u8",
	CategoryBadTranscodeFolder: ".json",
	CategorySongBackground:     ".png",
}

// Pool is safe for concurrent use.
type Pool struct {
	dir   string
	items int

	mu      sync.Mutex
	indexes map[Category]int
}

// New returns a pool rooted at dir. itemsPerCategory <= 0 selects the default.
func New(dir string, itemsPerCategory int) *Pool {
	if itemsPerCategory <= 0 {
		itemsPerCategory = DefaultItemsPerCategory
	}
	return &Pool{
		dir:     dir,
		items:   itemsPerCategory,
		indexes: make(map[Category]int),
	}
}

// Dir returns the pool directory.
func (p *Pool) Dir() string { return p.dir }

// Next returns the path of the next slot of the category. The slot may still
// hold the content of an earlier use; callers overwrite it.
func (p *Pool) Next(category Category) string {
	p.mu.Lock()
	n := p.indexes[category]
	p.indexes[category] = (n + 1) % p.items
	p.mu.Unlock()

	metrics.TempFileSlots.WithLabelValues(string(category)).Inc()
	return filepath.Join(p.dir, fmt.Sprintf("%s_%d%s", category, n, extensions[category]))
}

// Write stores data in the next slot of the category and returns its path.
func (p *Pool) Write(category Category, data []byte) (string, error) {
	if err := os.MkdirAll(p.dir, 0o750); err != nil {
		return "", fmt.Errorf("create temp pool dir: %w", err)
	}
	path := p.Next(category)
	// a reused slot may still be open in a running ffmpeg
	if err := renameio.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write temp file %s: %w", filepath.Base(path), err)
	}
	return path, nil
}

// Cleanup removes every file the pool may have created. Failures are
// collected and returned together.
func (p *Pool) Cleanup() error {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read temp pool dir: %w", err)
	}

	var errs []error
	for _, e := range entries {
		if e.IsDir() || !isPoolFile(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(p.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}

	p.mu.Lock()
	clear(p.indexes)
	p.mu.Unlock()

	if len(errs) > 0 {
		logger := log.WithComponent("tempfile")
		logger.Warn().Int("failed", len(errs)).Str(log.FieldPath, p.dir).Msg("temp pool cleanup incomplete")
	}
	return errors.Join(errs...)
}

func isPoolFile(name string) bool {
	for c := range extensions {
		if strings.HasPrefix(name, string(c)+"_") {
			return true
		}
	}
	return false
}
