// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tempfile

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNext_WrapsAround(t *testing.T) {
	dir := t.TempDir()
	p := New(dir, 3)

	got := []string{
		p.Next(CategorySubtitle),
		p.Next(CategorySubtitle),
		p.Next(CategorySubtitle),
		p.Next(CategorySubtitle),
	}
	assert.Equal(t, []string{
		filepath.Join(dir, "subtitle_0.ass"),
		filepath.Join(dir, "subtitle_1.ass"),
		filepath.Join(dir, "subtitle_2.ass"),
		filepath.Join(dir, "subtitle_0.ass"),
	}, got)
}

func TestNext_CategoriesAreIndependent(t *testing.T) {
	dir := t.TempDir()
	p := New(dir, 0)

	assert.Equal(t, filepath.Join(dir, "subtitle_0.ass"), p.Next(CategorySubtitle))
	assert.Equal(t, filepath.Join(dir, "bad_playlist_0.m3u8"), p.Next(CategoryBadPlaylist))
	assert.Equal(t, filepath.Join(dir, "subtitle_1.ass"), p.Next(CategorySubtitle))
}

func TestNext_ConcurrentCallersGetDistinctSlots(t *testing.T) {
	p := New(t.TempDir(), DefaultItemsPerCategory)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]int{}
	)
	for i := 0; i < DefaultItemsPerCategory; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			path := p.Next(CategoryImage)
			mu.Lock()
			seen[path]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, DefaultItemsPerCategory)
}

func TestWriteAndCleanup(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "pool")
	p := New(dir, 2)

	path, err := p.Write(CategoryBadPlaylist, []byte("#EXTM3U\n"))
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "#EXTM3U\n", string(data))

	keep := filepath.Join(dir, "unrelated.txt")
	require.NoError(t, os.WriteFile(keep, nil, 0o600))

	require.NoError(t, p.Cleanup())
	assert.NoFileExists(t, path)
	assert.FileExists(t, keep)
	assert.Equal(t, filepath.Join(dir, "bad_playlist_0.m3u8"), p.Next(CategoryBadPlaylist), "indexes reset")
}

func TestCleanup_MissingDir(t *testing.T) {
	p := New(filepath.Join(t.TempDir(), "missing"), 1)
	assert.NoError(t, p.Cleanup())
}
