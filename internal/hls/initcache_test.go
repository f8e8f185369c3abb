package hls

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeInit(t *testing.T, dir string, gen int64, content string) string {
	t.Helper()
	path := filepath.Join(dir, InitName(gen))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestInitCache_IdenticalContentResolvesToFirst(t *testing.T) {
	dir := t.TempDir()
	c := NewInitCache()

	require.NoError(t, c.AddSegment(writeInit(t, dir, 100, "avc1-1080p")))
	require.NoError(t, c.AddSegment(writeInit(t, dir, 200, "avc1-1080p")))

	name, ok := c.EarliestSegmentByHash(200)
	require.True(t, ok)
	assert.Equal(t, "100_init.mp4", name)
	assert.True(t, c.IsEarliestByHash("100_init.mp4"))
	assert.False(t, c.IsEarliestByHash("200_init.mp4"))
	assert.Equal(t, 2, c.Len())
}

func TestInitCache_LookupIsStableAcrossAdds(t *testing.T) {
	dir := t.TempDir()
	c := NewInitCache()
	require.NoError(t, c.AddSegment(writeInit(t, dir, 100, "avc1-1080p")))
	require.NoError(t, c.AddSegment(writeInit(t, dir, 200, "avc1-1080p")))

	first, ok := c.EarliestSegmentByHash(200)
	require.True(t, ok)

	require.NoError(t, c.AddSegment(writeInit(t, dir, 300, "hevc-720p")))
	require.NoError(t, c.AddSegment(writeInit(t, dir, 400, "avc1-1080p")))

	second, ok := c.EarliestSegmentByHash(200)
	require.True(t, ok)
	assert.Equal(t, first, second)

	other, ok := c.EarliestSegmentByHash(300)
	require.True(t, ok)
	assert.Equal(t, "300_init.mp4", other)
}

func TestInitCache_KnownNamesAreNotRehashed(t *testing.T) {
	dir := t.TempDir()
	c := NewInitCache()
	path := writeInit(t, dir, 100, "avc1-1080p")
	require.NoError(t, c.AddSegment(path))

	// the file may be gone by the next refresh
	require.NoError(t, os.Remove(path))
	require.NoError(t, c.AddSegment(path))
	assert.Equal(t, 1, c.Len())
}

func TestInitCache_MissingFile(t *testing.T) {
	c := NewInitCache()
	require.Error(t, c.AddSegment(filepath.Join(t.TempDir(), InitName(1))))

	_, ok := c.EarliestSegmentByHash(1)
	assert.False(t, ok)
	assert.False(t, c.IsEarliestByHash(InitName(1)))
}

// Deleting the canonical name keeps its hash mapping, so later duplicates
// still resolve to the deleted file.
func TestInitCache_DeleteKeepsCanonicalMapping(t *testing.T) {
	dir := t.TempDir()
	c := NewInitCache()
	require.NoError(t, c.AddSegment(writeInit(t, dir, 100, "avc1-1080p")))
	require.NoError(t, c.AddSegment(writeInit(t, dir, 200, "avc1-1080p")))

	c.DeleteSegment("100_init.mp4")
	assert.Equal(t, 1, c.Len())
	assert.False(t, c.IsEarliestByHash("100_init.mp4"))

	name, ok := c.EarliestSegmentByHash(200)
	require.True(t, ok)
	assert.Equal(t, "100_init.mp4", name)

	_, ok = c.EarliestSegmentByHash(100)
	assert.False(t, ok)
}

func TestInitCache_ConcurrentAdds(t *testing.T) {
	dir := t.TempDir()
	c := NewInitCache()
	paths := make([]string, 0, 20)
	for i := int64(1); i <= 20; i++ {
		paths = append(paths, writeInit(t, dir, i, "same"))
	}

	var wg sync.WaitGroup
	for _, p := range paths {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			assert.NoError(t, c.AddSegment(path))
		}(p)
	}
	wg.Wait()

	assert.Equal(t, 20, c.Len())
	canonical, ok := c.EarliestSegmentByHash(1)
	require.True(t, ok)
	for i := int64(1); i <= 20; i++ {
		name, ok := c.EarliestSegmentByHash(i)
		require.True(t, ok)
		assert.Equal(t, canonical, name)
	}
}
