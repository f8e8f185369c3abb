package hls

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ManuGH/chanstream/internal/metrics"
)

// InitCache maps fMP4 init segment names to the earliest file with the same
// content. Every process restart writes a fresh init segment; when the
// encoder settings did not change the bytes are identical and playlists can
// keep pointing at one canonical file.
//
// Entries are only added or removed by key, never mutated in place.
type InitCache struct {
	nameToHash sync.Map // string -> string
	hashToName sync.Map // string -> string
}

// NewInitCache returns an empty cache.
func NewInitCache() *InitCache {
	return &InitCache{}
}

// AddSegment hashes the file at path and registers its base name. Names that
// are already known are not hashed again. The first name seen for a hash
// becomes its canonical name.
func (c *InitCache) AddSegment(path string) error {
	name := filepath.Base(path)
	if _, ok := c.nameToHash.Load(name); ok {
		return nil
	}

	hash, err := hashFile(path)
	if err != nil {
		return fmt.Errorf("hash init segment %s: %w", name, err)
	}

	if _, loaded := c.nameToHash.LoadOrStore(name, hash); !loaded {
		metrics.InitCacheEntries.Inc()
	}
	c.hashToName.LoadOrStore(hash, name)
	return nil
}

// EarliestSegmentByHash resolves the init segment of a generation to the
// canonical name for its content.
func (c *InitCache) EarliestSegmentByHash(generatedAt int64) (string, bool) {
	hash, ok := c.nameToHash.Load(InitName(generatedAt))
	if !ok {
		return "", false
	}
	name, ok := c.hashToName.Load(hash)
	if !ok {
		return "", false
	}
	return name.(string), true
}

// IsEarliestByHash reports whether name is the canonical name for its
// content.
func (c *InitCache) IsEarliestByHash(name string) bool {
	hash, ok := c.nameToHash.Load(name)
	if !ok {
		return false
	}
	canonical, ok := c.hashToName.Load(hash)
	return ok && canonical == name
}

// DeleteSegment forgets name. The canonical mapping of its hash is kept even
// when name is the canonical file.
func (c *InitCache) DeleteSegment(name string) {
	if _, loaded := c.nameToHash.LoadAndDelete(name); loaded {
		metrics.InitCacheEntries.Dec()
	}
}

// Len returns the number of known names.
func (c *InitCache) Len() int {
	n := 0
	c.nameToHash.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 -- init segments live in the transcode folder
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
