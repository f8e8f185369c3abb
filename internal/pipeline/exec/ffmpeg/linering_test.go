// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineRing(t *testing.T) {
	r := NewLineRing(3)

	_, _ = fmt.Fprintf(r, "line1\n")
	_, _ = fmt.Fprintf(r, "line2\n")
	assert.Equal(t, []string{"line1", "line2"}, r.LastN(10))

	_, _ = fmt.Fprintf(r, "line3\n")
	assert.Equal(t, []string{"line1", "line2", "line3"}, r.LastN(10))

	_, _ = fmt.Fprintf(r, "line4\n")
	assert.Equal(t, []string{"line2", "line3", "line4"}, r.LastN(10))
	assert.Equal(t, []string{"line3", "line4"}, r.LastN(2))
}

func TestLineRing_SplitWrites(t *testing.T) {
	r := NewLineRing(5)
	_, _ = r.Write([]byte("Error opening in"))
	_, _ = r.Write([]byte("put file\r\nsecond\nthi"))

	assert.Equal(t, []string{"Error opening input file", "second"}, r.LastN(10))

	r.Flush()
	assert.Equal(t, []string{"Error opening input file", "second", "thi"}, r.LastN(10))
}

func TestLineRing_DefaultCapacity(t *testing.T) {
	r := NewLineRing(0)
	for i := 0; i < 60; i++ {
		_, _ = fmt.Fprintf(r, "l%d\n", i)
	}
	lines := r.LastN(100)
	assert.Len(t, lines, defaultRingLines)
	assert.Equal(t, "l59", lines[len(lines)-1])
}
