package hls

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
)

// PlaylistName is the file the segmenter writes and the trimmer rewrites.
const PlaylistName = "live.m3u8"

const defaultVersion = 6

// header holds the metadata found before the first segment.
type header struct {
	Version                int
	TargetDuration         int
	MediaSequence          int64
	DiscontinuitySequence  int
	LeadingDiscontinuity   bool
	HasIndependentSegments bool
}

// entry is one media segment with the markers that precede it.
type entry struct {
	ExtInf        string
	URI           string
	Duration      time.Duration
	Discontinuity bool
	Name          SegmentName
}

// parsedPlaylist is the ordered segment list of a live playlist. Program
// date times and init map tags from the input are discarded; both are
// recomputed on output.
type parsedPlaylist struct {
	Header header
	// TrailingDiscontinuity is set when a marker follows the last segment.
	TrailingDiscontinuity bool
	Entries               []entry
}

func (p parsedPlaylist) totalDuration() time.Duration {
	var total time.Duration
	for _, e := range p.Entries {
		total += e.Duration
	}
	return total
}

// parsePlaylist walks the playlist lines. Every #EXTINF must be followed by
// a segment URI and every URI must carry a segment name the segmenter
// produces.
func parsePlaylist(lines []string) (parsedPlaylist, error) {
	out := parsedPlaylist{Header: header{Version: defaultVersion}}

	var (
		inHeader        = true
		pendingDisc     bool
		pendingExtInf   string
		pendingDuration time.Duration
		haveExtInf      bool
	)

	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		switch {
		case line == "#EXT-X-DISCONTINUITY":
			if inHeader {
				out.Header.LeadingDiscontinuity = true
			} else {
				pendingDisc = true
			}
			continue

		case strings.HasPrefix(line, "#EXTINF:"):
			if haveExtInf {
				return out, fmt.Errorf("line %d: #EXTINF without segment uri", i+1)
			}
			durPart := strings.TrimPrefix(line, "#EXTINF:")
			if idx := strings.Index(durPart, ","); idx != -1 {
				durPart = durPart[:idx]
			}
			secs, err := strconv.ParseFloat(strings.TrimSpace(durPart), 64)
			if err != nil || secs < 0 {
				return out, fmt.Errorf("line %d: invalid EXTINF duration: %s", i+1, durPart)
			}
			inHeader = false
			haveExtInf = true
			pendingExtInf = line
			pendingDuration = time.Duration(secs * float64(time.Second))
			continue

		case strings.HasPrefix(line, "#"):
			if inHeader {
				if err := out.Header.apply(line); err != nil {
					return out, fmt.Errorf("line %d: %w", i+1, err)
				}
			}
			continue
		}

		// URI line
		if !haveExtInf {
			return out, fmt.Errorf("line %d: segment uri without #EXTINF: %s", i+1, line)
		}
		name, ok := ParseSegmentName(path.Base(line))
		if !ok {
			return out, fmt.Errorf("line %d: unrecognized segment name: %s", i+1, line)
		}
		out.Entries = append(out.Entries, entry{
			ExtInf:        pendingExtInf,
			URI:           line,
			Duration:      pendingDuration,
			Discontinuity: pendingDisc,
			Name:          name,
		})
		haveExtInf = false
		pendingDisc = false
	}

	if haveExtInf {
		return out, fmt.Errorf("playlist ends with #EXTINF and no segment uri")
	}
	out.TrailingDiscontinuity = pendingDisc
	return out, nil
}

func (h *header) apply(line string) error {
	tag, value, ok := strings.Cut(line, ":")
	if !ok {
		if tag == "#EXT-X-INDEPENDENT-SEGMENTS" {
			h.HasIndependentSegments = true
		}
		return nil
	}

	switch tag {
	case "#EXT-X-VERSION":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid version: %s", value)
		}
		h.Version = v
	case "#EXT-X-TARGETDURATION":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid target duration: %s", value)
		}
		h.TargetDuration = v
	case "#EXT-X-MEDIA-SEQUENCE":
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid media sequence: %s", value)
		}
		h.MediaSequence = v
	case "#EXT-X-DISCONTINUITY-SEQUENCE":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid discontinuity sequence: %s", value)
		}
		h.DiscontinuitySequence = v
	}
	return nil
}

// SegmentName is the decoded name of a segment file: liveNNNNNN.ts for
// MPEG-TS output or live_<generatedAt>_NNNNNN.m4s for fragmented MP4.
type SegmentName struct {
	Sequence    int64
	GeneratedAt int64
	FMP4        bool
}

// ParseSegmentName decodes a segment base name.
func ParseSegmentName(name string) (SegmentName, bool) {
	rest, ok := strings.CutPrefix(name, "live")
	if !ok {
		return SegmentName{}, false
	}

	if body, ok := strings.CutSuffix(rest, ".m4s"); ok {
		body, ok = strings.CutPrefix(body, "_")
		if !ok {
			return SegmentName{}, false
		}
		genPart, seqPart, ok := strings.Cut(body, "_")
		if !ok {
			return SegmentName{}, false
		}
		gen, err := strconv.ParseInt(genPart, 10, 64)
		if err != nil {
			return SegmentName{}, false
		}
		seq, err := strconv.ParseInt(seqPart, 10, 64)
		if err != nil || seq < 0 {
			return SegmentName{}, false
		}
		return SegmentName{Sequence: seq, GeneratedAt: gen, FMP4: true}, true
	}

	body, ok := strings.CutSuffix(rest, ".ts")
	if !ok {
		return SegmentName{}, false
	}
	seq, err := strconv.ParseInt(body, 10, 64)
	if err != nil || seq < 0 {
		return SegmentName{}, false
	}
	return SegmentName{Sequence: seq}, true
}

// InitName returns the init segment name for a generation timestamp.
func InitName(generatedAt int64) string {
	return strconv.FormatInt(generatedAt, 10) + "_init.mp4"
}

// ParseInitName returns the generation timestamp of an init segment name.
func ParseInitName(name string) (int64, bool) {
	genPart, ok := strings.CutSuffix(name, "_init.mp4")
	if !ok {
		return 0, false
	}
	gen, err := strconv.ParseInt(genPart, 10, 64)
	if err != nil {
		return 0, false
	}
	return gen, true
}
