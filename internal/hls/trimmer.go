package hls

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/chanstream/internal/log"
	"github.com/ManuGH/chanstream/internal/metrics"
	"github.com/ManuGH/chanstream/internal/tempfile"
)

// ProgramDateTimeFormat is the layout of #EXT-X-PROGRAM-DATE-TIME values.
const ProgramDateTimeFormat = "2006-01-02T15:04:05.000-0700"

// ErrBadPlaylist is returned when the segmenter playlist cannot be parsed.
var ErrBadPlaylist = errors.New("hls: bad playlist")

// TrimResult is a trimmed live window.
type TrimResult struct {
	// PlaylistStart is the wall clock of the first retained segment. When
	// nothing is retained it is the end of the input playlist, so a following
	// trim never moves backwards.
	PlaylistStart time.Time
	// Sequence is the media sequence of the first retained segment, or the
	// sequence after the last input segment when nothing is retained.
	Sequence int64
	// GeneratedAt is the oldest fMP4 generation referenced by the input, zero
	// for MPEG-TS playlists.
	GeneratedAt  int64
	Playlist     string
	SegmentCount int
}

// TrimRequest describes one trim pass.
type TrimRequest struct {
	// Start is the wall clock of the first segment in Lines.
	Start time.Time
	// FilterBefore drops segments starting before it.
	FilterBefore time.Time
	Lines        []string
	// MaxSegments caps the window. Zero or less is unbounded.
	MaxSegments int
	// EndWithDiscontinuity appends a trailing discontinuity marker so the
	// next process can append to the playlist.
	EndWithDiscontinuity bool
	// Discontinuities maps an fMP4 generation to its discontinuity sequence.
	// A match for the first retained segment overrides the counted value.
	Discontinuities map[int64]int
}

// Trimmer rewrites segmenter playlists into a bounded live window.
type Trimmer struct {
	pool  *tempfile.Pool
	inits *InitCache
}

// NewTrimmer returns a trimmer. inits resolves #EXT-X-MAP entries for fMP4
// playlists and may be nil for MPEG-TS only use. pool receives playlists
// that fail to parse and may be nil.
func NewTrimmer(pool *tempfile.Pool, inits *InitCache) *Trimmer {
	return &Trimmer{pool: pool, inits: inits}
}

// TrimPlaylist trims lines to the segments starting at or after filterBefore,
// at most maxSegments of them.
func (t *Trimmer) TrimPlaylist(start, filterBefore time.Time, lines []string, maxSegments int, endWithDiscontinuity bool) (TrimResult, error) {
	return t.Trim(TrimRequest{
		Start:                start,
		FilterBefore:         filterBefore,
		Lines:                lines,
		MaxSegments:          maxSegments,
		EndWithDiscontinuity: endWithDiscontinuity,
	})
}

// TrimPlaylistWithDiscontinuity is the unbounded variant used before a new
// process appends to the playlist.
func (t *Trimmer) TrimPlaylistWithDiscontinuity(start, filterBefore time.Time, lines []string) (TrimResult, error) {
	return t.TrimPlaylist(start, filterBefore, lines, 0, true)
}

// Trim runs one trim pass.
func (t *Trimmer) Trim(req TrimRequest) (TrimResult, error) {
	parsed, err := parsePlaylist(req.Lines)
	if err != nil {
		metrics.RecordPlaylistTrim(false, 0)
		return TrimResult{PlaylistStart: req.Start}, t.saveBadPlaylist(req.Lines, err)
	}

	res := t.generate(parsed, req)
	metrics.RecordPlaylistTrim(true, res.SegmentCount)
	return res, nil
}

func (t *Trimmer) saveBadPlaylist(lines []string, cause error) error {
	logger := log.WithComponent("hls")
	if t.pool == nil {
		logger.Error().Err(cause).Msg("error filtering playlist")
		return fmt.Errorf("%w: %w", ErrBadPlaylist, cause)
	}

	file, werr := t.pool.Write(tempfile.CategoryBadPlaylist, []byte(strings.Join(lines, "\n")+"\n"))
	if werr != nil {
		logger.Error().Err(cause).AnErr("save_error", werr).Msg("error filtering playlist")
		return fmt.Errorf("%w: %w", ErrBadPlaylist, cause)
	}
	logger.Error().Err(cause).Str(log.FieldPath, file).Msg("error filtering playlist, bad playlist saved")
	return fmt.Errorf("%w (saved to %s): %w", ErrBadPlaylist, file, cause)
}

func (t *Trimmer) generate(p parsedPlaylist, req TrimRequest) TrimResult {
	starts := make([]time.Time, len(p.Entries))
	current := req.Start
	for i, e := range p.Entries {
		starts[i] = current
		current = current.Add(e.Duration)
	}
	end := current

	first := len(p.Entries)
	for i := range p.Entries {
		if !starts[i].Before(req.FilterBefore) {
			first = i
			break
		}
	}
	last := len(p.Entries)
	if req.MaxSegments > 0 && last-first > req.MaxSegments {
		last = first + req.MaxSegments
	}
	retained := p.Entries[first:last]

	// a header marker belongs to the first segment
	if p.Header.LeadingDiscontinuity && len(p.Entries) > 0 {
		p.Entries[0].Discontinuity = true
	}

	// markers in front of dropped segments are counted, not emitted
	discSeq := p.Header.DiscontinuitySequence
	for i := 0; i < first; i++ {
		if p.Entries[i].Discontinuity {
			discSeq++
		}
	}

	res := TrimResult{
		PlaylistStart: end,
		SegmentCount:  len(retained),
		GeneratedAt:   oldestGeneration(p.Entries),
	}
	switch {
	case len(retained) > 0:
		res.PlaylistStart = starts[first]
		res.Sequence = retained[0].Name.Sequence
		if seq, ok := req.Discontinuities[retained[0].Name.GeneratedAt]; ok && retained[0].Name.FMP4 {
			discSeq = seq
		}
	case len(p.Entries) > 0:
		res.Sequence = p.Entries[len(p.Entries)-1].Name.Sequence + 1
	default:
		res.Sequence = p.Header.MediaSequence
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:" + strconv.Itoa(p.Header.Version) + "\n")
	b.WriteString("#EXT-X-TARGETDURATION:" + strconv.Itoa(p.Header.TargetDuration) + "\n")
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:" + strconv.FormatInt(res.Sequence, 10) + "\n")
	b.WriteString("#EXT-X-DISCONTINUITY-SEQUENCE:" + strconv.Itoa(discSeq) + "\n")
	b.WriteString("#EXT-X-INDEPENDENT-SEGMENTS\n")

	if len(retained) > 0 && retained[0].Discontinuity {
		b.WriteString("#EXT-X-DISCONTINUITY\n")
	}
	if len(retained) > 0 && retained[0].Name.FMP4 {
		t.writeMap(&b, retained[0].Name.GeneratedAt)
	}

	for i, e := range retained {
		if i > 0 && e.Discontinuity {
			b.WriteString("#EXT-X-DISCONTINUITY\n")
			if e.Name.FMP4 {
				t.writeMap(&b, e.Name.GeneratedAt)
			}
		}
		b.WriteString(e.ExtInf + "\n")
		b.WriteString("#EXT-X-PROGRAM-DATE-TIME:" + starts[first+i].Format(ProgramDateTimeFormat) + "\n")
		b.WriteString(e.URI + "\n")
	}

	if len(retained) > 0 {
		reachedEnd := last == len(p.Entries)
		if req.EndWithDiscontinuity || (reachedEnd && p.TrailingDiscontinuity) {
			b.WriteString("#EXT-X-DISCONTINUITY\n")
		}
	}

	res.Playlist = b.String()
	return res
}

func (t *Trimmer) writeMap(b *strings.Builder, generatedAt int64) {
	name := InitName(generatedAt)
	if t.inits != nil {
		if canonical, ok := t.inits.EarliestSegmentByHash(generatedAt); ok {
			name = canonical
		}
	}
	b.WriteString(`#EXT-X-MAP:URI="` + name + "\"\n")
}

func oldestGeneration(entries []entry) int64 {
	var oldest int64
	for _, e := range entries {
		if e.Name.FMP4 && (oldest == 0 || e.Name.GeneratedAt < oldest) {
			oldest = e.Name.GeneratedAt
		}
	}
	return oldest
}
